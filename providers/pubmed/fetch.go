package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"journal-desk/providers"
)

// Options konfiguriert den Zugriff auf die E-Utilities.
type Options struct {
	BaseURL    string
	APIKey     string
	Tool       string
	Email      string
	MaxResults int
}

// Fetcher kapselt die Logik zur Interaktion mit PubMed.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(opts Options, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 200
	}
	return &Fetcher{opts: opts, client: client, logger: logger}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// WorksByAuthor holt die PMIDs einer ORCID via ESearch und die Metadaten in einem EFetch-Aufruf.
func (f *Fetcher) WorksByAuthor(ctx context.Context, orcid string, since time.Time) ([]providers.Work, error) {
	log := f.logger.With(zap.String("orcid", orcid))
	ids, err := f.searchIDs(ctx, orcid, since)
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	works, err := f.fetchMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch: %w", err)
	}
	log.Debug("PubMed Suche abgeschlossen", zap.Int("works", len(works)))
	return works, nil
}

// searchIDs führt eine ESearch-Abfrage durch und gibt eine Liste von PMIDs zurück.
func (f *Fetcher) searchIDs(ctx context.Context, orcid string, since time.Time) ([]string, error) {
	term := fmt.Sprintf("%s[auid]", orcid)
	searchURL := f.buildURL("esearch.fcgi", url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmode": {"json"},
		"retmax":  {fmt.Sprint(f.opts.MaxResults)},
	})
	if !since.IsZero() {
		searchURL += "&datetype=pdat&mindate=" + since.Format("2006/01/02") + "&maxdate=3000"
	}
	f.logger.Debug("Rufe ESearch-URL auf", zap.String("url", searchURL))

	body, err := f.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var esearchResp ESearchResponse
	if err := json.NewDecoder(body).Decode(&esearchResp); err != nil {
		return nil, err
	}
	return esearchResp.ESearchResult.IdList, nil
}

// fetchMetadata holt die Metadaten für alle PMIDs via EFetch.
func (f *Fetcher) fetchMetadata(ctx context.Context, ids []string) ([]providers.Work, error) {
	efetchURL := f.buildURL("efetch.fcgi", url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	})
	body, err := f.get(ctx, efetchURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var articleSet PubmedArticleSet
	if err := xml.NewDecoder(body).Decode(&articleSet); err != nil {
		return nil, err
	}
	works := make([]providers.Work, 0, len(articleSet.PubmedArticle))
	for i := range articleSet.PubmedArticle {
		works = append(works, mapArticle(&articleSet.PubmedArticle[i]))
	}
	return works, nil
}

func (f *Fetcher) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		f.logger.Warn("E-Utilities haben nicht-200-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// buildURL baut die URL für einen E-Utilities-Endpunkt inklusive tool/email/api_key.
func (f *Fetcher) buildURL(endpoint string, q url.Values) string {
	if f.opts.APIKey != "" {
		q.Set("api_key", f.opts.APIKey)
	}
	if f.opts.Tool != "" {
		q.Set("tool", f.opts.Tool)
	}
	if f.opts.Email != "" {
		q.Set("email", f.opts.Email)
	}
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(f.opts.BaseURL, "/"), endpoint, q.Encode())
}

// mapArticle wandelt ein XML-Article-Objekt in ein Work um.
func mapArticle(article *PubmedArticle) providers.Work {
	a := article.MedlineCitation.Article
	w := providers.Work{
		Source: "pubmed",
		PMID:   article.MedlineCitation.PMID,
		Title:  a.Title,
	}

	for _, author := range a.Authors {
		pa := providers.Author{LastName: author.LastName, Initials: author.Initials}
		for _, id := range author.Identifier {
			if strings.EqualFold(id.Source, "ORCID") {
				pa.ORCID = normalizeORCID(id.Value)
			}
		}
		w.Authors = append(w.Authors, pa)
	}

	for _, id := range a.ELocationID {
		if id.IDType == "doi" && id.ValidYN == "Y" {
			w.DOI = id.Value
			break
		}
	}

	pubDate := a.Journal.PubDate
	if pubDate.Year != "" {
		month := "01"
		if pubDate.Month != "" {
			if parsedMonth, err := time.Parse("Jan", pubDate.Month); err == nil {
				month = fmt.Sprintf("%02d", parsedMonth.Month())
			} else if tm, err := time.Parse("1", pubDate.Month); err == nil {
				// Fallback für numerische Monate
				month = fmt.Sprintf("%02d", tm.Month())
			}
		}
		day := "01"
		if d, err := strconv.Atoi(pubDate.Day); err == nil {
			day = fmt.Sprintf("%02d", d)
		}
		if t, err := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", pubDate.Year, month, day)); err == nil {
			w.PublishedAt = &t
		}
	}
	return w
}

// normalizeORCID entfernt das URL-Präfix, das PubMed gelegentlich mitliefert.
func normalizeORCID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "https://orcid.org/")
	return strings.TrimPrefix(v, "http://orcid.org/")
}
