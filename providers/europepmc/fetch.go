package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"journal-desk/providers"
)

const (
	pageSize = 100
	maxPages = 10
)

// Fetcher implementiert PublicationSource für Europe PMC.
type Fetcher struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(baseURL string, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{baseURL: baseURL, client: client, logger: logger}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// WorksByAuthor sucht per ORCID und blättert über cursorMark.
func (f *Fetcher) WorksByAuthor(ctx context.Context, orcid string, since time.Time) ([]providers.Work, error) {
	log := f.logger.With(zap.String("orcid", orcid))
	query := fmt.Sprintf(`AUTHORID:"%s"`, orcid)
	if !since.IsZero() {
		query += fmt.Sprintf(" AND FIRST_PDATE:[%s TO 3000-12-31]", since.Format("2006-01-02"))
	}

	var works []providers.Work
	cursor := "*"
	for page := 0; page < maxPages; page++ {
		searchURL := fmt.Sprintf("%s?query=%s&format=json&resultType=core&pageSize=%d&cursorMark=%s",
			f.baseURL, url.QueryEscape(query), pageSize, url.QueryEscape(cursor))
		log.Debug("Rufe Europe PMC API auf", zap.String("url", searchURL))

		resp, err := f.get(ctx, searchURL)
		if err != nil {
			return nil, err
		}
		for _, article := range resp.ResultList.Result {
			w := mapArticle(&article)
			if w.PublishedAt != nil && w.PublishedAt.Before(since) {
				continue
			}
			works = append(works, w)
		}
		if len(resp.ResultList.Result) < pageSize || resp.NextCursorMark == "" || resp.NextCursorMark == cursor {
			break
		}
		cursor = resp.NextCursorMark
	}

	log.Debug("Europe PMC Suche abgeschlossen", zap.Int("works", len(works)))
	return works, nil
}

func (f *Fetcher) get(ctx context.Context, searchURL string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("europepmc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("europepmc search failed: status %d", resp.StatusCode)
	}
	var searchResponse SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResponse); err != nil {
		return nil, fmt.Errorf("decode europepmc response: %w", err)
	}
	return &searchResponse, nil
}

// mapArticle konvertiert ein Europe PMC Article-Objekt in ein Work.
func mapArticle(article *Article) providers.Work {
	w := providers.Work{
		Source:      "europepmc",
		PMID:        article.PMID,
		DOI:         article.DOI,
		Title:       article.Title,
		PublishedAt: parseEuroDate(article.FirstPublicationDate),
	}
	for _, a := range article.AuthorList.Author {
		author := providers.Author{LastName: a.LastName, Initials: a.Initials}
		if author.LastName == "" {
			author.LastName, author.Initials = splitFullName(a.FullName)
		}
		if a.AuthorID != nil && strings.EqualFold(a.AuthorID.Type, "ORCID") {
			author.ORCID = a.AuthorID.Value
		}
		w.Authors = append(w.Authors, author)
	}
	return w
}

// splitFullName zerlegt "Smith JA" in Nachname und Initialen.
func splitFullName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return full, ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
