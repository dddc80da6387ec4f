package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"journal-desk/models"
)

// FactStore ist der lokale Teil der Faktenbasis.
type FactStore interface {
	PeopleByIDs(ctx context.Context, ids []uint) ([]models.Person, error)
	Affiliations(ctx context.Context, personIDs []uint) ([]models.Affiliation, error)
	SharedPublications(ctx context.Context, a, b uint) ([]models.Publication, error)
	FinancialInterests(ctx context.Context, a, b uint) ([]models.FinancialInterest, error)
}

// Evidence kombiniert lokale Fakten mit externen Publikationsquellen. Es wird
// nichts zwischengespeichert; jede Abfrage liest den aktuellen Stand.
type Evidence struct {
	store   FactStore
	sources []PublicationSource
	logger  *zap.Logger
}

// NewEvidence erstellt die Faktenbasis. sources darf leer sein.
func NewEvidence(store FactStore, logger *zap.Logger, sources ...PublicationSource) *Evidence {
	return &Evidence{store: store, sources: sources, logger: logger}
}

// Affiliations liefert die Zugehörigkeiten der Personen.
func (e *Evidence) Affiliations(ctx context.Context, personIDs []uint) ([]models.Affiliation, error) {
	return e.store.Affiliations(ctx, personIDs)
}

// FinancialInterests liefert deklarierte Beziehungen zwischen zwei Personen.
func (e *Evidence) FinancialInterests(ctx context.Context, a, b uint) ([]models.FinancialInterest, error) {
	return e.store.FinancialInterests(ctx, a, b)
}

// JointPublications liefert pro Autor die gemeinsamen Publikationen mit dem
// Gutachter seit since. Externe Quellen werden nur befragt, wenn der Gutachter
// eine ORCID hat; ihr Ausfall wird protokolliert und lässt die lokalen Fakten stehen.
func (e *Evidence) JointPublications(ctx context.Context, reviewerID uint, authorIDs []uint, since time.Time) (map[uint][]models.Publication, error) {
	out := make(map[uint][]models.Publication, len(authorIDs))
	seen := make(map[uint]map[string]bool, len(authorIDs))

	for _, authorID := range authorIDs {
		pubs, err := e.store.SharedPublications(ctx, reviewerID, authorID)
		if err != nil {
			return nil, err
		}
		seen[authorID] = map[string]bool{}
		for _, p := range pubs {
			if !since.IsZero() && p.PublishedAt.Before(since) {
				continue
			}
			seen[authorID][publicationKey(p.DOI, p.PMID, p.Title)] = true
			out[authorID] = append(out[authorID], p)
		}
	}

	if len(e.sources) == 0 {
		return out, nil
	}
	people, err := e.store.PeopleByIDs(ctx, append([]uint{reviewerID}, authorIDs...))
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	reviewer, ok := byID[reviewerID]
	if !ok || reviewer.ORCID == "" {
		return out, nil
	}

	works := e.fetchWorks(ctx, reviewer.ORCID, since)
	for _, authorID := range authorIDs {
		person, ok := byID[authorID]
		if !ok {
			continue
		}
		target := Author{LastName: person.LastName, Initials: person.Initials, ORCID: person.ORCID}
		for _, w := range works {
			if !containsAuthor(w.Authors, target) {
				continue
			}
			key := publicationKey(w.DOI, w.PMID, w.Title)
			if seen[authorID][key] {
				continue
			}
			seen[authorID][key] = true
			out[authorID] = append(out[authorID], toPublication(w))
		}
	}
	return out, nil
}

// fetchWorks fragt alle Quellen parallel ab.
func (e *Evidence) fetchWorks(ctx context.Context, orcid string, since time.Time) []Work {
	var (
		mu     sync.Mutex
		works  []Work
		errAll error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range e.sources {
		g.Go(func() error {
			found, err := src.WorksByAuthor(gctx, orcid, since)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errAll = multierr.Append(errAll, err)
				return nil
			}
			works = append(works, found...)
			return nil
		})
	}
	_ = g.Wait()
	if errAll != nil {
		e.logger.Warn("Externe Publikationsquellen teilweise nicht erreichbar",
			zap.String("orcid", orcid),
			zap.Errors("errors", multierr.Errors(errAll)))
	}
	return works
}

func containsAuthor(authors []Author, target Author) bool {
	for _, a := range authors {
		if SamePerson(a, target) {
			return true
		}
	}
	return false
}

func publicationKey(doi, pmid, title string) string {
	switch {
	case doi != "":
		return "doi:" + strings.ToLower(doi)
	case pmid != "":
		return "pmid:" + pmid
	default:
		return "title:" + NormalizeName(title)
	}
}

func toPublication(w Work) models.Publication {
	p := models.Publication{DOI: w.DOI, PMID: w.PMID, Title: w.Title}
	if w.PublishedAt != nil {
		p.PublishedAt = *w.PublishedAt
	}
	return p
}
