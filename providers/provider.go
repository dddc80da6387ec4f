// Package providers liefert die Faktenbasis der Konfliktprüfung: lokale
// Zugehörigkeiten, Publikationen und Deklarationen sowie die externe
// Publikationshistorie aus Europe PMC und PubMed.
package providers

import (
	"context"
	"time"
)

// Author ist ein Autoreneintrag einer externen Publikation.
type Author struct {
	LastName string
	Initials string
	ORCID    string
}

// Work ist eine Publikation aus einer externen Quelle.
type Work struct {
	Source      string
	PMID        string
	DOI         string
	Title       string
	PublishedAt *time.Time
	Authors     []Author
}

// PublicationSource ist das Interface, das jede externe Quelle (z.B. PubMed, EuropePMC) implementieren muss.
type PublicationSource interface {
	// WorksByAuthor liefert die Publikationen einer ORCID seit since.
	WorksByAuthor(ctx context.Context, orcid string, since time.Time) ([]Work, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "pubmed").
	Name() string
}
