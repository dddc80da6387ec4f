package europepmc

import "time"

// SearchResponse ist die Top-Level-Struktur der Europe PMC API-Antwort.
type SearchResponse struct {
	HitCount       int    `json:"hitCount"`
	NextCursorMark string `json:"nextCursorMark"`
	ResultList     struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
}

// Article repräsentiert einen einzelnen Artikel in der API-Antwort (resultType=core).
type Article struct {
	ID                   string `json:"id"`
	Source               string `json:"source"`
	PMID                 string `json:"pmid"`
	DOI                  string `json:"doi"`
	Title                string `json:"title"`
	FirstPublicationDate string `json:"firstPublicationDate"`
	AuthorList           struct {
		Author []ArticleAuthor `json:"author"`
	} `json:"authorList"`
}

// ArticleAuthor ist ein Autor mit optionaler ORCID.
type ArticleAuthor struct {
	FullName string `json:"fullName"`
	LastName string `json:"lastName"`
	Initials string `json:"initials"`
	AuthorID *struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"authorId,omitempty"`
}

// Hilfsfunktion zum sicheren Parsen von Daten.
func parseEuroDate(dateStr string) *time.Time {
	layouts := []string{"2006-01-02", "2006-01", "2006"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, dateStr)
		if err == nil {
			return &t
		}
	}
	return nil
}
