package conflict

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"journal-desk/config"
	"journal-desk/models"
	"journal-desk/providers"
)

// facts bündelt alles, was die Detektoren für ein Paar (Gutachter, Manuskript) brauchen.
type facts struct {
	now          time.Time
	reviewerID   uint
	authorIDs    []uint
	affiliations map[uint][]models.Affiliation
	joint        map[uint][]models.Publication
	financial    map[uint][]models.FinancialInterest
}

// detector berechnet Konflikte aus den Fakten; Detektoren sind voneinander unabhängig.
type detector func(f *facts, p config.ConflictPolicy) []models.ConflictRecord

var detectors = []detector{
	detectSelfReview,
	detectInstitutional,
	detectCoauthorship,
	detectFinancial,
}

func evidence(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func yearsBefore(t time.Time, years int) time.Time {
	return t.AddDate(-years, 0, 0)
}

func detectSelfReview(f *facts, _ config.ConflictPolicy) []models.ConflictRecord {
	for _, a := range f.authorIDs {
		if a == f.reviewerID {
			return []models.ConflictRecord{{
				ReviewerID:   f.reviewerID,
				AuthorID:     a,
				ConflictType: models.ConflictOther,
				Severity:     models.SeverityBlocking,
				Evidence:     evidence(map[string]any{"reason": "reviewer is an author of the manuscript"}),
			}}
		}
	}
	return nil
}

func sameInstitution(a, b string) bool {
	na := providers.NormalizeName(a)
	return na != "" && na == providers.NormalizeName(b)
}

// overlaps prüft, ob zwei Zugehörigkeiten zeitlich überlappen und beide nach cutoff noch bestanden.
func overlaps(a, b models.Affiliation, cutoff, now time.Time) bool {
	endA, endB := now, now
	if a.EndedAt != nil {
		endA = *a.EndedAt
	}
	if b.EndedAt != nil {
		endB = *b.EndedAt
	}
	if endA.Before(cutoff) || endB.Before(cutoff) {
		return false
	}
	return !a.StartedAt.After(endB) && !b.StartedAt.After(endA)
}

func detectInstitutional(f *facts, p config.ConflictPolicy) []models.ConflictRecord {
	var out []models.ConflictRecord
	cutoff := yearsBefore(f.now, p.InstitutionalRecencyYears)
	for _, authorID := range f.authorIDs {
		if authorID == f.reviewerID {
			continue
		}
		var current, recent *models.ConflictRecord
		for _, ra := range f.affiliations[f.reviewerID] {
			for _, aa := range f.affiliations[authorID] {
				if !sameInstitution(ra.Institution, aa.Institution) {
					continue
				}
				if ra.Current() && aa.Current() {
					current = &models.ConflictRecord{
						ReviewerID: f.reviewerID, AuthorID: authorID,
						ConflictType: models.ConflictInstitutionalCurrent, Severity: models.SeverityBlocking,
						Evidence: evidence(map[string]any{"institution": ra.Institution}),
					}
				} else if recent == nil && overlaps(ra, aa, cutoff, f.now) {
					recent = &models.ConflictRecord{
						ReviewerID: f.reviewerID, AuthorID: authorID,
						ConflictType: models.ConflictInstitutionalRecent, Severity: models.SeverityMedium,
						Evidence: evidence(map[string]any{
							"institution":    ra.Institution,
							"recency_years":  p.InstitutionalRecencyYears,
							"reviewer_ended": ra.EndedAt,
							"author_ended":   aa.EndedAt,
						}),
					}
				}
			}
		}
		switch {
		case current != nil:
			out = append(out, *current)
		case recent != nil:
			out = append(out, *recent)
		}
	}
	return out
}

func detectCoauthorship(f *facts, p config.ConflictPolicy) []models.ConflictRecord {
	var out []models.ConflictRecord
	recencyCutoff := yearsBefore(f.now, p.CoauthorshipRecencyYears)
	frequencyCutoff := yearsBefore(f.now, p.CoauthorshipFrequencyYears)
	for _, authorID := range f.authorIDs {
		if authorID == f.reviewerID {
			continue
		}
		var inFrequency, inRecency int
		var refs []string
		for _, pub := range f.joint[authorID] {
			if !pub.PublishedAt.Before(frequencyCutoff) {
				inFrequency++
			}
			if !pub.PublishedAt.Before(recencyCutoff) {
				inRecency++
			}
			refs = append(refs, publicationRef(pub))
		}
		switch {
		case p.CoauthorshipFrequentThreshold > 0 && inFrequency >= p.CoauthorshipFrequentThreshold:
			out = append(out, models.ConflictRecord{
				ReviewerID: f.reviewerID, AuthorID: authorID,
				ConflictType: models.ConflictCoauthorshipFrequent, Severity: models.SeverityBlocking,
				Evidence: evidence(map[string]any{"joint_publications": inFrequency, "window_years": p.CoauthorshipFrequencyYears, "publications": refs}),
			})
		case inRecency > 0:
			out = append(out, models.ConflictRecord{
				ReviewerID: f.reviewerID, AuthorID: authorID,
				ConflictType: models.ConflictCoauthorshipRecent, Severity: models.SeverityHigh,
				Evidence: evidence(map[string]any{"joint_publications": inRecency, "window_years": p.CoauthorshipRecencyYears, "publications": refs}),
			})
		}
	}
	return out
}

func publicationRef(p models.Publication) string {
	switch {
	case p.DOI != "":
		return "doi:" + p.DOI
	case p.PMID != "":
		return "pmid:" + p.PMID
	default:
		return p.Title
	}
}

func detectFinancial(f *facts, _ config.ConflictPolicy) []models.ConflictRecord {
	var out []models.ConflictRecord
	for _, authorID := range f.authorIDs {
		var competing, collaboration *models.FinancialInterest
		for i, fi := range f.financial[authorID] {
			switch fi.Kind {
			case models.FinancialCompeting:
				competing = &f.financial[authorID][i]
			case models.FinancialCollaboration:
				collaboration = &f.financial[authorID][i]
			}
		}
		switch {
		case competing != nil:
			out = append(out, models.ConflictRecord{
				ReviewerID: f.reviewerID, AuthorID: authorID,
				ConflictType: models.ConflictFinancialCompeting, Severity: models.SeverityBlocking,
				Evidence: evidence(map[string]any{"declaration_id": competing.ID, "description": competing.Description}),
			})
		case collaboration != nil:
			out = append(out, models.ConflictRecord{
				ReviewerID: f.reviewerID, AuthorID: authorID,
				ConflictType: models.ConflictFinancialCollaboration, Severity: models.SeverityHigh,
				Evidence: evidence(map[string]any{"declaration_id": collaboration.ID, "description": collaboration.Description}),
			})
		}
	}
	return out
}
