package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConflictType klassifiziert einen Interessenkonflikt.
type ConflictType string

const (
	ConflictInstitutionalCurrent   ConflictType = "institutional_current"
	ConflictInstitutionalRecent    ConflictType = "institutional_recent"
	ConflictCoauthorshipRecent     ConflictType = "coauthorship_recent"
	ConflictCoauthorshipFrequent   ConflictType = "coauthorship_frequent"
	ConflictFinancialCompeting     ConflictType = "financial_competing"
	ConflictFinancialCollaboration ConflictType = "financial_collaboration"
	ConflictOther                  ConflictType = "other"
)

// Severity eines Konflikts; blocking schließt die Begutachtung ohne Override aus.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityBlocking Severity = "blocking"
)

// ConflictRecord wird bei jeder Auswertung neu aus den Fakten berechnet und
// nie persistiert.
type ConflictRecord struct {
	ReviewerID   uint           `json:"reviewer_id"`
	AuthorID     uint           `json:"author_id"`
	ConflictType ConflictType   `json:"conflict_type"`
	Severity     Severity       `json:"severity"`
	Evidence     datatypes.JSON `json:"evidence,omitempty"`
}

// IsBlocking ist abgeleitet: severity == blocking.
func (c ConflictRecord) IsBlocking() bool {
	return c.Severity == SeverityBlocking
}

// ReviewerEligibility ist das Aggregat pro Kandidat.
type ReviewerEligibility struct {
	ReviewerID      uint              `json:"reviewer_id"`
	IsEligible      bool              `json:"is_eligible"`
	Conflicts       []ConflictRecord  `json:"conflicts"`
	RiskScore       int               `json:"risk_score"`
	Override        *ConflictOverride `json:"override,omitempty"`
	OverrideApplied bool              `json:"override_applied"`
}

// BlockingConflicts filtert die blockierenden Konflikte.
func (e ReviewerEligibility) BlockingConflicts() []ConflictRecord {
	var out []ConflictRecord
	for _, c := range e.Conflicts {
		if c.IsBlocking() {
			out = append(out, c)
		}
	}
	return out
}

// ConflictOverride ist der einzige persistierte Zustand der Konfliktprüfung,
// einmalig pro (Gutachter, Manuskript).
type ConflictOverride struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	ManuscriptID uint      `json:"manuscript_id" gorm:"uniqueIndex:idx_override_pair;not null"`
	ReviewerID   uint      `json:"reviewer_id" gorm:"uniqueIndex:idx_override_pair;not null"`
	Reason       string    `json:"reason" gorm:"type:text;not null"`
	OverriddenBy uint      `json:"overridden_by"`
	Timestamp    time.Time `json:"timestamp"`
}

func (ConflictOverride) TableName() string { return "conflict_overrides" }
