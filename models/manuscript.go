package models

import (
	"time"
)

// ManuscriptStatus ist der kanonische Workflow-Status eines Manuskripts.
type ManuscriptStatus string

const (
	StatusDraft              ManuscriptStatus = "draft"
	StatusSubmitted          ManuscriptStatus = "submitted"
	StatusWithEditor         ManuscriptStatus = "with_editor"
	StatusUnderReview        ManuscriptStatus = "under_review"
	StatusRevisionsRequested ManuscriptStatus = "revisions_requested"
	StatusAccepted           ManuscriptStatus = "accepted"
	StatusRejected           ManuscriptStatus = "rejected"
	StatusInProduction       ManuscriptStatus = "in_production"
	StatusPublished          ManuscriptStatus = "published"
)

// Terminal meldet, ob aus dem Status keine Kante mehr herausführt.
func (s ManuscriptStatus) Terminal() bool {
	return s == StatusPublished || s == StatusRejected
}

// Priority des Manuskripts (low/normal/high/urgent).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Manuscript ist ein eingereichtes Manuskript. Status und EditorID werden nur
// vom Lifecycle-Service geschrieben; Version dient dem Compare-and-Swap.
type Manuscript struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string           `json:"title" gorm:"not null"`
	Status   ManuscriptStatus `json:"status" gorm:"index;not null;default:'draft'"`
	Priority Priority         `json:"priority" gorm:"not null;default:'normal'"`
	EditorID *uint            `json:"editor_id,omitempty" gorm:"index"`
	Version  int              `json:"version" gorm:"not null;default:1"`

	// Produktionsdaten
	DOI                string     `json:"doi,omitempty" gorm:"column:doi;index"`
	ProductionEditorID *uint      `json:"production_editor_id,omitempty"`
	ScheduledPublishAt *time.Time `json:"scheduled_publish_at,omitempty" gorm:"index"`
	SubmittingAuthorID uint       `json:"submitting_author_id" gorm:"index"`

	Authors []ManuscriptAuthor `json:"authors,omitempty" gorm:"foreignKey:ManuscriptID"`
}

// TableName gibt explizit den Tabellennamen an.
func (Manuscript) TableName() string {
	return "manuscripts"
}

// AuthorIDs liefert die Autorenmenge inklusive Ko-Autoren.
func (m *Manuscript) AuthorIDs() []uint {
	ids := make([]uint, 0, len(m.Authors))
	for _, a := range m.Authors {
		ids = append(ids, a.AuthorID)
	}
	return ids
}

// HasAuthor prüft, ob userID zur Autorenmenge gehört.
func (m *Manuscript) HasAuthor(userID uint) bool {
	for _, a := range m.Authors {
		if a.AuthorID == userID {
			return true
		}
	}
	return false
}

// ManuscriptAuthor verknüpft ein Manuskript mit einem (Ko-)Autor.
type ManuscriptAuthor struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	ManuscriptID  uint `json:"manuscript_id" gorm:"uniqueIndex:idx_manuscript_author"`
	AuthorID      uint `json:"author_id" gorm:"uniqueIndex:idx_manuscript_author;index"`
	Corresponding bool `json:"corresponding"`
}

func (ManuscriptAuthor) TableName() string { return "manuscript_authors" }

// TimelineEntry ist ein Audit-Eintrag für jede erfolgreiche Statusänderung.
type TimelineEntry struct {
	ID           uint             `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time        `json:"created_at" gorm:"index"`
	ManuscriptID uint             `json:"manuscript_id" gorm:"index"`
	FromStatus   ManuscriptStatus `json:"from_status"`
	ToStatus     ManuscriptStatus `json:"to_status" gorm:"index"`
	ActorID      uint             `json:"actor_id"`
	ActorRole    Role             `json:"actor_role"`
	Note         string           `json:"note,omitempty" gorm:"type:text"`
}

func (TimelineEntry) TableName() string { return "manuscript_timeline" }
