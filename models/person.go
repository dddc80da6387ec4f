package models

import "time"

// Role ist die Rolle eines Akteurs im Redaktionsprozess.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleEditor   Role = "editor"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// SystemActorID kennzeichnet automatisierte Aktionen (Sweeps, Post-Decision).
const SystemActorID uint = 0

// Person ist ein Nutzer der Plattform mit Kontaktdaten und Rolle.
type Person struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DisplayName string `json:"display_name" gorm:"not null"`
	LastName    string `json:"last_name" gorm:"index"`
	Initials    string `json:"initials"`
	Email       string `json:"email" gorm:"uniqueIndex"`
	ORCID       string `json:"orcid,omitempty" gorm:"column:orcid;index"`
	Role        Role   `json:"role" gorm:"not null;default:'author'"`
}

func (Person) TableName() string { return "people" }

// Affiliation ist eine (aktuelle oder frühere) institutionelle Zugehörigkeit.
// EndedAt == nil bedeutet aktuell.
type Affiliation struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	PersonID    uint       `json:"person_id" gorm:"index"`
	Institution string     `json:"institution" gorm:"index;not null"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (Affiliation) TableName() string { return "affiliations" }

// Current meldet, ob die Zugehörigkeit noch besteht.
func (a Affiliation) Current() bool { return a.EndedAt == nil }

// Publication ist ein Eintrag der Publikationshistorie; PublicationAuthor
// verknüpft Personen mit gemeinsamen Publikationen.
type Publication struct {
	ID          uint                `json:"id" gorm:"primaryKey"`
	DOI         string              `json:"doi,omitempty" gorm:"column:doi;index"`
	PMID        string              `json:"pmid,omitempty" gorm:"column:pmid;index"`
	Title       string              `json:"title"`
	PublishedAt time.Time           `json:"published_at" gorm:"index"`
	Authors     []PublicationAuthor `json:"authors,omitempty" gorm:"foreignKey:PublicationID"`
}

func (Publication) TableName() string { return "publications" }

type PublicationAuthor struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	PublicationID uint `json:"publication_id" gorm:"uniqueIndex:idx_publication_author"`
	PersonID      uint `json:"person_id" gorm:"uniqueIndex:idx_publication_author;index"`
}

func (PublicationAuthor) TableName() string { return "publication_authors" }

// FinancialInterestKind beschreibt die Art einer deklarierten finanziellen Beziehung.
type FinancialInterestKind string

const (
	FinancialCompeting     FinancialInterestKind = "competing"
	FinancialCollaboration FinancialInterestKind = "collaboration"
)

// FinancialInterest ist eine deklarierte finanzielle Beziehung zwischen zwei Personen.
type FinancialInterest struct {
	ID            uint                  `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time             `json:"created_at"`
	PersonID      uint                  `json:"person_id" gorm:"index"`
	CounterpartID uint                  `json:"counterpart_id" gorm:"index"`
	Kind          FinancialInterestKind `json:"kind"`
	Description   string                `json:"description,omitempty"`
	DeclaredAt    time.Time             `json:"declared_at"`
}

func (FinancialInterest) TableName() string { return "financial_interests" }
