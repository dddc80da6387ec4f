package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// JobType der Qualitätsanalyse.
type JobType string

const (
	JobQuickCheck          JobType = "quick_check"
	JobConsistencyAnalysis JobType = "consistency_analysis"
	JobFullAnalysis        JobType = "full_analysis"
)

// Valid meldet, ob der Jobtyp bekannt ist.
func (t JobType) Valid() bool {
	switch t {
	case JobQuickCheck, JobConsistencyAnalysis, JobFullAnalysis:
		return true
	}
	return false
}

// JobStatus eines Analysejobs.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// QualityAnalysisJob ist ein Eintrag der Analyse-Queue. ID bestimmt die
// FIFO-Reihenfolge innerhalb einer Priorität, JobID ist der öffentliche Schlüssel.
type QualityAnalysisJob struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	JobID         string     `json:"job_id" gorm:"uniqueIndex;size:36;not null"`
	ReviewID      uint       `json:"review_id" gorm:"index;not null"`
	JobType       JobType    `json:"job_type" gorm:"not null"`
	Priority      int        `json:"priority" gorm:"index;not null;default:5"`
	Status        JobStatus  `json:"status" gorm:"index;not null;default:'queued'"`
	Attempts      int        `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int        `json:"max_attempts" gorm:"not null;default:3"`
	NextAttemptAt time.Time  `json:"next_attempt_at" gorm:"index"`
	LastError     string     `json:"last_error,omitempty" gorm:"type:text"`
	RequestedBy   *uint      `json:"requested_by,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func (QualityAnalysisJob) TableName() string { return "quality_analysis_jobs" }

// ReportStatus eines Qualitätsberichts.
type ReportStatus string

const (
	ReportAutoAnalyzed   ReportStatus = "auto_analyzed"
	ReportEditorReviewed ReportStatus = "editor_reviewed"
)

// Bekannte Flags.
const (
	FlagExcellentQuality = "excellent_quality"
	FlagTooShort         = "too_short"
	FlagMissingSummary   = "missing_summary"
	FlagUnprofessional   = "unprofessional_tone"
	FlagInconsistent     = "recommendation_inconsistent"
	FlagVague            = "vague_comments"
)

// QualityReport ist die berechnete und vom Editor ergänzte Bewertung eines Gutachtens.
type QualityReport struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReviewID   uint `json:"review_id" gorm:"uniqueIndex;not null"`
	ReviewerID uint `json:"reviewer_id" gorm:"index;not null"`

	Thoroughness     float64 `json:"thoroughness"`
	Constructiveness float64 `json:"constructiveness"`
	Professionalism  float64 `json:"professionalism"`
	Consistency      float64 `json:"consistency"`
	Specificity      float64 `json:"specificity"`
	OverallScore     float64 `json:"overall_score"`

	EditorRating *int           `json:"editor_rating,omitempty"`
	EditorNotes  string         `json:"editor_notes,omitempty" gorm:"type:text"`
	Flags        datatypes.JSON `json:"flags"`
	Status       ReportStatus   `json:"status" gorm:"index"`
	LastJobType  JobType        `json:"last_job_type,omitempty"`
	AnalyzedAt   *time.Time     `json:"analyzed_at,omitempty"`
}

func (QualityReport) TableName() string { return "quality_reports" }

// FlagList dekodiert die gespeicherten Flags.
func (r *QualityReport) FlagList() []string {
	if len(r.Flags) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(r.Flags, &out); err != nil {
		return nil
	}
	return out
}

// SetFlags speichert die Flags als JSON-Array.
func (r *QualityReport) SetFlags(flags []string) {
	if flags == nil {
		flags = []string{}
	}
	b, _ := json.Marshal(flags)
	r.Flags = b
}

// HasFlag prüft ein einzelnes Flag.
func (r *QualityReport) HasFlag(flag string) bool {
	for _, f := range r.FlagList() {
		if f == flag {
			return true
		}
	}
	return false
}

// ReviewerStats hält die laufenden Qualitätskennzahlen eines Gutachters.
type ReviewerStats struct {
	ReviewerID      uint      `json:"reviewer_id" gorm:"primaryKey;autoIncrement:false"`
	UpdatedAt       time.Time `json:"updated_at"`
	ReportCount     int       `json:"report_count"`
	AverageQuality  float64   `json:"average_quality"`
	LowQualityCount int       `json:"low_quality_count"`
	ExcellenceCount int       `json:"excellence_count"`
}

func (ReviewerStats) TableName() string { return "reviewer_stats" }

// TrainingStatus einer Schulungsaufgabe.
type TrainingStatus string

const (
	TrainingOpen      TrainingStatus = "open"
	TrainingCompleted TrainingStatus = "completed"
)

// TrainingTask ist eine Schulungsaufgabe für einen Gutachter. OpenKey ist nur
// gesetzt solange die Aufgabe offen ist; der Unique-Index erlaubt höchstens
// eine offene Aufgabe pro Gutachter.
type TrainingTask struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ReviewerID  uint           `json:"reviewer_id" gorm:"index;not null"`
	ReviewID    uint           `json:"review_id"`
	Status      TrainingStatus `json:"status" gorm:"index;not null"`
	Reason      string         `json:"reason"`
	OpenKey     *string        `json:"-" gorm:"uniqueIndex"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (TrainingTask) TableName() string { return "training_tasks" }

// BadgeQualityExcellence wird bei herausragenden Gutachten vergeben.
const BadgeQualityExcellence = "quality_excellence"

// ReviewerBadge ist ein Profil-Abzeichen, höchstens eines pro Gutachten.
type ReviewerBadge struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time `json:"created_at"`
	ReviewerID uint      `json:"reviewer_id" gorm:"index;not null"`
	ReviewID   uint      `json:"review_id" gorm:"uniqueIndex;not null"`
	Kind       string    `json:"kind"`
}

func (ReviewerBadge) TableName() string { return "reviewer_badges" }
