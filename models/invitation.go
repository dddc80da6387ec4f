package models

import "time"

// InvitationStatus eines Gutachter-Einladung.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationWithdrawn InvitationStatus = "withdrawn"
)

// ReviewerInvitation ist eine Einladung an einen Gutachter. Antworten und
// Ablauf konkurrieren über Version (optimistisches Locking).
type ReviewerInvitation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ManuscriptID     uint             `json:"manuscript_id" gorm:"index;not null"`
	ReviewerID       uint             `json:"reviewer_id" gorm:"index;not null"`
	InvitedBy        uint             `json:"invited_by"`
	BatchID          string           `json:"batch_id" gorm:"index"`
	Status           InvitationStatus `json:"status" gorm:"index;not null;default:'pending'"`
	ReviewDeadline   time.Time        `json:"review_deadline"`
	ResponseDeadline time.Time        `json:"response_deadline" gorm:"index"`
	ScheduledFor     time.Time        `json:"scheduled_for" gorm:"index"`
	SentAt           *time.Time       `json:"sent_at,omitempty"`
	RespondedAt      *time.Time       `json:"responded_at,omitempty"`
	ReminderCount    int              `json:"reminder_count" gorm:"not null;default:0"`
	Version          int              `json:"version" gorm:"not null;default:1"`

	DeclineReason        string `json:"decline_reason,omitempty" gorm:"type:text"`
	SuggestedAlternative string `json:"suggested_alternative,omitempty"`
}

func (ReviewerInvitation) TableName() string { return "reviewer_invitations" }

// ReminderDispatch ist der Idempotenzschlüssel (Einladung, Tages-Offset) einer
// versendeten Erinnerung. Der Unique-Index verhindert doppelte Erinnerungen
// bei redundant laufenden Sweeps.
type ReminderDispatch struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	InvitationID uint      `json:"invitation_id" gorm:"uniqueIndex:idx_reminder_offset"`
	OffsetDays   int       `json:"offset_days" gorm:"uniqueIndex:idx_reminder_offset"`
	Delivered    bool      `json:"delivered"`
}

func (ReminderDispatch) TableName() string { return "reminder_dispatches" }

// AssignmentStatus einer Gutachterzuweisung.
type AssignmentStatus string

const (
	AssignmentInvited    AssignmentStatus = "invited"
	AssignmentAccepted   AssignmentStatus = "accepted"
	AssignmentDeclined   AssignmentStatus = "declined"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// ReviewAssignment entsteht genau einmal pro angenommener Einladung.
type ReviewAssignment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ManuscriptID uint             `json:"manuscript_id" gorm:"index;not null"`
	ReviewerID   uint             `json:"reviewer_id" gorm:"index;not null"`
	InvitationID uint             `json:"invitation_id" gorm:"uniqueIndex;not null"`
	Status       AssignmentStatus `json:"status" gorm:"index;not null"`
	DueDate      time.Time        `json:"due_date"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func (ReviewAssignment) TableName() string { return "review_assignments" }

// Recommendation eines Gutachtens.
type Recommendation string

const (
	RecommendAccept        Recommendation = "accept"
	RecommendMinorRevision Recommendation = "minor_revision"
	RecommendMajorRevision Recommendation = "major_revision"
	RecommendReject        Recommendation = "reject"
)

// Valid meldet, ob die Empfehlung bekannt ist.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendAccept, RecommendMinorRevision, RecommendMajorRevision, RecommendReject:
		return true
	}
	return false
}

// Review ist der eingereichte Gutachtentext einer abgeschlossenen Zuweisung.
type Review struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AssignmentID   uint           `json:"assignment_id" gorm:"uniqueIndex;not null"`
	ManuscriptID   uint           `json:"manuscript_id" gorm:"index;not null"`
	ReviewerID     uint           `json:"reviewer_id" gorm:"index;not null"`
	Body           string         `json:"body" gorm:"type:text"`
	Recommendation Recommendation `json:"recommendation"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

func (Review) TableName() string { return "reviews" }
