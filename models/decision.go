package models

import (
	"time"

	"gorm.io/datatypes"
)

// DecisionType einer redaktionellen Entscheidung.
type DecisionType string

const (
	DecisionAccepted           DecisionType = "accepted"
	DecisionRevisionsRequested DecisionType = "revisions_requested"
	DecisionRejected           DecisionType = "rejected"
)

// Valid meldet, ob die Entscheidung bekannt ist.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionAccepted, DecisionRevisionsRequested, DecisionRejected:
		return true
	}
	return false
}

// TargetStatus ist der Manuskript-Status, den die Entscheidung auslöst.
func (d DecisionType) TargetStatus() ManuscriptStatus {
	switch d {
	case DecisionAccepted:
		return StatusAccepted
	case DecisionRevisionsRequested:
		return StatusRevisionsRequested
	default:
		return StatusRejected
	}
}

// EditorialDecision ist unveränderlich; genau eine pro Begutachtungsrunde.
type EditorialDecision struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ManuscriptID   uint         `json:"manuscript_id" gorm:"uniqueIndex:idx_decision_round;not null"`
	Round          int          `json:"round" gorm:"uniqueIndex:idx_decision_round;not null"`
	EditorID       uint         `json:"editor_id"`
	Decision       DecisionType `json:"decision" gorm:"not null"`
	DecisionLetter string       `json:"decision_letter" gorm:"type:text"`
	LetterURL      string       `json:"letter_url,omitempty"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
}

func (EditorialDecision) TableName() string { return "editorial_decisions" }

// DecisionActionLog protokolliert jeden Versuch einer Post-Decision-Aktion.
type DecisionActionLog struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time      `json:"created_at"`
	DecisionID   uint           `json:"decision_id" gorm:"index:idx_action_lookup"`
	ManuscriptID uint           `json:"manuscript_id" gorm:"index"`
	ActionType   ActionType     `json:"action_type" gorm:"index:idx_action_lookup"`
	Success      bool           `json:"success" gorm:"index:idx_action_lookup"`
	Error        string         `json:"error,omitempty" gorm:"type:text"`
	Payload      datatypes.JSON `json:"payload,omitempty"`
}

func (DecisionActionLog) TableName() string { return "decision_action_logs" }

// ActionType ist die geschlossene Menge der Post-Decision-Aktionen.
type ActionType string

const (
	ActionNotifyAuthor           ActionType = "notify_author"
	ActionNotifyReviewers        ActionType = "notify_reviewers"
	ActionGenerateDOI            ActionType = "generate_doi"
	ActionAssignProductionEditor ActionType = "assign_production_editor"
	ActionSchedulePublication    ActionType = "schedule_publication"
	ActionFollowUpReminder       ActionType = "follow_up_reminder"
	ActionSendToProduction       ActionType = "send_to_production"
)

// AllActionTypes listet jede bekannte Aktion.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionNotifyAuthor, ActionNotifyReviewers, ActionGenerateDOI, ActionAssignProductionEditor,
		ActionSchedulePublication, ActionFollowUpReminder, ActionSendToProduction,
	}
}

// Valid meldet, ob die Aktion zur geschlossenen Menge gehört.
func (a ActionType) Valid() bool {
	for _, known := range AllActionTypes() {
		if a == known {
			return true
		}
	}
	return false
}
