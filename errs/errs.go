// Package errs definiert die Fehler-Taxonomie des Redaktions-Workflows.
// Aufrufer prüfen mit errors.Is / errors.As.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"journal-desk/models"
)

var (
	ErrInvalidTransition          = errors.New("invalid transition")
	ErrPreconditionNotMet         = errors.New("precondition not met")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrAlreadyResponded           = errors.New("invitation already responded")
	ErrIneligibleReviewer         = errors.New("reviewer is ineligible")
	ErrJobFailedPermanently       = errors.New("quality job failed permanently")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrConcurrentModification     = errors.New("concurrent modification")

	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrOverrideExists = errors.New("override already exists")
)

// TransitionError beschreibt eine abgelehnte Statusänderung.
type TransitionError struct {
	Kind   error
	From   models.ManuscriptStatus
	To     models.ManuscriptStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s -> %s", e.Kind, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Kind }

// NewTransitionError baut einen TransitionError der angegebenen Art.
func NewTransitionError(kind error, from, to models.ManuscriptStatus, reason string) *TransitionError {
	return &TransitionError{Kind: kind, From: from, To: to, Reason: reason}
}

// IneligibleReviewerError trägt die blockierenden Konflikte.
type IneligibleReviewerError struct {
	ReviewerID uint
	Conflicts  []models.ConflictRecord
}

func (e *IneligibleReviewerError) Error() string {
	types := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		types = append(types, string(c.ConflictType))
	}
	return fmt.Sprintf("%s: reviewer %d blocked by %s", ErrIneligibleReviewer, e.ReviewerID, strings.Join(types, ", "))
}

func (e *IneligibleReviewerError) Unwrap() error { return ErrIneligibleReviewer }

// Retryable meldet, ob der Aufrufer nach erneutem Lesen wiederholen darf.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
