package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal-desk/models"
)

func TestTransitionErrorUnwrapsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewTransitionError(ErrPreconditionNotMet, models.StatusWithEditor, models.StatusUnderReview, "no accepted assignment"))

	assert.ErrorIs(t, err, ErrPreconditionNotMet)
	assert.NotErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.StatusUnderReview, te.To)
	assert.Contains(t, err.Error(), "no accepted assignment")
}

func TestIneligibleReviewerErrorCarriesConflicts(t *testing.T) {
	err := error(&IneligibleReviewerError{
		ReviewerID: 7,
		Conflicts: []models.ConflictRecord{
			{ReviewerID: 7, AuthorID: 1, ConflictType: models.ConflictInstitutionalCurrent, Severity: models.SeverityBlocking},
		},
	})

	assert.ErrorIs(t, err, ErrIneligibleReviewer)
	assert.Contains(t, err.Error(), "institutional_current")

	var ie *IneligibleReviewerError
	require.True(t, errors.As(err, &ie))
	assert.Len(t, ie.Conflicts, 1)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("cas: %w", ErrConcurrentModification)))
	assert.False(t, Retryable(ErrInvalidTransition))
}
