package invitation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/storage"
)

// StartReview markiert eine angenommene Zuweisung als in Bearbeitung.
func (s *Service) StartReview(ctx context.Context, assignmentID, reviewerID uint) (*models.ReviewAssignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.ReviewerID != reviewerID {
		return nil, fmt.Errorf("%w: assignment %d belongs to another reviewer", errs.ErrUnauthorized, a.ID)
	}
	if err := s.store.CompareAndSwapAssignment(ctx, a.ID, models.AssignmentAccepted, models.AssignmentInProgress, nil); err != nil {
		return nil, err
	}
	return s.store.GetAssignment(ctx, a.ID)
}

// Submission ist ein eingereichtes Gutachten.
type Submission struct {
	Body           string
	Recommendation models.Recommendation
}

// SubmitReview schließt eine Zuweisung ab und reiht die Qualitätsanalyse ein.
// Scheitert das Einreihen, bleibt das Gutachten trotzdem gespeichert.
func (s *Service) SubmitReview(ctx context.Context, assignmentID, reviewerID uint, sub Submission) (*models.Review, error) {
	if strings.TrimSpace(sub.Body) == "" {
		return nil, fmt.Errorf("%w: review body is empty", errs.ErrInvalidInput)
	}
	if !sub.Recommendation.Valid() {
		return nil, fmt.Errorf("%w: unknown recommendation %q", errs.ErrInvalidInput, sub.Recommendation)
	}
	now := s.clock.Now()

	var review *models.Review
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.ReviewerID != reviewerID {
			return fmt.Errorf("%w: assignment %d belongs to another reviewer", errs.ErrUnauthorized, a.ID)
		}
		if a.Status != models.AssignmentAccepted && a.Status != models.AssignmentInProgress {
			return fmt.Errorf("%w: assignment %d is %s", errs.ErrPreconditionNotMet, a.ID, a.Status)
		}
		if err := tx.CompareAndSwapAssignment(ctx, a.ID, a.Status, models.AssignmentCompleted, map[string]any{
			"completed_at": now,
		}); err != nil {
			return err
		}
		review = &models.Review{
			AssignmentID:   a.ID,
			ManuscriptID:   a.ManuscriptID,
			ReviewerID:     a.ReviewerID,
			Body:           sub.Body,
			Recommendation: sub.Recommendation,
			SubmittedAt:    now,
		}
		return tx.CreateReview(ctx, review)
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.Uint("review_id", review.ID), zap.Uint("manuscript_id", review.ManuscriptID))
	log.Info("Review submitted", zap.String("recommendation", string(review.Recommendation)))
	if s.analysis != nil {
		jobID, queued, err := s.analysis.QueueIfNoRecentReport(ctx, review.ID)
		switch {
		case err != nil:
			log.Warn("Could not queue quality analysis", zap.Error(err))
		case queued:
			log.Info("Quality analysis queued", zap.String("job_id", jobID))
		}
	}
	return review, nil
}
