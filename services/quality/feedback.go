package quality

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"journal-desk/errs"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/storage"
)

// Feedback ist die verbindliche Bewertung eines Editors.
type Feedback struct {
	Rating int
	Notes  string
	// Flags ersetzen die berechneten Flags, sofern nicht nil.
	Flags []string
}

// FeedbackResult beschreibt den geschriebenen Bericht und die ausgelösten Folgen.
type FeedbackResult struct {
	Report          *models.QualityReport `json:"report"`
	Stats           *models.ReviewerStats `json:"stats"`
	TrainingCreated bool                  `json:"training_created"`
	BadgeAwarded    bool                  `json:"badge_awarded"`
}

// SubmitEditorFeedback schreibt die Editor-Bewertung und wendet die
// Regeln für Schulung und Auszeichnung an. Die Kennzahlen des Gutachters
// werden aus allen Berichten neu berechnet und schließen diese Bewertung ein.
func (s *Service) SubmitEditorFeedback(ctx context.Context, reviewID, editorID uint, fb Feedback) (*FeedbackResult, error) {
	role, err := s.roles.RoleOf(ctx, editorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if role != models.RoleEditor && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: role %s may not rate reviews", errs.ErrUnauthorized, role)
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", errs.ErrInvalidInput)
	}
	now := s.clock.Now()

	out := &FeedbackResult{}
	err = s.store.InTx(ctx, func(tx *storage.Store) error {
		review, err := tx.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		report, err := tx.GetReport(ctx, review.ID)
		if err != nil {
			return err
		}
		if report == nil {
			report = &models.QualityReport{ReviewID: review.ID, ReviewerID: review.ReviewerID}
			report.SetFlags(nil)
		}
		rating := fb.Rating
		report.EditorRating = &rating
		report.EditorNotes = fb.Notes
		if fb.Flags != nil {
			report.SetFlags(fb.Flags)
		}
		report.Status = models.ReportEditorReviewed
		report.OverallScore = effectiveQuality(report)
		if err := tx.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		out.Report = report

		if rating == s.policy.ExcellenceRating && report.HasFlag(s.policy.ExcellenceFlag) {
			out.BadgeAwarded, err = tx.AwardBadge(ctx, &models.ReviewerBadge{
				ReviewerID: review.ReviewerID, ReviewID: review.ID, Kind: models.BadgeQualityExcellence,
			})
			if err != nil {
				return fmt.Errorf("award badge: %w", err)
			}
		}

		stats, err := s.recomputeStats(ctx, tx, review.ReviewerID)
		if err != nil {
			return err
		}
		stats.UpdatedAt = now
		if err := tx.SaveReviewerStats(ctx, stats); err != nil {
			return fmt.Errorf("save reviewer stats: %w", err)
		}
		out.Stats = stats

		if rating <= s.policy.TrainingMaxRating &&
			(stats.AverageQuality < s.policy.TrainingAverageThreshold || stats.LowQualityCount >= s.policy.TrainingLowQualityCount) {
			out.TrainingCreated, err = tx.OpenTraining(ctx, &models.TrainingTask{
				ReviewerID: review.ReviewerID,
				ReviewID:   review.ID,
				Reason:     fmt.Sprintf("editor rating %d, average quality %.2f, %d low-quality reviews", rating, stats.AverageQuality, stats.LowQualityCount),
			})
			if err != nil {
				return fmt.Errorf("open training: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.TrainingCreated && s.notifier != nil {
		if err := s.notifier.Send(ctx, out.Report.ReviewerID, notify.TemplateTraining, map[string]any{
			"review_id": reviewID,
			"rating":    fb.Rating,
		}); err != nil {
			metrics.NotificationFailures.WithLabelValues(notify.TemplateTraining).Inc()
			s.logger.Warn("Notification failed", zap.Uint("recipient_id", out.Report.ReviewerID), zap.String("template", notify.TemplateTraining), zap.Error(err))
		}
	}

	s.logger.Info("Editor feedback recorded",
		zap.Uint("review_id", reviewID),
		zap.Uint("reviewer_id", out.Report.ReviewerID),
		zap.Uint("editor_id", editorID),
		zap.Int("rating", fb.Rating),
		zap.Bool("training_created", out.TrainingCreated),
		zap.Bool("badge_awarded", out.BadgeAwarded))
	return out, nil
}

func (s *Service) recomputeStats(ctx context.Context, tx *storage.Store, reviewerID uint) (*models.ReviewerStats, error) {
	reports, err := tx.ReportsForReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	badges, err := tx.Badges(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	st := &models.ReviewerStats{ReviewerID: reviewerID, ReportCount: len(reports)}
	var sum float64
	for i := range reports {
		q := effectiveQuality(&reports[i])
		sum += q
		if s.isLowQuality(&reports[i], q) {
			st.LowQualityCount++
		}
	}
	if len(reports) > 0 {
		st.AverageQuality = round(sum / float64(len(reports)))
	}
	for _, b := range badges {
		if b.Kind == models.BadgeQualityExcellence {
			st.ExcellenceCount++
		}
	}
	return st, nil
}

// effectiveQuality bildet die Editor-Bewertung 1..5 auf 0..1 ab; ohne
// Bewertung gilt der berechnete Gesamtscore.
func effectiveQuality(r *models.QualityReport) float64 {
	if r.EditorRating != nil {
		return round(float64(*r.EditorRating-1) / 4)
	}
	return r.OverallScore
}

func (s *Service) isLowQuality(r *models.QualityReport, quality float64) bool {
	if r.EditorRating != nil {
		return *r.EditorRating <= s.policy.TrainingMaxRating
	}
	return quality < s.policy.LowQualityScore
}

// Stats liefert die Kennzahlen eines Gutachters.
func (s *Service) Stats(ctx context.Context, reviewerID uint) (*models.ReviewerStats, error) {
	return s.store.GetReviewerStats(ctx, reviewerID)
}

// TrainingTasks liefert die Schulungsaufgaben eines Gutachters.
func (s *Service) TrainingTasks(ctx context.Context, reviewerID uint) ([]models.TrainingTask, error) {
	return s.store.TrainingTasks(ctx, reviewerID)
}

// CompleteTraining schließt eine offene Schulungsaufgabe.
func (s *Service) CompleteTraining(ctx context.Context, taskID uint) error {
	return s.store.CompleteTraining(ctx, taskID, s.clock.Now())
}

// Badges liefert die Abzeichen eines Gutachters.
func (s *Service) Badges(ctx context.Context, reviewerID uint) ([]models.ReviewerBadge, error) {
	return s.store.Badges(ctx, reviewerID)
}
