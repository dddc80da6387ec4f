package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"journal-desk/errs"
	"journal-desk/models"
)

// EnqueueJob persistiert einen Analysejob.
func (s *Store) EnqueueJob(ctx context.Context, j *models.QualityAnalysisJob) error {
	if j.Status == "" {
		j.Status = models.JobQueued
	}
	return s.conn(ctx).Create(j).Error
}

// GetJob lädt einen Job über seine öffentliche JobID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.QualityAnalysisJob, error) {
	var j models.QualityAnalysisJob
	if err := s.conn(ctx).Where("job_id = ?", jobID).First(&j).Error; err != nil {
		return nil, notFound(err, "quality job", jobID)
	}
	return &j, nil
}

// ClaimNextJob holt den nächsten fälligen Job (Priorität absteigend, dann
// Einreihungsreihenfolge) und setzt ihn auf running. Konkurrierende Worker
// verlieren den Compare-and-Swap und versuchen den nächsten Kandidaten.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*models.QualityAnalysisJob, error) {
	for range 5 {
		var j models.QualityAnalysisJob
		err := s.conn(ctx).
			Where("status = ? AND next_attempt_at <= ?", models.JobQueued, now).
			Order("priority desc, id asc").
			First(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		res := s.conn(ctx).Model(&models.QualityAnalysisJob{}).
			Where("id = ? AND status = ?", j.ID, models.JobQueued).
			Updates(map[string]any{"status": models.JobRunning, "attempts": gorm.Expr("attempts + 1")})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			j.Status = models.JobRunning
			j.Attempts++
			return &j, nil
		}
	}
	return nil, nil
}

// UpdateJob schreibt Status, Fehler und nächsten Versuchszeitpunkt.
func (s *Store) UpdateJob(ctx context.Context, j *models.QualityAnalysisJob) error {
	return s.conn(ctx).Model(&models.QualityAnalysisJob{}).
		Where("id = ?", j.ID).
		Updates(map[string]any{
			"status":          j.Status,
			"last_error":      j.LastError,
			"next_attempt_at": j.NextAttemptAt,
			"finished_at":     j.FinishedAt,
			"attempts":        j.Attempts,
		}).Error
}

// CancelJob storniert einen noch wartenden Job.
func (s *Store) CancelJob(ctx context.Context, jobID string, at time.Time) error {
	res := s.conn(ctx).Model(&models.QualityAnalysisJob{}).
		Where("job_id = ? AND status = ?", jobID, models.JobQueued).
		Updates(map[string]any{"status": models.JobCancelled, "finished_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("quality job %s is not queued: %w", jobID, errs.ErrPreconditionNotMet)
	}
	return nil
}

// RequeueJob setzt einen endgültig fehlgeschlagenen Job mit frischem Versuchsbudget zurück in die Queue.
func (s *Store) RequeueJob(ctx context.Context, jobID string, at time.Time) error {
	res := s.conn(ctx).Model(&models.QualityAnalysisJob{}).
		Where("job_id = ? AND status = ?", jobID, models.JobFailed).
		Updates(map[string]any{
			"status": models.JobQueued, "attempts": 0, "next_attempt_at": at,
			"last_error": "", "finished_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("quality job %s is not failed: %w", jobID, errs.ErrPreconditionNotMet)
	}
	return nil
}

// JobsByStatus listet Jobs eines Status.
func (s *Store) JobsByStatus(ctx context.Context, status models.JobStatus) ([]models.QualityAnalysisJob, error) {
	var out []models.QualityAnalysisJob
	err := s.conn(ctx).Where("status = ?", status).Order("id asc").Find(&out).Error
	return out, err
}

// CountQueuedJobs zählt wartende Jobs.
func (s *Store) CountQueuedJobs(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.QualityAnalysisJob{}).Where("status = ?", models.JobQueued).Count(&n).Error
	return n, err
}

// GetReport lädt den Qualitätsbericht eines Gutachtens (nil, falls keiner).
func (s *Store) GetReport(ctx context.Context, reviewID uint) (*models.QualityReport, error) {
	var r models.QualityReport
	err := s.conn(ctx).Where("review_id = ?", reviewID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveReport legt einen Bericht an oder aktualisiert ihn.
func (s *Store) SaveReport(ctx context.Context, r *models.QualityReport) error {
	return s.conn(ctx).Save(r).Error
}

// ReportsForReviewer liefert alle Berichte eines Gutachters.
func (s *Store) ReportsForReviewer(ctx context.Context, reviewerID uint) ([]models.QualityReport, error) {
	var out []models.QualityReport
	err := s.conn(ctx).Where("reviewer_id = ?", reviewerID).Order("id asc").Find(&out).Error
	return out, err
}

// GetReviewerStats lädt die Kennzahlen eines Gutachters (Nullwerte, falls keine).
func (s *Store) GetReviewerStats(ctx context.Context, reviewerID uint) (*models.ReviewerStats, error) {
	st := models.ReviewerStats{ReviewerID: reviewerID}
	err := s.conn(ctx).Where("reviewer_id = ?", reviewerID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveReviewerStats schreibt die Kennzahlen per Upsert.
func (s *Store) SaveReviewerStats(ctx context.Context, st *models.ReviewerStats) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reviewer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "report_count", "average_quality", "low_quality_count", "excellence_count"}),
	}).Create(st).Error
}

// OpenTraining legt eine offene Schulungsaufgabe an, sofern für den Gutachter
// noch keine offen ist. Liefert false, wenn bereits eine existiert.
func (s *Store) OpenTraining(ctx context.Context, t *models.TrainingTask) (bool, error) {
	key := fmt.Sprintf("reviewer:%d", t.ReviewerID)
	t.OpenKey = &key
	t.Status = models.TrainingOpen
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteTraining schließt eine Schulungsaufgabe und gibt den Schlüssel frei.
func (s *Store) CompleteTraining(ctx context.Context, id uint, at time.Time) error {
	res := s.conn(ctx).Model(&models.TrainingTask{}).
		Where("id = ? AND status = ?", id, models.TrainingOpen).
		Updates(map[string]any{"status": models.TrainingCompleted, "open_key": nil, "completed_at": at})
	return casResult(res, "training task", id)
}

// TrainingTasks liefert alle Schulungsaufgaben eines Gutachters.
func (s *Store) TrainingTasks(ctx context.Context, reviewerID uint) ([]models.TrainingTask, error) {
	var out []models.TrainingTask
	err := s.conn(ctx).Where("reviewer_id = ?", reviewerID).Order("id asc").Find(&out).Error
	return out, err
}

// AwardBadge vergibt ein Abzeichen höchstens einmal pro Gutachten.
func (s *Store) AwardBadge(ctx context.Context, b *models.ReviewerBadge) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Badges liefert die Abzeichen eines Gutachters.
func (s *Store) Badges(ctx context.Context, reviewerID uint) ([]models.ReviewerBadge, error) {
	var out []models.ReviewerBadge
	err := s.conn(ctx).Where("reviewer_id = ?", reviewerID).Order("id asc").Find(&out).Error
	return out, err
}
