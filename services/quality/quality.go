// Package quality bewertet eingereichte Gutachten asynchron über eine
// Prioritäts-Queue und verarbeitet das verbindliche Editor-Feedback.
package quality

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/storage"
)

// Inspector ist die Operator-Sicht auf eine Queue.
type Inspector interface {
	Job(ctx context.Context, jobID string) (*models.QualityAnalysisJob, error)
	Parked(ctx context.Context) ([]models.QualityAnalysisJob, error)
	Requeue(ctx context.Context, jobID string) error
}

// Service ist die Review Quality Pipeline.
type Service struct {
	store    *storage.Store
	queue    Queue
	scorer   Scorer
	roles    identity.RoleProvider
	notifier notify.Sender
	clock    clock.Clock
	policy   config.QualityPolicy
	logger   *zap.Logger
}

// NewService erstellt die Pipeline.
func NewService(store *storage.Store, queue Queue, scorer Scorer, roles identity.RoleProvider, notifier notify.Sender, clk clock.Clock, policy config.QualityPolicy, logger *zap.Logger) *Service {
	return &Service{store: store, queue: queue, scorer: scorer, roles: roles, notifier: notifier, clock: clk, policy: policy, logger: logger}
}

// QueueAnalysis reiht einen Analysejob ein und kehrt sofort mit dessen JobID
// zurück. priority 0 wählt die Standardpriorität.
func (s *Service) QueueAnalysis(ctx context.Context, reviewID uint, jobType models.JobType, priority int, requestedBy *uint) (string, error) {
	if !jobType.Valid() {
		return "", fmt.Errorf("%w: unknown job type %q", errs.ErrInvalidInput, jobType)
	}
	if priority == 0 {
		priority = s.policy.DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return "", fmt.Errorf("%w: priority must be between 1 and 10", errs.ErrInvalidInput)
	}
	if _, err := s.store.GetReview(ctx, reviewID); err != nil {
		return "", err
	}
	job := &models.QualityAnalysisJob{
		JobID:       uuid.NewString(),
		ReviewID:    reviewID,
		JobType:     jobType,
		Priority:    priority,
		RequestedBy: requestedBy,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue quality job: %w", err)
	}
	metrics.QualityJobs.WithLabelValues(string(jobType), "queued").Inc()
	s.logger.Info("Quality analysis queued",
		zap.String("job_id", job.JobID),
		zap.Uint("review_id", reviewID),
		zap.String("job_type", string(jobType)),
		zap.Int("priority", priority))
	return job.JobID, nil
}

// QueueIfNoRecentReport reiht eine volle Analyse ein, sofern das Gutachten
// keinen Bericht jünger als recent_report_window hat.
func (s *Service) QueueIfNoRecentReport(ctx context.Context, reviewID uint) (string, bool, error) {
	report, err := s.store.GetReport(ctx, reviewID)
	if err != nil {
		return "", false, err
	}
	if report != nil && report.AnalyzedAt != nil && s.clock.Now().Sub(*report.AnalyzedAt) < s.policy.RecentReportWindow {
		return "", false, nil
	}
	jobID, err := s.QueueAnalysis(ctx, reviewID, models.JobFullAnalysis, 0, nil)
	if err != nil {
		return "", false, err
	}
	return jobID, true, nil
}

// RunOnce verarbeitet höchstens einen fälligen Job. processed ist false, wenn
// die Queue leer ist.
func (s *Service) RunOnce(ctx context.Context) (processed bool, err error) {
	job, err := s.queue.Dequeue(ctx)
	if err != nil || job == nil {
		return false, err
	}
	log := s.logger.With(
		zap.String("job_id", job.JobID),
		zap.Uint("review_id", job.ReviewID),
		zap.String("job_type", string(job.JobType)),
		zap.Int("attempt", job.Attempts))

	if perr := s.process(ctx, job); perr != nil {
		parked, ferr := s.queue.Fail(ctx, job, perr)
		if ferr != nil {
			return true, fmt.Errorf("record job failure: %w", ferr)
		}
		metrics.QualityJobs.WithLabelValues(string(job.JobType), "failed").Inc()
		if parked {
			log.Error("Quality job parked", zap.Error(perr))
		} else {
			// job gehört nach Fail weiterhin nur diesem Aufrufer.
			log.Warn("Quality job failed, retry scheduled", zap.Time("next_attempt_at", job.NextAttemptAt), zap.Error(perr))
		}
		return true, nil
	}
	if err := s.queue.Ack(ctx, job); err != nil {
		return true, fmt.Errorf("ack job: %w", err)
	}
	metrics.QualityJobs.WithLabelValues(string(job.JobType), "completed").Inc()
	log.Info("Quality job completed")
	return true, nil
}

// Drain verarbeitet fällige Jobs, bis die Queue leer ist.
func (s *Service) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		processed, err := s.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			break
		}
		n++
	}
	return n, ctx.Err()
}

// process bewertet das Gutachten und schreibt den Bericht. Editor-Bewertung,
// Notizen und Flags eines bereits geprüften Berichts bleiben erhalten.
func (s *Service) process(ctx context.Context, job *models.QualityAnalysisJob) error {
	review, err := s.store.GetReview(ctx, job.ReviewID)
	if err != nil {
		return err
	}
	scores, err := s.scorer.Score(ctx, job.JobType, review)
	if err != nil {
		return err
	}
	report, err := s.store.GetReport(ctx, review.ID)
	if err != nil {
		return err
	}
	if report == nil {
		report = &models.QualityReport{ReviewID: review.ID, ReviewerID: review.ReviewerID, Status: models.ReportAutoAnalyzed}
	}
	applyScores(report, scores)
	if report.Status != models.ReportEditorReviewed {
		report.SetFlags(scores.Flags)
	}
	if report.EditorRating == nil {
		report.OverallScore = scores.Overall()
	}
	now := s.clock.Now()
	report.AnalyzedAt = &now
	report.LastJobType = job.JobType
	return s.store.SaveReport(ctx, report)
}

func applyScores(r *models.QualityReport, s Scores) {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.Thoroughness, s.Thoroughness)
	set(&r.Constructiveness, s.Constructiveness)
	set(&r.Professionalism, s.Professionalism)
	set(&r.Consistency, s.Consistency)
	set(&r.Specificity, s.Specificity)
}

// Cancel storniert einen noch wartenden Job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("Quality job cancelled", zap.String("job_id", jobID))
	return nil
}

func (s *Service) inspector() (Inspector, error) {
	in, ok := s.queue.(Inspector)
	if !ok {
		return nil, fmt.Errorf("%w: queue %T cannot be inspected", errs.ErrPreconditionNotMet, s.queue)
	}
	return in, nil
}

// Job liefert den aktuellen Stand eines Jobs.
func (s *Service) Job(ctx context.Context, jobID string) (*models.QualityAnalysisJob, error) {
	in, err := s.inspector()
	if err != nil {
		return nil, err
	}
	return in.Job(ctx, jobID)
}

// ParkedJobs listet endgültig fehlgeschlagene Jobs.
func (s *Service) ParkedJobs(ctx context.Context) ([]models.QualityAnalysisJob, error) {
	in, err := s.inspector()
	if err != nil {
		return nil, err
	}
	return in.Parked(ctx)
}

// Requeue gibt einem geparkten Job ein neues Versuchsbudget.
func (s *Service) Requeue(ctx context.Context, jobID string) error {
	in, err := s.inspector()
	if err != nil {
		return err
	}
	if err := in.Requeue(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("Quality job requeued", zap.String("job_id", jobID))
	return nil
}

// Report liefert den Qualitätsbericht eines Gutachtens.
func (s *Service) Report(ctx context.Context, reviewID uint) (*models.QualityReport, error) {
	r, err := s.store.GetReport(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("quality report for review %d: %w", reviewID, errs.ErrNotFound)
	}
	return r, nil
}

func (q *DBQueue) Job(ctx context.Context, jobID string) (*models.QualityAnalysisJob, error) {
	return q.store.GetJob(ctx, jobID)
}

func (q *DBQueue) Parked(ctx context.Context) ([]models.QualityAnalysisJob, error) {
	return q.store.JobsByStatus(ctx, models.JobFailed)
}

func (q *DBQueue) Requeue(ctx context.Context, jobID string) error {
	return q.store.RequeueJob(ctx, jobID, q.clock.Now())
}

var (
	_ Inspector = (*DBQueue)(nil)
	_ Inspector = (*MemoryQueue)(nil)
)
