package quality

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/storage"
	"journal-desk/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	editorID   uint = 500
	reviewerID uint = 600
)

type recordingScorer struct {
	mu   sync.Mutex
	seen []uint
	err  error
}

func (r *recordingScorer) Score(_ context.Context, _ models.JobType, review *models.Review) (Scores, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, review.ID)
	if r.err != nil {
		return Scores{}, r.err
	}
	return Scores{Thoroughness: ptr(0.8), Professionalism: ptr(1), Flags: []string{}}, nil
}

type fixture struct {
	db     *gorm.DB
	store  *storage.Store
	clock  *clock.Fake
	policy *config.Policy
	scorer *recordingScorer
	sent   *notify.Memory
	svc    *Service
}

func newFixture(t *testing.T, memory bool) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	store := storage.New(db)
	policy, err := config.DefaultPolicy()
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))

	var q Queue = NewDBQueue(store, clk, policy.Jobs)
	if memory {
		q = NewMemoryQueue(clk, policy.Jobs)
	}
	f := &fixture{db: db, store: store, clock: clk, policy: policy, scorer: &recordingScorer{}, sent: &notify.Memory{}}
	roles := identity.Static{editorID: models.RoleEditor, reviewerID: models.RoleReviewer}
	f.svc = NewService(store, q, f.scorer, roles, f.sent, clk, policy.Quality, zap.NewNop())
	return f
}

func (f *fixture) review(t *testing.T) *models.Review {
	t.Helper()
	ctx := context.Background()
	inv := &models.ReviewerInvitation{ManuscriptID: 1, ReviewerID: reviewerID, Status: models.InvitationAccepted}
	require.NoError(t, f.store.CreateInvitation(ctx, inv))
	a := &models.ReviewAssignment{ManuscriptID: 1, ReviewerID: reviewerID, InvitationID: inv.ID, Status: models.AssignmentCompleted}
	require.NoError(t, f.store.CreateAssignment(ctx, a))
	r := &models.Review{AssignmentID: a.ID, ManuscriptID: 1, ReviewerID: reviewerID, Body: thoroughReview, Recommendation: models.RecommendMinorRevision}
	require.NoError(t, f.store.CreateReview(ctx, r))
	return r
}

func TestQueue_HigherPriorityFirst(t *testing.T) {
	for _, memory := range []bool{false, true} {
		name := "db"
		if memory {
			name = "memory"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, memory)
			ctx := context.Background()
			low, high := f.review(t), f.review(t)

			_, err := f.svc.QueueAnalysis(ctx, low.ID, models.JobQuickCheck, 3, nil)
			require.NoError(t, err)
			_, err = f.svc.QueueAnalysis(ctx, high.ID, models.JobQuickCheck, 9, nil)
			require.NoError(t, err)

			n, err := f.svc.Drain(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, []uint{high.ID, low.ID}, f.scorer.seen)
		})
	}
}

func TestQueueAnalysis_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)

	_, err := f.svc.QueueAnalysis(ctx, r.ID, "deep_dive", 0, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 11, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = f.svc.QueueAnalysis(ctx, 9999, models.JobQuickCheck, 0, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	requestedBy := editorID
	jobID, err := f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 0, &requestedBy)
	require.NoError(t, err)
	job, err := f.svc.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, f.policy.Quality.DefaultPriority, job.Priority)
	require.NotNil(t, job.RequestedBy)
	assert.Equal(t, editorID, *job.RequestedBy)
}

func TestRunOnce_WritesReport(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)
	jobID, err := f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 0, nil)
	require.NoError(t, err)

	processed, err := f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := f.svc.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)

	report, err := f.svc.Report(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportAutoAnalyzed, report.Status)
	assert.InDelta(t, 0.9, report.OverallScore, 0.001)
	assert.Equal(t, models.JobQuickCheck, report.LastJobType)
}

func TestRunOnce_RetriesThenParks(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.scorer.err = errors.New("scorer unavailable")
	r := f.review(t)
	jobID, err := f.svc.QueueAnalysis(ctx, r.ID, models.JobFullAnalysis, 0, nil)
	require.NoError(t, err)

	processed, err := f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "retry waits for backoff")

	f.clock.Advance(30 * time.Second)
	_, err = f.svc.RunOnce(ctx)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.RunOnce(ctx)
	require.NoError(t, err)

	job, err := f.svc.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, errs.ErrJobFailedPermanently.Error())

	parked, err := f.svc.ParkedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)

	f.scorer.err = nil
	require.NoError(t, f.svc.Requeue(ctx, jobID))
	n, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	job, err = f.svc.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestMemoryQueue_DequeueHandsOutCopies(t *testing.T) {
	policy, err := config.DefaultPolicy()
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	q := NewMemoryQueue(clk, policy.Jobs)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.QualityAnalysisJob{JobID: "j-1", ReviewID: 1, JobType: models.JobQuickCheck}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	parked, err := q.Fail(ctx, first, errors.New("scorer unavailable"))
	require.NoError(t, err)
	require.False(t, parked)
	next := first.NextAttemptAt

	clk.Advance(time.Hour)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, 1, first.Attempts, "a later dequeue must not touch an earlier handout")
	assert.Equal(t, next, first.NextAttemptAt)

	_, err = q.Fail(ctx, &models.QualityAnalysisJob{JobID: "unknown"}, errors.New("x"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRunOnce_ConcurrentFailuresOnMemoryQueue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.scorer.err = errors.New("scorer unavailable")
	const jobs = 5
	for i := 0; i < jobs; i++ {
		_, err := f.svc.QueueAnalysis(ctx, f.review(t).ID, models.JobQuickCheck, i, nil)
		require.NoError(t, err)
	}

	for round := 0; round < f.policy.Jobs.MaxAttempts; round++ {
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					processed, err := f.svc.RunOnce(ctx)
					if err != nil || !processed {
						return
					}
				}
			}()
		}
		wg.Wait()
		f.clock.Advance(time.Hour)
	}

	parked, err := f.svc.ParkedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, parked, jobs)
	for _, job := range parked {
		assert.Equal(t, f.policy.Jobs.MaxAttempts, job.Attempts, job.JobID)
	}
}

func TestCancel_OnlyWhileQueued(t *testing.T) {
	for _, memory := range []bool{false, true} {
		f := newFixture(t, memory)
		ctx := context.Background()
		r := f.review(t)
		jobID, err := f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 0, nil)
		require.NoError(t, err)

		require.NoError(t, f.svc.Cancel(ctx, jobID))
		assert.ErrorIs(t, f.svc.Cancel(ctx, jobID), errs.ErrPreconditionNotMet)

		n, err := f.svc.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestQueueIfNoRecentReport(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)

	_, queued, err := f.svc.QueueIfNoRecentReport(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, queued)
	_, err = f.svc.Drain(ctx)
	require.NoError(t, err)

	_, queued, err = f.svc.QueueIfNoRecentReport(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, queued)

	f.clock.Advance(25 * time.Hour)
	_, queued, err = f.svc.QueueIfNoRecentReport(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestSubmitEditorFeedback_TrainingCreatedOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := f.review(t)
		rating := 2
		report := &models.QualityReport{ReviewID: r.ID, ReviewerID: reviewerID, EditorRating: &rating, Status: models.ReportEditorReviewed}
		report.SetFlags(nil)
		require.NoError(t, f.store.SaveReport(ctx, report))
	}

	first, err := f.svc.SubmitEditorFeedback(ctx, f.review(t).ID, editorID, Feedback{Rating: 1, Notes: "no substance"})
	require.NoError(t, err)
	assert.True(t, first.TrainingCreated)
	assert.Equal(t, 4, first.Stats.LowQualityCount)
	assert.Equal(t, 4, first.Stats.ReportCount)

	second, err := f.svc.SubmitEditorFeedback(ctx, f.review(t).ID, editorID, Feedback{Rating: 2})
	require.NoError(t, err)
	assert.False(t, second.TrainingCreated)

	tasks, err := f.svc.TrainingTasks(ctx, reviewerID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TrainingOpen, tasks[0].Status)
	assert.Equal(t, 1, f.sent.Count(notify.TemplateTraining))

	require.NoError(t, f.svc.CompleteTraining(ctx, tasks[0].ID))
	third, err := f.svc.SubmitEditorFeedback(ctx, f.review(t).ID, editorID, Feedback{Rating: 1})
	require.NoError(t, err)
	assert.True(t, third.TrainingCreated, "a new task opens once the previous one is completed")
}

func TestSubmitEditorFeedback_NoTrainingForGoodReviewer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.svc.SubmitEditorFeedback(ctx, f.review(t).ID, editorID, Feedback{Rating: 5})
		require.NoError(t, err)
	}
	res, err := f.svc.SubmitEditorFeedback(ctx, f.review(t).ID, editorID, Feedback{Rating: 2})
	require.NoError(t, err)
	assert.False(t, res.TrainingCreated)
	assert.InDelta(t, 0.85, res.Stats.AverageQuality, 0.001)
}

func TestSubmitEditorFeedback_Excellence(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)

	res, err := f.svc.SubmitEditorFeedback(ctx, r.ID, editorID, Feedback{Rating: 5})
	require.NoError(t, err)
	assert.False(t, res.BadgeAwarded, "excellence needs the flag")

	res, err = f.svc.SubmitEditorFeedback(ctx, r.ID, editorID, Feedback{Rating: 5, Flags: []string{models.FlagExcellentQuality}})
	require.NoError(t, err)
	assert.True(t, res.BadgeAwarded)
	assert.Equal(t, 1, res.Stats.ExcellenceCount)
	assert.Equal(t, models.ReportEditorReviewed, res.Report.Status)

	res, err = f.svc.SubmitEditorFeedback(ctx, r.ID, editorID, Feedback{Rating: 5, Flags: []string{models.FlagExcellentQuality}})
	require.NoError(t, err)
	assert.False(t, res.BadgeAwarded)
	assert.Equal(t, 1, res.Stats.ExcellenceCount)
}

func TestSubmitEditorFeedback_EditorOverridesAnalysis(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)
	_, err := f.svc.SubmitEditorFeedback(ctx, r.ID, editorID, Feedback{Rating: 4, Flags: []string{models.FlagVague}})
	require.NoError(t, err)

	_, err = f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 0, nil)
	require.NoError(t, err)
	_, err = f.svc.Drain(ctx)
	require.NoError(t, err)

	report, err := f.svc.Report(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportEditorReviewed, report.Status)
	assert.Equal(t, []string{models.FlagVague}, report.FlagList())
	assert.InDelta(t, 0.75, report.OverallScore, 0.001)
	assert.InDelta(t, 0.8, report.Thoroughness, 0.001)
}

func TestSubmitEditorFeedback_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := f.review(t)

	_, err := f.svc.SubmitEditorFeedback(ctx, r.ID, reviewerID, Feedback{Rating: 3})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = f.svc.SubmitEditorFeedback(ctx, r.ID, editorID, Feedback{Rating: 0})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = f.svc.SubmitEditorFeedback(ctx, 4242, editorID, Feedback{Rating: 3})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWorker_ProcessesAndStops(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	r := f.review(t)

	w := NewWorker(f.svc, 2, 5*time.Millisecond, zap.NewNop())
	w.Start(ctx)
	w.Start(ctx)

	jobID, err := f.svc.QueueAnalysis(ctx, r.ID, models.JobQuickCheck, 0, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, err := f.svc.Job(ctx, jobID)
		return err == nil && job.Status == models.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
}
