package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/testutil"
)

func TestCompareAndSwapStatus_StaleVersion(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()
	m := testutil.SeedManuscript(t, db, models.StatusSubmitted)

	require.NoError(t, store.CompareAndSwapStatus(ctx, m.ID, 1, models.StatusSubmitted, models.StatusWithEditor, nil))

	err := store.CompareAndSwapStatus(ctx, m.ID, 1, models.StatusSubmitted, models.StatusWithEditor, nil)
	assert.ErrorIs(t, err, errs.ErrConcurrentModification)

	got, err := store.GetManuscript(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWithEditor, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateManuscriptFields_RefusesStatus(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	m := testutil.SeedManuscript(t, db, models.StatusAccepted)

	err := store.UpdateManuscriptFields(context.Background(), m.ID, 1, map[string]any{"status": models.StatusPublished})
	assert.Error(t, err)
}

func TestGetManuscript_NotFound(t *testing.T) {
	store := New(testutil.NewDB(t))
	_, err := store.GetManuscript(context.Background(), 999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClaimReminder_OncePerOffset(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()
	inv := &models.ReviewerInvitation{ManuscriptID: 1, ReviewerID: 2, Status: models.InvitationPending}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	first, err := store.ClaimReminder(ctx, inv.ID, 3)
	require.NoError(t, err)
	second, err := store.ClaimReminder(ctx, inv.ID, 3)
	require.NoError(t, err)
	other, err := store.ClaimReminder(ctx, inv.ID, 7)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, other)

	require.NoError(t, store.CompleteReminder(ctx, inv.ID, 3, true))
	got, err := store.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)
	assert.Equal(t, 1, got.Version, "reminders must not bump the version")
}

func TestInvitationsDueForDispatch_SkipsPastDeadline(t *testing.T) {
	store := New(testutil.NewDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	live := &models.ReviewerInvitation{ManuscriptID: 1, ReviewerID: 2, Status: models.InvitationPending,
		ScheduledFor: now.Add(-time.Hour), ResponseDeadline: now.Add(24 * time.Hour)}
	dead := &models.ReviewerInvitation{ManuscriptID: 1, ReviewerID: 3, Status: models.InvitationPending,
		ScheduledFor: now.Add(-time.Hour), ResponseDeadline: now.Add(-12 * time.Hour)}
	require.NoError(t, store.CreateInvitation(ctx, live))
	require.NoError(t, store.CreateInvitation(ctx, dead))

	due, err := store.InvitationsDueForDispatch(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, live.ID, due[0].ID)
}

func TestAddFinancialInterest_KeepsDeclarationTime(t *testing.T) {
	store := New(testutil.NewDB(t))
	ctx := context.Background()
	declared := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	err := store.AddFinancialInterest(ctx, &models.FinancialInterest{PersonID: 1, CounterpartID: 2, Kind: models.FinancialCompeting})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	require.NoError(t, store.AddFinancialInterest(ctx, &models.FinancialInterest{
		PersonID: 1, CounterpartID: 2, Kind: models.FinancialCompeting, DeclaredAt: declared,
	}))
	got, err := store.FinancialInterests(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, declared.Equal(got[0].DeclaredAt))
}

func TestClaimNextJob_PriorityThenFIFO(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, prio := range []int{3, 9, 9, 5} {
		require.NoError(t, store.EnqueueJob(ctx, &models.QualityAnalysisJob{
			JobID:         string(rune('a' + i)),
			ReviewID:      uint(i + 1),
			JobType:       models.JobQuickCheck,
			Priority:      prio,
			MaxAttempts:   3,
			NextAttemptAt: now,
		}))
	}

	var order []uint
	for {
		j, err := store.ClaimNextJob(ctx, now)
		require.NoError(t, err)
		if j == nil {
			break
		}
		assert.Equal(t, models.JobRunning, j.Status)
		assert.Equal(t, 1, j.Attempts)
		order = append(order, j.ReviewID)
	}
	assert.Equal(t, []uint{2, 3, 4, 1}, order)
}

func TestClaimNextJob_RespectsBackoff(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.EnqueueJob(ctx, &models.QualityAnalysisJob{
		JobID: "later", ReviewID: 1, JobType: models.JobQuickCheck, Priority: 5, NextAttemptAt: now.Add(time.Minute),
	}))

	j, err := store.ClaimNextJob(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = store.ClaimNextJob(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, j)
}

func TestCancelAndRequeueJob(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.EnqueueJob(ctx, &models.QualityAnalysisJob{JobID: "j1", ReviewID: 1, JobType: models.JobQuickCheck, Priority: 5}))

	require.NoError(t, store.CancelJob(ctx, "j1", now))
	assert.ErrorIs(t, store.CancelJob(ctx, "j1", now), errs.ErrPreconditionNotMet)
	assert.ErrorIs(t, store.RequeueJob(ctx, "j1", now), errs.ErrPreconditionNotMet)

	require.NoError(t, store.EnqueueJob(ctx, &models.QualityAnalysisJob{JobID: "j2", ReviewID: 2, JobType: models.JobQuickCheck, Status: models.JobFailed, Attempts: 3}))
	require.NoError(t, store.RequeueJob(ctx, "j2", now))
	j, err := store.GetJob(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, j.Status)
	assert.Zero(t, j.Attempts)
}

func TestOpenTraining_AtMostOneOpen(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()

	created, err := store.OpenTraining(ctx, &models.TrainingTask{ReviewerID: 7, ReviewID: 1})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.OpenTraining(ctx, &models.TrainingTask{ReviewerID: 7, ReviewID: 2})
	require.NoError(t, err)
	assert.False(t, created)

	tasks, err := store.TrainingTasks(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, store.CompleteTraining(ctx, tasks[0].ID, time.Now()))
	created, err = store.OpenTraining(ctx, &models.TrainingTask{ReviewerID: 7, ReviewID: 3})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAwardBadge_OncePerReview(t *testing.T) {
	store := New(testutil.NewDB(t))
	ctx := context.Background()

	ok, err := store.AwardBadge(ctx, &models.ReviewerBadge{ReviewerID: 1, ReviewID: 10, Kind: models.BadgeQualityExcellence})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.AwardBadge(ctx, &models.ReviewerBadge{ReviewerID: 1, ReviewID: 10, Kind: models.BadgeQualityExcellence})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReviewerStats_Upsert(t *testing.T) {
	store := New(testutil.NewDB(t))
	ctx := context.Background()

	st, err := store.GetReviewerStats(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, st.ReportCount)

	require.NoError(t, store.SaveReviewerStats(ctx, &models.ReviewerStats{ReviewerID: 4, ReportCount: 1, AverageQuality: 0.5}))
	require.NoError(t, store.SaveReviewerStats(ctx, &models.ReviewerStats{ReviewerID: 4, ReportCount: 2, AverageQuality: 0.7}))

	st, err = store.GetReviewerStats(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ReportCount)
	assert.InDelta(t, 0.7, st.AverageQuality, 1e-9)
}

func TestCreateOverride_WriteOnce(t *testing.T) {
	store := New(testutil.NewDB(t))
	ctx := context.Background()

	o := &models.ConflictOverride{ManuscriptID: 1, ReviewerID: 2, Reason: "sole expert", OverriddenBy: 9, Timestamp: time.Now()}
	require.NoError(t, store.CreateOverride(ctx, o))

	err := store.CreateOverride(ctx, &models.ConflictOverride{ManuscriptID: 1, ReviewerID: 2, Reason: "again", OverriddenBy: 9})
	assert.ErrorIs(t, err, errs.ErrOverrideExists)

	found, err := store.FindOverride(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "sole expert", found.Reason)
}

func TestSharedPublications(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()

	shared := &models.Publication{Title: "shared", PublishedAt: time.Now(), Authors: []models.PublicationAuthor{{PersonID: 1}, {PersonID: 2}}}
	solo := &models.Publication{Title: "solo", PublishedAt: time.Now(), Authors: []models.PublicationAuthor{{PersonID: 1}}}
	require.NoError(t, store.AddPublication(ctx, shared))
	require.NoError(t, store.AddPublication(ctx, solo))

	pubs, err := store.SharedPublications(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "shared", pubs[0].Title)
}

func TestInTx_RollsBack(t *testing.T) {
	db := testutil.NewDB(t)
	store := New(db)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx *Store) error {
		require.NoError(t, tx.CreateDecision(ctx, &models.EditorialDecision{ManuscriptID: 1, Round: 1, Decision: models.DecisionRejected}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.CountDecisions(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakePutter struct {
	key  string
	body string
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = *in.Key
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestLetterArchive_Archive(t *testing.T) {
	p := &fakePutter{}
	a := NewLetterArchive(p, "letters", "https://s3.example.org/")

	url, err := a.Archive(context.Background(), LetterKey(4, 2), []byte("Dear author"))
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.org/letters/decisions/manuscript-4/round-2.txt", url)
	assert.Equal(t, "Dear author", p.body)

	p.err = errors.New("unavailable")
	_, err = a.Archive(context.Background(), "k", nil)
	assert.Error(t, err)
}
