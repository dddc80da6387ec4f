package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/services/lifecycle"
	"journal-desk/storage"
	"journal-desk/testutil"
)

var t0 = time.Date(2026, 5, 11, 9, 30, 0, 0, time.UTC)

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *fakeArchive) Archive(_ context.Context, key string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "https://letters.example.org/" + key, nil
}

type fixture struct {
	db         *gorm.DB
	store      *storage.Store
	clock      *clock.Fake
	notifier   *notify.Memory
	archive    *fakeArchive
	lc         *lifecycle.Service
	svc        *Service
	author     *models.Person
	editor     *models.Person
	other      *models.Person
	production *models.Person
	reviewer   *models.Person
	m          *models.Manuscript
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	store := storage.New(db)
	policy, err := config.DefaultPolicy()
	require.NoError(t, err)

	f := &fixture{db: db, store: store, clock: clock.NewFake(t0), notifier: &notify.Memory{}, archive: &fakeArchive{}}
	f.author = testutil.SeedPerson(t, db, "author", models.RoleAuthor)
	f.editor = testutil.SeedPerson(t, db, "editor", models.RoleEditor)
	f.other = testutil.SeedPerson(t, db, "other-editor", models.RoleEditor)
	f.production = testutil.SeedPerson(t, db, "production", models.RoleEditor)
	f.reviewer = testutil.SeedPerson(t, db, "reviewer", models.RoleReviewer)
	roles := identity.Static{
		f.author.ID:     models.RoleAuthor,
		f.editor.ID:     models.RoleEditor,
		f.other.ID:      models.RoleEditor,
		f.production.ID: models.RoleEditor,
		f.reviewer.ID:   models.RoleReviewer,
	}

	f.m = testutil.SeedManuscript(t, db, models.StatusUnderReview, f.author.ID)
	require.NoError(t, db.Model(f.m).Update("editor_id", f.editor.ID).Error)
	require.NoError(t, db.Create(&models.ReviewAssignment{
		ManuscriptID: f.m.ID,
		ReviewerID:   f.reviewer.ID,
		InvitationID: 1,
		Status:       models.AssignmentCompleted,
		DueDate:      t0,
	}).Error)

	logger := zap.NewNop()
	f.lc = lifecycle.NewService(store, roles, f.clock, policy.Lifecycle, logger)
	f.svc = NewService(store, f.lc, f.notifier, f.archive, f.clock, policy, logger)
	return f
}

func (f *fixture) decide(t *testing.T, d models.DecisionType) *Outcome {
	t.Helper()
	out, err := f.svc.RecordDecision(context.Background(), Request{
		ManuscriptID: f.m.ID,
		EditorID:     f.editor.ID,
		Decision:     d,
		Letter:       "Dear author, " + string(d),
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) reload(t *testing.T) *models.Manuscript {
	t.Helper()
	m, err := f.store.GetManuscript(context.Background(), f.m.ID)
	require.NoError(t, err)
	return m
}

func TestRecordDecision_AcceptedRunsEveryAction(t *testing.T) {
	f := newFixture(t)
	f.notifier.Fail = func(_ uint, template string) bool { return template == notify.TemplateDecisionReviewer }

	out := f.decide(t, models.DecisionAccepted)
	assert.False(t, out.Replayed)
	assert.Equal(t, 1, out.Decision.Round)
	require.NotNil(t, out.Transition)
	assert.Equal(t, models.StatusAccepted, out.Transition.To)

	require.Len(t, out.Actions, 3)
	assert.True(t, out.Actions[0].Success)
	assert.False(t, out.Actions[1].Success)
	assert.Contains(t, out.Actions[1].Error, errs.ErrNotificationDeliveryFailed.Error())
	assert.True(t, out.Actions[2].Success, "a failed notification must not stop later actions")
	assert.Equal(t, 1, out.Failed())

	m := f.reload(t)
	assert.Equal(t, models.StatusAccepted, m.Status)
	assert.Equal(t, fmt.Sprintf("10.55555/jdsk.2026.%d", m.ID), m.DOI)
	assert.Equal(t, 1, f.notifier.Count(notify.TemplateDecisionAuthor))

	d, err := f.store.GetDecision(context.Background(), out.Decision.ID)
	require.NoError(t, err)
	require.NotNil(t, d.SentAt)
	assert.Equal(t, "https://letters.example.org/"+storage.LetterKey(m.ID, 1), d.LetterURL)

	logs, err := f.svc.ActionLog(context.Background(), out.Decision.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestRecordDecision_ReplaySkipsSucceededActions(t *testing.T) {
	f := newFixture(t)
	f.notifier.Fail = func(_ uint, template string) bool { return template == notify.TemplateDecisionReviewer }
	first := f.decide(t, models.DecisionAccepted)

	f.notifier.Fail = nil
	f.clock.Advance(30 * time.Second)
	second := f.decide(t, models.DecisionAccepted)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Decision.ID, second.Decision.ID)
	require.Len(t, second.Actions, 3)
	assert.True(t, second.Actions[0].Skipped)
	assert.False(t, second.Actions[1].Skipped)
	assert.True(t, second.Actions[1].Success)
	assert.True(t, second.Actions[2].Skipped)
	assert.Zero(t, second.Failed())

	assert.Equal(t, 1, f.notifier.Count(notify.TemplateDecisionAuthor))
	assert.Equal(t, 1, f.notifier.Count(notify.TemplateDecisionReviewer))
	assert.Len(t, f.archive.keys, 1)

	decisions, err := f.svc.Decisions(context.Background(), f.m.ID)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestRecordDecision_ReplayRequiresHandlingEditor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.Fail = func(_ uint, template string) bool { return template == notify.TemplateDecisionReviewer }
	first := f.decide(t, models.DecisionAccepted)
	require.Equal(t, 1, first.Failed())

	f.notifier.Fail = nil
	f.clock.Advance(30 * time.Second)
	for _, actor := range []uint{f.author.ID, f.reviewer.ID, f.other.ID} {
		out, err := f.svc.RecordDecision(ctx, Request{ManuscriptID: f.m.ID, EditorID: actor, Decision: models.DecisionAccepted})
		assert.ErrorIs(t, err, errs.ErrUnauthorized, "actor %d", actor)
		assert.Nil(t, out)
	}

	assert.Zero(t, f.notifier.Count(notify.TemplateDecisionReviewer), "pending actions must not run for a foreign actor")
	logs, err := f.svc.ActionLog(ctx, first.Decision.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestRecordDecision_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordDecision(ctx, Request{ManuscriptID: f.m.ID, EditorID: f.editor.ID, Decision: "maybe"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = f.svc.RecordDecision(ctx, Request{ManuscriptID: f.m.ID, EditorID: f.other.ID, Decision: models.DecisionRejected})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.RecordDecision(ctx, Request{ManuscriptID: f.m.ID, EditorID: f.author.ID, Decision: models.DecisionRejected})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	draft := testutil.SeedManuscript(t, f.db, models.StatusWithEditor, f.author.ID)
	_, err = f.svc.RecordDecision(ctx, Request{ManuscriptID: draft.ID, EditorID: f.editor.ID, Decision: models.DecisionAccepted})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	decisions, err := f.svc.Decisions(ctx, f.m.ID)
	require.NoError(t, err)
	assert.Empty(t, decisions)
	assert.Empty(t, f.notifier.Messages())
}

func TestRecordDecision_RoundsAndFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.decide(t, models.DecisionRevisionsRequested)
	assert.Equal(t, 1, out.Decision.Round)
	assert.Zero(t, out.Failed())
	assert.Equal(t, 1, f.notifier.Count(notify.TemplateFollowUp))
	msgs := f.notifier.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, f.author.ID, last.RecipientID)
	assert.Equal(t, t0.AddDate(0, 0, 30).Format(time.RFC3339), last.Vars["revision_due"])

	_, err := f.lc.Transition(ctx, lifecycle.Request{ManuscriptID: f.m.ID, Target: models.StatusUnderReview, ActorID: f.author.ID})
	require.NoError(t, err)

	out = f.decide(t, models.DecisionRejected)
	assert.Equal(t, 2, out.Decision.Round)
	assert.Equal(t, models.StatusRejected, f.reload(t).Status)
	assert.Equal(t, []string{storage.LetterKey(f.m.ID, 1), storage.LetterKey(f.m.ID, 2)}, f.archive.keys)
}

func TestRecordDecision_ConcurrentEditorsOneRound(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordDecision(context.Background(), Request{
				ManuscriptID: f.m.ID, EditorID: f.editor.ID, Decision: models.DecisionAccepted,
			})
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		if err != nil {
			assert.True(t, errors.Is(err, errs.ErrConcurrentModification), "unexpected error: %v", err)
		}
	}

	decisions, err := f.svc.Decisions(context.Background(), f.m.ID)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestRecordDecision_ArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.archive.err = errors.New("bucket unavailable")

	out := f.decide(t, models.DecisionRejected)
	assert.Empty(t, out.Decision.LetterURL)
	assert.Equal(t, models.StatusRejected, f.reload(t).Status)
}

func TestProductionAndScheduledPublication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.decide(t, models.DecisionAccepted)

	publishAt := t0.Add(72 * time.Hour)
	data := ActionData{
		DecisionID:         out.Decision.ID,
		ManuscriptID:       f.m.ID,
		ProductionEditorID: f.production.ID,
		PublishAt:          &publishAt,
	}
	require.True(t, f.svc.ExecuteAction(ctx, models.ActionSendToProduction, data))
	m := f.reload(t)
	assert.Equal(t, models.StatusInProduction, m.Status)
	require.NotNil(t, m.ProductionEditorID)
	assert.Equal(t, f.production.ID, *m.ProductionEditorID)
	assert.Equal(t, 1, f.notifier.Count(notify.TemplateProduction))

	require.True(t, f.svc.ExecuteAction(ctx, models.ActionSchedulePublication, data))
	require.True(t, f.svc.ExecuteAction(ctx, models.ActionSchedulePublication, data))

	n, err := f.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(publishAt.Add(time.Minute))
	n, err = f.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusPublished, f.reload(t).Status)

	n, err = f.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSchedulePublication_ImmediateWhenDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.decide(t, models.DecisionAccepted)

	data := ActionData{DecisionID: out.Decision.ID, ManuscriptID: f.m.ID}
	require.True(t, f.svc.ExecuteAction(ctx, models.ActionAssignProductionEditor, data))
	m := f.reload(t)
	require.NotNil(t, m.ProductionEditorID)
	assert.Equal(t, f.editor.ID, *m.ProductionEditorID, "handling editor is the fallback")

	require.True(t, f.svc.ExecuteAction(ctx, models.ActionSchedulePublication, data))
	assert.Equal(t, models.StatusPublished, f.reload(t).Status)
}

func TestExecuteAction_UnknownAndPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.decide(t, models.DecisionRejected)
	data := ActionData{DecisionID: out.Decision.ID, ManuscriptID: f.m.ID}

	assert.False(t, f.svc.ExecuteAction(ctx, models.ActionType("tweet_about_it"), data))
	assert.False(t, f.svc.ExecuteAction(ctx, models.ActionGenerateDOI, data))
	assert.False(t, f.svc.ExecuteAction(ctx, models.ActionFollowUpReminder, data))
	assert.Empty(t, f.reload(t).DOI)

	logs, err := f.svc.ActionLog(ctx, out.Decision.ID)
	require.NoError(t, err)
	var failed int
	for _, l := range logs {
		if !l.Success {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}
