package conflict

import (
	"context"
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
	"journal-desk/providers"
	"journal-desk/storage"
	"journal-desk/testutil"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	store    *storage.Store
	svc      *Service
	author   *models.Person
	reviewer *models.Person
	admin    *models.Person
	m        *models.Manuscript
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	store := storage.New(db)
	policy, err := config.DefaultPolicy()
	require.NoError(t, err)

	f := &fixture{db: db, store: store}
	f.author = testutil.SeedPerson(t, db, "author", models.RoleAuthor)
	f.reviewer = testutil.SeedPerson(t, db, "reviewer", models.RoleReviewer)
	f.admin = testutil.SeedPerson(t, db, "admin", models.RoleAdmin)
	f.m = testutil.SeedManuscript(t, db, models.StatusWithEditor, f.author.ID)

	roles := identity.Static{f.admin.ID: models.RoleAdmin, f.reviewer.ID: models.RoleReviewer}
	evidence := providers.NewEvidence(store, zap.NewNop())
	f.svc = NewService(store, evidence, roles, clock.NewFake(now), policy.Conflicts, zap.NewNop())
	return f
}

func (f *fixture) affiliate(t *testing.T, personID uint, institution string, started time.Time, ended *time.Time) {
	t.Helper()
	require.NoError(t, f.store.AddAffiliation(context.Background(), &models.Affiliation{
		PersonID: personID, Institution: institution, StartedAt: started, EndedAt: ended,
	}))
}

func (f *fixture) coauthor(t *testing.T, published time.Time, doi string) {
	t.Helper()
	require.NoError(t, f.store.AddPublication(context.Background(), &models.Publication{
		DOI: doi, Title: doi, PublishedAt: published,
		Authors: []models.PublicationAuthor{{PersonID: f.reviewer.ID}, {PersonID: f.author.ID}},
	}))
}

func (f *fixture) evaluate(t *testing.T) models.ReviewerEligibility {
	t.Helper()
	e, err := f.svc.EvaluateReviewer(context.Background(), f.m.ID, f.reviewer.ID)
	require.NoError(t, err)
	return *e
}

func types(e models.ReviewerEligibility) []models.ConflictType {
	var out []models.ConflictType
	for _, c := range e.Conflicts {
		out = append(out, c.ConflictType)
	}
	return out
}

func TestEvaluate_NoConflicts(t *testing.T) {
	f := newFixture(t)
	e := f.evaluate(t)
	assert.True(t, e.IsEligible)
	assert.Empty(t, e.Conflicts)
	assert.Zero(t, e.RiskScore)
}

func TestEvaluate_CurrentInstitutionBlocks(t *testing.T) {
	f := newFixture(t)
	f.affiliate(t, f.reviewer.ID, "Universität Zürich", now.AddDate(-4, 0, 0), nil)
	f.affiliate(t, f.author.ID, "Universitat Zurich", now.AddDate(-1, 0, 0), nil)

	e := f.evaluate(t)
	assert.False(t, e.IsEligible)
	assert.Equal(t, []models.ConflictType{models.ConflictInstitutionalCurrent}, types(e))
	assert.True(t, e.Conflicts[0].IsBlocking())
	assert.Equal(t, 100, e.RiskScore)
}

func TestEvaluate_RecentInstitutionIsMedium(t *testing.T) {
	f := newFixture(t)
	ended := now.AddDate(-1, 0, 0)
	f.affiliate(t, f.reviewer.ID, "ETH", now.AddDate(-6, 0, 0), &ended)
	f.affiliate(t, f.author.ID, "ETH", now.AddDate(-5, 0, 0), nil)

	e := f.evaluate(t)
	assert.True(t, e.IsEligible)
	assert.Equal(t, []models.ConflictType{models.ConflictInstitutionalRecent}, types(e))
	assert.Equal(t, 35, e.RiskScore)
}

func TestEvaluate_OldInstitutionIgnored(t *testing.T) {
	f := newFixture(t)
	ended := now.AddDate(-10, 0, 0)
	f.affiliate(t, f.reviewer.ID, "ETH", now.AddDate(-15, 0, 0), &ended)
	f.affiliate(t, f.author.ID, "ETH", now.AddDate(-12, 0, 0), nil)

	assert.Empty(t, f.evaluate(t).Conflicts)
}

func TestEvaluate_Coauthorship(t *testing.T) {
	t.Run("recent", func(t *testing.T) {
		f := newFixture(t)
		f.coauthor(t, now.AddDate(-2, 0, 0), "10.1/a")
		e := f.evaluate(t)
		assert.True(t, e.IsEligible)
		assert.Equal(t, []models.ConflictType{models.ConflictCoauthorshipRecent}, types(e))
		assert.Equal(t, 70, e.RiskScore)
	})

	t.Run("frequent", func(t *testing.T) {
		f := newFixture(t)
		f.coauthor(t, now.AddDate(-1, 0, 0), "10.1/a")
		f.coauthor(t, now.AddDate(-3, -6, 0), "10.1/b")
		f.coauthor(t, now.AddDate(-4, 0, 0), "10.1/c")
		e := f.evaluate(t)
		assert.False(t, e.IsEligible)
		assert.Equal(t, []models.ConflictType{models.ConflictCoauthorshipFrequent}, types(e))
	})
}

func TestEvaluate_Financial(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddFinancialInterest(context.Background(), &models.FinancialInterest{
		PersonID: f.author.ID, CounterpartID: f.reviewer.ID, Kind: models.FinancialCollaboration, Description: "joint grant",
		DeclaredAt: now.AddDate(0, -2, 0),
	}))
	e := f.evaluate(t)
	assert.True(t, e.IsEligible)
	assert.Equal(t, []models.ConflictType{models.ConflictFinancialCollaboration}, types(e))

	require.NoError(t, f.store.AddFinancialInterest(context.Background(), &models.FinancialInterest{
		PersonID: f.reviewer.ID, CounterpartID: f.author.ID, Kind: models.FinancialCompeting, DeclaredAt: now,
	}))
	e = f.evaluate(t)
	assert.False(t, e.IsEligible)
	assert.Equal(t, []models.ConflictType{models.ConflictFinancialCompeting}, types(e))
}

func TestEvaluate_SelfReview(t *testing.T) {
	f := newFixture(t)
	e, err := f.svc.EvaluateReviewer(context.Background(), f.m.ID, f.author.ID)
	require.NoError(t, err)
	assert.False(t, e.IsEligible)
	assert.Equal(t, []models.ConflictType{models.ConflictOther}, types(*e))
}

func TestEvaluate_RiskScoreIsMaximum(t *testing.T) {
	f := newFixture(t)
	f.coauthor(t, now.AddDate(-2, 0, 0), "10.1/a")
	ended := now.AddDate(-1, 0, 0)
	f.affiliate(t, f.reviewer.ID, "ETH", now.AddDate(-6, 0, 0), &ended)
	f.affiliate(t, f.author.ID, "ETH", now.AddDate(-5, 0, 0), nil)

	e := f.evaluate(t)
	assert.Len(t, e.Conflicts, 2)
	assert.Equal(t, 70, e.RiskScore)
}

func TestOverride_FlipsEligibilityKeepsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.affiliate(t, f.reviewer.ID, "ETH", now.AddDate(-4, 0, 0), nil)
	f.affiliate(t, f.author.ID, "ETH", now.AddDate(-1, 0, 0), nil)
	require.False(t, f.evaluate(t).IsEligible)

	_, err := f.svc.CreateOverride(ctx, f.m.ID, f.reviewer.ID, "only expert in the field", f.admin.ID)
	require.NoError(t, err)

	e := f.evaluate(t)
	assert.True(t, e.IsEligible)
	assert.True(t, e.OverrideApplied)
	require.NotNil(t, e.Override)
	assert.Equal(t, "only expert in the field", e.Override.Reason)
	assert.Len(t, e.BlockingConflicts(), 1, "override must not remove the conflict")

	// Faktenänderung: die blockierende Zugehörigkeit endet vor langer Zeit.
	require.NoError(t, f.db.Model(&models.Affiliation{}).Where("person_id = ?", f.reviewer.ID).
		Updates(map[string]any{"ended_at": now.AddDate(-9, 0, 0), "started_at": now.AddDate(-12, 0, 0)}).Error)
	e = f.evaluate(t)
	assert.True(t, e.IsEligible)
	assert.False(t, e.OverrideApplied)
	assert.NotNil(t, e.Override, "the override record survives re-evaluation")
}

func TestCreateOverride_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOverride(ctx, f.m.ID, f.reviewer.ID, "reason", f.reviewer.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.CreateOverride(ctx, f.m.ID, f.reviewer.ID, "   ", f.admin.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = f.svc.CreateOverride(ctx, f.m.ID, f.reviewer.ID, "reason", f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateOverride(ctx, f.m.ID, f.reviewer.ID, "another", f.admin.ID)
	assert.ErrorIs(t, err, errs.ErrOverrideExists)

	overrides, err := f.svc.Overrides(ctx, f.m.ID)
	require.NoError(t, err)
	assert.Len(t, overrides, 1)
}

func TestEvaluate_BatchOrder(t *testing.T) {
	f := newFixture(t)
	other := testutil.SeedPerson(t, f.db, "other", models.RoleReviewer)
	res, err := f.svc.Evaluate(context.Background(), f.m.ID, []uint{other.ID, f.author.ID, f.reviewer.ID})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, other.ID, res[0].ReviewerID)
	assert.False(t, res[1].IsEligible)
	assert.True(t, res[2].IsEligible)
}
