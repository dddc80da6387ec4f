// Package conflict berechnet die Eignung von Gutachtern gegenüber der
// Autorenmenge eines Manuskripts. Konflikte werden bei jeder Auswertung neu
// aus den Fakten abgeleitet; nur Overrides sind persistent.
package conflict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/models"
	"journal-desk/storage"
)

// EvidenceSource ist die read-only Faktenbasis (Zugehörigkeiten,
// gemeinsame Publikationen, finanzielle Beziehungen).
type EvidenceSource interface {
	Affiliations(ctx context.Context, personIDs []uint) ([]models.Affiliation, error)
	JointPublications(ctx context.Context, reviewerID uint, authorIDs []uint, since time.Time) (map[uint][]models.Publication, error)
	FinancialInterests(ctx context.Context, a, b uint) ([]models.FinancialInterest, error)
}

// Service ist die Conflict-of-Interest-Engine.
type Service struct {
	store    *storage.Store
	evidence EvidenceSource
	roles    identity.RoleProvider
	clock    clock.Clock
	policy   config.ConflictPolicy
	logger   *zap.Logger
}

// NewService erstellt die Engine.
func NewService(store *storage.Store, evidence EvidenceSource, roles identity.RoleProvider, clk clock.Clock, policy config.ConflictPolicy, logger *zap.Logger) *Service {
	return &Service{store: store, evidence: evidence, roles: roles, clock: clk, policy: policy, logger: logger}
}

// Evaluate liefert die Eignung jedes Kandidaten in Eingabereihenfolge.
func (s *Service) Evaluate(ctx context.Context, manuscriptID uint, candidateIDs []uint) ([]models.ReviewerEligibility, error) {
	m, err := s.store.GetManuscript(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.OverridesForManuscript(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	byReviewer := make(map[uint]*models.ConflictOverride, len(overrides))
	for i := range overrides {
		byReviewer[overrides[i].ReviewerID] = &overrides[i]
	}

	out := make([]models.ReviewerEligibility, 0, len(candidateIDs))
	for _, reviewerID := range candidateIDs {
		e, err := s.evaluate(ctx, m, reviewerID, byReviewer[reviewerID])
		if err != nil {
			return nil, fmt.Errorf("evaluate reviewer %d: %w", reviewerID, err)
		}
		out = append(out, *e)
	}
	return out, nil
}

// EvaluateReviewer ist die Einzelabfrage für einen Kandidaten.
func (s *Service) EvaluateReviewer(ctx context.Context, manuscriptID, reviewerID uint) (*models.ReviewerEligibility, error) {
	res, err := s.Evaluate(ctx, manuscriptID, []uint{reviewerID})
	if err != nil {
		return nil, err
	}
	return &res[0], nil
}

func (s *Service) evaluate(ctx context.Context, m *models.Manuscript, reviewerID uint, override *models.ConflictOverride) (*models.ReviewerEligibility, error) {
	f, err := s.gather(ctx, m, reviewerID)
	if err != nil {
		return nil, err
	}

	conflicts := []models.ConflictRecord{}
	for _, d := range detectors {
		conflicts = append(conflicts, d(f, s.policy)...)
	}

	e := &models.ReviewerEligibility{
		ReviewerID: reviewerID,
		Conflicts:  conflicts,
		RiskScore:  s.riskScore(conflicts),
		Override:   override,
	}
	blocking := len(e.BlockingConflicts()) > 0
	e.OverrideApplied = blocking && override != nil
	e.IsEligible = !blocking || override != nil

	s.logger.Debug("Reviewer evaluated",
		zap.Uint("manuscript_id", m.ID),
		zap.Uint("reviewer_id", reviewerID),
		zap.Int("conflicts", len(conflicts)),
		zap.Int("risk_score", e.RiskScore),
		zap.Bool("eligible", e.IsEligible))
	return e, nil
}

// riskScore ist das Maximum der Severity-Gewichte, begrenzt auf 0..100.
func (s *Service) riskScore(conflicts []models.ConflictRecord) int {
	score := 0
	for _, c := range conflicts {
		if w := s.policy.SeverityWeights[c.Severity]; w > score {
			score = w
		}
	}
	return min(score, 100)
}

func (s *Service) gather(ctx context.Context, m *models.Manuscript, reviewerID uint) (*facts, error) {
	authorIDs := m.AuthorIDs()
	now := s.clock.Now()
	f := &facts{
		now:          now,
		reviewerID:   reviewerID,
		authorIDs:    authorIDs,
		affiliations: map[uint][]models.Affiliation{},
		financial:    map[uint][]models.FinancialInterest{},
	}

	affs, err := s.evidence.Affiliations(ctx, append([]uint{reviewerID}, authorIDs...))
	if err != nil {
		return nil, fmt.Errorf("affiliations: %w", err)
	}
	for _, a := range affs {
		f.affiliations[a.PersonID] = append(f.affiliations[a.PersonID], a)
	}

	window := max(s.policy.CoauthorshipRecencyYears, s.policy.CoauthorshipFrequencyYears)
	f.joint, err = s.evidence.JointPublications(ctx, reviewerID, authorIDs, yearsBefore(now, window))
	if err != nil {
		return nil, fmt.Errorf("joint publications: %w", err)
	}

	for _, authorID := range authorIDs {
		if authorID == reviewerID {
			continue
		}
		fi, err := s.evidence.FinancialInterests(ctx, reviewerID, authorID)
		if err != nil {
			return nil, fmt.Errorf("financial interests: %w", err)
		}
		f.financial[authorID] = fi
	}
	return f, nil
}

// CreateOverride hinterlegt eine einmalige, begründete Freigabe eines Gutachters.
func (s *Service) CreateOverride(ctx context.Context, manuscriptID, reviewerID uint, reason string, actorID uint) (*models.ConflictOverride, error) {
	role, err := s.roles.RoleOf(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: overrides require the admin role", errs.ErrUnauthorized)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: override requires a justification", errs.ErrInvalidInput)
	}
	if _, err := s.store.GetManuscript(ctx, manuscriptID); err != nil {
		return nil, err
	}

	o := &models.ConflictOverride{
		ManuscriptID: manuscriptID,
		ReviewerID:   reviewerID,
		Reason:       reason,
		OverriddenBy: actorID,
		Timestamp:    s.clock.Now(),
	}
	if err := s.store.CreateOverride(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("Conflict override recorded",
		zap.Uint("manuscript_id", manuscriptID),
		zap.Uint("reviewer_id", reviewerID),
		zap.Uint("admin_id", actorID))
	return o, nil
}

// Overrides liefert alle Overrides eines Manuskripts.
func (s *Service) Overrides(ctx context.Context, manuscriptID uint) ([]models.ConflictOverride, error) {
	return s.store.OverridesForManuscript(ctx, manuscriptID)
}
