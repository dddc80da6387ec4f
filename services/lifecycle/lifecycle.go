// Package lifecycle ist die einzige Stelle, die den Status eines Manuskripts
// schreibt. Jeder Übergang wird gegen die Kantentabelle, die Rolle des
// Akteurs und kantenspezifische Vorbedingungen geprüft und per
// Compare-and-Swap auf die Version gesichert.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/storage"
)

// Request beschreibt einen gewünschten Übergang. Extra setzt weitere
// Manuskript-Spalten im selben Schreibvorgang (z.B. editor_id).
type Request struct {
	ManuscriptID uint
	Target       models.ManuscriptStatus
	ActorID      uint
	Note         string
	Extra        map[string]any
}

// Result ist das Ergebnis eines Übergangs. Replayed kennzeichnet eine
// wiederholte Anfrage, die keine Änderung bewirkt hat.
type Result struct {
	ManuscriptID uint                    `json:"manuscript_id"`
	From         models.ManuscriptStatus `json:"from"`
	To           models.ManuscriptStatus `json:"to"`
	Replayed     bool                    `json:"replayed"`
}

// Service implementiert die Zustandsmaschine.
type Service struct {
	store  *storage.Store
	roles  identity.RoleProvider
	clock  clock.Clock
	policy config.LifecyclePolicy
	logger *zap.Logger
}

// NewService erstellt die Zustandsmaschine.
func NewService(store *storage.Store, roles identity.RoleProvider, clk clock.Clock, policy config.LifecyclePolicy, logger *zap.Logger) *Service {
	return &Service{store: store, roles: roles, clock: clk, policy: policy, logger: logger}
}

// RoleOf löst die Rolle eines Akteurs auf. Der System-Akteur braucht keinen Lookup.
func (s *Service) RoleOf(ctx context.Context, actorID uint) (models.Role, error) {
	if actorID == models.SystemActorID {
		return models.RoleSystem, nil
	}
	role, err := s.roles.RoleOf(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	return role, nil
}

// Transition führt einen Übergang in einer eigenen Transaktion aus.
func (s *Service) Transition(ctx context.Context, req Request) (*Result, error) {
	role, err := s.RoleOf(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	var res *Result
	err = s.store.InTx(ctx, func(tx *storage.Store) error {
		var err error
		res, err = s.Apply(ctx, tx, req, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TransitionWithRetry wiederholt den Übergang nach ErrConcurrentModification
// mit frisch gelesenem Stand, höchstens policy.MaxRetries Mal.
func (s *Service) TransitionWithRetry(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	op := func() error {
		var err error
		res, err = s.Transition(ctx, req)
		if err != nil && !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.policy.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return res, nil
}

// Apply prüft und schreibt einen Übergang auf tx. Aufrufer, die bereits eine
// Transaktion halten, übergeben die vorab aufgelöste Rolle.
func (s *Service) Apply(ctx context.Context, tx *storage.Store, req Request, role models.Role) (*Result, error) {
	log := s.logger.With(
		zap.Uint("manuscript_id", req.ManuscriptID),
		zap.String("target", string(req.Target)),
		zap.Uint("actor_id", req.ActorID),
		zap.String("role", string(role)))

	m, err := tx.GetManuscript(ctx, req.ManuscriptID)
	if err != nil {
		return nil, err
	}

	if m.Status == req.Target {
		last, err := s.replayOf(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		if last != nil {
			// Eine Wiederholung gilt nur für Akteure, die die ursprüngliche Kante auslösen dürfen.
			if err := authorize(edges[edge{last.FromStatus, m.Status}], m, req, role, last.FromStatus); err != nil {
				log.Info("Transition replay rejected", zap.String("from", string(last.FromStatus)), zap.Error(err))
				metrics.Transitions.WithLabelValues(string(req.Target), "rejected").Inc()
				return nil, err
			}
			log.Debug("Transition replayed")
			metrics.Transitions.WithLabelValues(string(req.Target), "replayed").Inc()
			return &Result{ManuscriptID: m.ID, From: m.Status, To: m.Status, Replayed: true}, nil
		}
	}

	if err := s.check(ctx, tx, m, req, role); err != nil {
		log.Info("Transition rejected", zap.String("from", string(m.Status)), zap.Error(err))
		metrics.Transitions.WithLabelValues(string(req.Target), "rejected").Inc()
		return nil, err
	}

	if err := tx.CompareAndSwapStatus(ctx, m.ID, m.Version, m.Status, req.Target, req.Extra); err != nil {
		metrics.Transitions.WithLabelValues(string(req.Target), "conflict").Inc()
		return nil, err
	}
	entry := &models.TimelineEntry{
		CreatedAt:    s.clock.Now(),
		ManuscriptID: m.ID,
		FromStatus:   m.Status,
		ToStatus:     req.Target,
		ActorID:      req.ActorID,
		ActorRole:    role,
		Note:         req.Note,
	}
	if err := tx.AppendTimeline(ctx, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	log.Info("Manuscript transitioned", zap.String("from", string(m.Status)))
	metrics.Transitions.WithLabelValues(string(req.Target), "ok").Inc()
	return &Result{ManuscriptID: m.ID, From: m.Status, To: req.Target}, nil
}

// replayOf liefert den Timeline-Eintrag, der in den aktuellen Status geführt hat,
// sofern er noch im Idempotenzfenster liegt.
func (s *Service) replayOf(ctx context.Context, tx *storage.Store, m *models.Manuscript) (*models.TimelineEntry, error) {
	last, err := tx.LastTimelineEntryTo(ctx, m.ID, m.Status)
	if err != nil || last == nil {
		return nil, err
	}
	if s.clock.Now().Sub(last.CreatedAt) > s.policy.IdempotencyWindow {
		return nil, nil
	}
	return last, nil
}

// check prüft Kante, Rolle und Vorbedingungen ohne zu schreiben.
func (s *Service) check(ctx context.Context, tx *storage.Store, m *models.Manuscript, req Request, role models.Role) error {
	r, ok := edges[edge{m.Status, req.Target}]
	if !ok {
		return errs.NewTransitionError(errs.ErrInvalidTransition, m.Status, req.Target, "edge not allowed")
	}
	if err := authorize(r, m, req, role, m.Status); err != nil {
		return err
	}
	if reason, err := s.precondition(ctx, tx, m, req); err != nil {
		return err
	} else if reason != "" {
		return errs.NewTransitionError(errs.ErrPreconditionNotMet, m.Status, req.Target, reason)
	}
	return nil
}

// authorize prüft Rolle, Autorenschaft und Zuständigkeit für die Kante from → req.Target.
func authorize(r rule, m *models.Manuscript, req Request, role models.Role, from models.ManuscriptStatus) error {
	if !r.permits(role) {
		return errs.NewTransitionError(errs.ErrUnauthorized, from, req.Target, fmt.Sprintf("role %s may not perform this transition", role))
	}
	if r.authorOnly && !m.HasAuthor(req.ActorID) {
		return errs.NewTransitionError(errs.ErrUnauthorized, from, req.Target, "actor is not an author of the manuscript")
	}
	if r.ownerOnly && role == models.RoleEditor && m.EditorID != nil && *m.EditorID != req.ActorID {
		return errs.NewTransitionError(errs.ErrUnauthorized, from, req.Target, "actor is not the handling editor")
	}
	return nil
}

// precondition liefert einen Grund, falls die kantenspezifische Bedingung fehlt.
func (s *Service) precondition(ctx context.Context, tx *storage.Store, m *models.Manuscript, req Request) (string, error) {
	switch {
	case req.Target == models.StatusSubmitted:
		if len(m.Authors) == 0 {
			return "manuscript has no authors", nil
		}
	case req.Target == models.StatusWithEditor:
		if m.EditorID == nil && req.Extra["editor_id"] == nil {
			return "no editor assigned", nil
		}
	case m.Status == models.StatusWithEditor && req.Target == models.StatusUnderReview:
		n, err := tx.CountAssignments(ctx, m.ID, models.AssignmentAccepted, models.AssignmentInProgress, models.AssignmentCompleted)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "no accepted review assignment", nil
		}
	case m.Status == models.StatusUnderReview:
		n, err := tx.CountAssignments(ctx, m.ID, models.AssignmentCompleted)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "no completed review", nil
		}
	case req.Target == models.StatusInProduction:
		if m.ProductionEditorID == nil && req.Extra["production_editor_id"] == nil {
			return "no production editor assigned", nil
		}
	case req.Target == models.StatusPublished:
		if m.DOI == "" {
			return "manuscript has no DOI", nil
		}
	}
	return "", nil
}

// Submit reicht einen Entwurf ein.
func (s *Service) Submit(ctx context.Context, manuscriptID, authorID uint) (*Result, error) {
	return s.TransitionWithRetry(ctx, Request{ManuscriptID: manuscriptID, Target: models.StatusSubmitted, ActorID: authorID})
}

// AssignEditor übergibt ein eingereichtes Manuskript an editorID.
func (s *Service) AssignEditor(ctx context.Context, manuscriptID, editorID, actorID uint) (*Result, error) {
	role, err := s.RoleOf(ctx, editorID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleEditor && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: user %d is not an editor", errs.ErrInvalidInput, editorID)
	}
	return s.TransitionWithRetry(ctx, Request{
		ManuscriptID: manuscriptID,
		Target:       models.StatusWithEditor,
		ActorID:      actorID,
		Extra:        map[string]any{"editor_id": editorID},
	})
}

// Timeline liefert die Audit-Historie eines Manuskripts.
func (s *Service) Timeline(ctx context.Context, manuscriptID uint) ([]models.TimelineEntry, error) {
	if _, err := s.store.GetManuscript(ctx, manuscriptID); err != nil {
		return nil, err
	}
	return s.store.Timeline(ctx, manuscriptID)
}

// IsRejection meldet, ob err eine strukturelle Ablehnung des Übergangs ist.
func IsRejection(err error) bool {
	return errors.Is(err, errs.ErrInvalidTransition) ||
		errors.Is(err, errs.ErrUnauthorized) ||
		errors.Is(err, errs.ErrPreconditionNotMet)
}
