// Package decision zeichnet redaktionelle Entscheidungen auf und führt die
// konfigurierten Folgeaktionen unabhängig voneinander aus.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/services/lifecycle"
	"journal-desk/storage"
)

// LetterArchive legt Entscheidungsbriefe ab und liefert deren URL.
type LetterArchive interface {
	Archive(ctx context.Context, key string, letter []byte) (string, error)
}

// Service ist der Post-Decision Action Orchestrator.
type Service struct {
	store     *storage.Store
	lifecycle *lifecycle.Service
	notifier  notify.Sender
	archive   LetterArchive
	clock     clock.Clock
	policy    *config.Policy
	logger    *zap.Logger
	handlers  map[models.ActionType]handler
}

// NewService erstellt den Orchestrator. archive darf nil sein.
func NewService(store *storage.Store, lc *lifecycle.Service, notifier notify.Sender, archive LetterArchive, clk clock.Clock, policy *config.Policy, logger *zap.Logger) *Service {
	s := &Service{
		store:     store,
		lifecycle: lc,
		notifier:  notifier,
		archive:   archive,
		clock:     clk,
		policy:    policy,
		logger:    logger,
	}
	s.handlers = s.actionHandlers()
	return s
}

// ActionResult ist das Ergebnis einer einzelnen Aktion.
type ActionResult struct {
	Action  models.ActionType `json:"action"`
	Success bool              `json:"success"`
	Skipped bool              `json:"skipped,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Outcome ist das Ergebnis von RecordDecision.
type Outcome struct {
	Decision   *models.EditorialDecision `json:"decision"`
	Transition *lifecycle.Result         `json:"transition"`
	Actions    []ActionResult            `json:"actions"`
	Replayed   bool                      `json:"replayed"`
}

// Failed zählt fehlgeschlagene Aktionen.
func (o *Outcome) Failed() int {
	n := 0
	for _, a := range o.Actions {
		if !a.Success {
			n++
		}
	}
	return n
}

// Request beschreibt eine Entscheidung.
type Request struct {
	ManuscriptID       uint
	EditorID           uint
	Decision           models.DecisionType
	Letter             string
	ProductionEditorID uint
	PublishAt          *time.Time
}

// RecordDecision schreibt die Entscheidung der aktuellen Runde, führt den
// Statusübergang über den Lifecycle aus und stößt danach die konfigurierten
// Aktionen an. Fehlgeschlagene Aktionen machen die Entscheidung nicht rückgängig.
func (s *Service) RecordDecision(ctx context.Context, req Request) (*Outcome, error) {
	if !req.Decision.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", errs.ErrInvalidInput, req.Decision)
	}
	role, err := s.lifecycle.RoleOf(ctx, req.EditorID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.Uint("manuscript_id", req.ManuscriptID), zap.String("decision", string(req.Decision)))

	out := &Outcome{}
	err = s.store.InTx(ctx, func(tx *storage.Store) error {
		res, err := s.lifecycle.Apply(ctx, tx, lifecycle.Request{
			ManuscriptID: req.ManuscriptID,
			Target:       req.Decision.TargetStatus(),
			ActorID:      req.EditorID,
			Note:         "editorial decision: " + string(req.Decision),
		}, role)
		if err != nil {
			return err
		}
		out.Transition = res

		if res.Replayed {
			decisions, err := tx.DecisionsForManuscript(ctx, req.ManuscriptID)
			if err != nil {
				return err
			}
			if n := len(decisions); n > 0 && decisions[n-1].Decision == req.Decision {
				out.Decision = &decisions[n-1]
				out.Replayed = true
				return nil
			}
		}

		round, err := tx.CountDecisions(ctx, req.ManuscriptID)
		if err != nil {
			return err
		}
		d := &models.EditorialDecision{
			CreatedAt:      s.clock.Now(),
			ManuscriptID:   req.ManuscriptID,
			Round:          int(round) + 1,
			EditorID:       req.EditorID,
			Decision:       req.Decision,
			DecisionLetter: req.Letter,
		}
		if err := tx.CreateDecision(ctx, d); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("decision round %d: %w", d.Round, errs.ErrConcurrentModification)
			}
			return fmt.Errorf("create decision: %w", err)
		}
		out.Decision = d
		return nil
	})
	if err != nil {
		log.Info("Decision rejected", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.Uint("decision_id", out.Decision.ID), zap.Int("round", out.Decision.Round))
	if out.Replayed {
		log.Info("Decision replayed")
	} else {
		log.Info("Decision recorded")
		s.archiveLetter(ctx, out.Decision, log)
	}

	data := ActionData{
		DecisionID:         out.Decision.ID,
		ManuscriptID:       req.ManuscriptID,
		ProductionEditorID: req.ProductionEditorID,
		PublishAt:          req.PublishAt,
	}
	for _, action := range s.policy.ActionsFor(req.Decision) {
		out.Actions = append(out.Actions, s.execute(ctx, action, data))
	}
	log.Info("Post-decision actions finished", zap.Int("actions", len(out.Actions)), zap.Int("failed", out.Failed()))
	return out, nil
}

func (s *Service) archiveLetter(ctx context.Context, d *models.EditorialDecision, log *zap.Logger) {
	if s.archive == nil || d.DecisionLetter == "" {
		return
	}
	url, err := s.archive.Archive(ctx, storage.LetterKey(d.ManuscriptID, d.Round), []byte(d.DecisionLetter))
	if err != nil {
		log.Warn("Could not archive decision letter", zap.Error(err))
		return
	}
	if err := s.store.SetLetterURL(ctx, d.ID, url); err != nil {
		log.Warn("Could not store letter URL", zap.Error(err))
		return
	}
	d.LetterURL = url
}

// Decisions liefert die Entscheidungen eines Manuskripts.
func (s *Service) Decisions(ctx context.Context, manuscriptID uint) ([]models.EditorialDecision, error) {
	return s.store.DecisionsForManuscript(ctx, manuscriptID)
}

// ActionLog liefert das Audit-Protokoll einer Entscheidung.
func (s *Service) ActionLog(ctx context.Context, decisionID uint) ([]models.DecisionActionLog, error) {
	return s.store.ActionLogs(ctx, decisionID)
}

// PublishDue veröffentlicht Manuskripte, deren Termin erreicht ist.
func (s *Service) PublishDue(ctx context.Context) (published int, err error) {
	due, err := s.store.ManuscriptsDueForPublication(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	var failures error
	for _, m := range due {
		if _, terr := s.lifecycle.TransitionWithRetry(ctx, lifecycle.Request{
			ManuscriptID: m.ID,
			Target:       models.StatusPublished,
			ActorID:      models.SystemActorID,
			Note:         "scheduled publication",
		}); terr != nil {
			s.logger.Warn("Scheduled publication failed", zap.Uint("manuscript_id", m.ID), zap.Error(terr))
			failures = multierr.Append(failures, fmt.Errorf("manuscript %d: %w", m.ID, terr))
			continue
		}
		published++
	}
	if published > 0 {
		s.logger.Info("Publication sweep finished", zap.Int("published", published), zap.Int("failed", len(multierr.Errors(failures))))
	}
	return published, failures
}
