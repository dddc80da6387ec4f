package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"journal-desk/errs"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/services/lifecycle"
)

// ActionData sind die Eingaben einer Aktion.
type ActionData struct {
	DecisionID         uint       `json:"decision_id"`
	ManuscriptID       uint       `json:"manuscript_id"`
	ProductionEditorID uint       `json:"production_editor_id,omitempty"`
	PublishAt          *time.Time `json:"publish_at,omitempty"`
}

type handler func(ctx context.Context, data ActionData) error

// actionHandlers bindet jede Aktion der geschlossenen Menge an genau einen Handler.
func (s *Service) actionHandlers() map[models.ActionType]handler {
	return map[models.ActionType]handler{
		models.ActionNotifyAuthor:           s.notifyAuthor,
		models.ActionNotifyReviewers:        s.notifyReviewers,
		models.ActionGenerateDOI:            s.generateDOI,
		models.ActionAssignProductionEditor: s.assignProductionEditor,
		models.ActionSchedulePublication:    s.schedulePublication,
		models.ActionFollowUpReminder:       s.followUpReminder,
		models.ActionSendToProduction:       s.sendToProduction,
	}
}

// ExecuteAction führt eine Aktion aus und protokolliert den Versuch. Eine
// bereits erfolgreich ausgeführte Aktion derselben Entscheidung wird übersprungen.
func (s *Service) ExecuteAction(ctx context.Context, action models.ActionType, data ActionData) bool {
	return s.execute(ctx, action, data).Success
}

func (s *Service) execute(ctx context.Context, action models.ActionType, data ActionData) ActionResult {
	res := ActionResult{Action: action}
	log := s.logger.With(
		zap.String("action", string(action)),
		zap.Uint("decision_id", data.DecisionID),
		zap.Uint("manuscript_id", data.ManuscriptID))

	h, ok := s.handlers[action]
	if !ok {
		res.Error = fmt.Sprintf("%s: unknown action %q", errs.ErrInvalidInput, action)
		log.Error("Unknown post-decision action")
		metrics.DecisionActions.WithLabelValues(string(action), metrics.Outcome(false)).Inc()
		return res
	}

	done, err := s.store.ActionSucceeded(ctx, data.DecisionID, action)
	if err != nil {
		res.Error = err.Error()
		log.Warn("Could not read action log", zap.Error(err))
		return res
	}
	if done {
		res.Success, res.Skipped = true, true
		log.Debug("Action already succeeded, skipping")
		return res
	}

	herr := h(ctx, data)
	res.Success = herr == nil
	if herr != nil {
		res.Error = herr.Error()
	}
	payload, _ := json.Marshal(data)
	if err := s.store.AppendActionLog(ctx, &models.DecisionActionLog{
		CreatedAt:    s.clock.Now(),
		DecisionID:   data.DecisionID,
		ManuscriptID: data.ManuscriptID,
		ActionType:   action,
		Success:      res.Success,
		Error:        res.Error,
		Payload:      datatypes.JSON(payload),
	}); err != nil {
		log.Warn("Could not append action log", zap.Error(err))
	}
	metrics.DecisionActions.WithLabelValues(string(action), metrics.Outcome(res.Success)).Inc()
	if herr != nil {
		log.Warn("Post-decision action failed", zap.Error(herr))
	} else {
		log.Info("Post-decision action succeeded")
	}
	return res
}

func (s *Service) decisionVars(ctx context.Context, data ActionData) (*models.EditorialDecision, map[string]any, error) {
	d, err := s.store.GetDecision(ctx, data.DecisionID)
	if err != nil {
		return nil, nil, err
	}
	return d, map[string]any{
		"manuscript_id": d.ManuscriptID,
		"decision":      string(d.Decision),
		"round":         d.Round,
		"letter":        d.DecisionLetter,
		"letter_url":    d.LetterURL,
	}, nil
}

// correspondingAuthors liefert die korrespondierenden Autoren, ersatzweise den einreichenden Autor.
func correspondingAuthors(m *models.Manuscript) []uint {
	var out []uint
	for _, a := range m.Authors {
		if a.Corresponding {
			out = append(out, a.AuthorID)
		}
	}
	if len(out) == 0 && m.SubmittingAuthorID != 0 {
		out = append(out, m.SubmittingAuthorID)
	}
	return out
}

func (s *Service) sendAll(ctx context.Context, recipients []uint, template string, vars map[string]any) error {
	var out error
	for _, id := range recipients {
		if err := s.notifier.Send(ctx, id, template, vars); err != nil {
			metrics.NotificationFailures.WithLabelValues(template).Inc()
			out = multierr.Append(out, fmt.Errorf("recipient %d: %w", id, err))
		}
	}
	return out
}

func (s *Service) notifyAuthor(ctx context.Context, data ActionData) error {
	d, vars, err := s.decisionVars(ctx, data)
	if err != nil {
		return err
	}
	m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return err
	}
	recipients := correspondingAuthors(m)
	if len(recipients) == 0 {
		return fmt.Errorf("%w: manuscript %d has no author to notify", errs.ErrPreconditionNotMet, m.ID)
	}
	if err := s.sendAll(ctx, recipients, notify.TemplateDecisionAuthor, vars); err != nil {
		return err
	}
	return s.store.MarkDecisionSent(ctx, d.ID, s.clock.Now())
}

func (s *Service) notifyReviewers(ctx context.Context, data ActionData) error {
	_, vars, err := s.decisionVars(ctx, data)
	if err != nil {
		return err
	}
	assignments, err := s.store.AssignmentsForManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return err
	}
	var recipients []uint
	seen := map[uint]bool{}
	for _, a := range assignments {
		if a.Status == models.AssignmentCompleted && !seen[a.ReviewerID] {
			seen[a.ReviewerID] = true
			recipients = append(recipients, a.ReviewerID)
		}
	}
	delete(vars, "letter")
	return s.sendAll(ctx, recipients, notify.TemplateDecisionReviewer, vars)
}

// generateDOI vergibt einmalig einen DOI der Form prefix/journal.jahr.id.
func (s *Service) generateDOI(ctx context.Context, data ActionData) error {
	op := func() error {
		m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if m.DOI != "" {
			return nil
		}
		switch m.Status {
		case models.StatusAccepted, models.StatusInProduction:
		default:
			return backoff.Permanent(fmt.Errorf("%w: manuscript %d is %s", errs.ErrPreconditionNotMet, m.ID, m.Status))
		}
		doi := fmt.Sprintf("%s/%s.%d.%d", s.policy.DOI.Prefix, s.policy.DOI.JournalCode, s.clock.Now().Year(), m.ID)
		err = s.store.UpdateManuscriptFields(ctx, m.ID, m.Version, map[string]any{"doi": doi})
		if err != nil && !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), uint64(s.policy.Lifecycle.MaxRetries))
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (s *Service) productionEditor(ctx context.Context, data ActionData) (uint, error) {
	if data.ProductionEditorID != 0 {
		return data.ProductionEditorID, nil
	}
	m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return 0, err
	}
	if m.ProductionEditorID != nil {
		return *m.ProductionEditorID, nil
	}
	if m.EditorID != nil {
		return *m.EditorID, nil
	}
	return 0, fmt.Errorf("%w: no production editor available for manuscript %d", errs.ErrPreconditionNotMet, m.ID)
}

// assignProductionEditor übergibt das Manuskript über den Lifecycle an die Produktion.
func (s *Service) assignProductionEditor(ctx context.Context, data ActionData) error {
	editorID, err := s.productionEditor(ctx, data)
	if err != nil {
		return err
	}
	_, err = s.lifecycle.TransitionWithRetry(ctx, lifecycle.Request{
		ManuscriptID: data.ManuscriptID,
		Target:       models.StatusInProduction,
		ActorID:      models.SystemActorID,
		Note:         "production editor assigned",
		Extra:        map[string]any{"production_editor_id": editorID},
	})
	return err
}

// sendToProduction stellt sicher, dass das Manuskript in Produktion ist, und
// benachrichtigt den Produktionseditor.
func (s *Service) sendToProduction(ctx context.Context, data ActionData) error {
	m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return err
	}
	if m.Status != models.StatusInProduction {
		if err := s.assignProductionEditor(ctx, data); err != nil {
			return err
		}
		if m, err = s.store.GetManuscript(ctx, data.ManuscriptID); err != nil {
			return err
		}
	}
	if m.ProductionEditorID == nil {
		return fmt.Errorf("%w: manuscript %d has no production editor", errs.ErrPreconditionNotMet, m.ID)
	}
	return s.notifier.Send(ctx, *m.ProductionEditorID, notify.TemplateProduction, map[string]any{
		"manuscript_id": m.ID,
		"doi":           m.DOI,
	})
}

// schedulePublication setzt den Veröffentlichungstermin. Ein bereits fälliger
// Termin wird sofort über den Lifecycle veröffentlicht, spätere übernimmt der Sweep.
func (s *Service) schedulePublication(ctx context.Context, data ActionData) error {
	now := s.clock.Now()
	at := now
	if data.PublishAt != nil {
		at = data.PublishAt.UTC()
	}
	m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return err
	}
	if m.Status != models.StatusInProduction {
		return fmt.Errorf("%w: manuscript %d is %s, publication needs production", errs.ErrPreconditionNotMet, m.ID, m.Status)
	}
	if m.DOI == "" {
		return fmt.Errorf("%w: manuscript %d has no DOI", errs.ErrPreconditionNotMet, m.ID)
	}
	if err := s.store.UpdateManuscriptFields(ctx, m.ID, m.Version, map[string]any{"scheduled_publish_at": at}); err != nil {
		return err
	}
	if at.After(now) {
		return nil
	}
	_, err = s.lifecycle.TransitionWithRetry(ctx, lifecycle.Request{
		ManuscriptID: m.ID,
		Target:       models.StatusPublished,
		ActorID:      models.SystemActorID,
		Note:         "published on schedule",
	})
	return err
}

// followUpReminder erinnert die Autoren an die Frist für die Überarbeitung.
func (s *Service) followUpReminder(ctx context.Context, data ActionData) error {
	m, err := s.store.GetManuscript(ctx, data.ManuscriptID)
	if err != nil {
		return err
	}
	if m.Status != models.StatusRevisionsRequested {
		return fmt.Errorf("%w: manuscript %d is %s", errs.ErrPreconditionNotMet, m.ID, m.Status)
	}
	due := s.clock.Now().AddDate(0, 0, s.policy.Invitations.FollowUpDays)
	return s.sendAll(ctx, correspondingAuthors(m), notify.TemplateFollowUp, map[string]any{
		"manuscript_id": m.ID,
		"revision_due":  due.Format(time.RFC3339),
	})
}
