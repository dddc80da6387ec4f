// Package invitation verwaltet Gutachter-Einladungen: Versand mit optionaler
// Staffelung, Antworten, Rückzug, Neuvergabe sowie die zeitgesteuerten
// Sweeps für Versand, Erinnerungen und Ablauf.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/identity"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/notify"
	"journal-desk/services/lifecycle"
	"journal-desk/storage"
)

// Evaluator ist der Ausschnitt der Konfliktprüfung, den der Versand braucht.
type Evaluator interface {
	Evaluate(ctx context.Context, manuscriptID uint, candidateIDs []uint) ([]models.ReviewerEligibility, error)
}

// AnalysisQueue reiht die Qualitätsanalyse eines eingereichten Gutachtens ein.
type AnalysisQueue interface {
	QueueIfNoRecentReport(ctx context.Context, reviewID uint) (jobID string, queued bool, err error)
}

// Service ist der Invitation Orchestrator.
type Service struct {
	store     *storage.Store
	lifecycle *lifecycle.Service
	conflicts Evaluator
	notifier  notify.Sender
	roles     identity.RoleProvider
	analysis  AnalysisQueue
	clock     clock.Clock
	policy    config.InvitationPolicy
	logger    *zap.Logger
}

// Deps bündelt die Abhängigkeiten des Service.
type Deps struct {
	Store     *storage.Store
	Lifecycle *lifecycle.Service
	Conflicts Evaluator
	Notifier  notify.Sender
	Roles     identity.RoleProvider
	Analysis  AnalysisQueue
	Clock     clock.Clock
	Policy    config.InvitationPolicy
	Logger    *zap.Logger
}

// NewService erstellt den Orchestrator.
func NewService(d Deps) *Service {
	return &Service{
		store:     d.Store,
		lifecycle: d.Lifecycle,
		conflicts: d.Conflicts,
		notifier:  d.Notifier,
		roles:     d.Roles,
		analysis:  d.Analysis,
		clock:     d.Clock,
		policy:    d.Policy,
		logger:    d.Logger,
	}
}

// Options steuern einen Einladungsbatch.
type Options struct {
	InvitedBy            uint
	Staggered            bool
	StaggerIntervalHours int
}

// Result ist das Ergebnis für einen einzelnen Gutachter.
type Result struct {
	ReviewerID   uint                    `json:"reviewer_id"`
	InvitationID uint                    `json:"invitation_id,omitempty"`
	Status       string                  `json:"status"`
	Success      bool                    `json:"success"`
	Error        string                  `json:"error,omitempty"`
	ScheduledFor *time.Time              `json:"scheduled_for,omitempty"`
	Conflicts    []models.ConflictRecord `json:"conflicts,omitempty"`
}

// Ergebnisstatus pro Gutachter.
const (
	ResultSent       = "sent"
	ResultScheduled  = "scheduled"
	ResultIneligible = "ineligible"
	ResultDuplicate  = "already_invited"
	ResultFailed     = "failed"
)

// BatchMetadata beschreibt den Batch.
type BatchMetadata struct {
	BatchID              string    `json:"batch_id"`
	ManuscriptID         uint      `json:"manuscript_id"`
	InvitedBy            uint      `json:"invited_by"`
	Staggered            bool      `json:"staggered"`
	StaggerIntervalHours int       `json:"stagger_interval_hours"`
	CreatedAt            time.Time `json:"created_at"`
	ReviewDeadline       time.Time `json:"review_deadline"`
	ResponseDeadline     time.Time `json:"response_deadline"`
}

// BatchResult ist das strukturierte Ergebnis von SendInvitations.
type BatchResult struct {
	TotalInvited int           `json:"total_invited"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Results      []Result      `json:"results"`
	Metadata     BatchMetadata `json:"metadata"`
}

// requireEditor prüft, ob actorID Einladungen verwalten darf.
func (s *Service) requireEditor(ctx context.Context, actorID uint) error {
	role, err := s.roles.RoleOf(ctx, actorID)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if role != models.RoleEditor && role != models.RoleAdmin {
		return fmt.Errorf("%w: role %s may not manage invitations", errs.ErrUnauthorized, role)
	}
	return nil
}

// SendInvitations lädt Gutachter ein. Nicht geeignete Gutachter erscheinen als
// Fehlschlag im Ergebnis; der Batch als Ganzes scheitert nur an strukturellen Fehlern.
func (s *Service) SendInvitations(ctx context.Context, manuscriptID uint, reviewerIDs []uint, reviewDeadline, responseDeadline time.Time, opts Options) (*BatchResult, error) {
	if err := s.requireEditor(ctx, opts.InvitedBy); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !responseDeadline.After(now) {
		return nil, fmt.Errorf("%w: response deadline must be in the future", errs.ErrInvalidInput)
	}
	if reviewDeadline.Before(responseDeadline) {
		return nil, fmt.Errorf("%w: review deadline must not precede the response deadline", errs.ErrInvalidInput)
	}
	m, err := s.store.GetManuscript(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusWithEditor && m.Status != models.StatusUnderReview {
		return nil, fmt.Errorf("%w: manuscript %d is %s", errs.ErrPreconditionNotMet, m.ID, m.Status)
	}

	interval := opts.StaggerIntervalHours
	if interval <= 0 {
		interval = s.policy.StaggerIntervalHours
	}
	candidates := dedupe(reviewerIDs)
	batch := &BatchResult{
		TotalInvited: len(candidates),
		Results:      make([]Result, 0, len(candidates)),
		Metadata: BatchMetadata{
			BatchID:              uuid.NewString(),
			ManuscriptID:         m.ID,
			InvitedBy:            opts.InvitedBy,
			Staggered:            opts.Staggered,
			StaggerIntervalHours: interval,
			CreatedAt:            now,
			ReviewDeadline:       reviewDeadline,
			ResponseDeadline:     responseDeadline,
		},
	}
	log := s.logger.With(zap.Uint("manuscript_id", m.ID), zap.String("batch_id", batch.Metadata.BatchID))

	eligibility, err := s.conflicts.Evaluate(ctx, m.ID, candidates)
	if err != nil {
		return nil, fmt.Errorf("evaluate reviewers: %w", err)
	}

	var failures error
	slot := 0
	for i, reviewerID := range candidates {
		res := s.inviteOne(ctx, m, eligibility[i], &slot, now, interval, reviewDeadline, responseDeadline, opts, batch.Metadata.BatchID)
		if res.Success {
			batch.SuccessCount++
			metrics.InvitationsCreated.WithLabelValues("created").Inc()
		} else {
			batch.FailureCount++
			metrics.InvitationsCreated.WithLabelValues(res.Status).Inc()
			failures = multierr.Append(failures, fmt.Errorf("reviewer %d: %s", reviewerID, res.Error))
		}
		batch.Results = append(batch.Results, res)
	}

	log.Info("Invitation batch processed",
		zap.Int("total", batch.TotalInvited),
		zap.Int("success", batch.SuccessCount),
		zap.Int("failure", batch.FailureCount))
	if failures != nil {
		log.Warn("Invitation batch had failures", zap.Errors("failures", multierr.Errors(failures)))
	}
	return batch, nil
}

func (s *Service) inviteOne(ctx context.Context, m *models.Manuscript, e models.ReviewerEligibility, slot *int, now time.Time, interval int, reviewDeadline, responseDeadline time.Time, opts Options, batchID string) Result {
	res := Result{ReviewerID: e.ReviewerID}
	if !e.IsEligible {
		ineligible := &errs.IneligibleReviewerError{ReviewerID: e.ReviewerID, Conflicts: e.BlockingConflicts()}
		res.Status = ResultIneligible
		res.Error = ineligible.Error()
		res.Conflicts = ineligible.Conflicts
		return res
	}
	open, err := s.store.OpenInvitationFor(ctx, m.ID, e.ReviewerID)
	if err != nil {
		res.Status, res.Error = ResultFailed, err.Error()
		return res
	}
	if open {
		res.Status = ResultDuplicate
		res.Error = fmt.Sprintf("%s: reviewer already has an open invitation", errs.ErrPreconditionNotMet)
		return res
	}

	scheduled := now
	if opts.Staggered {
		scheduled = now.Add(time.Duration(*slot*interval) * time.Hour)
	}
	if !scheduled.Before(responseDeadline) {
		res.Status = ResultFailed
		res.Error = fmt.Sprintf("%s: send slot %s is not before the response deadline %s",
			errs.ErrInvalidInput, scheduled.Format(time.RFC3339), responseDeadline.Format(time.RFC3339))
		return res
	}
	*slot++

	inv := &models.ReviewerInvitation{
		ManuscriptID:     m.ID,
		ReviewerID:       e.ReviewerID,
		InvitedBy:        opts.InvitedBy,
		BatchID:          batchID,
		Status:           models.InvitationPending,
		ReviewDeadline:   reviewDeadline,
		ResponseDeadline: responseDeadline,
		ScheduledFor:     scheduled,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		res.Status, res.Error = ResultFailed, err.Error()
		return res
	}
	res.Success = true
	res.InvitationID = inv.ID
	res.ScheduledFor = &scheduled
	res.Status = ResultScheduled

	if !scheduled.After(now) {
		if sent, _ := s.dispatch(ctx, inv, now); sent {
			res.Status = ResultSent
		}
	}
	return res
}

// dispatch beansprucht den Versand einer Einladung und stellt sie zu. Ein
// Zustellfehler wird protokolliert; die Einladung bleibt gültig.
func (s *Service) dispatch(ctx context.Context, inv *models.ReviewerInvitation, now time.Time) (bool, error) {
	claimed, err := s.store.ClaimDispatch(ctx, inv.ID, now)
	if err != nil || !claimed {
		return false, err
	}
	inv.SentAt = &now
	s.send(ctx, inv.ReviewerID, notify.TemplateInvitation, map[string]any{
		"invitation_id":     inv.ID,
		"manuscript_id":     inv.ManuscriptID,
		"response_deadline": inv.ResponseDeadline.Format(time.RFC3339),
		"review_deadline":   inv.ReviewDeadline.Format(time.RFC3339),
	})
	return true, nil
}

func (s *Service) send(ctx context.Context, recipientID uint, template string, vars map[string]any) bool {
	if err := s.notifier.Send(ctx, recipientID, template, vars); err != nil {
		metrics.NotificationFailures.WithLabelValues(template).Inc()
		s.logger.Warn("Notification failed",
			zap.Uint("recipient_id", recipientID),
			zap.String("template", template),
			zap.Error(err))
		return false
	}
	return true
}

// Decision ist die Antwort eines Gutachters.
type Decision string

const (
	Accept  Decision = "accept"
	Decline Decision = "decline"
)

// Response beschreibt eine Antwort auf eine Einladung.
type Response struct {
	Decision             Decision
	DeclineReason        string
	SuggestedAlternative string
}

// ResponseResult ist das Ergebnis einer Antwort.
type ResponseResult struct {
	Invitation   *models.ReviewerInvitation `json:"invitation"`
	Assignment   *models.ReviewAssignment   `json:"assignment,omitempty"`
	Transitioned bool                       `json:"transitioned"`
}

// Respond verarbeitet Annahme oder Ablehnung. Antworten sind pro Einladung
// serialisiert; eine zweite Antwort scheitert mit ErrAlreadyResponded.
func (s *Service) Respond(ctx context.Context, invitationID, reviewerID uint, resp Response) (*ResponseResult, error) {
	if resp.Decision != Accept && resp.Decision != Decline {
		return nil, fmt.Errorf("%w: unknown decision %q", errs.ErrInvalidInput, resp.Decision)
	}
	now := s.clock.Now()
	log := s.logger.With(zap.Uint("invitation_id", invitationID), zap.Uint("reviewer_id", reviewerID), zap.String("decision", string(resp.Decision)))

	result := &ResponseResult{}
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		inv, err := tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv.ReviewerID != reviewerID {
			return fmt.Errorf("%w: invitation %d belongs to another reviewer", errs.ErrUnauthorized, invitationID)
		}
		if err := respondable(inv, now); err != nil {
			return err
		}

		updates := map[string]any{"responded_at": now}
		if resp.Decision == Accept {
			updates["status"] = models.InvitationAccepted
		} else {
			updates["status"] = models.InvitationDeclined
			updates["decline_reason"] = resp.DeclineReason
			updates["suggested_alternative"] = resp.SuggestedAlternative
		}
		if err := tx.CompareAndSwapInvitation(ctx, inv.ID, inv.Version, models.InvitationPending, updates); err != nil {
			return err
		}
		if resp.Decision == Accept {
			a := &models.ReviewAssignment{
				ManuscriptID: inv.ManuscriptID,
				ReviewerID:   inv.ReviewerID,
				InvitationID: inv.ID,
				Status:       models.AssignmentAccepted,
				DueDate:      inv.ReviewDeadline,
			}
			if err := tx.CreateAssignment(ctx, a); err != nil {
				return fmt.Errorf("create assignment: %w", err)
			}
			result.Assignment = a
		}
		result.Invitation, err = tx.GetInvitation(ctx, inv.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrConcurrentModification) {
			return nil, s.explainLostRace(ctx, invitationID, err)
		}
		log.Info("Invitation response rejected", zap.Error(err))
		return nil, err
	}
	log.Info("Invitation response recorded")

	inv := result.Invitation
	if resp.Decision == Accept {
		result.Transitioned = s.startReviewPhase(ctx, inv.ManuscriptID)
	}
	s.send(ctx, inv.InvitedBy, notify.TemplateInvitationReply, map[string]any{
		"invitation_id":         inv.ID,
		"manuscript_id":         inv.ManuscriptID,
		"reviewer_id":           inv.ReviewerID,
		"decision":              string(resp.Decision),
		"decline_reason":        inv.DeclineReason,
		"suggested_alternative": inv.SuggestedAlternative,
	})
	return result, nil
}

// respondable prüft, ob eine Einladung noch eine Antwort annehmen kann.
func respondable(inv *models.ReviewerInvitation, now time.Time) error {
	switch inv.Status {
	case models.InvitationPending:
	case models.InvitationAccepted, models.InvitationDeclined:
		return fmt.Errorf("invitation %d is %s: %w", inv.ID, inv.Status, errs.ErrAlreadyResponded)
	default:
		return fmt.Errorf("%w: invitation %d is %s", errs.ErrPreconditionNotMet, inv.ID, inv.Status)
	}
	if inv.SentAt == nil {
		return fmt.Errorf("%w: invitation %d has not been sent yet", errs.ErrPreconditionNotMet, inv.ID)
	}
	if !now.Before(inv.ResponseDeadline) {
		return fmt.Errorf("%w: response deadline of invitation %d has passed", errs.ErrPreconditionNotMet, inv.ID)
	}
	return nil
}

// explainLostRace liest nach einem verlorenen Compare-and-Swap den aktuellen
// Stand, damit der Aufrufer den konkreten Grund erhält.
func (s *Service) explainLostRace(ctx context.Context, invitationID uint, cause error) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return cause
	}
	if err := respondable(inv, s.clock.Now()); err != nil {
		return err
	}
	return cause
}

// startReviewPhase überführt das Manuskript nach der ersten Annahme in
// under_review. Fehler werden protokolliert; die Annahme bleibt bestehen.
func (s *Service) startReviewPhase(ctx context.Context, manuscriptID uint) bool {
	m, err := s.store.GetManuscript(ctx, manuscriptID)
	if err != nil || m.Status != models.StatusWithEditor {
		return false
	}
	res, err := s.lifecycle.TransitionWithRetry(ctx, lifecycle.Request{
		ManuscriptID: manuscriptID,
		Target:       models.StatusUnderReview,
		ActorID:      models.SystemActorID,
		Note:         "first reviewer accepted",
	})
	if err != nil {
		s.logger.Warn("Could not start review phase", zap.Uint("manuscript_id", manuscriptID), zap.Error(err))
		return false
	}
	return !res.Replayed
}

// Withdraw zieht eine noch offene Einladung zurück.
func (s *Service) Withdraw(ctx context.Context, invitationID, editorID uint) (*models.ReviewerInvitation, error) {
	if err := s.requireEditor(ctx, editorID); err != nil {
		return nil, err
	}
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationPending {
		return nil, fmt.Errorf("%w: only pending invitations can be withdrawn, invitation %d is %s", errs.ErrPreconditionNotMet, inv.ID, inv.Status)
	}
	if err := s.store.CompareAndSwapInvitation(ctx, inv.ID, inv.Version, models.InvitationPending, map[string]any{
		"status": models.InvitationWithdrawn,
	}); err != nil {
		if errors.Is(err, errs.ErrConcurrentModification) {
			return nil, s.explainLostRace(ctx, invitationID, err)
		}
		return nil, err
	}
	if inv.SentAt != nil {
		s.send(ctx, inv.ReviewerID, notify.TemplateWithdrawn, map[string]any{"invitation_id": inv.ID, "manuscript_id": inv.ManuscriptID})
	}
	s.logger.Info("Invitation withdrawn", zap.Uint("invitation_id", inv.ID), zap.Uint("editor_id", editorID))
	return s.store.GetInvitation(ctx, inv.ID)
}

// ReassignResult ist das Ergebnis einer Neuvergabe.
type ReassignResult struct {
	Invitation  *models.ReviewerInvitation `json:"invitation"`
	Assignment  *models.ReviewAssignment   `json:"assignment"`
	Replacement *BatchResult               `json:"replacement,omitempty"`
}

// Reassign entzieht eine bereits angenommene Begutachtung und lädt optional
// einen Ersatzgutachter ein.
func (s *Service) Reassign(ctx context.Context, invitationID, editorID, replacementReviewerID uint, reviewDeadline, responseDeadline time.Time) (*ReassignResult, error) {
	if err := s.requireEditor(ctx, editorID); err != nil {
		return nil, err
	}
	out := &ReassignResult{}
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		inv, err := tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvitationAccepted {
			return fmt.Errorf("%w: reassignment needs an accepted invitation, invitation %d is %s", errs.ErrPreconditionNotMet, inv.ID, inv.Status)
		}
		a, err := tx.AssignmentByInvitation(ctx, inv.ID)
		if err != nil {
			return err
		}
		if a.Status == models.AssignmentCompleted {
			return fmt.Errorf("%w: assignment %d is already completed", errs.ErrPreconditionNotMet, a.ID)
		}
		if err := tx.CompareAndSwapAssignment(ctx, a.ID, a.Status, models.AssignmentDeclined, nil); err != nil {
			return err
		}
		if err := tx.CompareAndSwapInvitation(ctx, inv.ID, inv.Version, models.InvitationAccepted, map[string]any{
			"status": models.InvitationWithdrawn,
		}); err != nil {
			return err
		}
		if out.Invitation, err = tx.GetInvitation(ctx, inv.ID); err != nil {
			return err
		}
		out.Assignment, err = tx.GetAssignment(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.send(ctx, out.Invitation.ReviewerID, notify.TemplateWithdrawn, map[string]any{
		"invitation_id": out.Invitation.ID,
		"manuscript_id": out.Invitation.ManuscriptID,
	})
	s.logger.Info("Review reassigned", zap.Uint("invitation_id", invitationID), zap.Uint("editor_id", editorID))

	if replacementReviewerID != 0 {
		out.Replacement, err = s.SendInvitations(ctx, out.Invitation.ManuscriptID, []uint{replacementReviewerID}, reviewDeadline, responseDeadline, Options{InvitedBy: editorID})
		if err != nil {
			return out, fmt.Errorf("invite replacement: %w", err)
		}
	}
	return out, nil
}

// List liefert die Einladungen eines Manuskripts.
func (s *Service) List(ctx context.Context, manuscriptID uint) ([]models.ReviewerInvitation, error) {
	return s.store.ListInvitations(ctx, manuscriptID)
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
