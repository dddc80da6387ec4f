package invitation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"journal-desk/errs"
	"journal-desk/metrics"
	"journal-desk/models"
	"journal-desk/notify"
)

// SweepSummary fasst einen Sweep-Lauf zusammen.
type SweepSummary struct {
	Name     string `json:"name"`
	Examined int    `json:"examined"`
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// DispatchDue versendet gestaffelte Einladungen, deren Sendezeitpunkt erreicht ist.
// Mehrere Instanzen dürfen parallel laufen; ClaimDispatch verhindert Doppelversand.
func (s *Service) DispatchDue(ctx context.Context) (SweepSummary, error) {
	sum := SweepSummary{Name: "dispatch"}
	now := s.clock.Now()
	due, err := s.store.InvitationsDueForDispatch(ctx, now)
	if err != nil {
		return sum, err
	}
	var errList error
	for i := range due {
		sum.Examined++
		sent, err := s.dispatch(ctx, &due[i], now)
		switch {
		case err != nil:
			sum.Failed++
			errList = multierr.Append(errList, err)
		case sent:
			sum.Applied++
		default:
			sum.Skipped++
		}
	}
	s.logSweep(sum, errList)
	return sum, errList
}

// SendReminders verschickt Erinnerungen gemäß reminder_schedule_days, gezählt
// ab dem Versandzeitpunkt. Jeder (Einladung, Offset) feuert höchstens einmal.
func (s *Service) SendReminders(ctx context.Context) (SweepSummary, error) {
	sum := SweepSummary{Name: "reminders"}
	now := s.clock.Now()
	open, err := s.store.InvitationsAwaitingResponse(ctx, now)
	if err != nil {
		return sum, err
	}
	var errList error
	for _, inv := range open {
		sum.Examined++
		for _, offset := range s.policy.ReminderScheduleDays {
			if now.Before(inv.SentAt.Add(time.Duration(offset) * 24 * time.Hour)) {
				break
			}
			claimed, err := s.store.ClaimReminder(ctx, inv.ID, offset)
			if err != nil {
				sum.Failed++
				errList = multierr.Append(errList, err)
				continue
			}
			if !claimed {
				continue
			}
			delivered := s.send(ctx, inv.ReviewerID, notify.TemplateReminder, map[string]any{
				"invitation_id":     inv.ID,
				"manuscript_id":     inv.ManuscriptID,
				"offset_days":       offset,
				"response_deadline": inv.ResponseDeadline.Format(time.RFC3339),
			})
			if err := s.store.CompleteReminder(ctx, inv.ID, offset, delivered); err != nil {
				errList = multierr.Append(errList, err)
			}
			metrics.RemindersSent.Inc()
			sum.Applied++
		}
	}
	s.logSweep(sum, errList)
	return sum, errList
}

// ExpireOverdue setzt offene Einladungen nach Ablauf der Antwortfrist auf
// expired. Verliert der Sweep das Rennen gegen eine Antwort, gewinnt die Antwort.
func (s *Service) ExpireOverdue(ctx context.Context) (SweepSummary, error) {
	sum := SweepSummary{Name: "expiry"}
	overdue, err := s.store.OverdueInvitations(ctx, s.clock.Now())
	if err != nil {
		return sum, err
	}
	var errList error
	for _, inv := range overdue {
		sum.Examined++
		err := s.store.CompareAndSwapInvitation(ctx, inv.ID, inv.Version, models.InvitationPending, map[string]any{
			"status": models.InvitationExpired,
		})
		switch {
		case err == nil:
			sum.Applied++
			metrics.InvitationsExpired.Inc()
		case errors.Is(err, errs.ErrConcurrentModification):
			sum.Skipped++
		default:
			sum.Failed++
			errList = multierr.Append(errList, err)
		}
	}
	s.logSweep(sum, errList)
	return sum, errList
}

func (s *Service) logSweep(sum SweepSummary, err error) {
	fields := []zap.Field{
		zap.String("sweep", sum.Name),
		zap.Int("examined", sum.Examined),
		zap.Int("applied", sum.Applied),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	}
	if err != nil {
		s.logger.Warn("Sweep finished with errors", append(fields, zap.Error(err))...)
		return
	}
	if sum.Examined > 0 {
		s.logger.Info("Sweep finished", fields...)
	}
}
