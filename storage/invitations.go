package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"journal-desk/models"
)

// CreateInvitation legt eine Einladung an.
func (s *Store) CreateInvitation(ctx context.Context, inv *models.ReviewerInvitation) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	return s.conn(ctx).Create(inv).Error
}

// GetInvitation lädt eine Einladung.
func (s *Store) GetInvitation(ctx context.Context, id uint) (*models.ReviewerInvitation, error) {
	var inv models.ReviewerInvitation
	if err := s.conn(ctx).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "invitation", id)
	}
	return &inv, nil
}

// ListInvitations liefert alle Einladungen eines Manuskripts.
func (s *Store) ListInvitations(ctx context.Context, manuscriptID uint) ([]models.ReviewerInvitation, error) {
	var out []models.ReviewerInvitation
	err := s.conn(ctx).Where("manuscript_id = ?", manuscriptID).Order("id asc").Find(&out).Error
	return out, err
}

// OpenInvitationFor meldet, ob der Gutachter für das Manuskript bereits eine
// offene oder angenommene Einladung hat.
func (s *Store) OpenInvitationFor(ctx context.Context, manuscriptID, reviewerID uint) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.ReviewerInvitation{}).
		Where("manuscript_id = ? AND reviewer_id = ? AND status IN ?", manuscriptID, reviewerID,
			[]models.InvitationStatus{models.InvitationPending, models.InvitationAccepted}).
		Count(&n).Error
	return n > 0, err
}

// CompareAndSwapInvitation ändert eine Einladung nur bei unverändertem Status
// und unveränderter Version.
func (s *Store) CompareAndSwapInvitation(ctx context.Context, id uint, version int, from models.InvitationStatus, updates map[string]any) error {
	set := map[string]any{"version": gorm.Expr("version + 1")}
	for k, v := range updates {
		set[k] = v
	}
	res := s.conn(ctx).Model(&models.ReviewerInvitation{}).
		Where("id = ? AND version = ? AND status = ?", id, version, from).
		Updates(set)
	return casResult(res, "invitation", id)
}

// InvitationsDueForDispatch liefert ausstehende, noch nicht versendete Einladungen mit fälligem
// Sendezeitpunkt. Einladungen mit abgelaufener Antwortfrist werden nicht mehr versendet.
func (s *Store) InvitationsDueForDispatch(ctx context.Context, now time.Time) ([]models.ReviewerInvitation, error) {
	var out []models.ReviewerInvitation
	err := s.conn(ctx).
		Where("status = ? AND sent_at IS NULL AND scheduled_for <= ? AND response_deadline > ?", models.InvitationPending, now, now).
		Order("scheduled_for asc, id asc").
		Find(&out).Error
	return out, err
}

// ClaimDispatch markiert eine Einladung als versendet; nur der erste Aufrufer gewinnt.
func (s *Store) ClaimDispatch(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.ReviewerInvitation{}).
		Where("id = ? AND sent_at IS NULL", id).
		Update("sent_at", at)
	return res.RowsAffected == 1, res.Error
}

// InvitationsAwaitingResponse liefert versendete, offene Einladungen vor Ablauf der Antwortfrist.
func (s *Store) InvitationsAwaitingResponse(ctx context.Context, now time.Time) ([]models.ReviewerInvitation, error) {
	var out []models.ReviewerInvitation
	err := s.conn(ctx).
		Where("status = ? AND sent_at IS NOT NULL AND response_deadline > ?", models.InvitationPending, now).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// OverdueInvitations liefert offene Einladungen nach Ablauf der Antwortfrist.
func (s *Store) OverdueInvitations(ctx context.Context, now time.Time) ([]models.ReviewerInvitation, error) {
	var out []models.ReviewerInvitation
	err := s.conn(ctx).
		Where("status = ? AND response_deadline <= ?", models.InvitationPending, now).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// ClaimReminder reserviert den Idempotenzschlüssel (Einladung, Offset).
// Liefert false, wenn die Erinnerung bereits von irgendeinem Sweep beansprucht wurde.
func (s *Store) ClaimReminder(ctx context.Context, invitationID uint, offsetDays int) (bool, error) {
	d := models.ReminderDispatch{InvitationID: invitationID, OffsetDays: offsetDays}
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteReminder vermerkt die Zustellung und zählt reminderCount hoch.
// Die Version bleibt unverändert, damit laufende Antworten nicht kollidieren.
func (s *Store) CompleteReminder(ctx context.Context, invitationID uint, offsetDays int, delivered bool) error {
	if err := s.conn(ctx).Model(&models.ReminderDispatch{}).
		Where("invitation_id = ? AND offset_days = ?", invitationID, offsetDays).
		Update("delivered", delivered).Error; err != nil {
		return err
	}
	return s.conn(ctx).Model(&models.ReviewerInvitation{}).
		Where("id = ?", invitationID).
		UpdateColumn("reminder_count", gorm.Expr("reminder_count + 1")).Error
}

// RemindersFor liefert die beanspruchten Erinnerungs-Offsets einer Einladung.
func (s *Store) RemindersFor(ctx context.Context, invitationID uint) ([]models.ReminderDispatch, error) {
	var out []models.ReminderDispatch
	err := s.conn(ctx).Where("invitation_id = ?", invitationID).Order("offset_days asc").Find(&out).Error
	return out, err
}

// CreateAssignment legt eine Zuweisung an.
func (s *Store) CreateAssignment(ctx context.Context, a *models.ReviewAssignment) error {
	return s.conn(ctx).Create(a).Error
}

// GetAssignment lädt eine Zuweisung.
func (s *Store) GetAssignment(ctx context.Context, id uint) (*models.ReviewAssignment, error) {
	var a models.ReviewAssignment
	if err := s.conn(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "assignment", id)
	}
	return &a, nil
}

// AssignmentByInvitation lädt die Zuweisung zu einer Einladung.
func (s *Store) AssignmentByInvitation(ctx context.Context, invitationID uint) (*models.ReviewAssignment, error) {
	var a models.ReviewAssignment
	if err := s.conn(ctx).Where("invitation_id = ?", invitationID).First(&a).Error; err != nil {
		return nil, notFound(err, "assignment for invitation", invitationID)
	}
	return &a, nil
}

// AssignmentsForManuscript liefert alle Zuweisungen eines Manuskripts.
func (s *Store) AssignmentsForManuscript(ctx context.Context, manuscriptID uint) ([]models.ReviewAssignment, error) {
	var out []models.ReviewAssignment
	err := s.conn(ctx).Where("manuscript_id = ?", manuscriptID).Order("id asc").Find(&out).Error
	return out, err
}

// CompareAndSwapAssignment ändert den Status einer Zuweisung nur aus dem erwarteten Status heraus.
func (s *Store) CompareAndSwapAssignment(ctx context.Context, id uint, from, to models.AssignmentStatus, extra map[string]any) error {
	set := map[string]any{"status": to}
	for k, v := range extra {
		set[k] = v
	}
	res := s.conn(ctx).Model(&models.ReviewAssignment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(set)
	return casResult(res, "assignment", id)
}

// CreateReview speichert ein eingereichtes Gutachten.
func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	return s.conn(ctx).Create(r).Error
}

// GetReview lädt ein Gutachten.
func (s *Store) GetReview(ctx context.Context, id uint) (*models.Review, error) {
	var r models.Review
	if err := s.conn(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "review", id)
	}
	return &r, nil
}
