package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"journal-desk/models"
)

// CreateManuscript legt ein Manuskript samt Autorenmenge an.
func (s *Store) CreateManuscript(ctx context.Context, m *models.Manuscript) error {
	if m.Status == "" {
		m.Status = models.StatusDraft
	}
	if m.Priority == "" {
		m.Priority = models.PriorityNormal
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return s.conn(ctx).Create(m).Error
}

// GetManuscript lädt ein Manuskript inklusive Autoren.
func (s *Store) GetManuscript(ctx context.Context, id uint) (*models.Manuscript, error) {
	var m models.Manuscript
	if err := s.conn(ctx).Preload("Authors").First(&m, id).Error; err != nil {
		return nil, notFound(err, "manuscript", id)
	}
	return &m, nil
}

// CompareAndSwapStatus setzt den Status nur, wenn Version und Ausgangsstatus
// noch dem gelesenen Stand entsprechen. extra darf weitere Spalten setzen.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id uint, version int, from, to models.ManuscriptStatus, extra map[string]any) error {
	updates := map[string]any{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.conn(ctx).Model(&models.Manuscript{}).
		Where("id = ? AND version = ? AND status = ?", id, version, from).
		Updates(updates)
	return casResult(res, "manuscript", id)
}

// UpdateManuscriptFields ändert Nicht-Status-Felder versionsgesichert.
func (s *Store) UpdateManuscriptFields(ctx context.Context, id uint, version int, fields map[string]any) error {
	if _, ok := fields["status"]; ok {
		return fmt.Errorf("status must be changed through the lifecycle")
	}
	updates := map[string]any{"version": gorm.Expr("version + 1")}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.conn(ctx).Model(&models.Manuscript{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	return casResult(res, "manuscript", id)
}

// AppendTimeline schreibt einen Audit-Eintrag.
func (s *Store) AppendTimeline(ctx context.Context, e *models.TimelineEntry) error {
	return s.conn(ctx).Create(e).Error
}

// LastTimelineEntryTo liefert den jüngsten Eintrag in den Zielstatus (nil, falls keiner).
func (s *Store) LastTimelineEntryTo(ctx context.Context, manuscriptID uint, to models.ManuscriptStatus) (*models.TimelineEntry, error) {
	var e models.TimelineEntry
	err := s.conn(ctx).
		Where("manuscript_id = ? AND to_status = ?", manuscriptID, to).
		Order("created_at desc, id desc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Timeline liefert die Audit-Historie in zeitlicher Reihenfolge.
func (s *Store) Timeline(ctx context.Context, manuscriptID uint) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	err := s.conn(ctx).Where("manuscript_id = ?", manuscriptID).Order("id asc").Find(&entries).Error
	return entries, err
}

// ManuscriptsDueForPublication liefert Manuskripte in Produktion mit fälligem Termin.
func (s *Store) ManuscriptsDueForPublication(ctx context.Context, now time.Time) ([]models.Manuscript, error) {
	var out []models.Manuscript
	err := s.conn(ctx).
		Where("status = ? AND scheduled_publish_at IS NOT NULL AND scheduled_publish_at <= ?", models.StatusInProduction, now).
		Order("scheduled_publish_at asc").
		Find(&out).Error
	return out, err
}

// CountAssignments zählt Zuweisungen eines Manuskripts in den angegebenen Status.
func (s *Store) CountAssignments(ctx context.Context, manuscriptID uint, statuses ...models.AssignmentStatus) (int64, error) {
	var n int64
	q := s.conn(ctx).Model(&models.ReviewAssignment{}).Where("manuscript_id = ?", manuscriptID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&n).Error
	return n, err
}

// CountDecisions zählt die bisherigen Entscheidungsrunden.
func (s *Store) CountDecisions(ctx context.Context, manuscriptID uint) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.EditorialDecision{}).Where("manuscript_id = ?", manuscriptID).Count(&n).Error
	return n, err
}
