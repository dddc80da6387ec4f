package storage

import (
	"context"
	"time"

	"journal-desk/models"
)

// CreateDecision speichert eine Entscheidung; der Unique-Index (Manuskript,
// Runde) verhindert doppelte Entscheidungen.
func (s *Store) CreateDecision(ctx context.Context, d *models.EditorialDecision) error {
	return s.conn(ctx).Create(d).Error
}

// GetDecision lädt eine Entscheidung.
func (s *Store) GetDecision(ctx context.Context, id uint) (*models.EditorialDecision, error) {
	var d models.EditorialDecision
	if err := s.conn(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, "decision", id)
	}
	return &d, nil
}

// DecisionsForManuscript liefert alle Entscheidungen nach Runde.
func (s *Store) DecisionsForManuscript(ctx context.Context, manuscriptID uint) ([]models.EditorialDecision, error) {
	var out []models.EditorialDecision
	err := s.conn(ctx).Where("manuscript_id = ?", manuscriptID).Order("round asc").Find(&out).Error
	return out, err
}

// MarkDecisionSent setzt SentAt einmalig.
func (s *Store) MarkDecisionSent(ctx context.Context, id uint, at time.Time) error {
	return s.conn(ctx).Model(&models.EditorialDecision{}).
		Where("id = ? AND sent_at IS NULL", id).
		Update("sent_at", at).Error
}

// SetLetterURL hinterlegt den Archivlink des Entscheidungsbriefs.
func (s *Store) SetLetterURL(ctx context.Context, id uint, url string) error {
	return s.conn(ctx).Model(&models.EditorialDecision{}).Where("id = ?", id).Update("letter_url", url).Error
}

// AppendActionLog protokolliert einen Aktionsversuch.
func (s *Store) AppendActionLog(ctx context.Context, l *models.DecisionActionLog) error {
	return s.conn(ctx).Create(l).Error
}

// ActionSucceeded meldet, ob die Aktion für die Entscheidung bereits erfolgreich lief.
func (s *Store) ActionSucceeded(ctx context.Context, decisionID uint, action models.ActionType) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.DecisionActionLog{}).
		Where("decision_id = ? AND action_type = ? AND success = ?", decisionID, action, true).
		Count(&n).Error
	return n > 0, err
}

// ActionLogs liefert das Aktionsprotokoll einer Entscheidung.
func (s *Store) ActionLogs(ctx context.Context, decisionID uint) ([]models.DecisionActionLog, error) {
	var out []models.DecisionActionLog
	err := s.conn(ctx).Where("decision_id = ?", decisionID).Order("id asc").Find(&out).Error
	return out, err
}
