package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"journal-desk/errs"
	"journal-desk/models"
)

// CreatePerson legt eine Person an.
func (s *Store) CreatePerson(ctx context.Context, p *models.Person) error {
	return s.conn(ctx).Create(p).Error
}

// GetPerson lädt eine Person.
func (s *Store) GetPerson(ctx context.Context, id uint) (*models.Person, error) {
	var p models.Person
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "person", id)
	}
	return &p, nil
}

// PeopleByIDs lädt mehrere Personen; fehlende IDs werden ausgelassen.
func (s *Store) PeopleByIDs(ctx context.Context, ids []uint) ([]models.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Person
	err := s.conn(ctx).Where("id IN ?", ids).Order("id asc").Find(&out).Error
	return out, err
}

// PeopleByRole listet Personen einer Rolle.
func (s *Store) PeopleByRole(ctx context.Context, role models.Role) ([]models.Person, error) {
	var out []models.Person
	err := s.conn(ctx).Where("role = ?", role).Order("id asc").Find(&out).Error
	return out, err
}

// CreateOverride speichert einen Konflikt-Override einmalig pro Paar.
func (s *Store) CreateOverride(ctx context.Context, o *models.ConflictOverride) error {
	existing, err := s.FindOverride(ctx, o.ManuscriptID, o.ReviewerID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("reviewer %d on manuscript %d: %w", o.ReviewerID, o.ManuscriptID, errs.ErrOverrideExists)
	}
	if err := s.conn(ctx).Create(o).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("reviewer %d on manuscript %d: %w", o.ReviewerID, o.ManuscriptID, errs.ErrOverrideExists)
		}
		return err
	}
	return nil
}

// FindOverride lädt den Override eines Paares (nil, falls keiner).
func (s *Store) FindOverride(ctx context.Context, manuscriptID, reviewerID uint) (*models.ConflictOverride, error) {
	var o models.ConflictOverride
	err := s.conn(ctx).Where("manuscript_id = ? AND reviewer_id = ?", manuscriptID, reviewerID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OverridesForManuscript liefert alle Overrides eines Manuskripts.
func (s *Store) OverridesForManuscript(ctx context.Context, manuscriptID uint) ([]models.ConflictOverride, error) {
	var out []models.ConflictOverride
	err := s.conn(ctx).Where("manuscript_id = ?", manuscriptID).Order("id asc").Find(&out).Error
	return out, err
}

// Affiliations liefert die Zugehörigkeiten einer Personenmenge.
func (s *Store) Affiliations(ctx context.Context, personIDs []uint) ([]models.Affiliation, error) {
	var out []models.Affiliation
	err := s.conn(ctx).Where("person_id IN ?", personIDs).Order("id asc").Find(&out).Error
	return out, err
}

// AddAffiliation legt eine Zugehörigkeit an.
func (s *Store) AddAffiliation(ctx context.Context, a *models.Affiliation) error {
	return s.conn(ctx).Create(a).Error
}

// SharedPublications liefert Publikationen, die beide Personen gemeinsam verfasst haben.
func (s *Store) SharedPublications(ctx context.Context, a, b uint) ([]models.Publication, error) {
	var out []models.Publication
	err := s.conn(ctx).
		Where("id IN (?)", s.conn(ctx).Model(&models.PublicationAuthor{}).Select("publication_id").Where("person_id = ?", a)).
		Where("id IN (?)", s.conn(ctx).Model(&models.PublicationAuthor{}).Select("publication_id").Where("person_id = ?", b)).
		Order("published_at desc").
		Find(&out).Error
	return out, err
}

// AddPublication legt eine Publikation mit Autorenverknüpfungen an.
func (s *Store) AddPublication(ctx context.Context, p *models.Publication) error {
	return s.conn(ctx).Create(p).Error
}

// FinancialInterests liefert deklarierte Beziehungen zwischen den beiden Personen (in beide Richtungen).
func (s *Store) FinancialInterests(ctx context.Context, a, b uint) ([]models.FinancialInterest, error) {
	var out []models.FinancialInterest
	err := s.conn(ctx).
		Where("(person_id = ? AND counterpart_id = ?) OR (person_id = ? AND counterpart_id = ?)", a, b, b, a).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// AddFinancialInterest legt eine Deklaration an. DeclaredAt setzt der Aufrufer.
func (s *Store) AddFinancialInterest(ctx context.Context, f *models.FinancialInterest) error {
	if f.DeclaredAt.IsZero() {
		return fmt.Errorf("%w: financial interest without declaration time", errs.ErrInvalidInput)
	}
	return s.conn(ctx).Create(f).Error
}
