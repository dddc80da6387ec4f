// Package storage kapselt den Zugriff auf die Entitäten (GORM) und das
// S3-Archiv für Entscheidungsbriefe.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/models"
)

// Open verbindet sich je nach DB_DRIVER mit PostgreSQL oder SQLite.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = postgres.Open(cfg.DSN())
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	log.Info("Database connected", zap.String("driver", cfg.DBDriver))
	return db, nil
}

// Migrate führt die Auto-Migration aller Entitäten aus.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

// Store ist das Repository über alle Workflow-Entitäten. Innerhalb von InTx
// arbeitet eine Store-Kopie auf der Transaktion.
type Store struct {
	db *gorm.DB
}

// New erstellt einen Store über db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB gibt die zugrunde liegende Verbindung zurück.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InTx führt fn in einer Transaktion aus.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// notFound übersetzt gorm.ErrRecordNotFound in errs.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, errs.ErrNotFound)
	}
	return fmt.Errorf("load %s %v: %w", what, id, err)
}

// casResult wertet ein Compare-and-Swap-Update aus.
func casResult(res *gorm.DB, what string, id uint) error {
	if res.Error != nil {
		return fmt.Errorf("update %s %d: %w", what, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", what, id, errs.ErrConcurrentModification)
	}
	return nil
}
