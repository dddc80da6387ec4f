// Package testutil stellt eine migrierte In-Memory-Datenbank und Seed-Helfer
// für Tests bereit.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"journal-desk/models"
)

// NewDB öffnet eine frische SQLite-In-Memory-Datenbank mit allen Tabellen.
// Die Verbindung ist auf eins begrenzt, damit alle Zugriffe dieselbe
// In-Memory-Instanz sehen.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// SeedPerson legt eine Person mit Rolle an.
func SeedPerson(t *testing.T, db *gorm.DB, name string, role models.Role) *models.Person {
	t.Helper()
	p := &models.Person{DisplayName: name, LastName: name, Email: name + "@example.org", Role: role}
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedManuscript legt ein Manuskript im angegebenen Status mit Autoren an.
func SeedManuscript(t *testing.T, db *gorm.DB, status models.ManuscriptStatus, authorIDs ...uint) *models.Manuscript {
	t.Helper()
	m := &models.Manuscript{Title: "Manuscript", Status: status, Priority: models.PriorityNormal, Version: 1}
	for i, id := range authorIDs {
		m.Authors = append(m.Authors, models.ManuscriptAuthor{AuthorID: id, Corresponding: i == 0})
	}
	if len(authorIDs) > 0 {
		m.SubmittingAuthorID = authorIDs[0]
	}
	require.NoError(t, db.Create(m).Error)
	return m
}
