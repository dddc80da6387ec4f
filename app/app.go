// Package app verdrahtet Konfiguration, Speicher und Services für den
// Server und die Kommandozeilenwerkzeuge.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/identity"
	"journal-desk/notify"
	"journal-desk/providers"
	"journal-desk/providers/europepmc"
	"journal-desk/providers/pubmed"
	"journal-desk/services/conflict"
	"journal-desk/services/decision"
	"journal-desk/services/invitation"
	"journal-desk/services/lifecycle"
	"journal-desk/services/quality"
	"journal-desk/storage"
)

// App hält alle verdrahteten Services.
type App struct {
	Config *config.Config
	Policy *config.Policy
	DB     *gorm.DB
	Store  *storage.Store
	Roles  *identity.CachedRoles
	Logger *zap.Logger

	Lifecycle   *lifecycle.Service
	Conflicts   *conflict.Service
	Invitations *invitation.Service
	Quality     *quality.Service
	Decisions   *decision.Service
}

// New öffnet die Datenbank, migriert sie und baut die Services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	policy, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return Wire(ctx, cfg, policy, db, logger)
}

func loadPolicy(cfg *config.Config) (*config.Policy, error) {
	if cfg.PolicyFile == "" {
		return config.DefaultPolicy()
	}
	return config.LoadPolicy(cfg.PolicyFile)
}

// Wire baut die Services über eine bestehende Verbindung.
func Wire(ctx context.Context, cfg *config.Config, policy *config.Policy, db *gorm.DB, logger *zap.Logger) (*App, error) {
	store := storage.New(db)
	clk := clock.Real{}
	roles := identity.NewCachedRoles(identity.NewStoreRoles(store), cfg.RoleCacheTTL)
	notifier := newNotifier(cfg, store, logger)

	archive, err := newLetterArchive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	lc := lifecycle.NewService(store, roles, clk, policy.Lifecycle, logger.Named("lifecycle"))
	conflicts := conflict.NewService(store, newEvidence(cfg, store, logger), roles, clk, policy.Conflicts, logger.Named("conflict"))
	qualitySvc := quality.NewService(store, quality.NewDBQueue(store, clk, policy.Jobs), quality.NewAnalyzer(),
		roles, notifier, clk, policy.Quality, logger.Named("quality"))
	invitations := invitation.NewService(invitation.Deps{
		Store:     store,
		Lifecycle: lc,
		Conflicts: conflicts,
		Notifier:  notifier,
		Roles:     roles,
		Analysis:  qualitySvc,
		Clock:     clk,
		Policy:    policy.Invitations,
		Logger:    logger.Named("invitation"),
	})

	var letters decision.LetterArchive
	if archive != nil {
		letters = archive
	}
	decisions := decision.NewService(store, lc, notifier, letters, clk, policy, logger.Named("decision"))

	return &App{
		Config:      cfg,
		Policy:      policy,
		DB:          db,
		Store:       store,
		Roles:       roles,
		Logger:      logger,
		Lifecycle:   lc,
		Conflicts:   conflicts,
		Invitations: invitations,
		Quality:     qualitySvc,
		Decisions:   decisions,
	}, nil
}

func newNotifier(cfg *config.Config, store *storage.Store, logger *zap.Logger) notify.Sender {
	if !cfg.SMTPConfigured() {
		logger.Warn("SMTP not configured, notifications are only logged")
		return notify.NewLogSender(logger.Named("notify"))
	}
	return notify.NewMailSender(store, notify.NewDialer(cfg), cfg.SMTPFrom, logger.Named("notify"))
}

func newLetterArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.LetterArchive, error) {
	if !cfg.LetterArchiveConfigured() {
		logger.Info("Letter archive disabled")
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return storage.NewLetterArchive(client, cfg.LetterS3Bucket, cfg.LetterS3URL), nil
}

func newEvidence(cfg *config.Config, store *storage.Store, logger *zap.Logger) *providers.Evidence {
	client := &http.Client{Timeout: 30 * time.Second}
	var sources []providers.PublicationSource
	if cfg.EuropePMCEnabled {
		sources = append(sources, europepmc.NewFetcher(cfg.EuropePMCBaseURL, client, logger.Named("europepmc")))
	}
	if cfg.PubMedEnabled {
		sources = append(sources, pubmed.NewFetcher(pubmed.Options{
			BaseURL:    cfg.PubMedBaseURL,
			APIKey:     cfg.PubMedAPIKey,
			Tool:       cfg.PubMedTool,
			Email:      cfg.PubMedEmail,
			MaxResults: cfg.PubMedMaxResults,
		}, client, logger.Named("pubmed")))
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	logger.Info("Publication sources loaded", zap.Strings("sources", names))
	return providers.NewEvidence(store, logger.Named("evidence"), sources...)
}

// Sweep ist ein benannter Wartungslauf.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sweeps liefert die Wartungsläufe in fester Reihenfolge.
func (a *App) Sweeps() []Sweep {
	return []Sweep{
		{Name: "dispatch", Run: func(ctx context.Context) error {
			_, err := a.Invitations.DispatchDue(ctx)
			return err
		}},
		{Name: "reminders", Run: func(ctx context.Context) error {
			_, err := a.Invitations.SendReminders(ctx)
			return err
		}},
		{Name: "expiry", Run: func(ctx context.Context) error {
			_, err := a.Invitations.ExpireOverdue(ctx)
			return err
		}},
		{Name: "publication", Run: func(ctx context.Context) error {
			_, err := a.Decisions.PublishDue(ctx)
			return err
		}},
		{Name: "quality", Run: func(ctx context.Context) error {
			_, err := a.Quality.Drain(ctx)
			return err
		}},
	}
}

// RunSweeps führt die gewählten Läufe nacheinander aus. Ein leeres names
// wählt alle. Fehler einzelner Läufe brechen die übrigen nicht ab.
func (a *App) RunSweeps(ctx context.Context, names ...string) error {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out error
	ran := 0
	for _, s := range a.Sweeps() {
		if len(want) > 0 && !want[s.Name] {
			continue
		}
		ran++
		if err := s.Run(ctx); err != nil {
			a.Logger.Error("Sweep failed", zap.String("sweep", s.Name), zap.Error(err))
			out = multierr.Append(out, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	if len(want) > 0 && ran != len(want) {
		out = multierr.Append(out, fmt.Errorf("unknown sweep in %v", names))
	}
	return out
}

// Close schließt die Datenbankverbindung.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
