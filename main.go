package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"journal-desk/app"
	"journal-desk/config"
	"journal-desk/services/quality"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if cfg.JWTSecret == "" {
		logging.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Setup failed", zap.Error(err))
	}
	defer a.Close()

	worker := quality.NewWorker(a.Quality, cfg.QualityWorkers, cfg.QualityPollInterval, logging.Named("quality-worker"))
	worker.Start(ctx)

	scheduler, err := setupCron(a, cfg, logging)
	if err != nil {
		logging.Fatal("Cron setup failed", zap.Error(err))
	}
	scheduler.Start()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthz(a))
	setupRoutes(router, a)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown failed", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	worker.Stop()
}

// setupCron registriert die Wartungsläufe nach den konfigurierten Zeitplänen.
func setupCron(a *app.App, cfg *config.Config, logging *zap.Logger) (*cron.Cron, error) {
	schedules := map[string]string{
		"dispatch":    cfg.InvitationDispatchSchedule,
		"reminders":   cfg.ReminderSweepSchedule,
		"expiry":      cfg.ExpirySweepSchedule,
		"publication": cfg.PublicationSweepSchedule,
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, sweep := range a.Sweeps() {
		spec, ok := schedules[sweep.Name]
		if !ok {
			continue
		}
		sweep := sweep
		if _, err := c.AddFunc(spec, func() {
			logging.Info("Running scheduled sweep", zap.String("sweep", sweep.Name))
			if err := sweep.Run(context.Background()); err != nil {
				logging.Error("Scheduled sweep failed", zap.String("sweep", sweep.Name), zap.Error(err))
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func healthz(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := a.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
