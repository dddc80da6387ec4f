// Command sweep führt die Wartungsläufe einmalig aus, etwa aus einem
// externen Scheduler heraus.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"journal-desk/app"
	"journal-desk/config"
)

func main() {
	only := pflag.StringSlice("only", nil, "run only these sweeps (dispatch, reminders, expiry, publication, quality)")
	list := pflag.Bool("list", false, "list available sweeps and exit")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	logging, err := newLogger(*verbose)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Setup failed", zap.Error(err))
	}
	defer a.Close()

	if *list {
		for _, s := range a.Sweeps() {
			fmt.Println(s.Name)
		}
		return
	}

	logging.Info("Running sweeps", zap.String("only", strings.Join(*only, ",")))
	if err := a.RunSweeps(ctx, *only...); err != nil {
		logging.Error("Sweeps finished with errors", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
	logging.Info("Sweeps finished")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
