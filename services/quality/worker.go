package quality

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker konsumiert die Queue mit einer festen Anzahl Goroutinen. Jeder
// Worker leert die Queue und wartet dann ein Poll-Intervall.
type Worker struct {
	svc     *Service
	workers int
	poll    time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker erstellt einen Worker-Pool.
func NewWorker(svc *Service, workers int, poll time.Duration, logger *zap.Logger) *Worker {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{svc: svc, workers: workers, poll: poll, logger: logger}
}

// Start startet die Goroutinen; ein zweiter Aufruf ist wirkungslos.
func (w *Worker) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.logger.Info("Starting quality workers", zap.Int("workers", w.workers), zap.Duration("poll", w.poll))
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
}

// Stop beendet alle Goroutinen und wartet auf laufende Jobs.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("Quality workers stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		for ctx.Err() == nil {
			processed, err := w.svc.RunOnce(ctx)
			if err != nil {
				w.logger.Warn("Quality worker error", zap.Int("worker_id", id), zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
