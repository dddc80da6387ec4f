package quality

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"journal-desk/clock"
	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/storage"
)

// Queue ist die Prioritäts-Queue der Analysejobs: höhere Priorität zuerst,
// innerhalb einer Priorität FIFO. Dequeue liefert nil, wenn nichts fällig ist.
type Queue interface {
	Enqueue(ctx context.Context, job *models.QualityAnalysisJob) error
	// Dequeue übergibt den Job exklusiv an den Aufrufer bis Ack oder Fail.
	Dequeue(ctx context.Context) (*models.QualityAnalysisJob, error)
	Ack(ctx context.Context, job *models.QualityAnalysisJob) error
	// Fail plant einen weiteren Versuch oder parkt den Job als failed.
	Fail(ctx context.Context, job *models.QualityAnalysisJob, cause error) (parked bool, err error)
	Cancel(ctx context.Context, jobID string) error
}

// DBQueue ist die persistente Queue auf Basis der Job-Tabelle. Mehrere
// Worker-Prozesse können parallel konsumieren.
type DBQueue struct {
	store *storage.Store
	clock clock.Clock
	retry config.RetryPolicy
}

// NewDBQueue erstellt eine datenbankgestützte Queue.
func NewDBQueue(store *storage.Store, clk clock.Clock, retry config.RetryPolicy) *DBQueue {
	return &DBQueue{store: store, clock: clk, retry: retry}
}

func (q *DBQueue) Enqueue(ctx context.Context, job *models.QualityAnalysisJob) error {
	prepare(job, q.clock.Now(), q.retry)
	return q.store.EnqueueJob(ctx, job)
}

func (q *DBQueue) Dequeue(ctx context.Context) (*models.QualityAnalysisJob, error) {
	return q.store.ClaimNextJob(ctx, q.clock.Now())
}

func (q *DBQueue) Ack(ctx context.Context, job *models.QualityAnalysisJob) error {
	complete(job, q.clock.Now())
	return q.store.UpdateJob(ctx, job)
}

func (q *DBQueue) Fail(ctx context.Context, job *models.QualityAnalysisJob, cause error) (bool, error) {
	parked := reschedule(job, q.clock.Now(), q.retry, cause)
	return parked, q.store.UpdateJob(ctx, job)
}

func (q *DBQueue) Cancel(ctx context.Context, jobID string) error {
	return q.store.CancelJob(ctx, jobID, q.clock.Now())
}

func prepare(job *models.QualityAnalysisJob, now time.Time, retry config.RetryPolicy) {
	job.Status = models.JobQueued
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = retry.MaxAttempts
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
}

func complete(job *models.QualityAnalysisJob, now time.Time) {
	job.Status = models.JobCompleted
	job.LastError = ""
	job.FinishedAt = &now
}

// reschedule setzt nach einem Fehlschlag den nächsten Versuch oder parkt den
// Job, wenn das Versuchsbudget erschöpft ist.
func reschedule(job *models.QualityAnalysisJob, now time.Time, retry config.RetryPolicy, cause error) bool {
	if job.Attempts >= job.MaxAttempts {
		job.Status = models.JobFailed
		job.LastError = fmt.Sprintf("%s after %d attempts: %v", errs.ErrJobFailedPermanently, job.Attempts, cause)
		job.FinishedAt = &now
		return true
	}
	job.Status = models.JobQueued
	job.LastError = cause.Error()
	job.NextAttemptAt = now.Add(retry.Delay(job.Attempts))
	return false
}

// MemoryQueue hält Jobs im Prozess. Sie eignet sich für einen einzelnen
// Worker-Prozess und für Tests. Dequeue liefert Kopien; der interne Zustand
// wird nur unter mu geändert.
type MemoryQueue struct {
	mu    sync.Mutex
	clock clock.Clock
	retry config.RetryPolicy
	items jobHeap
	jobs  map[string]*models.QualityAnalysisJob
	seq   uint
}

// NewMemoryQueue erstellt eine leere In-Memory-Queue.
func NewMemoryQueue(clk clock.Clock, retry config.RetryPolicy) *MemoryQueue {
	return &MemoryQueue{clock: clk, retry: retry, jobs: make(map[string]*models.QualityAnalysisJob)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *models.QualityAnalysisJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.JobID == "" {
		return fmt.Errorf("%w: job id is required", errs.ErrInvalidInput)
	}
	q.seq++
	job.ID = q.seq
	prepare(job, q.clock.Now(), q.retry)
	own := *job
	q.jobs[job.JobID] = &own
	heap.Push(&q.items, &own)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*models.QualityAnalysisJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var deferred []*models.QualityAnalysisJob
	defer func() {
		for _, j := range deferred {
			heap.Push(&q.items, j)
		}
	}()
	for q.items.Len() > 0 {
		job := heap.Pop(&q.items).(*models.QualityAnalysisJob)
		if job.Status != models.JobQueued {
			continue
		}
		if job.NextAttemptAt.After(now) {
			deferred = append(deferred, job)
			continue
		}
		job.Status = models.JobRunning
		job.Attempts++
		cp := *job
		return &cp, nil
	}
	return nil, nil
}

// owned liefert den internen Job zu einer von Dequeue gelieferten Kopie.
func (q *MemoryQueue) owned(job *models.QualityAnalysisJob) (*models.QualityAnalysisJob, error) {
	own, ok := q.jobs[job.JobID]
	if !ok {
		return nil, fmt.Errorf("quality job %s: %w", job.JobID, errs.ErrNotFound)
	}
	return own, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job *models.QualityAnalysisJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	own, err := q.owned(job)
	if err != nil {
		return err
	}
	complete(job, q.clock.Now())
	*own = *job
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *models.QualityAnalysisJob, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	own, err := q.owned(job)
	if err != nil {
		return false, err
	}
	parked := reschedule(job, q.clock.Now(), q.retry, cause)
	*own = *job
	if !parked {
		heap.Push(&q.items, own)
	}
	return parked, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("quality job %s: %w", jobID, errs.ErrNotFound)
	}
	if job.Status != models.JobQueued {
		return fmt.Errorf("quality job %s is not queued: %w", jobID, errs.ErrPreconditionNotMet)
	}
	now := q.clock.Now()
	job.Status = models.JobCancelled
	job.FinishedAt = &now
	return nil
}

func (q *MemoryQueue) Job(_ context.Context, jobID string) (*models.QualityAnalysisJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("quality job %s: %w", jobID, errs.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (q *MemoryQueue) Parked(_ context.Context) ([]models.QualityAnalysisJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.QualityAnalysisJob
	for _, j := range q.jobs {
		if j.Status == models.JobFailed {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (q *MemoryQueue) Requeue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("quality job %s: %w", jobID, errs.ErrNotFound)
	}
	if job.Status != models.JobFailed {
		return fmt.Errorf("quality job %s is not failed: %w", jobID, errs.ErrPreconditionNotMet)
	}
	job.Status = models.JobQueued
	job.Attempts = 0
	job.LastError = ""
	job.FinishedAt = nil
	job.NextAttemptAt = q.clock.Now()
	heap.Push(&q.items, job)
	return nil
}

// Len zählt wartende Jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.items {
		if j.Status == models.JobQueued {
			n++
		}
	}
	return n
}

type jobHeap []*models.QualityAnalysisJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ID < h[j].ID
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*models.QualityAnalysisJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
