package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "festtix/internal/errors"
	"festtix/internal/metrics"
)

// CounterStore adjusts the authoritative tickets_booked counter
type CounterStore interface {
	Increment(ctx context.Context, eventID string) (int, error)
	Decrement(ctx context.Context, eventID string) (int, error)
}

// CounterQueueConfig tunes retries of background counter adjustments
type CounterQueueConfig struct {
	Size           int
	MaxRetries     int
	RetryBase      time.Duration
	AttemptTimeout time.Duration
}

type counterJob struct {
	eventID string
	delta   int
}

// CounterQueue applies tickets_booked adjustments off the request path. Each
// job is retried with exponential backoff; when it is given up the drift
// handler runs so the caller can re-sync its projections.
type CounterQueue struct {
	store   CounterStore
	cfg     CounterQueueConfig
	onDrift func(*apperrors.CounterDriftWarning)
	onApply func(eventID string, booked int)

	jobs chan counterJob
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

func NewCounterQueue(store CounterStore, cfg CounterQueueConfig) *CounterQueue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	q := &CounterQueue{
		store:   store,
		cfg:     cfg,
		onDrift: func(*apperrors.CounterDriftWarning) {},
		onApply: func(string, int) {},
		jobs:    make(chan counterJob, cfg.Size),
		done:    make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// OnDrift sets the handler for abandoned adjustments. Call before Start.
func (q *CounterQueue) OnDrift(fn func(*apperrors.CounterDriftWarning)) {
	q.onDrift = fn
}

// OnApply sets the handler receiving the new count after each adjustment.
// Call before Start.
func (q *CounterQueue) OnApply(fn func(eventID string, booked int)) {
	q.onApply = fn
}

// Start runs the single worker; one worker keeps adjustments in order
func (q *CounterQueue) Start() {
	q.wg.Add(1)
	go q.run()
	slog.Info("Counter queue started", "size", q.cfg.Size, "max_retries", q.cfg.MaxRetries)
}

// Stop refuses new jobs, lets the worker drain what is queued and waits.
// Backoff waits are cut short, so queued jobs get one more attempt at most.
func (q *CounterQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Counter queue stopped")
}

// Enqueue schedules a +1/-1 adjustment without blocking. A full or stopped
// queue reports the drift immediately.
func (q *CounterQueue) Enqueue(eventID string, delta int) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.drift(counterJob{eventID, delta}, 0, errors.New("counter queue stopped"))
		return false
	}
	select {
	case q.jobs <- counterJob{eventID: eventID, delta: delta}:
		q.pending++
		metrics.CounterQueueDepth.Inc()
		q.mu.Unlock()
		return true
	default:
		q.mu.Unlock()
		q.drift(counterJob{eventID, delta}, 0, errors.New("counter queue full"))
		return false
	}
}

// Flush blocks until every accepted job has been applied or given up
func (q *CounterQueue) Flush() {
	q.mu.Lock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

func (q *CounterQueue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		metrics.CounterQueueDepth.Dec()
		q.process(job)

		q.mu.Lock()
		q.pending--
		if q.pending == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

func (q *CounterQueue) process(job counterJob) {
	direction := "increment"
	if job.delta < 0 {
		direction = "decrement"
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 && !q.backoff(attempt) {
			break
		}
		attempts++

		booked, err := q.apply(job)
		if err == nil {
			metrics.CounterUpdatesTotal.WithLabelValues(direction, "ok").Inc()
			q.onApply(job.eventID, booked)
			return
		}
		lastErr = err
		metrics.CounterUpdatesTotal.WithLabelValues(direction, "error").Inc()
		if errors.Is(err, apperrors.ErrEventNotFound) {
			// event deleted in the meantime, nothing left to count
			slog.Info("Dropping counter adjustment for deleted event", "event_id", job.eventID)
			return
		}
		slog.Debug("Counter adjustment failed",
			"event_id", job.eventID,
			"delta", job.delta,
			"attempt", attempts,
			"error", err)
	}
	q.drift(job, attempts, lastErr)
}

func (q *CounterQueue) apply(job counterJob) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.AttemptTimeout)
	defer cancel()
	if job.delta < 0 {
		return q.store.Decrement(ctx, job.eventID)
	}
	return q.store.Increment(ctx, job.eventID)
}

// backoff sleeps RetryBase * 2^(attempt-1); false when stopping
func (q *CounterQueue) backoff(attempt int) bool {
	delay := q.cfg.RetryBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.done:
		return false
	}
}

func (q *CounterQueue) drift(job counterJob, attempts int, cause error) {
	warning := &apperrors.CounterDriftWarning{
		EventID:  job.eventID,
		Delta:    job.delta,
		Attempts: attempts,
		Cause:    cause,
	}
	metrics.CounterDriftTotal.Inc()
	slog.Warn("Counter drift",
		"event_id", warning.EventID,
		"delta", warning.Delta,
		"attempts", warning.Attempts,
		"error", warning)
	q.onDrift(warning)
}
