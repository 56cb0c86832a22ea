// Package dispatcher implements the Dispatcher Loop of spec.md §4.8: the
// single-threaded cooperative scheduler that drives the input stream and
// retry queue through the admission controller and out to concurrent
// attempt goroutines, terminating only when every started record has
// reached a terminal state.
//
// Grounded on spec.md §4.8 and the original Python's `while True` main
// loop (api_request_parallel_processor.py), written fresh in the teacher's
// idiom since gandalf has no batch-scheduler precedent: context.Context
// plumbed throughout, log/slog for structured logging, and a plain
// sync.WaitGroup (not errgroup) tracking in-flight attempts -- errgroup's
// WithContext cancels every sibling goroutine on the first error, but one
// record's exhausted retries must never cancel another record's attempt.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eugener/ratedispatch/internal/admission"
	"github.com/eugener/ratedispatch/internal/dispatch"
	"github.com/eugener/ratedispatch/internal/inputstream"
	"github.com/eugener/ratedispatch/internal/outputlog"
	"github.com/eugener/ratedispatch/internal/retryqueue"
	"github.com/eugener/ratedispatch/internal/telemetry"
	"github.com/eugener/ratedispatch/internal/tokencount"
)

// tickInterval is the scheduler's idle sleep, capping its intrinsic
// admission rate at roughly 1000 ticks/second (spec.md §4.7).
const tickInterval = time.Millisecond

// Config bundles the Engine's fixed parameters. Metrics is nil when
// Prometheus metrics are disabled (SPEC_FULL.md §6's --metrics flag); every
// site that touches it checks for nil first.
type Config struct {
	MaxAttempts  int
	EndpointKind tokencount.EndpointKind
	Encoder      tokencount.Encoder
	Metrics      *telemetry.Metrics
}

// Engine owns the Dispatcher Loop's state: the next-pending slot, and its
// three collaborators (input stream, retry queue, admission controller).
// The next-pending slot, the input stream and the admission controller are
// mutated only by the goroutine running Run, per spec.md §5's single-writer
// discipline -- no locking inside Engine itself. The retry queue is also
// pushed to by attempt goroutines and does its own locking.
type Engine struct {
	cfg Config

	input     *inputstream.Stream
	retry     *retryqueue.Queue
	admission *admission.Controller
	tracker   *dispatch.Tracker
	client    dispatch.APIClient
	log       *outputlog.Log

	nextPending    *dispatch.Record
	inputExhausted bool

	wg sync.WaitGroup
}

// New creates an Engine ready to Run.
func New(cfg Config, input *inputstream.Stream, retry *retryqueue.Queue, adm *admission.Controller, tracker *dispatch.Tracker, client dispatch.APIClient, log *outputlog.Log) *Engine {
	return &Engine{
		cfg:       cfg,
		input:     input,
		retry:     retry,
		admission: adm,
		tracker:   tracker,
		client:    client,
		log:       log,
	}
}

// Run drives the dispatcher loop until every started record reaches a
// terminal state, or ctx is cancelled, or a fatal error occurs (a
// malformed input line, or an unsupported endpoint / invalid embedding
// input from the token counter -- spec.md §7's fatal classification).
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		default:
		}

		if err := e.fillNextPending(); err != nil {
			e.wg.Wait()
			return err
		}

		now := time.Now()
		e.admission.Replenish(now)

		if e.nextPending != nil && e.admission.Admit(e.nextPending.TokenCost) {
			rec := e.nextPending
			e.nextPending = nil
			rec.AttemptsLeft--
			e.dispatchAsync(ctx, rec)
		}

		if e.tracker.InProgress() == 0 && e.nextPending == nil {
			break
		}

		time.Sleep(tickInterval)

		if remaining := admission.CooldownRemaining(e.tracker.TimeSinceLastRateLimitError(time.Now()), admission.CooldownWindow); remaining > 0 {
			slog.Info("cooling down after rate-limit pressure", "remaining", remaining)
			time.Sleep(remaining)
		}
	}

	e.wg.Wait()
	return nil
}

// fillNextPending implements spec.md §4.8 step 1: the retry queue is drained
// first, and only when it is empty (and the input stream is not exhausted)
// does the loop read a fresh record.
func (e *Engine) fillNextPending() error {
	if e.nextPending != nil {
		return nil
	}

	if rec, ok := e.retry.TryPop(); ok {
		e.nextPending = rec
		return nil
	}

	if e.inputExhausted {
		return nil
	}

	payload, metadata, hasMetadata, taskID, ok, err := e.input.Next()
	if err != nil {
		return fmt.Errorf("dispatcher: input stream: %w", err)
	}
	if !ok {
		e.inputExhausted = true
		return nil
	}

	cost, err := tokencount.Estimate(payload, e.cfg.EndpointKind, e.cfg.Encoder)
	if err != nil {
		return fmt.Errorf("dispatcher: task %d: %w", taskID, err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.TokensEstimated.WithLabelValues(e.cfg.EndpointKind.String()).Add(float64(cost))
	}

	rec := dispatch.NewRecord(taskID, payload, cost, e.cfg.MaxAttempts, metadata, hasMetadata)
	e.tracker.RecordStarted()
	e.nextPending = rec
	return nil
}

// dispatchAsync launches one attempt as an independent concurrent task
// (spec.md §4.8 step 3). Its outcome, whichever way it resolves, flows back
// through the retry queue or the output log -- never back through
// nextPending, which only ever holds a record awaiting its *next*
// dispatch.
func (e *Engine) dispatchAsync(ctx context.Context, rec *dispatch.Record) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		start := time.Now()
		outcome, retry := rec.Attempt(ctx, e.client, e.tracker, time.Now())
		if e.cfg.Metrics != nil {
			label := "retry"
			if !retry {
				label = "failure"
				if outcome.Success {
					label = "success"
				}
			}
			e.cfg.Metrics.AttemptDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		}
		if retry {
			e.retry.Push(rec)
			return
		}
		if err := e.log.Append(ctx, *outcome); err != nil {
			slog.Error("failed to append output record", "task_id", rec.TaskID, "error", err)
		}
	}()
}
