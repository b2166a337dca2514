// Package worker runs due recurring obligations on a daily schedule and on demand.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"finplan/internal/core"
	"finplan/internal/metrics"
	"finplan/internal/services"
	"finplan/internal/storage"
)

var tracer = otel.Tracer("finplan/worker")

// Run triggers.
const (
	TriggerTick    = "tick"
	TriggerStartup = "startup"
	TriggerManual  = "manual"
	TriggerHTTP    = "http"
	TriggerAMQP    = "amqp"
)

const (
	defaultWorkers     = 4
	defaultItemTimeout = 30 * time.Second
)

// RunResult summarizes one batch.
type RunResult struct {
	RunID     string    `json:"run_id"`
	Trigger   string    `json:"trigger"`
	Date      string    `json:"date"`
	Due       int       `json:"due"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Reminders int       `json:"reminders"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// Config holds the scheduler settings.
type Config struct {
	RunAt        string // HH:MM, local time
	RunOnStartup bool
	Workers      int
	ItemTimeout  time.Duration
}

// ObligationScheduler selects due obligations and processes each one in the worker pool.
type ObligationScheduler struct {
	store     storage.Store
	processor *services.RecurringProcessor
	reminders *services.ReminderService
	metrics   *metrics.Collector
	clock     core.Clock

	runAt        ScheduleTime
	runOnStartup bool
	workers      int
	itemTimeout  time.Duration

	locks *keyedLock

	mu         sync.Mutex
	lastRunDay string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewObligationScheduler creates a scheduler. reminders and collector may be nil.
func NewObligationScheduler(cfg Config, store storage.Store, processor *services.RecurringProcessor, reminders *services.ReminderService, collector *metrics.Collector, clock core.Clock) (*ObligationScheduler, error) {
	if store == nil || processor == nil {
		return nil, errors.New("scheduler requires a store and a processor")
	}
	if clock == nil {
		clock = core.SystemClock{}
	}

	runAt := ScheduleTime{Hour: 6}
	if cfg.RunAt != "" {
		st, err := ParseScheduleTime(cfg.RunAt)
		if err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		runAt = st
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout := cfg.ItemTimeout
	if timeout <= 0 {
		timeout = defaultItemTimeout
	}

	return &ObligationScheduler{
		store:        store,
		processor:    processor,
		reminders:    reminders,
		metrics:      collector,
		clock:        clock,
		runAt:        runAt,
		runOnStartup: cfg.RunOnStartup,
		workers:      workers,
		itemTimeout:  timeout,
		locks:        newKeyedLock(),
	}, nil
}

// RunOnce processes every obligation due today. Item failures are logged and
// counted; they never abort the batch. The error is non-nil only when the due
// set could not be loaded.
func (s *ObligationScheduler) RunOnce(ctx context.Context, trigger string) (RunResult, error) {
	started := s.clock.Now()
	today := core.DateOf(started)
	res := RunResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Date:      today.String(),
		StartedAt: started,
	}

	ctx, span := tracer.Start(ctx, "scheduler.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("run.trigger", trigger),
		attribute.String("run.date", res.Date),
	))
	defer span.End()

	logger := slog.With("run_id", res.RunID, "trigger", trigger)

	due, err := s.store.ListDueObligations(ctx, today)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due obligations")
		return res, fmt.Errorf("list due obligations: %w", err)
	}
	res.Due = len(due)
	logger.InfoContext(ctx, "Processing due obligations",
		"due", res.Due,
		"date", res.Date,
		"workers", s.workers)

	var processed, failed, skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, o := range due {
		g.Go(func() error {
			switch s.processItem(ctx, logger, o, today) {
			case metrics.OutcomeProcessed:
				processed.Add(1)
			case metrics.OutcomeFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Processed = int(processed.Load())
	res.Failed = int(failed.Load())
	res.Skipped = int(skipped.Load())

	if s.reminders != nil && ctx.Err() == nil {
		n, err := s.reminders.SendUpcoming(ctx, today)
		if err != nil {
			logger.ErrorContext(ctx, "Reminder pass incomplete", "error", err)
		}
		res.Reminders = n
		s.metrics.RecordReminders(n)
	}

	elapsed := s.clock.Now().Sub(started)
	res.Duration = elapsed.String()
	s.metrics.RecordRun(trigger, res.Due, elapsed, s.clock.Now())

	span.SetAttributes(
		attribute.Int("run.due", res.Due),
		attribute.Int("run.processed", res.Processed),
		attribute.Int("run.failed", res.Failed),
	)
	if res.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d occurrences failed", res.Failed))
	}

	logger.InfoContext(ctx, "Obligation run complete",
		"due", res.Due,
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"reminders", res.Reminders)

	return res, nil
}

func (s *ObligationScheduler) processItem(ctx context.Context, logger *slog.Logger, o core.RecurringObligation, today core.Date) string {
	started := time.Now()

	ctx, span := tracer.Start(ctx, "scheduler.occurrence", trace.WithAttributes(
		attribute.Int64("obligation.id", o.ID),
		attribute.Int64("obligation.profile_id", o.ProfileID),
		attribute.String("obligation.frequency", string(o.Frequency)),
		attribute.String("obligation.next_run", o.NextRun.String()),
	))
	defer span.End()

	outcome := s.process(ctx, logger, o, today)
	span.SetAttributes(attribute.String("occurrence.outcome", outcome))
	s.metrics.RecordOccurrence(outcome, time.Since(started))
	return outcome
}

func (s *ObligationScheduler) process(ctx context.Context, logger *slog.Logger, o core.RecurringObligation, today core.Date) string {
	ctx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	fail := func(msg string, err error) string {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		logger.ErrorContext(ctx, msg,
			"obligation_id", o.ID,
			"occurrence", o.NextRun.String(),
			"retryable", core.IsRetryable(err),
			"error", err)
		return metrics.OutcomeFailed
	}

	unlock, err := s.locks.Lock(ctx, o.ID)
	if err != nil {
		return fail("Timed out waiting for obligation lock", err)
	}
	defer unlock()

	res, err := s.processor.ProcessOccurrence(ctx, o.ID, today)
	if err != nil {
		return fail("Failed to process obligation occurrence", err)
	}
	if res.Skipped {
		return metrics.OutcomeSkipped
	}
	for _, n := range res.Notifications {
		s.metrics.RecordNotification(string(n.Kind))
	}
	return metrics.OutcomeProcessed
}

// Start launches the daily loop. It returns immediately; call Shutdown to stop it.
func (s *ObligationScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	now := s.clock.Now()
	trigger := ""
	switch {
	case s.runOnStartup:
		trigger = TriggerStartup
	case s.runAt.reached(now):
		// started after today's slot: run the missed daily pass now
		trigger = TriggerTick
	}

	if trigger != "" {
		s.markRun(now)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.RunOnce(ctx, trigger); err != nil {
				slog.ErrorContext(ctx, "Startup run failed", "error", err, "trigger", trigger)
			}
		}()
	}

	s.wg.Add(1)
	go s.loop(ctx)

	slog.InfoContext(ctx, "Obligation scheduler started",
		"run_at", s.runAt.String(),
		"next_run", s.runAt.Next(now).Format(time.RFC3339),
		"run_on_startup", s.runOnStartup)
}

func (s *ObligationScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler loop stopped")
			return
		case <-ticker.C:
			now := s.clock.Now()
			if !s.shouldRun(now) {
				continue
			}
			slog.InfoContext(ctx, "Scheduled run triggered", "at", now.Format("15:04"))
			if _, err := s.RunOnce(ctx, TriggerTick); err != nil {
				slog.ErrorContext(ctx, "Scheduled run failed", "error", err)
			}
		}
	}
}

// shouldRun reports whether the daily slot has been reached on a day without a run,
// and claims the day when it has.
func (s *ObligationScheduler) shouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := now.Format(time.DateOnly)
	if s.lastRunDay == day || !s.runAt.reached(now) {
		return false
	}
	s.lastRunDay = day
	return true
}

func (s *ObligationScheduler) markRun(now time.Time) {
	s.mu.Lock()
	s.lastRunDay = now.Format(time.DateOnly)
	s.mu.Unlock()
}

// Shutdown stops the loop and waits for an in-flight run up to timeout.
func (s *ObligationScheduler) Shutdown(timeout time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Obligation scheduler stopped")
	case <-time.After(timeout):
		slog.Warn("Timeout waiting for obligation scheduler to stop")
	}
}
