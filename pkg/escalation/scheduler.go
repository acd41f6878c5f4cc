// Package escalation runs the periodic scan that reassigns overdue steps.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/services"
	"github.com/robfig/cron/v3"
)

// ErrTickInProgress is returned by RunOnce when the previous tick has not finished.
var ErrTickInProgress = errors.New("escalation tick already running")

// Escalator reassigns an overdue step.
type Escalator interface {
	Escalate(ctx context.Context, id string) (*models.WorkflowInstance, error)
}

// TickLock keeps replicas from ticking at the same time.
type TickLock interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// TickReport summarizes one tick.
type TickReport struct {
	Scanned     int
	Escalated   int
	MissingRole int
	Conflicts   int
	Failed      int
	Skipped     bool
}

// Scheduler owns the tick loop. Ticks never overlap: a tick due while the previous one
// runs is skipped.
type Scheduler struct {
	instances persistence.InstanceRepository
	templates persistence.TemplateRepository
	escalator Escalator
	publisher eventbus.EventPublisher
	lock      TickLock
	metrics   *metrics.Recorder
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	cancel  context.CancelFunc
	lastRun time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPublisher emits escalation.overdue events for overdue steps that have no escalation role.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = publisher }
}

func WithTickLock(lock TickLock) Option {
	return func(s *Scheduler) { s.lock = lock }
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = recorder }
}

func NewScheduler(p persistence.Persistence, escalator Escalator, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		instances: p.InstanceRepository(),
		templates: p.TemplateRepository(),
		escalator: escalator,
		logger:    logger.With("module", "escalation"),
		interval:  interval,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start schedules ticks every interval until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid escalation interval %s", s.interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("escalation scheduler already started")
	}

	tickCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: s.logger}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	entry, err := c.AddFunc("@every "+s.interval.String(), func() {
		_, _ = s.RunOnce(tickCtx)
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to schedule escalation tick: %w", err)
	}

	s.cron = c
	s.entry = entry
	s.cancel = cancel

	c.Start()
	s.logger.InfoContext(ctx, "escalation scheduler started", "interval", s.interval)

	return nil
}

// Stop cancels the running tick and waits for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	cancel()

	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "escalation scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns when the next tick is due, or the zero time when not started.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}

	return s.cron.Entry(s.entry).Next
}

// LastRun returns when the last completed tick started.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRun
}

// RunOnce performs a single tick.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.Tick("skipped", 0)
		s.logger.WarnContext(ctx, "skipping escalation tick, previous tick still running")

		return TickReport{Skipped: true}, ErrTickInProgress
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.metrics.Tick("failed", 0)

			return TickReport{}, fmt.Errorf("failed to acquire tick lock: %w", err)
		}

		if !acquired {
			s.metrics.Tick("skipped", 0)
			s.logger.DebugContext(ctx, "another replica holds the escalation tick")

			return TickReport{Skipped: true}, nil
		}
		defer release()
	}

	started := time.Now()

	report, err := s.tick(ctx)
	if err != nil {
		s.metrics.Tick("failed", time.Since(started).Seconds())

		return report, err
	}

	s.metrics.Tick("completed", time.Since(started).Seconds())

	s.mu.Lock()
	s.lastRun = started
	s.mu.Unlock()

	if report.Escalated > 0 || report.MissingRole > 0 || report.Failed > 0 {
		s.logger.InfoContext(ctx, "escalation tick finished",
			"scanned", report.Scanned,
			"escalated", report.Escalated,
			"missing_role", report.MissingRole,
			"conflicts", report.Conflicts,
			"failed", report.Failed,
		)
	}

	return report, nil
}

func (s *Scheduler) tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	active, err := s.instances.ListNonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list active instances: %w", err)
	}

	templates := make(map[string]models.Steps)
	now := s.now().UTC()

	for _, instance := range active {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Scanned++

		steps, ok := templates[instance.TemplateID]
		if !ok {
			template, err := s.templates.GetByID(ctx, instance.TemplateID)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to load template", "template_id", instance.TemplateID, "error", err)
				report.Failed++

				continue
			}

			steps, err = template.Sequence()
			if err != nil {
				s.logger.ErrorContext(ctx, "template has invalid steps", "template_id", template.ID, "error", err)
				report.Failed++

				continue
			}

			templates[instance.TemplateID] = steps
		}

		step, ok := steps.Current(instance.CurrentStep)
		if !ok {
			continue
		}

		late, overdue := engine.Overdue(instance, step, now)
		if !overdue {
			continue
		}

		if step.EscalateToRole == "" {
			report.MissingRole++
			s.signalOverdue(ctx, instance, late)

			continue
		}

		s.escalate(ctx, instance, &report)
	}

	return report, nil
}

func (s *Scheduler) escalate(ctx context.Context, instance *models.WorkflowInstance, report *TickReport) {
	_, err := s.escalator.Escalate(ctx, instance.ID)

	switch {
	case err == nil:
		report.Escalated++
		s.metrics.Escalation("escalated")
	case errors.Is(err, engine.ErrNotDue):
	case services.IsConflict(err):
		// a human decided the step between the scan and the write
		report.Conflicts++
	default:
		report.Failed++
		s.metrics.Escalation("failed")
		s.logger.ErrorContext(ctx, "failed to escalate step",
			"instance_id", instance.ID,
			"step", instance.CurrentStep,
			"error", err,
		)
	}
}

func (s *Scheduler) signalOverdue(ctx context.Context, instance *models.WorkflowInstance, late time.Duration) {
	s.metrics.Escalation("missing_role")
	s.logger.WarnContext(ctx, "step overdue without escalation role",
		"instance_id", instance.ID,
		"step", instance.CurrentStep,
		"overdue", late.String(),
	)

	if s.publisher == nil {
		return
	}

	event := events.EscalationOverdue{
		BaseEvent:    events.NewBaseEvent(s.publisher.GenerateID(), events.EscalationOverdueEvent),
		InstanceID:   instance.ID,
		ResourceType: instance.ResourceType,
		ResourceID:   instance.ResourceID,
		StepNumber:   instance.CurrentStep,
		Overdue:      late,
		Reason:       "no escalation role configured",
	}

	if err := s.publisher.Publish(ctx, instance.ID, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish overdue signal", "instance_id", instance.ID, "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
