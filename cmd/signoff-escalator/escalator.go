// Package main provides the escalation scheduler service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/signoff/pkg/escalation"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const stopTimeout = 30 * time.Second

// Service runs the scheduler and, optionally, a metrics endpoint.
type Service struct {
	scheduler   *escalation.Scheduler
	registry    *prometheus.Registry
	metricsPort int
	logger      *slog.Logger
}

func NewService(scheduler *escalation.Scheduler, registry *prometheus.Registry, metricsPort int, logger *slog.Logger) *Service {
	return &Service{
		scheduler:   scheduler,
		registry:    registry,
		metricsPort: metricsPort,
		logger:      logger.With("module", "escalator"),
	}
}

// MetricsApp serves the prometheus registry.
func (s *Service) MetricsApp() *fiber.App {
	app := fiber.New()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	app.Get("/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"last_run": s.scheduler.LastRun(),
			"next_run": s.scheduler.NextRun(),
		})
	})

	return app
}

// RunOnce performs a single tick, for use from an external cron.
func (s *Service) RunOnce(ctx context.Context) error {
	report, err := s.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Escalation tick finished",
		"scanned", report.Scanned,
		"escalated", report.Escalated,
		"missing_role", report.MissingRole,
		"skipped", report.Skipped,
	)

	return nil
}

// Run ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}

	var app *fiber.App

	errs := make(chan error, 1)

	if s.metricsPort > 0 {
		app = s.MetricsApp()

		go func() {
			errs <- app.Listen(":"+strconv.Itoa(s.metricsPort), fiber.ListenConfig{DisableStartupMessage: true})
		}()
	}

	s.logger.InfoContext(ctx, "Escalator running", "next_run", s.scheduler.NextRun())

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	var stopErrs []error

	stopErrs = append(stopErrs, runErr, s.scheduler.Stop(stopCtx))

	if app != nil {
		stopErrs = append(stopErrs, app.ShutdownWithContext(stopCtx))
	}

	return errors.Join(stopErrs...)
}
