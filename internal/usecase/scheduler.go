package usecase

import (
	"context"
	"log/slog"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

// Runner executes one pipeline invocation.
type Runner interface {
	Run(ctx context.Context, params RunParams) (domain.RunLogEntry, error)
}

// Scheduler wires the cron driver with a runner.
type Scheduler struct {
	driver ports.Scheduler
	runner Runner
	params RunParams
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, runner Runner, params RunParams, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, runner: runner, params: params, logger: logger}
}

// Start registers the runner with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled run triggered", "at", trigger)
		if _, err := s.runner.Run(ctx, s.params); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
