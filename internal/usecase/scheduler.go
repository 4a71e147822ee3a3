package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"FiveSBot/internal/ports"
	"FiveSBot/internal/report"
)

// ReportJob generates the daily report and hands it to the delivery sink.
type ReportJob struct {
	generator *report.Generator
	sink      ports.ReportSink
	logger    *slog.Logger
}

// NewReportJob wires the generator with its sink.
func NewReportJob(generator *report.Generator, sink ports.ReportSink, logger *slog.Logger) *ReportJob {
	return &ReportJob{generator: generator, sink: sink, logger: logger}
}

// Run builds and delivers the report covering the given instant.
func (j *ReportJob) Run(ctx context.Context, now time.Time) error {
	rep, err := j.generator.Generate(ctx, now)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	if err := j.sink.DeliverReport(ctx, rep); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	return nil
}

// Scheduler wires the daily driver with the report job.
type Scheduler struct {
	driver ports.Scheduler
	job    *ReportJob
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop the recurring report.
func NewScheduler(driver ports.Scheduler, job *ReportJob, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, job: job, logger: logger}
}

// Start registers the report job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.job == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.job.Run(ctx, trigger); err != nil && s.logger != nil {
			s.logger.Error("daily report failed", "error", err)
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
