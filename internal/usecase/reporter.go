package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

// Tally accumulates guarantor decisions into run counters.
type Tally struct {
	counts domain.RunCounts
}

// Add counts one decision.
func (t *Tally) Add(d Decision) {
	switch d {
	case DecisionCreated:
		t.counts.Created++
	case DecisionReconciled:
		t.counts.Reconciled++
	case DecisionAlreadyProcessed, DecisionInFlight:
		t.counts.Skipped++
	case DecisionSuppressed:
		t.counts.Suppressed++
	case DecisionDeferred:
		t.counts.Deferred++
	default:
		t.counts.Failed++
	}
}

// Counts returns the totals so far.
func (t *Tally) Counts() domain.RunCounts { return t.counts }

// DetermineStatus maps counters to the run status.
// A fatal error or a window where every day failed is an error; any failed,
// deferred or unfetched work is partial.
func DetermineStatus(c domain.RunCounts, totalDays int, fatal error) domain.RunStatus {
	switch {
	case fatal != nil:
		return domain.RunError
	case totalDays > 0 && c.FailedDays >= totalDays:
		return domain.RunError
	case c.Failed > 0 || c.Deferred > 0 || c.FailedDays > 0:
		return domain.RunPartial
	default:
		return domain.RunSuccess
	}
}

// Reporter persists the run log entry and publishes the outcome.
type Reporter struct {
	runs     ports.RunLogRepository
	metrics  ports.RunMetrics
	notifier ports.Notifier
	logger   *slog.Logger
}

// NewReporter wires the run log; metrics and notifier are optional.
func NewReporter(runs ports.RunLogRepository, metrics ports.RunMetrics, notifier ports.Notifier, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{runs: runs, metrics: metrics, notifier: notifier, logger: logger}
}

// Finish appends the entry. Metrics and notifications are best effort.
func (r *Reporter) Finish(ctx context.Context, entry domain.RunLogEntry) error {
	// The entry is written even when the run itself was cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var appendErr error
	if r.runs != nil {
		if err := r.runs.AppendRun(writeCtx, entry); err != nil {
			appendErr = fmt.Errorf("append run log: %w", err)
			r.logger.Error("failed to write run log", "run_id", entry.ID, "error", err)
		}
	}

	if r.metrics != nil {
		r.metrics.RunFinished(entry)
	}

	level := slog.LevelInfo
	if entry.Status != domain.RunSuccess {
		level = slog.LevelWarn
	}
	c := entry.Counts
	r.logger.Log(ctx, level, "run finished",
		"run_id", entry.ID,
		"search", entry.SearchName,
		"status", entry.Status,
		"fetched", c.Fetched,
		"new", c.New,
		"matched", c.Matched,
		"created", c.Created,
		"reconciled", c.Reconciled,
		"skipped", c.Skipped,
		"failed", c.Failed,
		"suppressed", c.Suppressed,
		"deferred", c.Deferred,
		"failed_days", c.FailedDays,
		"duration", entry.Duration(),
	)

	if r.notifier != nil && entry.Status != domain.RunSuccess {
		if err := r.notifier.Publish(writeCtx, Summary(entry)); err != nil {
			r.logger.Warn("failed to send notification", "run_id", entry.ID, "error", err)
		}
	}
	return appendErr
}

// Summary renders a human readable run report.
func Summary(e domain.RunLogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TenderSync run %s: %s\n", e.ID, strings.ToUpper(string(e.Status)))
	fmt.Fprintf(&b, "Search: %s\n", e.SearchName)
	if !e.WindowFrom.IsZero() {
		fmt.Fprintf(&b, "Window: %s .. %s\n", e.WindowFrom.Format("2006-01-02"), e.WindowTo.Format("2006-01-02"))
	}
	c := e.Counts
	fmt.Fprintf(&b, "Fetched %d, new %d, matched %d\n", c.Fetched, c.New, c.Matched)
	fmt.Fprintf(&b, "Created %d, reconciled %d, skipped %d\n", c.Created, c.Reconciled, c.Skipped)
	fmt.Fprintf(&b, "Failed %d, suppressed %d, deferred %d, failed days %d", c.Failed, c.Suppressed, c.Deferred, c.FailedDays)
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError: %s", e.ErrorMessage)
	}
	return b.String()
}
