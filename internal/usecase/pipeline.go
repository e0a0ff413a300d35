package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"TenderSync/internal/domain"
	"TenderSync/internal/filter"
	"TenderSync/internal/ports"
	"TenderSync/internal/retry"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source        ports.AnnouncementSource
	Announcements ports.AnnouncementRepository
	Processing    ports.ProcessingRepository
	Runs          ports.RunLogRepository
	Searches      ports.SearchRepository
	Deals         ports.DealClient
	Notifier      ports.Notifier
	Metrics       ports.RunMetrics
	Logger        *slog.Logger

	// Location is the source's calendar; windows are computed in it.
	Location       *time.Location
	Retry          retry.Policy
	MaxRejections  int
	ClaimLease     time.Duration
	ReconcileLimit int
	// BacklogDays is how far before the window unsettled announcements are
	// retried; zero disables the backlog.
	BacklogDays  int
	BacklogLimit int
	Now          func() time.Time
}

// RunParams selects what one invocation processes.
type RunParams struct {
	SearchName   string
	LookbackDays int
}

// Pipeline implements the fetch, match and create workflow.
type Pipeline struct {
	searches  *SearchLoader
	fetcher   *Fetcher
	guarantor *Guarantor
	reporter  *Reporter

	loc            *time.Location
	reconcileLimit int
	backlogDays    int
	backlogLimit   int
	logger         *slog.Logger
	now            func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	executor := NewExecutor(deps.Deals, deps.Retry, logger.With("component", "executor"))
	guarantor := NewGuarantor(deps.Processing, deps.Deals, executor, GuarantorConfig{
		MaxRejections: deps.MaxRejections,
		ClaimLease:    deps.ClaimLease,
		Lookup:        deps.Retry,
	}, logger.With("component", "guarantor"))
	guarantor.now = now

	return &Pipeline{
		searches:       NewSearchLoader(deps.Searches, logger.With("component", "searches")),
		fetcher:        NewFetcher(deps.Source, deps.Announcements, deps.Retry, logger.With("component", "fetch")),
		guarantor:      guarantor,
		reporter:       NewReporter(deps.Runs, deps.Metrics, deps.Notifier, logger.With("component", "reporter")),
		loc:            loc,
		reconcileLimit: deps.ReconcileLimit,
		backlogDays:    deps.BacklogDays,
		backlogLimit:   deps.BacklogLimit,
		logger:         logger,
		now:            now,
	}
}

// Run executes one invocation and returns its run log entry. The returned error
// is non-nil only for runs that ended with status error.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (domain.RunLogEntry, error) {
	started := p.now()
	entry := domain.RunLogEntry{
		ID:         uuid.NewString(),
		RunDate:    started.In(p.loc),
		SearchName: params.SearchName,
		StartedAt:  started,
	}
	if entry.SearchName == "" {
		entry.SearchName = domain.DefaultSearchName
	}
	log := p.logger.With("run_id", entry.ID, "search", entry.SearchName)

	// Configuration problems surface before any fetch.
	spec, err := p.searches.Load(ctx, entry.SearchName)
	if err != nil {
		return p.fail(ctx, entry, fmt.Errorf("configuration: %w", err))
	}
	entry.SearchName = spec.Name

	window := ComputeWindow(started, params.LookbackDays, p.loc)
	entry.WindowFrom, entry.WindowTo = window.From, window.To
	log.Info("run started", "from", window.From.Format("2006-01-02"), "to", window.To.Format("2006-01-02"))

	fetched, err := p.fetcher.Fetch(ctx, window)
	entry.Counts.Fetched = fetched.Fetched
	entry.Counts.New = fetched.New
	entry.Counts.FailedDays = len(fetched.FailedDays)
	if err != nil {
		return p.fail(ctx, entry, fmt.Errorf("fetch: %w", err))
	}

	matcher := filter.Compile(spec.Filters)
	scope := NewRunScope(entry.ID, spec.Name, p.reconcileLimit)
	var tally Tally
	var interrupted bool

	ensure := func(a domain.Announcement) bool {
		if ctx.Err() != nil {
			interrupted = true
			return false
		}
		if !matcher.Match(a) {
			return true
		}
		entry.Counts.Matched++

		outcome := p.guarantor.Ensure(ctx, scope, a)
		tally.Add(outcome.Decision)
		if outcome.Err != nil {
			log.Warn("announcement not completed", "number", a.Number, "decision", outcome.Decision, "error", outcome.Err)
		}
		return true
	}

	seen := make(map[string]struct{}, len(fetched.Announcements))
	for _, a := range fetched.Announcements {
		seen[a.Number] = struct{}{}
		if !ensure(a) {
			break
		}
	}

	var backlogErr error
	if !interrupted && p.backlogDays > 0 {
		from := window.From.AddDate(0, 0, -p.backlogDays)
		backlog, err := p.guarantor.Backlog(ctx, scope, from, p.backlogLimit)
		if err != nil {
			backlogErr = err
			log.Error("backlog unavailable", "error", err)
		}
		retried := 0
		for _, a := range backlog {
			if _, ok := seen[a.Number]; ok {
				continue
			}
			retried++
			if !ensure(a) {
				break
			}
		}
		if retried > 0 {
			log.Info("retried unsettled announcements from earlier runs", "count", retried)
		}
	}

	counts := tally.Counts()
	entry.Counts.Created = counts.Created
	entry.Counts.Reconciled = counts.Reconciled
	entry.Counts.Skipped = counts.Skipped
	entry.Counts.Suppressed = counts.Suppressed
	entry.Counts.Deferred = counts.Deferred
	entry.Counts.Failed = counts.Failed + len(fetched.Rejected)

	if counts.Deferred > 0 {
		log.Warn("remote lookup budget exhausted, items deferred", "deferred", counts.Deferred, "lookups", scope.Lookups())
	}

	entry.Status = DetermineStatus(entry.Counts, fetched.TotalDays, nil)
	if backlogErr != nil {
		entry.ErrorMessage = "backlog: " + backlogErr.Error()
		if entry.Status == domain.RunSuccess {
			entry.Status = domain.RunPartial
		}
	}
	if interrupted {
		entry.ErrorMessage = "run interrupted: " + ctx.Err().Error()
		if entry.Status == domain.RunSuccess {
			entry.Status = domain.RunPartial
		}
	}
	entry.FinishedAt = p.now()

	if err := p.reporter.Finish(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

func (p *Pipeline) fail(ctx context.Context, entry domain.RunLogEntry, cause error) (domain.RunLogEntry, error) {
	entry.Status = domain.RunError
	entry.ErrorMessage = cause.Error()
	entry.FinishedAt = p.now()

	if err := p.reporter.Finish(ctx, entry); err != nil {
		return entry, errors.Join(cause, err)
	}
	return entry, cause
}
