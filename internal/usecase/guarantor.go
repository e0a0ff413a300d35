package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
	"TenderSync/internal/retry"
)

// Decision is what the guarantor did with one matched announcement.
type Decision int

const (
	DecisionCreated Decision = iota
	DecisionReconciled
	DecisionAlreadyProcessed
	DecisionInFlight
	DecisionSuppressed
	DecisionDeferred
	DecisionFailed
)

func (d Decision) String() string {
	switch d {
	case DecisionCreated:
		return "created"
	case DecisionReconciled:
		return "reconciled"
	case DecisionAlreadyProcessed:
		return "already_processed"
	case DecisionInFlight:
		return "in_flight"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionDeferred:
		return "deferred"
	default:
		return "failed"
	}
}

// Outcome reports the decision for one announcement.
type Outcome struct {
	Decision Decision
	DealID   string
	Err      error
}

// RunScope carries per-run identity and the remote lookup budget.
type RunScope struct {
	ID          string
	SearchName  string
	lookupLimit int
	lookups     int
}

// NewRunScope creates a scope; lookupLimit <= 0 means unlimited remote lookups.
func NewRunScope(id, searchName string, lookupLimit int) *RunScope {
	return &RunScope{ID: id, SearchName: searchName, lookupLimit: lookupLimit}
}

func (s *RunScope) takeLookup() bool {
	if s.lookupLimit > 0 && s.lookups >= s.lookupLimit {
		return false
	}
	s.lookups++
	return true
}

// Lookups is the number of remote lookups spent so far.
func (s *RunScope) Lookups() int { return s.lookups }

// GuarantorConfig tunes the idempotency rules.
type GuarantorConfig struct {
	// MaxRejections stops retrying announcements the CRM rejected this many times.
	MaxRejections int
	// ClaimLease is how long a pending claim blocks other runs.
	ClaimLease time.Duration
	// Lookup is the retry policy for remote existence checks.
	Lookup retry.Policy
}

// Guarantor makes sure at most one deal exists per announcement.
//
// Order of checks: the local processing record, then a remote lookup by
// announcement number, then an atomic claim, and only then creation.
type Guarantor struct {
	processing ports.ProcessingRepository
	deals      ports.DealClient
	executor   *Executor
	cfg        GuarantorConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewGuarantor wires the processing store, CRM lookups and the executor.
func NewGuarantor(processing ports.ProcessingRepository, deals ports.DealClient, executor *Executor, cfg GuarantorConfig, logger *slog.Logger) *Guarantor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 15 * time.Minute
	}
	return &Guarantor{
		processing: processing,
		deals:      deals,
		executor:   executor,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckLocal reads the processing record and classifies it.
func (g *Guarantor) CheckLocal(ctx context.Context, number string) (domain.ProcessingRecord, domain.LocalState, error) {
	rec, err := g.processing.GetProcessing(ctx, number)
	if err != nil {
		return domain.ProcessingRecord{}, domain.LocalAbsent, err
	}
	return rec, rec.State(), nil
}

// Reconcile asks the CRM whether a deal for number already exists.
func (g *Guarantor) Reconcile(ctx context.Context, number string) (string, bool, error) {
	policy := g.cfg.Lookup
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.Warn("deal lookup failed, retrying", "number", number, "attempt", attempt, "delay", delay, "error", err)
	}

	var (
		dealID string
		found  bool
	)
	err := policy.Do(ctx, func(ctx context.Context) error {
		id, ok, err := g.deals.FindDeal(ctx, number)
		if err != nil {
			return err
		}
		dealID, found = id, ok
		return nil
	})
	return dealID, found, err
}

// Ensure applies the idempotency protocol to one matched announcement.
func (g *Guarantor) Ensure(ctx context.Context, scope *RunScope, a domain.Announcement) Outcome {
	log := g.logger.With("number", a.Number)
	now := g.now()

	rec, state, err := g.CheckLocal(ctx, a.Number)
	if err != nil {
		return Outcome{Decision: DecisionFailed, Err: fmt.Errorf("local check %s: %w", a.Number, err)}
	}

	switch state {
	case domain.LocalPresentWithID:
		return Outcome{Decision: DecisionAlreadyProcessed, DealID: rec.DealID}
	case domain.LocalPresentWithoutID:
		if rec.Status == domain.ProcessingPending && rec.RunID != scope.ID && rec.ProcessedAt.After(now.Add(-g.cfg.ClaimLease)) {
			log.Info("announcement claimed by another run", "owner", rec.RunID)
			return Outcome{Decision: DecisionInFlight}
		}
		if rec.Status == domain.ProcessingFailed && g.cfg.MaxRejections > 0 && rec.Rejections >= g.cfg.MaxRejections {
			log.Debug("announcement suppressed after repeated rejections", "rejections", rec.Rejections)
			return Outcome{Decision: DecisionSuppressed}
		}
	}

	if !scope.takeLookup() {
		g.recordDeferred(ctx, scope, a, errLookupBudget)
		return Outcome{Decision: DecisionDeferred}
	}

	dealID, found, err := g.Reconcile(ctx, a.Number)
	if err != nil {
		// Without a conclusive lookup, creating could duplicate a deal.
		g.recordDeferred(ctx, scope, a, fmt.Errorf("lookup: %w", err))
		return Outcome{Decision: DecisionFailed, Err: fmt.Errorf("lookup %s: %w", a.Number, err)}
	}
	if found {
		err := g.processing.RecordDeal(ctx, domain.ProcessingRecord{
			Number:      a.Number,
			SearchName:  scope.SearchName,
			Status:      domain.ProcessingReconciled,
			DealID:      dealID,
			RunID:       scope.ID,
			ProcessedAt: now,
		})
		if err != nil {
			return Outcome{Decision: DecisionFailed, DealID: dealID, Err: fmt.Errorf("record reconciled deal %s: %w", a.Number, err)}
		}
		log.Info("deal already exists, reconciled", "deal_id", dealID)
		return Outcome{Decision: DecisionReconciled, DealID: dealID}
	}

	claimed, err := g.processing.ClaimProcessing(ctx, domain.Claim{
		Number:        a.Number,
		SearchName:    scope.SearchName,
		RunID:         scope.ID,
		At:            now,
		MaxRejections: g.cfg.MaxRejections,
		StaleBefore:   now.Add(-g.cfg.ClaimLease),
	})
	if err != nil {
		return Outcome{Decision: DecisionFailed, Err: fmt.Errorf("claim %s: %w", a.Number, err)}
	}
	if !claimed {
		log.Info("announcement claimed concurrently, skipping")
		return Outcome{Decision: DecisionInFlight}
	}

	effect := g.executor.Create(ctx, a)
	switch effect.Class {
	case EffectCreated:
		err := g.processing.RecordDeal(ctx, domain.ProcessingRecord{
			Number:      a.Number,
			SearchName:  scope.SearchName,
			Status:      domain.ProcessingCreated,
			DealID:      effect.DealID,
			RunID:       scope.ID,
			ProcessedAt: g.now(),
		})
		if err != nil {
			// The deal exists; the next run finds it through the remote lookup.
			log.Error("deal created but not recorded", "deal_id", effect.DealID, "error", err)
		} else {
			log.Info("deal created", "deal_id", effect.DealID)
		}
		return Outcome{Decision: DecisionCreated, DealID: effect.DealID}
	case EffectPermanent:
		g.recordFailure(ctx, scope, a, effect.Err, true)
		log.Error("deal rejected", "error", effect.Err)
	default:
		g.recordFailure(ctx, scope, a, effect.Err, false)
		log.Error("deal creation gave up", "error", effect.Err)
	}
	return Outcome{Decision: DecisionFailed, Err: effect.Err}
}

func (g *Guarantor) recordFailure(ctx context.Context, scope *RunScope, a domain.Announcement, cause error, permanent bool) {
	err := g.processing.RecordFailure(ctx, domain.ProcessingRecord{
		Number:      a.Number,
		SearchName:  scope.SearchName,
		LastError:   truncateError(cause),
		RunID:       scope.ID,
		ProcessedAt: g.now(),
	}, permanent)
	switch {
	case err == nil, errors.Is(err, domain.ErrDealConflict):
	case errors.Is(err, domain.ErrClaimLost):
		g.logger.Warn("failure not recorded, claim taken over", "number", a.Number, "error", err)
	default:
		g.logger.Error("failed to record failure", "number", a.Number, "error", err)
	}
}

var errLookupBudget = errors.New("lookup budget exhausted")

// recordDeferred leaves a marker so later runs retry the announcement from the
// backlog. It never replaces a claim or a deal id.
func (g *Guarantor) recordDeferred(ctx context.Context, scope *RunScope, a domain.Announcement, cause error) {
	err := g.processing.RecordDeferred(ctx, domain.ProcessingRecord{
		Number:      a.Number,
		SearchName:  scope.SearchName,
		LastError:   truncateError(cause),
		RunID:       scope.ID,
		ProcessedAt: g.now(),
	})
	if err != nil {
		g.logger.Error("failed to record deferral", "number", a.Number, "error", err)
	}
}

// Backlog lists announcements of earlier runs that still need a decision,
// published on or after from.
func (g *Guarantor) Backlog(ctx context.Context, scope *RunScope, from time.Time, limit int) ([]domain.Announcement, error) {
	now := g.now()
	return g.processing.Backlog(ctx, domain.BacklogQuery{
		SearchName:    scope.SearchName,
		PublishedFrom: from,
		MaxRejections: g.cfg.MaxRejections,
		StaleBefore:   now.Add(-g.cfg.ClaimLease),
		Limit:         limit,
	})
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if r := []rune(msg); len(r) > 500 {
		return string(r[:500])
	}
	return msg
}
