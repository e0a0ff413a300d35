package usecase

import (
	"context"
	"log/slog"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
	"TenderSync/internal/retry"
)

// EffectClass classifies the outcome of a deal creation.
type EffectClass int

const (
	EffectCreated EffectClass = iota
	EffectPermanent
	EffectTransient
)

func (c EffectClass) String() string {
	switch c {
	case EffectCreated:
		return "created"
	case EffectPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Effect is the result of Executor.Create.
type Effect struct {
	Class  EffectClass
	DealID string
	Err    error
}

// Executor performs the external side effect with bounded retries on transient errors.
type Executor struct {
	deals  ports.DealClient
	policy retry.Policy
	logger *slog.Logger
}

// NewExecutor wires the CRM client.
func NewExecutor(deals ports.DealClient, policy retry.Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{deals: deals, policy: policy, logger: logger}
}

// Create makes the deal for a. It never returns an error directly; the outcome
// is classified in Effect.
func (e *Executor) Create(ctx context.Context, a domain.Announcement) Effect {
	policy := e.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Warn("deal creation failed, retrying", "number", a.Number, "attempt", attempt, "delay", delay, "error", err)
	}

	var dealID string
	err := policy.Do(ctx, func(ctx context.Context) error {
		id, err := e.deals.CreateDeal(ctx, a)
		if err != nil {
			return err
		}
		dealID = id
		return nil
	})

	switch {
	case err == nil:
		return Effect{Class: EffectCreated, DealID: dealID}
	case retry.IsPermanent(err):
		return Effect{Class: EffectPermanent, Err: err}
	default:
		return Effect{Class: EffectTransient, Err: err}
	}
}
