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

// ErrAllDaysFailed is returned when no day of the window could be fetched.
var ErrAllDaysFailed = errors.New("every day of the window failed to fetch")

// Window is an inclusive range of publication days.
type Window struct {
	From time.Time
	To   time.Time
}

// ComputeWindow returns [today-N, today-1] in loc. N below 1 is treated as 1.
func ComputeWindow(now time.Time, lookbackDays int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{
		From: today.AddDate(0, 0, -lookbackDays),
		To:   today.AddDate(0, 0, -1),
	}
}

// Days lists every day in the window, oldest first.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.From; !d.After(w.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// FetchResult is what the fetch stage hands to matching.
type FetchResult struct {
	// Announcements holds every distinct announcement seen in the window, new or not.
	Announcements []domain.Announcement
	Fetched       int
	New           int
	Rejected      []domain.RejectedRecord
	FailedDays    []time.Time
	TotalDays     int
}

// Fetcher pulls each day of a window and stores announcements that were not seen before.
type Fetcher struct {
	source ports.AnnouncementSource
	repo   ports.AnnouncementRepository
	policy retry.Policy
	logger *slog.Logger
}

// NewFetcher wires the source and the announcement store.
func NewFetcher(source ports.AnnouncementSource, repo ports.AnnouncementRepository, policy retry.Policy, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{source: source, repo: repo, policy: policy, logger: logger}
}

// Fetch walks the window. A failed day is reported and skipped; stored days are kept.
// When every day fails, ErrAllDaysFailed is returned and nothing was written.
func (f *Fetcher) Fetch(ctx context.Context, w Window) (FetchResult, error) {
	days := w.Days()
	res := FetchResult{TotalDays: len(days)}
	seen := make(map[string]struct{})
	var lastErr error

	for _, day := range days {
		log := f.logger.With("day", day.Format("2006-01-02"))

		policy := f.policy
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			log.Warn("fetch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}

		var batch domain.DayBatch
		err := policy.Do(ctx, func(ctx context.Context) error {
			var fetchErr error
			batch, fetchErr = f.source.FetchDay(ctx, day)
			return fetchErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Error("day could not be fetched", "error", err)
			res.FailedDays = append(res.FailedDays, day)
			lastErr = err
			continue
		}

		for _, rej := range batch.Rejected {
			log.Warn("skipping malformed record", "number", rej.Number, "reason", rej.Reason)
		}
		res.Rejected = append(res.Rejected, batch.Rejected...)

		dayNew := 0
		for _, a := range batch.Announcements {
			if _, dup := seen[a.Number]; dup {
				continue
			}
			seen[a.Number] = struct{}{}

			inserted, err := f.repo.InsertAnnouncement(ctx, a)
			if err != nil {
				return res, fmt.Errorf("store announcement %s: %w", a.Number, err)
			}
			res.Fetched++
			if inserted {
				res.New++
				dayNew++
			}
			res.Announcements = append(res.Announcements, a)
		}
		log.Info("day fetched", "announcements", len(batch.Announcements), "new", dayNew, "rejected", len(batch.Rejected))
	}

	if len(days) > 0 && len(res.FailedDays) == len(days) {
		return res, fmt.Errorf("%w: %w", ErrAllDaysFailed, lastErr)
	}
	return res, nil
}
