package storage

import (
	"context"
	"fmt"

	"TenderSync/internal/domain"
)

var runLogColumns = []string{
	"id", "run_date", "search_name", "window_from", "window_to",
	"fetched_count", "new_count", "matched_count", "created_count", "reconciled_count",
	"skipped_count", "failed_count", "suppressed_count", "deferred_count", "failed_days",
	"status", "error_message", "started_at", "finished_at",
}

// AppendRun writes one run log entry. Entries are never updated.
func (s *Store) AppendRun(ctx context.Context, e domain.RunLogEntry) error {
	if e.ID == "" {
		return fmt.Errorf("append run: empty id")
	}
	c := e.Counts

	q := s.sb.Insert("run_log").
		Columns(runLogColumns...).
		Values(
			e.ID, formatDate(e.RunDate), e.SearchName, formatDate(e.WindowFrom), formatDate(e.WindowTo),
			c.Fetched, c.New, c.Matched, c.Created, c.Reconciled,
			c.Skipped, c.Failed, c.Suppressed, c.Deferred, c.FailedDays,
			string(e.Status), e.ErrorMessage, e.StartedAt.UTC(), e.FinishedAt.UTC(),
		)

	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("append run %s: %w", e.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit entries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]domain.RunLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := s.sb.Select(runLogColumns...).
		From("run_log").
		OrderBy("started_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	var entries []domain.RunLogEntry
	for rows.Next() {
		var e domain.RunLogEntry
		var runDate, from, to, status string
		c := &e.Counts
		if err := rows.Scan(
			&e.ID, &runDate, &e.SearchName, &from, &to,
			&c.Fetched, &c.New, &c.Matched, &c.Created, &c.Reconciled,
			&c.Skipped, &c.Failed, &c.Suppressed, &c.Deferred, &c.FailedDays,
			&status, &e.ErrorMessage, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		e.RunDate = parseDate(runDate)
		e.WindowFrom = parseDate(from)
		e.WindowTo = parseDate(to)
		e.Status = domain.RunStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
