package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"

	"TenderSync/internal/domain"
)

var processingColumns = []string{
	"number", "search_name", "status", "deal_id", "rejections", "last_error", "run_id", "processed_at",
}

// GetProcessing returns the record for number, or a zero record when none exists.
func (s *Store) GetProcessing(ctx context.Context, number string) (domain.ProcessingRecord, error) {
	query, args, err := s.sb.Select(processingColumns...).
		From("processing_records").
		Where("number = ?", number).
		ToSql()
	if err != nil {
		return domain.ProcessingRecord{}, fmt.Errorf("build query: %w", err)
	}

	var (
		rec    domain.ProcessingRecord
		status string
		dealID sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.Number, &rec.SearchName, &status, &dealID, &rec.Rejections, &rec.LastError, &rec.RunID, &rec.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessingRecord{}, nil
	}
	if err != nil {
		return domain.ProcessingRecord{}, fmt.Errorf("get processing record %s: %w", number, err)
	}
	rec.Status = domain.ProcessingStatus(status)
	rec.DealID = dealID.String
	return rec, nil
}

// ClaimProcessing reserves an announcement for deal creation by one run.
// The claim succeeds when no record exists, when the record is deferred, when it
// failed fewer than MaxRejections times permanently, or when a pending claim has
// gone stale.
func (s *Store) ClaimProcessing(ctx context.Context, claim domain.Claim) (bool, error) {
	maxRejections := claim.MaxRejections
	if maxRejections <= 0 {
		maxRejections = math.MaxInt32
	}

	q := s.sb.Insert("processing_records").
		Columns(processingColumns...).
		Values(claim.Number, claim.SearchName, string(domain.ProcessingPending), nil, 0, "", claim.RunID, claim.At.UTC()).
		Suffix(`ON CONFLICT (number) DO UPDATE SET
    status = excluded.status,
    search_name = excluded.search_name,
    run_id = excluded.run_id,
    processed_at = excluded.processed_at
WHERE processing_records.deal_id IS NULL
  AND (processing_records.status = 'deferred'
    OR (processing_records.status = 'failed' AND processing_records.rejections < ?)
    OR (processing_records.status = 'pending' AND processing_records.processed_at < ?))`,
			maxRejections, claim.StaleBefore.UTC())

	affected, err := s.exec(ctx, q)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", claim.Number, err)
	}
	return affected == 1, nil
}

// RecordDeal persists the deal id for an announcement. Writing the same id again is a no-op;
// a different id for an announcement that already has one yields domain.ErrDealConflict.
func (s *Store) RecordDeal(ctx context.Context, rec domain.ProcessingRecord) error {
	if rec.DealID == "" {
		return fmt.Errorf("record deal %s: empty deal id", rec.Number)
	}
	status := rec.Status
	if status == "" {
		status = domain.ProcessingCreated
	}

	q := s.sb.Insert("processing_records").
		Columns(processingColumns...).
		Values(rec.Number, rec.SearchName, string(status), rec.DealID, rec.Rejections, "", rec.RunID, s.processedAt(rec)).
		Suffix(`ON CONFLICT (number) DO UPDATE SET
    status = excluded.status,
    deal_id = excluded.deal_id,
    search_name = excluded.search_name,
    last_error = '',
    run_id = excluded.run_id,
    processed_at = excluded.processed_at
WHERE processing_records.deal_id IS NULL`)

	affected, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("record deal %s: %w", rec.Number, err)
	}
	if affected == 1 {
		return nil
	}

	existing, err := s.GetProcessing(ctx, rec.Number)
	if err != nil {
		return err
	}
	if existing.DealID == rec.DealID {
		return nil
	}
	return fmt.Errorf("record deal %s (have %s, got %s): %w", rec.Number, existing.DealID, rec.DealID, domain.ErrDealConflict)
}

// RecordFailure marks the announcement as failed after a creation attempt. Permanent
// failures increment the rejection counter; transient ones leave it untouched so the
// item stays eligible. A pending claim owned by another run is left alone and
// domain.ErrClaimLost is returned.
func (s *Store) RecordFailure(ctx context.Context, rec domain.ProcessingRecord, permanent bool) error {
	increment := 0
	if permanent {
		increment = 1
	}

	q := s.sb.Insert("processing_records").
		Columns(processingColumns...).
		Values(rec.Number, rec.SearchName, string(domain.ProcessingFailed), nil, increment, rec.LastError, rec.RunID, s.processedAt(rec)).
		Suffix(`ON CONFLICT (number) DO UPDATE SET
    status = excluded.status,
    search_name = excluded.search_name,
    rejections = processing_records.rejections + excluded.rejections,
    last_error = excluded.last_error,
    run_id = excluded.run_id,
    processed_at = excluded.processed_at
WHERE processing_records.deal_id IS NULL
  AND (processing_records.status <> 'pending' OR processing_records.run_id = excluded.run_id)`)

	affected, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", rec.Number, err)
	}
	if affected == 1 {
		return nil
	}
	return s.rowUnavailable(ctx, rec.Number, "record failure")
}

// RecordDeferred notes that an announcement still needs a remote lookup. It
// creates a deferred record when none exists and otherwise only refreshes the
// error of failed or deferred records; claims and deal ids are never touched.
func (s *Store) RecordDeferred(ctx context.Context, rec domain.ProcessingRecord) error {
	q := s.sb.Insert("processing_records").
		Columns(processingColumns...).
		Values(rec.Number, rec.SearchName, string(domain.ProcessingDeferred), nil, 0, rec.LastError, rec.RunID, s.processedAt(rec)).
		Suffix(`ON CONFLICT (number) DO UPDATE SET
    last_error = excluded.last_error
WHERE processing_records.deal_id IS NULL
  AND processing_records.status IN ('failed', 'deferred')`)

	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("record deferred %s: %w", rec.Number, err)
	}
	return nil
}

// Backlog returns announcements of the search whose processing is unsettled:
// deferred, failed below the rejection limit, or pending behind a stale claim.
// Oldest publications come first.
func (s *Store) Backlog(ctx context.Context, q domain.BacklogQuery) ([]domain.Announcement, error) {
	maxRejections := q.MaxRejections
	if maxRejections <= 0 {
		maxRejections = math.MaxInt32
	}

	b := s.sb.Select("a.number", "a.published_on", "a.raw", "a.announcement").
		From("processing_records p").
		Join("announcements a ON a.number = p.number").
		Where(sq.Eq{"p.search_name": q.SearchName}).
		Where("p.deal_id IS NULL").
		Where(`(p.status = 'deferred'
    OR (p.status = 'failed' AND p.rejections < ?)
    OR (p.status = 'pending' AND p.processed_at < ?))`, maxRejections, q.StaleBefore.UTC()).
		OrderBy("a.published_on", "a.number")
	if !q.PublishedFrom.IsZero() {
		b = b.Where("a.published_on >= ?", formatDate(q.PublishedFrom))
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	out, err := s.queryAnnouncements(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("backlog: %w", err)
	}
	return out, nil
}

func (s *Store) rowUnavailable(ctx context.Context, number, op string) error {
	existing, err := s.GetProcessing(ctx, number)
	if err != nil {
		return err
	}
	if existing.DealID != "" {
		return fmt.Errorf("%s %s: %w", op, number, domain.ErrDealConflict)
	}
	return fmt.Errorf("%s %s (held by %s): %w", op, number, existing.RunID, domain.ErrClaimLost)
}

func (s *Store) processedAt(rec domain.ProcessingRecord) any {
	if rec.ProcessedAt.IsZero() {
		return s.now().UTC()
	}
	return rec.ProcessedAt.UTC()
}
