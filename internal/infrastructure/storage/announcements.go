package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"TenderSync/internal/domain"
)

// InsertAnnouncement stores a if its number has not been seen before.
// It reports true when a new row was written; existing rows are never overwritten.
// Besides the upstream record, a normalized copy is kept so later runs can
// retry the announcement without fetching it again.
func (s *Store) InsertAnnouncement(ctx context.Context, a domain.Announcement) (bool, error) {
	if a.Number == "" {
		return false, fmt.Errorf("insert announcement: empty number")
	}

	normalized := a
	normalized.Raw = nil
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return false, fmt.Errorf("encode announcement %s: %w", a.Number, err)
	}
	raw := a.Raw
	if len(raw) == 0 {
		raw = encoded
	}

	q := s.sb.Insert("announcements").
		Columns("number", "published_on", "raw", "announcement", "fetched_at").
		Values(a.Number, formatDate(a.PublishedOn), string(raw), string(encoded), s.now().UTC()).
		Suffix("ON CONFLICT (number) DO NOTHING")

	affected, err := s.exec(ctx, q)
	if err != nil {
		return false, fmt.Errorf("insert announcement %s: %w", a.Number, err)
	}
	return affected == 1, nil
}

// AnnouncementsPublished lists stored announcements for a publication day.
func (s *Store) AnnouncementsPublished(ctx context.Context, day time.Time) ([]domain.Announcement, error) {
	return s.queryAnnouncements(ctx, s.sb.Select("a.number", "a.published_on", "a.raw", "a.announcement").
		From("announcements a").
		Where("a.published_on = ?", formatDate(day)).
		OrderBy("a.number"))
}

func (s *Store) queryAnnouncements(ctx context.Context, b sq.SelectBuilder) ([]domain.Announcement, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	var out []domain.Announcement
	for rows.Next() {
		var number, published, raw, normalized string
		if err := rows.Scan(&number, &published, &raw, &normalized); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		a, err := decodeStored(number, published, raw, normalized)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodeStored(number, published, raw, normalized string) (domain.Announcement, error) {
	var a domain.Announcement
	if normalized != "" {
		if err := json.Unmarshal([]byte(normalized), &a); err != nil {
			return domain.Announcement{}, fmt.Errorf("decode announcement %s: %w", number, err)
		}
	}
	a.Number = number
	if a.PublishedOn.IsZero() {
		a.PublishedOn = parseDate(published)
	}
	a.Raw = json.RawMessage(raw)
	return a, nil
}
