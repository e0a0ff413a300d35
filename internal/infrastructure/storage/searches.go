package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"TenderSync/internal/domain"
)

// storedFilters accepts the shapes the dashboard has written over time.
type storedFilters struct {
	domain.SearchFilters
	Keyword  string          `json:"keyword,omitempty"`
	Location json.RawMessage `json:"location,omitempty"`
}

func decodeFilters(raw string) (domain.SearchFilters, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.SearchFilters{}, nil
	}

	var sf storedFilters
	if err := json.Unmarshal([]byte(raw), &sf); err != nil {
		return domain.SearchFilters{}, err
	}

	f := sf.SearchFilters
	if len(f.Keywords) == 0 && sf.Keyword != "" {
		f.Keywords = domain.SplitKeywords(sf.Keyword)
	}
	if len(f.Locations) == 0 && len(sf.Location) > 0 {
		var single string
		var list []string
		switch {
		case json.Unmarshal(sf.Location, &single) == nil:
			f.Locations = []string{single}
		case json.Unmarshal(sf.Location, &list) == nil:
			f.Locations = list
		}
	}
	return f.Normalize(), nil
}

// GetSearch loads a saved search by exact name.
func (s *Store) GetSearch(ctx context.Context, name string) (domain.SearchSpec, error) {
	query, args, err := s.sb.Select("name", "filters", "updated_at").
		From("saved_searches").
		Where("name = ?", name).
		ToSql()
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("build query: %w", err)
	}

	var (
		spec domain.SearchSpec
		raw  string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&spec.Name, &raw, &spec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SearchSpec{}, fmt.Errorf("search %q: %w", name, domain.ErrSearchNotFound)
	}
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("get search %q: %w", name, err)
	}

	spec.Filters, err = decodeFilters(raw)
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("decode search %q: %w", name, err)
	}
	return spec, nil
}

// SearchNames lists all saved search names in alphabetical order.
func (s *Store) SearchNames(ctx context.Context) ([]string, error) {
	query, args, err := s.sb.Select("name").From("saved_searches").OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveSearch inserts or replaces a saved search.
func (s *Store) SaveSearch(ctx context.Context, spec domain.SearchSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("save search: empty name")
	}

	raw, err := json.Marshal(spec.Filters.Normalize())
	if err != nil {
		return fmt.Errorf("encode search %q: %w", name, err)
	}

	updated := spec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	q := s.sb.Insert("saved_searches").
		Columns("name", "filters", "updated_at").
		Values(name, string(raw), updated.UTC()).
		Suffix("ON CONFLICT (name) DO UPDATE SET filters = excluded.filters, updated_at = excluded.updated_at")

	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("save search %q: %w", name, err)
	}
	return nil
}
