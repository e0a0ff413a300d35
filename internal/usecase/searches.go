package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

// SearchNotFoundError lists the searches that do exist so the operator can fix the configuration.
type SearchNotFoundError struct {
	Name      string
	Available []string
}

func (e *SearchNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("saved search %q not found (no saved searches exist)", e.Name)
	}
	return fmt.Sprintf("saved search %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *SearchNotFoundError) Unwrap() error { return domain.ErrSearchNotFound }

// SearchLoader resolves the filter specification for a run.
type SearchLoader struct {
	repo   ports.SearchRepository
	logger *slog.Logger
}

// NewSearchLoader builds a loader over repo.
func NewSearchLoader(repo ports.SearchRepository, logger *slog.Logger) *SearchLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchLoader{repo: repo, logger: logger}
}

// Load returns the named search. When it is missing, the default search is tried
// before giving up with a *SearchNotFoundError.
func (l *SearchLoader) Load(ctx context.Context, name string) (domain.SearchSpec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultSearchName
	}

	spec, err := l.repo.GetSearch(ctx, name)
	if err == nil {
		return spec, nil
	}
	if !errors.Is(err, domain.ErrSearchNotFound) {
		return domain.SearchSpec{}, fmt.Errorf("load search %q: %w", name, err)
	}

	if name != domain.DefaultSearchName {
		l.logger.Warn("saved search not found, falling back", "search", name, "fallback", domain.DefaultSearchName)
		spec, fbErr := l.repo.GetSearch(ctx, domain.DefaultSearchName)
		if fbErr == nil {
			return spec, nil
		}
		if !errors.Is(fbErr, domain.ErrSearchNotFound) {
			return domain.SearchSpec{}, fmt.Errorf("load search %q: %w", domain.DefaultSearchName, fbErr)
		}
	}

	names, err := l.repo.SearchNames(ctx)
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("list searches: %w", err)
	}
	return domain.SearchSpec{}, &SearchNotFoundError{Name: name, Available: names}
}
