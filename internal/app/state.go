package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"TenderSync/internal/config"
	"TenderSync/internal/infrastructure/snapshot"
	"TenderSync/internal/infrastructure/storage"
)

// State is the opened state store plus its optional S3 snapshot.
type State struct {
	Store     *storage.Store
	snapshots *snapshot.Snapshotter
	logger    *slog.Logger
}

// OpenState restores the snapshot (when configured) and opens the store.
func OpenState(ctx context.Context, cfg config.Config, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var snaps *snapshot.Snapshotter
	if cfg.Snapshot.Enabled() {
		path, ok := sqlitePath(cfg.Database)
		if !ok {
			return nil, fmt.Errorf("snapshots require a file-backed sqlite database")
		}
		s3, err := snapshot.NewS3(ctx, snapshot.Config{
			Bucket:       cfg.Snapshot.Bucket,
			Key:          cfg.Snapshot.Key,
			Region:       cfg.Snapshot.Region,
			Profile:      cfg.Snapshot.Profile,
			Endpoint:     cfg.Snapshot.Endpoint,
			UsePathStyle: cfg.Snapshot.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		snaps = snapshot.New(s3, cfg.Snapshot.Bucket, cfg.Snapshot.Key, path, logger)
		if _, err := snaps.Restore(ctx); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	return &State{Store: store, snapshots: snaps, logger: logger}, nil
}

// Persist uploads the current state when snapshots are enabled.
func (s *State) Persist(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.Store.Checkpoint(ctx); err != nil {
		return err
	}
	return s.snapshots.Upload(ctx)
}

// Close closes the store, uploading it first when persist is set.
func (s *State) Close(ctx context.Context, persist bool) error {
	var errs []error
	if persist {
		errs = append(errs, s.Persist(ctx))
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

// sqlitePath extracts the file path from a sqlite DSN such as
// "file:state.db?_busy_timeout=5000".
func sqlitePath(db config.DatabaseConfig) (string, bool) {
	switch strings.ToLower(db.Driver) {
	case "", "sqlite", "sqlite3":
	default:
		return "", false
	}
	path := strings.TrimPrefix(db.DSN, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return "", false
	}
	return path, true
}
