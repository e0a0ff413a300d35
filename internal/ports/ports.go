package ports

import (
	"context"
	"time"

	"TenderSync/internal/domain"
)

// AnnouncementSource pulls announcements published on a given day from the upstream provider.
type AnnouncementSource interface {
	FetchDay(ctx context.Context, day time.Time) (domain.DayBatch, error)
}

// AnnouncementRepository stores raw announcements; inserts never overwrite.
type AnnouncementRepository interface {
	InsertAnnouncement(ctx context.Context, a domain.Announcement) (bool, error)
}

// ProcessingRepository keeps per-announcement processing records.
type ProcessingRepository interface {
	GetProcessing(ctx context.Context, number string) (domain.ProcessingRecord, error)
	ClaimProcessing(ctx context.Context, claim domain.Claim) (bool, error)
	RecordDeal(ctx context.Context, rec domain.ProcessingRecord) error
	RecordFailure(ctx context.Context, rec domain.ProcessingRecord, permanent bool) error
	RecordDeferred(ctx context.Context, rec domain.ProcessingRecord) error
	Backlog(ctx context.Context, q domain.BacklogQuery) ([]domain.Announcement, error)
}

// RunLogRepository appends run log entries.
type RunLogRepository interface {
	AppendRun(ctx context.Context, entry domain.RunLogEntry) error
	RecentRuns(ctx context.Context, limit int) ([]domain.RunLogEntry, error)
}

// SearchRepository reads saved filter specifications.
type SearchRepository interface {
	GetSearch(ctx context.Context, name string) (domain.SearchSpec, error)
	SearchNames(ctx context.Context) ([]string, error)
}

// DealClient talks to the downstream CRM.
type DealClient interface {
	FindDeal(ctx context.Context, number string) (string, bool, error)
	CreateDeal(ctx context.Context, a domain.Announcement) (string, error)
}

// Notifier streams run summaries to Telegram or other channels.
type Notifier interface {
	Publish(ctx context.Context, message string) error
}

// RunMetrics receives the outcome of every finished run.
type RunMetrics interface {
	RunFinished(entry domain.RunLogEntry)
}

// RunLocker prevents overlapping runs. acquired is false when another holder owns the lock.
type RunLocker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
