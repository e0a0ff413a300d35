package domain

import "time"

// RunStatus is the terminal status of one pipeline invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// RunCounts aggregates what happened during a run.
type RunCounts struct {
	Fetched    int `json:"fetched"`
	New        int `json:"new"`
	Matched    int `json:"matched"`
	Created    int `json:"created"`
	Reconciled int `json:"reconciled"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
	Deferred   int `json:"deferred"`
	FailedDays int `json:"failed_days"`
}

// RunLogEntry is the append-only record of one run, kept for monitoring.
type RunLogEntry struct {
	ID           string
	RunDate      time.Time
	SearchName   string
	WindowFrom   time.Time
	WindowTo     time.Time
	Counts       RunCounts
	Status       RunStatus
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time of the run.
func (e RunLogEntry) Duration() time.Duration {
	if e.FinishedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
