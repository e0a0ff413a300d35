package domain

import "time"

// ProcessingStatus enumerates the lifecycle of a processing record.
type ProcessingStatus string

const (
	// ProcessingPending marks a claim held by a run that is about to create a deal.
	ProcessingPending ProcessingStatus = "pending"
	// ProcessingCreated means this system created the deal.
	ProcessingCreated ProcessingStatus = "created"
	// ProcessingReconciled means the deal already existed downstream and was adopted.
	ProcessingReconciled ProcessingStatus = "reconciled"
	// ProcessingFailed means the last attempt failed; DealID is empty.
	ProcessingFailed ProcessingStatus = "failed"
	// ProcessingDeferred means no remote lookup settled the announcement yet
	// (budget exhausted or lookup failed). Nothing was sent downstream.
	ProcessingDeferred ProcessingStatus = "deferred"
)

// ProcessingRecord is the local memory of what happened to one announcement.
// At most one non-empty DealID may ever be stored per announcement number.
type ProcessingRecord struct {
	Number      string
	SearchName  string
	Status      ProcessingStatus
	DealID      string
	Rejections  int
	LastError   string
	RunID       string
	ProcessedAt time.Time
}

// LocalState is the outcome of the cheap local existence check.
type LocalState int

const (
	LocalAbsent LocalState = iota
	LocalPresentWithID
	LocalPresentWithoutID
)

func (s LocalState) String() string {
	switch s {
	case LocalPresentWithID:
		return "present-with-id"
	case LocalPresentWithoutID:
		return "present-without-id"
	default:
		return "absent"
	}
}

// State classifies the record for the idempotency check.
func (r ProcessingRecord) State() LocalState {
	if r.Number == "" {
		return LocalAbsent
	}
	if r.DealID != "" {
		return LocalPresentWithID
	}
	return LocalPresentWithoutID
}

// Claim asks the store to reserve an announcement for creation by one run.
type Claim struct {
	Number        string
	SearchName    string
	RunID         string
	At            time.Time
	MaxRejections int
	// StaleBefore lets a pending claim older than this be taken over.
	StaleBefore time.Time
}

// BacklogQuery selects unsettled processing records of earlier runs.
type BacklogQuery struct {
	SearchName string
	// PublishedFrom bounds how far back announcements are retried.
	PublishedFrom time.Time
	MaxRejections int
	StaleBefore   time.Time
	Limit         int
}
