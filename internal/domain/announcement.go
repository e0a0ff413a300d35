package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Announcement is an immutable procurement notice as received from the upstream source.
type Announcement struct {
	Number        string
	PublishedOn   time.Time
	DeadlineDays  int
	ProcedureType string
	NoticeType    string
	Title         string
	Description   string
	CPVs          []string
	EntityNIF     string
	EntityName    string
	BasePrice     decimal.Decimal
	DocumentsURL  string
	ViewURL       string
	Locations     []string
	Raw           json.RawMessage
}

// Deadline returns the submission deadline, or false when the source did not provide one.
func (a Announcement) Deadline() (time.Time, bool) {
	if a.PublishedOn.IsZero() || a.DeadlineDays <= 0 {
		return time.Time{}, false
	}
	return a.PublishedOn.AddDate(0, 0, a.DeadlineDays), true
}

// DayBatch is everything the source returned for a single publication day.
type DayBatch struct {
	Day           time.Time
	Announcements []Announcement
	Rejected      []RejectedRecord
}

// RejectedRecord is an upstream record that could not be turned into an Announcement.
type RejectedRecord struct {
	Number string
	Reason string
}
