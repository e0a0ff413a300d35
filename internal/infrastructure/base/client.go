// Package base reads procurement announcements from the Base.gov.pt API.
package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/retry"
)

const (
	DefaultBaseURL  = "https://www.base.gov.pt/APIBase2"
	DefaultCacheTTL = 10 * time.Minute

	tokenHeader = "_AcessToken"
	maxBodySize = 256 << 20
)

// Options configures Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	// Location is the calendar publication dates belong to.
	Location *time.Location
}

// Client serves per-day queries from a cached copy of the year's announcements,
// since the API only filters by year.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
	ttl     time.Duration
	loc     *time.Location
	now     func() time.Time

	mu    sync.Mutex
	years map[int]*yearSnapshot
}

type yearSnapshot struct {
	fetchedAt time.Time
	byDay     map[string][]domain.Announcement
	rejected  map[string][]domain.RejectedRecord
	// undated records cannot be attributed to a day; they are reported once.
	undated         []domain.RejectedRecord
	undatedReported bool
}

// NewClient wires an HTTP client; the timeout defaults to 30s.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		client:  client,
		baseURL: baseURL,
		token:   opts.Token,
		ttl:     ttl,
		loc:     loc,
		now:     time.Now,
		years:   make(map[int]*yearSnapshot),
	}
}

// FetchDay returns the announcements published on day, plus records of that day
// that were rejected as malformed.
func (c *Client) FetchDay(ctx context.Context, day time.Time) (domain.DayBatch, error) {
	day = day.In(c.loc)
	key := day.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.snapshot(ctx, day.Year())
	if err != nil {
		return domain.DayBatch{}, err
	}

	batch := domain.DayBatch{
		Day:           time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc),
		Announcements: append([]domain.Announcement(nil), snap.byDay[key]...),
		Rejected:      append([]domain.RejectedRecord(nil), snap.rejected[key]...),
	}
	if !snap.undatedReported {
		batch.Rejected = append(batch.Rejected, snap.undated...)
		snap.undatedReported = true
	}
	return batch, nil
}

func (c *Client) snapshot(ctx context.Context, year int) (*yearSnapshot, error) {
	if snap, ok := c.years[year]; ok && c.now().Sub(snap.fetchedAt) < c.ttl {
		return snap, nil
	}

	records, err := c.fetchYear(ctx, year)
	if err != nil {
		return nil, err
	}

	snap := &yearSnapshot{
		fetchedAt: c.now(),
		byDay:     make(map[string][]domain.Announcement),
		rejected:  make(map[string][]domain.RejectedRecord),
	}
	if previous, ok := c.years[year]; ok {
		snap.undatedReported = previous.undatedReported
	}

	seen := make(map[string]struct{}, len(records))
	for _, raw := range records {
		a, err := decodeAnnouncement(raw, c.loc)
		if err != nil {
			rej := domain.RejectedRecord{Number: recordNumber(raw), Reason: err.Error()}
			if day, ok := rejectedDay(raw, c.loc); ok {
				snap.rejected[day] = append(snap.rejected[day], rej)
			} else {
				snap.undated = append(snap.undated, rej)
			}
			continue
		}
		if _, dup := seen[a.Number]; dup {
			continue
		}
		seen[a.Number] = struct{}{}

		key := a.PublishedOn.Format("2006-01-02")
		snap.byDay[key] = append(snap.byDay[key], a)
	}

	c.years[year] = snap
	return snap, nil
}

func rejectedDay(raw json.RawMessage, loc *time.Location) (string, bool) {
	var head struct {
		PublishedOn flexString `json:"dataPublicacao"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false
	}
	t, err := parseDate(string(head.PublishedOn), loc)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// fetchYear downloads every announcement of a year. Errors are classified:
// retry.Permanent for credential and request problems, plain errors otherwise.
func (c *Client) fetchYear(ctx context.Context, year int) ([]json.RawMessage, error) {
	endpoint, err := url.Parse(c.baseURL + "/GetInfoAnuncio")
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse base url: %w", err))
	}
	q := endpoint.Query()
	q.Set("Ano", strconv.Itoa(year))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "TenderSync/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request announcements %d: %w", year, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read announcements %d: %w", year, err)
	}

	if err := classifyStatus(resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}

	return decodeBody(body)
}

func classifyStatus(code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("base api returned %s", status)
	default:
		return retry.Permanent(fmt.Errorf("base api returned %s", status))
	}
}

// decodeBody accepts a list of records, a single record, or the API's string error messages.
func decodeBody(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	switch body[0] {
	case '"':
		var msg string
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("decode api message: %w", err)
		}
		return nil, apiMessageError(msg)
	case '{':
		return []json.RawMessage{json.RawMessage(body)}, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode announcements: %w", err)
	}
	return records, nil
}

func apiMessageError(msg string) error {
	switch {
	case strings.Contains(msg, "Invalid Token"):
		return retry.Permanent(fmt.Errorf("base api: invalid access token"))
	case strings.Contains(msg, "Token is required"):
		return retry.Permanent(fmt.Errorf("base api: missing access token"))
	default:
		return fmt.Errorf("base api: %s", msg)
	}
}
