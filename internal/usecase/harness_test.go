package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/storage"
	"TenderSync/internal/retry"
)

var lisbon = mustLocation("Europe/Lisbon")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, lisbon)
}

func announcement(number string, published time.Time, title string) domain.Announcement {
	return domain.Announcement{
		Number:        number,
		PublishedOn:   published,
		ProcedureType: "Concurso público",
		Title:         title,
		Description:   title,
		CPVs:          []string{"90910000-9"},
		EntityName:    "Município de Braga",
		BasePrice:     decimal.NewFromInt(1000),
	}
}

// fakeSource serves fixed batches per day and can fail a day a number of times.
type fakeSource struct {
	mu       sync.Mutex
	batches  map[string]domain.DayBatch
	failures map[string]int
	calls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{batches: map[string]domain.DayBatch{}, failures: map[string]int{}}
}

func (s *fakeSource) add(a domain.Announcement) {
	key := a.PublishedOn.Format("2006-01-02")
	b := s.batches[key]
	b.Announcements = append(b.Announcements, a)
	s.batches[key] = b
}

func (s *fakeSource) reject(d time.Time, rec domain.RejectedRecord) {
	key := d.Format("2006-01-02")
	b := s.batches[key]
	b.Rejected = append(b.Rejected, rec)
	s.batches[key] = b
}

func (s *fakeSource) failDay(d time.Time, times int) {
	s.failures[d.Format("2006-01-02")] = times
}

func (s *fakeSource) FetchDay(_ context.Context, d time.Time) (domain.DayBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	key := d.In(lisbon).Format("2006-01-02")
	if s.failures[key] != 0 {
		if s.failures[key] > 0 {
			s.failures[key]--
		}
		return domain.DayBatch{}, errors.New("upstream 503")
	}
	b := s.batches[key]
	b.Day = d
	return b, nil
}

// fakeCRM is an in-memory deal store keyed by announcement number.
type fakeCRM struct {
	mu        sync.Mutex
	deals     map[string]string
	createErr map[string][]error
	findErr   error
	// onFind runs inside every lookup, before the result is decided.
	onFind  func()
	creates int
	finds   int
	seq     int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{deals: map[string]string{}, createErr: map[string][]error{}}
}

func (c *fakeCRM) FindDeal(_ context.Context, number string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	if c.onFind != nil {
		c.onFind()
	}
	if c.findErr != nil {
		return "", false, c.findErr
	}
	id, ok := c.deals[number]
	return id, ok, nil
}

func (c *fakeCRM) CreateDeal(_ context.Context, a domain.Announcement) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	if errs := c.createErr[a.Number]; len(errs) > 0 {
		err := errs[0]
		if len(errs) > 1 {
			c.createErr[a.Number] = errs[1:]
		}
		if err != nil {
			return "", err
		}
	}
	c.seq++
	id := fmt.Sprintf("D%d", c.seq)
	c.deals[a.Number] = id
	return id, nil
}

func (c *fakeCRM) dealCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deals)
}

// faultyStore wraps the SQLite store and can fail RecordDeal to simulate a crash
// between deal creation and persistence.
type faultyStore struct {
	*storage.Store
	failRecordDeal bool
}

func (f *faultyStore) RecordDeal(ctx context.Context, rec domain.ProcessingRecord) error {
	if f.failRecordDeal {
		return errors.New("disk I/O error")
	}
	return f.Store.RecordDeal(ctx, rec)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store  *faultyStore
	source *fakeSource
	crm    *fakeCRM
	clock  *clock
	notes  *recordingNotifier
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Publish(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := storage.Open(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &harness{
		store:  &faultyStore{Store: s},
		source: newFakeSource(),
		crm:    newFakeCRM(),
		clock:  &clock{now: time.Date(2025, time.March, 5, 7, 0, 0, 0, lisbon)},
		notes:  &recordingNotifier{},
	}
}

func (h *harness) saveSearch(t *testing.T, name string, f domain.SearchFilters) {
	t.Helper()
	require.NoError(t, h.store.SaveSearch(context.Background(), domain.SearchSpec{Name: name, Filters: f}))
}

func (h *harness) pipeline(reconcileLimit int) *Pipeline {
	return h.pipelineWithRetry(reconcileLimit, retry.Policy{MaxAttempts: 2})
}

func (h *harness) pipelineWithRetry(reconcileLimit int, policy retry.Policy) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:         h.source,
		Announcements:  h.store,
		Processing:     h.store,
		Runs:           h.store,
		Searches:       h.store,
		Deals:          h.crm,
		Notifier:       h.notes,
		Location:       lisbon,
		Retry:          policy,
		MaxRejections:  3,
		ClaimLease:     15 * time.Minute,
		ReconcileLimit: reconcileLimit,
		BacklogDays:    30,
		BacklogLimit:   100,
		Now:            h.clock.Now,
	})
}

func (h *harness) run(t *testing.T, params RunParams) (domain.RunLogEntry, error) {
	t.Helper()
	return h.pipeline(0).Run(context.Background(), params)
}
