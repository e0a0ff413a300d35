package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/domain"
)

func sampleEntry(status domain.RunStatus) domain.RunLogEntry {
	started := time.Date(2025, time.March, 4, 6, 0, 0, 0, time.UTC)
	return domain.RunLogEntry{
		ID:         "run-1",
		Status:     status,
		Counts:     domain.RunCounts{Fetched: 40, New: 12, Matched: 3, Created: 2, Failed: 1, FailedDays: 1},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}
}

func TestPrometheusSink_RunFinished(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, nil)

	sink.RunFinished(sampleEntry(domain.RunPartial))
	sink.RunFinished(sampleEntry(domain.RunPartial))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.runsTotal.WithLabelValues("partial")))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.itemsTotal.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.lastRunItems.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.failedDaysTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.runDuration))
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, nil)
	second := NewPrometheusSink(reg, nil)

	assert.NotPanics(t, func() { second.RunFinished(sampleEntry(domain.RunSuccess)) })
}

func TestPusher_Push(t *testing.T) {
	t.Parallel()

	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, nil)
	sink.RunFinished(sampleEntry(domain.RunSuccess))

	require.NoError(t, NewPusher(srv.URL, "tendersync", reg).Push(context.Background()))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/tendersync", path)
	assert.NotEmpty(t, body)
}

func TestNewPusher_EmptyURL(t *testing.T) {
	t.Parallel()

	p := NewPusher("", "job", prometheus.NewRegistry())
	assert.Nil(t, p)
	assert.NoError(t, p.Push(context.Background()))
}
