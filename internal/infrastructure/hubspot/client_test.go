package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/domain"
	"TenderSync/internal/retry"
)

func sampleAnnouncement(t *testing.T) domain.Announcement {
	t.Helper()
	lisbon, err := time.LoadLocation("Europe/Lisbon")
	require.NoError(t, err)

	return domain.Announcement{
		Number:        "100/2025",
		PublishedOn:   time.Date(2025, time.March, 3, 0, 0, 0, 0, lisbon),
		DeadlineDays:  30,
		ProcedureType: "Concurso público",
		Title:         "Aquisição de serviços de limpeza",
		Description:   "Aquisição de serviços de limpeza",
		CPVs:          []string{"90910000-9", "90911000-6", "90911200-8", "90919000-2", "90919200-4", "90900000-6"},
		EntityNIF:     "600012345",
		EntityName:    "Município de Braga",
		BasePrice:     decimal.RequireFromString("1234567.89"),
		DocumentsURL:  "https://example.test/pecas/100",
		ViewURL:       "https://www.base.gov.pt/Base4/pt/detalhe/?type=anuncios&id=100/2025",
	}
}

func TestCreateDeal_Payload(t *testing.T) {
	t.Parallel()

	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/deals", r.URL.Path)
		assert.Equal(t, "Bearer pat-token", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"9001"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Token: "pat-token", HTTPClient: srv.Client()})
	id, err := c.CreateDeal(context.Background(), sampleAnnouncement(t))
	require.NoError(t, err)
	assert.Equal(t, "9001", id)

	var pretty bytes.Buffer
	require.NoError(t, json.Indent(&pretty, captured, "", "  "))
	pretty.WriteString("\n")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "create_deal_payload", pretty.Bytes())
}

func TestDealProperties_Fallbacks(t *testing.T) {
	t.Parallel()

	props := DealProperties(domain.Announcement{Number: "5/2025"}, "", "")
	assert.Equal(t, "Anúncio 5/2025", props["dealname"])
	assert.Equal(t, DefaultDealStage, props["dealstage"])
	assert.Equal(t, DefaultPipeline, props["pipeline"])
	assert.Equal(t, "", props["prazo_de_submissao"])
	assert.NotContains(t, props, "data_de_publicacao")
	assert.NotContains(t, props, "preco_eur")

	long := strings.Repeat("ç", 600)
	props = DealProperties(domain.Announcement{Number: "6/2025", Description: long}, "closedwon", "sales")
	assert.Len(t, []rune(props["dealname"].(string)), 100)
	assert.Len(t, []rune(props["descricao_do_procedimento"].(string)), 500)
	assert.Equal(t, "closedwon", props["dealstage"])
	assert.Equal(t, "sales", props["pipeline"])
}

func TestFindDeal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/deals/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.FilterGroups, 1)
		f := req.FilterGroups[0].Filters[0]
		assert.Equal(t, PropertyNumber, f.PropertyName)
		assert.Equal(t, "EQ", f.Operator)

		if f.Value == "100/2025" {
			_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"D-1"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"total":0,"results":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Token: "t", HTTPClient: srv.Client()})

	id, found, err := c.FindDeal(context.Background(), "100/2025")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "D-1", id)

	_, found, err = c.FindDeal(context.Background(), "200/2025")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
	}{
		{status: http.StatusBadRequest, permanent: true},
		{status: http.StatusUnauthorized, permanent: true},
		{status: http.StatusForbidden, permanent: true},
		{status: http.StatusConflict, permanent: true},
		{status: http.StatusUnprocessableEntity, permanent: true},
		{status: http.StatusTooManyRequests, permanent: false},
		{status: http.StatusInternalServerError, permanent: false},
		{status: http.StatusBadGateway, permanent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			c := NewClient(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
			_, err := c.CreateDeal(context.Background(), domain.Announcement{Number: "1/2025"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.Code)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url})
	_, _, err := c.FindDeal(context.Background(), "1/2025")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}
