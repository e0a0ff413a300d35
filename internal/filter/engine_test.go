package filter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"TenderSync/internal/domain"
)

func sampleAnnouncement() domain.Announcement {
	return domain.Announcement{
		Number:        "123/2025",
		PublishedOn:   time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC),
		ProcedureType: "Concurso público",
		Title:         "Aquisição de serviços de saúde ocupacional",
		Description:   "Aquisição de serviços de saúde ocupacional para 2025",
		CPVs:          []string{"85147000-1 - Serviços de saúde das empresas"},
		EntityNIF:     "600012345",
		EntityName:    "Município de Braga",
		BasePrice:     decimal.RequireFromString("125000.50"),
		Locations:     []string{"Portugal, Braga, Braga"},
	}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filters domain.SearchFilters
		want    bool
	}{
		{name: "empty specification passes everything", filters: domain.SearchFilters{}, want: true},
		{name: "keyword in title", filters: domain.SearchFilters{Keywords: []string{"saúde"}}, want: true},
		{name: "keyword case-insensitive", filters: domain.SearchFilters{Keywords: []string{"SAÚDE"}}, want: true},
		{name: "keyword absent", filters: domain.SearchFilters{Keywords: []string{"construção"}}, want: false},
		{name: "any keyword suffices", filters: domain.SearchFilters{Keywords: []string{"construção", "ocupacional"}}, want: true},
		{name: "keyword in cpv description", filters: domain.SearchFilters{Keywords: []string{"empresas"}}, want: true},
		{name: "blank keyword ignored", filters: domain.SearchFilters{Keywords: []string{"  "}}, want: true},
		{name: "cpv prefix match", filters: domain.SearchFilters{CPVCodes: []string{"85147000-1"}}, want: true},
		{name: "cpv division prefix", filters: domain.SearchFilters{CPVCodes: []string{"8514"}}, want: true},
		{name: "cpv mismatch", filters: domain.SearchFilters{CPVCodes: []string{"45000000-7"}}, want: false},
		{name: "entity nif substring", filters: domain.SearchFilters{EntityNIF: "0012"}, want: true},
		{name: "entity nif mismatch", filters: domain.SearchFilters{EntityNIF: "999"}, want: false},
		{name: "procedure type membership", filters: domain.SearchFilters{ProcedureTypes: []string{"Ajuste Direto", "concurso PÚBLICO"}}, want: true},
		{name: "procedure type not listed", filters: domain.SearchFilters{ProcedureTypes: []string{"Ajuste Direto"}}, want: false},
		{name: "price inside bounds", filters: domain.SearchFilters{MinPrice: dec("100000"), MaxPrice: dec("200000")}, want: true},
		{name: "min bound inclusive", filters: domain.SearchFilters{MinPrice: dec("125000.50")}, want: true},
		{name: "max bound inclusive", filters: domain.SearchFilters{MaxPrice: dec("125000.50")}, want: true},
		{name: "below min", filters: domain.SearchFilters{MinPrice: dec("125000.51")}, want: false},
		{name: "above max", filters: domain.SearchFilters{MaxPrice: dec("1000")}, want: false},
		{name: "location substring", filters: domain.SearchFilters{Locations: []string{"braga"}}, want: true},
		{name: "location mismatch", filters: domain.SearchFilters{Locations: []string{"Lisboa"}}, want: false},
		{
			name: "conjunction across categories fails on one",
			filters: domain.SearchFilters{
				Keywords: []string{"saúde"},
				CPVCodes: []string{"85147000-1"},
				MaxPrice: dec("1000"),
			},
			want: false,
		},
		{
			name: "conjunction across categories holds",
			filters: domain.SearchFilters{
				Keywords:       []string{"saúde"},
				CPVCodes:       []string{"85"},
				EntityNIF:      "600012345",
				ProcedureTypes: []string{"Concurso público"},
				MinPrice:       dec("0"),
				Locations:      []string{"Braga"},
			},
			want: true,
		},
	}

	a := sampleAnnouncement()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Matches(a, domain.SearchSpec{Name: "test", Filters: tt.filters})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_AnnouncementWithoutLocationsPassesLocationPredicate(t *testing.T) {
	t.Parallel()

	a := sampleAnnouncement()
	a.Locations = nil
	assert.True(t, Matches(a, domain.SearchSpec{Filters: domain.SearchFilters{Locations: []string{"Porto"}}}))
}

func TestMatches_Deterministic(t *testing.T) {
	t.Parallel()

	a := sampleAnnouncement()
	spec := domain.SearchSpec{Filters: domain.SearchFilters{Keywords: []string{"saúde"}, CPVCodes: []string{"85"}}}
	m := Compile(spec.Filters)

	first := m.Match(a)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, m.Match(a))
		assert.Equal(t, first, Matches(a, spec))
	}

	other := sampleAnnouncement()
	other.Title, other.Description, other.CPVs = "Obras", "Obras de construção", nil
	assert.False(t, m.Match(other))
	assert.Equal(t, first, m.Match(a), "evaluating another announcement must not change the result")
}

func TestMatches_EmptyAnnouncementAgainstEmptySpec(t *testing.T) {
	t.Parallel()
	assert.True(t, Matches(domain.Announcement{}, domain.SearchSpec{}))
}
