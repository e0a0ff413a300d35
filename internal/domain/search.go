package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSearchName is the saved search used when none is configured.
const DefaultSearchName = "Default Automation"

// SearchSpec is a named, user-authored set of match predicates.
type SearchSpec struct {
	Name      string
	Filters   SearchFilters
	UpdatedAt time.Time
}

// SearchFilters holds every predicate category. Absent categories impose no constraint.
type SearchFilters struct {
	Keywords       []string         `json:"keywords,omitempty" yaml:"keywords"`
	CPVCodes       []string         `json:"cpv_codes,omitempty" yaml:"cpvCodes"`
	EntityNIF      string           `json:"entity_nif,omitempty" yaml:"entityNif"`
	ProcedureTypes []string         `json:"procedure_types,omitempty" yaml:"procedureTypes"`
	MinPrice       *decimal.Decimal `json:"min_price,omitempty" yaml:"minPrice"`
	MaxPrice       *decimal.Decimal `json:"max_price,omitempty" yaml:"maxPrice"`
	Locations      []string         `json:"locations,omitempty" yaml:"locations"`
}

// IsEmpty reports whether no predicate is set.
func (f SearchFilters) IsEmpty() bool {
	return len(f.Keywords) == 0 &&
		len(f.CPVCodes) == 0 &&
		strings.TrimSpace(f.EntityNIF) == "" &&
		len(f.ProcedureTypes) == 0 &&
		f.MinPrice == nil &&
		f.MaxPrice == nil &&
		len(f.Locations) == 0
}

// Normalize trims values and drops blanks so that "" never acts as a predicate.
func (f SearchFilters) Normalize() SearchFilters {
	f.Keywords = compact(f.Keywords)
	f.CPVCodes = compact(f.CPVCodes)
	f.EntityNIF = strings.TrimSpace(f.EntityNIF)
	f.ProcedureTypes = compact(f.ProcedureTypes)
	f.Locations = compact(f.Locations)
	return f
}

// SplitKeywords turns the dashboard's comma-separated keyword field into a list.
func SplitKeywords(raw string) []string {
	return compact(strings.Split(raw, ","))
}

func compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
