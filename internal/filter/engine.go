// Package filter decides whether an announcement satisfies a saved search.
//
// Evaluation is conjunctive across predicate categories and disjunctive inside
// a category. It has no side effects and no state beyond the compiled search.
package filter

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"TenderSync/internal/domain"
)

// Matcher is a search compiled for repeated evaluation.
type Matcher struct {
	keywords       []string
	cpvPrefixes    []string
	entityNIF      string
	procedureTypes []string
	minPrice       *decimal.Decimal
	maxPrice       *decimal.Decimal
	locations      []string
}

// Compile folds and normalizes the filters once.
func Compile(f domain.SearchFilters) Matcher {
	f = f.Normalize()

	m := Matcher{
		keywords:       foldAll(f.Keywords),
		procedureTypes: foldAll(f.ProcedureTypes),
		locations:      foldAll(f.Locations),
		entityNIF:      fold(f.EntityNIF),
		minPrice:       f.MinPrice,
		maxPrice:       f.MaxPrice,
	}
	for _, code := range f.CPVCodes {
		// "33600000-6" matches on the part before the check digit.
		prefix, _, _ := strings.Cut(code, "-")
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			m.cpvPrefixes = append(m.cpvPrefixes, fold(prefix))
		}
	}
	return m
}

// Matches evaluates a single announcement against a search.
func Matches(a domain.Announcement, spec domain.SearchSpec) bool {
	return Compile(spec.Filters).Match(a)
}

// Match reports whether every configured predicate holds for a.
func (m Matcher) Match(a domain.Announcement) bool {
	if len(m.keywords) > 0 && !m.matchKeywords(a) {
		return false
	}
	if len(m.cpvPrefixes) > 0 && !anyContains(foldAll(a.CPVs), m.cpvPrefixes) {
		return false
	}
	if m.entityNIF != "" && !strings.Contains(fold(a.EntityNIF), m.entityNIF) {
		return false
	}
	if len(m.procedureTypes) > 0 && !m.matchProcedure(a.ProcedureType) {
		return false
	}
	if m.minPrice != nil && a.BasePrice.LessThan(*m.minPrice) {
		return false
	}
	if m.maxPrice != nil && a.BasePrice.GreaterThan(*m.maxPrice) {
		return false
	}
	// Announcements without execution locations are not excluded by a location predicate.
	if len(m.locations) > 0 && len(a.Locations) > 0 && !anyContains(foldAll(a.Locations), m.locations) {
		return false
	}
	return true
}

func (m Matcher) matchKeywords(a domain.Announcement) bool {
	haystacks := []string{
		fold(a.Title),
		fold(a.Description),
		fold(strings.Join(a.CPVs, " ")),
	}
	return anyContains(haystacks, m.keywords)
}

func (m Matcher) matchProcedure(value string) bool {
	value = fold(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, t := range m.procedureTypes {
		if t == value {
			return true
		}
	}
	return false
}

func anyContains(haystacks, needles []string) bool {
	for _, h := range haystacks {
		for _, n := range needles {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

func fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

func foldAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fold(v)
	}
	return out
}
