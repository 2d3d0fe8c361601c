package redisstore

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/polyvec"
)

var testSpec = polyvec.CollectionSpec{
	Name:      "docs",
	Dimension: 3,
	Metric:    polyvec.Cosine,
	Fields: []polyvec.Field{
		{Name: "category", Type: polyvec.FieldTag},
		{Name: "lang", Type: polyvec.FieldTag},
		{Name: "year", Type: polyvec.FieldNumeric},
	},
}

func TestTranslateFilter_Query(t *testing.T) {
	tests := []struct {
		name string
		f    polyvec.Filter
		want string
	}{
		{"eq tag", polyvec.Eq("category", "news"), "@category:{news}"},
		{"eq tag escaped", polyvec.Eq("category", "sci-fi news"), `@category:{sci\-fi\ news}`},
		{"eq numeric", polyvec.Eq("year", 2024), "@year:[2024 2024]"},
		{"eq numeric float", polyvec.Eq("year", 19.5), "@year:[19.5 19.5]"},
		{"ne tag", polyvec.Ne("category", "spam"), "(-ismissing(@category) -@category:{spam})"},
		{"ne numeric", polyvec.Ne("year", 2024), "(@year:[-inf +inf] -@year:[2024 2024])"},
		{"gt", polyvec.Gt("year", 2020), "@year:[(2020 +inf]"},
		{"gte", polyvec.Gte("year", 2020), "@year:[2020 +inf]"},
		{"lt", polyvec.Lt("year", 2020), "@year:[-inf (2020]"},
		{"lte", polyvec.Lte("year", 2020), "@year:[-inf 2020]"},
		{"in tag", polyvec.In("lang", "en", "de"), "@lang:{en | de}"},
		{"in numeric", polyvec.In("year", 2020, 2021), "(@year:[2020 2020] | @year:[2021 2021])"},
		{"not_in tag", polyvec.NotIn("lang", "en", "de"), "(-ismissing(@lang) -@lang:{en | de})"},
		{
			"and",
			polyvec.And(polyvec.Eq("category", "news"), polyvec.Gt("year", 2020)),
			"(@category:{news} @year:[(2020 +inf])",
		},
		{
			"or",
			polyvec.Or(polyvec.Eq("lang", "en"), polyvec.Eq("lang", "de")),
			"(@lang:{en} | @lang:{de})",
		},
		{"not", polyvec.Not(polyvec.Eq("category", "news")), "(-@category:{news})"},
		{
			"nested",
			polyvec.And(
				polyvec.Or(polyvec.Eq("lang", "en"), polyvec.Eq("lang", "de")),
				polyvec.Not(polyvec.Eq("category", "spam")),
			),
			"((@lang:{en} | @lang:{de}) (-@category:{spam}))",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := translateFilter(tc.f, testSpec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.all || tr.none {
				t.Fatalf("expected a concrete query, got all=%v none=%v", tr.all, tr.none)
			}
			if tr.query != tc.want {
				t.Errorf("query = %q, want %q", tr.query, tc.want)
			}
		})
	}
}

func TestTranslateFilter_MatchAll(t *testing.T) {
	tests := []struct {
		name string
		f    polyvec.Filter
	}{
		{"zero filter", polyvec.Filter{}},
		{"and of zeros", polyvec.And(polyvec.Filter{}, polyvec.Filter{})},
		{"or containing zero", polyvec.Or(polyvec.Eq("category", "news"), polyvec.Filter{})},
		{"not of unknown key", polyvec.Not(polyvec.Eq("missing", "v"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := translateFilter(tc.f, testSpec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tr.all {
				t.Errorf("expected match-all, got %+v", tr)
			}
		})
	}
}

func TestTranslateFilter_MatchNone(t *testing.T) {
	tests := []struct {
		name string
		f    polyvec.Filter
	}{
		{"unknown key", polyvec.Eq("missing", "v")},
		{"non-numeric operand on numeric field", polyvec.Eq("year", "notanumber")},
		{"ne on unknown key", polyvec.Ne("missing", "v")},
		{"and containing unknown key", polyvec.And(polyvec.Eq("category", "news"), polyvec.Eq("missing", "v"))},
		{"or of unknown keys", polyvec.Or(polyvec.Eq("missing", "a"), polyvec.Eq("gone", "b"))},
		{"not of zero filter", polyvec.Not(polyvec.Filter{})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := translateFilter(tc.f, testSpec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tr.none {
				t.Errorf("expected match-none, got %+v", tr)
			}
		})
	}
}

func TestTranslateFilter_Errors(t *testing.T) {
	tests := []struct {
		name string
		f    polyvec.Filter
	}{
		{"range on tag field", polyvec.Gt("category", 1)},
		{"range with string operand", polyvec.Gte("year", "high")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := translateFilter(tc.f, testSpec)
			if !errors.Is(err, polyvec.ErrTranslation) {
				t.Errorf("expected ErrTranslation, got %v", err)
			}
		})
	}
}
