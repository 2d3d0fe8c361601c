package neostore

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/polyvec"
)

func TestTranslateFilter_Query(t *testing.T) {
	tests := []struct {
		name       string
		f          polyvec.Filter
		want       string
		wantParams map[string]any
	}{
		{
			"eq",
			polyvec.Eq("category", "news"),
			"coalesce(n.`m_category` = $f0, false)",
			map[string]any{"f0": "news"},
		},
		{
			"ne",
			polyvec.Ne("category", "spam"),
			"coalesce(n.`m_category` <> $f0, false)",
			map[string]any{"f0": "spam"},
		},
		{
			"gt",
			polyvec.Gt("year", 2020),
			"coalesce(n.`m_year` > $f0, false)",
			map[string]any{"f0": 2020},
		},
		{
			"lte",
			polyvec.Lte("price", 9.5),
			"coalesce(n.`m_price` <= $f0, false)",
			map[string]any{"f0": 9.5},
		},
		{
			// Array-valued properties match on any element, like a tag index.
			"in",
			polyvec.In("lang", "en", "de"),
			"coalesce(CASE WHEN n.`m_lang` IS :: LIST<ANY>" +
				" THEN any(x IN n.`m_lang` WHERE x IN $f0)" +
				" ELSE n.`m_lang` IN $f0 END, false)",
			map[string]any{"f0": []any{"en", "de"}},
		},
		{
			"not_in",
			polyvec.NotIn("lang", "fr"),
			"coalesce(NOT (CASE WHEN n.`m_lang` IS :: LIST<ANY>" +
				" THEN any(x IN n.`m_lang` WHERE x IN $f0)" +
				" ELSE n.`m_lang` IN $f0 END), false)",
			map[string]any{"f0": []any{"fr"}},
		},
		{
			"and",
			polyvec.And(polyvec.Eq("a", "x"), polyvec.Gt("b", 1)),
			"(coalesce(n.`m_a` = $f0, false) AND coalesce(n.`m_b` > $f1, false))",
			map[string]any{"f0": "x", "f1": 1},
		},
		{
			"or",
			polyvec.Or(polyvec.Eq("a", "x"), polyvec.Eq("a", "y")),
			"(coalesce(n.`m_a` = $f0, false) OR coalesce(n.`m_a` = $f1, false))",
			map[string]any{"f0": "x", "f1": "y"},
		},
		{
			"not",
			polyvec.Not(polyvec.Eq("a", "x")),
			"NOT coalesce(n.`m_a` = $f0, false)",
			map[string]any{"f0": "x"},
		},
		{
			"nested",
			polyvec.And(
				polyvec.Or(polyvec.Eq("lang", "en"), polyvec.Eq("lang", "de")),
				polyvec.Not(polyvec.Eq("category", "spam")),
			),
			"((coalesce(n.`m_lang` = $f0, false) OR coalesce(n.`m_lang` = $f1, false))" +
				" AND NOT coalesce(n.`m_category` = $f2, false))",
			map[string]any{"f0": "en", "f1": "de", "f2": "spam"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cf, err := translateFilter(tc.f, "n")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cf.all || cf.none {
				t.Fatalf("expected a concrete clause, got all=%v none=%v", cf.all, cf.none)
			}
			if cf.where != tc.want {
				t.Errorf("where = %q, want %q", cf.where, tc.want)
			}
			if !reflect.DeepEqual(cf.params, tc.wantParams) {
				t.Errorf("params = %#v, want %#v", cf.params, tc.wantParams)
			}
		})
	}
}

func TestTranslateFilter_Folding(t *testing.T) {
	zero, err := translateFilter(polyvec.Filter{}, "n")
	if err != nil || !zero.all {
		t.Fatalf("zero filter: all=%v err=%v", zero.all, err)
	}

	notZero, err := translateFilter(polyvec.Not(polyvec.Filter{}), "n")
	if err != nil || !notZero.none {
		t.Fatalf("not(zero): none=%v err=%v", notZero.none, err)
	}

	// A zero child folds away inside and; the single survivor loses the
	// wrapping parens.
	and, err := translateFilter(polyvec.And(polyvec.Filter{}, polyvec.Eq("a", "x")), "n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if and.where != "coalesce(n.`m_a` = $f0, false)" {
		t.Errorf("where = %q", and.where)
	}

	or, err := translateFilter(polyvec.Or(polyvec.Filter{}, polyvec.Eq("a", "x")), "n")
	if err != nil || !or.all {
		t.Fatalf("or with zero child: all=%v err=%v", or.all, err)
	}
}

func TestTranslateFilter_RangeRequiresNumber(t *testing.T) {
	_, err := translateFilter(polyvec.Gt("year", "high"), "n")
	if !errors.Is(err, polyvec.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
}

func TestEscapeIdent(t *testing.T) {
	if got := escapeIdent("Polyvec_docs"); got != "`Polyvec_docs`" {
		t.Errorf("escapeIdent = %q", got)
	}
	if got := escapeIdent("weird`name"); got != "`weird``name`" {
		t.Errorf("escapeIdent = %q", got)
	}
}
