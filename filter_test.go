package polyvec

import (
	"errors"
	"testing"
)

func TestFilterValidate_Valid(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
	}{
		{"zero", Filter{}},
		{"eq string", Eq("category", "news")},
		{"eq bool", Eq("published", true)},
		{"ne", Ne("category", "spam")},
		{"gt int", Gt("year", 2020)},
		{"lte float", Lte("price", 9.99)},
		{"in", In("lang", "en", "de")},
		{"not_in", NotIn("lang", "fr")},
		{"and", And(Eq("a", 1), Gt("b", 2))},
		{"or", Or(Eq("a", 1), Eq("a", 2))},
		{"not", Not(Eq("a", 1))},
		{"nested", And(Or(Eq("a", 1), Not(Ne("b", "x"))), Lte("c", 3))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.f.Validate(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFilterValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
	}{
		{"eq empty key", Eq("", "v")},
		{"eq slice operand", Eq("k", []string{"a"})},
		{"eq nil operand", Eq("k", nil)},
		{"gt string operand", Gt("k", "high")},
		{"lt bool operand", Lt("k", true)},
		{"in no values", In("k")},
		{"in bad value", In("k", "ok", struct{}{})},
		{"and empty", And()},
		{"or empty", Or()},
		{"invalid child", And(Eq("a", 1), Gt("b", "nope"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrTranslation) {
				t.Errorf("expected ErrTranslation, got %v", err)
			}
		})
	}
}

func TestFilterIsZero(t *testing.T) {
	if !(Filter{}).IsZero() {
		t.Error("zero filter should report IsZero")
	}
	if Eq("k", "v").IsZero() {
		t.Error("eq filter should not report IsZero")
	}
}

func TestFilterAccessors(t *testing.T) {
	f := In("lang", "en", "de")
	if f.Op() != OpIn || f.Key() != "lang" {
		t.Errorf("unexpected op/key: %v %q", f.Op(), f.Key())
	}
	if vs := f.Values(); len(vs) != 2 || vs[0] != "en" || vs[1] != "de" {
		t.Errorf("unexpected values: %v", vs)
	}

	n := Not(Eq("a", 1))
	if len(n.Children()) != 1 || n.Children()[0].Op() != OpEq {
		t.Errorf("unexpected children: %+v", n.Children())
	}
}

func TestFilterOpString(t *testing.T) {
	if OpNotIn.String() != "not_in" || OpNone.String() != "none" {
		t.Errorf("unexpected names: %s %s", OpNotIn, OpNone)
	}
	if FilterOp(99).String() != "unknown" {
		t.Errorf("unexpected name for invalid op: %s", FilterOp(99))
	}
}
