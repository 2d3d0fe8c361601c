package polyvec

import "fmt"

// FilterOp enumerates filter tree node kinds.
type FilterOp int

// Filter operators. Comparison operators apply to one metadata key;
// And/Or/Not combine sub-filters.
const (
	OpNone FilterOp = iota // zero filter: match all
	OpEq
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNotIn
	OpAnd
	OpOr
	OpNot
)

// String returns the operator name.
func (op FilterOp) String() string {
	switch op {
	case OpNone:
		return "none"
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpIn:
		return "in"
	case OpNotIn:
		return "not_in"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	default:
		return "unknown"
	}
}

// Filter is an immutable predicate tree over document metadata. The zero
// Filter matches every document. Each adapter owns a private recursive
// translator from this tree into its native query form, so no backend's
// query syntax leaks into the shared model.
//
// A leaf referencing a key absent from a document evaluates to false for
// that document, never an error.
type Filter struct {
	op       FilterOp
	key      string
	value    any
	values   []any
	children []Filter
}

// Eq matches documents whose metadata key equals value.
func Eq(key string, value any) Filter { return Filter{op: OpEq, key: key, value: value} }

// Ne matches documents whose metadata key is present and not equal to value.
func Ne(key string, value any) Filter { return Filter{op: OpNe, key: key, value: value} }

// Gt matches documents whose numeric metadata key is greater than value.
func Gt(key string, value any) Filter { return Filter{op: OpGt, key: key, value: value} }

// Gte matches documents whose numeric metadata key is >= value.
func Gte(key string, value any) Filter { return Filter{op: OpGte, key: key, value: value} }

// Lt matches documents whose numeric metadata key is less than value.
func Lt(key string, value any) Filter { return Filter{op: OpLt, key: key, value: value} }

// Lte matches documents whose numeric metadata key is <= value.
func Lte(key string, value any) Filter { return Filter{op: OpLte, key: key, value: value} }

// In matches documents whose metadata key equals any of the values.
func In(key string, values ...any) Filter { return Filter{op: OpIn, key: key, values: values} }

// NotIn matches documents whose metadata key is present and equals none of
// the values.
func NotIn(key string, values ...any) Filter { return Filter{op: OpNotIn, key: key, values: values} }

// And matches documents satisfying every sub-filter.
func And(filters ...Filter) Filter { return Filter{op: OpAnd, children: filters} }

// Or matches documents satisfying at least one sub-filter.
func Or(filters ...Filter) Filter { return Filter{op: OpOr, children: filters} }

// Not inverts a sub-filter.
func Not(f Filter) Filter { return Filter{op: OpNot, children: []Filter{f}} }

// Op returns the node operator.
func (f Filter) Op() FilterOp { return f.op }

// Key returns the metadata key of a comparison node.
func (f Filter) Key() string { return f.key }

// Value returns the operand of a single-value comparison.
func (f Filter) Value() any { return f.value }

// Values returns the operands of an In/NotIn node.
func (f Filter) Values() []any { return f.values }

// Children returns the sub-filters of an And/Or/Not node.
func (f Filter) Children() []Filter { return f.children }

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.op == OpNone }

// Validate checks the tree structure and operand types. Runs before any
// backend call so malformed filters fail fast with no side effects.
func (f Filter) Validate() error {
	switch f.op {
	case OpNone:
		return nil
	case OpEq, OpNe:
		if f.key == "" {
			return fmt.Errorf("%w: %s requires a key", ErrTranslation, f.op)
		}
		if !validScalar(f.value) {
			return fmt.Errorf("%w: %s on %q requires a scalar operand, got %T", ErrTranslation, f.op, f.key, f.value)
		}
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if f.key == "" {
			return fmt.Errorf("%w: %s requires a key", ErrTranslation, f.op)
		}
		if _, ok := toFloat(f.value); !ok {
			return fmt.Errorf("%w: %s on %q requires a numeric operand, got %T", ErrTranslation, f.op, f.key, f.value)
		}
		return nil
	case OpIn, OpNotIn:
		if f.key == "" {
			return fmt.Errorf("%w: %s requires a key", ErrTranslation, f.op)
		}
		if len(f.values) == 0 {
			return fmt.Errorf("%w: %s on %q requires at least one value", ErrTranslation, f.op, f.key)
		}
		for _, v := range f.values {
			if !validScalar(v) {
				return fmt.Errorf("%w: %s on %q requires scalar values, got %T", ErrTranslation, f.op, f.key, v)
			}
		}
		return nil
	case OpAnd, OpOr:
		if len(f.children) == 0 {
			return fmt.Errorf("%w: %s requires at least one sub-filter", ErrTranslation, f.op)
		}
		for _, c := range f.children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpNot:
		if len(f.children) != 1 {
			return fmt.Errorf("%w: not requires exactly one sub-filter", ErrTranslation)
		}
		return f.children[0].Validate()
	default:
		return fmt.Errorf("%w: unknown operator %d", ErrTranslation, int(f.op))
	}
}

func validScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
