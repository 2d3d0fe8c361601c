package parquetstore

import (
	"fmt"

	"github.com/kailas-cloud/polyvec"
)

// evalFilter evaluates a predicate tree against document metadata in
// process. A predicate over a missing key is false; not flips that to true.
// Numbers compare after widening to float64, so an int value matches a
// float64 operand. A scalar predicate over an array value matches when any
// element matches, mirroring how tag indexes treat arrays.
func evalFilter(f polyvec.Filter, meta polyvec.Metadata) (bool, error) {
	switch f.Op() {
	case polyvec.OpNone:
		return true, nil

	case polyvec.OpEq:
		v, ok := meta[f.Key()]
		return ok && anyElement(v, func(e any) bool { return scalarEqual(e, f.Value()) }), nil

	case polyvec.OpNe:
		v, ok := meta[f.Key()]
		return ok && !anyElement(v, func(e any) bool { return scalarEqual(e, f.Value()) }), nil

	case polyvec.OpGt, polyvec.OpGte, polyvec.OpLt, polyvec.OpLte:
		operand, ok := toFloat(f.Value())
		if !ok {
			return false, fmt.Errorf("%w: %s on %q requires a numeric operand",
				polyvec.ErrTranslation, f.Op(), f.Key())
		}
		v, present := meta[f.Key()]
		if !present {
			return false, nil
		}
		return anyElement(v, func(e any) bool {
			n, ok := toFloat(e)
			if !ok {
				return false
			}
			switch f.Op() {
			case polyvec.OpGt:
				return n > operand
			case polyvec.OpGte:
				return n >= operand
			case polyvec.OpLt:
				return n < operand
			default:
				return n <= operand
			}
		}), nil

	case polyvec.OpIn:
		v, ok := meta[f.Key()]
		return ok && anyElement(v, func(e any) bool {
			for _, want := range f.Values() {
				if scalarEqual(e, want) {
					return true
				}
			}
			return false
		}), nil

	case polyvec.OpNotIn:
		v, ok := meta[f.Key()]
		return ok && !anyElement(v, func(e any) bool {
			for _, want := range f.Values() {
				if scalarEqual(e, want) {
					return true
				}
			}
			return false
		}), nil

	case polyvec.OpAnd:
		for _, c := range f.Children() {
			ok, err := evalFilter(c, meta)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case polyvec.OpOr:
		for _, c := range f.Children() {
			ok, err := evalFilter(c, meta)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case polyvec.OpNot:
		ok, err := evalFilter(f.Children()[0], meta)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("%w: operator %s", polyvec.ErrTranslation, f.Op())
	}
}

// anyElement applies pred across an array value, or directly to a scalar.
func anyElement(v any, pred func(any) bool) bool {
	switch vv := v.(type) {
	case []string:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	case []bool:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	case []int:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	case []int64:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	case []float64:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	case []any:
		for _, e := range vv {
			if pred(e) {
				return true
			}
		}
	default:
		return pred(v)
	}
	return false
}

// scalarEqual compares two scalars, widening numbers so 3 equals 3.0.
func scalarEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	return a == b
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
