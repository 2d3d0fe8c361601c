package neostore

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/polyvec"
)

// cypherFilter is a rendered predicate tree: a WHERE fragment plus its
// parameters. all and none mark subtrees matching everything or nothing so
// callers can skip the WHERE clause or the whole query.
type cypherFilter struct {
	where  string
	params map[string]any
	all    bool
	none   bool
}

// translateFilter renders a filter into a parameterized Cypher WHERE
// fragment over the given node variable. Every leaf comparison is wrapped in
// coalesce(..., false): Cypher comparisons against an absent property yield
// null, and the contract wants a plain false there so that NOT over a
// missing-key predicate matches the document.
func translateFilter(f polyvec.Filter, node string) (cypherFilter, error) {
	b := &cypherBuilder{node: node, params: make(map[string]any)}
	cl, err := b.render(f)
	if err != nil {
		return cypherFilter{}, err
	}
	return cypherFilter{where: cl.expr, params: b.params, all: cl.all, none: cl.none}, nil
}

type clause struct {
	expr string
	all  bool
	none bool
}

type cypherBuilder struct {
	node   string
	params map[string]any
	n      int
}

// param registers a query parameter and returns its placeholder.
func (b *cypherBuilder) param(v any) string {
	name := fmt.Sprintf("f%d", b.n)
	b.n++
	b.params[name] = v
	return "$" + name
}

// prop renders the property access for a metadata key.
func (b *cypherBuilder) prop(key string) string {
	return b.node + "." + escapeIdent(metaPrefix+key)
}

func (b *cypherBuilder) render(f polyvec.Filter) (clause, error) {
	switch f.Op() {
	case polyvec.OpNone:
		return clause{all: true}, nil

	case polyvec.OpEq:
		return b.leaf(f.Key(), "=", f.Value()), nil
	case polyvec.OpNe:
		return b.leaf(f.Key(), "<>", f.Value()), nil
	case polyvec.OpGt:
		return b.rangeLeaf(f, ">")
	case polyvec.OpGte:
		return b.rangeLeaf(f, ">=")
	case polyvec.OpLt:
		return b.rangeLeaf(f, "<")
	case polyvec.OpLte:
		return b.rangeLeaf(f, "<=")

	case polyvec.OpIn:
		return clause{expr: fmt.Sprintf("coalesce(%s, false)", b.membership(f.Key(), f.Values()))}, nil
	case polyvec.OpNotIn:
		return clause{expr: fmt.Sprintf("coalesce(NOT (%s), false)", b.membership(f.Key(), f.Values()))}, nil

	case polyvec.OpAnd:
		return b.group(f.Children(), " AND ")
	case polyvec.OpOr:
		return b.group(f.Children(), " OR ")

	case polyvec.OpNot:
		cl, err := b.render(f.Children()[0])
		if err != nil {
			return clause{}, err
		}
		if cl.all {
			return clause{none: true}, nil
		}
		if cl.none {
			return clause{all: true}, nil
		}
		return clause{expr: "NOT " + cl.expr}, nil

	default:
		return clause{}, fmt.Errorf("%w: operator %s", polyvec.ErrTranslation, f.Op())
	}
}

// membership renders set membership for In/NotIn. An array-valued property
// matches when any element is in the set, mirroring how tag indexes treat
// arrays; a scalar property compares directly.
func (b *cypherBuilder) membership(key string, values []any) string {
	prop := b.prop(key)
	set := b.param(values)
	return fmt.Sprintf(
		"CASE WHEN %[1]s IS :: LIST<ANY> THEN any(x IN %[1]s WHERE x IN %[2]s) ELSE %[1]s IN %[2]s END",
		prop, set)
}

func (b *cypherBuilder) leaf(key, op string, v any) clause {
	return clause{expr: fmt.Sprintf("coalesce(%s %s %s, false)", b.prop(key), op, b.param(v))}
}

func (b *cypherBuilder) rangeLeaf(f polyvec.Filter, op string) (clause, error) {
	// Range comparisons bind to numbers only. Cypher would happily order
	// strings, but cross-backend semantics pin ranges to numeric operands.
	switch f.Value().(type) {
	case int, int64, float64:
	default:
		return clause{}, fmt.Errorf("%w: %s on %q requires a numeric operand",
			polyvec.ErrTranslation, f.Op(), f.Key())
	}
	return b.leaf(f.Key(), op, f.Value()), nil
}

func (b *cypherBuilder) group(children []polyvec.Filter, sep string) (clause, error) {
	and := sep == " AND "
	parts := make([]string, 0, len(children))
	for _, c := range children {
		cl, err := b.render(c)
		if err != nil {
			return clause{}, err
		}
		switch {
		case and && cl.none:
			return clause{none: true}, nil
		case and && cl.all:
			continue
		case !and && cl.all:
			return clause{all: true}, nil
		case !and && cl.none:
			continue
		}
		parts = append(parts, cl.expr)
	}
	if len(parts) == 0 {
		if and {
			return clause{all: true}, nil
		}
		return clause{none: true}, nil
	}
	if len(parts) == 1 {
		return clause{expr: parts[0]}, nil
	}
	return clause{expr: "(" + strings.Join(parts, sep) + ")"}, nil
}
