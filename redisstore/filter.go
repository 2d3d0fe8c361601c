package redisstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/polyvec"
)

// translation is the result of rendering a filter subtree. all and none mark
// subtrees that match everything or nothing; they fold away during
// composition so the final query string never embeds a wildcard mid-group.
type translation struct {
	query string
	all   bool
	none  bool
}

var matchAll = translation{all: true}
var matchNone = translation{none: true}

// translateFilter renders a predicate tree into an FT.SEARCH dialect-2 query
// fragment. Filters on keys absent from the collection schema match nothing
// (never an error); tag fields need INDEXMISSING for the presence checks
// behind ne / not-in.
func translateFilter(f polyvec.Filter, spec polyvec.CollectionSpec) (translation, error) {
	switch f.Op() {
	case polyvec.OpNone:
		return matchAll, nil

	case polyvec.OpEq:
		return translateEq(f.Key(), f.Value(), spec)

	case polyvec.OpNe:
		eq, err := translateEq(f.Key(), f.Value(), spec)
		if err != nil {
			return translation{}, err
		}
		if eq.none {
			// Key unknown or value untypable: the leaf matches nothing.
			return matchNone, nil
		}
		present, err := translatePresence(f.Key(), spec)
		if err != nil {
			return translation{}, err
		}
		return translation{query: "(" + present.query + " -" + eq.query + ")"}, nil

	case polyvec.OpGt, polyvec.OpGte, polyvec.OpLt, polyvec.OpLte:
		return translateRange(f, spec)

	case polyvec.OpIn:
		return translateIn(f.Key(), f.Values(), spec)

	case polyvec.OpNotIn:
		in, err := translateIn(f.Key(), f.Values(), spec)
		if err != nil {
			return translation{}, err
		}
		if in.none {
			return matchNone, nil
		}
		present, err := translatePresence(f.Key(), spec)
		if err != nil {
			return translation{}, err
		}
		return translation{query: "(" + present.query + " -" + in.query + ")"}, nil

	case polyvec.OpAnd:
		parts := make([]string, 0, len(f.Children()))
		for _, c := range f.Children() {
			tr, err := translateFilter(c, spec)
			if err != nil {
				return translation{}, err
			}
			if tr.none {
				return matchNone, nil
			}
			if tr.all {
				continue
			}
			parts = append(parts, tr.query)
		}
		if len(parts) == 0 {
			return matchAll, nil
		}
		return translation{query: "(" + strings.Join(parts, " ") + ")"}, nil

	case polyvec.OpOr:
		parts := make([]string, 0, len(f.Children()))
		for _, c := range f.Children() {
			tr, err := translateFilter(c, spec)
			if err != nil {
				return translation{}, err
			}
			if tr.all {
				return matchAll, nil
			}
			if tr.none {
				continue
			}
			parts = append(parts, tr.query)
		}
		if len(parts) == 0 {
			return matchNone, nil
		}
		return translation{query: "(" + strings.Join(parts, " | ") + ")"}, nil

	case polyvec.OpNot:
		tr, err := translateFilter(f.Children()[0], spec)
		if err != nil {
			return translation{}, err
		}
		if tr.all {
			return matchNone, nil
		}
		if tr.none {
			return matchAll, nil
		}
		return translation{query: "(-" + tr.query + ")"}, nil

	default:
		return translation{}, fmt.Errorf("%w: operator %s", polyvec.ErrTranslation, f.Op())
	}
}

func translateEq(key string, value any, spec polyvec.CollectionSpec) (translation, error) {
	ft, ok := schemaField(spec, key)
	if !ok {
		return matchNone, nil
	}
	if ft == polyvec.FieldNumeric {
		n, ok := numericValue(value)
		if !ok {
			// Native coercion: a non-numeric operand never matches a
			// numeric column.
			return matchNone, nil
		}
		v := formatNumber(n)
		return translation{query: fmt.Sprintf("@%s:[%s %s]", key, v, v)}, nil
	}
	return translation{query: fmt.Sprintf("@%s:{%s}", key, tagEscaper.Replace(scalarString(value)))}, nil
}

func translateIn(key string, values []any, spec polyvec.CollectionSpec) (translation, error) {
	ft, ok := schemaField(spec, key)
	if !ok {
		return matchNone, nil
	}

	if ft == polyvec.FieldNumeric {
		// No native set membership for numerics: expand to a disjunction of
		// point ranges.
		parts := make([]string, 0, len(values))
		for _, v := range values {
			n, ok := numericValue(v)
			if !ok {
				continue
			}
			fv := formatNumber(n)
			parts = append(parts, fmt.Sprintf("@%s:[%s %s]", key, fv, fv))
		}
		if len(parts) == 0 {
			return matchNone, nil
		}
		return translation{query: "(" + strings.Join(parts, " | ") + ")"}, nil
	}

	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = tagEscaper.Replace(scalarString(v))
	}
	return translation{query: fmt.Sprintf("@%s:{%s}", key, strings.Join(escaped, " | "))}, nil
}

func translateRange(f polyvec.Filter, spec polyvec.CollectionSpec) (translation, error) {
	ft, ok := schemaField(spec, f.Key())
	if !ok {
		return matchNone, nil
	}
	if ft != polyvec.FieldNumeric {
		return translation{}, fmt.Errorf("%w: %s on non-numeric field %q", polyvec.ErrTranslation, f.Op(), f.Key())
	}
	n, ok := numericValue(f.Value())
	if !ok {
		return translation{}, fmt.Errorf("%w: %s on %q requires a numeric operand", polyvec.ErrTranslation, f.Op(), f.Key())
	}

	v := formatNumber(n)
	var q string
	switch f.Op() {
	case polyvec.OpGt:
		q = fmt.Sprintf("@%s:[(%s +inf]", f.Key(), v)
	case polyvec.OpGte:
		q = fmt.Sprintf("@%s:[%s +inf]", f.Key(), v)
	case polyvec.OpLt:
		q = fmt.Sprintf("@%s:[-inf (%s]", f.Key(), v)
	default:
		q = fmt.Sprintf("@%s:[-inf %s]", f.Key(), v)
	}
	return translation{query: q}, nil
}

// translatePresence renders a clause matching documents where the key is
// present: a full range for numerics, -ismissing for tags.
func translatePresence(key string, spec polyvec.CollectionSpec) (translation, error) {
	ft, ok := schemaField(spec, key)
	if !ok {
		return matchNone, nil
	}
	if ft == polyvec.FieldNumeric {
		return translation{query: fmt.Sprintf("@%s:[-inf +inf]", key)}, nil
	}
	return translation{query: fmt.Sprintf("-ismissing(@%s)", key)}, nil
}

func schemaField(spec polyvec.CollectionSpec, key string) (polyvec.FieldType, bool) {
	for _, f := range spec.Fields {
		if f.Name == key {
			return f.Type, true
		}
	}
	return "", false
}

func numericValue(v any) (float64, bool) {
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

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return formatNumber(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	" ", "\\ ",
)
