package neostore

import (
	"fmt"

	"github.com/kailas-cloud/polyvec"
)

// metaPrefix namespaces metadata keys on the node so they never collide with
// the reserved id / collection / content / embedding properties.
const metaPrefix = "m_"

// docToProps flattens a document into node properties. The embedding travels
// as []float64 because bolt has no float32 list type.
func docToProps(collection string, doc polyvec.Document) map[string]any {
	props := map[string]any{
		"id":         doc.ID,
		"collection": collection,
		"embedding":  toFloat64s(doc.Vector),
	}
	if doc.Content != "" {
		props["content"] = doc.Content
	}
	for k, v := range doc.Metadata {
		props[metaPrefix+k] = v
	}
	return props
}

// propsToDoc rebuilds a document from a properties(n) map.
func propsToDoc(v any) (polyvec.Document, error) {
	props, ok := v.(map[string]any)
	if !ok {
		return polyvec.Document{}, fmt.Errorf("unexpected properties type %T", v)
	}

	doc := polyvec.Document{
		ID:      asString(props["id"]),
		Content: asString(props["content"]),
	}

	vec, err := toFloat32s(props["embedding"])
	if err != nil {
		return polyvec.Document{}, err
	}
	doc.Vector = vec

	for k, pv := range props {
		if len(k) <= len(metaPrefix) || k[:len(metaPrefix)] != metaPrefix {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(polyvec.Metadata)
		}
		doc.Metadata[k[len(metaPrefix):]] = pv
	}
	return doc, nil
}

// toFloat64s widens the vector for the wire.
func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// toFloat32s narrows a bolt list back into the contract vector type.
func toFloat32s(v any) ([]float32, error) {
	switch vec := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected vector element type %T", e)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected vector type %T", v)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
