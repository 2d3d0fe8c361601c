package polyvec

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var docIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// Metadata maps string keys to scalar or homogeneous-array values.
// Allowed value types: string, bool, int, int64, float64, and slices
// thereof. Adapters reject anything else before touching the backend.
type Metadata map[string]any

// Document is the unit of storage: an id unique within its collection, an
// embedding vector of the collection's dimension, scalar/array metadata, and
// optional raw content retained for retrieval.
//
// Documents returned from queries are owned copies; mutating one never
// affects stored state until an explicit Update.
type Document struct {
	ID       string
	Content  string
	Metadata Metadata
	Vector   []float32
}

// Validate checks the document against a collection dimension before any
// backend call. An empty ID is allowed (the adapter assigns one).
func (d Document) Validate(dimension int) error {
	if d.ID != "" {
		if len(d.ID) > 256 {
			return fmt.Errorf("%w: id too long (max 256)", ErrInvalidDocument)
		}
		if !docIDRegex.MatchString(d.ID) {
			return fmt.Errorf("%w: id %q contains invalid characters", ErrInvalidDocument, d.ID)
		}
	}
	if len(d.Vector) != dimension {
		return fmt.Errorf("%w: document %q has %d dimensions, expected %d",
			ErrDimensionMismatch, d.ID, len(d.Vector), dimension)
	}
	for k, v := range d.Metadata {
		if k == "" {
			return fmt.Errorf("%w: empty metadata key", ErrInvalidDocument)
		}
		if !validMetadataValue(v) {
			return fmt.Errorf("%w: metadata key %q has unsupported type %T", ErrInvalidDocument, k, v)
		}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	c := Document{ID: d.ID, Content: d.Content}
	if d.Vector != nil {
		c.Vector = make([]float32, len(d.Vector))
		copy(c.Vector, d.Vector)
	}
	if d.Metadata != nil {
		c.Metadata = make(Metadata, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = cloneMetaValue(v)
		}
	}
	return c
}

// EnsureID returns a copy with a generated UUID when the id is empty.
func EnsureID(d Document) Document {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return d
}

// Patch is a partial document for Update. Nil fields are left unchanged.
type Patch struct {
	// Content replaces the stored content when non-nil.
	Content *string
	// Vector replaces the stored embedding when non-nil; its length must
	// match the collection dimension.
	Vector []float32
	// Set adds or replaces metadata keys.
	Set Metadata
	// Remove deletes metadata keys. Removing an absent key is a no-op.
	Remove []string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Content == nil && p.Vector == nil && len(p.Set) == 0 && len(p.Remove) == 0
}

// Validate checks the patch against a collection dimension.
func (p Patch) Validate(dimension int) error {
	if p.Vector != nil && len(p.Vector) != dimension {
		return fmt.Errorf("%w: patch vector has %d dimensions, expected %d",
			ErrDimensionMismatch, len(p.Vector), dimension)
	}
	for k, v := range p.Set {
		if k == "" {
			return fmt.Errorf("%w: empty metadata key", ErrInvalidDocument)
		}
		if !validMetadataValue(v) {
			return fmt.Errorf("%w: metadata key %q has unsupported type %T", ErrInvalidDocument, k, v)
		}
	}
	return nil
}

// Apply merges the patch into a copy of doc and returns it.
func (p Patch) Apply(doc Document) Document {
	out := doc.Clone()
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Vector != nil {
		out.Vector = make([]float32, len(p.Vector))
		copy(out.Vector, p.Vector)
	}
	if len(p.Set) > 0 && out.Metadata == nil {
		out.Metadata = make(Metadata, len(p.Set))
	}
	for k, v := range p.Set {
		out.Metadata[k] = cloneMetaValue(v)
	}
	for _, k := range p.Remove {
		delete(out.Metadata, k)
	}
	return out
}

func validMetadataValue(v any) bool {
	switch vv := v.(type) {
	case string, bool, int, int64, float64:
		return true
	case []string, []bool, []int, []int64, []float64:
		return true
	case []any:
		for _, e := range vv {
			switch e.(type) {
			case string, bool, int, int64, float64:
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}

func cloneMetaValue(v any) any {
	switch vv := v.(type) {
	case []string:
		c := make([]string, len(vv))
		copy(c, vv)
		return c
	case []bool:
		c := make([]bool, len(vv))
		copy(c, vv)
		return c
	case []int:
		c := make([]int, len(vv))
		copy(c, vv)
		return c
	case []int64:
		c := make([]int64, len(vv))
		copy(c, vv)
		return c
	case []float64:
		c := make([]float64, len(vv))
		copy(c, vv)
		return c
	case []any:
		c := make([]any, len(vv))
		copy(c, vv)
		return c
	default:
		return v
	}
}
