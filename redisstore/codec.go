package redisstore

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/polyvec"
)

// specDTO is the persisted collection spec shape.
type specDTO struct {
	Name      string     `json:"name"`
	Dimension int        `json:"dimension"`
	Metric    string     `json:"metric"`
	Fields    []fieldDTO `json:"fields,omitempty"`
}

type fieldDTO struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func fieldsToDTO(fields []polyvec.Field) []fieldDTO {
	out := make([]fieldDTO, len(fields))
	for i, f := range fields {
		out[i] = fieldDTO{Name: f.Name, Type: string(f.Type)}
	}
	return out
}

func (d specDTO) toSpec() polyvec.CollectionSpec {
	spec := polyvec.CollectionSpec{
		Name:      d.Name,
		Dimension: d.Dimension,
		Metric:    polyvec.Metric(d.Metric),
	}
	for _, f := range d.Fields {
		spec.Fields = append(spec.Fields, polyvec.Field{Name: f.Name, Type: polyvec.FieldType(f.Type)})
	}
	return spec
}

// jsonDoc is the stored document shape. Metadata keys are flattened under a
// dedicated object so FT schema paths ($.metadata.<key>) stay collision-free
// with the reserved fields.
type jsonDoc struct {
	ID        string         `json:"id"`
	Content   string         `json:"content,omitempty"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func docToJSON(doc polyvec.Document) jsonDoc {
	return jsonDoc{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Vector,
		Metadata:  doc.Metadata,
	}
}

// decodeDoc parses a stored document. JSON.GET with path $ returns a
// one-element array; FT.SEARCH RETURN $ yields the bare object. Numeric
// metadata comes back as float64 (the native JSON coercion), kept as-is.
func decodeDoc(data []byte) (*polyvec.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document payload")
	}

	var jd jsonDoc
	if data[0] == '[' {
		var arr []jsonDoc
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, fmt.Errorf("empty document payload")
		}
		jd = arr[0]
	} else if err := json.Unmarshal(data, &jd); err != nil {
		return nil, err
	}

	return &polyvec.Document{
		ID:       jd.ID,
		Content:  jd.Content,
		Metadata: jd.Metadata,
		Vector:   jd.Embedding,
	}, nil
}
