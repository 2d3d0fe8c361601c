package parquetstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/polyvec"
)

const manifestFile = "manifest.json"

// manifest is the durable collection state: the spec, the ordered segment
// list (oldest first, a later segment wins for a repeated id) and the
// tombstoned ids. It is rewritten atomically on every mutation.
type manifest struct {
	Name       string        `json:"name"`
	Dimension  int           `json:"dimension"`
	Metric     string        `json:"metric"`
	Fields     []fieldEntry  `json:"fields,omitempty"`
	Generation int           `json:"generation"`
	Segments   []segmentInfo `json:"segments"`
	Tombstones []string      `json:"tombstones,omitempty"`
}

type fieldEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type segmentInfo struct {
	File string `json:"file"`
	Rows int    `json:"rows"`
}

func newManifest(spec polyvec.CollectionSpec) *manifest {
	m := &manifest{
		Name:      spec.Name,
		Dimension: spec.Dimension,
		Metric:    string(spec.Metric),
	}
	for _, f := range spec.Fields {
		m.Fields = append(m.Fields, fieldEntry{Name: f.Name, Type: string(f.Type)})
	}
	return m
}

func (m *manifest) spec() polyvec.CollectionSpec {
	spec := polyvec.CollectionSpec{
		Name:      m.Name,
		Dimension: m.Dimension,
		Metric:    polyvec.Metric(m.Metric),
	}
	for _, f := range m.Fields {
		spec.Fields = append(spec.Fields, polyvec.Field{Name: f.Name, Type: polyvec.FieldType(f.Type)})
	}
	return spec
}

// save writes the manifest through a temp file and rename so a crash never
// leaves a torn manifest behind.
func (m *manifest) save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFile)); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

func loadManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
