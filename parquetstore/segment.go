package parquetstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/polyvec"
)

// segmentRow is the parquet schema of one stored document. Metadata travels
// as a JSON blob column; the vector is a FLOAT list.
type segmentRow struct {
	ID       string    `parquet:"id"`
	Content  string    `parquet:"content,optional"`
	Metadata string    `parquet:"metadata,optional"`
	Vector   []float32 `parquet:"vector,list"`
}

// writeSegment persists docs as one immutable parquet file.
func writeSegment(path string, docs []polyvec.Document) error {
	rows := make([]segmentRow, len(docs))
	for i, doc := range docs {
		row := segmentRow{ID: doc.ID, Content: doc.Content, Vector: doc.Vector}
		if len(doc.Metadata) > 0 {
			data, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %q: %w", doc.ID, err)
			}
			row.Metadata = string(data)
		}
		rows[i] = row
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	w := parquet.NewGenericWriter[segmentRow](f)
	if _, err := w.Write(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write segment rows: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close segment writer: %w", err)
	}
	return f.Close()
}

// segmentColumns holds the leaf-level column indexes resolved by name. The
// generic reconstruct path chokes on nullable columns next to lists, so rows
// are decoded by hand from leaf values.
type segmentColumns struct {
	id       int
	content  int
	metadata int
	vector   int
}

func resolveSegmentColumns(pf *parquet.File) (segmentColumns, error) {
	cols := segmentColumns{id: -1, content: -1, metadata: -1, vector: -1}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "id":
			cols.id = i
		case "content":
			cols.content = i
		case "metadata":
			cols.metadata = i
		case "vector":
			cols.vector = i
		}
	}
	if cols.id < 0 || cols.vector < 0 {
		return cols, fmt.Errorf("segment schema missing id or vector column")
	}
	return cols, nil
}

// readSegment streams every document out of a segment file in row order.
func readSegment(path string) ([]polyvec.Document, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	cols, err := resolveSegmentColumns(pf)
	if err != nil {
		return nil, err
	}

	var out []polyvec.Document
	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		buf := make([]parquet.Row, 256)

		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				doc, err := rowToDoc(buf[i], cols)
				if err != nil {
					return nil, err
				}
				out = append(out, doc)
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read segment rows: %w", readErr)
			}
		}
	}
	return out, nil
}

// rowToDoc rebuilds a document from leaf values by column index.
func rowToDoc(row parquet.Row, cols segmentColumns) (polyvec.Document, error) {
	var doc polyvec.Document
	var metaJSON string

	for _, v := range row {
		switch v.Column() {
		case cols.id:
			doc.ID = v.String()
		case cols.content:
			if !v.IsNull() {
				doc.Content = v.String()
			}
		case cols.metadata:
			if !v.IsNull() {
				metaJSON = v.String()
			}
		case cols.vector:
			if !v.IsNull() {
				doc.Vector = append(doc.Vector, v.Float())
			}
		}
	}

	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return polyvec.Document{}, fmt.Errorf("parse metadata for %q: %w", doc.ID, err)
		}
	}
	return doc, nil
}
