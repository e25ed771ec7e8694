// Package data loads the rows behind data-driven scenarios.
//
// A table file may be CSV (header line first), a JSON array of objects, or a
// YAML sequence of mappings. A JSON file may also name the array to read with
// a "#path" suffix, for example "fixtures.json#$.users".
package data

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"conductor/internal/template"
)

// Row is one record of a table, keyed by column.
type Row = map[string]any

var errEmpty = errors.New("table has no rows")

// Load reads the table at ref. Relative paths resolve against dir.
func Load(ref, dir string) ([]Row, error) {
	path, selector, _ := strings.Cut(ref, "#")
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("data table: %w", err)
	}

	var rows []Row
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case selector != "" && ext != ".json":
		err = fmt.Errorf("selector %q needs a .json table", selector)
	case ext == ".csv":
		rows, err = parseCSV(raw)
	case ext == ".json":
		rows, err = parseJSON(raw, selector)
	case ext == ".yaml" || ext == ".yml":
		rows, err = parseYAML(raw)
	default:
		err = fmt.Errorf("unsupported table format %q", ext)
	}
	if err == nil && len(rows) == 0 {
		err = errEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("data table %s: %w", ref, err)
	}
	return rows, nil
}

func parseCSV(raw []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, errEmpty
	}
	if err != nil {
		return nil, err
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("line %d: %d fields for %d columns", line, len(rec), len(header))
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = ""
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
}

func parseJSON(raw []byte, selector string) ([]Row, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if selector != "" {
		v, ok := template.Lookup(raw, selector)
		if !ok {
			return nil, fmt.Errorf("selector %q matched nothing", selector)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc = gjson.ParseBytes(b)
	}
	if !doc.IsArray() {
		return nil, errors.New("want an array of objects")
	}

	var rows []Row
	for i, item := range doc.Array() {
		row, ok := item.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %s, want an object", i, item.Type)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseYAML(raw []byte) ([]Row, error) {
	var rows []Row
	if err := yaml.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
