package internal

import (
	"bytes"
	"encoding/json"
	"sort"
)

// NumericSampleSize bounds how many rows IsNumericColumn inspects
const NumericSampleSize = 50

// NormalizedResult is the canonical tabular result shape
type NormalizedResult struct {
	Columns         []string `json:"columns" yaml:"columns"`
	Rows            []Row    `json:"rows" yaml:"rows"`
	RowCount        int      `json:"rowCount" yaml:"rowCount"`
	ExecutionTimeMs *float64 `json:"executionTimeMs,omitempty" yaml:"executionTimeMs,omitempty"`
}

// Row is either positional (Values) or keyed by column name (Fields)
type Row struct {
	Values []interface{}
	Fields map[string]interface{}
}

// Cell resolves a value by column name first and positional index second
func (r Row) Cell(column string, index int) (interface{}, bool) {
	if r.Fields != nil {
		if v, ok := r.Fields[column]; ok {
			return v, true
		}
	}
	if index >= 0 && index < len(r.Values) {
		return r.Values[index], true
	}
	return nil, false
}

// IsKeyed reports whether the row is a keyed map
func (r Row) IsKeyed() bool {
	return r.Fields != nil
}

// MarshalJSON writes the row in its original shape
func (r Row) MarshalJSON() ([]byte, error) {
	if r.Fields != nil {
		return json.Marshal(r.Fields)
	}
	if r.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Values)
}

// UnmarshalJSON accepts either an array or an object
func (r *Row) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		*r = Row{Fields: fields}
		return nil
	}
	var values []interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		values = []interface{}{}
	}
	*r = Row{Values: values}
	return nil
}

// MarshalYAML writes the row in its original shape
func (r Row) MarshalYAML() (interface{}, error) {
	if r.Fields != nil {
		return r.Fields, nil
	}
	if r.Values == nil {
		return []interface{}{}, nil
	}
	return r.Values, nil
}

// ResultNormalizer reshapes raw result payloads into NormalizedResult
type ResultNormalizer struct{}

// NewResultNormalizer creates a new result normalizer
func NewResultNormalizer() *ResultNormalizer {
	return &ResultNormalizer{}
}

// Normalize converts a raw result into a NormalizedResult. It accepts decoded
// JSON objects with snake_case or camelCase keys, positional or keyed rows, and
// already-normalized results. Missing arrays become empty, never nil.
func (n *ResultNormalizer) Normalize(raw interface{}) NormalizedResult {
	switch v := raw.(type) {
	case NormalizedResult:
		return n.normalizeResult(v)
	case *NormalizedResult:
		if v == nil {
			return emptyResult()
		}
		return n.normalizeResult(*v)
	}

	m, ok := toMap(raw)
	if !ok {
		return emptyResult()
	}
	r := Response(m)

	result := NormalizedResult{
		Columns: columnNames(r.Slice("columns", "column_names", "columnNames")),
		Rows:    make([]Row, 0),
	}
	for _, item := range r.Slice("rows", "data") {
		result.Rows = append(result.Rows, toRow(item))
	}

	if len(result.Columns) == 0 {
		result.Columns = keyedColumns(result.Rows)
	}

	if count, ok := toInt(firstPresent(m, "row_count", "rowCount")); ok {
		result.RowCount = count
	} else {
		result.RowCount = len(result.Rows)
	}

	if ms, ok := toFloat(firstPresent(m, "execution_time_ms", "executionTimeMs", "executionTime", "execution_time")); ok {
		result.ExecutionTimeMs = &ms
	}
	return result
}

func (n *ResultNormalizer) normalizeResult(v NormalizedResult) NormalizedResult {
	out := NormalizedResult{
		Columns:  append(make([]string, 0, len(v.Columns)), v.Columns...),
		Rows:     make([]Row, 0, len(v.Rows)),
		RowCount: v.RowCount,
	}
	for _, row := range v.Rows {
		switch {
		case row.Fields != nil:
			out.Rows = append(out.Rows, Row{Fields: copyMap(row.Fields)})
		default:
			out.Rows = append(out.Rows, Row{Values: append(make([]interface{}, 0, len(row.Values)), row.Values...)})
		}
	}
	if v.ExecutionTimeMs != nil {
		ms := *v.ExecutionTimeMs
		out.ExecutionTimeMs = &ms
	}
	return out
}

// Normalize is a convenience wrapper around ResultNormalizer.Normalize
func Normalize(raw interface{}) NormalizedResult {
	return NewResultNormalizer().Normalize(raw)
}

// HasTabularData reports whether a raw object carries columns or rows
func HasTabularData(raw interface{}) bool {
	m, ok := toMap(raw)
	if !ok {
		return false
	}
	r := Response(m)
	return r.Slice("columns", "column_names", "columnNames") != nil || r.Slice("rows") != nil
}

// IsNumericColumn reports whether every non-null value of the column within
// the first NumericSampleSize rows parses as a finite number. A column with
// no non-null values in the sample is not numeric.
func IsNumericColumn(result NormalizedResult, column string) bool {
	index := -1
	for i, c := range result.Columns {
		if c == column {
			index = i
			break
		}
	}

	seen := false
	for i, row := range result.Rows {
		if i >= NumericSampleSize {
			break
		}
		v, ok := row.Cell(column, index)
		if !ok || v == nil {
			continue
		}
		if _, ok := toFloat(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// NumericColumns returns the numeric columns of a result in column order
func NumericColumns(result NormalizedResult) []string {
	var out []string
	for _, c := range result.Columns {
		if IsNumericColumn(result, c) {
			out = append(out, c)
		}
	}
	return out
}

func emptyResult() NormalizedResult {
	return NormalizedResult{Columns: []string{}, Rows: []Row{}}
}

func toRow(item interface{}) Row {
	if values, ok := toSlice(item); ok {
		return Row{Values: values}
	}
	if fields, ok := toMap(item); ok {
		return Row{Fields: copyMap(fields)}
	}
	return Row{Values: []interface{}{item}}
}

// columnNames accepts plain names or column descriptors such as {"name": "ID", "type": "NUMBER"}
func columnNames(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		if m, ok := toMap(item); ok {
			if name := Response(m).String("name", "column_name", "columnName", "label"); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func keyedColumns(rows []Row) []string {
	for _, row := range rows {
		if row.Fields == nil {
			continue
		}
		cols := make([]string, 0, len(row.Fields))
		for k := range row.Fields {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		return cols
	}
	return []string{}
}

func firstPresent(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
