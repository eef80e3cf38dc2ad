// Package record defines the nested listing records returned by the search API
// and flattens them into single-level rows for tabular export.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Record is one nested item returned by the listing API.
//
// Values are one of: string, json.Number, bool, nil, map[string]any or []any.
// Records are treated as immutable once decoded.
type Record map[string]any

// Row is the single-level projection of a Record. Values are scalars
// (string, json.Number, bool, nil) or the canonical JSON text of a sequence.
type Row map[string]any

// Decode reads a JSON array of records from r. Numbers are kept as
// json.Number so integer ids survive the round trip verbatim.
func Decode(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// Canonical returns the compact JSON text of v without HTML escaping.
// Non-ASCII characters are kept verbatim.
func Canonical(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// String returns the record's string field, or "" if absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}
