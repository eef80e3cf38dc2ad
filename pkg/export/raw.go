package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
)

// EncodeRaw writes records as an indented JSON array. Nesting is preserved;
// HTML characters and non-ASCII text are written verbatim.
func EncodeRaw(w io.Writer, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

// WriteRaw writes the untouched aggregate to path.
func WriteRaw(path string, records []record.Record) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeRaw(w, records)
	})
}
