package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
)

// FormatCell renders a flattened value as CSV cell text.
// nil becomes the empty string; numbers keep their literal text.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		text, err := record.Canonical(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return text
	}
}

// EncodeTabular writes a header row equal to cols followed by one row per
// flattened record. Missing columns yield empty cells; keys not in cols are
// dropped. An empty schema produces no output.
func EncodeTabular(w io.Writer, cols schema.Schema, rows []record.Row) error {
	if len(cols) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	line := make([]string, len(cols))
	for i, row := range rows {
		for j, col := range cols {
			line[j] = FormatCell(row[col])
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteTabular writes the flattened rows to path as CSV.
func WriteTabular(path string, cols schema.Schema, rows []record.Row) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeTabular(w, cols, rows)
	})
}
