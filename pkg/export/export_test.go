package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
)

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{name: "nil", input: nil, expected: ""},
		{name: "string", input: "Acme", expected: "Acme"},
		{name: "number", input: json.Number("1234567890123"), expected: "1234567890123"},
		{name: "decimal", input: json.Number("4.50"), expected: "4.50"},
		{name: "true", input: true, expected: "true"},
		{name: "false", input: false, expected: "false"},
		{name: "float", input: 2.5, expected: "2.5"},
		{name: "int", input: 7, expected: "7"},
		{name: "nested fallback", input: map[string]any{"a": "<b>"}, expected: `{"a":"<b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCell(tt.input); got != tt.expected {
				t.Errorf("FormatCell(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEncodeTabular_SparseRows(t *testing.T) {
	cols := schema.Schema{"id", "title", "org_name"}
	rows := []record.Row{
		{"id": json.Number("1"), "title": "A"},
		{"id": json.Number("2"), "title": "B", "org_name": "Acme"},
	}

	var buf bytes.Buffer
	if err := EncodeTabular(&buf, cols, rows); err != nil {
		t.Fatalf("EncodeTabular failed: %v", err)
	}

	want := "id,title,org_name\n1,A,\n2,B,Acme\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestEncodeTabular_DropsUnknownKeys(t *testing.T) {
	cols := schema.Schema{"id"}
	rows := []record.Row{{"id": json.Number("1"), "extra": "ignored"}}

	var buf bytes.Buffer
	if err := EncodeTabular(&buf, cols, rows); err != nil {
		t.Fatalf("EncodeTabular failed: %v", err)
	}

	if got, want := buf.String(), "id\n1\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestEncodeTabular_QuotingRoundTrip(t *testing.T) {
	cols := schema.Schema{"id", "title", "tags"}
	rows := []record.Row{
		{"id": json.Number("1"), "title": "Hello, \"World\"\nline two", "tags": `["a","b"]`},
	}

	var buf bytes.Buffer
	if err := EncodeTabular(&buf, cols, rows); err != nil {
		t.Fatalf("EncodeTabular failed: %v", err)
	}

	got, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	want := [][]string{
		{"id", "title", "tags"},
		{"1", "Hello, \"World\"\nline two", `["a","b"]`},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}

func TestEncodeTabular_EmptySchema(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeTabular(&buf, schema.Schema{}, nil); err != nil {
		t.Fatalf("EncodeTabular failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("output = %q, want empty", buf.String())
	}
}

func TestEncodeRaw_PreservesNesting(t *testing.T) {
	records, err := record.Decode(strings.NewReader(
		`[{"id": 7, "title": "Café <X>", "org": {"name": "Acme"}, "tags": ["a","b"]}]`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var buf bytes.Buffer
	if err := EncodeRaw(&buf, records); err != nil {
		t.Fatalf("EncodeRaw failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"title": "Café <X>"`) {
		t.Errorf("title not written verbatim:\n%s", out)
	}
	if !strings.Contains(out, "\n  {") {
		t.Errorf("output not indented:\n%s", out)
	}

	back, err := record.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode of output failed: %v", err)
	}
	if !reflect.DeepEqual(back, records) {
		t.Errorf("round trip = %#v, want %#v", back, records)
	}
}

func TestEncodeRaw_EmptyAggregate(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeRaw(&buf, nil); err != nil {
		t.Fatalf("EncodeRaw failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestNewExporter_Validation(t *testing.T) {
	if _, err := NewExporter(Config{TabularPath: "x.csv"}); err == nil {
		t.Error("Expected error for empty raw path")
	}
	if _, err := NewExporter(Config{RawPath: "x.json"}); err == nil {
		t.Error("Expected error for empty tabular path")
	}
}

func TestExporter_Export(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RawPath:     filepath.Join(dir, "out", "competitions.json"),
		TabularPath: filepath.Join(dir, "out", "competitions.csv"),
	}
	e, err := NewExporter(cfg)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	records := []record.Record{{"id": json.Number("1"), "org": map[string]any{"name": "Acme"}}}
	rows := []record.Row{{"id": json.Number("1"), "org_name": "Acme"}}
	cols := schema.Schema{"id", "org_name"}

	results, err := e.Export(context.Background(), records, cols, rows)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	csvData, err := os.ReadFile(cfg.TabularPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(csvData) != "id,org_name\n1,Acme\n" {
		t.Errorf("csv = %q", csvData)
	}
	for _, p := range []string{cfg.RawPath, cfg.TabularPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o644 {
			t.Errorf("%s mode = %o, want 644", p, perm)
		}
	}
}

func TestExporter_TabularFailureKeepsRaw(t *testing.T) {
	dir := t.TempDir()
	// A directory where the tabular file should go makes the rename fail.
	tabular := filepath.Join(dir, "competitions.csv")
	if err := os.MkdirAll(filepath.Join(tabular, "occupied"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	e, err := NewExporter(Config{
		RawPath:     filepath.Join(dir, "competitions.json"),
		TabularPath: tabular,
	})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	records := []record.Record{{"id": json.Number("1")}}
	rows := []record.Row{{"id": json.Number("1")}}

	results, err := e.Export(context.Background(), records, schema.Schema{"id"}, rows)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("Expected *ExportError, got %T: %v", err, err)
	}
	if exportErr.Artifact != ArtifactTabular {
		t.Errorf("Artifact = %q, want %q", exportErr.Artifact, ArtifactTabular)
	}
	if results[0].Err != nil {
		t.Errorf("raw export failed: %v", results[0].Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "competitions.json")); err != nil {
		t.Errorf("raw artifact missing: %v", err)
	}
}

func TestWriteSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	cols := schema.Schema{"id", "title", "org_name"}
	rows := []record.Row{
		{"id": json.Number("1"), "title": "A"},
		{"id": json.Number("2"), "title": "B", "org_name": "Acme"},
	}

	ctx := context.Background()
	if err := WriteSQLite(ctx, path, "competitions", cols, rows); err != nil {
		t.Fatalf("WriteSQLite failed: %v", err)
	}
	// A second run replaces the table.
	if err := WriteSQLite(ctx, path, "competitions", cols, rows); err != nil {
		t.Fatalf("WriteSQLite (second run) failed: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "competitions"`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	var org sql.NullString
	if err := db.QueryRow(`SELECT "org_name" FROM "competitions" WHERE "id" = '1'`).Scan(&org); err != nil {
		t.Fatalf("select: %v", err)
	}
	if org.Valid {
		t.Errorf("org_name for id 1 = %q, want NULL", org.String)
	}
}

func TestSQLiteColumns(t *testing.T) {
	tests := []struct {
		name     string
		cols     schema.Schema
		expected []string
	}{
		{name: "distinct", cols: schema.Schema{"id", "title"}, expected: []string{"id", "title"}},
		{name: "case clash", cols: schema.Schema{"id", "Id"}, expected: []string{"id", "Id_2"}},
		{name: "triple clash", cols: schema.Schema{"ID", "Id", "id"}, expected: []string{"ID", "Id_2", "id_3"}},
		{name: "suffix already taken", cols: schema.Schema{"id", "Id", "id_2"}, expected: []string{"id", "Id_2", "id_2_2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sqliteColumns(tt.cols); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("sqliteColumns(%v) = %v, want %v", tt.cols, got, tt.expected)
			}
		})
	}
}

func TestWriteSQLite_CaseInsensitiveColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	rows := []record.Row{{"id": "1", "Id": "x"}}
	cols := schema.Resolve(rows, nil)

	if err := WriteSQLite(context.Background(), path, "competitions", cols, rows); err != nil {
		t.Fatalf("WriteSQLite failed: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// Resolve sorts "Id" before "id", so the lowercase key gets the suffix.
	var upper, lower string
	if err := db.QueryRow(`SELECT "Id", "id_2" FROM "competitions"`).Scan(&upper, &lower); err != nil {
		t.Fatalf("select: %v", err)
	}
	if upper != "x" || lower != "1" {
		t.Errorf("Id, id_2 = %q, %q, want x, 1", upper, lower)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got, want := quoteIdent(`we"ird`), `"we""ird"`; got != want {
		t.Errorf("quoteIdent() = %s, want %s", got, want)
	}
}
