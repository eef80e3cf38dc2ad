package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// quoteIdent quotes an SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteColumns maps schema columns to SQLite column names. SQLite compares
// column names case-insensitively, so a column that differs from an earlier
// one only by case gets the first free "_2", "_3", ... suffix.
func sqliteColumns(cols schema.Schema) []string {
	used := make(map[string]struct{}, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		name := c
		for n := 2; ; n++ {
			if _, taken := used[strings.ToLower(name)]; !taken {
				break
			}
			name = fmt.Sprintf("%s_%d", c, n)
		}
		if name != c {
			log.Warn().
				Str("key", c).
				Str("column", name).
				Msg("SQLite column renamed, name differs from another only by case")
		}
		used[strings.ToLower(name)] = struct{}{}
		names[i] = name
	}
	return names
}

// WriteSQLite replaces table in the database at path with one TEXT column
// per schema column and one row per flattened record. Missing and null
// values are stored as NULL.
func WriteSQLite(ctx context.Context, path, table string, cols schema.Schema, rows []record.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}

	if len(cols) == 0 {
		return tx.Commit()
	}

	defs := make([]string, len(cols))
	marks := make([]string, len(cols))
	names := sqliteColumns(cols)
	for i := range names {
		names[i] = quoteIdent(names[i])
		defs[i] = names[i] + " TEXT"
		marks[i] = "?"
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for i, row := range rows {
		for j, c := range cols {
			v, ok := row[c]
			if !ok || v == nil {
				args[j] = nil
				continue
			}
			args[j] = FormatCell(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
