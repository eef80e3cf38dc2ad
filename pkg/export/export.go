// Package export writes harvested records to the raw JSON, tabular CSV and
// optional SQLite artifacts.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	exportedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_export_records_total",
		Help: "Total records written by artifact",
	}, []string{"artifact"})

	exportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_export_errors_total",
		Help: "Total failed artifact writes by artifact",
	}, []string{"artifact"})
)

// Artifact names an export destination.
type Artifact string

const (
	ArtifactRaw     Artifact = "raw"
	ArtifactTabular Artifact = "tabular"
	ArtifactSQLite  Artifact = "sqlite"
)

// ExportError reports a failed artifact write. Other artifacts are unaffected.
type ExportError struct {
	Artifact Artifact
	Path     string
	Err      error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s artifact to %s: %v", e.Artifact, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// Config holds artifact destinations. An empty SQLitePath disables the SQLite artifact.
type Config struct {
	RawPath     string
	TabularPath string
	SQLitePath  string
	SQLiteTable string
}

// DefaultConfig returns the default file names.
func DefaultConfig() Config {
	return Config{
		RawPath:     "competitions.json",
		TabularPath: "competitions.csv",
		SQLiteTable: "competitions",
	}
}

// Result is the outcome of writing one artifact.
type Result struct {
	Artifact Artifact
	Path     string
	Records  int
	Err      error
}

// Exporter writes every configured artifact from one aggregate.
type Exporter struct {
	config Config
	logger zerolog.Logger
}

// NewExporter creates a new exporter.
func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.RawPath == "" {
		return nil, fmt.Errorf("raw path is required")
	}
	if cfg.TabularPath == "" {
		return nil, fmt.Errorf("tabular path is required")
	}
	if cfg.SQLitePath != "" && cfg.SQLiteTable == "" {
		cfg.SQLiteTable = "competitions"
	}

	return &Exporter{
		config: cfg,
		logger: log.With().Str("component", "exporter").Logger(),
	}, nil
}

// Export writes the raw records and the flattened rows. Every artifact is
// attempted regardless of earlier failures; the returned error joins one
// *ExportError per failed artifact.
func (e *Exporter) Export(ctx context.Context, records []record.Record, cols schema.Schema, rows []record.Row) ([]Result, error) {
	results := []Result{
		e.write(ArtifactRaw, e.config.RawPath, len(records), func() error {
			return WriteRaw(e.config.RawPath, records)
		}),
		e.write(ArtifactTabular, e.config.TabularPath, len(rows), func() error {
			return WriteTabular(e.config.TabularPath, cols, rows)
		}),
	}

	if e.config.SQLitePath != "" {
		results = append(results, e.write(ArtifactSQLite, e.config.SQLitePath, len(rows), func() error {
			return WriteSQLite(ctx, e.config.SQLitePath, e.config.SQLiteTable, cols, rows)
		}))
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

func (e *Exporter) write(artifact Artifact, path string, n int, fn func() error) Result {
	if err := fn(); err != nil {
		exportErrors.WithLabelValues(string(artifact)).Inc()
		e.logger.Error().
			Err(err).
			Str("artifact", string(artifact)).
			Str("path", path).
			Msg("Export failed")
		return Result{
			Artifact: artifact,
			Path:     path,
			Err:      &ExportError{Artifact: artifact, Path: path, Err: err},
		}
	}

	exportedRecords.WithLabelValues(string(artifact)).Add(float64(n))
	e.logger.Info().
		Str("artifact", string(artifact)).
		Str("path", path).
		Int("records", n).
		Msg("Export complete")
	return Result{Artifact: artifact, Path: path, Records: n}
}

const artifactMode os.FileMode = 0o644

// writeFile writes to a temporary file next to path and renames it into
// place, so a failed write never leaves a truncated artifact behind.
func writeFile(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// CreateTemp uses 0600; artifacts are meant to be shared.
	if err := tmp.Chmod(artifactMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod file: %w", err)
	}

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
