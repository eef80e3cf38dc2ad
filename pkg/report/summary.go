// Package report describes the outcome of one harvest run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// PageFailure describes one page that was skipped.
type PageFailure struct {
	Page   int    `json:"page" yaml:"page"`
	Reason string `json:"reason" yaml:"reason"`
}

// Artifact describes one export destination and its outcome.
type Artifact struct {
	Name    string `json:"name" yaml:"name"`
	Path    string `json:"path" yaml:"path"`
	Records int    `json:"records" yaml:"records"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary is the per-run report.
type Summary struct {
	RunID           string        `json:"run_id" yaml:"run_id"`
	OpportunityKind string        `json:"opportunity_kind" yaml:"opportunity_kind"`
	StartedAt       time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time     `json:"finished_at" yaml:"finished_at"`
	Duration        time.Duration `json:"duration" yaml:"duration"`

	TotalItems     int           `json:"total_items" yaml:"total_items"`
	PagesRequested int           `json:"pages_requested" yaml:"pages_requested"`
	PagesSucceeded int           `json:"pages_succeeded" yaml:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed" yaml:"pages_failed"`
	Failures       []PageFailure `json:"failures,omitempty" yaml:"failures,omitempty"`

	RecordsFetched  int `json:"records_fetched" yaml:"records_fetched"`
	RecordsExported int `json:"records_exported" yaml:"records_exported"`
	Columns         int `json:"columns" yaml:"columns"`
	KeyCollisions   int `json:"key_collisions" yaml:"key_collisions"`

	Artifacts []Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// FailureLine returns e.g. "1 page failed" or "2 pages failed".
func (s *Summary) FailureLine() string {
	if s.PagesFailed == 1 {
		return "1 page failed"
	}
	return fmt.Sprintf("%d pages failed", s.PagesFailed)
}

// Log writes the summary at info level, or warn when pages or artifacts failed.
// The run id is expected to be part of the logger's context.
func (s *Summary) Log(logger zerolog.Logger) {
	event := logger.Info()
	if s.PagesFailed > 0 || s.Error != "" {
		event = logger.Warn()
	}

	event.
		Int("total_items", s.TotalItems).
		Int("pages_requested", s.PagesRequested).
		Int("pages_succeeded", s.PagesSucceeded).
		Int("pages_failed", s.PagesFailed).
		Int("records_exported", s.RecordsExported).
		Int("columns", s.Columns).
		Dur("duration", s.Duration).
		Msg("Run summary: " + s.FailureLine())

	for _, f := range s.Failures {
		logger.Warn().
			Int("page", f.Page).
			Str("reason", f.Reason).
			Msg("Page failed")
	}
}

// WriteYAML writes the summary to path.
func (s *Summary) WriteYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ReadYAML loads a summary written by WriteYAML.
func ReadYAML(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &s, nil
}
