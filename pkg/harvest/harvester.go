// Package harvest runs one complete export: probe the listing, fetch the
// remaining pages concurrently, flatten the records, resolve the column
// schema and write every artifact.
package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/opportunity-harvester/pkg/client"
	"github.com/Sternrassler/opportunity-harvester/pkg/export"
	"github.com/Sternrassler/opportunity-harvester/pkg/pagination"
	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/report"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_runs_total",
		Help: "Total harvest runs by result",
	}, []string{"result"}) // "ok", "partial", "failed", "cancelled"

	flattenCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_flatten_collisions_total",
		Help: "Total flattened keys produced by more than one source path",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_run_duration_seconds",
		Help:    "Duration of a complete harvest run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// SummaryStore receives the summary of every finished run.
type SummaryStore interface {
	Save(ctx context.Context, summary *report.Summary) error
}

// Config holds the settings of every stage.
type Config struct {
	Client client.Config
	Fetch  pagination.Config
	Export export.Config

	// Priority lists the columns that lead the tabular artifact.
	Priority []string

	// Separator joins nested keys (default "_").
	Separator string

	// SummaryPath, if set, receives the run summary as YAML.
	SummaryPath string
}

// DefaultConfig returns the configuration of a default competitions export.
func DefaultConfig() Config {
	return Config{
		Client:    client.DefaultConfig(),
		Fetch:     pagination.DefaultConfig(),
		Export:    export.DefaultConfig(),
		Priority:  append([]string(nil), schema.DefaultPriority...),
		Separator: record.DefaultSeparator,
	}
}

// Harvester wires the pipeline stages together.
type Harvester struct {
	config    Config
	client    *client.Client
	fetcher   *pagination.BatchFetcher
	flattener *record.Flattener
	exporter  *export.Exporter
	store     SummaryStore
	logger    zerolog.Logger
}

// New creates a harvester. Invalid stage configuration is reported here,
// before any request is sent.
func New(cfg Config) (*Harvester, error) {
	c, err := client.New(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	exporter, err := export.NewExporter(cfg.Export)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	fetcher := pagination.NewBatchFetcher(c, cfg.Fetch)
	cfg.Fetch = fetcher.Config()

	return &Harvester{
		config:    cfg,
		client:    c,
		fetcher:   fetcher,
		flattener: record.NewFlattener(cfg.Separator),
		exporter:  exporter,
		logger:    log.With().Str("component", "harvester").Logger(),
	}, nil
}

// SetStore sets the store that receives run summaries. Nil disables publishing.
func (h *Harvester) SetStore(store SummaryStore) {
	h.store = store
}

// Client returns the underlying search client.
func (h *Harvester) Client() *client.Client {
	return h.client
}

// Close releases idle HTTP connections.
func (h *Harvester) Close() error {
	return h.client.Close()
}

// Run executes one export. A *pagination.ProbeError aborts the run before
// any artifact is written. Page failures only shrink the aggregate and are
// listed in the returned summary. If ctx is cancelled during the fetch, no
// artifact is written and the returned error wraps ctx.Err(). Export
// failures are joined into the returned error after every artifact has been
// attempted.
//
// The summary is returned in every case, including failed runs.
func (h *Harvester) Run(ctx context.Context) (*report.Summary, error) {
	start := time.Now()
	summary := &report.Summary{
		RunID:           uuid.NewString(),
		OpportunityKind: h.config.Client.OpportunityKind,
		StartedAt:       start.UTC(),
	}
	logger := h.logger.With().Str("run_id", summary.RunID).Logger()

	logger.Info().
		Str("opportunity", summary.OpportunityKind).
		Int("page_size", h.config.Fetch.PageSize).
		Int("max_concurrency", h.config.Fetch.MaxConcurrency).
		Msg("Harvest started")

	probe, err := pagination.Probe(ctx, h.client, h.config.Fetch.PageSize)
	if err != nil {
		logger.Error().Err(err).Msg("Probe failed, nothing exported")
		summary.PagesRequested = 1
		summary.PagesFailed = 1
		summary.Failures = []report.PageFailure{{Page: 1, Reason: err.Error()}}
		summary.Error = err.Error()
		h.finish(context.WithoutCancel(ctx), logger, summary, start, "failed")
		return summary, err
	}

	outcome := h.fetcher.FetchRemaining(ctx, probe)

	summary.TotalItems = outcome.TotalItems
	summary.PagesRequested = len(outcome.Pages)
	summary.PagesSucceeded = outcome.Succeeded()
	for _, failed := range outcome.Failed() {
		summary.Failures = append(summary.Failures, report.PageFailure{
			Page:   failed.Page,
			Reason: failed.Err.Error(),
		})
	}
	summary.PagesFailed = len(summary.Failures)

	// A cancelled run keeps the previous artifacts.
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("harvest cancelled after %d of %d pages: %w",
			summary.PagesSucceeded, summary.PagesRequested, err)
		logger.Error().Err(err).Msg("Harvest cancelled, nothing exported")
		summary.Error = err.Error()
		h.finish(context.WithoutCancel(ctx), logger, summary, start, "cancelled")
		return summary, err
	}

	records := outcome.Records()

	rows, collisions := h.flattener.FlattenAll(records)
	for _, c := range collisions {
		logger.Warn().
			Str("key", c.Key).
			Str("kept", c.Kept).
			Str("dropped", c.Dropped).
			Msg("Flattened key collision")
	}
	flattenCollisions.Add(float64(len(collisions)))

	cols := schema.Resolve(rows, h.config.Priority)

	results, exportErr := h.exporter.Export(ctx, records, cols, rows)

	logSample(logger, records)

	summary.RecordsFetched = len(records)
	summary.Columns = len(cols)
	summary.KeyCollisions = len(collisions)
	for _, r := range results {
		a := report.Artifact{Name: string(r.Artifact), Path: r.Path, Records: r.Records}
		if r.Err != nil {
			a.Error = r.Err.Error()
		}
		summary.Artifacts = append(summary.Artifacts, a)
	}

	result := "ok"
	switch {
	case exportErr != nil:
		result = "failed"
		summary.Error = exportErr.Error()
	case summary.PagesFailed > 0:
		result = "partial"
	}
	if exportErr == nil {
		summary.RecordsExported = len(rows)
	}

	h.finish(ctx, logger, summary, start, result)
	return summary, exportErr
}

// finish stamps the summary, logs it and hands it to the optional sinks.
// Sink failures are logged and never change the run result.
func (h *Harvester) finish(ctx context.Context, logger zerolog.Logger, summary *report.Summary, start time.Time, result string) {
	summary.FinishedAt = time.Now().UTC()
	summary.Duration = time.Since(start)
	runDuration.Observe(summary.Duration.Seconds())
	runsTotal.WithLabelValues(result).Inc()

	summary.Log(logger)

	if h.config.SummaryPath != "" {
		if err := summary.WriteYAML(h.config.SummaryPath); err != nil {
			logger.Warn().Err(err).Str("path", h.config.SummaryPath).Msg("Failed to write run summary")
		}
	}

	if h.store != nil {
		if err := h.store.Save(ctx, summary); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish run summary")
		}
	}
}

// logSample logs the first record's title and its top-level field count.
func logSample(logger zerolog.Logger, records []record.Record) {
	if len(records) == 0 {
		logger.Info().Msg("No records exported")
		return
	}

	title := records[0].String("title")
	if title == "" {
		title = "N/A"
	}
	logger.Info().
		Str("title", title).
		Int("fields", len(records[0])).
		Msg("Sample record")
}
