// Package runstore publishes harvest run summaries to Redis so that other
// processes can see when the export last ran and how it went.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/opportunity-harvester/pkg/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRunNotFound indicates no summary is stored for the requested run.
	ErrRunNotFound = errors.New("run not found")

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_runstore_errors_total",
		Help: "Total run store operation errors",
	}, []string{"operation"}) // "save", "get", "list"
)

// Config holds run store settings.
type Config struct {
	// KeyPrefix namespaces every key (default "harvest").
	KeyPrefix string

	// Retention is the TTL of a stored summary. Zero keeps summaries forever.
	Retention time.Duration
}

// DefaultConfig returns the default run store configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "harvest",
		Retention: 30 * 24 * time.Hour,
	}
}

// Store saves and loads run summaries.
//
// Keys:
//
//	<prefix>:run:<run_id>   JSON summary
//	<prefix>:runs           sorted set of run ids scored by start time, trimmed to Retention
//	<prefix>:runs:latest    id of the most recently saved run
type Store struct {
	redis  *redis.Client
	config Config
}

// NewStore creates a run store with a Redis backend.
func NewStore(redisClient *redis.Client, cfg Config) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "harvest"
	}
	return &Store{
		redis:  redisClient,
		config: cfg,
	}
}

func (s *Store) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", s.config.KeyPrefix, runID)
}

func (s *Store) indexKey() string {
	return s.config.KeyPrefix + ":runs"
}

func (s *Store) latestKey() string {
	return s.config.KeyPrefix + ":runs:latest"
}

// Save stores the summary and marks it as the latest run.
func (s *Store) Save(ctx context.Context, summary *report.Summary) error {
	if summary == nil || summary.RunID == "" {
		return fmt.Errorf("summary with run id is required")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal summary: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.runKey(summary.RunID), data, s.config.Retention)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(summary.StartedAt.Unix()),
		Member: summary.RunID,
	})
	pipe.Set(ctx, s.latestKey(), summary.RunID, 0)
	if s.config.Retention > 0 {
		cutoff := time.Now().Add(-s.config.Retention).Unix()
		pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("store run summary in redis: %w", err)
	}
	return nil
}

// Get loads the summary for runID. Returns ErrRunNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, runID string) (*report.Summary, error) {
	data, err := s.redis.Get(ctx, s.runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrRunNotFound
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var summary report.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	return &summary, nil
}

// Latest loads the most recently saved summary.
func (s *Store) Latest(ctx context.Context) (*report.Summary, error) {
	runID, err := s.redis.Get(ctx, s.latestKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrRunNotFound
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get latest: %w", err)
	}
	return s.Get(ctx, runID)
}

// List returns up to limit run ids, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.redis.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		storeErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	return ids, nil
}
