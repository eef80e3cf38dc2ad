// Package config loads harvester configuration from defaults, an optional
// YAML file and HARVEST_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/opportunity-harvester/pkg/client"
	"github.com/Sternrassler/opportunity-harvester/pkg/export"
	"github.com/Sternrassler/opportunity-harvester/pkg/harvest"
	"github.com/Sternrassler/opportunity-harvester/pkg/logging"
	"github.com/Sternrassler/opportunity-harvester/pkg/pagination"
	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/Sternrassler/opportunity-harvester/pkg/runstore"
	"github.com/Sternrassler/opportunity-harvester/pkg/schema"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HARVEST_"

// Config is the complete harvester configuration.
type Config struct {
	API      APIConfig     `yaml:"api"`
	Fetch    FetchConfig   `yaml:"fetch"`
	Output   OutputConfig  `yaml:"output"`
	Priority []string      `yaml:"priority"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Redis    RedisConfig   `yaml:"redis"`
}

// APIConfig describes the listing endpoint and request headers.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	OpportunityKind string        `yaml:"opportunity"`
	Status          string        `yaml:"status"`
	UserAgent       string        `yaml:"user_agent"`
	Accept          string        `yaml:"accept"`
	Referer         string        `yaml:"referer"`
	Timeout         time.Duration `yaml:"timeout"`
}

// FetchConfig bounds the concurrent fetch.
type FetchConfig struct {
	PageSize       int `yaml:"page_size"`
	MaxConcurrency int `yaml:"max_concurrency"`
	MaxPages       int `yaml:"max_pages"`
}

// OutputConfig names the artifacts.
type OutputConfig struct {
	RawPath     string `yaml:"raw_path"`
	TabularPath string `yaml:"tabular_path"`
	SQLitePath  string `yaml:"sqlite_path"`
	SQLiteTable string `yaml:"sqlite_table"`
	SummaryPath string `yaml:"summary_path"`
	Separator   string `yaml:"separator"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables run summary publishing when URL is set.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns the configuration of a default competitions export.
func Default() *Config {
	c := client.DefaultConfig()
	f := pagination.DefaultConfig()
	e := export.DefaultConfig()
	r := runstore.DefaultConfig()

	return &Config{
		API: APIConfig{
			BaseURL:         c.BaseURL,
			OpportunityKind: c.OpportunityKind,
			Status:          c.Status,
			UserAgent:       c.UserAgent,
			Accept:          c.Accept,
			Timeout:         c.Timeout,
		},
		Fetch: FetchConfig{
			PageSize:       f.PageSize,
			MaxConcurrency: f.MaxConcurrency,
			MaxPages:       f.MaxPages,
		},
		Output: OutputConfig{
			RawPath:     e.RawPath,
			TabularPath: e.TabularPath,
			SQLiteTable: e.SQLiteTable,
			Separator:   record.DefaultSeparator,
		},
		Priority: append([]string(nil), schema.DefaultPriority...),
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Redis: RedisConfig{
			KeyPrefix: r.KeyPrefix,
			Retention: r.Retention,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then HARVEST_* environment variables.
// The result is not validated; call Validate after applying flags.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decodeYAML(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays the document onto cfg. Unknown keys are rejected.
func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays HARVEST_* variables onto c.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("BASE_URL", &c.API.BaseURL)
	str("OPPORTUNITY", &c.API.OpportunityKind)
	str("STATUS", &c.API.Status)
	str("USER_AGENT", &c.API.UserAgent)
	str("ACCEPT", &c.API.Accept)
	str("REFERER", &c.API.Referer)
	dur("TIMEOUT", &c.API.Timeout)

	num("PAGE_SIZE", &c.Fetch.PageSize)
	num("MAX_CONCURRENCY", &c.Fetch.MaxConcurrency)
	num("MAX_PAGES", &c.Fetch.MaxPages)

	str("RAW_PATH", &c.Output.RawPath)
	str("TABULAR_PATH", &c.Output.TabularPath)
	str("SQLITE_PATH", &c.Output.SQLitePath)
	str("SQLITE_TABLE", &c.Output.SQLiteTable)
	str("SUMMARY_PATH", &c.Output.SummaryPath)
	str("SEPARATOR", &c.Output.Separator)

	if v, ok := lookup(EnvPrefix + "PRIORITY"); ok {
		c.Priority = SplitList(v)
	}

	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_PRETTY", &c.Log.Pretty)

	str("METRICS_ADDR", &c.Metrics.Addr)

	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_PREFIX", &c.Redis.KeyPrefix)
	dur("REDIS_RETENTION", &c.Redis.Retention)

	return errors.Join(errs...)
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL (got %q)", c.API.BaseURL))
	}
	if c.API.OpportunityKind == "" {
		errs = append(errs, fmt.Errorf("api.opportunity is required"))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout must not be negative"))
	}
	if c.Fetch.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("fetch.page_size must be positive (got %d)", c.Fetch.PageSize))
	}
	if c.Fetch.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_concurrency must be positive (got %d)", c.Fetch.MaxConcurrency))
	}
	if c.Fetch.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_pages must not be negative (got %d)", c.Fetch.MaxPages))
	}
	if c.Output.RawPath == "" {
		errs = append(errs, fmt.Errorf("output.raw_path is required"))
	}
	if c.Output.TabularPath == "" {
		errs = append(errs, fmt.Errorf("output.tabular_path is required"))
	}
	if c.Output.RawPath != "" && c.Output.RawPath == c.Output.TabularPath {
		errs = append(errs, fmt.Errorf("output.raw_path and output.tabular_path must differ"))
	}
	if c.Output.Separator == "" {
		errs = append(errs, fmt.Errorf("output.separator is required"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Redis.Retention < 0 {
		errs = append(errs, fmt.Errorf("redis.retention must not be negative"))
	}

	return errors.Join(errs...)
}

// Harvest returns the harvester configuration.
func (c *Config) Harvest() harvest.Config {
	return harvest.Config{
		Client: client.Config{
			BaseURL:         c.API.BaseURL,
			OpportunityKind: c.API.OpportunityKind,
			Status:          c.API.Status,
			UserAgent:       c.API.UserAgent,
			Accept:          c.API.Accept,
			Referer:         c.API.Referer,
			Timeout:         c.API.Timeout,
		},
		Fetch: pagination.Config{
			PageSize:       c.Fetch.PageSize,
			MaxConcurrency: c.Fetch.MaxConcurrency,
			MaxPages:       c.Fetch.MaxPages,
		},
		Export: export.Config{
			RawPath:     c.Output.RawPath,
			TabularPath: c.Output.TabularPath,
			SQLitePath:  c.Output.SQLitePath,
			SQLiteTable: c.Output.SQLiteTable,
		},
		Priority:    append([]string(nil), c.Priority...),
		Separator:   c.Output.Separator,
		SummaryPath: c.Output.SummaryPath,
	}
}

// Logging returns the logger configuration. Output is left to the caller.
func (c *Config) Logging() logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// RunStore returns the run store configuration.
func (c *Config) RunStore() runstore.Config {
	return runstore.Config{
		KeyPrefix: c.Redis.KeyPrefix,
		Retention: c.Redis.Retention,
	}
}
