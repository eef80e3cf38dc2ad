package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/opportunity-harvester/internal/config"
	"github.com/Sternrassler/opportunity-harvester/pkg/harvest"
	"github.com/Sternrassler/opportunity-harvester/pkg/logging"
	"github.com/Sternrassler/opportunity-harvester/pkg/metrics"
	"github.com/Sternrassler/opportunity-harvester/pkg/runstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	exitRunFailed     = 1
	exitInvalidConfig = 2
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(exitInvalidConfig)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRunFailed)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "harvest",
		Usage: "export every listed opportunity to JSON and CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"HARVEST_CONFIG"}},
			&cli.StringFlag{Name: "base-url", Usage: "search endpoint"},
			&cli.StringFlag{Name: "opportunity", Usage: "opportunity kind, e.g. competitions"},
			&cli.StringFlag{Name: "status", Usage: "opportunity status filter, e.g. open"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout"},
			&cli.IntFlag{Name: "page-size", Usage: "items per page"},
			&cli.IntFlag{Name: "max-concurrency", Aliases: []string{"w"}, Usage: "maximum requests in flight"},
			&cli.IntFlag{Name: "max-pages", Usage: "ceiling on pages fetched, 0 disables"},
			&cli.StringFlag{Name: "raw", Usage: "raw JSON artifact path"},
			&cli.StringFlag{Name: "csv", Usage: "tabular CSV artifact path"},
			&cli.StringFlag{Name: "sqlite", Usage: "optional SQLite artifact path"},
			&cli.StringFlag{Name: "sqlite-table", Usage: "SQLite table name"},
			&cli.StringFlag{Name: "summary", Usage: "optional run summary YAML path"},
			&cli.StringFlag{Name: "priority", Usage: "comma separated leading columns"},
			&cli.StringFlag{Name: "separator", Usage: "nested key separator"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "log-pretty", Usage: "human-readable log output"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve /metrics on this address during the run"},
			&cli.StringFlag{Name: "redis-url", Usage: "publish the run summary to this Redis"},
		},
		Action: runHarvest,
		Commands: []*cli.Command{
			{
				Name:  "runs",
				Usage: "list recent run summaries published to Redis",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "number of runs to show"},
				},
				Action: listRuns,
			},
		},
	}
}

// loadConfig applies defaults, the config file, HARVEST_* env and then flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	str := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	num := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}

	str("base-url", &cfg.API.BaseURL)
	str("opportunity", &cfg.API.OpportunityKind)
	str("status", &cfg.API.Status)
	if c.IsSet("timeout") {
		cfg.API.Timeout = c.Duration("timeout")
	}
	num("page-size", &cfg.Fetch.PageSize)
	num("max-concurrency", &cfg.Fetch.MaxConcurrency)
	num("max-pages", &cfg.Fetch.MaxPages)
	str("raw", &cfg.Output.RawPath)
	str("csv", &cfg.Output.TabularPath)
	str("sqlite", &cfg.Output.SQLitePath)
	str("sqlite-table", &cfg.Output.SQLiteTable)
	str("summary", &cfg.Output.SummaryPath)
	str("separator", &cfg.Output.Separator)
	if c.IsSet("priority") {
		cfg.Priority = config.SplitList(c.String("priority"))
	}
	str("log-level", &cfg.Log.Level)
	if c.IsSet("log-pretty") {
		cfg.Log.Pretty = c.Bool("log-pretty")
	}
	str("metrics-addr", &cfg.Metrics.Addr)
	str("redis-url", &cfg.Redis.URL)
}

func runHarvest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}

	logCfg := cfg.Logging()
	logCfg.Output = c.App.ErrWriter
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidConfig)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	h, err := harvest.New(cfg.Harvest())
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}
	defer h.Close()

	if cfg.Redis.URL != "" {
		redisClient, err := connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Run summary will not be published")
		} else {
			defer redisClient.Close()
			h.SetStore(runstore.NewStore(redisClient, cfg.RunStore()))
		}
	}

	if _, err := h.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Harvest failed")
		return cli.Exit(err.Error(), exitRunFailed)
	}
	return nil
}

func listRuns(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidConfig)
	}
	if cfg.Redis.URL == "" {
		return cli.Exit("redis url is required (--redis-url or HARVEST_REDIS_URL)", exitInvalidConfig)
	}

	redisClient, err := connectRedis(c.Context, cfg.Redis.URL)
	if err != nil {
		return cli.Exit(err.Error(), exitRunFailed)
	}
	defer redisClient.Close()

	store := runstore.NewStore(redisClient, cfg.RunStore())
	ids, err := store.List(c.Context, c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), exitRunFailed)
	}

	out := c.App.Writer
	for _, id := range ids {
		sum, err := store.Get(c.Context, id)
		if errors.Is(err, runstore.ErrRunNotFound) {
			fmt.Fprintf(out, "%s\texpired\n", id)
			continue
		}
		if err != nil {
			return cli.Exit(err.Error(), exitRunFailed)
		}
		fmt.Fprintf(out, "%s\t%s\t%d records\t%s\n",
			sum.RunID, sum.StartedAt.Format(time.RFC3339), sum.RecordsExported, sum.FailureLine())
	}
	return nil
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return client, nil
}
