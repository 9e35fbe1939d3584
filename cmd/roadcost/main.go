// roadcost prices the material requirements of road-safety audit
// interventions.
//
// Usage:
//
//	roadcost estimate --input interventions.json [--strict] [--format table|json|markdown]
//	roadcost prices import --file sor.xlsx
//	roadcost prices lookup --item "Glass beads" --unit kg
//	roadcost prices migrate
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"roadsafety-cost/db/ingestion"
	"roadsafety-cost/decision/estimation"
	"roadsafety-cost/decision/intake"
	"roadsafety-cost/decision/pricing"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "roadcost",
		Usage:   "Material cost estimation for road-safety audit interventions",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"ROADCOST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"ROADCOST_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Price store driver (sqlite, postgres, clickhouse, none)",
				EnvVars: []string{"ROADCOST_STORE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Price store DSN (sqlite path or postgres URL)",
				EnvVars: []string{"ROADCOST_STORE_DSN"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Usage:   "ClickHouse host",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write Prometheus metrics to this textfile on exit",
			},
		},

		Commands: []*cli.Command{
			estimateCommand(),
			pricesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads file and environment configuration, then applies
// explicitly set global flags on top.
func loadConfig(c *cli.Context) (platform.Config, error) {
	cfg, err := platform.Load(c.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("store") {
		cfg.Store.Driver = c.String("store")
	}
	if c.IsSet("dsn") {
		cfg.Store.DSN = c.String("dsn")
	}
	if c.IsSet("clickhouse-host") {
		cfg.ClickHouse.Host = c.String("clickhouse-host")
	}
	if c.IsSet("clickhouse-port") {
		cfg.ClickHouse.Port = c.Int("clickhouse-port")
	}
	if c.IsSet("clickhouse-database") {
		cfg.ClickHouse.Database = c.String("clickhouse-database")
	}
	if c.IsSet("clickhouse-user") {
		cfg.ClickHouse.Username = c.String("clickhouse-user")
	}
	if c.IsSet("clickhouse-password") {
		cfg.ClickHouse.Password = c.String("clickhouse-password")
	}
	return cfg, nil
}

// =============================================================================
// ESTIMATE COMMAND
// =============================================================================

func estimateCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate",
		Usage: "Price the interventions of an interpretation-service JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Path to interventions JSON",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Never estimate prices; report unpriced materials for review",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format (table, json, markdown)",
			},
		},
		Action: runEstimate,
	}
}

func runEstimate(c *cli.Context) error {
	ctx := c.Context
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("strict") {
		cfg.Pipeline.Strict = c.Bool("strict")
	}
	logger := platform.InitLogger(cfg.LogLevel)

	batch, err := intake.NewParser(logger).ParseFile(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to read interventions: %w", err)
	}
	for _, note := range batch.Notes {
		logger.Info("input coerced", "note", note)
	}

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()
	defer writeMetrics(c, deps.metrics)

	engine := estimation.NewEngine(deps.resolver,
		estimation.WithNarrator(deps.narrator),
		estimation.WithMetrics(deps.metrics),
		estimation.WithLogger(logger),
		estimation.WithParallelism(cfg.Pipeline.Parallelism),
	)

	mode := pricing.ModePermissive
	if cfg.Pipeline.Strict {
		mode = pricing.ModeStrict
	}
	est, err := engine.Estimate(ctx, estimation.Request{
		Interventions: batch.Interventions,
		Mode:          mode,
	})
	if est == nil {
		return fmt.Errorf("estimation failed: %w", err)
	}

	if rerr := render(os.Stdout, c.String("format"), est); rerr != nil {
		return rerr
	}
	if errors.Is(err, perrors.ErrEstimateFailed) {
		return cli.Exit(err.Error(), 2)
	}
	return err
}

// =============================================================================
// PRICES COMMAND
// =============================================================================

func pricesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prices",
		Usage: "Manage the price store",
		Subcommands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Create or upgrade the price store schema",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					logger := platform.InitLogger(cfg.LogLevel)
					// Opening a store applies pending migrations.
					store, err := openStore(c.Context, cfg)
					if err != nil {
						return err
					}
					if store == nil {
						return errNoStore
					}
					defer store.Close()
					n, err := store.Count(c.Context)
					if err != nil {
						return err
					}
					logger.Info("price store ready", "driver", cfg.Store.Driver, "records", n)
					return nil
				},
			},
			{
				Name:  "import",
				Usage: "Import a schedule of rates (xlsx, csv, json; local or s3://)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Reference file path or s3://bucket/key",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "source",
						Value: "reference",
						Usage: "Source label for rows without a source column",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Value: ingestion.DefaultBatchSize,
						Usage: "Records written per batch",
					},
				},
				Action: runImport,
			},
			{
				Name:  "lookup",
				Usage: "Resolve the price of one material through the full cascade",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "item",
						Usage:    "Material name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "unit",
						Usage:    "Unit of measure",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "Intervention category hint",
					},
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Stop before the estimate tier",
					},
				},
				Action: runLookup,
			},
		},
	}
}

func runImport(c *cli.Context) error {
	ctx := c.Context
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := platform.InitLogger(cfg.LogLevel)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStore
	}
	defer store.Close()

	loader := ingestion.NewLoader(ingestion.LoaderOptions{
		Source: c.String("source"),
		Region: cfg.Reference.Region,
		Logger: logger,
	})
	res, err := ingestion.NewImporter(store, c.Int("batch-size"), logger).ImportFile(ctx, loader, c.String("file"))
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Printf("Imported %d records in %d batches (%d rows skipped) in %s\n",
		res.Records, res.Batches, res.Skipped, res.Duration.Round(time.Millisecond))
	return nil
}

func runLookup(c *cli.Context) error {
	ctx := c.Context
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := platform.InitLogger(cfg.LogLevel)

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()
	defer writeMetrics(c, deps.metrics)

	mode := pricing.ModePermissive
	if c.Bool("strict") {
		mode = pricing.ModeStrict
	}
	quote, err := deps.resolver.Resolve(ctx, pricing.Query{
		Name:     c.String("item"),
		Unit:     units.Normalize(c.String("unit")),
		Category: categoryFlag(c.String("category")),
	}, mode)
	if err != nil {
		return err
	}
	return renderQuote(os.Stdout, c.String("item"), quote)
}

func writeMetrics(c *cli.Context, m *platform.Metrics) {
	path := c.String("metrics-file")
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write metrics: %v\n", err)
	}
}
