package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"property-ingest/config"
	"property-ingest/metrics"
	"property-ingest/models"
	"property-ingest/scraper"
	"property-ingest/scraper/browser"
	"property-ingest/services"
	"property-ingest/storage"
	"property-ingest/utils"
)

const metricsJob = "property_ingest"

// app carries the state shared by every subcommand once flags are parsed.
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	storeName string
	rulesPath string
	jsonLogs  bool
	verbose   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "property-ingest",
		Short: "Scrape, normalize and store real-estate listings",
		Long: `property-ingest runs the listing scrapers for a search keyword, normalizes
whatever JSON they leave on disk into one canonical property schema and stores
the result in PostgreSQL or MongoDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			a.pushMetrics(cmd.Context())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.storeName, "store", "", "storage backend: postgres or mongo (default $STORE_BACKEND)")
	root.PersistentFlags().StringVar(&a.rulesPath, "rules", "", "YAML file overriding the normalization rules (default $RULES_FILE)")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json", false, "emit logs as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.ingestCmd(),
		a.scrapeURLCmd(),
		a.importCmd(),
		a.normalizeCmd(),
		a.reportCmd(),
	)
	return root
}

func (a *app) setup() error {
	a.cfg = config.Load()
	if a.storeName != "" {
		a.cfg.StoreBackend = strings.ToLower(a.storeName)
	}
	if a.rulesPath != "" {
		a.cfg.RulesFile = a.rulesPath
	}

	logCfg := utils.LogConfig{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat, Output: os.Stderr}
	if a.jsonLogs {
		logCfg.Format = "json"
	}
	if a.verbose {
		logCfg.Level = "debug"
	}
	a.logger = utils.NewLoggerWithConfig(logCfg)

	metrics.Init()
	return nil
}

func (a *app) ingestCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest <keyword>",
		Short: "Return stored listings for a keyword, scraping when none are cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.logger.Info("=== Property ingest starting (store: %s) ===", a.cfg.StoreBackend)

			ing, cleanup, err := a.ingester(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := ing.Ingest(ctx, services.IngestRequest{Keyword: args[0], Force: force})
			if err != nil {
				return err
			}

			printSummary(cmd.ErrOrStderr(), report)
			if report.Properties == nil {
				report.Properties = []*models.Property{}
			}
			return writeJSON(cmd.OutOrStdout(), report.Properties)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore cached records and scrape again")
	return cmd
}

func (a *app) scrapeURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape-url <url>",
		Short: "Scrape a single listing page and upsert it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ing, cleanup, err := a.ingester(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := ing.ScrapeURL(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Bulk-import every scraped JSON file in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := a.cfg.URLDataDir
			if len(args) == 1 {
				dir = args[0]
			}

			ing, cleanup, err := a.ingester(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			bar := newProgressBar(cmd.ErrOrStderr(), ing.CountFiles(dir), "Importing")
			report, err := ing.Import(ctx, services.ImportRequest{
				Dir:     dir,
				Replace: replace,
				OnFile:  func() { _ = bar.Add(1) },
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}

			printSummary(cmd.ErrOrStderr(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "delete every scraped record before importing")
	return cmd
}

func (a *app) normalizeCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "normalize <file.json>",
		Short: "Normalize one scraped JSON file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.normalizer()
			if err != nil {
				return err
			}
			raw, err := storage.NewJSONSource(a.logger).ReadFile(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), n.Normalize(raw, source))
		},
	}
	cmd.Flags().StringVar(&source, "source", services.SourceScraper, "provenance label written to the record")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print insights over every stored property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer closeStore(a.logger, store)

			props, err := store.FetchAll(ctx)
			if err != nil {
				return fmt.Errorf("report: %w", err)
			}

			svc := services.NewInsightService(a.logger)
			svc.Fprint(cmd.OutOrStdout(), svc.Generate(props))
			return nil
		},
	}
}

// ingester wires store, rules, scrapers and exporter from config. The
// returned cleanup closes whatever was opened.
func (a *app) ingester(ctx context.Context) (*services.Ingester, func(), error) {
	n, err := a.normalizer()
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("[main] Connected to %s store", store.Name())

	opts := services.IngestOptions{
		Runner:         scraper.NewRunnerFromConfig(a.cfg, a.logger),
		URLScraper:     newURLScraper(a.cfg, a.logger),
		DataDirs:       a.cfg.DataDirs,
		URLDataDir:     a.cfg.URLDataDir,
		RecencyWindow:  a.cfg.RecencyWindow,
		MaxConcurrency: a.cfg.MaxConcurrency,
	}

	var csvWriter *storage.CSVWriter
	if a.cfg.CSVOutputPath != "" {
		csvWriter, err = storage.NewCSVWriter(a.cfg.CSVOutputPath)
		if err != nil {
			a.logger.Warn("[main] CSV export disabled: %v", err)
		} else {
			opts.Exporter = csvWriter
		}
	}

	cleanup := func() {
		if csvWriter != nil {
			if err := csvWriter.Close(); err != nil {
				a.logger.Warn("[main] Closing CSV export: %v", err)
			}
		}
		closeStore(a.logger, store)
	}
	return services.NewIngester(store, n, opts, a.logger), cleanup, nil
}

func (a *app) normalizer() (*services.Normalizer, error) {
	rules := services.DefaultRules()
	if a.cfg.RulesFile != "" {
		loaded, err := services.LoadRules(a.cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
		a.logger.Debug("[main] Loaded normalization rules from %s", a.cfg.RulesFile)
	}
	return services.NewNormalizer(rules)
}

func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg == nil || a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, a.cfg.PushgatewayURL, metricsJob); err != nil {
		a.logger.Warn("[main] %v", err)
	}
}

// openStore connects to the backend named by cfg.StoreBackend.
func openStore(ctx context.Context, cfg *config.Config) (storage.PropertyStore, error) {
	switch cfg.StoreBackend {
	case "postgres", "postgresql":
		return storage.NewPostgresStore(ctx, cfg.DSN())
	case "mongo", "mongodb":
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
	}
	return nil, fmt.Errorf("%w: %q", storage.ErrUnknownStore, cfg.StoreBackend)
}

func closeStore(logger *utils.Logger, store storage.PropertyStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Warn("[main] Closing %s store: %v", store.Name(), err)
	}
}

// newURLScraper prefers an external command when one is configured and
// falls back to the headless browser.
func newURLScraper(cfg *config.Config, logger *utils.Logger) services.URLScraper {
	if len(cfg.ScraperURLCommand) > 0 {
		return scraper.NewCommandURLScraper(cfg, logger)
	}
	return browser.New(cfg, logger)
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

func printSummary(w io.Writer, r *models.IngestReport) {
	heading := color.New(color.FgCyan, color.Bold)
	bold := color.New(color.Bold)

	if r.Cached {
		heading.Fprintf(w, "  %d cached properties for %q (run %s)\n", len(r.Properties), r.Keyword, r.RunID)
		return
	}

	heading.Fprintf(w, "  Run %s\n", r.RunID)
	if r.Deleted > 0 {
		fmt.Fprintf(w, "  Replaced  : %d earlier scraped records deleted\n", r.Deleted)
	}
	fmt.Fprintf(w, "  Files     : %s seen, %d stale, %d unreadable\n", bold.Sprint(r.FilesSeen), r.FilesStale, r.FilesFailed)
	fmt.Fprintf(w, "  Records   : %s normalized, %d duplicates, %d without images\n", bold.Sprint(r.Normalized), r.Duplicates, r.SkippedNoImages)
	fmt.Fprintf(w, "  Stored    : %s inserted, %d already present, %d failed\n", bold.Sprint(r.Inserted), r.Skipped, r.InsertFailures)
	if r.ScraperFailures > 0 {
		color.New(color.FgRed).Fprintf(w, "  Scrapers  : %d failed\n", r.ScraperFailures)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
