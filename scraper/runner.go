package scraper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"property-ingest/config"
	"property-ingest/metrics"
	"property-ingest/utils"
)

// Result is the outcome of one scraper command.
type Result struct {
	Command  string
	Output   string
	Duration time.Duration
	Err      error
}

// RunnerConfig describes the external scraper processes to launch.
type RunnerConfig struct {
	// Commands are argv prefixes; Run appends its arguments to each.
	Commands       [][]string
	Dir            string
	Timeout        time.Duration
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	RetryDelay     time.Duration
}

// Runner launches scraper commands concurrently. A failing command never
// affects its siblings; exit status is reported, not enforced.
type Runner struct {
	cfg    RunnerConfig
	logger *utils.Logger
	retry  *utils.RetryConfig
}

func NewRunner(cfg RunnerConfig, logger *utils.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryDelay,
			Logger:      logger,
		},
	}
}

// NewRunnerFromConfig builds the keyword scraper runner from application config.
func NewRunnerFromConfig(cfg *config.Config, logger *utils.Logger) *Runner {
	return NewRunner(RunnerConfig{
		Commands:       cfg.ScraperCommands,
		Dir:            cfg.ScraperDir,
		Timeout:        cfg.ScraperTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
		RateLimitMs:    cfg.RateLimitMs,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     2 * time.Second,
	}, logger)
}

// Run executes every configured command with args appended and returns one
// Result per command, in configuration order.
func (r *Runner) Run(ctx context.Context, args ...string) []Result {
	results := make([]Result, len(r.cfg.Commands))
	pool := utils.NewWorkerPool(r.cfg.MaxConcurrency, r.cfg.RateLimitMs)

	for i, argv := range r.cfg.Commands {
		i, argv := i, argv
		pool.SubmitContext(ctx, func(ctx context.Context) {
			results[i] = r.runOne(ctx, argv, args)
		})
	}
	pool.Wait()

	return results
}

func (r *Runner) runOne(ctx context.Context, argv, args []string) Result {
	res := Result{Command: strings.Join(argv, " ")}
	if len(argv) == 0 {
		res.Err = errors.New("scraper: empty command")
		return res
	}
	label := filepath.Base(argv[len(argv)-1])

	start := time.Now()
	res.Err = r.retry.DoContext(ctx, res.Command, func(ctx context.Context) error {
		runCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}

		cmdArgs := append(append([]string{}, argv[1:]...), args...)
		cmd := exec.CommandContext(runCtx, argv[0], cmdArgs...)
		cmd.Dir = r.cfg.Dir

		out, err := cmd.CombinedOutput()
		res.Output = string(out)
		if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %v: %w", r.cfg.Timeout, err)
		}
		return err
	})
	res.Duration = time.Since(start)

	metrics.ScraperDuration.WithLabelValues(label).Observe(res.Duration.Seconds())
	if res.Err != nil {
		metrics.ScraperFailuresTotal.WithLabelValues(label).Inc()
		r.logger.Warn("[scraper] %s failed after %v: %v", res.Command, res.Duration.Round(time.Millisecond), res.Err)
	} else {
		r.logger.Info("[scraper] %s finished in %v", res.Command, res.Duration.Round(time.Millisecond))
	}
	r.logger.Debug("[scraper] %s output:\n%s", res.Command, res.Output)
	return res
}

// CommandURLScraper scrapes a single listing page by running an external
// command with "--url <page>".
type CommandURLScraper struct {
	runner  *Runner
	dataDir string
}

func NewCommandURLScraper(cfg *config.Config, logger *utils.Logger) *CommandURLScraper {
	runner := NewRunnerFromConfig(cfg, logger)
	runner.cfg.Commands = [][]string{cfg.ScraperURLCommand}
	return &CommandURLScraper{runner: runner, dataDir: cfg.URLDataDir}
}

// ScrapeURL runs the command and returns the path its output should land at.
func (s *CommandURLScraper) ScrapeURL(ctx context.Context, pageURL string) (string, error) {
	path, err := PropertyFile(s.dataDir, pageURL)
	if err != nil {
		return "", err
	}
	for _, res := range s.runner.Run(ctx, "--url", pageURL) {
		if res.Err != nil {
			return path, res.Err
		}
	}
	return path, nil
}
