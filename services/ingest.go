package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"property-ingest/metrics"
	"property-ingest/models"
	"property-ingest/scraper"
	"property-ingest/storage"
	"property-ingest/utils"
)

// Record sources written to Property.Source.
const (
	SourceScraper = "scraper"
	SourceImport  = "import_script"
)

var (
	ErrMissingKeyword      = errors.New("ingest: keyword is required")
	ErrMissingURL          = errors.New("ingest: url is required")
	ErrScrapedFileNotFound = errors.New("ingest: scraped file not found")
)

// CommandRunner launches the keyword scrapers.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) []scraper.Result
}

// URLScraper scrapes one listing page into the URL data directory.
type URLScraper interface {
	ScrapeURL(ctx context.Context, pageURL string) (string, error)
}

// IngestOptions wires the Ingester's collaborators and directories.
type IngestOptions struct {
	Runner         CommandRunner
	URLScraper     URLScraper
	Exporter       storage.PropertyExporter
	DataDirs       []string
	URLDataDir     string
	RecencyWindow  time.Duration
	MaxConcurrency int
}

// IngestRequest asks for listings matching Keyword.
type IngestRequest struct {
	Keyword string
	// Force skips the cache check and replaces earlier scraped records.
	Force bool
}

// ImportRequest bulk-loads every JSON file in Dir.
type ImportRequest struct {
	Dir string
	// Replace deletes every scraped record before importing.
	Replace bool
	// OnFile is called after each file is handled.
	OnFile func()
}

// Ingester drives scrapers, normalizes their output and persists it.
type Ingester struct {
	store      storage.PropertyStore
	normalizer *Normalizer
	deduper    *Deduper
	source     *storage.JSONSource
	opts       IngestOptions
	logger     *utils.Logger
	now        func() time.Time
}

func NewIngester(store storage.PropertyStore, normalizer *Normalizer, opts IngestOptions, logger *utils.Logger) *Ingester {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Ingester{
		store:      store,
		normalizer: normalizer,
		deduper:    NewDeduper(logger),
		source:     storage.NewJSONSource(logger),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest returns stored listings for a keyword, scraping fresh ones when the
// store has none or when Force is set.
func (i *Ingester) Ingest(ctx context.Context, req IngestRequest) (*models.IngestReport, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return nil, ErrMissingKeyword
	}

	report := &models.IngestReport{RunID: uuid.NewString(), Keyword: keyword}
	log := i.logger.With("run", report.RunID)

	if req.Force {
		deleted, err := i.store.DeleteScrapedByKeyword(ctx, keyword)
		if err != nil {
			return nil, fmt.Errorf("ingest: clear %q: %w", keyword, err)
		}
		report.Deleted = int(deleted)
		log.Info("[ingest] Force refresh: deleted %d scraped records for %q", deleted, keyword)
	} else {
		cached, err := i.store.FindByLocation(ctx, keyword)
		if err != nil {
			return nil, fmt.Errorf("ingest: cache lookup %q: %w", keyword, err)
		}
		if len(cached) > 0 {
			log.Info("[ingest] Returning %d cached records for %q", len(cached), keyword)
			report.Cached = true
			report.Properties = cached
			return report, nil
		}
	}

	if i.opts.Runner != nil {
		for _, res := range i.opts.Runner.Run(ctx, keyword) {
			if res.Err != nil {
				report.ScraperFailures++
			}
		}
	}

	cutoff := time.Time{}
	if i.opts.RecencyWindow > 0 {
		cutoff = i.now().Add(-i.opts.RecencyWindow)
	}
	files, stats := i.source.ReadDirs(i.opts.DataDirs, cutoff)
	report.FilesSeen, report.FilesStale, report.FilesFailed = stats.Seen, stats.Stale, stats.Failed
	recordFileMetrics(stats, len(files))
	log.Info("[ingest] %d recent files found (%d stale, %d unreadable)", len(files), stats.Stale, stats.Failed)

	props := i.normalizeAll(ctx, files, SourceScraper)
	for _, p := range props {
		p.Keywords = []string{keyword}
		p.IngestRun = report.RunID
	}
	report.Normalized = len(props)

	unique, dropped := i.deduper.Dedupe(props)
	report.Duplicates = dropped
	metrics.DuplicatesDroppedTotal.Add(float64(dropped))

	i.export(unique)

	if len(unique) > 0 {
		res, err := i.store.InsertMany(ctx, unique)
		report.Inserted, report.Skipped = res.Inserted, res.Skipped
		metrics.RecordsInsertedTotal.WithLabelValues(i.store.Name()).Add(float64(res.Inserted))
		metrics.InsertConflictsTotal.WithLabelValues(i.store.Name()).Add(float64(res.Skipped))
		if err != nil {
			return report, fmt.Errorf("ingest: insert: %w", err)
		}
		log.Info("[ingest] Inserted %d records (%d already stored)", res.Inserted, res.Skipped)
	}

	stored, err := i.store.FindByKeyword(ctx, keyword)
	if err != nil {
		log.Warn("[ingest] Re-reading %q failed, returning this batch: %v", keyword, err)
		stored = unique
	}
	report.Properties = stored
	return report, nil
}

// ScrapeURL scrapes one listing page, normalizes the file it produced and
// upserts it keyed by the requested URL.
func (i *Ingester) ScrapeURL(ctx context.Context, pageURL string) (*models.Property, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, ErrMissingURL
	}

	path, err := scraper.PropertyFile(i.opts.URLDataDir, pageURL)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if i.opts.URLScraper != nil {
		if _, err := i.opts.URLScraper.ScrapeURL(ctx, pageURL); err != nil {
			i.logger.Warn("[ingest] URL scraper reported an error, checking for output anyway: %v", err)
		}
	}

	raw, err := i.source.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrScrapedFileNotFound, path)
		}
		return nil, fmt.Errorf("ingest: %w", err)
	}

	p := i.normalizer.Normalize(raw, SourceScraper)
	p.URL = pageURL
	p.IngestRun = uuid.NewString()
	metrics.RecordsNormalizedTotal.WithLabelValues(SourceScraper).Inc()

	if err := i.store.Upsert(ctx, p); err != nil {
		return p, fmt.Errorf("ingest: save %s: %w", pageURL, err)
	}
	i.logger.Info("[ingest] Saved scraped property %q", p.Title)
	return p, nil
}

// Import loads every JSON file in a directory regardless of age. Records
// without images are skipped; each record is inserted on its own so one
// failure does not stop the run.
func (i *Ingester) Import(ctx context.Context, req ImportRequest) (*models.IngestReport, error) {
	if _, err := os.Stat(req.Dir); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	report := &models.IngestReport{RunID: uuid.NewString()}
	log := i.logger.With("run", report.RunID)

	if req.Replace {
		deleted, err := i.store.DeleteScraped(ctx)
		if err != nil {
			return nil, fmt.Errorf("import: clear scraped: %w", err)
		}
		report.Deleted = int(deleted)
		log.Info("[import] Replace: deleted %d scraped records", deleted)
	}

	files, stats := i.source.ReadDirs([]string{req.Dir}, time.Time{})
	report.FilesSeen, report.FilesFailed = stats.Seen, stats.Failed
	recordFileMetrics(stats, len(files))
	if stats.Seen == 0 {
		log.Warn("[import] No JSON files found in %s", req.Dir)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		i.importOne(ctx, log, report, f)
		if req.OnFile != nil {
			req.OnFile()
		}
	}

	log.Info("[import] Imported %d, skipped %d without images, %d already stored, %d failed",
		report.Inserted, report.SkippedNoImages, report.Skipped, report.InsertFailures)
	return report, nil
}

func (i *Ingester) importOne(ctx context.Context, log *utils.Logger, report *models.IngestReport, f storage.SourceFile) {
	p := i.normalizer.Normalize(f.Record, SourceImport)
	p.IngestRun = report.RunID
	report.Normalized++
	metrics.RecordsNormalizedTotal.WithLabelValues(SourceImport).Inc()

	if len(p.Images) == 0 {
		report.SkippedNoImages++
		log.Debug("[import] Skipping %s: no images", filepath.Base(f.Path))
		return
	}

	inserted, err := i.store.Insert(ctx, p)
	switch {
	case err != nil:
		report.InsertFailures++
		log.Error("[import] Failed to import %s: %v", filepath.Base(f.Path), err)
	case inserted:
		report.Inserted++
		report.Properties = append(report.Properties, p)
		metrics.RecordsInsertedTotal.WithLabelValues(i.store.Name()).Inc()
	default:
		report.Skipped++
		metrics.InsertConflictsTotal.WithLabelValues(i.store.Name()).Inc()
	}
}

// CountFiles reports how many JSON files an import of dir would visit.
func (i *Ingester) CountFiles(dir string) int {
	_, stats := i.source.ReadDirs([]string{dir}, time.Time{})
	return stats.Seen
}

// normalizeAll normalizes records on a worker pool, keeping input order.
func (i *Ingester) normalizeAll(ctx context.Context, files []storage.SourceFile, source string) []*models.Property {
	out := make([]*models.Property, len(files))
	pool := utils.NewWorkerPool(i.opts.MaxConcurrency, 0)
	for idx, f := range files {
		idx, f := idx, f
		pool.SubmitContext(ctx, func(context.Context) {
			out[idx] = i.normalizer.Normalize(f.Record, source)
		})
	}
	pool.Wait()

	metrics.RecordsNormalizedTotal.WithLabelValues(source).Add(float64(len(out)))
	return out
}

func (i *Ingester) export(props []*models.Property) {
	if i.opts.Exporter == nil || len(props) == 0 {
		return
	}
	if err := i.opts.Exporter.Export(props); err != nil {
		i.logger.Warn("[ingest] CSV export failed: %v", err)
	}
}

func recordFileMetrics(stats storage.SourceStats, parsed int) {
	metrics.FilesReadTotal.WithLabelValues("parsed").Add(float64(parsed))
	metrics.FilesReadTotal.WithLabelValues("stale").Add(float64(stats.Stale))
	metrics.FilesReadTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}
