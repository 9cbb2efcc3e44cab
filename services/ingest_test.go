package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-ingest/models"
	"property-ingest/scraper"
	"property-ingest/storage"
	"property-ingest/utils"
)

type fakeStore struct {
	mu sync.Mutex

	byLocation     []*models.Property
	byKeyword      []*models.Property
	byKeywordErr   error
	insertManyErr  error
	insertErrTitle string
	deleteErr      error

	inserted       []*models.Property
	upserted       []*models.Property
	deleteCalls    []string
	deleteAllCalls int
	locationCalls  int
	seenInsertKeys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{seenInsertKeys: map[string]bool{}}
}

func (s *fakeStore) InsertMany(_ context.Context, props []*models.Property) (storage.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertManyErr != nil {
		return storage.InsertResult{}, s.insertManyErr
	}
	s.inserted = append(s.inserted, props...)
	return storage.InsertResult{Inserted: len(props)}, nil
}

func (s *fakeStore) Insert(_ context.Context, p *models.Property) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Title == s.insertErrTitle {
		return false, errors.New("connection reset")
	}
	if s.seenInsertKeys[p.Title] {
		return false, nil
	}
	s.seenInsertKeys[p.Title] = true
	s.inserted = append(s.inserted, p)
	return true, nil
}

func (s *fakeStore) Upsert(_ context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, p)
	return nil
}

func (s *fakeStore) FindByLocation(context.Context, string) ([]*models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationCalls++
	return s.byLocation, nil
}

func (s *fakeStore) FindByKeyword(context.Context, string) ([]*models.Property, error) {
	if s.byKeywordErr != nil {
		return nil, s.byKeywordErr
	}
	if s.byKeyword != nil {
		return s.byKeyword, nil
	}
	return s.inserted, nil
}

func (s *fakeStore) DeleteScrapedByKeyword(_ context.Context, keyword string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, keyword)
	return int64(len(s.byLocation)), nil
}

func (s *fakeStore) DeleteScraped(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleteAllCalls++
	kept := s.inserted[:0]
	for _, p := range s.inserted {
		if !p.IsScraped {
			kept = append(kept, p)
		}
	}
	n := len(s.inserted) - len(kept)
	s.inserted = kept
	return int64(n), nil
}

func (s *fakeStore) FetchAll(context.Context) ([]*models.Property, error) { return s.inserted, nil }
func (s *fakeStore) Name() string { return "fake" }
func (s *fakeStore) Close(context.Context) error { return nil }

type fakeRunner struct {
	calls   [][]string
	results []scraper.Result
	// onRun simulates scraper output landing on disk.
	onRun func()
}

func (r *fakeRunner) Run(_ context.Context, args ...string) []scraper.Result {
	r.calls = append(r.calls, args)
	if r.onRun != nil {
		r.onRun()
	}
	return r.results
}

type fakeURLScraper struct {
	dir   string
	write map[string]any
	err   error
	calls int
}

func (f *fakeURLScraper) ScrapeURL(_ context.Context, pageURL string) (string, error) {
	f.calls++
	path, err := scraper.PropertyFile(f.dir, pageURL)
	if err != nil {
		return "", err
	}
	if f.write != nil {
		data, _ := json.Marshal(f.write)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", err
		}
	}
	return path, f.err
}

type fakeExporter struct {
	batches [][]*models.Property
}

func (e *fakeExporter) Export(props []*models.Property) error {
	e.batches = append(e.batches, props)
	return nil
}

func (e *fakeExporter) Close() error { return nil }

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestIngester(store storage.PropertyStore, opts IngestOptions) *Ingester {
	return NewIngester(store, NewDefaultNormalizer(), opts, utils.NewNopLogger())
}

var listing = map[string]any{
	"property_name": "3 BHK Apartment in Gaur City, Sector 4 Greater Noida",
	"price":         "32,000",
	"image_urls":    []any{"https://img.example.com/1.jpg"},
}

func TestIngestRequiresKeyword(t *testing.T) {
	_, err := newTestIngester(newFakeStore(), IngestOptions{}).Ingest(context.Background(), IngestRequest{Keyword: "   "})
	assert.ErrorIs(t, err, ErrMissingKeyword)
}

func TestIngestReturnsCachedWithoutScraping(t *testing.T) {
	store := newFakeStore()
	store.byLocation = []*models.Property{{Title: "cached"}}
	runner := &fakeRunner{}

	report, err := newTestIngester(store, IngestOptions{Runner: runner}).
		Ingest(context.Background(), IngestRequest{Keyword: "Noida"})
	require.NoError(t, err)

	assert.True(t, report.Cached)
	assert.Equal(t, store.byLocation, report.Properties)
	assert.Empty(t, runner.calls)
	assert.Empty(t, store.inserted)
}

func TestIngestScrapesNormalizesAndStores(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "absent")

	stale := writeJSON(t, dir, "old.json", map[string]any{"property_name": "Old listing"})
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	writeJSON(t, dir, "index.json", []any{"a.json", "b.json"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	runner := &fakeRunner{
		results: []scraper.Result{
			{Command: "python3 Magic_bricks.py", Err: errors.New("exit status 1")},
			{Command: "python3 99acres.py"},
		},
		onRun: func() {
			writeJSON(t, dir, "a.json", listing)
			writeJSON(t, dir, "b.json", listing)
		},
	}
	exporter := &fakeExporter{}
	store := newFakeStore()

	report, err := newTestIngester(store, IngestOptions{
		Runner:        runner,
		Exporter:      exporter,
		DataDirs:      []string{dir, missing},
		RecencyWindow: 5 * time.Minute,
	}).Ingest(context.Background(), IngestRequest{Keyword: " Greater Noida "})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Greater Noida"}}, runner.calls)
	assert.Equal(t, 1, store.locationCalls)
	assert.False(t, report.Cached)
	assert.Equal(t, "Greater Noida", report.Keyword)
	assert.Equal(t, 1, report.ScraperFailures)
	assert.Equal(t, 4, report.FilesSeen)
	assert.Equal(t, 1, report.FilesStale)
	assert.Equal(t, 1, report.FilesFailed)
	assert.Equal(t, 2, report.Normalized)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Inserted)

	require.Len(t, store.inserted, 1)
	p := store.inserted[0]
	assert.Equal(t, "3 BHK Apartment in Gaur City, Sector 4", p.Title)
	assert.Equal(t, 32000.0, p.Price)
	assert.Equal(t, SourceScraper, p.Source)
	assert.Equal(t, []string{"Greater Noida"}, p.Keywords)
	assert.Equal(t, report.RunID, p.IngestRun)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, store.inserted, report.Properties)
	require.Len(t, exporter.batches, 1)
	assert.Len(t, exporter.batches[0], 1)
}

func TestIngestForceDeletesBeforeScraping(t *testing.T) {
	store := newFakeStore()
	store.byLocation = []*models.Property{{Title: "cached"}}
	runner := &fakeRunner{}

	report, err := newTestIngester(store, IngestOptions{Runner: runner}).
		Ingest(context.Background(), IngestRequest{Keyword: "Noida", Force: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Noida"}, store.deleteCalls)
	assert.Zero(t, store.locationCalls)
	assert.Len(t, runner.calls, 1)
	assert.False(t, report.Cached)
}

func TestIngestReturnsBatchWhenRereadFails(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", listing)

	store := newFakeStore()
	store.byKeywordErr = errors.New("timeout")

	report, err := newTestIngester(store, IngestOptions{DataDirs: []string{dir}}).
		Ingest(context.Background(), IngestRequest{Keyword: "Gaur"})
	require.NoError(t, err)

	require.Len(t, report.Properties, 1)
	assert.Equal(t, store.inserted[0], report.Properties[0])
}

func TestIngestInsertFailure(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", listing)

	store := newFakeStore()
	store.insertManyErr = errors.New("db down")

	report, err := newTestIngester(store, IngestOptions{DataDirs: []string{dir}}).
		Ingest(context.Background(), IngestRequest{Keyword: "Gaur"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1, report.Normalized)
}

func TestIngestNothingScraped(t *testing.T) {
	store := newFakeStore()

	report, err := newTestIngester(store, IngestOptions{DataDirs: []string{t.TempDir()}}).
		Ingest(context.Background(), IngestRequest{Keyword: "Noida"})
	require.NoError(t, err)

	assert.Zero(t, report.Normalized)
	assert.Empty(t, report.Properties)
	assert.Empty(t, store.inserted)
}

func TestScrapeURLUpsertsByRequestedURL(t *testing.T) {
	dir := t.TempDir()
	pageURL := "https://www.magicbricks.com/propertyDetails/3-BHK-Apartment?id=4d423738&from=search"
	urlScraper := &fakeURLScraper{dir: dir, write: listing, err: errors.New("exit status 1")}
	store := newFakeStore()

	p, err := newTestIngester(store, IngestOptions{URLScraper: urlScraper, URLDataDir: dir}).
		ScrapeURL(context.Background(), "  "+pageURL+" ")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "4d423738.json"))
	assert.Equal(t, pageURL, p.URL)
	assert.NotEmpty(t, p.IngestRun)
	assert.Equal(t, "Greater Noida", p.City)
	require.Len(t, store.upserted, 1)
	assert.Same(t, p, store.upserted[0])
}

func TestScrapeURLMissingOutput(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()

	_, err := newTestIngester(store, IngestOptions{
		URLScraper: &fakeURLScraper{dir: dir, err: errors.New("timed out")},
		URLDataDir: dir,
	}).ScrapeURL(context.Background(), "https://www.99acres.com/2-bhk-flat-r123456")

	require.ErrorIs(t, err, ErrScrapedFileNotFound)
	assert.True(t, strings.HasSuffix(err.Error(), "r123456.json"))
	assert.Empty(t, store.upserted)
}

func TestScrapeURLRejectsUnsafeID(t *testing.T) {
	dir := t.TempDir()
	urlScraper := &fakeURLScraper{dir: dir, write: listing}
	store := newFakeStore()

	_, err := newTestIngester(store, IngestOptions{URLScraper: urlScraper, URLDataDir: dir}).
		ScrapeURL(context.Background(), "https://www.99acres.com/flat-../../etc/passwd")

	require.ErrorIs(t, err, scraper.ErrInvalidPropertyID)
	assert.Zero(t, urlScraper.calls)
	assert.Empty(t, store.upserted)
}

func TestScrapeURLRequiresURL(t *testing.T) {
	_, err := newTestIngester(newFakeStore(), IngestOptions{}).ScrapeURL(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", listing)
	writeJSON(t, dir, "b.json", listing)
	writeJSON(t, dir, "c.json", map[string]any{"property_name": "Plot in Sector 150", "image_urls": []any{}})
	writeJSON(t, dir, "d.json", map[string]any{"property_name": "Builder floor, Sector 62", "image_urls": []any{"https://img.example.com/2.png"}})
	writeJSON(t, dir, "properties_index.json", map[string]any{"count": 4})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "e.json"), []byte("[1, 2]"), 0o644))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "d.json"), old, old))

	store := newFakeStore()
	store.insertErrTitle = "Independent Floor in Sector 62"
	ing := newTestIngester(store, IngestOptions{RecencyWindow: time.Minute})

	assert.Equal(t, 5, ing.CountFiles(dir))

	visited := 0
	report, err := ing.Import(context.Background(), ImportRequest{Dir: dir, OnFile: func() { visited++ }})
	require.NoError(t, err)

	assert.Equal(t, 4, visited)
	assert.Equal(t, 5, report.FilesSeen)
	assert.Equal(t, 1, report.FilesFailed)
	assert.Equal(t, 4, report.Normalized)
	assert.Equal(t, 1, report.SkippedNoImages)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.InsertFailures)

	require.Len(t, report.Properties, 1)
	assert.Equal(t, SourceImport, report.Properties[0].Source)
	assert.Equal(t, report.RunID, report.Properties[0].IngestRun)
}

func TestImportReplaceDeletesScrapedFirst(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", listing)

	store := newFakeStore()
	store.inserted = []*models.Property{
		{Title: "old scraped", IsScraped: true},
		{Title: "manual entry", IsScraped: false},
	}
	ing := newTestIngester(store, IngestOptions{})

	report, err := ing.Import(context.Background(), ImportRequest{Dir: dir, Replace: true})
	require.NoError(t, err)

	assert.Equal(t, 1, store.deleteAllCalls)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "manual entry", store.inserted[0].Title)

	report, err = ing.Import(context.Background(), ImportRequest{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, store.deleteAllCalls)
	assert.Zero(t, report.Deleted)
}

func TestImportReplaceFailureStopsImport(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", listing)

	store := newFakeStore()
	store.deleteErr = errors.New("db down")

	_, err := newTestIngester(store, IngestOptions{}).
		Import(context.Background(), ImportRequest{Dir: dir, Replace: true})
	assert.ErrorContains(t, err, "import: clear scraped: db down")
	assert.Empty(t, store.inserted)
}

func TestImportMissingDir(t *testing.T) {
	_, err := newTestIngester(newFakeStore(), IngestOptions{}).
		Import(context.Background(), ImportRequest{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
