package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"property-ingest/config"
	"property-ingest/scraper"
	"property-ingest/utils"
)

const pageTimeout = 60 * time.Second

// expandDetails opens the collapsed "more details" sections when present.
const expandDetails = `(function() {
	var more = document.querySelector("a[href='#more-details']");
	if (more) more.click();
	var links = document.querySelectorAll('a, span, div');
	for (var i = 0; i < links.length; i++) {
		if ((links[i].innerText || '').trim() === 'View all details') {
			links[i].click();
			break;
		}
	}
	return true;
})()`

// Scraper renders a single listing page in headless Chrome and stores the
// extracted record as JSON.
type Scraper struct {
	dataDir   string
	chromeBin string
	logger    *utils.Logger
	retry     *utils.RetryConfig
}

// New creates a ready-to-use browser Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	chromeBin := cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	return &Scraper{
		dataDir:   cfg.URLDataDir,
		chromeBin: chromeBin,
		logger:    logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// ScrapeURL renders pageURL, extracts the listing and writes
// <dataDir>/<id>.json, returning the file path.
func (s *Scraper) ScrapeURL(ctx context.Context, pageURL string) (string, error) {
	if _, err := scraper.PropertyFile(s.dataDir, pageURL); err != nil {
		return "", err
	}
	s.logger.Info("[browser] Using browser binary: %s", s.chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if s.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(s.chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var html, location string
	err := s.retry.DoContext(ctx, "render-page", func(context.Context) error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageTimeout)
		defer cancelTimeout()

		var expanded bool
		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),
			chromedp.Evaluate(expandDetails, &expanded),
			chromedp.Sleep(1*time.Second),
			chromedp.Location(&location),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("chromedp render: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("browser: %s: %w", pageURL, err)
	}

	// The id comes from the requested URL so callers can find the file.
	rec, err := Extract(strings.NewReader(html), "text/html; charset=utf-8", pageURL)
	if err != nil {
		return "", err
	}
	s.logger.Debug("[browser] %s rendered as %s: %d images, %d facts",
		pageURL, location, len(rec.ImageURLs), len(rec.DynamicFacts))

	return s.save(rec)
}

func (s *Scraper) save(rec *Record) (string, error) {
	if !scraper.ValidPropertyID(rec.PropertyID) {
		return "", fmt.Errorf("%w: %q", scraper.ErrInvalidPropertyID, rec.URL)
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return "", fmt.Errorf("browser: create data dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return "", fmt.Errorf("browser: encode record: %w", err)
	}
	path := filepath.Join(s.dataDir, rec.PropertyID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("browser: write %s: %w", path, err)
	}
	s.logger.Info("[browser] Saved %s", path)
	return path, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
