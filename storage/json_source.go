package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"property-ingest/models"
	"property-ingest/utils"
)

// indexFiles are scraper bookkeeping files, not listings.
var indexFiles = map[string]struct{}{
	"index.json":            {},
	"properties_index.json": {},
}

// SourceFile is one scraped JSON document read from disk.
type SourceFile struct {
	Path    string
	ModTime time.Time
	Record  *models.RawRecord
}

// SourceStats counts what a directory scan saw.
type SourceStats struct {
	Seen   int
	Stale  int
	Failed int
}

// JSONSource reads raw records that scrapers leave in data directories.
type JSONSource struct {
	logger *utils.Logger
}

func NewJSONSource(logger *utils.Logger) *JSONSource {
	return &JSONSource{logger: logger}
}

// ReadDirs scans each directory (non-recursively) for .json files modified at
// or after since. A zero since disables the recency cutoff. Missing
// directories are skipped; unreadable or malformed files are counted and
// skipped.
func (s *JSONSource) ReadDirs(dirs []string, since time.Time) ([]SourceFile, SourceStats) {
	var files []SourceFile
	var stats SourceStats

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("[source] Directory %s does not exist, skipping", dir)
			} else {
				s.logger.Warn("[source] Cannot list %s: %v", dir, err)
			}
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			if _, skip := indexFiles[name]; skip {
				continue
			}
			stats.Seen++

			path := filepath.Join(dir, name)
			info, err := entry.Info()
			if err != nil {
				stats.Failed++
				s.logger.Warn("[source] Cannot stat %s: %v", path, err)
				continue
			}
			if !since.IsZero() && info.ModTime().Before(since) {
				stats.Stale++
				continue
			}

			record, err := s.ReadFile(path)
			if err != nil {
				stats.Failed++
				s.logger.Warn("[source] Skipping %s: %v", path, err)
				continue
			}
			files = append(files, SourceFile{Path: path, ModTime: info.ModTime(), Record: record})
		}
	}

	s.logger.Debug("[source] Scanned %d files: %d stale, %d failed, %d loaded",
		stats.Seen, stats.Stale, stats.Failed, len(files))
	return files, stats
}

// ReadFile decodes one scraped JSON document.
func (s *JSONSource) ReadFile(path string) (*models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	record, err := models.DecodeRawRecord(data)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}
	return record, nil
}
