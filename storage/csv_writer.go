package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"property-ingest/models"
)

var csvHeader = []string{
	"title", "price", "address", "city", "state", "bhk", "area",
	"property_type", "society", "images", "url", "source", "ingest_run",
}

// CSVWriter exports normalized properties to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Export appends one row per property. Images are joined with "|".
func (c *CSVWriter) Export(props []*models.Property) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range props {
		row := []string{
			p.Title,
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			p.Address,
			p.City,
			p.State,
			p.BHK,
			p.Area,
			p.DynamicFacts["Property Type"],
			p.DynamicFacts["Society"],
			strings.Join(p.Images, "|"),
			p.URL,
			p.Source,
			p.IngestRun,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
