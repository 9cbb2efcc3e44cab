package storage

import (
	"context"
	"errors"

	"property-ingest/models"
)

// ErrUnknownStore is returned for an unrecognised store backend name.
var ErrUnknownStore = errors.New("storage: unknown store backend")

// InsertResult counts the outcome of a bulk insert. Records whose url already
// exists are skipped, not failed.
type InsertResult struct {
	Inserted int
	Skipped  int
}

// PropertyStore is the interface any persistence backend must satisfy.
// Keyword lookups are case-insensitive substring matches.
type PropertyStore interface {
	// InsertMany writes every record it can; url conflicts are skipped.
	InsertMany(ctx context.Context, props []*models.Property) (InsertResult, error)
	// Insert writes one record and reports false when its url already exists.
	Insert(ctx context.Context, p *models.Property) (bool, error)
	// Upsert replaces the record with the same url, or inserts it.
	Upsert(ctx context.Context, p *models.Property) error
	// FindByLocation matches keyword against city and address.
	FindByLocation(ctx context.Context, keyword string) ([]*models.Property, error)
	// FindByKeyword matches keyword against city, address and title.
	FindByKeyword(ctx context.Context, keyword string) ([]*models.Property, error)
	// DeleteScrapedByKeyword removes scraped records whose city or address match.
	DeleteScrapedByKeyword(ctx context.Context, keyword string) (int64, error)
	// DeleteScraped removes every scraped record.
	DeleteScraped(ctx context.Context) (int64, error)
	FetchAll(ctx context.Context) ([]*models.Property, error)
	Name() string
	Close(ctx context.Context) error
}

// PropertyExporter snapshots a normalized batch outside the store.
type PropertyExporter interface {
	Export(props []*models.Property) error
	Close() error
}
