package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"property-ingest/models"
)

const (
	postgresBatchSize = 50
	propertyColumns   = 17
)

// PostgresStore persists normalized properties to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			id            SERIAL PRIMARY KEY,
			title         TEXT             NOT NULL,
			description   TEXT             NOT NULL DEFAULT '',
			price         DOUBLE PRECISION NOT NULL DEFAULT 0,
			address       TEXT             NOT NULL,
			city          TEXT             NOT NULL,
			state         TEXT             NOT NULL,
			country       TEXT             NOT NULL,
			bhk           TEXT             NOT NULL DEFAULT 'N/A',
			area          TEXT             NOT NULL DEFAULT 'N/A',
			features      JSONB            NOT NULL DEFAULT '[]',
			images        JSONB            NOT NULL DEFAULT '[]',
			dynamic_facts JSONB            NOT NULL DEFAULT '{}',
			is_scraped    BOOLEAN          NOT NULL DEFAULT FALSE,
			source        TEXT             NOT NULL DEFAULT '',
			url           TEXT             UNIQUE,
			keywords      TEXT[]           NOT NULL DEFAULT '{}',
			ingest_run    TEXT,
			created_at    TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_price    ON properties(price);
		CREATE INDEX IF NOT EXISTS idx_properties_city     ON properties(city);
		CREATE INDEX IF NOT EXISTS idx_properties_keywords ON properties USING GIN (keywords);
	`)
	return err
}

func (ps *PostgresStore) Name() string { return "postgres" }

// InsertMany batch-inserts properties; rows whose url already exists are skipped.
func (ps *PostgresStore) InsertMany(ctx context.Context, props []*models.Property) (InsertResult, error) {
	defer observe("insert_many", ps.Name(), time.Now())

	var res InsertResult
	for i := 0; i < len(props); i += postgresBatchSize {
		end := i + postgresBatchSize
		if end > len(props) {
			end = len(props)
		}
		n, err := ps.insertBatch(ctx, props[i:end])
		if err != nil {
			return res, err
		}
		res.Inserted += n
		res.Skipped += (end - i) - n
	}
	return res, nil
}

func (ps *PostgresStore) insertBatch(ctx context.Context, batch []*models.Property) (int, error) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*propertyColumns)

	for idx, p := range batch {
		args, err := propertyArgs(p)
		if err != nil {
			return 0, err
		}
		valueStrings = append(valueStrings, placeholderRow(idx*propertyColumns))
		valueArgs = append(valueArgs, args...)
	}

	query := fmt.Sprintf(`
		INSERT INTO properties (%s)
		VALUES %s
		ON CONFLICT (url) DO NOTHING
	`, insertColumns, strings.Join(valueStrings, ","))

	result, err := ps.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert batch: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(n), nil
}

// Insert writes a single property, reporting false on a url conflict.
func (ps *PostgresStore) Insert(ctx context.Context, p *models.Property) (bool, error) {
	res, err := ps.InsertMany(ctx, []*models.Property{p})
	if err != nil {
		return false, err
	}
	return res.Inserted == 1, nil
}

// Upsert replaces the row with p's url. Without a url it is a plain insert.
func (ps *PostgresStore) Upsert(ctx context.Context, p *models.Property) error {
	defer observe("upsert", ps.Name(), time.Now())

	if p.URL == "" {
		_, err := ps.Insert(ctx, p)
		return err
	}

	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO properties (`+insertColumns+`)
		VALUES `+placeholderRow(0)+`
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			country = EXCLUDED.country,
			bhk = EXCLUDED.bhk,
			area = EXCLUDED.area,
			features = EXCLUDED.features,
			images = EXCLUDED.images,
			dynamic_facts = EXCLUDED.dynamic_facts,
			is_scraped = EXCLUDED.is_scraped,
			source = EXCLUDED.source,
			keywords = EXCLUDED.keywords,
			ingest_run = EXCLUDED.ingest_run
	`, args...)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", p.URL, err)
	}
	return nil
}

func (ps *PostgresStore) FindByLocation(ctx context.Context, keyword string) ([]*models.Property, error) {
	return ps.query(ctx, "find_by_location",
		selectColumns+` WHERE city ILIKE $1 OR address ILIKE $1 ORDER BY id`, likePattern(keyword))
}

func (ps *PostgresStore) FindByKeyword(ctx context.Context, keyword string) ([]*models.Property, error) {
	return ps.query(ctx, "find_by_keyword",
		selectColumns+` WHERE city ILIKE $1 OR address ILIKE $1 OR title ILIKE $1 ORDER BY id`, likePattern(keyword))
}

func (ps *PostgresStore) DeleteScrapedByKeyword(ctx context.Context, keyword string) (int64, error) {
	defer observe("delete_scraped", ps.Name(), time.Now())

	result, err := ps.db.ExecContext(ctx,
		`DELETE FROM properties WHERE is_scraped AND (city ILIKE $1 OR address ILIKE $1)`, likePattern(keyword))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete scraped: %w", err)
	}
	return result.RowsAffected()
}

func (ps *PostgresStore) DeleteScraped(ctx context.Context) (int64, error) {
	defer observe("delete_scraped_all", ps.Name(), time.Now())

	result, err := ps.db.ExecContext(ctx, `DELETE FROM properties WHERE is_scraped`)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete scraped: %w", err)
	}
	return result.RowsAffected()
}

// FetchAll retrieves all stored properties, used by the insight service.
func (ps *PostgresStore) FetchAll(ctx context.Context) ([]*models.Property, error) {
	return ps.query(ctx, "fetch_all", selectColumns+` ORDER BY id`)
}

func (ps *PostgresStore) Close(context.Context) error {
	return ps.db.Close()
}

func (ps *PostgresStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*models.Property, error) {
	defer observe(op, ps.Name(), time.Now())

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var props []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

const insertColumns = `title, description, price, address, city, state, country, bhk, area,
	features, images, dynamic_facts, is_scraped, source, url, keywords, ingest_run`

const selectColumns = `SELECT id, title, description, price, address, city, state, country, bhk, area,
	features, images, dynamic_facts, is_scraped, source, url, keywords, ingest_run, created_at
	FROM properties`

// propertyArgs returns the insertColumns values for p in order.
func propertyArgs(p *models.Property) ([]interface{}, error) {
	features, err := json.Marshal(nonNil(p.Features))
	if err != nil {
		return nil, fmt.Errorf("postgres: encode features: %w", err)
	}
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return nil, fmt.Errorf("postgres: encode images: %w", err)
	}
	facts := p.DynamicFacts
	if facts == nil {
		facts = map[string]string{}
	}
	dynamicFacts, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode dynamic_facts: %w", err)
	}

	return []interface{}{
		p.Title, p.Description, p.Price, p.Address, p.City, p.State, p.Country, p.BHK, p.Area,
		string(features), string(images), string(dynamicFacts), p.IsScraped, p.Source,
		sql.NullString{String: p.URL, Valid: p.URL != ""},
		pq.Array(nonNil(p.Keywords)),
		sql.NullString{String: p.IngestRun, Valid: p.IngestRun != ""},
	}, nil
}

func scanProperty(rows *sql.Rows) (*models.Property, error) {
	var (
		p                              models.Property
		id                             int64
		features, images, dynamicFacts []byte
		url, ingestRun                 sql.NullString
		createdAt                      time.Time
	)
	if err := rows.Scan(
		&id, &p.Title, &p.Description, &p.Price, &p.Address, &p.City, &p.State, &p.Country,
		&p.BHK, &p.Area, &features, &images, &dynamicFacts, &p.IsScraped, &p.Source,
		&url, pq.Array(&p.Keywords), &ingestRun, &createdAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if err := json.Unmarshal(dynamicFacts, &p.DynamicFacts); err != nil {
		return nil, fmt.Errorf("decode dynamic_facts: %w", err)
	}
	p.ID = strconv.FormatInt(id, 10)
	p.URL = url.String
	p.IngestRun = ingestRun.String
	p.CreatedAt = &createdAt
	return &p, nil
}

// jsonbColumns are the insertColumns positions holding encoded JSON.
var jsonbColumns = map[int]bool{9: true, 10: true, 11: true}

func placeholderRow(offset int) string {
	placeholders := make([]string, propertyColumns)
	for c := range placeholders {
		placeholders[c] = fmt.Sprintf("$%d", offset+c+1)
		if jsonbColumns[c] {
			placeholders[c] += "::jsonb"
		}
	}
	return "(" + strings.Join(placeholders, ",") + ")"
}

// likePattern wraps keyword for a case-insensitive substring ILIKE match.
func likePattern(keyword string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(keyword)
	return "%" + escaped + "%"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
