package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"property-ingest/models"
)

const (
	propertiesCollection = "properties"
	duplicateKeyCode     = 11000
)

// MongoStore persists normalized properties to a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects, pings, and ensures the collection indexes.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	ms := &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(propertiesCollection),
	}
	if err := ms.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return ms, nil
}

func (ms *MongoStore) createIndexes(ctx context.Context) error {
	defer observe("create_indexes", ms.Name(), time.Now())

	_, err := ms.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "keywords", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "city", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

func (ms *MongoStore) Name() string { return "mongo" }

// InsertMany inserts unordered so one url conflict does not stop the rest.
func (ms *MongoStore) InsertMany(ctx context.Context, props []*models.Property) (InsertResult, error) {
	defer observe("insert_many", ms.Name(), time.Now())

	if len(props) == 0 {
		return InsertResult{}, nil
	}

	docs := make([]interface{}, 0, len(props))
	for _, p := range props {
		stampCreated(p)
		docs = append(docs, p)
	}

	_, err := ms.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return InsertResult{Inserted: len(docs)}, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return InsertResult{}, fmt.Errorf("mongo: insert many: %w", err)
	}
	res, onlyDuplicates := bulkInsertResult(len(docs), bwe)
	if !onlyDuplicates {
		return res, fmt.Errorf("mongo: insert many: %w", err)
	}
	return res, nil
}

// bulkInsertResult counts an unordered insert that failed partway: every
// document without a write error was committed. Duplicate keys count as
// skipped; onlyDuplicates is false when any other write error occurred.
func bulkInsertResult(total int, bwe mongo.BulkWriteException) (InsertResult, bool) {
	res := InsertResult{Inserted: total - len(bwe.WriteErrors)}
	onlyDuplicates := true
	for _, we := range bwe.WriteErrors {
		if we.Code == duplicateKeyCode {
			res.Skipped++
		} else {
			onlyDuplicates = false
		}
	}
	return res, onlyDuplicates
}

// Insert writes one property, reporting false on a url conflict.
func (ms *MongoStore) Insert(ctx context.Context, p *models.Property) (bool, error) {
	defer observe("insert", ms.Name(), time.Now())

	stampCreated(p)
	if _, err := ms.coll.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo: insert: %w", err)
	}
	return true, nil
}

// Upsert replaces the document with p's url, inserting when absent.
func (ms *MongoStore) Upsert(ctx context.Context, p *models.Property) error {
	if p.URL == "" {
		_, err := ms.Insert(ctx, p)
		return err
	}
	defer observe("upsert", ms.Name(), time.Now())

	stampCreated(p)
	_, err := ms.coll.ReplaceOne(ctx, bson.M{"url": p.URL}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert %s: %w", p.URL, err)
	}
	return nil
}

func (ms *MongoStore) FindByLocation(ctx context.Context, keyword string) ([]*models.Property, error) {
	return ms.find(ctx, "find_by_location", keywordFilter(keyword, "city", "address"))
}

func (ms *MongoStore) FindByKeyword(ctx context.Context, keyword string) ([]*models.Property, error) {
	return ms.find(ctx, "find_by_keyword", keywordFilter(keyword, "city", "address", "title"))
}

func (ms *MongoStore) DeleteScrapedByKeyword(ctx context.Context, keyword string) (int64, error) {
	defer observe("delete_scraped", ms.Name(), time.Now())

	filter := keywordFilter(keyword, "city", "address")
	filter["isScraped"] = true
	res, err := ms.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongo: delete scraped: %w", err)
	}
	return res.DeletedCount, nil
}

func (ms *MongoStore) DeleteScraped(ctx context.Context) (int64, error) {
	defer observe("delete_scraped_all", ms.Name(), time.Now())

	res, err := ms.coll.DeleteMany(ctx, bson.M{"isScraped": true})
	if err != nil {
		return 0, fmt.Errorf("mongo: delete scraped: %w", err)
	}
	return res.DeletedCount, nil
}

func (ms *MongoStore) FetchAll(ctx context.Context) ([]*models.Property, error) {
	return ms.find(ctx, "fetch_all", bson.M{})
}

func (ms *MongoStore) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

func (ms *MongoStore) find(ctx context.Context, op string, filter bson.M) ([]*models.Property, error) {
	defer observe(op, ms.Name(), time.Now())

	cursor, err := ms.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var docs []models.Property
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: %s: decode: %w", op, err)
	}
	props := make([]*models.Property, len(docs))
	for i := range docs {
		props[i] = &docs[i]
	}
	return props, nil
}

// keywordFilter matches keyword literally and case-insensitively in any field.
func keywordFilter(keyword string, fields ...string) bson.M {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}
	or := make(bson.A, 0, len(fields))
	for _, f := range fields {
		or = append(or, bson.M{f: re})
	}
	return bson.M{"$or": or}
}

func stampCreated(p *models.Property) {
	if p.CreatedAt == nil {
		now := time.Now().UTC()
		p.CreatedAt = &now
	}
}
