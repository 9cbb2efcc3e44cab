package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func writeErrors(codes ...int) mongo.BulkWriteException {
	var bwe mongo.BulkWriteException
	for i, code := range codes {
		bwe.WriteErrors = append(bwe.WriteErrors, mongo.BulkWriteError{
			WriteError: mongo.WriteError{Index: i, Code: code},
		})
	}
	return bwe
}

func TestBulkInsertResult(t *testing.T) {
	tests := []struct {
		name           string
		total          int
		bwe            mongo.BulkWriteException
		want           InsertResult
		onlyDuplicates bool
	}{
		{"duplicates only", 5, writeErrors(duplicateKeyCode, duplicateKeyCode), InsertResult{Inserted: 3, Skipped: 2}, true},
		{"mixed batch", 5, writeErrors(duplicateKeyCode, 121), InsertResult{Inserted: 3, Skipped: 1}, false},
		{"validation failures only", 4, writeErrors(121, 121, 121), InsertResult{Inserted: 1}, false},
		{"no write errors", 2, writeErrors(), InsertResult{Inserted: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, onlyDuplicates := bulkInsertResult(tt.total, tt.bwe)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.onlyDuplicates, onlyDuplicates)
		})
	}
}

func TestKeywordFilterQuotesInput(t *testing.T) {
	filter := keywordFilter("Sector 1 (West)", "city", "address")

	or, ok := filter["$or"].(bson.A)
	if assert.True(t, ok) && assert.Len(t, or, 2) {
		assert.Equal(t, bson.M{"city": primitive.Regex{Pattern: `Sector 1 \(West\)`, Options: "i"}}, or[0])
	}
}
