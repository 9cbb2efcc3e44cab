package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-ingest/models"
)

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%Sector 62%`, likePattern("Sector 62"))
	assert.Equal(t, `%100\% owner\_ok\\%`, likePattern(`100% owner_ok\`))
}

func TestPlaceholderRowCastsJSONColumns(t *testing.T) {
	row := placeholderRow(propertyColumns)
	assert.True(t, strings.HasPrefix(row, "($18,"))
	assert.Contains(t, row, "$27::jsonb,$28::jsonb,$29::jsonb,$30,")
	assert.True(t, strings.HasSuffix(row, "$34)"))
}

func TestPropertyArgsColumnOrder(t *testing.T) {
	args, err := propertyArgs(&models.Property{Title: "t", Price: 10})
	require.NoError(t, err)
	require.Len(t, args, propertyColumns)
	assert.Equal(t, len(strings.Split(insertColumns, ",")), propertyColumns)
	assert.Equal(t, "[]", args[9])
	assert.Equal(t, "[]", args[10])
	assert.Equal(t, "{}", args[11])
}
