package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"property-ingest/models"
	"property-ingest/utils"
)

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	d := NewDeduper(utils.NewNopLogger())

	a := &models.Property{Title: "2 BHK in Gaur City", Address: "Sector 4", Price: 25000, Source: "first"}
	b := &models.Property{Title: "2 BHK in Gaur City", Address: "Sector 4", Price: 25000.0, Source: "second"}
	c := &models.Property{Title: "2 BHK in Gaur City", Address: "Sector 4", Price: 26000}
	e := &models.Property{Title: "3 BHK Villa", Address: "Sector 4", Price: 25000}

	got, dropped := d.Dedupe([]*models.Property{a, b, c, nil, e, a})

	assert.Equal(t, []*models.Property{a, c, e}, got)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, "first", got[0].Source)
}

func TestDedupeEmpty(t *testing.T) {
	got, dropped := NewDeduper(utils.NewNopLogger()).Dedupe(nil)
	assert.Empty(t, got)
	assert.Zero(t, dropped)
}

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "Villa-Sector 1-45000", DedupeKey(&models.Property{Title: "Villa", Address: "Sector 1", Price: 45000}))
	assert.Equal(t, "Villa-Sector 1-1.5", DedupeKey(&models.Property{Title: "Villa", Address: "Sector 1", Price: 1.5}))
	assert.Equal(t, "--0", DedupeKey(&models.Property{}))
}
