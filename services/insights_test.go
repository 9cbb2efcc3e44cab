package services

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-ingest/models"
	"property-ingest/utils"
)

func sampleProperties() []*models.Property {
	prop := func(title, city, bhk, kind string, price float64, scraped bool) *models.Property {
		return &models.Property{
			Title:        title,
			City:         city,
			BHK:          bhk,
			Price:        price,
			IsScraped:    scraped,
			DynamicFacts: map[string]string{FactPropertyType: kind},
		}
	}
	return []*models.Property{
		prop("Villa A", "Noida", "4 BHK", "Villa", 200, true),
		prop("Studio B", "Noida", "1 RK", "Studio", 50, true),
		prop("Flat C", "Greater Noida", "3 BHK", "Apartment", 120, true),
		prop("Penthouse D", "Gurgaon", "5 BHK", "Penthouse", 300, false),
		prop("Flat E", "Greater Noida", "N/A", "Apartment", 0, true),
		prop("Flat F", "Delhi", "2 BHK", "Apartment", 90, true),
		prop("Flat G", "Delhi", "2 BHK", "Apartment", 95, true),
	}
}

func newInsightService() *InsightService {
	return NewInsightService(utils.NewNopLogger())
}

func TestInsightCounts(t *testing.T) {
	r := newInsightService().Generate(sampleProperties())

	assert.Equal(t, 7, r.TotalProperties)
	assert.Equal(t, 6, r.ScrapedProperties)
	assert.Equal(t, map[string]int{"Noida": 2, "Greater Noida": 2, "Gurgaon": 1, "Delhi": 2}, r.PropertiesByCity)
	assert.Equal(t, map[string]int{"Villa": 1, "Studio": 1, "Apartment": 4, "Penthouse": 1}, r.PropertiesByType)
}

func TestInsightPrices(t *testing.T) {
	r := newInsightService().Generate(sampleProperties())

	assert.Equal(t, 142.5, r.AveragePrice)
	assert.Equal(t, 50.0, r.MinPrice)
	assert.Equal(t, 300.0, r.MaxPrice)
	require.NotNil(t, r.MostExpensive)
	assert.Equal(t, "Penthouse D", r.MostExpensive.Title)
}

func TestInsightLargestByBHK(t *testing.T) {
	r := newInsightService().Generate(sampleProperties())

	var titles []string
	for _, p := range r.LargestByBHK {
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"Penthouse D", "Villa A", "Flat C", "Flat F", "Flat G"}, titles)
}

func TestInsightEmpty(t *testing.T) {
	r := newInsightService().Generate(nil)

	assert.Zero(t, r.TotalProperties)
	assert.Nil(t, r.MostExpensive)
	assert.Empty(t, r.LargestByBHK)
	assert.NotNil(t, r.PropertiesByCity)
}

func TestBedroomCount(t *testing.T) {
	assert.Equal(t, 3, bedroomCount("3 BHK"))
	assert.Equal(t, 2, bedroomCount("2 BEDROOM"))
	assert.Zero(t, bedroomCount("N/A"))
	assert.Zero(t, bedroomCount(""))
}

func TestInsightFprint(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	svc := newInsightService()
	svc.Fprint(&buf, svc.Generate(sampleProperties()))

	out := buf.String()
	assert.Contains(t, out, "PROPERTY INSIGHTS")
	assert.Contains(t, out, "Total properties   : 7")
	assert.Contains(t, out, "Average price : ₹142.50")
	assert.Contains(t, out, "Penthouse D")
	assert.Contains(t, out, "Apartment")
}

func TestInsightFprintEmpty(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	svc := newInsightService()
	svc.Fprint(&buf, svc.Generate(nil))

	assert.Contains(t, buf.String(), "No price data available")
	assert.Contains(t, buf.String(), "No BHK data found")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, 10, len([]rune(truncate("a very long title indeed", 10))))
}
