package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRulesOverridesListedSections(t *testing.T) {
	path := writeRules(t, `
default_city: Noida
cities:
  - city: Pune
    match: [pune, hinjewadi]
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)

	compiled, err := rules.Compile()
	require.NoError(t, err)

	assert.Equal(t, "Pune", compiled.InferCity("flat in hinjewadi phase 1"))
	assert.Equal(t, "Noida", compiled.InferCity("greater noida west"))
	assert.Equal(t, "Noida", compiled.InferCity("bandra, mumbai"))

	defaults := DefaultRules()
	assert.Equal(t, defaults.PropertyTypes, rules.PropertyTypes)
	assert.Equal(t, defaults.DescriptionMarkers, rules.DescriptionMarkers)
	assert.Equal(t, defaults.ImageJunkKeywords, rules.ImageJunkKeywords)
}

func TestLoadRulesDrivesNormalizer(t *testing.T) {
	path := writeRules(t, `
image_junk_keywords: [watermark]
property_types:
  - type: Farmhouse
    pattern: farm\s*house
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	n, err := NewNormalizer(rules)
	require.NoError(t, err)

	p := n.NormalizeMap(map[string]any{
		"title":      "Quiet farm house with orchard",
		"image_urls": []any{"https://x/microwave.jpg", "https://x/watermark.jpg"},
	}, SourceScraper)

	assert.Equal(t, "Farmhouse", p.DynamicFacts[FactPropertyType])
	assert.Equal(t, []string{"https://x/microwave.jpg"}, p.Images)
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	path := writeRules(t, `
property_types:
  - type: Broken
    pattern: "("
`)

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `rules: property type "Broken"`)
}

func TestLoadRulesErrors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadRules(writeRules(t, "cities: [unterminated"))
	assert.ErrorContains(t, err, "rules: parse")
}

func TestCompileRejectsBadJunkPattern(t *testing.T) {
	rules := DefaultRules()
	rules.JunkFactPatterns = append(rules.JunkFactPatterns, "[")

	_, err := rules.Compile()
	assert.ErrorContains(t, err, "junk fact pattern")
}

func TestExcludesSocietyIncludesDefaultCity(t *testing.T) {
	rules := DefaultRules()
	rules.DefaultCity = "Pune"
	rules.SocietyExclusions = nil

	compiled, err := rules.Compile()
	require.NoError(t, err)

	assert.True(t, compiled.ExcludesSociety("Pune Heights"))
	assert.False(t, compiled.ExcludesSociety("Gaur City"))
}

func TestKeepImage(t *testing.T) {
	compiled, err := DefaultRules().Compile()
	require.NoError(t, err)

	assert.True(t, compiled.KeepImage("https://img.example.com/a"))
	assert.True(t, compiled.KeepImage("room.JPEG"))
	assert.False(t, compiled.KeepImage("room.gif"))
	assert.False(t, compiled.KeepImage("https://img.example.com/LOGO.png"))
	assert.False(t, compiled.KeepImage(""))
}
