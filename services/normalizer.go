package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"property-ingest/models"
)

// Sentinels and fixed defaults of the canonical schema.
const (
	NotAvailable       = "N/A"
	UnknownLocation    = "Unknown Location"
	NoDescription      = "No description available"
	DefaultState       = "Unknown"
	DefaultCountry     = "India"
	FactSociety        = "Society"
	FactPropertyType   = "Property Type"
	FactBathrooms      = "Bathrooms"
	FactAmenities      = "Project Amenities"
	FactAddress        = "Address"
	maxExplicitAreaLen = 50
	minTitleLen        = 5
)

var (
	// priceStripRegexp removes everything but digits and dots before parsing.
	priceStripRegexp = regexp.MustCompile(`[^\d.]`)
	// leadingFloatRegexp mirrors parseFloat: the longest numeric prefix.
	leadingFloatRegexp = regexp.MustCompile(`^(?:\d+\.?\d*|\.\d+)`)
	whitespaceRegexp   = regexp.MustCompile(`\s+`)
	digitRegexp        = regexp.MustCompile(`\d`)

	bhkRegexp      = regexp.MustCompile(`(?i)(\d+)\s*(BHK|Bedroom|RK)`)
	areaRegexp     = regexp.MustCompile(`(?i)(\d+(?:,\d+)?)\s*(sqft|sq\.ft|sq ft|sq yards|gaj)`)
	societyRegexp  = regexp.MustCompile(`(?i)(?:in|at)\s+([A-Za-z0-9\s]+)(?:,|$|Sector|Near)`)
	sectorRegexp   = regexp.MustCompile(`(?i)Sector\s*(\d+[A-Za-z]?)`)
	bathroomRegexp = regexp.MustCompile(`(?i)(\d+)\s*(?:Bath|Bathroom|Washroom)`)
)

// priceMultipliers are checked in order against the lower-cased price text;
// the first entry with a matching substring wins.
var priceMultipliers = []struct {
	substrings []string
	factor     float64
}{
	{[]string{"cr", "crore"}, 10_000_000},
	{[]string{"lac", "lakh"}, 100_000},
	{[]string{"k"}, 1_000},
}

// Normalizer converts raw scraped records into canonical Property records.
// It holds only read-only rule tables and is safe for concurrent use.
type Normalizer struct {
	rules *CompiledRules
}

// NewNormalizer compiles rules and returns a Normalizer using them.
func NewNormalizer(rules Rules) (*Normalizer, error) {
	compiled, err := rules.Compile()
	if err != nil {
		return nil, err
	}
	return &Normalizer{rules: compiled}, nil
}

// NewDefaultNormalizer returns a Normalizer over DefaultRules.
func NewDefaultNormalizer() *Normalizer {
	n, err := NewNormalizer(DefaultRules())
	if err != nil {
		panic(err)
	}
	return n
}

// NormalizeMap coerces a decoded JSON object and normalizes it.
func (n *Normalizer) NormalizeMap(raw map[string]any, source string) *models.Property {
	return n.Normalize(models.ParseRawRecord(raw), source)
}

// Normalize builds the canonical record for raw. It never fails: every
// unusable input degrades to a default or sentinel.
func (n *Normalizer) Normalize(raw *models.RawRecord, source string) *models.Property {
	if raw == nil {
		raw = &models.RawRecord{}
	}

	p := &models.Property{
		State:     DefaultState,
		Country:   DefaultCountry,
		IsScraped: true,
		Source:    source,
		URL:       strings.TrimSpace(raw.URL),
	}

	name := raw.Name()
	combined := name + " " + raw.Description

	p.Description = n.cleanDescription(raw.Description)
	p.Price = ParsePrice(raw.Price)
	p.BHK = extractBHK(raw.BHK, combined)
	p.Area = extractArea(raw.Area, combined)

	p.Address = cleanText(firstNonEmpty(raw.Address, raw.Locality, raw.DynamicFacts[FactAddress]))
	if p.Address == "" {
		p.Address = UnknownLocation
	}
	p.City = n.rules.InferCity(strings.ToLower(p.Address) + " " + strings.ToLower(name))

	p.DynamicFacts = n.filterFacts(raw.DynamicFacts)

	society := n.extractSociety(combined)
	if society != "" {
		p.DynamicFacts[FactSociety] = society
	} else {
		p.DynamicFacts[FactSociety] = NotAvailable
	}

	sector := extractSector(combined)
	if sector != "" && !strings.Contains(p.Address, sector) {
		p.Address = sector + ", " + p.Address
	}

	propertyType := n.rules.PropertyType(combined)
	p.DynamicFacts[FactPropertyType] = propertyType

	if m := bathroomRegexp.FindStringSubmatch(combined); m != nil {
		p.DynamicFacts[FactBathrooms] = m[1]
	}

	p.Title = synthesizeTitle(cleanText(name), p.BHK, propertyType, society, sector, p.City)

	p.Features = normalizeFeatures(raw.Features, p.DynamicFacts)
	p.Images = n.filterImages(raw.ImageURLs)

	return p
}

// ParsePrice converts a scraped price to base currency units. Numbers pass
// through; text is stripped to digits and dots and scaled by the first
// magnitude word it contains. Anything unusable is 0.
func ParsePrice(price models.RawPrice) float64 {
	switch price.Kind {
	case models.PriceNumber:
		if math.IsNaN(price.Number) || math.IsInf(price.Number, 0) || price.Number < 0 {
			return 0
		}
		return price.Number
	case models.PriceText:
		return parsePriceText(price.Text)
	}
	return 0
}

func parsePriceText(text string) float64 {
	digits := leadingFloatRegexp.FindString(priceStripRegexp.ReplaceAllString(text, ""))
	if digits == "" {
		return 0
	}
	num, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(num, 0) {
		return 0
	}

	lower := strings.ToLower(text)
	for _, m := range priceMultipliers {
		for _, s := range m.substrings {
			if strings.Contains(lower, s) {
				return num * m.factor
			}
		}
	}
	return num
}

// cleanDescription cuts the text at each boundary marker in list order, each
// cut applied to the already shortened text.
func (n *Normalizer) cleanDescription(text string) string {
	if text == "" {
		return NoDescription
	}
	for _, marker := range n.rules.DescriptionMarkers {
		if idx := strings.Index(text, marker); idx != -1 {
			text = text[:idx]
		}
	}
	if cleaned := cleanText(text); cleaned != "" {
		return cleaned
	}
	return NoDescription
}

func extractBHK(explicit, combined string) string {
	if strings.TrimSpace(explicit) != "" {
		return cleanText(explicit)
	}
	if m := bhkRegexp.FindStringSubmatch(combined); m != nil {
		return m[1] + " " + strings.ToUpper(m[2])
	}
	return NotAvailable
}

// extractArea keeps an explicit area unless it looks like scraped prose.
func extractArea(explicit, combined string) string {
	if explicit != "" && utf8.RuneCountInString(explicit) <= maxExplicitAreaLen && digitRegexp.MatchString(explicit) {
		if cleaned := cleanText(explicit); cleaned != "" {
			return cleaned
		}
	}
	if m := areaRegexp.FindStringSubmatch(combined); m != nil {
		return cleanText(m[1] + " " + m[2])
	}
	return NotAvailable
}

func (n *Normalizer) extractSociety(combined string) string {
	m := societyRegexp.FindStringSubmatch(combined)
	if m == nil {
		return ""
	}
	candidate := strings.TrimSpace(m[1])
	if candidate == "" || n.rules.ExcludesSociety(candidate) {
		return ""
	}
	return candidate
}

func extractSector(combined string) string {
	if m := sectorRegexp.FindStringSubmatch(combined); m != nil {
		return "Sector " + m[1]
	}
	return ""
}

func synthesizeTitle(title, bhk, propertyType, society, sector, city string) string {
	if society != "" || sector != "" {
		loc := society
		if loc == "" {
			loc = sector
		}
		bhkPart := ""
		if bhk != NotAvailable {
			bhkPart = bhk + " "
		}
		out := bhkPart + propertyType + " in " + loc
		if society != "" && sector != "" {
			out += ", " + sector
		}
		return out
	}
	if utf8.RuneCountInString(title) < minTitleLen {
		lead := "Property"
		if bhk != NotAvailable {
			lead = bhk
		}
		return lead + " for Sale in " + city
	}
	return title
}

// filterFacts copies raw facts minus anything the junk rules reject.
func (n *Normalizer) filterFacts(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw)+4)
	for k, v := range raw {
		if n.rules.IsJunkFact(k, v) {
			continue
		}
		out[k] = v
	}
	return out
}

func normalizeFeatures(f models.RawFeatures, facts map[string]string) []string {
	features := []string{}
	switch f.Kind {
	case models.FeaturesList:
		features = append(features, f.List...)
	case models.FeaturesNested:
		if f.HasPropertyList {
			features = append(features, f.Property...)
		}
		if len(f.Society) > 0 {
			facts[FactAmenities] = strings.Join(f.Society, ", ")
		}
	}
	return features
}

func (n *Normalizer) filterImages(urls []string) []string {
	images := []string{}
	for _, u := range urls {
		if n.rules.KeepImage(u) {
			images = append(images, u)
		}
	}
	return images
}

// cleanText trims and collapses internal whitespace runs to one space.
func cleanText(s string) string {
	return whitespaceRegexp.ReplaceAllString(strings.TrimSpace(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
