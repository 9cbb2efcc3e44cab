package services

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// CityRule maps any of its lower-case match substrings to City.
type CityRule struct {
	City  string   `yaml:"city"`
	Match []string `yaml:"match"`
}

// PropertyTypeRule assigns Type when Pattern matches (case-insensitive).
type PropertyTypeRule struct {
	Type    string `yaml:"type"`
	Pattern string `yaml:"pattern"`
}

// Rules holds every table the Normalizer consults. Order is significant in
// Cities, PropertyTypes and DescriptionMarkers: earlier entries win.
type Rules struct {
	DefaultCity         string             `yaml:"default_city"`
	Cities              []CityRule         `yaml:"cities"`
	SocietyExclusions   []string           `yaml:"society_exclusions"`
	DefaultPropertyType string             `yaml:"default_property_type"`
	PropertyTypes       []PropertyTypeRule `yaml:"property_types"`
	DescriptionMarkers  []string           `yaml:"description_markers"`
	JunkFactKeys        []string           `yaml:"junk_fact_keys"`
	JunkFactPatterns    []string           `yaml:"junk_fact_patterns"`
	ReviewerMarkers     []string           `yaml:"reviewer_markers"`
	ImageExtensions     []string           `yaml:"image_extensions"`
	ImageJunkKeywords   []string           `yaml:"image_junk_keywords"`
}

// DefaultRules returns the built-in tables tuned for MagicBricks and 99acres pages.
func DefaultRules() Rules {
	return Rules{
		DefaultCity: "Greater Noida",
		// Most specific first: "greater noida" also contains "noida".
		Cities: []CityRule{
			{City: "Greater Noida", Match: []string{"greater noida"}},
			{City: "Noida", Match: []string{"noida"}},
			{City: "Delhi", Match: []string{"delhi", "new delhi"}},
			{City: "Gurgaon", Match: []string{"gurgaon", "gurugram"}},
			{City: "Ghaziabad", Match: []string{"ghaziabad"}},
		},
		SocietyExclusions:   []string{"greater noida", "noida"},
		DefaultPropertyType: "Apartment",
		PropertyTypes: []PropertyTypeRule{
			{Type: "Villa", Pattern: `Villa`},
			{Type: "Plot", Pattern: `Plot|Land`},
			{Type: "Independent Floor", Pattern: `Floor`},
			{Type: "Studio", Pattern: `Studio`},
			{Type: "Penthouse", Pattern: `Penthouse`},
		},
		DescriptionMarkers: []string{
			"Flats near Sector",
			"Popular Localities",
			"Property Options",
			"Quick Area Conversions",
			"State specific Area Units",
			"Links",
			"Company",
			"Our Partners",
			"CONTACT US",
			"Read more",
			"Flats for rent in",
		},
		JunkFactKeys: []string{
			"Home Loans", "Real Estate Articles", "Latest News", "About Us",
			"Get HelpCustomer Services & FAQs", "Why you should consider this property?",
			"Key Highlightsof the property", "Key Highlights", "Average Rating",
			"Positives", "Negatives", "Quick Area Conversions", "State specific Area Units",
			"Links", "Company", "Our Partners", "CONTACT US",
			"1", "2", "3", "4", "5",
		},
		JunkFactPatterns: []string{
			`^Flats near`, `^Popular Localities`, `^Property Options`,
			`.* nearby listings$`, `^About `, `^Reviews of`,
			`^Property Rates in`, `^Rent .* Flat in`,
		},
		ReviewerMarkers: []string{"Owner |", "Agent |"},
		ImageExtensions: []string{".jpg", ".jpeg", ".png", ".webp"},
		ImageJunkKeywords: []string{
			"nnares_logo", "nearMe", "mic", "VoiceSearch", "BlueHeart",
			"Shortlisted", "muteIcon", "landmarkGroup", "dealer",
			"projectnoimage", "Shortlist", "request-photo", "videoCam",
			"loader", "icon", "logo", "placeholder", "pixel",
		},
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. Sections present in
// the file replace the defaults wholesale; absent sections are kept.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("rules: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("rules: parse %q: %w", path, err)
	}
	if _, err := rules.Compile(); err != nil {
		return rules, err
	}
	return rules, nil
}

type typeMatcher struct {
	name string
	re   *regexp.Regexp
}

// CompiledRules is the read-only, match-ready form of Rules.
type CompiledRules struct {
	Rules

	propertyTypes     []typeMatcher
	junkKeys          map[string]struct{}
	junkPatterns      []*regexp.Regexp
	imageExtensions   []string
	imageJunkKeywords []string
	societyExclusions []string
}

// Compile validates the rule patterns and prepares lookup structures.
func (r Rules) Compile() (*CompiledRules, error) {
	c := &CompiledRules{
		Rules:    r,
		junkKeys: make(map[string]struct{}, len(r.JunkFactKeys)),
	}

	for _, pt := range r.PropertyTypes {
		re, err := regexp.Compile("(?i)" + pt.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: property type %q: %w", pt.Type, err)
		}
		c.propertyTypes = append(c.propertyTypes, typeMatcher{name: pt.Type, re: re})
	}

	for _, k := range r.JunkFactKeys {
		c.junkKeys[k] = struct{}{}
	}

	for _, p := range r.JunkFactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("rules: junk fact pattern %q: %w", p, err)
		}
		c.junkPatterns = append(c.junkPatterns, re)
	}

	for _, ext := range r.ImageExtensions {
		c.imageExtensions = append(c.imageExtensions, strings.ToLower(ext))
	}
	for _, kw := range r.ImageJunkKeywords {
		c.imageJunkKeywords = append(c.imageJunkKeywords, strings.ToLower(kw))
	}

	c.societyExclusions = append(c.societyExclusions, strings.ToLower(r.DefaultCity))
	for _, ex := range r.SocietyExclusions {
		c.societyExclusions = append(c.societyExclusions, strings.ToLower(ex))
	}

	return c, nil
}

// IsJunkFact reports whether a dynamic fact is site chrome rather than a
// property attribute.
func (c *CompiledRules) IsJunkFact(key, value string) bool {
	if _, ok := c.junkKeys[key]; ok {
		return true
	}
	for _, re := range c.junkPatterns {
		if re.MatchString(key) {
			return true
		}
	}
	for _, marker := range c.ReviewerMarkers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}

// InferCity returns the first city whose match text occurs in lowerText.
func (c *CompiledRules) InferCity(lowerText string) string {
	for _, rule := range c.Cities {
		for _, m := range rule.Match {
			if strings.Contains(lowerText, m) {
				return rule.City
			}
		}
	}
	return c.DefaultCity
}

// PropertyType returns the first type whose pattern matches text.
func (c *CompiledRules) PropertyType(text string) string {
	for _, pt := range c.propertyTypes {
		if pt.re.MatchString(text) {
			return pt.name
		}
	}
	return c.DefaultPropertyType
}

// ExcludesSociety reports whether a society candidate is really a city mention.
func (c *CompiledRules) ExcludesSociety(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, ex := range c.societyExclusions {
		if ex != "" && strings.Contains(lower, ex) {
			return true
		}
	}
	return false
}

// KeepImage applies the extension/http test and the junk keyword filter.
func (c *CompiledRules) KeepImage(img string) bool {
	if img == "" {
		return false
	}
	lower := strings.ToLower(img)

	hasExt := false
	for _, ext := range c.imageExtensions {
		if strings.Contains(lower, ext) {
			hasExt = true
			break
		}
	}
	if !hasExt && !strings.HasPrefix(lower, "http") {
		return false
	}

	for _, kw := range c.imageJunkKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}
