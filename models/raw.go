package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// PriceKind records which shape the scraped price arrived in.
type PriceKind int

const (
	PriceAbsent PriceKind = iota
	PriceNumber
	PriceText
)

// RawPrice keeps the number/string distinction of a scraped price.
type RawPrice struct {
	Kind   PriceKind
	Number float64
	Text   string
}

// FeaturesKind records which shape the scraped features arrived in.
type FeaturesKind int

const (
	FeaturesAbsent FeaturesKind = iota
	FeaturesList
	FeaturesNested
	FeaturesOther
)

// RawFeatures is either a flat list or the nested {property, society} object.
type RawFeatures struct {
	Kind     FeaturesKind
	List     []string
	Property []string
	// HasPropertyList is false when the nested object has no usable "property" array.
	HasPropertyList bool
	Society         []string
}

// RawRecord is one scraped listing after shape coercion. Scrapers disagree on
// types, so every field is coerced here once; an empty string means the field
// was absent or unusable.
type RawRecord struct {
	Title        string
	PropertyName string
	Description  string
	Price        RawPrice
	Address      string
	Locality     string
	BHK          string
	Area         string
	Features     RawFeatures
	ImageURLs    []string
	DynamicFacts map[string]string
	URL          string
}

// Name returns the listing headline, preferring property_name over title.
func (r *RawRecord) Name() string {
	if r.PropertyName != "" {
		return r.PropertyName
	}
	return r.Title
}

// DecodeRawRecord parses a scraped JSON document. Only a document that is not
// a JSON object is an error; field-level garbage is coerced away.
func DecodeRawRecord(data []byte) (*RawRecord, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("models: decode raw record: %w", err)
	}
	return ParseRawRecord(m), nil
}

// ParseRawRecord coerces an arbitrary decoded JSON object into a RawRecord.
func ParseRawRecord(m map[string]any) *RawRecord {
	r := &RawRecord{
		Title:        scalarString(m["title"]),
		PropertyName: scalarString(m["property_name"]),
		Description:  scalarString(m["description"]),
		Price:        parseRawPrice(m["price"]),
		Address:      scalarString(m["address"]),
		Locality:     scalarString(m["locality"]),
		BHK:          scalarString(m["bhk"]),
		Area:         scalarString(m["area"]),
		Features:     parseRawFeatures(m["features"]),
		URL:          scalarString(m["url"]),
	}

	if list, ok := m["image_urls"].([]any); ok {
		r.ImageURLs = make([]string, 0, len(list))
		for _, v := range list {
			s, _ := v.(string)
			r.ImageURLs = append(r.ImageURLs, s)
		}
	}

	if facts, ok := m["dynamic_facts"].(map[string]any); ok {
		r.DynamicFacts = make(map[string]string, len(facts))
		for k, v := range facts {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				r.DynamicFacts[k] = normalizeSpace(val)
			case bool:
				r.DynamicFacts[k] = strconv.FormatBool(val)
			case float64, json.Number:
				r.DynamicFacts[k] = scalarString(val)
			default:
				if b, err := json.Marshal(val); err == nil {
					r.DynamicFacts[k] = string(b)
				}
			}
		}
	}

	return r
}

func parseRawPrice(v any) RawPrice {
	switch p := v.(type) {
	case float64:
		return RawPrice{Kind: PriceNumber, Number: p}
	case json.Number:
		if f, err := p.Float64(); err == nil {
			return RawPrice{Kind: PriceNumber, Number: f}
		}
		return RawPrice{Kind: PriceText, Text: p.String()}
	case string:
		if p == "" {
			return RawPrice{}
		}
		return RawPrice{Kind: PriceText, Text: p}
	case bool:
		if !p {
			return RawPrice{}
		}
		return RawPrice{Kind: PriceText, Text: "true"}
	}
	return RawPrice{}
}

func parseRawFeatures(v any) RawFeatures {
	switch f := v.(type) {
	case nil:
		return RawFeatures{}
	case []any:
		return RawFeatures{Kind: FeaturesList, List: stringList(f)}
	case map[string]any:
		out := RawFeatures{Kind: FeaturesNested}
		if list, ok := f["property"].([]any); ok {
			out.HasPropertyList = true
			out.Property = stringList(list)
		}
		if list, ok := f["society"].([]any); ok {
			out.Society = stringList(list)
		}
		return out
	}
	return RawFeatures{Kind: FeaturesOther}
}

func stringList(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := scalarString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// scalarString renders strings, numbers and true as text; everything else is "".
func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return normalizeSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		if s {
			return "true"
		}
	}
	return ""
}

// normalizeSpace maps Unicode space separators, line/paragraph separators,
// \v and the BOM to ' ' so the ASCII \s of the extraction patterns sees them.
func normalizeSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\v', r == '\ufeff':
			return ' '
		case r < 0x80:
			return r
		case unicode.In(r, unicode.Zs, unicode.Zl, unicode.Zp):
			return ' '
		}
		return r
	}, s)
}
