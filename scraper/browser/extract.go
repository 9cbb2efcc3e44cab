package browser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"property-ingest/scraper"
)

// Record is the raw JSON document written for one listing page. Its field
// names are the ones the normalizer reads.
type Record struct {
	PropertyID   string            `json:"property_id"`
	PropertyName string            `json:"property_name,omitempty"`
	URL          string            `json:"url"`
	BHK          string            `json:"bhk,omitempty"`
	Price        string            `json:"price,omitempty"`
	Locality     string            `json:"locality,omitempty"`
	Address      string            `json:"address,omitempty"`
	Description  string            `json:"description,omitempty"`
	Area         string            `json:"area,omitempty"`
	ImageURLs    []string          `json:"image_urls"`
	Features     Features          `json:"features"`
	DynamicFacts map[string]string `json:"dynamic_facts"`
	MetaData     map[string]string `json:"meta_data,omitempty"`
	ScrapedAt    time.Time         `json:"scraped_at"`
}

// Features splits amenities into flat-level and society-level lists.
type Features struct {
	Property []string `json:"property"`
	Society  []string `json:"society"`
}

const maxFactKeyLen = 50

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	bhkRe        = regexp.MustCompile(`(?i)(\d+)\s*BHK`)
	rupeePriceRe = regexp.MustCompile(`(?i)₹\s*([\d,]+\s*(?:Cr|Lac|Lakh|Crore)?)`)

	// textFacts are mined from the page text when no labelled element
	// provided them.
	textFacts = []struct {
		label string
		re    *regexp.Regexp
	}{
		{"Super Area", regexp.MustCompile(`(?i)Super Area[:\s]*([\d,]+\s*sq\.?ft\.?)`)},
		{"Carpet Area", regexp.MustCompile(`(?i)Carpet Area[:\s]*([\d,]+\s*sq\.?ft\.?)`)},
		{"Bathrooms", regexp.MustCompile(`(?i)(\d+)\s*Bath(?:room)?s?`)},
		{"Balcony", regexp.MustCompile(`(?i)(\d+)\s*Balcon(?:y|ies)`)},
	}

	imageHints     = []string{".jpg", ".jpeg", ".png", ".webp", "img", "photo"}
	imageRejectors = []string{"icon", "logo", "svg", "button"}
)

// Extract parses a rendered listing page. contentType drives charset
// detection; pageURL is recorded and used to derive the property id.
func Extract(r io.Reader, contentType, pageURL string) (*Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("browser: read page: %w", err)
	}

	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("browser: decode page: %w", err)
		}
		utf8data = data
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8data))
	if err != nil {
		return nil, fmt.Errorf("browser: parse page: %w", err)
	}

	meta := metaTags(doc)
	doc.Find("script,noscript,style").Remove()
	fullText := clean(doc.Find("body").Text())

	rec := &Record{
		PropertyID:   scraper.PropertyIDFromURL(pageURL),
		URL:          pageURL,
		PropertyName: firstText(doc, "h1.mb-pd__title"),
		Price:        firstText(doc, "#pdPrice2", "span.mb-pd__price"),
		Locality:     firstText(doc, "span.mb-pd__loc__name"),
		Address:      firstText(doc, "span.mb-pd__dtls__address"),
		Description:  firstText(doc, "div.mb-ldp__more-dtl__description--content"),
		Area:         firstText(doc, "#superbuiltupArea_span", "#carpetArea_span"),
		BHK:          firstText(doc, "span#pdConfig"),
		ImageURLs:    imageURLs(doc),
		Features: Features{
			Property: listItems(doc, "ul.mb-pd__amenitiesList li"),
			Society:  listItems(doc, "ul.mb-pd__societyAmenityList li"),
		},
		DynamicFacts: labelledFacts(doc),
		MetaData:     meta,
		ScrapedAt:    time.Now().UTC(),
	}

	if rec.PropertyName == "" {
		rec.PropertyName = meta["og:title"]
	}
	if rec.PropertyName == "" {
		rec.PropertyName = firstText(doc, "h1")
	}
	if rec.Description == "" {
		rec.Description = meta["description"]
	}
	if rec.Description == "" {
		rec.Description = meta["og:description"]
	}
	if society := firstText(doc, "a.mb-ldp__about-proj__projname"); society != "" {
		rec.DynamicFacts["Society"] = society
	}

	for _, f := range textFacts {
		if _, ok := rec.DynamicFacts[f.label]; ok {
			continue
		}
		if m := f.re.FindStringSubmatch(fullText); m != nil {
			rec.DynamicFacts[f.label] = strings.TrimSpace(m[1])
		}
	}

	if rec.Price == "" {
		if m := rupeePriceRe.FindStringSubmatch(fullText); m != nil {
			rec.Price = strings.TrimSpace(m[1])
		}
	}
	if rec.Area == "" {
		if v := rec.DynamicFacts["Super Area"]; v != "" {
			rec.Area = v
		} else {
			rec.Area = rec.DynamicFacts["Carpet Area"]
		}
	}
	if rec.BHK == "" {
		if m := bhkRe.FindStringSubmatch(rec.PropertyName); m != nil {
			rec.BHK = m[1] + " BHK"
		} else if m := bhkRe.FindStringSubmatch(fullText); m != nil {
			rec.BHK = m[1] + " BHK"
		}
	}

	return rec, nil
}

func metaTags(doc *goquery.Document) map[string]string {
	meta := map[string]string{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if name == "" {
			name = s.AttrOr("property", "")
		}
		if content := strings.TrimSpace(s.AttrOr("content", "")); name != "" && content != "" {
			meta[name] = content
		}
	})
	return meta
}

// labelledFacts pairs every label/title element with its next sibling's text.
func labelledFacts(doc *goquery.Document) map[string]string {
	facts := map[string]string{}
	doc.Find("div[class], span[class]").Each(func(_ int, s *goquery.Selection) {
		if !hasLabelClass(s.AttrOr("class", "")) {
			return
		}
		key := clean(s.Text())
		if key == "" || utf8.RuneCountInString(key) > maxFactKeyLen {
			return
		}
		if value := clean(s.Next().Text()); value != "" {
			facts[key] = value
		}
	})
	return facts
}

func hasLabelClass(class string) bool {
	for _, c := range strings.Fields(strings.ToLower(class)) {
		if strings.Contains(c, "label") || strings.Contains(c, "title") {
			return true
		}
	}
	return false
}

func imageURLs(doc *goquery.Document) []string {
	seen := map[string]struct{}{}
	urls := []string{}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			src = s.AttrOr("data-src", "")
		}
		if !strings.HasPrefix(src, "http") {
			return
		}
		lower := strings.ToLower(src)
		if !containsAny(lower, imageHints) || containsAny(lower, imageRejectors) {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	})
	return urls
}

func listItems(doc *goquery.Document, selector string) []string {
	items := []string{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := clean(s.Text()); text != "" {
			items = append(items, text)
		}
	})
	return items
}

// firstText returns the text of the first selector that matches non-empty.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := clean(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clean(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
