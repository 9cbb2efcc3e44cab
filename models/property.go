package models

import "time"

// Property is the canonical listing record every downstream consumer relies on.
// All documented fields are always populated; missing data is expressed with
// sentinels rather than zero values.
type Property struct {
	ID           string            `json:"id,omitempty" bson:"-"`
	Title        string            `json:"title" bson:"title"`
	Description  string            `json:"description" bson:"description"`
	Price        float64           `json:"price" bson:"price"`
	Address      string            `json:"address" bson:"address"`
	City         string            `json:"city" bson:"city"`
	State        string            `json:"state" bson:"state"`
	Country      string            `json:"country" bson:"country"`
	BHK          string            `json:"bhk" bson:"bhk"`
	Area         string            `json:"area" bson:"area"`
	Features     []string          `json:"features" bson:"features"`
	Images       []string          `json:"images" bson:"images"`
	DynamicFacts map[string]string `json:"dynamic_facts" bson:"dynamic_facts"`
	IsScraped    bool              `json:"isScraped" bson:"isScraped"`
	Source       string            `json:"source" bson:"source"`

	// Set by the ingest caller, not by normalization.
	URL       string     `json:"url,omitempty" bson:"url,omitempty"`
	Keywords  []string   `json:"keywords,omitempty" bson:"keywords,omitempty"`
	IngestRun string     `json:"ingest_run,omitempty" bson:"ingest_run,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty" bson:"created_at,omitempty"`
}

// IngestReport summarises one batch ingest or import run.
type IngestReport struct {
	RunID           string
	Keyword         string
	Cached          bool
	Deleted         int
	FilesSeen       int
	FilesStale      int
	FilesFailed     int
	Normalized      int
	Duplicates      int
	SkippedNoImages int
	Inserted        int
	Skipped         int
	InsertFailures  int
	ScraperFailures int
	Properties      []*Property
}

// InsightReport holds the computed analytics over stored properties.
type InsightReport struct {
	TotalProperties   int
	ScrapedProperties int
	AveragePrice      float64
	MinPrice          float64
	MaxPrice          float64
	MostExpensive     *Property
	LargestByBHK      []*Property
	PropertiesByCity  map[string]int
	PropertiesByType  map[string]int
}
