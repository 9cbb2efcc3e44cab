package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"property-ingest/models"
	"property-ingest/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(props []*models.Property) *models.InsightReport {
	report := &models.InsightReport{
		PropertiesByCity: make(map[string]int),
		PropertiesByType: make(map[string]int),
	}

	if len(props) == 0 {
		return report
	}

	report.TotalProperties = len(props)

	var priced []*models.Property
	var sized []*models.Property

	for _, p := range props {
		if p.IsScraped {
			report.ScrapedProperties++
		}
		if p.Price > 0 {
			priced = append(priced, p)
		}
		if bedroomCount(p.BHK) > 0 {
			sized = append(sized, p)
		}
		if p.City != "" {
			report.PropertiesByCity[p.City]++
		}
		if t := p.DynamicFacts[FactPropertyType]; t != "" {
			report.PropertiesByType[t]++
		}
	}

	// Price stats (only properties with price > 0)
	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = priced[0]
		var total float64
		for _, p := range priced {
			total += p.Price
			if p.Price < report.MinPrice {
				report.MinPrice = p.Price
			}
			if p.Price > report.MaxPrice {
				report.MaxPrice = p.Price
				report.MostExpensive = p
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	// Top 5 by bedroom count
	sort.SliceStable(sized, func(i, j int) bool {
		return bedroomCount(sized[i].BHK) > bedroomCount(sized[j].BHK)
	})
	if len(sized) > 5 {
		report.LargestByBHK = sized[:5]
	} else {
		report.LargestByBHK = sized
	}

	s.logger.Debug("[insights] %d properties, %d priced, %d with BHK", len(props), len(priced), len(sized))
	return report
}

// Print writes the coloured report to stdout.
func (s *InsightService) Print(r *models.InsightReport) {
	s.Fprint(os.Stdout, r)
}

func (s *InsightService) Fprint(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	banner := color.New(color.FgMagenta, color.Bold)
	heading := color.New(color.FgYellow, color.Bold)
	bold := color.New(color.Bold)
	money := color.New(color.FgGreen, color.Bold)

	banner.Fprintf(w, "\n%s\n", sep)
	banner.Fprintf(w, "  📊 PROPERTY INSIGHTS\n")
	banner.Fprintf(w, "%s\n\n", sep)

	heading.Fprintf(w, "  Overview\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total properties   : %s\n", bold.Sprint(r.TotalProperties))
	fmt.Fprintf(w, "  Scraped properties : %s\n", bold.Sprint(r.ScrapedProperties))
	fmt.Fprintln(w)

	heading.Fprintf(w, "  Price Statistics\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : %s\n", money.Sprintf("₹%.2f", r.AveragePrice))
		fmt.Fprintf(w, "  Minimum price : %s\n", money.Sprintf("₹%.2f", r.MinPrice))
		fmt.Fprintf(w, "  Maximum price : %s\n", money.Sprintf("₹%.2f", r.MaxPrice))
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		heading.Fprintf(w, "  Most Expensive Property\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Address : %s\n", r.MostExpensive.Address)
		fmt.Fprintf(w, "  Price   : %s\n", color.New(color.FgRed, color.Bold).Sprintf("₹%.2f", r.MostExpensive.Price))
		fmt.Fprintln(w)
	}

	heading.Fprintf(w, "  Top 5 Largest by BHK\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.LargestByBHK) == 0 {
		fmt.Fprintf(w, "  No BHK data found\n")
	} else {
		for i, p := range r.LargestByBHK {
			fmt.Fprintf(w, "  %s %-40s %s\n", bold.Sprintf("%d.", i+1), truncate(p.Title, 38), money.Sprint(p.BHK))
		}
	}
	fmt.Fprintln(w)

	printCounts(w, heading, thin, "Properties by City", r.PropertiesByCity)
	printCounts(w, heading, thin, "Properties by Type", r.PropertiesByType)

	banner.Fprintf(w, "\n%s\n\n", sep)
}

func printCounts(w io.Writer, heading *color.Color, thin, title string, counts map[string]int) {
	heading.Fprintf(w, "  %s\n", title)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n")
		fmt.Fprintln(w)
		return
	}

	type keyCount struct {
		key   string
		count int
	}
	var rows []keyCount
	for k, n := range counts {
		rows = append(rows, keyCount{k, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, row := range rows {
		bar := strings.Repeat("█", min(row.count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(row.key, 28), bar, row.count)
	}
	fmt.Fprintln(w)
}

// bedroomCount reads the leading integer of a BHK label, 0 when unknown.
func bedroomCount(bhk string) int {
	fields := strings.Fields(bhk)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
