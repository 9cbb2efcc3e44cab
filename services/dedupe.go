package services

import (
	"strconv"

	"property-ingest/models"
	"property-ingest/utils"
)

// Deduper drops in-batch duplicates by composite key, keeping the first.
type Deduper struct {
	logger *utils.Logger
}

// NewDeduper creates a Deduper with the given logger.
func NewDeduper(logger *utils.Logger) *Deduper {
	return &Deduper{logger: logger}
}

// DedupeKey is "title-address-price" with the price in shortest decimal form,
// so 45000 and 45000.0 collide while 1.5 stays "1.5".
func DedupeKey(p *models.Property) string {
	return p.Title + "-" + p.Address + "-" + strconv.FormatFloat(p.Price, 'f', -1, 64)
}

// Dedupe returns the records whose key has not been seen earlier in the slice,
// preserving input order, and the number dropped.
func (d *Deduper) Dedupe(props []*models.Property) ([]*models.Property, int) {
	seen := utils.NewKeySet()
	result := make([]*models.Property, 0, len(props))

	for _, p := range props {
		if p == nil {
			continue
		}
		key := DedupeKey(p)
		if !seen.Add(key) {
			d.logger.Debug("[dedupe] Duplicate skipped: %s", key)
			continue
		}
		result = append(result, p)
	}

	dropped := len(props) - len(result)
	if dropped > 0 {
		d.logger.Info("[dedupe] %d → %d properties (dropped %d duplicates)", len(props), len(result), dropped)
	}
	return result, dropped
}
