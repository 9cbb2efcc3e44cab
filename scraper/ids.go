package scraper

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	idParamRegexp = regexp.MustCompile(`id=([0-9a-zA-Z]+)`)
	validIDRegexp = regexp.MustCompile(`^[0-9A-Za-z_]+$`)
)

// ErrInvalidPropertyID is returned when a listing URL yields no safe file stem.
var ErrInvalidPropertyID = errors.New("scraper: url has no usable property id")

// PropertyIDFromURL derives the file stem a scraper uses for a listing page:
// the first id=<alnum> parameter, else the last "-" separated segment of the
// URL cut at the first "&".
func PropertyIDFromURL(pageURL string) string {
	if m := idParamRegexp.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	parts := strings.Split(pageURL, "-")
	last := parts[len(parts)-1]
	if i := strings.Index(last, "&"); i != -1 {
		return last[:i]
	}
	return last
}

// ValidPropertyID reports whether id is safe to use as a file name.
func ValidPropertyID(id string) bool {
	return validIDRegexp.MatchString(id)
}

// PropertyFile returns <dir>/<id>.json for pageURL. Ids with anything but
// letters, digits and underscores are rejected so the path stays inside dir.
func PropertyFile(dir, pageURL string) (string, error) {
	id := PropertyIDFromURL(pageURL)
	if !ValidPropertyID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPropertyID, pageURL)
	}
	return filepath.Join(dir, id+".json"), nil
}
