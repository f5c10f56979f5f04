// Package scrapeurl builds and parses target-site fragrance URLs and
// normalizes raw URL slugs into display names.
package scrapeurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// detail pages look like <base>/Perfumes/<brand>/<name>.
const perfumesSegment = "Perfumes"

// ParseFragranceURL extracts the raw brand and name slugs from a fragrance
// detail URL.
func ParseFragranceURL(raw string) (brand, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	idx := -1
	for i, part := range parts {
		if part == perfumesSegment {
			idx = i
			break
		}
	}
	if idx < 0 || idx+2 >= len(parts) {
		return "", "", fmt.Errorf("not a fragrance detail URL: %s", raw)
	}

	brand = parts[idx+1]
	name = parts[idx+2]
	if brand == "" || name == "" {
		return "", "", fmt.Errorf("not a fragrance detail URL: %s", raw)
	}
	return brand, name, nil
}

// BuildFragranceURL constructs the canonical detail URL for a fragrance.
func BuildFragranceURL(base, brandSlug, nameSlug string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(base, "/"), perfumesSegment, brandSlug, nameSlug)
}

// BuildSearchURL constructs the site search URL for a free-text query.
func BuildSearchURL(base, query string) string {
	return fmt.Sprintf("%s/s_perfumes_x.php?in=1&filter=%s",
		strings.TrimRight(base, "/"), url.QueryEscape(query))
}

// Slugify converts a display name into a URL slug.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}

var slugSeparators = regexp.MustCompile(`[-_+.]+`)

var trailingYear = regexp.MustCompile(`\s+(\d{4})$`)

// concentrationSuffixes are stripped from the end of a normalized name,
// longest first so multi-word forms win over their abbreviations.
var concentrationSuffixes = []string{
	"extrait de parfum",
	"eau de parfum intense",
	"eau de toilette",
	"eau de parfum",
	"eau de cologne",
	"eau fraiche",
	"extrait",
	"elixir",
	"cologne",
	"parfum",
	"edt",
	"edp",
	"edc",
}

// NormalizeSlug turns a raw URL slug into a display name plus an optional
// release year. Separators become spaces, a trailing 4-digit token in the
// plausible range is lifted out as the year, known concentration suffixes
// are stripped and each remaining word is title-cased. The routine is a
// fixed point: normalizing an already-normalized name changes nothing.
func NormalizeSlug(slug string) (string, int) {
	name := slugSeparators.ReplaceAllString(slug, " ")
	name = strings.TrimSpace(name)

	year := 0
	if m := trailingYear.FindStringSubmatch(name); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil && plausibleYear(y) {
			year = y
			name = strings.TrimSpace(strings.TrimSuffix(name, m[0]))
		}
	}

	// Strip until no suffix matches so the routine stays a fixed point
	// even for names carrying stacked concentration tokens.
	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(name)
		for _, suffix := range concentrationSuffixes {
			if strings.HasSuffix(lower, " "+suffix) {
				name = strings.TrimSpace(name[:len(name)-len(suffix)-1])
				stripped = true
				break
			}
		}
	}

	return titleCase(name), year
}

func plausibleYear(y int) bool {
	return y >= 1800 && y <= time.Now().Year()+1
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
