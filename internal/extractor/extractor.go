// Package extractor converts raw fragrance-page markup into typed records.
// Every field routine tries the most structured signal first and degrades
// through free-text regexes; a field that resists all strategies is absent,
// never an error. Only missing identity (brand/name) fails the operation,
// and identity comes from the request URL rather than the markup.
package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/models"
)

type Extractor struct {
	genderPatterns   []*regexp.Regexp
	rankPattern      *regexp.Regexp
	perfumerPatterns []*regexp.Regexp
	notesPatterns    map[string]*regexp.Regexp
}

func New() *Extractor {
	return &Extractor{
		genderPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)perfume for (women and men|men and women|unisex)`),
			regexp.MustCompile(`(?i)perfume for (women|ladies)`),
			regexp.MustCompile(`(?i)perfume for (men|gentlemen)`),
		},
		rankPattern: regexp.MustCompile(`(?i)ranked\s+#?(\d+)\s+in\s+([A-Za-z'’\s]+?)(?:\.|$|\s{2})`),
		perfumerPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)perfumer:?\s*([A-ZÀ-Þ][\p{L}.\-]+(?:\s+[A-ZÀ-Þ][\p{L}.\-]+){0,3})`),
			regexp.MustCompile(`(?i)created by\s+([A-ZÀ-Þ][\p{L}.\-]+(?:\s+[A-ZÀ-Þ][\p{L}.\-]+){0,3})`),
		},
		notesPatterns: map[string]*regexp.Regexp{
			"t": regexp.MustCompile(`(?i)top notes?:?\s*([^\n<]+)`),
			"m": regexp.MustCompile(`(?i)(?:heart|middle) notes?:?\s*([^\n<]+)`),
			"b": regexp.MustCompile(`(?i)base notes?:?\s*([^\n<]+)`),
		},
	}
}

// Extract parses one detail page into a record. brand and name come from
// the request URL; html is the rendered markup.
func (e *Extractor) Extract(html, brand, name string, year int, url string) (*models.Fragrance, error) {
	if brand == "" || name == "" {
		return nil, apperrors.Validation("brand and name are required")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.Scraper("failed to parse markup", err)
	}
	text := doc.Text()

	f := models.NewFragrance(brand, name, year, url)

	f.Rating = extractRating(doc, text, ratingDimensions[0])
	f.Longevity = extractRating(doc, text, ratingDimensions[1])
	f.Sillage = extractRating(doc, text, ratingDimensions[2])
	f.Bottle = extractRating(doc, text, ratingDimensions[3])
	f.PriceValue = extractRating(doc, text, ratingDimensions[4])

	f.Gender = e.extractGender(doc, text)
	f.Description = e.extractDescription(doc)
	f.TopNotes = e.extractNotes(doc, text, "t")
	f.MiddleNotes = e.extractNotes(doc, text, "m")
	f.BaseNotes = e.extractNotes(doc, text, "b")
	f.MainAccords = e.extractAccords(doc)
	f.RankPosition, f.RankCategory = e.extractRank(doc, text)
	f.PerfumerName = e.extractPerfumer(doc, text)
	f.ImageURL = e.extractImage(doc)
	f.SimilarFragrances = e.extractSimilar(doc)

	return f, nil
}

func (e *Extractor) extractGender(doc *goquery.Document, text string) string {
	// Structured: dedicated gender marker element.
	marker := strings.TrimSpace(doc.Find("span.gender, [itemprop=gender], .p_gender").First().Text())
	if g := classifyGender(marker); g != "" {
		return g
	}

	for _, pattern := range e.genderPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if g := classifyGender(m[1]); g != "" {
				return g
			}
		}
	}
	return ""
}

func classifyGender(s string) string {
	s = strings.ToLower(s)
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "unisex"),
		strings.Contains(s, "women and men"),
		strings.Contains(s, "men and women"):
		return "unisex"
	case strings.Contains(s, "women"), strings.Contains(s, "ladies"), strings.Contains(s, "female"):
		return "female"
	case strings.Contains(s, "men"), strings.Contains(s, "gentlemen"), strings.Contains(s, "male"):
		return "male"
	default:
		return ""
	}
}

func (e *Extractor) extractDescription(doc *goquery.Document) string {
	for _, selector := range []string{`[itemprop=description]`, ".p_details_desc", ".fragrance-description"} {
		if desc := strings.TrimSpace(doc.Find(selector).First().Text()); desc != "" {
			return desc
		}
	}
	if content, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// extractNotes reads the notes for one pyramid position. The position
// marker ("t", "m", "b") is carried by a data attribute on each note
// element; free text like "Top Notes: bergamot, lemon" is the fallback.
func (e *Extractor) extractNotes(doc *goquery.Document, text, position string) []string {
	var notes []string
	doc.Find(`[data-nt=` + position + `]`).Each(func(_ int, s *goquery.Selection) {
		note := strings.TrimSpace(s.Text())
		if note == "" {
			note, _ = s.Attr("data-name")
		}
		if note != "" {
			notes = append(notes, note)
		}
	})
	if len(notes) > 0 {
		return dedupe(notes)
	}

	if m := e.notesPatterns[position].FindStringSubmatch(text); m != nil {
		return splitList(m[1])
	}
	return nil
}

func (e *Extractor) extractAccords(doc *goquery.Document) []string {
	var accords []string
	doc.Find(".accord-bar, [class*=accord] .text, .s-circle-name").Each(func(_ int, s *goquery.Selection) {
		if a := strings.TrimSpace(s.Text()); a != "" {
			accords = append(accords, a)
		}
	})
	return dedupe(accords)
}

func (e *Extractor) extractRank(doc *goquery.Document, text string) (int, string) {
	// Structured: rank container with position and category children.
	container := doc.Find("span.rank, .ranking_infos").First()
	if container.Length() > 0 {
		posText := strings.TrimSpace(container.Find(".rank-position").First().Text())
		category := strings.TrimSpace(container.Find(".rank-category").First().Text())
		if pos, err := strconv.Atoi(strings.TrimPrefix(posText, "#")); err == nil && pos > 0 {
			return pos, category
		}
	}

	if m := e.rankPattern.FindStringSubmatch(text); m != nil {
		if pos, err := strconv.Atoi(m[1]); err == nil && pos > 0 {
			return pos, strings.TrimSpace(m[2])
		}
	}
	return 0, ""
}

func (e *Extractor) extractPerfumer(doc *goquery.Document, text string) string {
	if name := strings.TrimSpace(doc.Find(".perfumer a, [itemprop=creator]").First().Text()); name != "" {
		return name
	}
	for _, pattern := range e.perfumerPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func (e *Extractor) extractImage(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && content != "" {
		return content
	}
	for _, selector := range []string{"img#mainpicture", ".p_imgholder img", "img[itemprop=image]"} {
		if src, ok := doc.Find(selector).First().Attr("src"); ok && src != "" {
			return src
		}
	}
	return ""
}

func (e *Extractor) extractSimilar(doc *goquery.Document) []string {
	var urls []string
	doc.Find(".similar_perfumes a, #similar a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.Contains(href, "/Perfumes/") {
			urls = append(urls, href)
		}
	})
	return dedupe(urls)
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		key := strings.ToLower(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
