package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

// dimension describes one rating axis on the detail page: the data
// attribute its container carries and the label the visible text uses.
type dimension struct {
	Key   string
	Label string
}

var ratingDimensions = []dimension{
	{Key: "scent", Label: "Scent"},
	{Key: "durability", Label: "Longevity"},
	{Key: "sillage", Label: "Sillage"},
	{Key: "bottle", Label: "Bottle"},
	{Key: "pricing", Label: "Value for Money"},
}

const (
	minRatingValue = 0
	maxRatingValue = 10
	minVoteCount   = 1
	maxVoteCount   = 1_000_000
)

// validRating is the shared gate every strategy's candidate passes through.
// Out-of-range candidates are rejected so the chain falls through to the
// next strategy instead of surfacing an implausible pair.
func validRating(value float64, votes int) bool {
	return value >= minRatingValue && value <= maxRatingValue &&
		votes >= minVoteCount && votes <= maxVoteCount
}

// ratingStrategy attempts to extract one dimension. nil means no match;
// the chain moves on.
type ratingStrategy func(doc *goquery.Document, text string, dim dimension) *models.RatingDimension

// ratingChain is ordered most-structured first. The structured-attribute
// read is authoritative; the text strategies are best-effort fallbacks for
// markup revisions that drop the attributes.
var ratingChain = []ratingStrategy{
	structuredRating,
	separatedTextRating,
	concatenatedTextRating,
}

// extractRating runs the chain for one dimension, first accepted result wins.
func extractRating(doc *goquery.Document, text string, dim dimension) *models.RatingDimension {
	for _, strategy := range ratingChain {
		if r := strategy(doc, text, dim); r != nil {
			return r
		}
	}
	return nil
}

// structuredRating reads the dimension container located by its stable
// data attribute: a bold child holds the value, a muted child holds
// "<N> Ratings".
func structuredRating(doc *goquery.Document, _ string, dim dimension) *models.RatingDimension {
	container := doc.Find(fmt.Sprintf(`[data-type=%q]`, dim.Key)).First()
	if container.Length() == 0 {
		return nil
	}

	valueText := strings.TrimSpace(container.Find(".bold, .rating-value, span[itemprop=ratingValue]").First().Text())
	countText := strings.TrimSpace(container.Find(".lightgrey, .rating-count, .text-xs").First().Text())
	if valueText == "" || countText == "" {
		return nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(valueText, ",", "."), 64)
	if err != nil {
		return nil
	}

	m := countDigits.FindStringSubmatch(countText)
	if m == nil {
		return nil
	}
	votes, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil
	}

	if !validRating(value, votes) {
		return nil
	}
	return &models.RatingDimension{Value: value, Votes: votes}
}

var countDigits = regexp.MustCompile(`([\d,]+)\s*Ratings?`)

// separatedTextRating matches the dimension label, the value, at least two
// non-digit characters, then the count and the literal "Rating(s)". The
// two-character separator requirement keeps a value from swallowing the
// leading digits of an adjacent vote count.
func separatedTextRating(_ *goquery.Document, text string, dim dimension) *models.RatingDimension {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(dim.Label) + `\s*:?\s*(\d+(?:\.\d+)?)[^\d]{2,}(\d{1,7})\s*Ratings?`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	votes, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}

	if !validRating(value, votes) {
		return nil
	}
	return &models.RatingDimension{Value: value, Votes: votes}
}

// concatenatedTextRating is the last resort: value and count run together
// with no separator, e.g. "Longevity 6.9406 Ratings" meaning 6.9 with 406
// votes. The split point is ambiguous, so a digit-count heuristic decides
// where the decimals end and the count begins; every candidate still
// passes the shared validation gate.
func concatenatedTextRating(_ *goquery.Document, text string, dim dimension) *models.RatingDimension {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(dim.Label) + `\s*(\d+)\.(\d+)\s*Ratings?`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	intPart := m[1]
	run := m[2]

	candidate := func(decimals int) *models.RatingDimension {
		if len(run) <= decimals {
			return nil
		}
		value, err := strconv.ParseFloat(intPart+"."+run[:decimals], 64)
		if err != nil {
			return nil
		}
		votes, err := strconv.Atoi(run[decimals:])
		if err != nil {
			return nil
		}
		if !validRating(value, votes) {
			return nil
		}
		return &models.RatingDimension{Value: value, Votes: votes}
	}

	switch {
	case len(run) == 4:
		// One decimal, three-digit count.
		return candidate(1)
	case len(run) == 5:
		// Prefer a four-digit count only when it is actually large enough
		// to need four digits; otherwise read two decimals.
		if r := candidate(1); r != nil && r.Votes >= 1000 {
			return r
		}
		return candidate(2)
	case len(run) >= 6:
		// Two decimals, the rest is the count.
		return candidate(2)
	default:
		// Too few digits to split unambiguously.
		return nil
	}
}
