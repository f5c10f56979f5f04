// Package ranker orders search candidates by relevance to a query.
package ranker

import (
	"sort"
	"strings"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

const (
	// MaxScore caps every score; an exact combined match short-circuits
	// straight to it.
	MaxScore = 100.0
	// MinRelevance is the floor below which candidates never appear in
	// ranked output.
	MinRelevance = 10.0

	brandExactCredit = 30.0
	nameExactCredit  = 40.0
	brandWordCredit  = 5.0
	nameWordCredit   = 10.0
	prefixWordCredit = 3.0
	substringBonus   = 15.0
)

// Score computes the bounded relevance of a {brand, name} candidate for a
// query. Name matches weigh more than brand matches: users searching a
// fragrance mostly type its name.
func Score(query, brand, name string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	brand = strings.ToLower(strings.TrimSpace(brand))
	name = strings.ToLower(strings.TrimSpace(name))
	combined := strings.TrimSpace(brand + " " + name)

	if query == "" {
		return 0
	}
	if query == combined {
		return MaxScore
	}

	var score float64
	if query == brand {
		score += brandExactCredit
	}
	if query == name {
		score += nameExactCredit
	}

	for _, word := range strings.Fields(query) {
		if strings.Contains(brand, word) {
			score += brandWordCredit
		}
		if strings.Contains(name, word) {
			score += nameWordCredit
		}
		if hasWordPrefix(combined, word) {
			score += prefixWordCredit
		}
	}

	if strings.Contains(combined, query) {
		score += substringBonus
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score
}

func hasWordPrefix(s, prefix string) bool {
	for _, word := range strings.Fields(s) {
		if strings.HasPrefix(word, prefix) {
			return true
		}
	}
	return false
}

// Rank scores the candidates, drops those below the relevance floor and
// sorts the survivors descending. The sort is stable: ties keep their
// original discovery order.
func Rank(query string, candidates []models.SearchResult) []models.SearchResult {
	ranked := make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		c.Relevance = Score(query, c.Brand, c.Name)
		if c.Relevance >= MinRelevance {
			ranked = append(ranked, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}
