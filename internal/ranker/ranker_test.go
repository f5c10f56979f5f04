package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		brand    string
		itemName string
		expected float64
	}{
		{
			name:     "Exact combined match short-circuits to the cap",
			query:    "dior sauvage",
			brand:    "Dior",
			itemName: "Sauvage",
			expected: MaxScore,
		},
		{
			name:     "Empty query scores zero",
			query:    "",
			brand:    "Dior",
			itemName: "Sauvage",
			expected: 0,
		},
		{
			name:     "No overlap scores zero",
			query:    "vetiver",
			brand:    "Chanel",
			itemName: "No 5",
			expected: 0,
		},
		{
			name:     "Exact name match",
			query:    "sauvage",
			brand:    "Dior",
			itemName: "Sauvage",
			// name exact + name word + word prefix + substring of combined.
			expected: nameExactCredit + nameWordCredit + prefixWordCredit + substringBonus,
		},
		{
			name:     "Exact brand match",
			query:    "dior",
			brand:    "Dior",
			itemName: "Sauvage",
			expected: brandExactCredit + brandWordCredit + prefixWordCredit + substringBonus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.query, tt.brand, tt.itemName), 0.001)
		})
	}
}

func TestScoreNeverExceedsCap(t *testing.T) {
	// Pile up every credit at once: exact brand, exact name, word hits,
	// prefix hits and the substring bonus.
	score := Score("sauvage sauvage sauvage sauvage sauvage", "Sauvage", "Sauvage")
	assert.LessOrEqual(t, score, MaxScore)
}

func TestScoreCaseInsensitive(t *testing.T) {
	assert.Equal(t, Score("DIOR SAUVAGE", "dior", "sauvage"), Score("dior sauvage", "Dior", "Sauvage"))
}

func TestRank(t *testing.T) {
	candidates := []models.SearchResult{
		{Brand: "Chanel", Name: "No 5", URL: "u1"},
		{Brand: "Dior", Name: "Sauvage", URL: "u2"},
		{Brand: "Dior", Name: "Eau Sauvage", URL: "u3"},
	}

	ranked := Rank("dior sauvage", candidates)
	require.Len(t, ranked, 2, "irrelevant candidates fall below the floor")

	assert.Equal(t, "u2", ranked[0].URL)
	assert.Equal(t, MaxScore, ranked[0].Relevance)
	assert.Equal(t, "u3", ranked[1].URL)
	assert.GreaterOrEqual(t, ranked[1].Relevance, MinRelevance)
}

func TestRankStableTies(t *testing.T) {
	candidates := []models.SearchResult{
		{Brand: "Dior", Name: "Sauvage", URL: "first"},
		{Brand: "Dior", Name: "Sauvage", URL: "second"},
		{Brand: "Dior", Name: "Sauvage", URL: "third"},
	}

	ranked := Rank("dior sauvage", candidates)
	require.Len(t, ranked, 3)
	assert.Equal(t, "first", ranked[0].URL)
	assert.Equal(t, "second", ranked[1].URL)
	assert.Equal(t, "third", ranked[2].URL)
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank("sauvage", nil))
}
