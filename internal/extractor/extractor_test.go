package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
)

const detailPage = `<html>
<head>
	<meta property="og:image" content="https://cdn.example.com/bottles/sauvage.jpg">
	<meta property="og:description" content="A fresh aromatic fougere.">
</head>
<body>
	<span class="gender">Perfume for men</span>
	<div data-type="scent"><span class="bold">8.2</span><span class="lightgrey">1,412 Ratings</span></div>
	<div data-type="durability"><span class="bold">7.4</span><span class="lightgrey">812 Ratings</span></div>
	<div class="notes">
		<span data-nt="t">Bergamot</span>
		<span data-nt="t">Pepper</span>
		<span data-nt="m">Lavender</span>
		<span data-nt="b">Ambroxan</span>
	</div>
	<div class="accords">
		<span class="accord-bar">Fresh Spicy</span>
		<span class="accord-bar">Aromatic</span>
		<span class="accord-bar">Aromatic</span>
	</div>
	<p>Ranked #3 in Men's Perfume.</p>
	<p>Perfumer: Francois Demachy composed this fragrance</p>
	<div class="similar_perfumes">
		<a href="/Perfumes/Dior/Eau-Sauvage">Eau Sauvage</a>
		<a href="/Perfumes/Chanel/Allure-Homme">Allure Homme</a>
	</div>
</body>
</html>`

func TestExtract(t *testing.T) {
	e := New()

	f, err := e.Extract(detailPage, "Dior", "Sauvage", 2015, "https://example.com/Perfumes/Dior/Sauvage")
	require.NoError(t, err)

	assert.Equal(t, "Dior", f.Brand)
	assert.Equal(t, "Sauvage", f.Name)
	assert.Equal(t, 2015, f.Year)
	assert.Equal(t, "male", f.Gender)
	assert.Equal(t, "A fresh aromatic fougere.", f.Description)

	require.NotNil(t, f.Rating)
	assert.InDelta(t, 8.2, f.Rating.Value, 0.001)
	assert.Equal(t, 1412, f.Rating.Votes)

	require.NotNil(t, f.Longevity)
	assert.InDelta(t, 7.4, f.Longevity.Value, 0.001)
	assert.Equal(t, 812, f.Longevity.Votes)

	assert.Nil(t, f.Sillage)
	assert.Nil(t, f.Bottle)
	assert.Nil(t, f.PriceValue)

	assert.Equal(t, []string{"Bergamot", "Pepper"}, f.TopNotes)
	assert.Equal(t, []string{"Lavender"}, f.MiddleNotes)
	assert.Equal(t, []string{"Ambroxan"}, f.BaseNotes)
	assert.Equal(t, []string{"Fresh Spicy", "Aromatic"}, f.MainAccords)

	assert.Equal(t, 3, f.RankPosition)
	assert.Equal(t, "Men's Perfume", f.RankCategory)
	assert.Equal(t, "Francois Demachy", f.PerfumerName)
	assert.Equal(t, "https://cdn.example.com/bottles/sauvage.jpg", f.ImageURL)
	assert.Len(t, f.SimilarFragrances, 2)
}

func TestExtractMissingIdentity(t *testing.T) {
	e := New()

	_, err := e.Extract(detailPage, "", "Sauvage", 0, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = e.Extract(detailPage, "Dior", "", 0, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestExtractSparsePage(t *testing.T) {
	e := New()

	// A page with no recognizable signals still yields a record; absent
	// fields stay zero instead of failing the operation.
	f, err := e.Extract(`<html><body><p>Nothing here.</p></body></html>`,
		"Dior", "Sauvage", 0, "https://example.com/Perfumes/Dior/Sauvage")
	require.NoError(t, err)

	assert.Nil(t, f.Rating)
	assert.Empty(t, f.Gender)
	assert.Empty(t, f.TopNotes)
	assert.Zero(t, f.RankPosition)
	assert.Empty(t, f.PerfumerName)
}

func TestExtractGenderFallbacks(t *testing.T) {
	e := New()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "Marker element",
			html:     `<span class="gender">Unisex</span>`,
			expected: "unisex",
		},
		{
			name:     "Text pattern women",
			html:     `<p>A popular perfume for women by Chanel.</p>`,
			expected: "female",
		},
		{
			name:     "Text pattern women and men",
			html:     `<p>A perfume for women and men.</p>`,
			expected: "unisex",
		},
		{
			name:     "No signal",
			html:     `<p>No gender mentioned.</p>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := docFor(t, tt.html)
			assert.Equal(t, tt.expected, e.extractGender(doc, doc.Text()))
		})
	}
}

func TestExtractNotesTextFallback(t *testing.T) {
	e := New()

	doc := docFor(t, `<p>Top Notes: bergamot, lemon; pink pepper</p>`)
	notes := e.extractNotes(doc, doc.Text(), "t")
	assert.Equal(t, []string{"bergamot", "lemon", "pink pepper"}, notes)
}

func TestParseSearchResults(t *testing.T) {
	e := New()

	html := `<html><body>
		<a href="/Perfumes/Dior/Sauvage-2015">Sauvage</a>
		<a href="/Perfumes/Dior/Sauvage-2015">Sauvage again</a>
		<a href="https://example.com/Perfumes/Chanel/Bleu-de-Chanel">Bleu</a>
		<a href="/Brands/Dior">Dior brand page</a>
	</body></html>`

	results, err := e.ParseSearchResults(html, "https://example.com")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Dior", results[0].Brand)
	assert.Equal(t, "Sauvage", results[0].Name)
	assert.Equal(t, 2015, results[0].Year)
	assert.Equal(t, "https://example.com/Perfumes/Dior/Sauvage-2015", results[0].URL)

	assert.Equal(t, "Chanel", results[1].Brand)
	assert.Equal(t, "Bleu De Chanel", results[1].Name)
	assert.Zero(t, results[1].Year)
}
