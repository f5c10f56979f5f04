package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/scrapeurl"
)

// ParseSearchResults pulls candidate fragrances out of a search results
// page. Candidates are identified by their detail-page links; brand and
// name come from the link slugs, so a markup revision that reshuffles the
// result cards cannot poison the fields.
func (e *Extractor) ParseSearchResults(html, baseURL string) ([]models.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.Scraper("failed to parse search markup", err)
	}

	seen := make(map[string]bool)
	var results []models.SearchResult

	doc.Find(`a[href*="/Perfumes/"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = strings.TrimRight(baseURL, "/") + href
		}

		brandSlug, nameSlug, err := scrapeurl.ParseFragranceURL(href)
		if err != nil {
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true

		brand, _ := scrapeurl.NormalizeSlug(brandSlug)
		name, year := scrapeurl.NormalizeSlug(nameSlug)
		if brand == "" || name == "" {
			return
		}

		results = append(results, models.SearchResult{
			Brand: brand,
			Name:  name,
			Year:  year,
			URL:   href,
		})
	})

	return results, nil
}
