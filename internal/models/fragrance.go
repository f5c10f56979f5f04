package models

import (
	"time"
)

// RatingDimension pairs a 0-10 score with the number of votes behind it.
// A nil dimension means the page did not expose that rating, which is
// different from a zero score.
type RatingDimension struct {
	Value float64 `json:"value"`
	Votes int     `json:"votes"`
}

type Fragrance struct {
	Brand       string `json:"brand"`
	Name        string `json:"name"`
	Year        int    `json:"year,omitempty"`
	URL         string `json:"url"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`

	Rating     *RatingDimension `json:"rating,omitempty"`
	Longevity  *RatingDimension `json:"longevity,omitempty"`
	Sillage    *RatingDimension `json:"sillage,omitempty"`
	Bottle     *RatingDimension `json:"bottle,omitempty"`
	PriceValue *RatingDimension `json:"price_value,omitempty"`

	TopNotes    []string `json:"top_notes,omitempty"`
	MiddleNotes []string `json:"middle_notes,omitempty"`
	BaseNotes   []string `json:"base_notes,omitempty"`
	MainAccords []string `json:"main_accords,omitempty"`

	RankPosition      int      `json:"rank_position,omitempty"`
	RankCategory      string   `json:"rank_category,omitempty"`
	SimilarFragrances []string `json:"similar_fragrances,omitempty"`

	PerfumerName string `json:"perfumer_name,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`

	ScrapedAt   time.Time `json:"scraped_at"`
	CachedUntil time.Time `json:"cached_until"`
}

func NewFragrance(brand, name string, year int, url string) *Fragrance {
	return &Fragrance{
		Brand:     brand,
		Name:      name,
		Year:      year,
		URL:       url,
		ScrapedAt: time.Now(),
	}
}

func (f *Fragrance) Validate() []string {
	var errors []string

	if f.Brand == "" {
		errors = append(errors, "Brand is required")
	}
	if f.Name == "" {
		errors = append(errors, "Name is required")
	}
	if f.URL == "" {
		errors = append(errors, "URL is required")
	}

	return errors
}

type SearchResult struct {
	Brand     string  `json:"brand"`
	Name      string  `json:"name"`
	Year      int     `json:"year,omitempty"`
	URL       string  `json:"url"`
	Relevance float64 `json:"relevance"`
}

// RequestLog is one append-only row recording the outcome of an outbound
// fetch, kept for a bounded retention window.
type RequestLog struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
