package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

// ratingsDoc is the JSONB shape the rating dimensions persist as.
type ratingsDoc struct {
	Rating     *models.RatingDimension `json:"rating,omitempty"`
	Longevity  *models.RatingDimension `json:"longevity,omitempty"`
	Sillage    *models.RatingDimension `json:"sillage,omitempty"`
	Bottle     *models.RatingDimension `json:"bottle,omitempty"`
	PriceValue *models.RatingDimension `json:"price_value,omitempty"`
}

type notesDoc struct {
	Top    []string `json:"top,omitempty"`
	Middle []string `json:"middle,omitempty"`
	Base   []string `json:"base,omitempty"`
}

// UpsertFragrance writes a record keyed by its canonical URL. A newer fetch
// supersedes the previous row, it is never merged into it.
func (db *DB) UpsertFragrance(ctx context.Context, f *models.Fragrance) error {
	ratings, err := json.Marshal(ratingsDoc{
		Rating:     f.Rating,
		Longevity:  f.Longevity,
		Sillage:    f.Sillage,
		Bottle:     f.Bottle,
		PriceValue: f.PriceValue,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ratings: %w", err)
	}

	notes, err := json.Marshal(notesDoc{Top: f.TopNotes, Middle: f.MiddleNotes, Base: f.BaseNotes})
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	query := `
		INSERT INTO fragrances (url, brand, name, year, gender, description,
			ratings, notes, main_accords, rank_position, rank_category,
			similar, perfumer_name, image_url, scraped_at, cached_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (url) DO UPDATE SET
			brand = EXCLUDED.brand,
			name = EXCLUDED.name,
			year = EXCLUDED.year,
			gender = EXCLUDED.gender,
			description = EXCLUDED.description,
			ratings = EXCLUDED.ratings,
			notes = EXCLUDED.notes,
			main_accords = EXCLUDED.main_accords,
			rank_position = EXCLUDED.rank_position,
			rank_category = EXCLUDED.rank_category,
			similar = EXCLUDED.similar,
			perfumer_name = EXCLUDED.perfumer_name,
			image_url = EXCLUDED.image_url,
			scraped_at = EXCLUDED.scraped_at,
			cached_until = EXCLUDED.cached_until`

	_, err = db.pool.Exec(ctx, query,
		f.URL, f.Brand, f.Name, f.Year, nullable(f.Gender), nullable(f.Description),
		ratings, notes, f.MainAccords, f.RankPosition, nullable(f.RankCategory),
		f.SimilarFragrances, nullable(f.PerfumerName), nullable(f.ImageURL),
		f.ScrapedAt, f.CachedUntil)
	if err != nil {
		return fmt.Errorf("failed to upsert fragrance: %w", err)
	}

	return nil
}

// GetFragranceByURL returns the cached record for url, or nil when absent
// or expired.
func (db *DB) GetFragranceByURL(ctx context.Context, url string) (*models.Fragrance, error) {
	row := db.pool.QueryRow(ctx, selectFragrance+` WHERE url = $1 AND cached_until > now()`, url)
	return scanFragrance(row)
}

// GetFragranceByIdentity looks a record up by brand+name (+year when
// non-zero), filtered on expiry.
func (db *DB) GetFragranceByIdentity(ctx context.Context, brand, name string, year int) (*models.Fragrance, error) {
	query := selectFragrance + ` WHERE LOWER(brand) = LOWER($1) AND LOWER(name) = LOWER($2) AND cached_until > now()`
	args := []interface{}{brand, name}
	if year > 0 {
		query += ` AND year = $3`
		args = append(args, year)
	}
	row := db.pool.QueryRow(ctx, query, args...)
	return scanFragrance(row)
}

func (db *DB) ListFragrancesByBrand(ctx context.Context, brand string) ([]*models.Fragrance, error) {
	rows, err := db.pool.Query(ctx,
		selectFragrance+` WHERE LOWER(brand) = LOWER($1) AND cached_until > now() ORDER BY name`, brand)
	if err != nil {
		return nil, fmt.Errorf("failed to list fragrances: %w", err)
	}
	defer rows.Close()

	var out []*models.Fragrance
	for rows.Next() {
		f, err := scanFragrance(rows)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, rows.Err()
}

// DeleteExpiredFragrances removes rows whose cache window has passed.
func (db *DB) DeleteExpiredFragrances(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM fragrances WHERE cached_until <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired fragrances: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (db *DB) ClearFragrances(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM fragrances`); err != nil {
		return fmt.Errorf("failed to clear fragrances: %w", err)
	}
	return nil
}

const selectFragrance = `
	SELECT url, brand, name, year, gender, description, ratings, notes,
		main_accords, rank_position, rank_category, similar, perfumer_name,
		image_url, scraped_at, cached_until
	FROM fragrances`

func scanFragrance(row pgx.Row) (*models.Fragrance, error) {
	var (
		f           models.Fragrance
		gender      sql.NullString
		description sql.NullString
		ratings     []byte
		notes       []byte
		category    sql.NullString
		perfumer    sql.NullString
		image       sql.NullString
	)

	err := row.Scan(&f.URL, &f.Brand, &f.Name, &f.Year, &gender, &description,
		&ratings, &notes, &f.MainAccords, &f.RankPosition, &category,
		&f.SimilarFragrances, &perfumer, &image, &f.ScrapedAt, &f.CachedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fragrance: %w", err)
	}

	f.Gender = gender.String
	f.Description = description.String
	f.RankCategory = category.String
	f.PerfumerName = perfumer.String
	f.ImageURL = image.String

	if len(ratings) > 0 {
		var doc ratingsDoc
		if err := json.Unmarshal(ratings, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ratings: %w", err)
		}
		f.Rating = doc.Rating
		f.Longevity = doc.Longevity
		f.Sillage = doc.Sillage
		f.Bottle = doc.Bottle
		f.PriceValue = doc.PriceValue
	}

	if len(notes) > 0 {
		var doc notesDoc
		if err := json.Unmarshal(notes, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
		f.TopNotes = doc.Top
		f.MiddleNotes = doc.Middle
		f.BaseNotes = doc.Base
	}

	return &f, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
