// Package scraper orchestrates the fetch→extract→persist pipeline.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/extractor"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/ranker"
	"github.com/parfumdev/fragrance-scraper/internal/ratelimit"
	"github.com/parfumdev/fragrance-scraper/internal/scrapeurl"
	"github.com/parfumdev/fragrance-scraper/internal/transport"
)

type Options struct {
	BaseURL      string
	FragranceTTL time.Duration
	SearchTTL    time.Duration
	LogRetention time.Duration
}

// Store is the slice of the database the pipeline reads and writes.
type Store interface {
	GetFragranceByIdentity(ctx context.Context, brand, name string, year int) (*models.Fragrance, error)
	GetFragranceByURL(ctx context.Context, url string) (*models.Fragrance, error)
	UpsertFragrance(ctx context.Context, f *models.Fragrance) error
	ListFragrancesByBrand(ctx context.Context, brand string) ([]*models.Fragrance, error)
	ClearFragrances(ctx context.Context) error
	DeleteExpiredFragrances(ctx context.Context) (int64, error)
	DeleteRequestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResultCache holds ranked search results for a bounded TTL.
type ResultCache interface {
	Get(ctx context.Context, query string) ([]models.SearchResult, error)
	Set(ctx context.Context, query string, results []models.SearchResult, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type Service struct {
	opts        Options
	db          Store
	searchCache ResultCache
	client      transport.Client
	limiter     ratelimit.RateLimiter
	extractor   *extractor.Extractor
	logger      *slog.Logger
}

func NewService(opts Options, db Store, searchCache ResultCache, client transport.Client, limiter ratelimit.RateLimiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	return &Service{
		opts:        opts,
		db:          db,
		searchCache: searchCache,
		client:      client,
		limiter:     limiter,
		extractor:   extractor.New(),
		logger:      logger.With("component", "scraper"),
	}
}

// GetFragrance returns the record for a brand/name slug pair, serving from
// the cache when the stored row has not expired yet.
func (s *Service) GetFragrance(ctx context.Context, brandSlug, nameSlug string, year int) (*models.Fragrance, error) {
	if brandSlug == "" || nameSlug == "" {
		return nil, apperrors.Validation("brand and name are required")
	}

	brand, _ := scrapeurl.NormalizeSlug(brandSlug)
	name, slugYear := scrapeurl.NormalizeSlug(nameSlug)
	if year == 0 {
		year = slugYear
	}

	cached, err := s.db.GetFragranceByIdentity(ctx, brand, name, year)
	if err != nil {
		return nil, apperrors.Database("cache read failed", err)
	}
	if cached != nil {
		s.logger.Debug("cache hit", "brand", brand, "name", name)
		return cached, nil
	}

	url := scrapeurl.BuildFragranceURL(s.opts.BaseURL, brandSlug, nameSlug)
	return s.fetchAndStore(ctx, url, brand, name, year)
}

// GetFragranceByURL is the same pipeline keyed by a full detail URL.
func (s *Service) GetFragranceByURL(ctx context.Context, url string) (*models.Fragrance, error) {
	brandSlug, nameSlug, err := scrapeurl.ParseFragranceURL(url)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	cached, err := s.db.GetFragranceByURL(ctx, url)
	if err != nil {
		return nil, apperrors.Database("cache read failed", err)
	}
	if cached != nil {
		return cached, nil
	}

	brand, _ := scrapeurl.NormalizeSlug(brandSlug)
	name, year := scrapeurl.NormalizeSlug(nameSlug)
	return s.fetchAndStore(ctx, url, brand, name, year)
}

func (s *Service) fetchAndStore(ctx context.Context, url, brand, name string, year int) (*models.Fragrance, error) {
	html, err := s.fetchWithRotation(ctx, url)
	if err != nil {
		return nil, err
	}

	frag, err := s.extractor.Extract(html, brand, name, year, url)
	if err != nil {
		return nil, err
	}

	frag.CachedUntil = time.Now().Add(s.opts.FragranceTTL)
	if err := s.db.UpsertFragrance(ctx, frag); err != nil {
		return nil, apperrors.Database("failed to persist fragrance", err)
	}

	s.logger.Info("fragrance scraped", "brand", brand, "name", name, "url", url)
	return frag, nil
}

// fetchWithRotation retries the whole fetch once after a rate-limit error:
// the transport already rotated the identity as a side effect, so a single
// re-invocation rides the fresh one.
func (s *Service) fetchWithRotation(ctx context.Context, url string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	html, err := s.client.Fetch(ctx, url)
	if err == nil {
		return html, nil
	}

	if apperrors.KindOf(err) == apperrors.KindRateLimit {
		s.logger.Warn("rate limited, retrying once on rotated identity", "url", url)
		return s.client.Fetch(ctx, url)
	}
	return "", err
}

// Search runs a free-text query against the target's search page, ranks
// the candidates and caches the surviving list.
func (s *Service) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if query == "" {
		return nil, apperrors.Validation("query is required")
	}

	if cached, err := s.searchCache.Get(ctx, query); err != nil {
		return nil, err
	} else if cached != nil {
		s.logger.Debug("search cache hit", "query", query)
		return cached, nil
	}

	html, err := s.fetchWithRotation(ctx, scrapeurl.BuildSearchURL(s.opts.BaseURL, query))
	if err != nil {
		return nil, err
	}

	candidates, err := s.extractor.ParseSearchResults(html, s.opts.BaseURL)
	if err != nil {
		return nil, err
	}

	ranked := ranker.Rank(query, candidates)

	if err := s.searchCache.Set(ctx, query, ranked, s.opts.SearchTTL); err != nil {
		s.logger.Warn("failed to cache search results", "query", query, "error", err)
	}

	s.logger.Info("search completed", "query", query,
		"candidates", len(candidates), "ranked", len(ranked))
	return ranked, nil
}

func (s *Service) ListByBrand(ctx context.Context, brandSlug string) ([]*models.Fragrance, error) {
	if brandSlug == "" {
		return nil, apperrors.Validation("brand is required")
	}
	brand, _ := scrapeurl.NormalizeSlug(brandSlug)
	frags, err := s.db.ListFragrancesByBrand(ctx, brand)
	if err != nil {
		return nil, apperrors.Database("failed to list by brand", err)
	}
	return frags, nil
}

// ClearCache drops cached entries by type: "fragrances", "searches" or "all".
func (s *Service) ClearCache(ctx context.Context, typ string) error {
	switch typ {
	case "fragrances":
		if err := s.db.ClearFragrances(ctx); err != nil {
			return apperrors.Database("failed to clear fragrance cache", err)
		}
	case "searches":
		return s.searchCache.Clear(ctx)
	case "all":
		if err := s.db.ClearFragrances(ctx); err != nil {
			return apperrors.Database("failed to clear fragrance cache", err)
		}
		return s.searchCache.Clear(ctx)
	default:
		return apperrors.Validation(fmt.Sprintf("unknown cache type %q", typ))
	}
	return nil
}

// Sweep removes expired fragrance rows and request logs past retention.
// Run periodically from the process root.
func (s *Service) Sweep(ctx context.Context) {
	if n, err := s.db.DeleteExpiredFragrances(ctx); err != nil {
		s.logger.Error("failed to sweep expired fragrances", "error", err)
	} else if n > 0 {
		s.logger.Info("swept expired fragrances", "rows", n)
	}

	cutoff := time.Now().Add(-s.opts.LogRetention)
	if n, err := s.db.DeleteRequestLogsBefore(ctx, cutoff); err != nil {
		s.logger.Error("failed to sweep request logs", "error", err)
	} else if n > 0 {
		s.logger.Info("swept old request logs", "rows", n)
	}
}
