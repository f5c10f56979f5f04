package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/browser"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/proxy"
	"github.com/parfumdev/fragrance-scraper/internal/scrapeurl"
)

// RenderedClient fetches pages with script execution through a persistent,
// proxy-authenticated execution context. The context and its single page
// are reused across fetches until Reset; the page is single-occupancy, so
// concurrent fetches serialize on the client mutex.
type RenderedClient struct {
	pool    IdentityProvider
	browser *browser.Browser
	sink    RequestSink
	logger  *slog.Logger

	maxRetries       int
	retryDelay       time.Duration
	selectorTimeout  time.Duration
	challengeTimeout time.Duration

	mu       sync.Mutex
	identity *proxy.NetworkIdentity
	context  playwright.BrowserContext
	page     playwright.Page
}

type RenderedOptions struct {
	MaxRetries       int
	RetryDelay       time.Duration
	SelectorTimeout  time.Duration
	ChallengeTimeout time.Duration
}

func NewRenderedClient(pool IdentityProvider, b *browser.Browser, sink RequestSink, opts RenderedOptions, logger *slog.Logger) *RenderedClient {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.SelectorTimeout == 0 {
		opts.SelectorTimeout = 10 * time.Second
	}
	if opts.ChallengeTimeout == 0 {
		opts.ChallengeTimeout = 90 * time.Second
	}
	return &RenderedClient{
		pool:             pool,
		browser:          b,
		sink:             sink,
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		selectorTimeout:  opts.SelectorTimeout,
		challengeTimeout: opts.ChallengeTimeout,
		logger:           logger.With("component", "rendered_client"),
	}
}

// ensurePage lazily builds the execution context: acquire an identity from
// the pool, open a proxy-authenticated context and one page. Callers must
// hold c.mu.
func (c *RenderedClient) ensurePage(ctx context.Context) (playwright.Page, error) {
	if c.page != nil {
		return c.page, nil
	}

	identity, err := c.pool.AcquireNetworkIdentity(ctx, "")
	if err != nil {
		return nil, err
	}

	bctx, err := c.browser.NewContext(&browser.ProxyAuth{
		Server:   identity.Server(),
		Username: identity.Username,
		Password: identity.Password,
	})
	if err != nil {
		return nil, apperrors.Proxy("failed to create execution context", err)
	}

	page, err := c.browser.NewPage(bctx)
	if err != nil {
		bctx.Close()
		return nil, apperrors.Proxy("failed to create page", err)
	}

	c.identity = identity
	c.context = bctx
	c.page = page

	c.logger.Info("execution context created", "session", identity.SessionID)
	return page, nil
}

// teardown discards the execution context. Callers must hold c.mu.
func (c *RenderedClient) teardown() {
	if c.context != nil {
		if err := c.context.Close(); err != nil {
			c.logger.Warn("failed to close execution context", "error", err)
		}
	}
	c.context = nil
	c.page = nil
	c.identity = nil
}

func (c *RenderedClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

func (c *RenderedClient) Fetch(ctx context.Context, target string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		content, err := c.fetchOnce(ctx, target)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if apperrors.KindOf(err) == apperrors.KindRateLimit {
			// The identity was already rotated on the block; whether to
			// retry on the fresh one is the caller's decision.
			return "", err
		}
		if !apperrors.IsRetryable(err) {
			return "", err
		}
		c.logger.Warn("rendered fetch failed, retrying",
			"url", target, "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("rendered fetch failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *RenderedClient) fetchOnce(ctx context.Context, target string) (string, error) {
	start := time.Now()

	page, err := c.ensurePage(ctx)
	if err != nil {
		return "", err
	}

	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		c.logOutcome(ctx, target, 0, false, start, err)
		c.teardown()
		return "", apperrors.Proxy("navigation failed", err)
	}

	if resp != nil {
		switch {
		case resp.Status() == http.StatusForbidden:
			// Proxy detection: discard the identity, surface rate-limit.
			c.logOutcome(ctx, target, resp.Status(), false, start, nil)
			c.teardown()
			c.pool.ForceRotate()
			return "", apperrors.RateLimit("blocked by target (403)", nil)
		case retryableStatus(resp.Status()):
			c.logOutcome(ctx, target, resp.Status(), false, start, nil)
			return "", apperrors.Proxy(fmt.Sprintf("target returned %d", resp.Status()), nil)
		case resp.Status() == http.StatusNotFound:
			c.logOutcome(ctx, target, resp.Status(), false, start, nil)
			return "", apperrors.NotFound("target returned 404 for " + target)
		}
	}

	if err := c.waitChallenge(page); err != nil {
		c.logOutcome(ctx, target, 0, false, start, err)
		c.teardown()
		return "", err
	}

	if err := c.validateIdentity(page, target); err != nil {
		c.logOutcome(ctx, target, 0, false, start, err)
		// Content bleed in a reused context is a correctness failure; the
		// whole context goes, not just the page.
		c.teardown()
		return "", err
	}

	content, err := page.Content()
	if err != nil {
		c.logOutcome(ctx, target, 0, false, start, err)
		return "", apperrors.Scraper("failed to read page content", err)
	}

	c.logOutcome(ctx, target, http.StatusOK, true, start, nil)
	return content, nil
}

// challengeMarkers identify an interstitial challenge page by title or
// body content.
var challengeMarkers = []string{
	"Just a moment",
	"Checking your browser",
	"Attention Required",
	"cf-challenge",
	"challenge-platform",
}

func isChallengePage(title, content string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(title, marker) || strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// waitChallenge polls until the interstitial clears or the challenge
// timeout elapses.
func (c *RenderedClient) waitChallenge(page playwright.Page) error {
	title, err := page.Title()
	if err != nil {
		return apperrors.Scraper("failed to read page title", err)
	}
	content, _ := page.Content()
	if !isChallengePage(title, content) {
		return nil
	}

	c.logger.Info("challenge page detected, waiting for it to clear")

	deadline := time.Now().Add(c.challengeTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)

		title, err = page.Title()
		if err != nil {
			continue
		}
		content, _ = page.Content()
		if !isChallengePage(title, content) {
			c.logger.Info("challenge cleared")
			return nil
		}
	}

	return apperrors.Scraper("challenge page did not clear", apperrors.ErrChallengeNotPassed)
}

// validateIdentity checks the rendered page's canonical self-URL against
// the brand/name identity of the requested URL. A mismatch means the
// reused execution context served content from a different request.
func (c *RenderedClient) validateIdentity(page playwright.Page, target string) error {
	if _, _, err := scrapeurl.ParseFragranceURL(target); err != nil {
		// Not a fragrance detail URL (e.g. a search page); nothing to check.
		return nil
	}

	canonical := c.canonicalURL(page)
	if err := identityMismatch(target, canonical); err != nil {
		c.logger.Error("canonical URL does not match requested identity",
			"requested", target, "canonical", canonical)
		return err
	}
	return nil
}

// identityMismatch compares the brand/name identity of the requested detail
// URL against the page's canonical self-URL. A missing or unparseable
// canonical is indeterminate and passes.
func identityMismatch(target, canonical string) error {
	wantBrand, wantName, err := scrapeurl.ParseFragranceURL(target)
	if err != nil {
		return nil
	}
	if canonical == "" {
		return nil
	}

	gotBrand, gotName, err := scrapeurl.ParseFragranceURL(canonical)
	if err != nil {
		return nil
	}

	if !strings.EqualFold(gotBrand, wantBrand) || !strings.EqualFold(gotName, wantName) {
		return apperrors.Scraper(
			fmt.Sprintf("requested %s/%s but page identifies as %s/%s", wantBrand, wantName, gotBrand, gotName),
			apperrors.ErrContentMismatch)
	}
	return nil
}

func (c *RenderedClient) canonicalURL(page playwright.Page) string {
	for _, selector := range []string{`link[rel="canonical"]`, `meta[property="og:url"]`} {
		loc := page.Locator(selector).First()
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		attr := "href"
		if strings.HasPrefix(selector, "meta") {
			attr = "content"
		}
		if v, err := loc.GetAttribute(attr); err == nil && v != "" {
			return v
		}
	}
	return ""
}

func (c *RenderedClient) TestConnection(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.ensurePage(ctx)
	if err != nil {
		return false, err
	}

	resp, err := page.Goto(ipEchoURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return false, nil
	}
	return resp != nil && resp.Status() == http.StatusOK, nil
}

func (c *RenderedClient) logOutcome(ctx context.Context, target string, status int, success bool, start time.Time, reqErr error) {
	if c.sink == nil {
		return
	}
	entry := &models.RequestLog{
		URL:        target,
		Method:     http.MethodGet,
		StatusCode: status,
		Success:    success,
		DurationMS: time.Since(start).Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if reqErr != nil {
		entry.Error = reqErr.Error()
	}
	if err := c.sink.InsertRequestLog(ctx, entry); err != nil {
		c.logger.Warn("failed to record request outcome", "error", err)
	}
}
