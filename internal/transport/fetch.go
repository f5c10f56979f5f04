package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/proxy"
)

// FetchClient issues plain HTTP requests through the proxy pool without
// executing target-site scripts.
type FetchClient struct {
	pool      IdentityProvider
	sink      RequestSink
	policy    RetryPolicy
	userAgent string
	logger    *slog.Logger

	mu       sync.Mutex
	identity *proxy.NetworkIdentity
	client   *http.Client
}

func NewFetchClient(pool IdentityProvider, sink RequestSink, policy RetryPolicy, userAgent string, logger *slog.Logger) *FetchClient {
	return &FetchClient{
		pool:      pool,
		sink:      sink,
		policy:    policy,
		userAgent: userAgent,
		logger:    logger.With("component", "fetch_client"),
	}
}

// ensureClient lazily binds a network identity and builds an HTTP client
// routed through it. The identity is held until Reset.
func (f *FetchClient) ensureClient(ctx context.Context) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	identity, err := f.pool.AcquireNetworkIdentity(ctx, "")
	if err != nil {
		return nil, err
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", identity.Host, identity.Port),
		User:   url.UserPassword(identity.Username, identity.Password),
	}

	f.identity = identity
	f.client = &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			MaxIdleConns:    4,
			IdleConnTimeout: 90 * time.Second,
		},
	}

	f.logger.Debug("bound network identity", "session", identity.SessionID)
	return f.client, nil
}

// Reset drops the cached identity and transport so the next request
// acquires a fresh session.
func (f *FetchClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		f.client.CloseIdleConnections()
	}
	f.client = nil
	f.identity = nil
}

func (f *FetchClient) Fetch(ctx context.Context, target string) (string, error) {
	var body string

	op := func() error {
		client, err := f.ensureClient(ctx)
		if err != nil {
			// No identity available is retryable by the caller, not here.
			return backoff.Permanent(err)
		}

		content, err := f.doRequest(ctx, client, target)
		if err != nil {
			return err
		}
		body = content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.policy.InitialDelay
	bo.MaxInterval = f.policy.MaxDelay
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(f.policy.MaxRetries)), ctx))
	if err != nil {
		return "", err
	}
	return body, nil
}

func (f *FetchClient) doRequest(ctx context.Context, client *http.Client, target string) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", backoff.Permanent(apperrors.Validation("invalid URL: " + target))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		f.logOutcome(ctx, target, 0, false, start, err)
		if transientNetErr(err) {
			return "", apperrors.Proxy("request failed", err)
		}
		return "", backoff.Permanent(apperrors.Proxy("request failed", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// Proxy detected: rotate identity, do not retry blindly.
		f.logOutcome(ctx, target, resp.StatusCode, false, start, nil)
		f.Reset()
		f.pool.ForceRotate()
		return "", backoff.Permanent(apperrors.RateLimit("blocked by target (403)", nil))
	}

	if retryableStatus(resp.StatusCode) {
		f.logOutcome(ctx, target, resp.StatusCode, false, start, nil)
		return "", apperrors.Proxy(fmt.Sprintf("target returned %d", resp.StatusCode), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logOutcome(ctx, target, resp.StatusCode, false, start, nil)
		if resp.StatusCode == http.StatusNotFound {
			return "", backoff.Permanent(apperrors.NotFound("target returned 404 for " + target))
		}
		return "", backoff.Permanent(apperrors.Proxy(fmt.Sprintf("target returned %d", resp.StatusCode), nil))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logOutcome(ctx, target, resp.StatusCode, false, start, err)
		return "", apperrors.Proxy("failed to read response body", err)
	}

	f.logOutcome(ctx, target, resp.StatusCode, true, start, nil)
	return string(data), nil
}

func (f *FetchClient) TestConnection(ctx context.Context) (bool, error) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipEchoURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (f *FetchClient) logOutcome(ctx context.Context, target string, status int, success bool, start time.Time, reqErr error) {
	if f.sink == nil {
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
	if err := f.sink.InsertRequestLog(ctx, entry); err != nil {
		f.logger.Warn("failed to record request outcome", "error", err)
	}
}
