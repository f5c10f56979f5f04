// Package transport provides the two outbound clients used to fetch target
// pages through the proxy pool: a plain HTTP fetcher and a rendered,
// script-executing variant. Both share one contract and both rotate their
// network identity when the target starts blocking.
package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/proxy"
)

// Client is the shared fetch contract.
type Client interface {
	// Fetch returns the raw markup of url.
	Fetch(ctx context.Context, url string) (string, error)
	// Reset drops the cached network identity; the next Fetch acquires a
	// fresh one.
	Reset()
	// TestConnection issues a known-good request through the proxy.
	TestConnection(ctx context.Context) (bool, error)
}

// IdentityProvider is the slice of the credential pool the clients use.
type IdentityProvider interface {
	AcquireNetworkIdentity(ctx context.Context, sessionID string) (*proxy.NetworkIdentity, error)
	ForceRotate()
}

// RequestSink receives one outcome row per outbound request. May be nil.
type RequestSink interface {
	InsertRequestLog(ctx context.Context, log *models.RequestLog) error
}

// RetryPolicy bounds the backoff loop shared by both clients.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// retryableStatus reports whether an HTTP status is worth another attempt
// on the same identity. 403 is deliberately absent: it signals detection
// and is handled by rotation, not retry.
func retryableStatus(code int) bool {
	switch code {
	case 429, 502, 503:
		return true
	default:
		return false
	}
}

// transientNetErr reports whether err looks like a transient connection
// failure rather than a permanent one.
func transientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ipEchoURL is the known-good endpoint used by TestConnection.
const ipEchoURL = "https://api.ipify.org?format=json"
