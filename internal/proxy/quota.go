package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parfumdev/fragrance-scraper/internal/proxyapi"
)

// UsageReader is the slice of the provisioning client the tracker needs.
type UsageReader interface {
	GetTrafficUsage(ctx context.Context, username string) (*proxyapi.Usage, error)
}

// QuotaTracker normalizes provider usage data and holds the configured
// near-limit threshold. It never mutates credential state itself; readings
// are returned to the caller, which applies them under its own lock.
type QuotaTracker struct {
	reader    UsageReader
	warnBytes func(quota int64) int64
	logger    *slog.Logger
}

func NewQuotaTracker(reader UsageReader, warnBytes func(quota int64) int64, logger *slog.Logger) *QuotaTracker {
	return &QuotaTracker{
		reader:    reader,
		warnBytes: warnBytes,
		logger:    logger.With("component", "quota_tracker"),
	}
}

// Read fetches the current normalized usage for one identity. Callers treat
// a credential that cannot be verified as near-limit and rotate away from it
// instead of silently overusing.
func (t *QuotaTracker) Read(ctx context.Context, identity string) (*proxyapi.Usage, error) {
	usage, err := t.reader.GetTrafficUsage(ctx, identity)
	if err != nil {
		t.logger.Warn("quota check failed, assuming near-limit",
			"identity", identity, "error", err)
		return nil, fmt.Errorf("quota check for %s failed: %w", identity, err)
	}
	return usage, nil
}

// WarnBytes is the near-limit threshold for a given quota.
func (t *QuotaTracker) WarnBytes(quota int64) int64 {
	return t.warnBytes(quota)
}
