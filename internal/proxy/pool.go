package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/proxyapi"
)

// EventType identifies a credential lifecycle notification.
type EventType string

const (
	EventNearLimit           EventType = "near_limit"
	EventExhausted           EventType = "exhausted"
	EventReplenishmentNeeded EventType = "replenishment_needed"
)

type Event struct {
	Type     EventType
	Identity string
	Used     int64
	Quota    int64
	At       time.Time
}

// NetworkIdentity is everything a transport client needs to route one
// session through the proxy network.
type NetworkIdentity struct {
	Host      string
	Port      int
	Username  string
	Password  string
	SessionID string
}

func (n NetworkIdentity) Server() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// CredentialStore is the persistence contract the pool depends on.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *models.Credential) error
	ListCredentials(ctx context.Context) ([]*models.Credential, error)
}

// Provisioner is the slice of the provider client used for credential
// lifecycle operations.
type Provisioner interface {
	CreateSubUser(ctx context.Context, username, password, serviceType string, quotaBytes int64) (*proxyapi.SubUser, error)
	FindSubUser(ctx context.Context, username string) (*proxyapi.SubUser, error)
}

type PoolConfig struct {
	Host          string
	Port          int
	Geo           string
	QuotaBytes    int64
	CheckInterval time.Duration
}

// Pool tracks the metered sub-account set, hands transport clients a usable
// network identity and raises lifecycle events as credentials burn down.
// It never creates a credential on its own; replenishment is an explicit,
// costly operation.
type Pool struct {
	cfg         PoolConfig
	store       CredentialStore
	provisioner Provisioner
	tracker     *QuotaTracker
	logger      *slog.Logger

	mu        sync.Mutex
	creds     []*models.Credential
	selected  *models.Credential
	observers []func(Event)
}

func NewPool(cfg PoolConfig, store CredentialStore, provisioner Provisioner, tracker *QuotaTracker, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:         cfg,
		store:       store,
		provisioner: provisioner,
		tracker:     tracker,
		logger:      logger.With("component", "proxy_pool"),
	}
}

// Load restores the persisted credential set. Call once at startup.
func (p *Pool) Load(ctx context.Context) error {
	creds, err := p.store.ListCredentials(ctx)
	if err != nil {
		return apperrors.Database("failed to load credentials", err)
	}

	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()

	p.logger.Info("credential pool loaded", "count", len(creds))
	return nil
}

// Notify registers an observer for lifecycle events. Not safe to call after
// the pool is in use.
func (p *Pool) Notify(fn func(Event)) {
	p.observers = append(p.observers, fn)
}

func (p *Pool) emit(ev Event) {
	ev.At = time.Now()
	for _, fn := range p.observers {
		fn(ev)
	}
}

// AcquireNetworkIdentity selects a usable credential and formats the proxy
// login for it. A previously selected credential is reused when a fresh
// quota check still classifies it usable; otherwise the known set is
// scanned in insertion order. When nothing is usable the caller gets a
// retryable no-credential error and a replenishment event fires.
func (p *Pool) AcquireNetworkIdentity(ctx context.Context, sessionID string) (*NetworkIdentity, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	p.mu.Lock()
	selected := p.selected
	p.mu.Unlock()

	if selected != nil {
		// A cached selection is kept while it is still Active, even when
		// near-limit; the near-limit event warns operators without forcing
		// a rotation mid-sequence.
		active, _ := p.checkAndPersist(ctx, selected)
		if active {
			return p.identityFor(selected, sessionID), nil
		}
	}

	p.mu.Lock()
	candidates := make([]*models.Credential, 0, len(p.creds))
	for _, cred := range p.creds {
		if cred == selected || cred.Status == models.CredentialError {
			continue
		}
		candidates = append(candidates, cred)
	}
	p.mu.Unlock()

	for _, cred := range candidates {
		// A fresh selection must have headroom: near-limit credentials are
		// skipped so a new fetch sequence does not start on a dying one.
		if active, nearLimit := p.checkAndPersist(ctx, cred); active && !nearLimit {
			p.mu.Lock()
			p.selected = cred
			p.mu.Unlock()
			p.logger.Info("selected proxy credential", "identity", cred.Identity)
			return p.identityFor(cred, sessionID), nil
		}
	}

	p.mu.Lock()
	p.selected = nil
	p.mu.Unlock()

	p.emit(Event{Type: EventReplenishmentNeeded})
	return nil, apperrors.Proxy("no credential available", apperrors.ErrNoCredential)
}

// checkAndPersist runs a quota check and reports (active, nearLimit). The
// upstream read happens without the lock; credential state may have been
// mutated by another caller in the meantime, so the reading is applied and
// the credential reclassified under p.mu.
func (p *Pool) checkAndPersist(ctx context.Context, cred *models.Credential) (bool, bool) {
	usage, err := p.tracker.Read(ctx, cred.Identity)
	if err != nil {
		// Fail toward rotation, not silent overuse.
		return false, true
	}

	p.mu.Lock()
	wasExhausted := cred.Status == models.CredentialExhausted
	cred.UsedBytes = usage.UsedBytes
	if usage.QuotaBytes > 0 {
		cred.QuotaBytes = usage.QuotaBytes
	}
	cred.LastCheckedAt = time.Now()
	status, nearLimit := cred.Classify(p.tracker.WarnBytes(cred.QuotaBytes))
	cred.Status = status
	snapshot := *cred
	p.mu.Unlock()

	if err := p.store.UpsertCredential(ctx, &snapshot); err != nil {
		p.logger.Error("failed to persist credential usage", "identity", snapshot.Identity, "error", err)
	}

	if status == models.CredentialExhausted {
		if !wasExhausted {
			p.logger.Warn("credential exhausted", "identity", snapshot.Identity,
				"used", snapshot.UsedBytes, "quota", snapshot.QuotaBytes)
			p.emit(Event{Type: EventExhausted, Identity: snapshot.Identity, Used: snapshot.UsedBytes, Quota: snapshot.QuotaBytes})
		}
		return false, false
	}

	if nearLimit {
		p.emit(Event{Type: EventNearLimit, Identity: snapshot.Identity, Used: snapshot.UsedBytes, Quota: snapshot.QuotaBytes})
	}
	return true, nearLimit
}

func (p *Pool) identityFor(cred *models.Credential, sessionID string) *NetworkIdentity {
	return &NetworkIdentity{
		Host:      p.cfg.Host,
		Port:      p.cfg.Port,
		Username:  FormatProxyLogin(cred.Identity, p.cfg.Geo, sessionID),
		Password:  cred.Secret,
		SessionID: sessionID,
	}
}

// CreateCredential provisions a new sub-account upstream, persists it and
// makes it the active selection. Provisioning is not retried.
func (p *Pool) CreateCredential(ctx context.Context) (*models.Credential, error) {
	identity := "frag_" + strings.ReplaceAll(uuid.New().String()[:13], "-", "")
	secret := strings.ReplaceAll(uuid.New().String(), "-", "")[:20]

	su, err := p.provisioner.CreateSubUser(ctx, identity, secret, "residential", p.cfg.QuotaBytes)
	if err != nil {
		return nil, apperrors.Proxy("provisioning failed", err)
	}

	cred := &models.Credential{
		ID:            su.ID,
		Identity:      su.Username,
		Secret:        secret,
		QuotaBytes:    p.cfg.QuotaBytes,
		Status:        models.CredentialActive,
		CreatedAt:     time.Now(),
		LastCheckedAt: time.Now(),
	}
	if su.TrafficLimit > 0 {
		cred.QuotaBytes = su.TrafficLimit
	}

	if err := p.store.UpsertCredential(ctx, cred); err != nil {
		return nil, apperrors.Database("failed to persist new credential", err)
	}

	p.mu.Lock()
	p.creds = append(p.creds, cred)
	p.selected = cred
	p.mu.Unlock()

	p.logger.Info("provisioned new proxy credential", "identity", cred.Identity,
		"quota", cred.QuotaBytes, "secret", cred.MaskedSecret())
	return cred, nil
}

// ImportCredential registers a sub-account that was provisioned out-of-band.
func (p *Pool) ImportCredential(ctx context.Context, identity, secret string) (*models.Credential, error) {
	if identity == "" || secret == "" {
		return nil, apperrors.Validation("identity and secret are required")
	}

	p.mu.Lock()
	for _, c := range p.creds {
		if c.Identity == identity {
			p.mu.Unlock()
			return nil, apperrors.Validation("credential already imported: " + identity)
		}
	}
	p.mu.Unlock()

	su, err := p.provisioner.FindSubUser(ctx, identity)
	if err != nil {
		return nil, apperrors.Proxy("failed to look up sub-user", err)
	}
	if su == nil {
		return nil, apperrors.NotFound("sub-user not known upstream: " + identity)
	}

	cred := &models.Credential{
		ID:         su.ID,
		Identity:   identity,
		Secret:     secret,
		QuotaBytes: su.TrafficLimit,
		UsedBytes:  su.TrafficUsed,
		CreatedAt:  time.Now(),
	}
	if cred.QuotaBytes == 0 {
		cred.QuotaBytes = p.cfg.QuotaBytes
	}

	// Pull a fresh reading so status reflects reality, not the listing.
	// The credential is still local here, so no lock is needed yet.
	if usage, err := p.tracker.Read(ctx, identity); err == nil {
		cred.UsedBytes = usage.UsedBytes
		if usage.QuotaBytes > 0 {
			cred.QuotaBytes = usage.QuotaBytes
		}
		cred.LastCheckedAt = time.Now()
	}
	cred.Status, _ = cred.Classify(p.tracker.WarnBytes(cred.QuotaBytes))

	if err := p.store.UpsertCredential(ctx, cred); err != nil {
		return nil, apperrors.Database("failed to persist imported credential", err)
	}

	p.mu.Lock()
	p.creds = append(p.creds, cred)
	p.mu.Unlock()

	p.logger.Info("imported proxy credential", "identity", identity)
	return cred, nil
}

// ForceRotate drops the current selection so the next acquire scans fresh.
func (p *Pool) ForceRotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected != nil {
		p.logger.Info("forcing credential rotation", "identity", p.selected.Identity)
	}
	p.selected = nil
}

type Statistics struct {
	Total            int    `json:"total"`
	Active           int    `json:"active"`
	Exhausted        int    `json:"exhausted"`
	UsedBytes        int64  `json:"used_bytes"`
	QuotaBytes       int64  `json:"quota_bytes"`
	SelectedIdentity string `json:"selected_identity,omitempty"`
}

func (p *Pool) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Statistics{Total: len(p.creds)}
	for _, c := range p.creds {
		switch c.Status {
		case models.CredentialActive:
			stats.Active++
		case models.CredentialExhausted:
			stats.Exhausted++
		}
		stats.UsedBytes += c.UsedBytes
		stats.QuotaBytes += c.QuotaBytes
	}
	if p.selected != nil {
		stats.SelectedIdentity = p.selected.Identity
	}
	return stats
}

// Credentials returns a snapshot of the known credential set.
func (p *Pool) Credentials() []models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, *c)
	}
	return out
}

// Watch re-checks the selected credential at a fixed interval so exhaustion
// is detected even when no requests are flowing. Blocks until ctx is done.
func (p *Pool) Watch(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			selected := p.selected
			p.mu.Unlock()

			if selected == nil {
				continue
			}
			if active, _ := p.checkAndPersist(ctx, selected); !active {
				p.mu.Lock()
				if p.selected == selected {
					p.selected = nil
				}
				p.mu.Unlock()
			}
		}
	}
}

// FormatProxyLogin builds the provider's per-request login string encoding
// credential identity, target geography and sticky-session token.
func FormatProxyLogin(identity, geo, sessionID string) string {
	return fmt.Sprintf("%s-co-%s-sid-%s", identity, geo, sessionID)
}

// NewSessionID returns a fresh sticky-session token. Consecutive requests
// carrying the same token egress from the same upstream IP.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
