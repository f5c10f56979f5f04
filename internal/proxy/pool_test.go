package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/models"
	"github.com/parfumdev/fragrance-scraper/internal/proxyapi"
)

type fakeUsageReader struct {
	mu    sync.Mutex
	usage map[string]proxyapi.Usage
	errs  map[string]error
}

func (f *fakeUsageReader) GetTrafficUsage(_ context.Context, username string) (*proxyapi.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[username]; ok {
		return nil, err
	}
	u, ok := f.usage[username]
	if !ok {
		return nil, errors.New("sub-user " + username + " not found upstream")
	}
	return &u, nil
}

func (f *fakeUsageReader) setUsed(username string, used int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.usage[username]
	u.UsedBytes = used
	f.usage[username] = u
}

type fakeStore struct {
	mu       sync.Mutex
	creds    []*models.Credential
	upserted []string
}

func (f *fakeStore) UpsertCredential(_ context.Context, cred *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, cred.Identity)
	return nil
}

func (f *fakeStore) ListCredentials(_ context.Context) ([]*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds, nil
}

type fakeProvisioner struct {
	subUsers map[string]*proxyapi.SubUser
	created  []string
}

func (f *fakeProvisioner) CreateSubUser(_ context.Context, username, password, serviceType string, quotaBytes int64) (*proxyapi.SubUser, error) {
	f.created = append(f.created, username)
	return &proxyapi.SubUser{
		ID:           "id-" + username,
		Username:     username,
		Password:     password,
		ServiceType:  serviceType,
		TrafficLimit: quotaBytes,
	}, nil
}

func (f *fakeProvisioner) FindSubUser(_ context.Context, username string) (*proxyapi.SubUser, error) {
	return f.subUsers[username], nil
}

const (
	testQuota = int64(1_000_000_000)
	testWarn  = int64(900_000_000)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, reader *fakeUsageReader, store *fakeStore, prov *fakeProvisioner) *Pool {
	t.Helper()
	logger := testLogger()
	tracker := NewQuotaTracker(reader, func(int64) int64 { return testWarn }, logger)
	pool := NewPool(PoolConfig{
		Host:       "proxy.example.com",
		Port:       8080,
		Geo:        "de",
		QuotaBytes: testQuota,
	}, store, prov, tracker, logger)
	require.NoError(t, pool.Load(context.Background()))
	return pool
}

func cred(identity, secret string) *models.Credential {
	return &models.Credential{
		ID:         "id-" + identity,
		Identity:   identity,
		Secret:     secret,
		QuotaBytes: testQuota,
		Status:     models.CredentialActive,
	}
}

func TestAcquireNetworkIdentity(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "pass1")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	identity, err := pool.AcquireNetworkIdentity(context.Background(), "abc12345")
	require.NoError(t, err)

	assert.Equal(t, "sub1-co-de-sid-abc12345", identity.Username)
	assert.Equal(t, "pass1", identity.Password)
	assert.Equal(t, "abc12345", identity.SessionID)
	assert.Equal(t, "http://proxy.example.com:8080", identity.Server())

	// Usage readings are persisted as they are taken.
	assert.Contains(t, store.upserted, "sub1")
}

func TestAcquireGeneratesSessionID(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "pass1")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	identity, err := pool.AcquireNetworkIdentity(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, identity.SessionID, 8)
}

func TestAcquireReusesSelectionWhileNearLimit(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 0, QuotaBytes: testQuota},
		"sub2": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1"), cred("sub2", "p2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	var events []Event
	pool.Notify(func(ev Event) { events = append(events, ev) })

	first, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, first.Username, "sub1-")

	// Burn sub1 close to its quota: it stays selected because it is still
	// active, but a near-limit notification fires.
	reader.setUsed("sub1", 950_000_000)

	second, err := pool.AcquireNetworkIdentity(context.Background(), "s2")
	require.NoError(t, err)
	assert.Contains(t, second.Username, "sub1-")

	require.NotEmpty(t, events)
	assert.Equal(t, EventNearLimit, events[len(events)-1].Type)
	assert.Equal(t, "sub1", events[len(events)-1].Identity)
	assert.Equal(t, int64(950_000_000), events[len(events)-1].Used)
}

func TestAcquireRotatesOnExhaustion(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 0, QuotaBytes: testQuota},
		"sub2": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1"), cred("sub2", "p2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	var events []Event
	pool.Notify(func(ev Event) { events = append(events, ev) })

	_, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.NoError(t, err)

	reader.setUsed("sub1", testQuota)

	identity, err := pool.AcquireNetworkIdentity(context.Background(), "s2")
	require.NoError(t, err)
	assert.Contains(t, identity.Username, "sub2-", "exhaustion must rotate to the next credential")

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventExhausted)

	stats := pool.Statistics()
	assert.Equal(t, "sub2", stats.SelectedIdentity)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Equal(t, 1, stats.Active)
}

func TestAcquireSkipsNearLimitOnFreshScan(t *testing.T) {
	// No prior selection: a near-limit credential must not be picked up for
	// a new fetch sequence while a fresh one exists.
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 950_000_000, QuotaBytes: testQuota},
		"sub2": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1"), cred("sub2", "p2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	identity, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, identity.Username, "sub2-")
}

func TestAcquireNoCredentialAvailable(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: testQuota, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	var events []Event
	pool.Notify(func(ev Event) { events = append(events, ev) })

	_, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoCredential))
	assert.True(t, apperrors.IsRetryable(err), "replenishment can cure the condition")

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventReplenishmentNeeded)
}

func TestAcquireTreatsQuotaCheckFailureAsNearLimit(t *testing.T) {
	reader := &fakeUsageReader{
		usage: map[string]proxyapi.Usage{
			"sub2": {UsedBytes: 0, QuotaBytes: testQuota},
		},
		errs: map[string]error{"sub1": errors.New("upstream down")},
	}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1"), cred("sub2", "p2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	identity, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, identity.Username, "sub2-", "unverifiable credential must be rotated away from")
}

func TestForceRotate(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 0, QuotaBytes: testQuota},
		"sub2": {UsedBytes: 0, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "p1"), cred("sub2", "p2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	_, err := pool.AcquireNetworkIdentity(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "sub1", pool.Statistics().SelectedIdentity)

	pool.ForceRotate()
	assert.Empty(t, pool.Statistics().SelectedIdentity)

	// The next acquire scans fresh; with a new session the egress identity
	// changes even when the same sub-account wins the scan.
	identity, err := pool.AcquireNetworkIdentity(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "sub1-co-de-sid-s2", identity.Username)
	assert.Equal(t, "sub1", pool.Statistics().SelectedIdentity)
}

func TestCreateCredential(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{}}
	store := &fakeStore{}
	prov := &fakeProvisioner{}
	pool := newTestPool(t, reader, store, prov)

	created, err := pool.CreateCredential(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, created.Identity)
	assert.NotEmpty(t, created.Secret)
	assert.Equal(t, testQuota, created.QuotaBytes)
	assert.Equal(t, models.CredentialActive, created.Status)
	assert.Len(t, prov.created, 1)
	assert.Contains(t, store.upserted, created.Identity)
	assert.Equal(t, created.Identity, pool.Statistics().SelectedIdentity)
}

func TestImportCredential(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"known": {UsedBytes: 100, QuotaBytes: testQuota},
	}}
	store := &fakeStore{}
	prov := &fakeProvisioner{subUsers: map[string]*proxyapi.SubUser{
		"known": {ID: "id-known", Username: "known", TrafficLimit: testQuota, TrafficUsed: 100},
	}}
	pool := newTestPool(t, reader, store, prov)

	t.Run("Missing fields", func(t *testing.T) {
		_, err := pool.ImportCredential(context.Background(), "", "secret")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("Unknown upstream", func(t *testing.T) {
		_, err := pool.ImportCredential(context.Background(), "ghost", "secret")
		assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	})

	t.Run("Known sub-user", func(t *testing.T) {
		imported, err := pool.ImportCredential(context.Background(), "known", "secret")
		require.NoError(t, err)
		assert.Equal(t, "known", imported.Identity)
		assert.Equal(t, int64(100), imported.UsedBytes)
		assert.Equal(t, models.CredentialActive, imported.Status)
	})

	t.Run("Duplicate import rejected", func(t *testing.T) {
		_, err := pool.ImportCredential(context.Background(), "known", "secret")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestFormatProxyLogin(t *testing.T) {
	login := FormatProxyLogin("sub1", "us", "deadbeef")
	assert.Equal(t, "sub1-co-us-sid-deadbeef", login)
}

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.Len(t, a, 8)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

// Acquisitions mutate credential usage while stats endpoints read it; both
// sides must go through the pool lock. Run with -race.
func TestConcurrentAcquireAndStatistics(t *testing.T) {
	reader := &fakeUsageReader{usage: map[string]proxyapi.Usage{
		"sub1": {UsedBytes: 100, QuotaBytes: testQuota},
		"sub2": {UsedBytes: 200, QuotaBytes: testQuota},
	}}
	store := &fakeStore{creds: []*models.Credential{cred("sub1", "pass1"), cred("sub2", "pass2")}}
	pool := newTestPool(t, reader, store, &fakeProvisioner{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reader.setUsed("sub1", int64(j)*1000)
				if _, err := pool.AcquireNetworkIdentity(context.Background(), NewSessionID()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				stats := pool.Statistics()
				assert.Equal(t, 2, stats.Total)
				for _, c := range pool.Credentials() {
					assert.NotEmpty(t, c.Identity)
				}
			}
		}()
	}
	wg.Wait()
}
