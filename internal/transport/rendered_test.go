package transport

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
)

// fakePage stands in for a live page by embedding the interface and
// overriding only what the client touches.
type fakePage struct {
	playwright.Page
	mu        sync.Mutex
	status    int
	title     string
	content   string
	canonical string
	gotoCalls int
}

func (p *fakePage) Goto(string, ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoCalls++
	return &fakeResponse{status: p.status}, nil
}

func (p *fakePage) Title() (string, error)   { return p.title, nil }
func (p *fakePage) Content() (string, error) { return p.content, nil }

func (p *fakePage) Locator(selector string, _ ...playwright.PageLocatorOptions) playwright.Locator {
	if strings.HasPrefix(selector, "link") {
		return &fakeLocator{value: p.canonical}
	}
	return &fakeLocator{}
}

func (p *fakePage) gotos() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotoCalls
}

type fakeResponse struct {
	playwright.Response
	status int
}

func (r *fakeResponse) Status() int { return r.status }

// embeddedLocator renames the embedded field: embedding playwright.Locator
// directly yields a field named Locator that shadows the interface's own
// Locator method, so *fakeLocator would not satisfy the interface.
type embeddedLocator = playwright.Locator

type fakeLocator struct {
	embeddedLocator
	value string
}

func (l *fakeLocator) First() playwright.Locator { return l }

func (l *fakeLocator) Count() (int, error) {
	if l.value == "" {
		return 0, nil
	}
	return 1, nil
}

func (l *fakeLocator) GetAttribute(string, ...playwright.LocatorGetAttributeOptions) (string, error) {
	return l.value, nil
}

func newRenderedClient(pool *fakePool, page *fakePage) *RenderedClient {
	c := NewRenderedClient(pool, nil, nil, RenderedOptions{
		MaxRetries: 3,
		RetryDelay: 1, // nanoseconds; tests should not sleep
	}, discardLogger())
	c.page = page
	return c
}

func TestRenderedFetchStopsOnBlock(t *testing.T) {
	pool := &fakePool{host: "proxy.example.com", port: 8080}
	page := &fakePage{status: 403}
	client := newRenderedClient(pool, page)

	_, err := client.Fetch(context.Background(), "https://site.example/Perfumes/Dior/Sauvage")

	require.Error(t, err)
	assert.Equal(t, apperrors.KindRateLimit, apperrors.KindOf(err))
	// A block burns the identity once; no blind re-navigation on the
	// replacement.
	assert.Equal(t, 1, page.gotos())
	assert.Equal(t, 1, pool.rotations())
	assert.Equal(t, 0, pool.acquisitions())
	assert.Nil(t, client.page)
}

func TestRenderedFetchTeardownOnContentMismatch(t *testing.T) {
	pool := &fakePool{host: "proxy.example.com", port: 8080}
	page := &fakePage{
		status:    200,
		title:     "Aventus by Creed",
		content:   "<html><body>Aventus</body></html>",
		canonical: "https://site.example/Perfumes/Creed/Aventus",
	}
	client := newRenderedClient(pool, page)

	_, err := client.Fetch(context.Background(), "https://site.example/Perfumes/Dior/Sauvage")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrContentMismatch)
	assert.False(t, apperrors.IsRetryable(err))
	// The whole execution context is discarded, not just the page.
	assert.Nil(t, client.page)
	assert.Equal(t, 1, page.gotos())
}

func TestIdentityMismatch(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		canonical string
		wantErr   bool
	}{
		{
			name:      "Matching identity",
			target:    "https://site.example/Perfumes/Dior/Sauvage",
			canonical: "https://site.example/Perfumes/Dior/Sauvage",
		},
		{
			name:      "Case differs only",
			target:    "https://site.example/Perfumes/Dior/Sauvage",
			canonical: "https://site.example/Perfumes/dior/sauvage",
		},
		{
			name:      "Different fragrance served",
			target:    "https://site.example/Perfumes/Dior/Sauvage",
			canonical: "https://site.example/Perfumes/Creed/Aventus",
			wantErr:   true,
		},
		{
			name:      "Same brand different name",
			target:    "https://site.example/Perfumes/Dior/Sauvage",
			canonical: "https://site.example/Perfumes/Dior/Homme",
			wantErr:   true,
		},
		{
			name:   "No canonical on page",
			target: "https://site.example/Perfumes/Dior/Sauvage",
		},
		{
			name:      "Target is not a detail page",
			target:    "https://site.example/s_perfumes_x.php?in=1&filter=sauvage",
			canonical: "https://site.example/Perfumes/Creed/Aventus",
		},
		{
			name:      "Canonical is not a detail page",
			target:    "https://site.example/Perfumes/Dior/Sauvage",
			canonical: "https://site.example/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identityMismatch(tt.target, tt.canonical)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrContentMismatch)
				assert.Equal(t, apperrors.KindScraper, apperrors.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsChallengePage(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		content   string
		challenge bool
	}{
		{
			name:      "Interstitial title",
			title:     "Just a moment...",
			challenge: true,
		},
		{
			name:      "Browser check in body",
			content:   "<p>Checking your browser before accessing the site.</p>",
			challenge: true,
		},
		{
			name:      "Challenge script marker",
			content:   `<script src="/cdn-cgi/challenge-platform/x.js"></script>`,
			challenge: true,
		},
		{
			name:    "Regular detail page",
			title:   "Sauvage by Dior",
			content: "<html><body>Longevity 7.4</body></html>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.challenge, isChallengePage(tt.title, tt.content))
		})
	}
}
