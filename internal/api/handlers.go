package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parfumdev/fragrance-scraper/internal/apperrors"
	"github.com/parfumdev/fragrance-scraper/internal/proxy"
	"github.com/parfumdev/fragrance-scraper/internal/scraper"
	"github.com/parfumdev/fragrance-scraper/internal/transport"
)

type Handlers struct {
	scraper *scraper.Service
	pool    *proxy.Pool
	client  transport.Client
	logger  *slog.Logger
}

func NewHandlers(scraper *scraper.Service, pool *proxy.Pool, client transport.Client, logger *slog.Logger) *Handlers {
	return &Handlers{
		scraper: scraper,
		pool:    pool,
		client:  client,
		logger:  logger.With("component", "api"),
	}
}

// envelope is the uniform response wrapper every endpoint returns.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *apiError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handlers) respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Timestamp: time.Now()})
}

func (h *Handlers) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := string(apperrors.KindInternal)
	message := "internal error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		kind = string(appErr.Kind)
		message = appErr.Message
	}

	// Operational failures are expected noise; anything else is a defect
	// worth an error-level record.
	if apperrors.IsOperational(err) {
		h.logger.Warn("request failed", "kind", kind, "error", err)
	} else {
		h.logger.Error("unexpected failure", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Success:   false,
		Error:     &apiError{Kind: kind, Message: message},
		Timestamp: time.Now(),
	})
}

// Search handles GET /api/search?q=
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.respondErr(w, apperrors.Validation("query parameter q is required"))
		return
	}

	results, err := h.scraper.Search(r.Context(), query)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, results)
}

// GetFragrance handles GET /api/fragrances/{brand}/{name}?year=
func (h *Handlers) GetFragrance(w http.ResponseWriter, r *http.Request) {
	brand := chi.URLParam(r, "brand")
	name := chi.URLParam(r, "name")

	year := 0
	if y := r.URL.Query().Get("year"); y != "" {
		parsed, err := strconv.Atoi(y)
		if err != nil {
			h.respondErr(w, apperrors.Validation("year must be numeric"))
			return
		}
		year = parsed
	}

	frag, err := h.scraper.GetFragrance(r.Context(), brand, name, year)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, frag)
}

// GetFragranceByURL handles GET /api/fragrances?url=
func (h *Handlers) GetFragranceByURL(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.respondErr(w, apperrors.Validation("query parameter url is required"))
		return
	}

	frag, err := h.scraper.GetFragranceByURL(r.Context(), url)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, frag)
}

// ListByBrand handles GET /api/brands/{brand}
func (h *Handlers) ListByBrand(w http.ResponseWriter, r *http.Request) {
	frags, err := h.scraper.ListByBrand(r.Context(), chi.URLParam(r, "brand"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, frags)
}

// ClearCache handles DELETE /api/cache?type=
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = "all"
	}

	if err := h.scraper.ClearCache(r.Context(), typ); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, map[string]string{"cleared": typ})
}

// ProxyStatus handles GET /api/proxy/status
func (h *Handlers) ProxyStatus(w http.ResponseWriter, r *http.Request) {
	h.respondData(w, http.StatusOK, h.pool.Statistics())
}

// CreateCredential handles POST /api/proxy/credentials
func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.pool.CreateCredential(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusCreated, cred)
}

type importCredentialRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// ImportCredential handles POST /api/proxy/credentials/import
func (h *Handlers) ImportCredential(w http.ResponseWriter, r *http.Request) {
	var req importCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(w, apperrors.Validation("invalid request body"))
		return
	}

	cred, err := h.pool.ImportCredential(r.Context(), req.Identity, req.Secret)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusCreated, cred)
}

// ListCredentials handles GET /api/proxy/credentials
func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	h.respondData(w, http.StatusOK, h.pool.Credentials())
}

// ForceRotate handles POST /api/proxy/rotate
func (h *Handlers) ForceRotate(w http.ResponseWriter, r *http.Request) {
	h.pool.ForceRotate()
	h.client.Reset()
	h.respondData(w, http.StatusOK, map[string]string{"status": "rotated"})
}

// TestConnection handles GET /api/proxy/test
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	ok, err := h.client.TestConnection(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondData(w, http.StatusOK, map[string]bool{"connected": ok})
}
