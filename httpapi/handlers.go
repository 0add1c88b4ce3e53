package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/baseline"
	"github.com/nhalm/ratekit/health"
	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/service"
	"github.com/nhalm/ratekit/store"
)

// Handlers carries the collaborators the boundary dispatches into.
type Handlers struct {
	Service   *service.Service
	Configs   *limitcfg.Service
	Store     store.Store
	Checker   *health.Checker
	Baselines *baseline.Tracker
	Log       zerolog.Logger
}

// checkRateLimit handles POST /api/ratelimit/check.
func (h *Handlers) checkRateLimit(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if req.Tokens == 0 {
		req.Tokens = 1
	}

	result, err := h.Service.Check(r.Context(), service.CheckRequest{
		Key:      req.Key,
		Tokens:   req.Tokens,
		ClientIP: req.ClientIP,
		Endpoint: req.Endpoint,
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, ErrInternal)
		return
	}

	resp := newCheckResponse(result)
	if result.Allowed {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))
	}
	w.Header().Set("Retry-After", strconv.FormatInt(int64(result.RetryAfter/time.Second), 10))
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// getConfig handles GET /api/ratelimit/config/{key}.
func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	key, ok := pathParam(w, r, "key")
	if !ok {
		return
	}
	cfg := h.Configs.GetConfig(r.Context(), key)
	writeJSON(w, http.StatusOK, cfg)
}

// saveKeyConfig handles POST /api/ratelimit/config/keys/{key}.
func (h *Handlers) saveKeyConfig(w http.ResponseWriter, r *http.Request) {
	key, ok := pathParam(w, r, "key")
	if !ok {
		return
	}
	var req configRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if err := h.Configs.SaveKeyConfig(r.Context(), key, req.toConfig()); err != nil {
		writeError(w, ErrBadRequest.With(err.Error()))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// savePatternConfig handles POST /api/ratelimit/config/patterns/{pattern}.
func (h *Handlers) savePatternConfig(w http.ResponseWriter, r *http.Request) {
	pat, ok := pathParam(w, r, "pattern")
	if !ok {
		return
	}
	var req configRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if err := h.Configs.SavePatternConfig(r.Context(), pat, req.toConfig()); err != nil {
		writeError(w, ErrBadRequest.With(err.Error()))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// deleteKeyConfig handles DELETE /api/ratelimit/config/keys/{key}.
func (h *Handlers) deleteKeyConfig(w http.ResponseWriter, r *http.Request) {
	key, ok := pathParam(w, r, "key")
	if !ok {
		return
	}
	if err := h.Configs.DeleteKeyConfig(r.Context(), key); err != nil {
		writeError(w, ErrInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deletePatternConfig handles DELETE /api/ratelimit/config/patterns/{pattern}.
func (h *Handlers) deletePatternConfig(w http.ResponseWriter, r *http.Request) {
	pat, ok := pathParam(w, r, "pattern")
	if !ok {
		return
	}
	if err := h.Configs.DeletePatternConfig(r.Context(), pat); err != nil {
		writeError(w, ErrInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listPatterns handles GET /api/ratelimit/config/patterns.
func (h *Handlers) listPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.Configs.GetAllPatterns(r.Context())
	if err != nil {
		writeError(w, ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

// reloadConfigs handles POST /api/ratelimit/config/reload.
func (h *Handlers) reloadConfigs(w http.ResponseWriter, r *http.Request) {
	if err := h.Configs.Reload(r.Context()); err != nil {
		writeError(w, ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// healthz handles GET /healthz.
func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	report := h.Checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// baselineHistory handles GET /api/performance/history/{test}.
func (h *Handlers) baselineHistory(w http.ResponseWriter, r *http.Request) {
	test, ok := pathParam(w, r, "test")
	if !ok {
		return
	}
	history, err := h.Baselines.History(r.Context(), test)
	if err != nil {
		writeError(w, ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// baselineStore handles POST /api/performance/baseline/{test}.
func (h *Handlers) baselineStore(w http.ResponseWriter, r *http.Request) {
	test, ok := pathParam(w, r, "test")
	if !ok {
		return
	}
	var result baseline.Result
	if !bindJSON(w, r, &result) {
		return
	}
	if err := h.Baselines.Store(r.Context(), test, result); err != nil {
		writeError(w, ErrInternal)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// baselineAnalyze handles POST /api/performance/analyze/{test}.
func (h *Handlers) baselineAnalyze(w http.ResponseWriter, r *http.Request) {
	test, ok := pathParam(w, r, "test")
	if !ok {
		return
	}
	var result baseline.Result
	if !bindJSON(w, r, &result) {
		return
	}
	report, err := h.Baselines.Analyze(r.Context(), test, result)
	if err != nil {
		writeError(w, ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// pathParam extracts and unescapes a chi route parameter.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	if err != nil || value == "" {
		writeError(w, ErrBadRequest.With("Missing or malformed "+name))
		return "", false
	}
	return value, true
}
