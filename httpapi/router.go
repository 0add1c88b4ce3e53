package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouterOptions selects optional surfaces.
type RouterOptions struct {
	// MetricsHandler, when non-nil, is mounted at /metrics.
	MetricsHandler http.Handler
}

// NewRouter assembles the full HTTP surface.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(CanonicalLog)

	r.Get("/healthz", h.healthz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/ratelimit", func(r chi.Router) {
		r.Post("/check", h.checkRateLimit)

		r.Get("/config/patterns", h.listPatterns)
		r.Post("/config/reload", h.reloadConfigs)
		r.Get("/config/{key}", h.getConfig)
		r.Post("/config/keys/{key}", h.saveKeyConfig)
		r.Delete("/config/keys/{key}", h.deleteKeyConfig)
		r.Post("/config/patterns/{pattern}", h.savePatternConfig)
		r.Delete("/config/patterns/{pattern}", h.deletePatternConfig)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/keys", h.adminListKeys)
		r.Get("/stats", h.adminStats)
		r.Delete("/keys", h.adminResetKey)
		r.Delete("/keys/{pattern}", h.adminDeleteKeys)
		r.Post("/cache/clear", h.adminClearCache)
	})

	r.Route("/api/performance", func(r chi.Router) {
		r.Get("/history/{test}", h.baselineHistory)
		r.Post("/baseline/{test}", h.baselineStore)
		r.Post("/analyze/{test}", h.baselineAnalyze)
	})

	return r
}
