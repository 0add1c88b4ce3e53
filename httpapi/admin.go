package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nhalm/ratekit/pattern"
)

// keyInfo describes one active store key on the admin surface.
type keyInfo struct {
	Key  string `json:"key"`
	Type string `json:"type"`
	TTL  int64  `json:"ttlSeconds"`
}

// systemStats counts store keys by namespace.
type systemStats struct {
	TotalKeys   int `json:"totalKeys"`
	BucketKeys  int `json:"bucketKeys"`
	SlidingKeys int `json:"slidingKeys"`
	SwcKeys     int `json:"swcKeys"`
	FixedKeys   int `json:"fixedKeys"`
	LeakyKeys   int `json:"leakyKeys"`
	ConfigKeys  int `json:"configKeys"`
}

var keyTypes = map[string]string{
	"ratelimit:bucket:":  "TOKEN_BUCKET",
	"ratelimit:sliding:": "SLIDING_WINDOW",
	"ratelimit:swc:":     "SLIDING_WINDOW_COUNTER",
	"ratelimit:fixed:":   "FIXED_WINDOW",
	"ratelimit:leaky:":   "LEAKY_BUCKET",
}

// adminListKeys handles GET /api/admin/keys?limit=N.
func (h *Handlers) adminListKeys(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, ErrBadRequest.With("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	keys, err := h.Store.Scan(r.Context(), "ratelimit:")
	if err != nil {
		writeError(w, ErrInternal)
		return
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}

	infos := make([]keyInfo, 0, len(keys))
	for _, key := range keys {
		ttl, err := h.Store.TTL(r.Context(), key)
		if err != nil {
			continue
		}
		infos = append(infos, keyInfo{
			Key:  key,
			Type: classifyKey(key),
			TTL:  int64(ttl.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// adminStats handles GET /api/admin/stats.
func (h *Handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	limiterKeys, err := h.Store.Scan(r.Context(), "ratelimit:")
	if err != nil {
		writeError(w, ErrInternal)
		return
	}
	configKeys, err := h.Store.Scan(r.Context(), "config:")
	if err != nil {
		writeError(w, ErrInternal)
		return
	}

	stats := systemStats{
		TotalKeys:  len(limiterKeys) + len(configKeys),
		ConfigKeys: len(configKeys),
	}
	for _, key := range limiterKeys {
		switch classifyKey(key) {
		case "TOKEN_BUCKET":
			stats.BucketKeys++
		case "SLIDING_WINDOW":
			stats.SlidingKeys++
		case "SLIDING_WINDOW_COUNTER":
			stats.SwcKeys++
		case "FIXED_WINDOW":
			stats.FixedKeys++
		case "LEAKY_BUCKET":
			stats.LeakyKeys++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// adminResetKey handles DELETE /api/admin/keys?key=K. Resets the bucket
// through the algorithm its configuration names.
func (h *Handlers) adminResetKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, ErrBadRequest.With("key query parameter is required"))
		return
	}
	if err := h.Service.Reset(r.Context(), key); err != nil {
		writeError(w, ErrInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminDeleteKeys handles DELETE /api/admin/keys/{pattern}: bulk removal of
// raw store keys matching a wildcard pattern.
func (h *Handlers) adminDeleteKeys(w http.ResponseWriter, r *http.Request) {
	pat, ok := pathParam(w, r, "pattern")
	if !ok {
		return
	}

	compiled, err := pattern.Compile(pat, 0)
	if err != nil {
		writeError(w, ErrBadRequest.With("malformed key pattern"))
		return
	}

	prefix := pat
	if idx := strings.Index(pat, "*"); idx >= 0 {
		prefix = pat[:idx]
	}
	keys, err := h.Store.Scan(r.Context(), prefix)
	if err != nil {
		writeError(w, ErrInternal)
		return
	}

	matched := keys[:0]
	for _, key := range keys {
		if compiled.Matches(key) {
			matched = append(matched, key)
		}
	}
	if len(matched) > 0 {
		if err := h.Store.Delete(r.Context(), matched...); err != nil {
			writeError(w, ErrInternal)
			return
		}
		h.Log.Info().Int("count", len(matched)).Str("pattern", pat).Msg("deleted keys by pattern")
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminClearCache handles POST /api/admin/cache/clear: drops both config
// caches and rebuilds the pattern set from the store.
func (h *Handlers) adminClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.Configs.Reload(r.Context()); err != nil {
		writeError(w, ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "cleared",
		"cache":  h.Configs.Stats(),
	})
}

func classifyKey(key string) string {
	for prefix, typ := range keyTypes {
		if strings.HasPrefix(key, prefix) {
			return typ
		}
	}
	return "UNKNOWN"
}
