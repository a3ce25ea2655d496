package health

import (
	"encoding/json"
	"net/http"
)

// ReadySource reports whether a routing table is live.
type ReadySource interface {
	Ready() bool
}

// LivenessHandler always answers 200 while the process serves HTTP.
func LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// ReadinessHandler answers 503 until src holds a published table.
func ReadinessHandler(src ReadySource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !src.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "no routing table published"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

// ProbesHandler lists the probe definitions, or runs them with ?check=1.
// Running probes answers 503 when any listener is unhealthy.
func ProbesHandler(c *Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("check") == "" {
			writeJSON(w, http.StatusOK, c.Probes())
			return
		}
		results := c.CheckAll(r.Context())
		code := http.StatusOK
		for _, res := range results {
			if res.Status != StatusHealthy {
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, results)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
