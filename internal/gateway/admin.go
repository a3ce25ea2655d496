package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wudi/routeplane/internal/health"
)

// AdminHandler returns the admin mux.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()

	live := health.LivenessHandler()
	mux.Handle("/health", live)
	mux.Handle("/healthz", live)

	ready := health.ReadinessHandler(s.deps.Publisher)
	mux.Handle("/ready", ready)
	mux.Handle("/readyz", ready)

	if s.deps.Checker != nil {
		mux.Handle("/probes", health.ProbesHandler(s.deps.Checker))
	}
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
	mux.HandleFunc("/listeners", s.handleListeners)
	mux.HandleFunc("/version", s.handleVersion)
	if s.cfg.Admin.ConfigDump {
		mux.HandleFunc("/config", s.handleConfig)
	}
	return mux
}

func (s *Server) handleListeners(w http.ResponseWriter, _ *http.Request) {
	type listenerInfo struct {
		ID       string `json:"id"`
		Protocol string `json:"protocol"`
		Address  string `json:"address"`
	}

	ids := s.manager.List()
	result := make([]listenerInfo, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.manager.Get(id); ok {
			result = append(result, listenerInfo{ID: l.ID(), Protocol: l.Protocol(), Address: l.Addr()})
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       s.deps.Version,
		"table_version": s.deps.Publisher.Version(),
		"leader":        s.deps.Publisher.IsLeader(),
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleConfig dumps the live table as YAML, or JSON with ?format=json.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	tbl := s.deps.Publisher.Load()
	if tbl == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no routing table published"})
		return
	}
	doc := tbl.Document()

	var (
		body        []byte
		err         error
		contentType string
	)
	if r.URL.Query().Get("format") == "json" {
		body, err = doc.JSON()
		contentType = "application/json"
	} else {
		body, err = doc.YAML()
		contentType = "application/yaml"
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
