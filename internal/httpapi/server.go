// Package httpapi implements the HTTP surface (§6): the thin JSON/multipart
// layer the UI speaks to, translating each request into one call against
// internal/bridge.Engine and its collaborators.
//
// Router and middleware stack grounded on hackclub-news/main.go's own
// chi.NewRouter setup (RealIP, RequestID, Recoverer, Timeout). That example
// also reaches for middleware.Heartbeat, but its fixed "." response can't
// carry the {status,ts} JSON body §6 requires from GET /health, so this
// surface gives health its own handler instead. This surface also has no
// inbound-traffic trust boundary to add CORS/rate limiting for (it's a
// local bridge serving its own UI), so those two are left out rather than
// carried cargo-cult.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridge"
)

// Server holds the one collaborator every handler needs: the bridge engine.
type Server struct {
	engine *bridge.Engine
	log    *zap.Logger
}

// NewServer wraps engine. A nil engine.Log is never dereferenced; Server
// falls back to a no-op logger the same way the engine's own collaborators do.
func NewServer(engine *bridge.Engine) *Server {
	log := engine.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, log: log}
}

// NewRouter builds the full chi router for the HTTP surface (§6).
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", handleHealth)
	r.Post("/config/save", s.handleConfigSave)
	r.Post("/mail/sync", s.handleMailSync)
	r.Get("/sync/status", s.handleSyncStatus)
	r.Get("/mail/list", s.handleMailList)
	r.Get("/mail/{id}", s.handleMailGet)
	r.Post("/mail/mark", s.handleMailMark)
	r.Post("/mail/move", s.handleMailMove)
	r.Post("/mail/batch-delete", s.handleMailBatchDelete)
	r.Post("/mail/send", s.handleMailSend)
	r.Post("/mail/draft", s.handleMailDraft)

	r.Get("/labels", s.handleLabelsList)
	r.Post("/labels", s.handleLabelsPut)
	r.Delete("/labels", s.handleLabelsDelete)

	r.Get("/smart-rules", s.handleRulesList)
	r.Post("/smart-rules", s.handleRulesPut)
	r.Delete("/smart-rules", s.handleRulesDelete)

	r.Delete("/debug/reset", s.handleDebugReset)

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	TS     int64  `json:"ts"`
}

// handleHealth implements §6 GET /health, the UI's liveness probe.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{Status: "UP", TS: time.Now().UnixMilli()})
}

// writeJSON writes v as the response body with a 200 status, following
// hackclub-news's own json.NewEncoder(w).Encode handler-ending idiom.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus is writeJSON with an explicit non-200 status code.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
