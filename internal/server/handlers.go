package server

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds an analyze request body.
const maxBodyBytes = 1 << 20

// AnalyzeRequest is the POST /analyze body. Query is either a string (plain
// text or an encoded JSON request) or a JSON request object.
type AnalyzeRequest struct {
	Query jsoniter.RawMessage `json:"query"`
}

// Handlers serves the HTTP routes.
type Handlers struct {
	analyzer schemas.Analyzer
	log      *zap.Logger
}

// NewHandlers creates the route handlers.
func NewHandlers(analyzer schemas.Analyzer, logger *zap.Logger) *Handlers {
	return &Handlers{analyzer: analyzer, log: logger.Named("handlers")}
}

// RegisterRoutes mounts every route on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/analyze", h.HandleAnalyze)
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleAnalyze runs the pipeline. Pipeline failures are reported in the
// error field of a 200 response; only malformed requests get a 4xx.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	raw, ok := queryText(req.Query)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "query is required")
		return
	}

	observability.LoggerFor(r.Context(), h.log).Debug("Analyze request received", zap.Int("query_bytes", len(raw)))
	h.respond(w, http.StatusOK, h.analyzer.Run(r.Context(), raw))
}

// queryText unwraps a string query or passes an object query through as
// its JSON text.
func queryText(msg jsoniter.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	}
	return string(trimmed), true
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, map[string]string{"error": message})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
