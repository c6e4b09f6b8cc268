package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/config"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	collyfetcher "github.com/JakeFAU/corpus-refinery/internal/fetcher/colly"
	"github.com/JakeFAU/corpus-refinery/internal/metrics"
	"github.com/JakeFAU/corpus-refinery/internal/pipeline"
	"github.com/JakeFAU/corpus-refinery/internal/urlcache"
	"github.com/JakeFAU/corpus-refinery/internal/workflow"
)

// Deps are the collaborators behind the HTTP handlers. Pipeline is required.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Workflow workflow.Client
	Cache    corpus.URLCache
	Policy   *urlcache.Policy
	Gatherer prometheus.Gatherer
	HTTP     *metrics.HTTP
	// Ready reports downstream readiness for /readyz.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the refinement pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

const requestTimeout = 60 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("api: pipeline is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if deps.HTTP != nil {
		r.Use(deps.HTTP.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Post("/documents", s.submitDocument)
		r.Post("/documents/batch", s.submitBatch)
		r.Post("/ingest", s.startIngest)
		r.Get("/stats", s.stats)
		r.Get("/stats/report", s.report)
		r.Get("/dedup/stats", s.dedupStats)
		r.Route("/cache", func(r chi.Router) {
			r.Get("/", s.cacheLookup)
			r.Delete("/", s.cacheInvalidate)
			r.Get("/policy", s.cachePolicy)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type documentRequest struct {
	URL         string `json:"url"`
	Category    string `json:"category"`
	Kind        string `json:"kind"`
	ContentType string `json:"content_type"`
	StatusCode  int    `json:"status_code"`
	// Content carries text or markup; Body carries base64 bytes (PDF).
	Content string `json:"content"`
	Body    []byte `json:"body"`
}

type batchRequest struct {
	Documents []documentRequest `json:"documents"`
}

type batchResponse struct {
	Outcomes []pipeline.Outcome `json:"outcomes"`
	Error    string             `json:"error,omitempty"`
}

func (s *Server) submitDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := toFetchResult(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.deps.Pipeline.Ingest(r.Context(), res)
	switch {
	case err == nil, errors.Is(err, corpus.ErrSkipped):
		writeJSON(w, http.StatusOK, out)
	default:
		s.logger.Warn("document failed", zap.String("url", res.URL), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, out)
	}
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents required")
		return
	}
	results := make([]corpus.FetchResult, 0, len(req.Documents))
	for i, doc := range req.Documents {
		res, err := toFetchResult(doc)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("documents[%d]: %s", i, err))
			return
		}
		results = append(results, res)
	}
	outcomes, err := s.deps.Pipeline.ProcessAll(r.Context(), results)
	resp := batchResponse{Outcomes: outcomes}
	if err != nil {
		resp.Error = err.Error()
		if ctxErr := r.Context().Err(); ctxErr != nil {
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	URLs            []string `json:"urls"`
	Category        string   `json:"category"`
	Force           bool     `json:"force"`
	PreserveHeaders *bool    `json:"preserve_headers"`
}

type ingestResponse struct {
	SessionID  string                 `json:"session_id"`
	WorkflowID string                 `json:"workflow_id"`
	RunID      string                 `json:"run_id,omitempty"`
	Simulated  bool                   `json:"simulated"`
	Result     *workflow.IngestResult `json:"result,omitempty"`
}

func (s *Server) startIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workflow == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow client not configured")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	wreq := workflow.IngestRequest{
		SessionID:       uuid.NewString(),
		URLs:            req.URLs,
		Category:        req.Category,
		Force:           req.Force,
		PreserveHeaders: valueOrDefault(req.PreserveHeaders, true),
	}
	run, err := s.deps.Workflow.StartIngest(r.Context(), wreq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		SessionID:  wreq.SessionID,
		WorkflowID: run.WorkflowID,
		RunID:      run.RunID,
		Simulated:  run.Simulated,
		Result:     run.Result,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	details, err := parseDetails(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Metrics().Snapshot(details))
}

func (s *Server) report(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(s.deps.Pipeline.Metrics().Report())); err != nil {
		s.logger.Error("report write failed", zap.Error(err))
	}
}

func (s *Server) dedupStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Dedup().Stats())
}

type cacheEntry struct {
	Row    corpus.CachedURL `json:"row"`
	MaxAge string           `json:"max_age"`
	Fresh  bool             `json:"fresh"`
}

func (s *Server) cacheLookup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "url cache not configured")
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	row, ok, err := s.deps.Cache.Lookup(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "url not cached")
		return
	}
	entry := cacheEntry{Row: row}
	if s.deps.Policy != nil {
		entry.MaxAge = s.deps.Policy.MaxAge(row.URL, row.Category).String()
		entry.Fresh = s.deps.Policy.IsFresh(row, "")
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "url cache not configured")
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context(), url); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "status": "invalidated"})
}

func (s *Server) cachePolicy(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Policy == nil {
		writeError(w, http.StatusNotFound, "url cache not configured")
		return
	}
	out := make(map[string]string)
	for category, age := range s.deps.Policy.Strategies() {
		out[category] = age.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"max_ages": out})
}

func toFetchResult(req documentRequest) (corpus.FetchResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return corpus.FetchResult{}, errors.New("url required")
	}
	body := req.Body
	if req.Content != "" {
		body = []byte(req.Content)
	}
	kind := corpus.SourceKind(strings.ToLower(req.Kind))
	switch kind {
	case corpus.SourceHTML, corpus.SourceText, corpus.SourcePDF:
	case "":
		kind = collyfetcher.DetectKind(req.URL, req.ContentType)
	default:
		return corpus.FetchResult{}, fmt.Errorf("unsupported kind %q", req.Kind)
	}
	if kind != corpus.SourcePDF && len(body) == 0 {
		return corpus.FetchResult{}, errors.New("content required")
	}
	status := req.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return corpus.FetchResult{
		URL:         req.URL,
		Kind:        kind,
		Body:        body,
		ContentType: req.ContentType,
		StatusCode:  status,
		ContentSize: int64(len(body)),
		Category:    req.Category,
	}, nil
}

func parseDetails(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("details")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("details must be a non-negative integer")
	}
	return n, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
