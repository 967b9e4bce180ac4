// Package httpapi exposes the analyzer core, feedback loop, and learning
// orchestrator over a plain net/http REST surface: a context-cancelable
// http.Server built over http.NewServeMux, with JSON encode/error helpers
// and a Prometheus-text /metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"codeintel/internal/analyzer"
	"codeintel/internal/layers"
	"codeintel/internal/learning/feedback"
	"codeintel/internal/learning/orchestrator"
	"codeintel/internal/monitoring"
	"codeintel/internal/protocol"
)

// Server is the HTTP API server wrapping the core query operations, the
// feedback loop, and the learning orchestrator.
type Server struct {
	Analyzer     *analyzer.Core
	Index        *layers.Index
	Feedback     *feedback.Loop
	Orchestrator *orchestrator.Orchestrator
	Monitoring   *monitoring.Service

	Addr string

	startedAt  time.Time
	httpServer *http.Server
}

// New creates a Server bound to addr.
func New(addr string, core *analyzer.Core, idx *layers.Index, fb *feedback.Loop, orch *orchestrator.Orchestrator, mon *monitoring.Service) *Server {
	return &Server{
		Analyzer:     core,
		Index:        idx,
		Feedback:     fb,
		Orchestrator: orch,
		Monitoring:   mon,
		Addr:         addr,
		startedAt:    time.Now(),
	}
}

// Start builds the route table and serves HTTP/2-capable requests until ctx
// is canceled, at which point it shuts down gracefully within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/query/definition", s.handleDefinition)
	mux.HandleFunc("/v1/query/references", s.handleReferences)
	mux.HandleFunc("/v1/query/rename", s.handleRename)
	mux.HandleFunc("/v1/query/refactoring", s.handleRefactoring)
	mux.HandleFunc("/v1/query/completion", s.handleCompletion)
	mux.HandleFunc("/v1/feedback", s.handleFeedback)
	mux.HandleFunc("/v1/learn", s.handleLearn)
	mux.HandleFunc("/v1/learn/pipeline", s.handlePipeline)

	s.httpServer = &http.Server{
		Addr:        s.Addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if err := http2.ConfigureServer(s.httpServer, &http2.Server{}); err != nil {
		return fmt.Errorf("httpapi: configure http2: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"healthy":  true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if s.Orchestrator != nil {
		report := s.Orchestrator.Health()
		body["learning"] = report
		body["healthy"] = report.Status != "critical"
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if s.Monitoring == nil {
		w.Write([]byte(""))
		return
	}
	stats := s.Monitoring.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "# HELP codeintel_requests_total Requests observed across all lookups\n")
	fmt.Fprintf(&b, "# TYPE codeintel_requests_total counter\n")
	fmt.Fprintf(&b, "codeintel_requests_total %d\n", stats.RequestCount)

	fmt.Fprintf(&b, "# HELP codeintel_cache_hit_rate Fraction of lookups served from cache\n")
	fmt.Fprintf(&b, "# TYPE codeintel_cache_hit_rate gauge\n")
	fmt.Fprintf(&b, "codeintel_cache_hit_rate %.4f\n", stats.CacheHitRate)

	fmt.Fprintf(&b, "# HELP codeintel_error_rate Fraction of lookups that errored\n")
	fmt.Fprintf(&b, "# TYPE codeintel_error_rate gauge\n")
	fmt.Fprintf(&b, "codeintel_error_rate %.4f\n", stats.ErrorRate)

	fmt.Fprintf(&b, "# HELP codeintel_p99_latency_ms 99th-percentile lookup latency\n")
	fmt.Fprintf(&b, "# TYPE codeintel_p99_latency_ms gauge\n")
	fmt.Fprintf(&b, "codeintel_p99_latency_ms %.3f\n", stats.P99.Seconds()*1000)

	fmt.Fprintf(&b, "# HELP codeintel_uptime_seconds Server uptime in seconds\n")
	fmt.Fprintf(&b, "# TYPE codeintel_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "codeintel_uptime_seconds %d\n", stats.UptimeSeconds)

	for name, layer := range stats.PerLayer {
		fmt.Fprintf(&b, "codeintel_layer_avg_latency_ms{layer=%q} %.3f\n", name, layer.AvgLatency.Seconds()*1000)
		fmt.Fprintf(&b, "codeintel_layer_error_rate{layer=%q} %.4f\n", name, layer.ErrorRate)
		fmt.Fprintf(&b, "codeintel_layer_healthy{layer=%q} %d\n", name, boolToInt(layer.Healthy))
	}

	w.Write([]byte(b.String()))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Server) handleDefinition(w http.ResponseWriter, r *http.Request) {
	var req protocol.DefinitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Analyzer.FindDefinition(r.Context(), req))
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReferencesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Analyzer.FindReferences(r.Context(), req))
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Analyzer.Rename(r.Context(), req))
}

func (s *Server) handleRefactoring(w http.ResponseWriter, r *http.Request) {
	var req protocol.RefactoringRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Analyzer.SuggestRefactoring(r.Context(), req))
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req protocol.CompletionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Analyzer.Completion(r.Context(), s.Index, req))
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.Feedback == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback loop not configured")
		return
	}
	var req protocol.FeedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	event, err := s.Feedback.Record(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if s.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "learning orchestrator not configured")
		return
	}
	var req struct {
		PipelineID string `json:"pipeline_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.Orchestrator.ExecutePipeline(r.Context(), req.PipelineID)
	if err != nil && result.Stats.PipelineID == "" {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	if s.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "learning orchestrator not configured")
		return
	}
	var req protocol.LearnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.Orchestrator.Learn(r.Context(), req)
	if err == orchestrator.ErrOverCapacity {
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
