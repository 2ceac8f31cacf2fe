package web

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"tunepipe/internal/config"
	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
	"tunepipe/internal/pipeline"
	"tunepipe/internal/provider/itunes"
)

// Server exposes the resolution pipeline over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	resolver *metadata.Resolver
	itunes   *itunes.Client
	jobMgr   *JobManager
	config   config.Config
	logger   *logger.Logger
	limiter  *rate.Limiter
	started  time.Time

	// Client for the proxy endpoints' upstream fetches.
	httpClient *http.Client
}

// NewServer creates a Server.
func NewServer(p *pipeline.Pipeline, resolver *metadata.Resolver, it *itunes.Client,
	jobMgr *JobManager, cfg config.Config, log *logger.Logger) *Server {
	return &Server{
		pipeline: p,
		resolver: resolver,
		itunes:   it,
		jobMgr:   jobMgr,
		config:   cfg,
		logger:   log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		started:  time.Now(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Router builds the HTTP handler with all endpoints and middleware.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/track/", s.handleTrack)
	mux.HandleFunc("/proxy-audio", s.handleProxyAudio)
	mux.HandleFunc("/proxy-image", s.handleProxyImage)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobGet)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return s.loggingMiddleware(s.corsMiddleware(s.rateLimitMiddleware(mux)))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the only error shape this server emits. Nothing is
// allowed to leak an unstructured text or HTML error to the caller.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, category, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: category, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writePipelineError(w http.ResponseWriter, err error) {
	perr := pipeline.Coerce(err)
	writeError(w, perr.HTTPStatus(), string(perr.Kind), perr.Detail)
}
