package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/config"
	"github.com/ent0n29/voicepipeline/internal/journal"
	"github.com/ent0n29/voicepipeline/internal/observability"
	"github.com/ent0n29/voicepipeline/internal/session"
	"github.com/ent0n29/voicepipeline/internal/turn"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

// Pipeline runs single turns for the request/response endpoints.
type Pipeline interface {
	Run(ctx context.Context, audio []byte) (turn.Result, error)
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

type Deps struct {
	Config   config.Config
	Sessions *session.Manager
	Pipeline Pipeline
	Journal  journal.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	pipeline Pipeline
	journal  journal.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(deps Deps) *Server {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace, nil)
	}
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		pipeline: deps.Pipeline,
		journal:  deps.Journal,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Get("/ws/session/{session_id}", s.handleSessionWS)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)

	r.Post("/api/voice", s.handleVoice)
	r.Post("/api/stt", s.handleSTT)
	r.Post("/api/tts", s.handleTTS)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/turns", s.handleListTurns)
	r.Get("/v1/sessions", s.handleListSessions)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "voice-pipeline",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil || s.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "pipeline not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Stage string `json:"stage,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondTurnError maps the turn error taxonomy onto HTTP statuses.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	var perr *voice.ProviderError
	switch {
	case turn.IsValidationError(err):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &perr):
		s.logger.Warn("provider failure", zap.String("stage", string(perr.Stage)), zap.Error(err))
		respondJSON(w, http.StatusBadGateway, errorResponse{
			Error: err.Error(),
			Code:  "provider_error",
			Stage: string(perr.Stage),
		})
	case errors.Is(err, turn.ErrCancelled), errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
