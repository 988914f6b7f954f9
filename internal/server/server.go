package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ragagent/internal/agent"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/validation"
)

// Agent is what the HTTP front end needs from the agent.
type Agent interface {
	Invoke(ctx context.Context, req agent.Request) (agent.Response, error)
	History(ctx context.Context, threadID string) ([]domain.Turn, error)
}

// InvokeRequest is the body of POST /agent/invoke.
type InvokeRequest struct {
	Input    string `json:"input" validate:"required"`
	ThreadID string `json:"thread_id,omitempty" validate:"omitempty,max=128"`
	UserID   string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// InvokeResponse is a successful agent answer.
type InvokeResponse struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Output   string `json:"output"`
}

// ThreadResponse lists the turns of one thread.
type ThreadResponse struct {
	ThreadID string        `json:"thread_id"`
	Turns    []domain.Turn `json:"turns"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Handler serves the agent over HTTP.
type Handler struct {
	agent  Agent
	logger *zap.Logger
}

func NewHandler(a Agent, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{agent: a, logger: logger}
}

// Routes builds the router with the standard middleware stack.
func Routes(h *Handler, cfg config.ServerConfig) http.Handler {
	timeout := config.Seconds(cfg.RequestTimeoutSecs)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Route("/agent", func(r chi.Router) {
		r.Post("/invoke", h.Invoke)
		r.Get("/threads/{id}", h.Thread)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "endpoint not found"})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid JSON body: " + err.Error()})
		return
	}
	if err := validation.Struct(req); err != nil {
		details := map[string]any{}
		for k, v := range validation.Fields(err) {
			details[k] = v
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "validation failed", Details: details})
		return
	}

	resp, err := h.agent.Invoke(r.Context(), agent.Request{Input: req.Input, ThreadID: req.ThreadID, UserID: req.UserID})
	if err != nil {
		h.writeError(w, r, err, map[string]any{"run_id": resp.RunID, "thread_id": resp.ThreadID})
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{RunID: resp.RunID, ThreadID: resp.ThreadID, Output: resp.Output})
}

func (h *Handler) Thread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := h.agent.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if len(turns) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "thread not found"})
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{ThreadID: id, Turns: turns})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	status := StatusFor(err)
	kind := string(domain.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	h.logger.Error("request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	for k, v := range details {
		if v == "" {
			delete(details, k)
		}
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: err.Error(), Details: details})
}

// StatusFor maps a pipeline error to an HTTP status. An expired deadline
// maps to 504 whatever kind wraps it.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch domain.KindOf(err) {
	case domain.KindQuery, domain.KindIngestion, domain.KindRetrieval:
		return http.StatusServiceUnavailable
	case domain.KindLoopExceeded, domain.KindGeneration:
		return http.StatusBadGateway
	case domain.KindConfig:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("took", time.Since(start)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}
