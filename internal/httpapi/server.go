// Package httpapi exposes preferences, scheduler and presence state over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/metrics"
	"github.com/jialangli/emotion-companion/internal/presence"
	"github.com/jialangli/emotion-companion/internal/reconcile"
	"github.com/jialangli/emotion-companion/internal/scheduler"
	"github.com/jialangli/emotion-companion/internal/store"
)

const maxBodyBytes = 64 << 10

type Scheduler interface {
	Status() scheduler.Status
	Trigger(userID string, cat domain.Category) error
}

type Presence interface {
	Stats() presence.Stats
}

type ConfigReader interface {
	Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error)
}

type Preferences interface {
	UpdatePreferences(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error)
	Disable(ctx context.Context, userID string, cat domain.Category) (*domain.ScheduleConfig, error)
}

// Sockets is the WebSocket transport.
type Sockets interface {
	http.Handler
	DisconnectUser(userID string) int
}

// Deps are the collaborators served by the API. Sockets and Static may be nil.
type Deps struct {
	Scheduler Scheduler
	Presence  Presence
	Configs   ConfigReader
	Prefs     Preferences
	Sockets   Sockets
	Static    fs.FS
	Log       *zap.Logger
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	d.Log = d.Log.With(zap.String("component", "http"))
	return &Server{Deps: d}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.PromHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scheduler/status", s.schedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/websocket/status", s.websocketStatus).Methods(http.MethodGet)
	api.HandleFunc("/websocket/users/{user_id}", s.disconnectUser).Methods(http.MethodDelete)
	api.HandleFunc("/user/schedule", s.getSchedule).Methods(http.MethodGet)
	api.HandleFunc("/user/schedule", s.updateSchedule).Methods(http.MethodPost)
	api.HandleFunc("/user/schedule/disable", s.disableSchedule).Methods(http.MethodPost)
	api.HandleFunc("/push/test", s.pushTest).Methods(http.MethodPost)
	api.Handle("/metrics", metrics.JSONHandler()).Methods(http.MethodGet)

	if s.Sockets != nil {
		r.Handle("/ws", s.Sockets)
	}
	if s.Static != nil {
		r.HandleFunc("/", s.index).Methods(http.MethodGet)
	}
	return r
}

type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func renderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func renderError(w http.ResponseWriter, code int, msg string) {
	renderJSON(w, code, apiError{Status: "error", Message: msg})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"status": "success", "scheduler": s.Scheduler.Status()})
}

func (s *Server) websocketStatus(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"status": "success", "websocket": s.Presence.Stats()})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		renderError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	cfg, err := s.Configs.Get(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		renderError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.Log.Error("get schedule failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "success", "schedule": newScheduleView(cfg)})
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		renderError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	userID, patch, err := parseSchedulePatch(body)
	if err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.Prefs.UpdatePreferences(r.Context(), userID, patch)
	if err != nil && cfg == nil {
		s.Log.Error("update schedule failed", zap.String("user_id", userID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	if err != nil {
		// Stored but not rescheduled; the next sync picks it up.
		s.Log.Warn("schedule stored, job sync failed", zap.String("user_id", userID), zap.Error(err))
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "preferences updated",
		"schedule": newScheduleView(cfg),
	})
}

type disableRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
}

func (s *Server) disableSchedule(w http.ResponseWriter, r *http.Request) {
	var req disableRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		renderError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	var cat domain.Category
	target := strings.ToLower(strings.TrimSpace(req.Type))
	if target == "" {
		target = "all"
	}
	if target != "all" {
		c, err := domain.ParseCategory(target)
		if err != nil {
			renderError(w, http.StatusBadRequest, err.Error())
			return
		}
		cat = c
	}

	cfg, err := s.Prefs.Disable(r.Context(), req.UserID, cat)
	if errors.Is(err, reconcile.ErrConfigNotFound) {
		renderError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.Log.Error("disable failed", zap.String("user_id", req.UserID), zap.Error(err))
		renderError(w, http.StatusInternalServerError, "failed to disable")
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  target + " push disabled",
		"schedule": newScheduleView(cfg),
	})
}

type pushTestRequest struct {
	UserID   string `json:"user_id"`
	Category string `json:"category"`
}

func (s *Server) pushTest(w http.ResponseWriter, r *http.Request) {
	var req pushTestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		renderError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	if req.Category == "" {
		req.Category = domain.Care.String()
	}
	cat, err := domain.ParseCategory(req.Category)
	if err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Scheduler.Trigger(req.UserID, cat); err != nil {
		renderError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	renderJSON(w, http.StatusAccepted, map[string]any{
		"status":   "success",
		"message":  "push dispatched",
		"user_id":  req.UserID,
		"category": cat,
	})
}

func (s *Server) disconnectUser(w http.ResponseWriter, r *http.Request) {
	if s.Sockets == nil {
		renderError(w, http.StatusNotFound, "websocket transport disabled")
		return
	}
	userID := mux.Vars(r)["user_id"]
	n := s.Sockets.DisconnectUser(userID)
	renderJSON(w, http.StatusOK, map[string]any{"status": "success", "user_id": userID, "disconnected": n})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, s.Static, "index.html")
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs API calls. The WebSocket upgrade needs the raw writer.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.Duration("took", time.Since(started)),
		)
	})
}
