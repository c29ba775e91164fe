package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatrelay/internal/logging"
	"chatrelay/pkg/types"
)

// HealthChecker is the part of the message store the health endpoint needs.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Presence is the read side of the connection registry.
type Presence interface {
	IsOnline(userID types.UserID) bool
	OnlineUsers() []types.UserID
	GetStats() map[string]int
}

// History is the read side of the message relay.
type History interface {
	LoadHistory(ctx context.Context, req types.HistoryRequest) ([]*types.Message, error)
	UnreadCount(ctx context.Context, userID, fromUserID types.UserID) (int64, error)
}

// Server serves the REST endpoints and mounts the WebSocket handler at /ws.
// It holds no chat logic; every endpoint reads through the registry or the relay.
type Server struct {
	store    HealthChecker
	presence Presence
	history  History
	router   chi.Router
	log      zerolog.Logger
	started  time.Time
}

// NewServer builds the router. ws may be nil when only the REST surface is wanted.
func NewServer(store HealthChecker, presence Presence, history History, ws http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		presence: presence,
		history:  history,
		router:   chi.NewRouter(),
		log:      log.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}
	s.setupRoutes(ws)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContent)
		r.Get("/presence", s.listOnline)
		r.Get("/presence/{userId}", s.getPresence)
		r.Get("/messages", s.getHistory)
		r.Get("/messages/unread", s.getUnread)
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type OnlineUsersResponse struct {
	UserIDs []types.UserID `json:"userIds"`
}

type HistoryResponse struct {
	Messages []*types.Message `json:"messages"`
}

type UnreadResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
		s.log.Warn().Err(err).Msg("health check failed")
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.presence.GetStats(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) listOnline(w http.ResponseWriter, r *http.Request) {
	ids := s.presence.OnlineUsers()
	if ids == nil {
		ids = []types.UserID{}
	}
	s.writeJSON(w, http.StatusOK, OnlineUsersResponse{UserIDs: ids})
}

func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	userID, err := types.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, types.OnlineStatus{UserID: userID, IsOnline: s.presence.IsOnline(userID)})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUser(r, "userId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	friendID, err := queryUser(r, "friendId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := s.history.LoadHistory(r.Context(), types.HistoryRequest{UserID: userID, FriendID: friendID})
	if err != nil {
		s.sendStoreError(w, err, "failed to load chat history")
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

func (s *Server) getUnread(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUser(r, "userId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	fromUserID, err := queryUser(r, "fromUserId")
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	count, err := s.history.UnreadCount(r.Context(), userID, fromUserID)
	if err != nil {
		s.sendStoreError(w, err, "failed to count unread messages")
		return
	}
	s.writeJSON(w, http.StatusOK, UnreadResponse{Count: count})
}

func queryUser(r *http.Request, name string) (types.UserID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, &types.ValidationError{Field: name, Reason: "is required"}
	}
	id, err := types.ParseUserID(raw)
	if err != nil {
		return 0, &types.ValidationError{Field: name, Reason: fmt.Sprintf("invalid user id %q", raw)}
	}
	return id, nil
}

// sendStoreError maps relay errors onto status codes. Store details stay in the log.
func (s *Server) sendStoreError(w http.ResponseWriter, err error, msg string) {
	if types.IsValidation(err) {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Error().Err(err).Msg(msg)
	s.sendError(w, msg, http.StatusInternalServerError)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
