package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/usecase/chat"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
)

const (
	// SessionCookie holds the owner id of the browser session
	SessionCookie = "castmate_session"

	sessionMaxAge  = 30 * 24 * time.Hour
	maxRequestBody = 64 * 1024

	apologyMessage     = "Sorry, something went wrong while handling your message. Please try again."
	unavailableMessage = "Sorry, the assistant is unavailable right now. Please try again in a moment."
)

// Chat answers one message for an owner
type Chat interface {
	Handle(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error)
}

// Memories lists stored memories for an owner
type Memories interface {
	List(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error)
}

// Server is the HTTP surface of the assistant
type Server struct {
	mux          *chi.Mux
	chat         Chat
	memories     Memories
	secureCookie bool
}

// Option is a functional option for Server
type Option func(*Server)

// WithSecureCookie marks the session cookie Secure (HTTPS only)
func WithSecureCookie(secure bool) Option {
	return func(s *Server) {
		s.secureCookie = secure
	}
}

// New creates a new Server with routes registered
func New(chatUC Chat, memories Memories, opts ...Option) *Server {
	s := &Server{
		chat:     chatUC,
		memories: memories,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	s.RegisterRoutes(r)
	s.mux = r
	return s
}

// RegisterRoutes registers the assistant routes on r
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.session)
		r.Post("/chat", s.handleChat)
		r.Get("/memories", s.handleListMemories)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type ownerKey struct{}

// session reads the owner id from the session cookie or issues a new one
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var owner model.OwnerID
		if c, err := r.Cookie(SessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				owner = model.OwnerID(c.Value)
			}
		}

		if owner == "" {
			owner = model.NewOwnerID()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    string(owner),
				Path:     "/",
				MaxAge:   int(sessionMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   s.secureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) model.OwnerID {
	owner, _ := ctx.Value(ownerKey{}).(model.OwnerID)
	return owner
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logging.With(r.Context(), logger)))

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	reply, err := s.chat.Handle(ctx, ownerFrom(ctx), payload.Message)
	if err != nil {
		logging.From(ctx).Error("failed to handle chat message", "error", err)
		if errors.Is(err, model.ErrProviderUnavailable) {
			respondError(w, http.StatusServiceUnavailable, unavailableMessage)
			return
		}
		respondError(w, http.StatusInternalServerError, apologyMessage)
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{Response: reply.Text})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx := r.Context()
	memories, err := s.memories.List(ctx, ownerFrom(ctx), limit)
	if err != nil {
		logging.From(ctx).Error("failed to list memories", "error", err)
		respondError(w, http.StatusInternalServerError, apologyMessage)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Default().Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
