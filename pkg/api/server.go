// Package api exposes the REST surface of the bridge: bot status, message
// history, a send-message endpoint, and the WebSocket mount for the relay.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/wabridge/pkg/logging"
	"github.com/entrhq/wabridge/pkg/store"
)

// Session is the subset of the WhatsApp driver the REST layer needs.
type Session interface {
	SendMessage(ctx context.Context, number, message string) error
	IsInitialized() bool
	DemoMode() bool
}

// Relay is the subset of the event hub the REST layer needs: the WebSocket
// upgrade handler and the inbound broadcast used for demo auto-replies.
type Relay interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	BroadcastIncoming(from, body string)
}

// Server serves the HTTP API on top of the session driver, the message store
// and the relay hub.
type Server struct {
	log     *logging.Logger
	session Session
	relay   Relay
	store   *store.Store

	autoReplyDelay time.Duration

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	httpServer *http.Server
}

// NewServer wires the REST surface. autoReplyDelay controls how long the demo
// auto-reply waits before being persisted and broadcast.
func NewServer(session Session, relay Relay, messages *store.Store, autoReplyDelay time.Duration) *Server {
	log, _ := logging.NewLogger("api")

	if autoReplyDelay <= 0 {
		autoReplyDelay = 2 * time.Second
	}

	return &Server{
		log:            log,
		session:        session,
		relay:          relay,
		store:          messages,
		autoReplyDelay: autoReplyDelay,
		timers:         make(map[*time.Timer]struct{}),
	}
}

// Router builds the chi router for the API surface.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)

	router.Get("/bot/status", s.handleBotStatus)
	router.Get("/messages", s.handleMessages)
	router.Post("/send-message", s.handleSendMessage)
	router.Get("/ws", s.relay.HandleWebSocket)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/healthz", s.handleHealthz)

	return router
}

// Start runs the HTTP server until the context is cancelled, then drains it.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Infof("serving HTTP on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.stopTimers()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"initialized": s.session.IsInitialized(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	messages, err := s.store.ListMessages(r.Context(), limit, offset)
	if err != nil {
		s.log.Errorf("list messages: %v", err)
		respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to fetch messages"))
		return
	}

	total, err := s.store.CountMessages(r.Context())
	if err != nil {
		s.log.Errorf("count messages: %v", err)
		respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to fetch messages"))
		return
	}

	respondJSON(w, map[string]any{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request data"))
		return
	}

	// Validate before any side effect
	if strings.TrimSpace(req.To) == "" {
		respondError(w, http.StatusBadRequest, fmt.Errorf("recipient number is required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, fmt.Errorf("message content is required"))
		return
	}

	live := s.session.IsInitialized() && !s.session.DemoMode()
	if live {
		if err := s.session.SendMessage(r.Context(), req.To, req.Message); err != nil {
			s.log.Errorf("send message to %s: %v", req.To, err)
			respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to send message"))
			return
		}
	}

	saved, err := s.store.InsertMessage(r.Context(), "bot", req.To, req.Message, store.DirectionOut)
	if err != nil {
		s.log.Errorf("persist outbound message: %v", err)
		respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to send message"))
		return
	}

	note := "Message sent successfully"
	if !live {
		note = "Message sent successfully (demo mode)"
		s.scheduleAutoReply(req.To, req.Message)
	}

	respondJSON(w, map[string]any{
		"success": true,
		"message": note,
		"data": map[string]any{
			"id":        saved.ID,
			"to":        saved.ToJID,
			"body":      saved.Body,
			"timestamp": saved.CreatedAt,
		},
	})
}

// scheduleAutoReply arms the simulated response for a demo-mode send. The
// reply is persisted as an inbound record and announced through the relay so
// connected dashboards see it live.
func (s *Server) scheduleAutoReply(to, message string) {
	body := fmt.Sprintf("Auto-reply: Thank you for your message \"%s\". This is a demo response.", message)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.autoReplyDelay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := s.store.InsertMessage(ctx, to, "bot", body, store.DirectionIn); err != nil {
			s.log.Errorf("persist auto-reply: %v", err)
			return
		}
		s.relay.BroadcastIncoming(to, body)
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// stopTimers cancels pending auto-replies so shutdown does not race the store.
func (s *Server) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseIntDefault parses a non-negative integer with a default fallback.
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
		return v
	}
	return def
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  err.Error(),
		"status": status,
	})
}
