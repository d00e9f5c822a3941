// Package server exposes agents over WebSocket.
//
// Each connection owns one engine.Agent and therefore one conversation
// session; all connections share the same memory Store.
//
// Client frames:
//
//	{"type":"start","title":"modem trouble"}
//	{"type":"message","content":"The DNS button is broken"}
//	{"type":"close"}
//
// Server frames:
//
//	{"type":"started","session_id":"..."}
//	{"type":"response","content":"...","insights":["..."]}
//	{"type":"closed","session_id":"..."}
//	{"type":"error","content":"..."}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-memory/engine"
	"github.com/becomeliminal/nim-memory/memory"
)

// Frame types.
const (
	FrameStart    = "start"
	FrameMessage  = "message"
	FrameClose    = "close"
	FrameStarted  = "started"
	FrameResponse = "response"
	FrameClosed   = "closed"
	FrameError    = "error"
)

// Frame is one JSON message on the socket, in either direction.
type Frame struct {
	Type      string   `json:"type"`
	Title     string   `json:"title,omitempty"`
	Content   string   `json:"content,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Insights  []string `json:"insights,omitempty"`
}

// Config configures the server.
type Config struct {
	// NewAgent builds the agent for a new connection. Required.
	NewAgent func() *engine.Agent

	// Store is reported by /health. Optional.
	Store memory.Store

	// TurnTimeout bounds one Chat call (default: 2 minutes).
	TurnTimeout time.Duration

	// CheckOrigin overrides the upgrader's origin check. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
}

// Server serves /ws and /health.
type Server struct {
	config      Config
	upgrader    websocket.Upgrader
	mux         *http.ServeMux
	connections atomic.Int64
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.NewAgent == nil {
		return nil, fmt.Errorf("NewAgent is required")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] Listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("[SERVER] Shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"connections": s.connections.Load(),
	}
	status := http.StatusOK
	if s.config.Store != nil {
		n, err := s.config.Store.Count(r.Context())
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["memories"] = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.connections.Add(1)
	defer s.connections.Add(-1)

	agent := s.config.NewAgent()
	// Closing the session keeps its memories.
	defer func() {
		if err := agent.Close(context.Background()); err != nil && !errors.Is(err, engine.ErrNoActiveSession) {
			log.Printf("[SERVER] Close session: %v", err)
		}
	}()

	for {
		var in Frame
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[SERVER] Read failed: %v", err)
			}
			return
		}

		out := s.handleFrame(r.Context(), agent, in)
		if err := conn.WriteJSON(out); err != nil {
			log.Printf("[SERVER] Write failed: %v", err)
			return
		}
		if out.Type == FrameClosed {
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, agent *engine.Agent, in Frame) Frame {
	switch in.Type {
	case FrameStart:
		session, err := agent.StartConversation(ctx, in.Title)
		if err != nil {
			return errorFrame(err)
		}
		return Frame{Type: FrameStarted, SessionID: session.ID}

	case FrameMessage:
		// A message without a prior start opens an untitled session.
		if agent.State() == engine.StateUnstarted {
			if _, err := agent.StartConversation(ctx, ""); err != nil {
				return errorFrame(err)
			}
		}
		turnCtx, cancel := context.WithTimeout(ctx, s.config.TurnTimeout)
		defer cancel()

		resp, err := agent.Chat(turnCtx, in.Content)
		if err != nil {
			log.Printf("[SERVER] Chat failed: %v", err)
			return errorFrame(err)
		}
		return Frame{
			Type:      FrameResponse,
			Content:   resp.Content,
			SessionID: agent.Session().ID,
			Insights:  resp.Insights,
		}

	case FrameClose:
		if err := agent.Close(ctx); err != nil {
			return errorFrame(err)
		}
		var id string
		if session := agent.Session(); session != nil {
			id = session.ID
		}
		return Frame{Type: FrameClosed, SessionID: id}

	default:
		return Frame{Type: FrameError, Content: fmt.Sprintf("unknown frame type %q", in.Type)}
	}
}

func errorFrame(err error) Frame {
	return Frame{Type: FrameError, Content: err.Error()}
}
