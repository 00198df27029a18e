package relay

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/serroba/meet-sync/internal/message"
)

// headerParticipantID carries the caller-supplied participant identity.
// Identity/authentication is an upstream concern; the relay takes the
// header as ground truth.
const headerParticipantID = "X-Participant-Id"

// Server exposes the relay over HTTP.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader

	presenceRate  rate.Limit
	presenceBurst int
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Hub *Hub

	// PresencePerSecond caps how many presence frames one connection
	// may relay per second. Zero disables the limit.
	PresencePerSecond int
}

// NewServer creates a relay server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		hub: cfg.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for demo
			},
		},
	}

	if cfg.PresencePerSecond > 0 {
		s.presenceRate = rate.Limit(cfg.PresencePerSecond)
		s.presenceBurst = cfg.PresencePerSecond * 2
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebSocket handles GET /ws?room={id}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)

		return
	}

	identity := r.Header.Get(headerParticipantID)
	if identity == "" {
		identity = r.URL.Query().Get("identity")
	}

	if identity == "" {
		http.Error(w, "missing participant identity", http.StatusBadRequest)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade error: %v", err)

		return
	}

	c := NewClient(uuid.New().String(), identity, room, conn)
	s.hub.Register(c)

	defer func() {
		s.hub.Unregister(c)
		s.hub.NotifyLeft(c)
		_ = conn.Close()
	}()

	s.readLoop(c)
}

// readLoop relays inbound frames until the connection dies.
func (s *Server) readLoop(c *Client) {
	var presenceLimiter *rate.Limiter
	if s.presenceRate > 0 {
		presenceLimiter = rate.NewLimiter(s.presenceRate, s.presenceBurst)
	}

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Topic == "" {
			continue
		}

		// Presence heartbeats are unreliable by contract; over-limit
		// frames are silently dropped.
		if frame.Topic == message.TopicPresence && presenceLimiter != nil && !presenceLimiter.Allow() {
			continue
		}

		s.hub.Broadcast(c, frame)
	}
}
