// Package dashboard serves the document API and a real-time WebSocket feed.
//
// The server broadcasts orchestrator events (ingestion, drain progress,
// connectivity changes, cleanup) to connected WebSocket clients, followed by
// a fresh stats snapshot whenever the counts may have changed.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/docstage/docstage/internal/orchestrator"
)

// MessageType defines the type of dashboard message
type MessageType string

// MessageTypeStats carries a StorageStats snapshot. Every other message type
// is the name of the orchestrator event it wraps.
const MessageTypeStats MessageType = "stats"

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and the HTTP API.
type Server struct {
	api      API
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// MaxUploadBytes caps a multipart upload (default: 32 MiB)
	MaxUploadBytes int64

	// Logger for server activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		MaxUploadBytes: 32 << 20,
		Logger:         log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server backed by api.
func NewServer(api API, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		api:       api,
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
	s.server = &http.Server{
		Handler:     s.routes(config.MaxUploadBytes),
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins the HTTP server and the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Println("Stopping dashboard server")

		s.cancel()

		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
			delete(s.clients, conn)
		}
		s.clientsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			stopErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.wg.Wait()

		s.logger.Println("Dashboard server stopped")
	})
	return stopErr
}

// OnEvent implements orchestrator.Observer. It never blocks; when the
// broadcast buffer is full the event is dropped.
func (s *Server) OnEvent(e orchestrator.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	s.Broadcast(Message{
		Type:      MessageType(e.Type),
		Timestamp: e.Time,
		Data:      data,
	})
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// changesStats reports whether an event may have changed the counts.
func changesStats(t MessageType) bool {
	switch orchestrator.EventType(t) {
	case orchestrator.EventDocumentIngested,
		orchestrator.EventSyncComplete,
		orchestrator.EventConnectivity,
		orchestrator.EventCleanup:
		return true
	default:
		return false
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			s.send(msg)

			if changesStats(msg.Type) && s.ClientCount() > 0 {
				if stats, ok := s.statsMessage(); ok {
					s.send(stats)
				}
			}
		}
	}
}

func (s *Server) send(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	// Write outside the lock so a slow client does not block registration
	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.removeClient(conn)
		}
	}
}

// statsMessage builds a stats message from the API.
func (s *Server) statsMessage() (Message, bool) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	stats, err := s.api.Stats(ctx)
	if err != nil {
		s.logger.Printf("Failed to compute stats: %v", err)
		return Message{}, false
	}
	data, err := json.Marshal(stats)
	if err != nil {
		s.logger.Printf("Failed to marshal stats: %v", err)
		return Message{}, false
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}, true
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// A stats snapshot greets every client
	welcome, ok := s.statsMessage()
	if !ok {
		welcome = Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
