package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sublate/sublate/pkg/logger"
)

// Message represents one event pushed to connected clients
type Message struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Server fans processing events out to all connected WebSocket clients.
// Slow clients are dropped rather than allowed to stall a broadcast.
type Server struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// client wraps one connection with its outbound queue
type client struct {
	conn *websocket.Conn
	send chan *Message
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.Named("websocket"),
	}
}

// HandleWS upgrades an HTTP request and serves the connection until the
// client disconnects
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade WebSocket connection", logger.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan *Message, 64),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("WebSocket client connected",
		logger.String("remote", conn.RemoteAddr().String()),
		logger.Int("clients", count))

	go s.writeLoop(c)
	s.readLoop(c)
}

// Broadcast queues a message for every connected client
func (s *Server) Broadcast(message *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- message:
		default:
			// Queue full: the client is too slow to keep
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects all clients
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// writeLoop pushes queued messages to one connection
func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			s.remove(c)
			return
		}
	}
}

// readLoop drains inbound frames so pings and close messages are processed
func (s *Server) readLoop(c *client) {
	defer s.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// remove unregisters a client, tolerating double removal from the read and
// write loops
func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}
