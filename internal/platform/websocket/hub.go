// Package websocket provides the connection registry used by the realtime
// chat channel. Each authenticated user holds at most one live connection;
// a newer connection for the same user replaces the older one.
package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

var (
	ErrClientClosed    = errors.New("websocket: client closed")
	ErrMessageTooLarge = errors.New("websocket: message too large")
)

const writeWait = 10 * time.Second

// Conn abstracts a WebSocket connection for testability. *gorilla.Conn
// satisfies it.
type Conn interface {
	NextReader() (messageType int, r io.Reader, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live connection owned by UserID. Outbound frames are queued
// on send and written by WritePump.
type Client struct {
	ID     string
	UserID int64

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(userID int64, conn Conn) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Send queues a frame, blocking until there is room or the client closes.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// SendJSON marshals v and queues it.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the write pump and closes the underlying connection. Safe to
// call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// CloseWith sends a close frame with code and reason before closing.
func (c *Client) CloseWith(code int, reason string) {
	msg := gorillawebsocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(gorillawebsocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.Close()
}

// WritePump drains queued frames to the connection until the client closes
// or a write fails.
func (c *Client) WritePump() {
	defer c.Close()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadFrame reads the next data frame. Frames larger than maxBytes are
// drained and reported as ErrMessageTooLarge so the connection stays usable.
func (c *Client) ReadFrame(maxBytes int64, idle time.Duration) ([]byte, error) {
	if idle > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// Hub tracks the live connection of every user. All operations are
// thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]*Client)}
}

// Register makes client the user's live connection and returns the one it
// replaced, if any. The caller closes the replaced client.
func (h *Hub) Register(client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.clients[client.UserID]
	h.clients[client.UserID] = client
	if prev == client {
		return nil
	}
	return prev
}

// Unregister removes client if it is still the user's live connection.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == client {
		delete(h.clients, client.UserID)
	}
}

// Get returns the user's live connection.
func (h *Hub) Get(userID int64) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

// ClientCount returns the number of connected users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown sends a going-away close frame to every client and empties the
// registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[int64]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.CloseWith(gorillawebsocket.CloseGoingAway, "server shutting down")
	}
}

// NewUpgrader returns an upgrader that accepts the listed origins. An empty
// list or "*" accepts any origin.
func NewUpgrader(allowedOrigins []string) *gorillawebsocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[origin]
		},
	}
}
