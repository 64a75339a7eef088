// Package ws serves browser clients over WebSocket and flattens them into the
// single line stream the dispatch loop reads.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"example.com/clueless_bridge/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	// EventConnected tells a new client the player id it was given.
	EventConnected = "connected"
	// EventDisconnect is emitted on the client's behalf when its socket closes.
	EventDisconnect = "disconnect"

	readLimit = 1 << 20
)

var ErrClosed = errors.New("ws: hub closed")

// inbound is what browsers send. Any playerId they include is ignored.
type inbound struct {
	EventName string         `json:"eventName"`
	Payload   map[string]any `json:"payload"`
}

// Hub tracks connected clients by player id.
type Hub struct {
	allowOrigins map[string]bool
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	lines     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub builds a hub that buffers up to depth inbound lines.
func NewHub(allow []string, depth int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth < 0 {
		depth = 0
	}
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	return &Hub{
		allowOrigins: m,
		logger:       logger,
		clients:      map[string]*Client{},
		lines:        make(chan []byte, depth),
		done:         make(chan struct{}),
	}
}

// Lines carries every client's envelopes, re-stamped with that client's id.
// It is never closed; stop reading when the hub's context ends.
func (h *Hub) Lines() <-chan []byte { return h.lines }

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send delivers line to target, or to everyone for protocol.TargetAll. A
// client whose queue is full misses the line. Unknown targets are ignored.
func (h *Hub) Send(target string, line []byte) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if target == protocol.TargetAll {
		for _, c := range h.clients {
			h.enqueue(c, line)
		}
		return nil
	}
	c, ok := h.clients[target]
	if !ok {
		h.logger.Debug("no client for target", zap.String("player_id", target))
		return nil
	}
	h.enqueue(c, line)
	return nil
}

func (h *Hub) enqueue(c *Client, line []byte) {
	select {
	case c.send <- line:
	default:
		h.logger.Warn("client queue full, dropping line", zap.String("player_id", c.id))
	}
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.RLock()
		conns := make([]*websocket.Conn, 0, len(h.clients))
		for _, c := range h.clients {
			conns = append(conns, c.conn)
		}
		h.mu.RUnlock()
		for _, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		}
	})
}

// Handler serves /ws and /health behind the origin allowlist.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return h.cors(mux)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	client := newClient(uuid.NewString(), conn)
	logger := h.logger.With(zap.String("player_id", client.id))

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	logger.Info("client connected", zap.String("origin", origin), zap.Int("clients", h.Clients()))

	ctx := r.Context()
	go client.writePump(ctx)

	if line, err := protocol.Encode(protocol.Envelope{
		PlayerID:  client.id,
		EventName: EventConnected,
		Payload:   map[string]any{protocol.KeyPlayerID: client.id},
	}); err == nil {
		h.enqueue(client, line)
	}

	h.readPump(ctx, client, logger)

	h.mu.Lock()
	delete(h.clients, client.id)
	close(client.send)
	h.mu.Unlock()

	if line, err := protocol.Encode(protocol.Envelope{PlayerID: client.id, EventName: EventDisconnect}); err == nil {
		h.push(context.Background(), line)
	}
	logger.Info("client disconnected", zap.Int("clients", h.Clients()))
}

func (h *Hub) readPump(ctx context.Context, c *Client, logger *zap.Logger) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var m inbound
		if err := json.Unmarshal(data, &m); err != nil || m.EventName == "" {
			logger.Warn("dropping unreadable client message", zap.Error(err), zap.ByteString("raw", data))
			continue
		}
		line, err := protocol.Encode(protocol.Envelope{PlayerID: c.id, EventName: m.EventName, Payload: m.Payload})
		if err != nil {
			logger.Warn("dropping unencodable client message", zap.Error(err))
			continue
		}
		if !h.push(ctx, line) {
			return
		}
	}
}

// push blocks until the loop takes line, ctx ends or the hub closes.
func (h *Hub) push(ctx context.Context, line []byte) bool {
	select {
	case h.lines <- line:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *Hub) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.allowOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
