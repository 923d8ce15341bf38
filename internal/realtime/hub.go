package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Type   string                 `json:"type"`
	Change *models.RosterChange   `json:"change,omitempty"`
	Roster *models.RosterSnapshot `json:"roster,omitempty"`
}

// SnapshotFunc renders the roster a new client starts from.
type SnapshotFunc func(ctx context.Context) (*models.RosterSnapshot, error)

type directMessage struct {
	client *client
	data   []byte
}

// Hub fans roster changes out to connected operator screens.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan directMessage
	clients    map[*client]struct{}
	count      chan chan int
	done       chan struct{}
	logger     *zap.Logger
}

// ErrHubClosed is returned when serving a client after the hub stopped.
var ErrHubClosed = errors.New("roster hub closed")

// NewHub constructs a hub. Call Run before serving clients.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage),
		clients:    make(map[*client]struct{}),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case msg := <-h.broadcast:
			for c := range h.clients {
				h.deliver(c, msg)
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.data)
			}
		}
	}
}

func (h *Hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("dropping slow roster client")
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

// Broadcast queues a change for every client. It never blocks the caller; when the hub is
// backed up the change is dropped and clients catch up on their next resync.
func (h *Hub) Broadcast(change models.RosterChange) {
	if h == nil {
		return
	}
	data, err := json.Marshal(Envelope{Type: "change", Change: &change})
	if err != nil {
		h.logger.Error("marshal roster change", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("roster broadcast buffer full, dropping change", zap.String("student_id", change.StudentID))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Serve upgrades the request and streams changes to it until the client goes away. The client
// is registered before snapshot runs, so a change landing in between is still delivered; a
// change frame may therefore arrive ahead of a snapshot that already includes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, snapshot SnapshotFunc) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	if snapshot != nil {
		if err := h.sendSnapshot(r.Context(), c, snapshot); err != nil {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
			return err
		}
	}

	go c.writePump()
	c.readPump()
	return nil
}

func (h *Hub) sendSnapshot(ctx context.Context, c *client, snapshot SnapshotFunc) error {
	snap, err := snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: "snapshot", Roster: snap})
	if err != nil {
		return err
	}
	select {
	case h.direct <- directMessage{client: c, data: data}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
