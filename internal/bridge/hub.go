package bridge

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/constants"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Message types sent to bridge clients.
const (
	TypeSnapshot     = "snapshot"
	TypeConnectivity = "connectivity"
)

// Message is a frame sent to bridge clients.
type Message struct {
	Type      string                `json:"type"`
	Timestamp utc.Time              `json:"timestamp"`
	Class     telemetry.EntityClass `json:"class,omitempty"`
	Via       telemetry.Source      `json:"via,omitempty"`
	Data      any                   `json:"data"`

	// receivedAt orders snapshot messages per class
	receivedAt utc.Time
}

// SnapshotMessage wraps a snapshot for clients.
func SnapshotMessage(s telemetry.Snapshot) Message {
	return Message{
		Type:       TypeSnapshot,
		Timestamp:  utc.Now(),
		Class:      s.Class,
		Via:        s.ReceivedVia,
		Data:       s.Payload,
		receivedAt: s.ReceivedAt,
	}
}

// ConnectivityMessage wraps a push channel state for clients.
func ConnectivityMessage(s telemetry.ConnectionState) Message {
	return Message{
		Type:      TypeConnectivity,
		Timestamp: utc.Now(),
		Data:      newConnectivityView(s),
	}
}

// connectivityView is the client-facing form of a connection state.
type connectivityView struct {
	Connectivity telemetry.Connectivity `json:"connectivity"`
	telemetry.ConnectionState
}

func newConnectivityView(s telemetry.ConnectionState) connectivityView {
	return connectivityView{Connectivity: s.Connectivity(), ConnectionState: s}
}

// coalesceKey names the slot a message occupies while the broadcast queue is
// backed up. A later message replaces an earlier one in the same slot.
func (m Message) coalesceKey() string {
	if m.Type == TypeSnapshot {
		return m.Type + "/" + m.Class.String()
	}
	return m.Type
}

// registration carries the messages a client receives before any broadcast.
type registration struct {
	client  *Client
	initial []Message
}

// Hub maintains active bridge connections and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan registration
	unregister chan *Client
	count      chan chan int
	done       chan struct{}
	logger     *zerolog.Logger

	// backlog holds the latest message per slot once broadcast is full.
	// While it is non-empty every broadcast goes to it, so it is always
	// newer than what is queued on the channel.
	backlogMu sync.Mutex
	backlog   map[string]Message
	wake      chan struct{}
}

// NewHub creates a new hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, constants.BridgeClientBufferSize),
		register:   make(chan registration),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger,
		backlog:    make(map[string]Message),
		wake:       make(chan struct{}, 1),
	}
}

// Run owns the client set until ctx ends, then disconnects every client.
// A hub runs once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case reg := <-h.register:
			h.clients[reg.client] = true
			for _, msg := range reg.initial {
				h.deliver(reg.client, msg)
			}
			h.logger.Info().
				Str("client_id", reg.client.id).
				Int("total_clients", len(h.clients)).
				Msg("Bridge client connected")

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
			}
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", len(h.clients)).
				Msg("Bridge client disconnected")

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}

		case <-h.wake:
			h.flushBacklog()

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// deliver queues a message for one client. Snapshots older than the one the
// client already has for that class are skipped. A client whose buffer is full is dropped.
func (h *Hub) deliver(client *Client, message Message) {
	if !h.clients[client] {
		return
	}
	if message.Type == TypeSnapshot {
		last, seen := client.latest[message.Class]
		if seen && message.receivedAt.Time.Before(last.Time) {
			return
		}
		client.latest[message.Class] = message.receivedAt
	}

	select {
	case client.send <- message:
	default:
		h.logger.Warn().Str("client_id", client.id).Msg("Bridge client too slow, disconnecting")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// Broadcast sends a message to all connected clients. It never blocks. When
// the queue is full, messages are coalesced to the latest per class until
// the hub catches up.
func (h *Hub) Broadcast(message Message) {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()

	if len(h.backlog) == 0 {
		select {
		case h.broadcast <- message:
			return
		default:
			h.logger.Warn().Str("type", message.Type).Msg("Broadcast channel full, coalescing")
		}
	}
	h.backlog[message.coalesceKey()] = message

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// flushBacklog delivers what is still queued, then the coalesced backlog.
func (h *Hub) flushBacklog() {
	for drained := false; !drained; {
		select {
		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		default:
			drained = true
		}
	}

	h.backlogMu.Lock()
	pending := h.backlog
	h.backlog = make(map[string]Message)
	h.backlogMu.Unlock()

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for client := range h.clients {
			h.deliver(client, pending[k])
		}
	}
}

// Register adds a client. initial is delivered before any later broadcast.
// It returns false once the hub has stopped.
func (h *Hub) Register(client *Client, initial []Message) bool {
	select {
	case h.register <- registration{client: client, initial: initial}:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Client is a bridge websocket connection.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	latest map[telemetry.EntityClass]utc.Time
}

// NewClient creates a client with a send buffer of size buffer.
func NewClient(id string, hub *Hub, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = constants.BridgeClientBufferSize
	}
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, buffer),
		latest: make(map[telemetry.EntityClass]utc.Time),
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

// ReadPump drains the connection so control frames are processed, and
// unregisters the client when it goes away.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("client_id", c.id).Msg("Bridge read error")
			}
			return
		}
	}
}

// WritePump sends queued messages and pings until the hub closes the send
// channel or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.hub.logger.Error().Err(err).Msg("Failed to marshal bridge message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
