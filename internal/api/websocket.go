package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/cardpass-core/internal/connection"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/config"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// wsChannels are the channels a client may subscribe to, one per
// notification kind.
var wsChannels = []string{
	connection.StateChanged.String(),
	connection.EventReceived.String(),
	connection.CapacityChanged.String(),
	connection.ReaderRemoved.String(),
}

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a message received from a client. The payload is decoded
// according to Type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects notification channels and, optionally, the
// readers to receive them for. No ReaderIDs means every reader.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	ReaderIDs []int    `json:"reader_ids,omitempty"`
}

// subscription is one client's channel and reader filter.
type subscription struct {
	channels map[string]struct{}
	readers  map[int]struct{}
}

func newSubscription(channels ...string) subscription {
	s := subscription{channels: make(map[string]struct{}), readers: make(map[int]struct{})}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return s
}

// wants reports whether a notification on channel for readerID matches.
// readerID 0 is not tied to a reader and matches any reader filter.
func (s subscription) wants(channel string, readerID int) bool {
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	if readerID == 0 || len(s.readers) == 0 {
		return true
	}
	_, ok := s.readers[readerID]
	return ok
}

// Hub fans reader notifications out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sub subscription
	mu  sync.RWMutex
}

// upgrader configures the WebSocket upgrader. Origins are checked by the
// CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends payload to every client subscribed to channel, whatever
// its reader filter.
func (h *Hub) Broadcast(channel string, payload any) {
	h.deliver(channel, 0, payload)
}

// deliver sends payload to clients whose subscription wants channel for
// readerID. The hub lock is released before clients are touched.
func (h *Hub) deliver(channel string, readerID int, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.wants(channel, readerID) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// Relay forwards manager notifications to subscribed clients, using the
// notification kind as the channel. It returns when ctx is cancelled or
// notes is closed, and always calls unsubscribe.
func (h *Hub) Relay(ctx context.Context, notes <-chan connection.Notification, unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			h.deliver(note.Kind.String(), note.Info.Reader.ID, notificationPayload(note))
		}
	}
}

func notificationPayload(note connection.Notification) map[string]any {
	payload := map[string]any{
		"reader_id": note.Info.Reader.ID,
		"info":      note.Info,
	}
	if note.Event != nil {
		payload["event"] = note.Event
	}
	return payload
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		sub:  newSubscription(),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads client messages until the connection fails. Any message
// counts as liveness, as do pongs.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // best effort
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // best effort
		c.handleMessage(message)
	}
}

// writePump is the only writer on the connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error reported below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscription(msg, true)
	case WSTypeUnsubscribe:
		c.handleSubscription(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription adds or removes channels and reader filters. An
// unsubscribe without channels or readers clears the subscription.
func (c *WSClient) handleSubscription(msg wsInbound, add bool) {
	var req WSSubscribePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
	}
	for _, ch := range req.Channels {
		if !slices.Contains(wsChannels, ch) {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return
		}
	}
	if add && len(req.Channels) == 0 {
		c.sendError(msg.ID, "subscribe needs at least one channel")
		return
	}

	c.mu.Lock()
	switch {
	case add:
		for _, ch := range req.Channels {
			c.sub.channels[ch] = struct{}{}
		}
		for _, id := range req.ReaderIDs {
			c.sub.readers[id] = struct{}{}
		}
	case len(req.Channels) == 0 && len(req.ReaderIDs) == 0:
		c.sub = newSubscription()
	default:
		for _, ch := range req.Channels {
			delete(c.sub.channels, ch)
		}
		for _, id := range req.ReaderIDs {
			delete(c.sub.readers, id)
		}
	}
	channels := make([]string, 0, len(c.sub.channels))
	for ch := range c.sub.channels {
		channels = append(channels, ch)
	}
	readers := make([]int, 0, len(c.sub.readers))
	for id := range c.sub.readers {
		readers = append(readers, id)
	}
	c.mu.Unlock()

	slices.Sort(channels)
	slices.Sort(readers)
	c.hub.logger.Debug("websocket subscription changed", "channels", channels, "reader_ids", readers)

	c.sendResponse(msg.ID, WSTypeResponse, WSSubscribePayload{Channels: channels, ReaderIDs: readers})
}

// trySend queues data without blocking. A full buffer drops the message;
// a channel closed by the hub during shutdown is tolerated.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) wants(channel string, readerID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub.wants(channel, readerID)
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
