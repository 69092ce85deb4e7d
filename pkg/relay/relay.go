// Package relay is the real-time hub between dashboard clients and the
// single WhatsApp session. It dispatches client commands onto the session
// through a single-worker queue and fans resulting and observed events out
// to every connected client, best-effort, with no replay buffer.
package relay

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/entrhq/wabridge/pkg/logging"
	"github.com/entrhq/wabridge/pkg/store"
	"github.com/entrhq/wabridge/pkg/whatsapp"
)

const (
	// errNotInitialized is the client-facing text for commands issued
	// before the session is ready.
	errNotInitialized = "WhatsApp bot not initialized"

	welcomeDemo = "🤖 Welcome to WhatsApp Bot Dashboard! Running in demo mode - features are simulated for demonstration."
	welcomeLive = "🚀 Welcome to WhatsApp Bot Dashboard! Ready to automate your WhatsApp messages."

	// sendBuffer is the per-client event buffer; a client that falls this
	// far behind starts losing broadcasts.
	sendBuffer = 64

	// queueBuffer bounds pending driver commands.
	queueBuffer = 256

	persistTimeout = 10 * time.Second
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 54 * time.Second
)

// Session is the slice of the session driver the relay needs.
type Session interface {
	SendMessage(ctx context.Context, number, message string) error
	Screenshot(ctx context.Context) ([]byte, error)
	ListChats(ctx context.Context) ([]whatsapp.ChatSummary, error)
	CheckConnected(ctx context.Context) bool
	IsInitialized() bool
	DemoMode() bool
	OnIncomingMessage(handler func(whatsapp.IncomingMessage))
}

// MessageStore persists the message log. Writes are fire-and-forget relative
// to the broadcast path.
type MessageStore interface {
	InsertMessage(ctx context.Context, fromJID, toJID, body, direction string) (store.Message, error)
}

// Hub accepts client connections and relays commands and events.
type Hub struct {
	log     *logging.Logger
	session Session
	store   MessageStore
	queue   *dispatchQueue

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan Event
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	// sendMu guards closed and the send channel against a late trySend
	// from a command that was queued before the client disconnected.
	sendMu sync.RWMutex
	closed bool
}

// close tears down the client exactly once.
func (c *client) close() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
	c.cancel()
}

// NewHub creates the relay and registers itself as the sole incoming-message
// handler on the session.
func NewHub(session Session, messages MessageStore) *Hub {
	log, _ := logging.NewLogger("relay")

	h := &Hub{
		log:     log,
		session: session,
		store:   messages,
		queue:   newDispatchQueue(queueBuffer),
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboard origin is not fixed
			},
		},
	}

	session.OnIncomingMessage(h.handleIncoming)
	return h
}

// Run executes the command dispatch loop until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.queue.run(ctx)
}

// HandleWebSocket upgrades an HTTP request into a relay client connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	// The request context dies after the upgrade; the connection lives on
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	activeConnections.Inc()

	h.log.Infof("client connected: %s (%s)", c.id, r.RemoteAddr)

	h.greet(c)

	go c.writePump()
	go h.readPump(c)
}

// greet sends the welcome message and an initial status snapshot to a newly
// connected client.
func (h *Hub) greet(c *client) {
	text := welcomeLive
	if h.session.DemoMode() {
		text = welcomeDemo
	}

	now := time.Now().UTC()
	c.trySend(newEvent(EventMessage, WelcomePayload{
		Text:      text,
		SenderID:  "system",
		Timestamp: now,
	}), h)
	c.trySend(newEvent(EventStatus, BasicStatusPayload{
		Initialized: h.session.IsInitialized(),
		DemoMode:    h.session.DemoMode(),
		Timestamp:   now,
	}), h)
}

// readPump consumes client commands until the connection drops.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.removeClient(c)
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warnf("client %s read error: %v", c.id, err)
			}
			return
		}
		h.dispatch(c, cmd)
	}
}

// dispatch routes a command onto the single-worker queue. Queueing keeps
// commands from racing each other on the shared browser page.
func (h *Hub) dispatch(c *client, cmd Command) {
	switch cmd.Type {
	case CommandSendMessage:
		h.queue.submit(func(ctx context.Context) { h.handleSendMessage(ctx, c, cmd) })
	case CommandGetScreenshot:
		h.queue.submit(func(ctx context.Context) { h.handleScreenshot(ctx, c) })
	case CommandGetStatus:
		h.queue.submit(func(ctx context.Context) { h.handleStatus(ctx, c) })
	case CommandGetChats:
		h.queue.submit(func(ctx context.Context) { h.handleChats(ctx, c) })
	default:
		h.log.Warnf("client %s sent unknown command %q", c.id, cmd.Type)
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *client, cmd Command) {
	if !h.session.IsInitialized() {
		c.trySend(newEvent(EventErrorSend, ErrorPayload{Error: errNotInitialized}), h)
		return
	}

	h.log.Infof("client %s sending message to %s", c.id, cmd.Number)

	if err := h.session.SendMessage(ctx, cmd.Number, cmd.Message); err != nil {
		h.log.Errorf("send to %s failed: %v", cmd.Number, err)
		c.trySend(newEvent(EventErrorSend, ErrorPayload{Error: err.Error()}), h)
		return
	}

	now := time.Now().UTC()
	h.persistAsync("bot", cmd.Number, cmd.Message, store.DirectionOut)
	messagesSent.Inc()

	c.trySend(newEvent(EventMessageSent, MessageSentPayload{
		Number:    cmd.Number,
		Message:   cmd.Message,
		Timestamp: now,
	}), h)

	h.Broadcast(newEvent(EventMessageBroadcast, BroadcastPayload{
		From:      "bot",
		To:        cmd.Number,
		Body:      cmd.Message,
		Direction: store.DirectionOut,
		Timestamp: now,
	}))
}

func (h *Hub) handleScreenshot(ctx context.Context, c *client) {
	if !h.session.IsInitialized() {
		c.trySend(newEvent(EventErrorScreenshot, ErrorPayload{Error: errNotInitialized}), h)
		return
	}

	img, err := h.session.Screenshot(ctx)
	if err != nil {
		h.log.Errorf("screenshot failed: %v", err)
		c.trySend(newEvent(EventErrorScreenshot, ErrorPayload{Error: err.Error()}), h)
		return
	}

	c.trySend(newEvent(EventScreenshot, ScreenshotPayload{
		Image:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
		Timestamp: time.Now().UTC(),
	}), h)
}

// handleStatus computes a status snapshot. It never answers with an error
// event: internal failures are embedded in the status payload so the
// dashboard always gets something to render.
func (h *Hub) handleStatus(ctx context.Context, c *client) {
	initialized := h.session.IsInitialized()

	payload := StatusPayload{
		Initialized: initialized,
		DemoMode:    h.session.DemoMode(),
		ActiveChats: []whatsapp.ChatSummary{},
		Timestamp:   time.Now().UTC(),
	}

	if initialized {
		payload.WhatsAppConnected = h.session.CheckConnected(ctx)
		chats, err := h.session.ListChats(ctx)
		if err != nil {
			payload.Error = err.Error()
			payload.WhatsAppConnected = false
		} else if chats != nil {
			payload.ActiveChats = chats
		}
	}

	c.trySend(newEvent(EventStatus, payload), h)
}

func (h *Hub) handleChats(ctx context.Context, c *client) {
	if !h.session.IsInitialized() {
		c.trySend(newEvent(EventErrorChats, ErrorPayload{Error: errNotInitialized}), h)
		return
	}

	chats, err := h.session.ListChats(ctx)
	if err != nil {
		h.log.Errorf("chat listing failed: %v", err)
		c.trySend(newEvent(EventErrorChats, ErrorPayload{Error: err.Error()}), h)
		return
	}
	if chats == nil {
		chats = []whatsapp.ChatSummary{}
	}

	c.trySend(newEvent(EventChats, ChatsPayload{
		Chats:     chats,
		Timestamp: time.Now().UTC(),
	}), h)
}

// handleIncoming receives messages observed by the session driver,
// persists them, and broadcasts to all clients. The broadcast is not
// delayed by persistence.
func (h *Hub) handleIncoming(msg whatsapp.IncomingMessage) {
	h.log.Infof("broadcasting incoming message from %s", msg.From)
	incomingObserved.Inc()

	h.persistAsync(msg.From, "bot", msg.Body, store.DirectionIn)
	h.BroadcastIncoming(msg.From, msg.Body)
}

// BroadcastIncoming announces an inbound message to every connected client,
// timestamped at broadcast time.
func (h *Hub) BroadcastIncoming(from, body string) {
	h.Broadcast(newEvent(EventIncomingMessage, IncomingPayload{
		From:      from,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}))
}

// Broadcast delivers an event to every currently connected client,
// best-effort: clients whose buffers are full lose the event, and nothing
// is queued for clients that connect later.
func (h *Hub) Broadcast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.trySend(evt, h)
	}
	eventsBroadcast.Inc()
}

// persistAsync appends a message record without blocking the caller.
// Failures are logged, never retried, never surfaced to clients.
func (h *Hub) persistAsync(fromJID, toJID, body, direction string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if _, err := h.store.InsertMessage(ctx, fromJID, toJID, body, direction); err != nil {
			h.log.Errorf("failed to store %s message: %v", direction, err)
		}
	}()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c] {
		delete(h.clients, c)
		c.close()
		activeConnections.Dec()
		h.log.Infof("client disconnected: %s", c.id)
	}
}

// ActiveClients returns the number of connected clients.
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes all client connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.conn.Close()
		c.close()
		activeConnections.Dec()
	}
	h.clients = make(map[*client]bool)
}

// trySend queues an event for one client without blocking.
func (c *client) trySend(evt Event, h *Hub) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return
	}
	select {
	case c.send <- evt:
	default:
		eventsDropped.Inc()
		h.log.Warnf("client %s send buffer full, dropping %s event", c.id, evt.Type)
	}
}

// writePump flushes the client's event buffer and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				c.writeMu.Lock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.writeMu.Unlock()
				return
			}

			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteJSON(evt)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
