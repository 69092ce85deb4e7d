package relay

import (
	"encoding/json"
	"time"

	"github.com/entrhq/wabridge/pkg/whatsapp"
)

// Command type names (client → server).
const (
	CommandSendMessage   = "send_message"
	CommandGetScreenshot = "get_screenshot"
	CommandGetStatus     = "get_status"
	CommandGetChats      = "get_chats"
)

// Event type names (server → client).
const (
	EventMessage          = "message"
	EventStatus           = "status"
	EventChats            = "chats"
	EventScreenshot       = "screenshot"
	EventMessageSent      = "message_sent"
	EventMessageBroadcast = "message_broadcast"
	EventIncomingMessage  = "incoming_message"
	EventErrorSend        = "error_send"
	EventErrorScreenshot  = "error_screenshot"
	EventErrorChats       = "error_chats"
)

// Command is a client request received over the WebSocket connection.
type Command struct {
	Type    string `json:"type"`
	Number  string `json:"number,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is a server message sent to one or all clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newEvent(eventType string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this is unreachable in practice
		data = []byte(`{}`)
	}
	return Event{Type: eventType, Payload: data}
}

// WelcomePayload is sent once per connection.
type WelcomePayload struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// BasicStatusPayload is the initial status sent on connect, before any
// session probing.
type BasicStatusPayload struct {
	Initialized bool      `json:"initialized"`
	DemoMode    bool      `json:"demoMode"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusPayload is the full snapshot answered to get_status. Status
// reporting never hard-fails; internal errors ride along in Error.
type StatusPayload struct {
	Initialized       bool                   `json:"initialized"`
	DemoMode          bool                   `json:"demoMode"`
	WhatsAppConnected bool                   `json:"whatsappConnected"`
	ActiveChats       []whatsapp.ChatSummary `json:"activeChats"`
	Error             string                 `json:"error,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}

// ChatsPayload answers get_chats.
type ChatsPayload struct {
	Chats     []whatsapp.ChatSummary `json:"chats"`
	Timestamp time.Time              `json:"timestamp"`
}

// ScreenshotPayload answers get_screenshot. Image is a base64 PNG data URI.
type ScreenshotPayload struct {
	Image     string    `json:"image"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSentPayload confirms a send to the requesting client.
type MessageSentPayload struct {
	Number    string    `json:"number"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastPayload announces an outbound message to every client.
type BroadcastPayload struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// IncomingPayload announces an observed inbound message to every client.
// The timestamp is assigned at broadcast time, not at detection time.
type IncomingPayload struct {
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload carries a human-readable failure for error_* events.
type ErrorPayload struct {
	Error string `json:"error"`
}
