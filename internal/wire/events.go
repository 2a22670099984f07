// Package wire defines the socket event contract with the chat server and
// normalizes inbound payloads into canonical chat types.
package wire

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/chat"
)

// Transport meta-events, synthesized by the connection manager.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventReconnect    = "reconnect"
	EventConnectError = "connect_error"
)

// Outbound events (client -> server).
const (
	EventJoinUserRoom    = "joinUserRoom"
	EventHeartbeat       = "heartbeat"
	EventSendMessage     = "sendMessage"
	EventStartTyping     = "startTyping"
	EventStopTyping      = "stopTyping"
	EventMarkMessageRead = "markMessageRead"
	EventDeleteMessage   = "deleteMessage"
)

// Inbound events (server -> client).
const (
	EventNewMessage         = "newMessage"
	EventConversationUpdate = "conversationUpdate"
	EventMessageSent        = "messageSent"
	EventMessageRead        = "messageRead"
	EventMessageDeleted     = "messageDeleted"
	EventMessageRecalled    = "messageRecalled"
	EventAllMessagesDeleted = "allMessagesDeleted"
	EventUserOnline         = "userOnline"
	EventUserOffline        = "userOffline"
	EventUserTyping         = "userTyping"
	EventPendingMessage     = "pendingMessage"
	EventMessageAccepted    = "messageAccepted"
	EventMessageRejected    = "messageRejected"
	EventHeartbeatAck       = "heartbeatAck"
)

// Envelope is the frame format on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for the named event.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// UserRef is the payload of joinUserRoom and heartbeat.
type UserRef struct {
	UserID string `json:"userId"`
}

// SendMessage is the outbound sendMessage payload. TempID correlates the ack.
type SendMessage struct {
	SenderID    string            `json:"senderId"`
	ReceiverID  string            `json:"receiverId"`
	Content     string            `json:"content"`
	MessageType chat.MessageType  `json:"messageType"`
	Attachments []chat.Attachment `json:"attachments"`
	TempID      string            `json:"tempId"`
}

// TypingSignal is the outbound startTyping/stopTyping payload.
type TypingSignal struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// MessageAction is the outbound markMessageRead/deleteMessage payload.
type MessageAction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// Meta is the payload of the synthesized transport meta-events.
type Meta struct {
	UserID  string `json:"userId,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}
