package api

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/chat"
)

// StatusReply describes the daemon and its synchronization state.
type StatusReply struct {
	Profile               string `json:"profile"`
	UserID                string `json:"userId"`
	Status                string `json:"status"`
	State                 string `json:"state"`
	UptimeMs              int64  `json:"uptimeMs"`
	CurrentConversationID string `json:"currentConversationId,omitempty"`
	Conversations         int    `json:"conversations"`
	Messages              int    `json:"messages"`
	TempMessages          int    `json:"tempMessages"`
	UnreadTotal           int    `json:"unreadTotal"`
	Pending               int    `json:"pending"`
	Inflight              int    `json:"inflight"`
}

// ConversationsReply lists conversations, most recent first.
type ConversationsReply struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// MessagesReply is one conversation's loaded thread, oldest first.
type MessagesReply struct {
	ConversationID string         `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
	Loaded         int            `json:"loaded,omitempty"`
}

// SendRequest is the SendMessage request. ConversationID may stand in for
// ReceiverID; Files are local paths uploaded before sending. Wait blocks
// until the send is confirmed or fails.
type SendRequest struct {
	ReceiverID     string            `json:"receiverId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Content        string            `json:"content"`
	MessageType    chat.MessageType  `json:"messageType,omitempty"`
	Attachments    []chat.Attachment `json:"attachments,omitempty"`
	Files          []string          `json:"files,omitempty"`
	Wait           bool              `json:"wait,omitempty"`
}

// SendReply carries the temp message, or the confirmed one after a wait.
type SendReply struct {
	Message   chat.Message `json:"message"`
	Confirmed bool         `json:"confirmed"`
}

// OpenReply is the opened conversation and its first page.
type OpenReply struct {
	Conversation chat.Conversation `json:"conversation"`
	Messages     []chat.Message    `json:"messages"`
}

// ConversationReply wraps a single conversation.
type ConversationReply struct {
	Conversation chat.Conversation `json:"conversation"`
}

// CountReply carries a count returned by the server.
type CountReply struct {
	Count int `json:"count"`
}

// PendingReply lists messages awaiting a decision.
type PendingReply struct {
	Pending []chat.PendingMessage `json:"pending"`
}

// MessageReply wraps an optional message.
type MessageReply struct {
	Message *chat.Message `json:"message,omitempty"`
}

// JournalRequest filters ListJournal.
type JournalRequest struct {
	AfterSeq       int64  `json:"afterSeq,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// JournalEntry is one recorded transition.
type JournalEntry struct {
	Seq            int64           `json:"seq"`
	Kind           string          `json:"kind"`
	ConversationID string          `json:"conversationId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload"`
}

// JournalReply lists transitions in order.
type JournalReply struct {
	Entries []JournalEntry `json:"entries"`
}

// SettingsUpdate changes the fields that are set and leaves the rest.
type SettingsUpdate struct {
	ConversationID    string `json:"conversationId"`
	RequireAcceptance *bool  `json:"requireAcceptance,omitempty"`
	Muted             *bool  `json:"muted,omitempty"`
}

// SettingsReply wraps a conversation's settings.
type SettingsReply struct {
	Settings chat.ConversationSettings `json:"settings"`
}

// UsersReply lists user search results.
type UsersReply struct {
	Users []chat.UserSummary `json:"users"`
}

// Event is one bus event streamed by WatchEvents.
type Event struct {
	ID         string          `json:"id"`
	Profile    string          `json:"profile"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type idRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Page           int    `json:"page,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type watchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}
