package state

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/chat"
)

// Action is a named transition. Actions are plain data so they can be journaled
// and replayed.
type Action interface {
	Kind() string
}

// SetSelf records the authenticated user.
type SetSelf struct {
	UserID string `json:"userId"`
}

// SetConversations replaces the conversation list with a fresh server page.
type SetConversations struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// UpsertConversation inserts or replaces one conversation.
type UpsertConversation struct {
	Conversation chat.Conversation `json:"conversation"`
}

// AddPlaceholderConversation inserts a client-only conversation with a peer.
type AddPlaceholderConversation struct {
	Conversation chat.Conversation `json:"conversation"`
}

// RemovePlaceholderConversation drops a client-only conversation whose thread
// is empty. Used when the send that created it is rolled back.
type RemovePlaceholderConversation struct {
	ConversationID string `json:"conversationId"`
}

// OpenConversation makes a conversation the one currently viewed.
type OpenConversation struct {
	ConversationID string `json:"conversationId"`
}

// CloseConversation clears the current conversation and its typing entries.
type CloseConversation struct {
	ConversationID string `json:"conversationId"`
}

// SetMessages loads a page of a conversation's messages. Older pages are merged
// in front of the existing thread.
type SetMessages struct {
	ConversationID string         `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
	Older          bool           `json:"older,omitempty"`
}

// AddMessage appends a message unless it is a duplicate.
type AddMessage struct {
	Message chat.Message `json:"message"`
}

// ReplaceTempWithConfirmed swaps an optimistic message for its server copy.
type ReplaceTempWithConfirmed struct {
	TempID  string       `json:"tempId"`
	Message chat.Message `json:"message"`
}

// RemoveMessage drops a message entirely. Used only to roll back a failed send.
type RemoveMessage struct {
	MessageID string `json:"messageId"`
}

// MarkDeletedForUser tombstones a message for the local viewer only.
type MarkDeletedForUser struct {
	MessageID string `json:"messageId"`
}

// MarkRecalled replaces a message's content for every viewer.
type MarkRecalled struct {
	MessageID string `json:"messageId"`
}

// MarkMessageRead flags a single message as read.
type MarkMessageRead struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// MarkConversationMessagesRead flags every incoming message of a thread as read.
type MarkConversationMessagesRead struct {
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

// DeleteAllMessagesInConversation empties a conversation's thread.
type DeleteAllMessagesInConversation struct {
	ConversationID string `json:"conversationId"`
}

// UpdateConversationOnEvent refreshes the denormalized snapshot and unread count.
type UpdateConversationOnEvent struct {
	ConversationID string        `json:"conversationId"`
	LastMessage    *chat.Message `json:"lastMessage,omitempty"`
	LastMessageAt  time.Time     `json:"lastMessageAt"`
	SentBySelf     bool          `json:"sentBySelf"`
}

// SetTyping records a typing signal. A true entry lives until ExpiresAt.
type SetTyping struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ExpireTyping drops a typing entry whose deadline is not after At.
type ExpireTyping struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	At             time.Time `json:"at"`
}

// UserOnline adds a user to the online set.
type UserOnline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// UserOffline removes a user from the online set.
type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// ZeroUnread clears a conversation's local unread count.
type ZeroUnread struct {
	ConversationID string `json:"conversationId"`
}

// AdjustUnreadTotal moves the global unread counter, never below zero.
type AdjustUnreadTotal struct {
	Delta int `json:"delta"`
}

// SetUnreadTotal overwrites the global unread counter with a server value.
type SetUnreadTotal struct {
	Total int `json:"total"`
}

// AddPending queues a message awaiting acceptance.
type AddPending struct {
	Pending chat.PendingMessage `json:"pending"`
}

// AcceptPending promotes a pending message into its conversation.
type AcceptPending struct {
	MessageID string `json:"messageId"`
}

// RejectPending discards a pending message.
type RejectPending struct {
	MessageID string `json:"messageId"`
}

func (SetSelf) Kind() string                         { return "setSelf" }
func (SetConversations) Kind() string                { return "setConversations" }
func (UpsertConversation) Kind() string              { return "upsertConversation" }
func (AddPlaceholderConversation) Kind() string      { return "addPlaceholderConversation" }
func (RemovePlaceholderConversation) Kind() string   { return "removePlaceholderConversation" }
func (OpenConversation) Kind() string                { return "openConversation" }
func (CloseConversation) Kind() string               { return "closeConversation" }
func (SetMessages) Kind() string                     { return "setMessages" }
func (AddMessage) Kind() string                      { return "addMessage" }
func (ReplaceTempWithConfirmed) Kind() string        { return "replaceTempWithConfirmed" }
func (RemoveMessage) Kind() string                   { return "removeMessage" }
func (MarkDeletedForUser) Kind() string              { return "markDeletedForUser" }
func (MarkRecalled) Kind() string                    { return "markRecalled" }
func (MarkMessageRead) Kind() string                 { return "markMessageRead" }
func (MarkConversationMessagesRead) Kind() string    { return "markConversationMessagesRead" }
func (DeleteAllMessagesInConversation) Kind() string { return "deleteAllMessagesInConversation" }
func (UpdateConversationOnEvent) Kind() string       { return "updateConversationOnEvent" }
func (SetTyping) Kind() string                       { return "setTyping" }
func (ExpireTyping) Kind() string                    { return "expireTyping" }
func (UserOnline) Kind() string                      { return "online" }
func (UserOffline) Kind() string                     { return "offline" }
func (ZeroUnread) Kind() string                      { return "zeroUnread" }
func (AdjustUnreadTotal) Kind() string               { return "adjustUnreadTotal" }
func (SetUnreadTotal) Kind() string                  { return "setUnreadTotal" }
func (AddPending) Kind() string                      { return "addPending" }
func (AcceptPending) Kind() string                   { return "acceptPending" }
func (RejectPending) Kind() string                   { return "rejectPending" }

type decoder func(payload []byte) (Action, error)

var registry = map[string]decoder{}

func register[A Action]() {
	var zero A
	registry[zero.Kind()] = func(payload []byte) (Action, error) {
		var a A
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func init() {
	register[SetSelf]()
	register[SetConversations]()
	register[UpsertConversation]()
	register[AddPlaceholderConversation]()
	register[RemovePlaceholderConversation]()
	register[OpenConversation]()
	register[CloseConversation]()
	register[SetMessages]()
	register[AddMessage]()
	register[ReplaceTempWithConfirmed]()
	register[RemoveMessage]()
	register[MarkDeletedForUser]()
	register[MarkRecalled]()
	register[MarkMessageRead]()
	register[MarkConversationMessagesRead]()
	register[DeleteAllMessagesInConversation]()
	register[UpdateConversationOnEvent]()
	register[SetTyping]()
	register[ExpireTyping]()
	register[UserOnline]()
	register[UserOffline]()
	register[ZeroUnread]()
	register[AdjustUnreadTotal]()
	register[SetUnreadTotal]()
	register[AddPending]()
	register[AcceptPending]()
	register[RejectPending]()
}

// Encode serializes an action for the journal.
func Encode(a Action) ([]byte, error) {
	return json.Marshal(a)
}

// Decode rebuilds an action from its kind and journaled payload.
func Decode(kind string, payload []byte) (Action, error) {
	dec, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	a, err := dec(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return a, nil
}
