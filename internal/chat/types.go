package chat

import "time"

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// MessageStatus is the delivery status reported by the server.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Substitute content shown in place of tombstoned messages.
const (
	DeletedContent  = "This message was deleted"
	RecalledContent = "This message was recalled"
)

// Attachment is a file already uploaded to the server.
type Attachment struct {
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is the canonical message shape. All participant ids are plain strings.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	Content        string        `json:"content"`
	MessageType    MessageType   `json:"messageType"`
	Attachments    []Attachment  `json:"attachments"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	IsRead         bool          `json:"isRead"`
	ReadAt         time.Time     `json:"readAt"`

	IsTemp           bool `json:"isTemp,omitempty"`
	IsRecalled       bool `json:"isRecalled,omitempty"`
	IsDeletedForUser bool `json:"isDeletedForUser,omitempty"`
}

// UserSummary is display-only user information.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Conversation is a two-party thread. UnreadCount is derived locally.
type Conversation struct {
	ID                 string        `json:"id"`
	ParticipantIDs     []string      `json:"participantIds"`
	ParticipantDetails []UserSummary `json:"participantDetails,omitempty"`
	LastMessage        *Message      `json:"lastMessage,omitempty"`
	LastMessageAt      time.Time     `json:"lastMessageAt"`
	UnreadCount        int           `json:"unreadCount"`
	IsMock             bool          `json:"isMock,omitempty"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// PendingMessage is an inbound message held until the recipient accepts or rejects it.
type PendingMessage struct {
	MessageID  string      `json:"messageId"`
	Sender     UserSummary `json:"sender"`
	Message    Message     `json:"message"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// PendingDecision is the terminal state of a pending message.
type PendingDecision string

const (
	PendingAccepted PendingDecision = "accepted"
	PendingRejected PendingDecision = "rejected"
)

// ConversationSettings holds per-conversation preferences stored on the server.
type ConversationSettings struct {
	ConversationID    string `json:"conversationId"`
	RequireAcceptance bool   `json:"requireAcceptance"`
	Muted             bool   `json:"muted"`
}
