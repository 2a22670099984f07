package wire

import (
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/tidwall/gjson"
)

// ErrMissingID is returned when a payload carries no usable identifier.
var ErrMissingID = errors.New("payload has no identifier")

// ErrInvalidPayload is returned when a payload is not a JSON object.
var ErrInvalidPayload = errors.New("payload is not a JSON object")

// Normalizer converts raw server payloads into canonical chat types.
// It is stateless apart from the clock used for missing timestamps.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer. A nil clock means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// CanonicalID reduces an identifier that may be a string, a number, or an
// embedded object ({"_id": ...}, {"id": ...}, {"$oid": ...}) to its string form.
func CanonicalID(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	case gjson.JSON:
		if v.IsObject() {
			for _, key := range []string{"_id", "id", "$oid", "userId"} {
				if id := CanonicalID(v.Get(key)); id != "" {
					return id
				}
			}
		}
	}
	return ""
}

// firstID returns the canonical id of the first present field.
func firstID(obj gjson.Result, fields ...string) string {
	for _, f := range fields {
		if id := CanonicalID(obj.Get(f)); id != "" {
			return id
		}
	}
	return ""
}

func (n *Normalizer) parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t
			}
		}
	case gjson.Number:
		ms := v.Int()
		if ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

func (n *Normalizer) timeOrNow(v gjson.Result) time.Time {
	if t := n.parseTime(v); !t.IsZero() {
		return t
	}
	return n.now()
}

// Message normalizes a raw message payload.
func (n *Normalizer) Message(raw []byte) (chat.Message, error) {
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return chat.Message{}, ErrInvalidPayload
	}
	return n.message(obj)
}

func (n *Normalizer) message(obj gjson.Result) (chat.Message, error) {
	id := firstID(obj, "id", "_id", "messageId")
	if id == "" {
		return chat.Message{}, ErrMissingID
	}

	msg := chat.Message{
		ID:             id,
		ConversationID: firstID(obj, "conversationId", "conversation"),
		SenderID:       firstID(obj, "senderId", "sender"),
		ReceiverID:     firstID(obj, "receiverId", "receiver"),
		Content:        obj.Get("content").String(),
		MessageType:    chat.MessageType(obj.Get("messageType").String()),
		Attachments:    attachments(obj.Get("attachments")),
		Status:         chat.MessageStatus(obj.Get("status").String()),
		CreatedAt:      n.timeOrNow(obj.Get("createdAt")),
		IsRead:         obj.Get("isRead").Bool(),
		ReadAt:         n.parseTime(obj.Get("readAt")),
		IsTemp:         chat.IsTempID(id),
		IsRecalled:     obj.Get("isRecalled").Bool(),
	}
	if msg.MessageType == "" {
		msg.MessageType = chat.TypeText
	}
	if msg.Status == "" {
		msg.Status = chat.StatusSent
	}
	if msg.Status == chat.StatusRead {
		msg.IsRead = true
	}
	if obj.Get("isDeletedForUser").Bool() {
		msg.IsDeletedForUser = true
		msg.Content = chat.DeletedContent
	}
	if msg.IsRecalled {
		msg.Content = chat.RecalledContent
	}
	return msg, nil
}

func attachments(v gjson.Result) []chat.Attachment {
	out := []chat.Attachment{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		switch {
		case item.Type == gjson.String && item.Str != "":
			out = append(out, chat.Attachment{URL: item.Str})
		case item.IsObject():
			url := item.Get("url").String()
			if url == "" {
				continue
			}
			out = append(out, chat.Attachment{
				URL:      url,
				Name:     item.Get("name").String(),
				MimeType: item.Get("mimeType").String(),
				Size:     item.Get("size").Int(),
			})
		}
	}
	return out
}

// User normalizes a user summary. A bare id string yields a summary with only ID set.
func (n *Normalizer) User(v gjson.Result) chat.UserSummary {
	u := chat.UserSummary{ID: CanonicalID(v)}
	if v.IsObject() {
		u.Username = v.Get("username").String()
		u.FullName = v.Get("fullName").String()
		u.Avatar = v.Get("avatar").String()
	}
	return u
}

// Conversation normalizes a raw conversation payload. Participants may be ids or
// embedded user objects; the latter also fill ParticipantDetails.
func (n *Normalizer) Conversation(raw []byte) (chat.Conversation, error) {
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return chat.Conversation{}, ErrInvalidPayload
	}
	return n.conversation(obj)
}

func (n *Normalizer) conversation(obj gjson.Result) (chat.Conversation, error) {
	id := firstID(obj, "id", "_id", "conversationId")
	if id == "" {
		return chat.Conversation{}, ErrMissingID
	}
	conv := chat.Conversation{
		ID:             id,
		ParticipantIDs: []string{},
		LastMessageAt:  n.parseTime(obj.Get("lastMessageAt")),
		UnreadCount:    int(obj.Get("unreadCount").Int()),
		IsMock:         chat.IsPlaceholderID(id),
	}
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}
	for _, p := range obj.Get("participants").Array() {
		u := n.User(p)
		if u.ID == "" {
			continue
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, u.ID)
		if p.IsObject() {
			conv.ParticipantDetails = append(conv.ParticipantDetails, u)
		}
	}
	if lm := obj.Get("lastMessage"); lm.IsObject() {
		if m, err := n.message(lm); err == nil {
			if m.ConversationID == "" {
				m.ConversationID = id
			}
			conv.LastMessage = &m
			if conv.LastMessageAt.IsZero() {
				conv.LastMessageAt = m.CreatedAt
			}
		}
	} else if lm.Type == gjson.String {
		conv.LastMessage = &chat.Message{ConversationID: id, Content: lm.Str, MessageType: chat.TypeText, Status: chat.StatusSent}
	}
	return conv, nil
}
