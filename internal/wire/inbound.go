package wire

import (
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/tidwall/gjson"
)

// ConversationUpdate is the conversationUpdate payload.
type ConversationUpdate struct {
	ConversationID string
	LastMessage    *chat.Message
	LastMessageAt  time.Time
	SenderID       string
}

// MessageSent is the server's acknowledgment of a sendMessage.
type MessageSent struct {
	Success bool
	TempID  string
	Message *chat.Message
	Error   string
}

// MessageRead is the messageRead receipt.
type MessageRead struct {
	MessageID string
	ReadAt    time.Time
}

// Presence is the userOnline/userOffline payload.
type Presence struct {
	UserID   string
	LastSeen time.Time
}

// Typing is the userTyping payload.
type Typing struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// PendingDecision is the messageAccepted/messageRejected payload.
type PendingDecision struct {
	MessageID string
	Message   *chat.Message
}

func object(raw []byte) (gjson.Result, error) {
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return obj, ErrInvalidPayload
	}
	return obj, nil
}

// ConversationUpdate decodes a conversationUpdate payload.
func (n *Normalizer) ConversationUpdate(raw []byte) (ConversationUpdate, error) {
	obj, err := object(raw)
	if err != nil {
		return ConversationUpdate{}, err
	}
	up := ConversationUpdate{
		ConversationID: firstID(obj, "conversationId", "conversation"),
		LastMessageAt:  n.timeOrNow(obj.Get("lastMessageAt")),
		SenderID:       firstID(obj, "senderId", "sender"),
	}
	if up.ConversationID == "" {
		return ConversationUpdate{}, ErrMissingID
	}
	lm := obj.Get("lastMessage")
	switch {
	case lm.IsObject():
		if m, err := n.message(lm); err == nil {
			if m.ConversationID == "" {
				m.ConversationID = up.ConversationID
			}
			if up.SenderID == "" {
				up.SenderID = m.SenderID
			}
			up.LastMessage = &m
		}
	case lm.Type == gjson.String:
		up.LastMessage = &chat.Message{
			ConversationID: up.ConversationID,
			SenderID:       up.SenderID,
			Content:        lm.Str,
			MessageType:    chat.TypeText,
			Status:         chat.StatusSent,
			CreatedAt:      up.LastMessageAt,
		}
	}
	return up, nil
}

// MessageSent decodes a send acknowledgment.
func (n *Normalizer) MessageSent(raw []byte) (MessageSent, error) {
	obj, err := object(raw)
	if err != nil {
		return MessageSent{}, err
	}
	ack := MessageSent{
		Success: obj.Get("success").Bool(),
		TempID:  obj.Get("tempId").String(),
		Error:   obj.Get("error").String(),
	}
	if m := obj.Get("message"); m.IsObject() {
		msg, err := n.message(m)
		switch {
		case err == nil:
			ack.Message = &msg
		case ack.Success:
			return MessageSent{}, err
		}
		// A failure ack is honored even when its message copy is unusable.
	}
	if ack.Success && ack.Message == nil {
		ack.Success = false
		if ack.Error == "" {
			ack.Error = "acknowledgment carried no message"
		}
	}
	return ack, nil
}

// MessageRead decodes a read receipt.
func (n *Normalizer) MessageRead(raw []byte) (MessageRead, error) {
	obj, err := object(raw)
	if err != nil {
		return MessageRead{}, err
	}
	r := MessageRead{
		MessageID: firstID(obj, "messageId", "id", "_id"),
		ReadAt:    n.timeOrNow(obj.Get("readAt")),
	}
	if r.MessageID == "" {
		return MessageRead{}, ErrMissingID
	}
	return r, nil
}

// MessageID decodes payloads that only reference a message (messageDeleted, messageRecalled).
func (n *Normalizer) MessageID(raw []byte) (string, error) {
	obj, err := object(raw)
	if err != nil {
		return "", err
	}
	id := firstID(obj, "messageId", "id", "_id")
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// ConversationID decodes payloads that only reference a conversation.
func (n *Normalizer) ConversationID(raw []byte) (string, error) {
	obj, err := object(raw)
	if err != nil {
		return "", err
	}
	id := firstID(obj, "conversationId", "conversation", "id")
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// Presence decodes userOnline/userOffline.
func (n *Normalizer) Presence(raw []byte) (Presence, error) {
	obj, err := object(raw)
	if err != nil {
		return Presence{}, err
	}
	p := Presence{
		UserID:   firstID(obj, "userId", "user"),
		LastSeen: n.timeOrNow(obj.Get("lastSeen")),
	}
	if p.UserID == "" {
		return Presence{}, ErrMissingID
	}
	return p, nil
}

// Typing decodes userTyping.
func (n *Normalizer) Typing(raw []byte) (Typing, error) {
	obj, err := object(raw)
	if err != nil {
		return Typing{}, err
	}
	t := Typing{
		ConversationID: firstID(obj, "conversationId", "conversation"),
		UserID:         firstID(obj, "userId", "user"),
		IsTyping:       obj.Get("isTyping").Bool(),
	}
	if t.ConversationID == "" || t.UserID == "" {
		return Typing{}, ErrMissingID
	}
	return t, nil
}

// PendingMessage decodes a pendingMessage payload. The message may be embedded
// under "message" or be the payload itself.
func (n *Normalizer) PendingMessage(raw []byte) (chat.PendingMessage, error) {
	obj, err := object(raw)
	if err != nil {
		return chat.PendingMessage{}, err
	}
	body := obj
	if m := obj.Get("message"); m.IsObject() {
		body = m
	}
	msg, err := n.message(body)
	if err != nil {
		id := firstID(obj, "messageId")
		if id == "" {
			return chat.PendingMessage{}, err
		}
		msg = chat.Message{
			ID:             id,
			ConversationID: firstID(obj, "conversationId", "conversation"),
			SenderID:       firstID(obj, "senderId", "sender"),
			ReceiverID:     firstID(obj, "receiverId", "receiver"),
			Content:        obj.Get("content").String(),
			MessageType:    chat.TypeText,
			Attachments:    []chat.Attachment{},
			Status:         chat.StatusSent,
			CreatedAt:      n.timeOrNow(obj.Get("createdAt")),
		}
	}
	if id := firstID(obj, "messageId"); id != "" {
		msg.ID = id
	}

	sender := n.User(obj.Get("sender"))
	if sender.ID == "" {
		sender = n.User(body.Get("sender"))
	}
	if sender.ID == "" {
		sender.ID = msg.SenderID
	}
	if msg.SenderID == "" {
		msg.SenderID = sender.ID
	}

	return chat.PendingMessage{
		MessageID:  msg.ID,
		Sender:     sender,
		Message:    msg,
		ReceivedAt: msg.CreatedAt,
	}, nil
}

// PendingDecision decodes messageAccepted/messageRejected.
func (n *Normalizer) PendingDecision(raw []byte) (PendingDecision, error) {
	obj, err := object(raw)
	if err != nil {
		return PendingDecision{}, err
	}
	d := PendingDecision{MessageID: firstID(obj, "messageId", "id", "_id")}
	if m := obj.Get("message"); m.IsObject() {
		if msg, err := n.message(m); err == nil {
			d.Message = &msg
			if d.MessageID == "" {
				d.MessageID = msg.ID
			}
		}
	}
	if d.MessageID == "" {
		return PendingDecision{}, ErrMissingID
	}
	return d, nil
}
