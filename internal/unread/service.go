// Package unread keeps per-conversation and global unread counters in step
// with read receipts sent to the server.
package unread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// ErrUnknownMessage is returned by MarkAsRead for a message that is not loaded.
var ErrUnknownMessage = errors.New("message not loaded")

// Emitter writes events to the server.
type Emitter interface {
	SendEvent(ctx context.Context, name string, payload any) error
}

// API is the server side of read receipts.
type API interface {
	MarkConversationRead(ctx context.Context, conversationID string) (int, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Service is the unread/read reconciliation component.
type Service struct {
	store   *store.Store
	emitter Emitter
	api     API
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the service.
func NewService(st *store.Store, emitter Emitter, api API, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, emitter: emitter, api: api, logger: logger, now: time.Now}
}

// MarkAsRead marks one message read locally and tells the server.
func (s *Service) MarkAsRead(ctx context.Context, messageID string) error {
	m, ok := s.store.Snapshot().FindMessage(messageID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if m.IsTemp {
		return nil
	}
	s.store.Dispatch(state.MarkMessageRead{MessageID: messageID, ReadAt: s.now()})
	err := s.emitter.SendEvent(ctx, wire.EventMarkMessageRead, wire.MessageAction{
		MessageID: messageID,
		UserID:    s.store.SelfID(),
	})
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// MarkConversationAsRead zeroes a conversation's badge right away, then asks
// the server. The global total moves by the count the server reports, not by
// the local badge. A failed request leaves the badge cleared.
func (s *Service) MarkConversationAsRead(ctx context.Context, conversationID string) (int, error) {
	s.store.Dispatch(state.ZeroUnread{ConversationID: conversationID})
	s.store.Dispatch(state.MarkConversationMessagesRead{ConversationID: conversationID, ReadAt: s.now()})

	if chat.IsPlaceholderID(conversationID) {
		return 0, nil
	}
	n, err := s.api.MarkConversationRead(ctx, conversationID)
	if err != nil {
		s.logger.Warn("mark conversation read", zap.String("conversation_id", conversationID), zap.Error(err))
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		s.store.Dispatch(state.AdjustUnreadTotal{Delta: -n})
	}
	s.logger.Debug("conversation read", zap.String("conversation_id", conversationID), zap.Int("marked", n))
	return n, nil
}

// HandleReceipt applies an inbound messageRead receipt.
func (s *Service) HandleReceipt(r wire.MessageRead) {
	s.store.Dispatch(state.MarkMessageRead{MessageID: r.MessageID, ReadAt: r.ReadAt})
}

// Refresh replaces the global total with the server's count.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	n, err := s.api.UnreadCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	s.store.Dispatch(state.SetUnreadTotal{Total: n})
	return n, nil
}

// Total returns the global unread counter.
func (s *Service) Total() int {
	return s.store.Snapshot().UnreadTotal
}
