package store

import (
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/state"
	"go.uber.org/zap"
)

// DefaultTypingTimeout is how long a typing entry lives without a refresh.
const DefaultTypingTimeout = 3 * time.Second

// Journal records applied transitions.
type Journal interface {
	AppendTransition(t Transition) error
}

// Change is the payload of store.changed events.
type Change struct {
	Kind    string
	Effects state.Effects
}

// ConversationMissing is the payload of store.conversation_missing events.
type ConversationMissing struct {
	ConversationID string
	Kind           string
}

type typingKey struct {
	conversationID string
	userID         string
}

// Store is the single writer of the synchronization state. Every write is a
// state.Action applied under one lock, so transitions never overlap; readers
// get immutable snapshots.
type Store struct {
	mu      sync.Mutex
	st      state.State
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	typingTimeout time.Duration
	timers        map[typingKey]*time.Timer
	closed        bool
}

// New creates a store for selfID. j and b may be nil.
func New(selfID string, j Journal, b *bus.Bus, typingTimeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	s := &Store{
		st:            state.New(""),
		journal:       j,
		bus:           b,
		logger:        logger,
		now:           time.Now,
		typingTimeout: typingTimeout,
		timers:        make(map[typingKey]*time.Timer),
	}
	s.Dispatch(state.SetSelf{UserID: selfID})
	return s
}

// Dispatch applies a transition and returns its effects. Changed transitions
// are journaled and announced on the bus.
func (s *Store) Dispatch(a state.Action) state.Effects {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return state.Effects{}
	}
	next, fx := state.Apply(s.st, a)
	if fx.Changed {
		s.st = next
		s.record(a, fx)
	}
	s.mu.Unlock()

	if fx.Duplicate {
		s.logger.Debug("transition swallowed by idempotency guard", zap.String("kind", a.Kind()))
	}
	if s.bus == nil {
		return fx
	}
	now := s.now()
	if fx.Changed {
		s.bus.Publish(bus.Event{Kind: bus.KindStoreChanged, Timestamp: now, Payload: Change{Kind: a.Kind(), Effects: fx}})
	}
	if fx.ConversationMissing {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindConversationMissing,
			Timestamp: now,
			Payload:   ConversationMissing{ConversationID: fx.ConversationID, Kind: a.Kind()},
		})
	}
	return fx
}

// record must be called with s.mu held.
func (s *Store) record(a state.Action, fx state.Effects) {
	if s.journal == nil {
		return
	}
	payload, err := state.Encode(a)
	if err != nil {
		s.logger.Warn("encode transition", zap.String("kind", a.Kind()), zap.Error(err))
		return
	}
	err = s.journal.AppendTransition(Transition{
		Kind:           a.Kind(),
		Payload:        payload,
		ConversationID: fx.ConversationID,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.logger.Warn("journal transition", zap.String("kind", a.Kind()), zap.Error(err))
	}
}

// Snapshot returns the current state. Callers must treat it as read-only.
func (s *Store) Snapshot() state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// SelfID returns the authenticated user id.
func (s *Store) SelfID() string {
	return s.Snapshot().SelfID
}

// Messages returns the thread of the currently open conversation.
func (s *Store) Messages() []chat.Message {
	return s.Snapshot().Messages()
}

// Conversations returns the conversation list, most recent first.
func (s *Store) Conversations() []chat.Conversation {
	return s.Snapshot().Conversations
}

// TypingUsers returns the users currently typing in a conversation, excluding self.
func (s *Store) TypingUsers(conversationID string) []string {
	return s.Snapshot().TypingUsers(conversationID, s.now())
}

// AddMessage appends a message unless it is a duplicate.
func (s *Store) AddMessage(m chat.Message) state.Effects {
	return s.Dispatch(state.AddMessage{Message: m})
}

// ReplaceTempWithConfirmed swaps an optimistic message for the server copy.
func (s *Store) ReplaceTempWithConfirmed(tempID string, m chat.Message) state.Effects {
	return s.Dispatch(state.ReplaceTempWithConfirmed{TempID: tempID, Message: m})
}

// RemoveMessage rolls back an optimistic message.
func (s *Store) RemoveMessage(id string) state.Effects {
	return s.Dispatch(state.RemoveMessage{MessageID: id})
}

// MarkDeletedForUser tombstones a message for the local viewer.
func (s *Store) MarkDeletedForUser(id string) state.Effects {
	return s.Dispatch(state.MarkDeletedForUser{MessageID: id})
}

// MarkRecalled tombstones a message for every viewer.
func (s *Store) MarkRecalled(id string) state.Effects {
	return s.Dispatch(state.MarkRecalled{MessageID: id})
}

// DeleteAllMessagesInConversation empties a thread.
func (s *Store) DeleteAllMessagesInConversation(conversationID string) state.Effects {
	return s.Dispatch(state.DeleteAllMessagesInConversation{ConversationID: conversationID})
}

// UpdateConversationOnEvent refreshes a conversation snapshot and unread count.
func (s *Store) UpdateConversationOnEvent(conversationID string, last *chat.Message, at time.Time, sentBySelf bool) state.Effects {
	return s.Dispatch(state.UpdateConversationOnEvent{
		ConversationID: conversationID,
		LastMessage:    last,
		LastMessageAt:  at,
		SentBySelf:     sentBySelf,
	})
}

// Online adds a user to the online set.
func (s *Store) Online(userID string, lastSeen time.Time) state.Effects {
	return s.Dispatch(state.UserOnline{UserID: userID, LastSeen: lastSeen})
}

// Offline removes a user from the online set.
func (s *Store) Offline(userID string, lastSeen time.Time) state.Effects {
	return s.Dispatch(state.UserOffline{UserID: userID, LastSeen: lastSeen})
}

// SetTyping records a typing signal. A true entry expires after the typing
// timeout unless refreshed; each refresh restarts the timer.
func (s *Store) SetTyping(conversationID, userID string, isTyping bool) state.Effects {
	key := typingKey{conversationID, userID}
	if !isTyping {
		s.stopTimer(key)
		return s.Dispatch(state.SetTyping{ConversationID: conversationID, UserID: userID})
	}

	deadline := s.now().Add(s.typingTimeout)
	fx := s.Dispatch(state.SetTyping{ConversationID: conversationID, UserID: userID, IsTyping: true, ExpiresAt: deadline})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fx
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.typingTimeout, func() {
		s.mu.Lock()
		current := s.timers[key] == t
		if current {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		if current {
			s.Dispatch(state.ExpireTyping{ConversationID: conversationID, UserID: userID, At: deadline})
		}
	})
	s.timers[key] = t
	return fx
}

func (s *Store) stopTimer(key typingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// CloseConversation clears the current conversation and cancels its typing timers.
func (s *Store) CloseConversation(conversationID string) state.Effects {
	if conversationID == "" {
		conversationID = s.Snapshot().CurrentConversationID
	}
	s.mu.Lock()
	for key, t := range s.timers {
		if key.conversationID == conversationID {
			t.Stop()
			delete(s.timers, key)
		}
	}
	s.mu.Unlock()
	return s.Dispatch(state.CloseConversation{ConversationID: conversationID})
}

// ActiveTimers returns the number of live typing timers.
func (s *Store) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all timers. Later dispatches are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
