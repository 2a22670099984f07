// Package presence tracks who is typing and who is online, and throttles the
// local user's own typing signals.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// DefaultStopDelay is how long after the last keystroke stopTyping is sent.
const DefaultStopDelay = 3 * time.Second

const emitTimeout = 5 * time.Second

// Emitter writes events to the server.
type Emitter interface {
	SendEvent(ctx context.Context, name string, payload any) error
}

// Tracker is the typing and presence tracker. Inbound signals go to the
// store; outbound signals are debounced per conversation.
type Tracker struct {
	store     *store.Store
	emitter   Emitter
	logger    *zap.Logger
	stopDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTracker creates a tracker. A zero stopDelay selects DefaultStopDelay.
func NewTracker(st *store.Store, emitter Emitter, stopDelay time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stopDelay <= 0 {
		stopDelay = DefaultStopDelay
	}
	return &Tracker{
		store:     st,
		emitter:   emitter,
		logger:    logger,
		stopDelay: stopDelay,
		timers:    make(map[string]*time.Timer),
	}
}

// StartTyping reports a keystroke in a conversation. startTyping is emitted
// only when the user was not already typing there; every call pushes the
// pending stopTyping back by the stop delay.
func (t *Tracker) StartTyping(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	timer, typing := t.timers[conversationID]
	if typing {
		timer.Stop()
	}
	var next *time.Timer
	next = time.AfterFunc(t.stopDelay, func() {
		t.mu.Lock()
		current := t.timers[conversationID] == next
		if current {
			delete(t.timers, conversationID)
		}
		t.mu.Unlock()
		if current {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			defer cancel()
			t.emit(ctx, wire.EventStopTyping, conversationID)
		}
	})
	t.timers[conversationID] = next
	t.mu.Unlock()

	if typing {
		return nil
	}
	return t.emit(ctx, wire.EventStartTyping, conversationID)
}

// StopTyping emits stopTyping right away if the user was typing.
func (t *Tracker) StopTyping(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	timer, typing := t.timers[conversationID]
	if typing {
		timer.Stop()
		delete(t.timers, conversationID)
	}
	t.mu.Unlock()
	if !typing {
		return nil
	}
	return t.emit(ctx, wire.EventStopTyping, conversationID)
}

// IsTyping reports whether the local user has an open typing signal.
func (t *Tracker) IsTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[conversationID]
	return ok
}

func (t *Tracker) emit(ctx context.Context, event, conversationID string) error {
	err := t.emitter.SendEvent(ctx, event, wire.TypingSignal{
		UserID:         t.store.SelfID(),
		ConversationID: conversationID,
	})
	if err != nil {
		t.logger.Debug("typing signal", zap.String("event", event), zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return err
}

// GetTypingUsers returns the other users typing in a conversation.
func (t *Tracker) GetTypingUsers(conversationID string) []string {
	return t.store.TypingUsers(conversationID)
}

// HandleTyping applies an inbound userTyping event. Echoes of the local
// user's own signal are ignored.
func (t *Tracker) HandleTyping(ev wire.Typing) {
	if ev.UserID == t.store.SelfID() {
		return
	}
	t.store.SetTyping(ev.ConversationID, ev.UserID, ev.IsTyping)
}

// HandleOnline applies an inbound userOnline event.
func (t *Tracker) HandleOnline(ev wire.Presence) {
	t.store.Online(ev.UserID, ev.LastSeen)
}

// HandleOffline applies an inbound userOffline event. A user who goes
// offline also stops typing everywhere.
func (t *Tracker) HandleOffline(ev wire.Presence) {
	t.store.Offline(ev.UserID, ev.LastSeen)
	for convID, users := range t.store.Snapshot().Typing {
		if _, ok := users[ev.UserID]; ok {
			t.store.SetTyping(convID, ev.UserID, false)
		}
	}
}

// IsOnline reports whether a user is in the online set.
func (t *Tracker) IsOnline(userID string) bool {
	return t.store.Snapshot().IsOnline(userID)
}

// LastSeen returns the last-seen stamp of a user, if any event carried one.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	ts, ok := t.store.Snapshot().LastSeen[userID]
	return ts, ok
}

// Close cancels pending stopTyping timers without emitting them.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
