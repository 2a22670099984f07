package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

type mockEmitter struct {
	mu     sync.Mutex
	events []string
}

func (m *mockEmitter) SendEvent(_ context.Context, name string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := payload.(wire.TypingSignal)
	m.events = append(m.events, name+":"+sig.ConversationID+":"+sig.UserID)
	return nil
}

func (m *mockEmitter) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func testTracker(t *testing.T, stopDelay, typingTimeout time.Duration) (*Tracker, *mockEmitter, *store.Store) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	st := store.New("a", nil, nil, typingTimeout, logger)
	em := &mockEmitter{}
	tr := NewTracker(st, em, stopDelay, logger)
	t.Cleanup(func() {
		tr.Close()
		st.Close()
	})
	return tr, em, st
}

func TestStartTypingThrottles(t *testing.T) {
	tr, em, _ := testTracker(t, 80*time.Millisecond, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := tr.StartTyping(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	// Keystrokes kept extending the timer, so only the start went out.
	if got := em.snapshot(); len(got) != 1 || got[0] != "startTyping:c1:a" {
		t.Fatalf("events = %v, want a single startTyping", got)
	}

	time.Sleep(150 * time.Millisecond)
	got := em.snapshot()
	if len(got) != 2 || got[1] != "stopTyping:c1:a" {
		t.Errorf("events = %v, want stopTyping after silence", got)
	}
	if tr.IsTyping("c1") {
		t.Error("IsTyping should be false after the debounce fired")
	}
}

func TestStopTypingIsImmediateAndOnce(t *testing.T) {
	tr, em, _ := testTracker(t, time.Hour, 0)
	ctx := context.Background()

	if err := tr.StopTyping(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if len(em.snapshot()) != 0 {
		t.Fatal("stop without start should emit nothing")
	}

	_ = tr.StartTyping(ctx, "c1")
	_ = tr.StopTyping(ctx, "c1")
	_ = tr.StopTyping(ctx, "c1")
	got := em.snapshot()
	if len(got) != 2 || got[1] != "stopTyping:c1:a" {
		t.Errorf("events = %v", got)
	}
}

func TestTypingPerConversation(t *testing.T) {
	tr, em, _ := testTracker(t, time.Hour, 0)
	ctx := context.Background()
	_ = tr.StartTyping(ctx, "c1")
	_ = tr.StartTyping(ctx, "c2")
	if n := len(em.snapshot()); n != 2 {
		t.Errorf("emitted %d events, want one start per conversation", n)
	}
}

func TestInboundTypingExpires(t *testing.T) {
	tr, _, _ := testTracker(t, 0, 50*time.Millisecond)
	tr.HandleTyping(wire.Typing{ConversationID: "c1", UserID: "b", IsTyping: true})
	tr.HandleTyping(wire.Typing{ConversationID: "c1", UserID: "a", IsTyping: true})

	got := tr.GetTypingUsers("c1")
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("typing = %v, want [b]", got)
	}
	time.Sleep(120 * time.Millisecond)
	if got := tr.GetTypingUsers("c1"); len(got) != 0 {
		t.Errorf("typing after expiry = %v", got)
	}
}

func TestInboundStopClearsTyping(t *testing.T) {
	tr, _, st := testTracker(t, 0, time.Hour)
	tr.HandleTyping(wire.Typing{ConversationID: "c1", UserID: "b", IsTyping: true})
	tr.HandleTyping(wire.Typing{ConversationID: "c1", UserID: "b", IsTyping: false})
	if got := tr.GetTypingUsers("c1"); len(got) != 0 {
		t.Errorf("typing = %v", got)
	}
	if st.ActiveTimers() != 0 {
		t.Errorf("ActiveTimers = %d", st.ActiveTimers())
	}
}

func TestPresence(t *testing.T) {
	tr, _, _ := testTracker(t, 0, time.Hour)
	seen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tr.HandleOnline(wire.Presence{UserID: "b", LastSeen: seen})
	tr.HandleOnline(wire.Presence{UserID: "b", LastSeen: seen})
	if !tr.IsOnline("b") {
		t.Fatal("b should be online")
	}

	tr.HandleTyping(wire.Typing{ConversationID: "c1", UserID: "b", IsTyping: true})
	later := seen.Add(time.Minute)
	tr.HandleOffline(wire.Presence{UserID: "b", LastSeen: later})
	if tr.IsOnline("b") {
		t.Error("b should be offline")
	}
	if ts, ok := tr.LastSeen("b"); !ok || !ts.Equal(later) {
		t.Errorf("LastSeen = %v, %v", ts, ok)
	}
	if got := tr.GetTypingUsers("c1"); len(got) != 0 {
		t.Errorf("offline user still typing: %v", got)
	}
}
