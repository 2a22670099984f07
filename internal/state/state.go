// Package state holds the chat synchronization state and the named transitions
// that are the only way to change it. Every transition is a pure function of
// (State, Action): Apply never mutates its input, so a sequence of actions can be
// replayed to the same result.
package state

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// State is the client's view of conversations, messages, presence and queues.
// Values are treated as immutable; use Apply to derive a new one.
type State struct {
	SelfID                string
	Conversations         []chat.Conversation
	CurrentConversationID string
	// Threads holds loaded messages per conversation id, oldest first.
	Threads map[string][]chat.Message
	Online  map[string]bool
	// LastSeen is stamped by explicit online/offline events only.
	LastSeen map[string]time.Time
	// Typing maps conversation -> user -> expiry deadline of the typing entry.
	Typing      map[string]map[string]time.Time
	UnreadTotal int
	Pending     []chat.PendingMessage
	// Decided records terminal pending decisions so re-delivery cannot revive them.
	Decided map[string]chat.PendingDecision
}

// New returns an empty state for the given user.
func New(selfID string) State {
	return State{
		SelfID:   selfID,
		Threads:  map[string][]chat.Message{},
		Online:   map[string]bool{},
		LastSeen: map[string]time.Time{},
		Typing:   map[string]map[string]time.Time{},
		Decided:  map[string]chat.PendingDecision{},
	}
}

func (s State) clone() State {
	out := s
	out.Conversations = slices.Clone(s.Conversations)
	out.Threads = make(map[string][]chat.Message, len(s.Threads))
	for id, msgs := range s.Threads {
		out.Threads[id] = slices.Clone(msgs)
	}
	out.Online = maps.Clone(s.Online)
	out.LastSeen = maps.Clone(s.LastSeen)
	out.Typing = make(map[string]map[string]time.Time, len(s.Typing))
	for id, users := range s.Typing {
		out.Typing[id] = maps.Clone(users)
	}
	out.Pending = slices.Clone(s.Pending)
	out.Decided = maps.Clone(s.Decided)
	if out.Online == nil {
		out.Online = map[string]bool{}
	}
	if out.LastSeen == nil {
		out.LastSeen = map[string]time.Time{}
	}
	if out.Decided == nil {
		out.Decided = map[string]chat.PendingDecision{}
	}
	return out
}

// Messages returns the thread of the currently open conversation.
func (s State) Messages() []chat.Message {
	if s.CurrentConversationID == "" {
		return nil
	}
	return s.Threads[s.CurrentConversationID]
}

// Thread returns the loaded messages of a conversation.
func (s State) Thread(conversationID string) []chat.Message {
	return s.Threads[conversationID]
}

// Conversation looks up a conversation by id.
func (s State) Conversation(id string) (chat.Conversation, bool) {
	if i := s.conversationIndex(id); i >= 0 {
		return s.Conversations[i], true
	}
	return chat.Conversation{}, false
}

// ConversationWith returns the conversation shared with userID, preferring a real
// conversation over a placeholder.
func (s State) ConversationWith(userID string) (chat.Conversation, bool) {
	var mock *chat.Conversation
	for i := range s.Conversations {
		c := &s.Conversations[i]
		if !c.HasParticipant(userID) || !c.HasParticipant(s.SelfID) {
			continue
		}
		if !c.IsMock {
			return *c, true
		}
		if mock == nil {
			mock = c
		}
	}
	if mock != nil {
		return *mock, true
	}
	return chat.Conversation{}, false
}

// FindMessage locates a message in any loaded thread.
func (s State) FindMessage(id string) (chat.Message, bool) {
	if convID, i := s.messageIndex(id); i >= 0 {
		return s.Threads[convID][i], true
	}
	return chat.Message{}, false
}

// MessageCount returns the number of messages across all loaded threads.
func (s State) MessageCount() int {
	n := 0
	for _, msgs := range s.Threads {
		n += len(msgs)
	}
	return n
}

// TempCount returns the number of unconfirmed optimistic messages.
func (s State) TempCount() int {
	n := 0
	for _, msgs := range s.Threads {
		for _, m := range msgs {
			if m.IsTemp {
				n++
			}
		}
	}
	return n
}

// TypingUsers returns the users typing in a conversation at time now, excluding
// the current user, sorted by id.
func (s State) TypingUsers(conversationID string, now time.Time) []string {
	var users []string
	for userID, deadline := range s.Typing[conversationID] {
		if userID == s.SelfID || !now.Before(deadline) {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether userID is in the online set.
func (s State) IsOnline(userID string) bool {
	return s.Online[userID]
}

// PendingMessage looks up a queued pending message.
func (s State) PendingMessage(messageID string) (chat.PendingMessage, bool) {
	if i := s.pendingIndex(messageID); i >= 0 {
		return s.Pending[i], true
	}
	return chat.PendingMessage{}, false
}

func (s State) conversationIndex(id string) int {
	for i := range s.Conversations {
		if s.Conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) messageIndex(id string) (string, int) {
	for convID, msgs := range s.Threads {
		for i := range msgs {
			if msgs[i].ID == id {
				return convID, i
			}
		}
	}
	return "", -1
}

func (s State) pendingIndex(id string) int {
	for i := range s.Pending {
		if s.Pending[i].MessageID == id {
			return i
		}
	}
	return -1
}
