package state

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Effects describes what a transition did beyond producing the new state.
type Effects struct {
	// Changed is false when the action was a no-op.
	Changed bool
	// Duplicate is set when an idempotency guard swallowed the action.
	Duplicate bool
	// ConversationMissing is set when a message or update referenced a
	// conversation that is not in the list. The caller owns the reload.
	ConversationMissing bool
	ConversationID      string
	// Marked counts messages whose unread state was flipped.
	Marked int
}

// Apply returns the state produced by applying a to s. s is not modified.
func Apply(s State, a Action) (State, Effects) {
	next := s.clone()
	var fx Effects
	switch a := a.(type) {
	case SetSelf:
		fx.Changed = next.SelfID != a.UserID
		next.SelfID = a.UserID
	case SetConversations:
		fx = next.setConversations(a.Conversations)
	case UpsertConversation:
		fx = next.upsertConversation(a.Conversation)
	case AddPlaceholderConversation:
		fx = next.addPlaceholder(a.Conversation)
	case RemovePlaceholderConversation:
		fx = next.removePlaceholder(a.ConversationID)
	case OpenConversation:
		fx.Changed = next.CurrentConversationID != a.ConversationID
		fx.ConversationID = a.ConversationID
		next.CurrentConversationID = a.ConversationID
	case CloseConversation:
		fx = next.closeConversation(a.ConversationID)
	case SetMessages:
		fx = next.setMessages(a)
	case AddMessage:
		fx = next.addMessage(a.Message, true)
	case ReplaceTempWithConfirmed:
		fx = next.replaceTemp(a.TempID, a.Message)
	case RemoveMessage:
		fx = next.removeMessage(a.MessageID)
	case MarkDeletedForUser:
		fx.Changed = next.mapMessages(func(m chat.Message) (chat.Message, bool) {
			if m.ID != a.MessageID || m.IsDeletedForUser {
				return m, false
			}
			m.IsDeletedForUser = true
			m.Content = chat.DeletedContent
			m.Attachments = []chat.Attachment{}
			return m, true
		})
	case MarkRecalled:
		fx.Changed = next.mapMessages(func(m chat.Message) (chat.Message, bool) {
			if m.ID != a.MessageID || m.IsRecalled {
				return m, false
			}
			m.IsRecalled = true
			m.Content = chat.RecalledContent
			m.Attachments = []chat.Attachment{}
			return m, true
		})
	case MarkMessageRead:
		fx = next.markMessageRead(a.MessageID, a.ReadAt)
	case MarkConversationMessagesRead:
		fx = next.markConversationMessagesRead(a.ConversationID, a.ReadAt)
	case DeleteAllMessagesInConversation:
		fx.ConversationID = a.ConversationID
		if len(next.Threads[a.ConversationID]) > 0 {
			delete(next.Threads, a.ConversationID)
			fx.Changed = true
		}
		if i := next.conversationIndex(a.ConversationID); i >= 0 && next.Conversations[i].LastMessage != nil {
			next.Conversations[i].LastMessage = nil
			fx.Changed = true
		}
	case UpdateConversationOnEvent:
		fx = next.updateConversationOnEvent(a)
	case SetTyping:
		fx = next.setTyping(a)
	case ExpireTyping:
		users := next.Typing[a.ConversationID]
		if deadline, ok := users[a.UserID]; ok && !deadline.After(a.At) {
			delete(users, a.UserID)
			if len(users) == 0 {
				delete(next.Typing, a.ConversationID)
			}
			fx.Changed = true
		}
	case UserOnline:
		stamped := next.stampLastSeen(a.UserID, a.LastSeen)
		fx.Changed = stamped || !next.Online[a.UserID]
		next.Online[a.UserID] = true
	case UserOffline:
		stamped := next.stampLastSeen(a.UserID, a.LastSeen)
		fx.Changed = stamped || next.Online[a.UserID]
		delete(next.Online, a.UserID)
	case ZeroUnread:
		fx.ConversationID = a.ConversationID
		if i := next.conversationIndex(a.ConversationID); i >= 0 && next.Conversations[i].UnreadCount != 0 {
			fx.Marked = next.Conversations[i].UnreadCount
			next.Conversations[i].UnreadCount = 0
			fx.Changed = true
		}
	case AdjustUnreadTotal:
		total := max(0, next.UnreadTotal+a.Delta)
		fx.Changed = total != next.UnreadTotal
		next.UnreadTotal = total
	case SetUnreadTotal:
		total := max(0, a.Total)
		fx.Changed = total != next.UnreadTotal
		next.UnreadTotal = total
	case AddPending:
		fx = next.addPending(a.Pending)
	case AcceptPending:
		fx = next.acceptPending(a.MessageID)
	case RejectPending:
		fx = next.rejectPending(a.MessageID)
	}
	if !fx.Changed {
		return s, fx
	}
	return next, fx
}

// Replay folds actions over an empty state.
func Replay(actions []Action) State {
	s := New("")
	for _, a := range actions {
		s, _ = Apply(s, a)
	}
	return s
}

// mapThread applies fn to every message of a thread. The returned slice is
// fresh when any message changed.
func mapThread(msgs []chat.Message, fn func(chat.Message) (chat.Message, bool)) ([]chat.Message, bool) {
	var out []chat.Message
	for i, m := range msgs {
		nm, changed := fn(m)
		if !changed {
			continue
		}
		if out == nil {
			out = slices.Clone(msgs)
		}
		out[i] = nm
	}
	if out == nil {
		return msgs, false
	}
	return out, true
}

// mapMessages applies fn to every loaded message and to every conversation's
// lastMessage snapshot, so in-place edits stay consistent across both.
func (s *State) mapMessages(fn func(chat.Message) (chat.Message, bool)) bool {
	changed := false
	for id, msgs := range s.Threads {
		if out, ok := mapThread(msgs, fn); ok {
			s.Threads[id] = out
			changed = true
		}
	}
	for i := range s.Conversations {
		lm := s.Conversations[i].LastMessage
		if lm == nil {
			continue
		}
		if nm, ok := fn(*lm); ok {
			s.Conversations[i].LastMessage = &nm
			changed = true
		}
	}
	return changed
}

func (s *State) moveToFront(i int) {
	if i <= 0 {
		return
	}
	c := s.Conversations[i]
	copy(s.Conversations[1:i+1], s.Conversations[:i])
	s.Conversations[0] = c
}

// touchConversation refreshes a conversation's lastMessage snapshot and moves it
// to the front. It reports false when the conversation is not listed.
func (s *State) touchConversation(convID string, m chat.Message) bool {
	i := s.conversationIndex(convID)
	if i < 0 {
		return false
	}
	snap := m
	s.Conversations[i].LastMessage = &snap
	if m.CreatedAt.After(s.Conversations[i].LastMessageAt) {
		s.Conversations[i].LastMessageAt = m.CreatedAt
	}
	s.moveToFront(i)
	return true
}

func (s *State) peerOf(m chat.Message) string {
	if m.SenderID == s.SelfID {
		return m.ReceiverID
	}
	return m.SenderID
}

func (s *State) setConversations(incoming []chat.Conversation) Effects {
	next := make([]chat.Conversation, 0, len(incoming)+len(s.Conversations))
	seen := map[string]bool{}
	for _, c := range incoming {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.ID == s.CurrentConversationID {
			c.UnreadCount = 0
		}
		next = append(next, c)
	}
	// Placeholders survive a reload until a real conversation with the same
	// peer shows up.
	var mocks []chat.Conversation
	for _, c := range s.Conversations {
		if !c.IsMock {
			continue
		}
		replaced := false
		for _, r := range next {
			if sameParticipants(c, r) {
				replaced = true
				s.retarget(c.ID, r.ID)
				break
			}
		}
		if !replaced {
			mocks = append(mocks, c)
		}
	}
	s.Conversations = append(mocks, next...)
	return Effects{Changed: true}
}

func (s *State) upsertConversation(c chat.Conversation) Effects {
	fx := Effects{Changed: true, ConversationID: c.ID}
	if c.ID == s.CurrentConversationID {
		c.UnreadCount = 0
	}
	if i := s.conversationIndex(c.ID); i >= 0 {
		s.Conversations[i] = c
		return fx
	}
	if !c.IsMock {
		for i, m := range s.Conversations {
			if m.IsMock && sameParticipants(m, c) {
				s.retarget(m.ID, c.ID)
				s.Conversations[i] = c
				return fx
			}
		}
	}
	s.Conversations = append([]chat.Conversation{c}, s.Conversations...)
	return fx
}

func (s *State) addPlaceholder(c chat.Conversation) Effects {
	for _, p := range c.ParticipantIDs {
		if p == s.SelfID {
			continue
		}
		if existing, ok := s.ConversationWith(p); ok {
			return Effects{ConversationID: existing.ID}
		}
	}
	c.IsMock = true
	s.Conversations = append([]chat.Conversation{c}, s.Conversations...)
	return Effects{Changed: true, ConversationID: c.ID}
}

func (s *State) removePlaceholder(id string) Effects {
	fx := Effects{ConversationID: id}
	i := s.conversationIndex(id)
	if i < 0 || !s.Conversations[i].IsMock || len(s.Threads[id]) > 0 {
		return fx
	}
	s.Conversations = slices.Delete(slices.Clone(s.Conversations), i, i+1)
	delete(s.Threads, id)
	delete(s.Typing, id)
	if s.CurrentConversationID == id {
		s.CurrentConversationID = ""
	}
	fx.Changed = true
	return fx
}

func sameParticipants(a, b chat.Conversation) bool {
	if len(a.ParticipantIDs) != len(b.ParticipantIDs) {
		return false
	}
	for _, p := range a.ParticipantIDs {
		if !b.HasParticipant(p) {
			return false
		}
	}
	return true
}

// retarget moves everything keyed by a placeholder id onto the real id. The
// placeholder's messages are merged behind any already loaded real messages.
func (s *State) retarget(from, to string) {
	if from == to {
		return
	}
	if msgs, ok := s.Threads[from]; ok {
		moved, _ := mapThread(msgs, func(m chat.Message) (chat.Message, bool) {
			m.ConversationID = to
			return m, true
		})
		s.Threads[to] = appendUnique(s.Threads[to], moved)
		delete(s.Threads, from)
	}
	if users, ok := s.Typing[from]; ok {
		delete(s.Typing, from)
		if len(users) > 0 {
			s.Typing[to] = users
		}
	}
	if s.CurrentConversationID == from {
		s.CurrentConversationID = to
	}
}

func appendUnique(dst, src []chat.Message) []chat.Message {
	out := slices.Clone(dst)
	for _, m := range src {
		if !slices.ContainsFunc(out, func(e chat.Message) bool { return e.ID == m.ID }) {
			out = append(out, m)
		}
	}
	return out
}

func (s *State) closeConversation(id string) Effects {
	if id == "" {
		id = s.CurrentConversationID
	}
	fx := Effects{ConversationID: id}
	if id == "" {
		return fx
	}
	if s.CurrentConversationID == id {
		s.CurrentConversationID = ""
		fx.Changed = true
	}
	if _, ok := s.Typing[id]; ok {
		delete(s.Typing, id)
		fx.Changed = true
	}
	return fx
}

func (s *State) setMessages(a SetMessages) Effects {
	existing := s.Threads[a.ConversationID]
	page := make([]chat.Message, 0, len(a.Messages))
	ids := map[string]bool{}
	for _, m := range a.Messages {
		if m.ID == "" || ids[m.ID] {
			continue
		}
		ids[m.ID] = true
		if m.ConversationID == "" {
			m.ConversationID = a.ConversationID
		}
		page = append(page, m)
	}

	var thread []chat.Message
	if a.Older {
		thread = page
		for _, m := range existing {
			if !ids[m.ID] {
				thread = append(thread, m)
			}
		}
	} else {
		// A fresh page replaces the thread, except for sends still awaiting
		// their ack that the server does not know about yet.
		thread = page
		for _, m := range existing {
			if !m.IsTemp || ids[m.ID] {
				continue
			}
			confirmed := slices.ContainsFunc(page, func(p chat.Message) bool {
				return p.Content == m.Content && p.SenderID == m.SenderID
			})
			if !confirmed {
				thread = append(thread, m)
			}
		}
	}
	s.Threads[a.ConversationID] = thread
	return Effects{Changed: true, ConversationID: a.ConversationID}
}

func (s *State) hasTempMatch(m chat.Message) bool {
	for _, msgs := range s.Threads {
		for _, e := range msgs {
			if e.IsTemp && e.Content == m.Content && e.SenderID == m.SenderID {
				return true
			}
		}
	}
	return false
}

// addMessage appends m unless its id is already present. With tempGuard, a
// confirmed message matching an optimistic one by (content, sender) is also
// treated as a duplicate: the pending ack will swap it in.
func (s *State) addMessage(m chat.Message, tempGuard bool) Effects {
	if m.ID == "" {
		return Effects{}
	}
	if _, i := s.messageIndex(m.ID); i >= 0 {
		return Effects{Duplicate: true, ConversationID: m.ConversationID}
	}
	if tempGuard && !m.IsTemp && s.hasTempMatch(m) {
		return Effects{Duplicate: true, ConversationID: m.ConversationID}
	}
	if m.ConversationID == "" {
		if c, ok := s.ConversationWith(s.peerOf(m)); ok {
			m.ConversationID = c.ID
		} else {
			return Effects{ConversationMissing: true}
		}
	}
	if m.Attachments == nil {
		m.Attachments = []chat.Attachment{}
	}
	s.Threads[m.ConversationID] = append(s.Threads[m.ConversationID], m)
	fx := Effects{Changed: true, ConversationID: m.ConversationID}
	if !s.touchConversation(m.ConversationID, m) {
		fx.ConversationMissing = true
	}
	return fx
}

func (s *State) replaceTemp(tempID string, c chat.Message) Effects {
	c.IsTemp = false
	if c.Attachments == nil {
		c.Attachments = []chat.Attachment{}
	}
	convID, i := s.messageIndex(tempID)
	if i < 0 {
		// The temp entry is already gone; the confirmed copy still lands.
		return s.addMessage(c, false)
	}
	if _, j := s.messageIndex(c.ID); j >= 0 {
		// Confirmed copy arrived first through the inbound path.
		s.Threads[convID] = slices.Delete(slices.Clone(s.Threads[convID]), i, i+1)
		if c.ConversationID != "" && c.ConversationID != convID && chat.IsPlaceholderID(convID) {
			s.promotePlaceholder(convID, c.ConversationID)
		}
		return Effects{Changed: true, Duplicate: true, ConversationID: c.ConversationID}
	}

	if c.ConversationID == "" {
		c.ConversationID = convID
	}
	if c.ConversationID != convID && chat.IsPlaceholderID(convID) {
		s.promotePlaceholder(convID, c.ConversationID)
		convID, i = s.messageIndex(tempID)
	}

	fx := Effects{Changed: true, ConversationID: c.ConversationID}
	if convID == c.ConversationID {
		thread := slices.Clone(s.Threads[convID])
		thread[i] = c
		s.Threads[convID] = thread
	} else {
		s.Threads[convID] = slices.Delete(slices.Clone(s.Threads[convID]), i, i+1)
		s.Threads[c.ConversationID] = append(s.Threads[c.ConversationID], c)
	}
	if !s.touchConversation(c.ConversationID, c) {
		fx.ConversationMissing = true
	}
	return fx
}

// promotePlaceholder replaces a placeholder conversation with the real one: the
// placeholder is renamed, or dropped when the real conversation is already listed.
func (s *State) promotePlaceholder(mockID, realID string) {
	mi := s.conversationIndex(mockID)
	if mi >= 0 {
		if s.conversationIndex(realID) >= 0 {
			s.Conversations = slices.Delete(s.Conversations, mi, mi+1)
		} else {
			s.Conversations[mi].ID = realID
			s.Conversations[mi].IsMock = false
		}
	}
	s.retarget(mockID, realID)
}

func (s *State) removeMessage(id string) Effects {
	convID, i := s.messageIndex(id)
	if i < 0 {
		return Effects{}
	}
	thread := slices.Delete(slices.Clone(s.Threads[convID]), i, i+1)
	s.Threads[convID] = thread
	if ci := s.conversationIndex(convID); ci >= 0 {
		if lm := s.Conversations[ci].LastMessage; lm != nil && lm.ID == id {
			if len(thread) > 0 {
				last := thread[len(thread)-1]
				s.Conversations[ci].LastMessage = &last
			} else {
				s.Conversations[ci].LastMessage = nil
			}
		}
	}
	return Effects{Changed: true, ConversationID: convID}
}

func (s *State) markMessageRead(id string, at time.Time) Effects {
	convID, i := s.messageIndex(id)
	if i < 0 {
		return Effects{}
	}
	m := s.Threads[convID][i]
	if m.IsRead {
		return Effects{ConversationID: convID}
	}
	fx := Effects{Changed: true, ConversationID: convID}
	s.mapMessages(func(e chat.Message) (chat.Message, bool) {
		if e.ID != id {
			return e, false
		}
		e.IsRead = true
		e.Status = chat.StatusRead
		e.ReadAt = at
		return e, true
	})
	if m.SenderID != s.SelfID {
		fx.Marked = 1
		// The total only moves with a conversation count, so a message read
		// in the open conversation (never counted) leaves both alone.
		if ci := s.conversationIndex(convID); ci >= 0 && s.Conversations[ci].UnreadCount > 0 {
			s.Conversations[ci].UnreadCount--
			s.UnreadTotal = max(0, s.UnreadTotal-1)
		}
	}
	return fx
}

func (s *State) markConversationMessagesRead(convID string, at time.Time) Effects {
	fx := Effects{ConversationID: convID}
	out, changed := mapThread(s.Threads[convID], func(m chat.Message) (chat.Message, bool) {
		if m.IsRead || m.SenderID == s.SelfID {
			return m, false
		}
		m.IsRead = true
		m.Status = chat.StatusRead
		m.ReadAt = at
		fx.Marked++
		return m, true
	})
	if changed {
		s.Threads[convID] = out
		fx.Changed = true
	}
	return fx
}

func (s *State) updateConversationOnEvent(a UpdateConversationOnEvent) Effects {
	fx := Effects{ConversationID: a.ConversationID}
	i := s.conversationIndex(a.ConversationID)
	if i < 0 {
		fx.ConversationMissing = true
		return fx
	}
	c := &s.Conversations[i]
	if a.LastMessage != nil {
		snap := *a.LastMessage
		c.LastMessage = &snap
	}
	if !a.LastMessageAt.IsZero() {
		c.LastMessageAt = a.LastMessageAt
	}
	switch {
	case a.ConversationID == s.CurrentConversationID:
		// open: stays where markConversationAsRead left it
	case a.SentBySelf:
		// own message: unchanged
	default:
		c.UnreadCount++
		s.UnreadTotal++
	}
	s.moveToFront(i)
	fx.Changed = true
	return fx
}

func (s *State) setTyping(a SetTyping) Effects {
	users := s.Typing[a.ConversationID]
	if !a.IsTyping {
		if _, ok := users[a.UserID]; !ok {
			return Effects{ConversationID: a.ConversationID}
		}
		delete(users, a.UserID)
		if len(users) == 0 {
			delete(s.Typing, a.ConversationID)
		}
		return Effects{Changed: true, ConversationID: a.ConversationID}
	}
	if users == nil {
		users = map[string]time.Time{}
		s.Typing[a.ConversationID] = users
	}
	users[a.UserID] = a.ExpiresAt
	return Effects{Changed: true, ConversationID: a.ConversationID}
}

func (s *State) stampLastSeen(userID string, at time.Time) bool {
	if at.IsZero() || s.LastSeen[userID].Equal(at) {
		return false
	}
	s.LastSeen[userID] = at
	return true
}

func (s *State) addPending(p chat.PendingMessage) Effects {
	if p.MessageID == "" {
		return Effects{}
	}
	if _, decided := s.Decided[p.MessageID]; decided || s.pendingIndex(p.MessageID) >= 0 {
		return Effects{Duplicate: true}
	}
	s.Pending = append(s.Pending, p)
	return Effects{Changed: true, ConversationID: p.Message.ConversationID}
}

func (s *State) acceptPending(id string) Effects {
	i := s.pendingIndex(id)
	if i < 0 {
		_, decided := s.Decided[id]
		return Effects{Duplicate: decided}
	}
	p := s.Pending[i]
	s.Pending = slices.Delete(s.Pending, i, i+1)
	s.Decided[id] = chat.PendingAccepted
	fx := s.addMessage(p.Message, true)
	fx.Changed = true
	fx.Duplicate = false
	return fx
}

func (s *State) rejectPending(id string) Effects {
	if _, decided := s.Decided[id]; decided {
		return Effects{Duplicate: true}
	}
	fx := Effects{Changed: true}
	if i := s.pendingIndex(id); i >= 0 {
		fx.ConversationID = s.Pending[i].Message.ConversationID
		s.Pending = slices.Delete(s.Pending, i, i+1)
	}
	s.Decided[id] = chat.PendingRejected
	return fx
}
