// Package sync routes inbound socket events into the synchronization store and
// drives the request/response side: initial load, reloads when a message
// lands in an unknown conversation, and conversation open/close.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/unread"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const handlerTimeout = 10 * time.Second

// Lookup errors for operations addressed by id.
var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownMessage      = errors.New("unknown message")
)

// Transport is the part of the connection manager the engine uses.
type Transport interface {
	OnEvent(name string, h conn.Handler) func()
	SendEvent(ctx context.Context, name string, payload any) error
}

// API is the part of the REST client the engine uses.
type API interface {
	Conversations(ctx context.Context, page, limit int) ([]chat.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, error)
	CreateConversation(ctx context.Context, participantID string) (chat.Conversation, error)
	RecallMessage(ctx context.Context, messageID string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Deps are the engine's collaborators.
type Deps struct {
	Store    *store.Store
	Conn     Transport
	API      API
	Outbox   *outbox.Pipeline
	Presence *presence.Tracker
	Unread   *unread.Service
	Pending  *pending.Workflow
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Options tune the engine.
type Options struct {
	PageSize     int
	RecallWindow time.Duration
}

// Engine is the inbound side of the chat sync. Handlers run in delivery
// order on the connection's read goroutine.
type Engine struct {
	Deps
	opts       Options
	normalizer *wire.Normalizer
	group      singleflight.Group
	subs       bus.Disposers

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates an engine.
func NewEngine(d Deps, opts Options) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.RecallWindow <= 0 {
		opts.RecallWindow = chat.DefaultRecallWindow
	}
	return &Engine{Deps: d, opts: opts, normalizer: wire.NewNormalizer(nil)}
}

// Start registers the inbound handlers and the conversation-missing reload.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	on := func(event string, h conn.Handler) {
		e.subs.Add(e.Conn.OnEvent(event, h))
	}
	on(wire.EventConnect, func([]byte) { go e.initialLoad() })
	on(wire.EventDisconnect, e.onDisconnect)
	on(wire.EventNewMessage, e.onNewMessage)
	on(wire.EventConversationUpdate, e.onConversationUpdate)
	on(wire.EventMessageSent, e.onMessageSent)
	on(wire.EventMessageRead, e.onMessageRead)
	on(wire.EventMessageDeleted, e.onMessageDeleted)
	on(wire.EventMessageRecalled, e.onMessageRecalled)
	on(wire.EventAllMessagesDeleted, e.onAllMessagesDeleted)
	on(wire.EventUserOnline, e.onUserOnline)
	on(wire.EventUserOffline, e.onUserOffline)
	on(wire.EventUserTyping, e.onUserTyping)
	on(wire.EventPendingMessage, e.onPendingMessage)
	on(wire.EventMessageAccepted, e.onMessageAccepted)
	on(wire.EventMessageRejected, e.onMessageRejected)
	on(wire.EventHeartbeatAck, func([]byte) { e.Logger.Debug("heartbeat acknowledged") })

	if e.Bus != nil {
		e.subs.Add(e.Bus.Handle(bus.KindConversationMissing, 64, func(evt bus.Event) {
			p, _ := evt.Payload.(store.ConversationMissing)
			e.Logger.Info("conversation missing, reloading list", zap.String("conversation_id", p.ConversationID), zap.String("kind", p.Kind))
			if err := e.ReloadConversations(e.ctx); err != nil {
				e.Logger.Warn("reload conversations", zap.Error(err))
			}
		}))
	}
}

// Stop releases every handler and subscription.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.subs.Dispose()
}

func (e *Engine) drop(event string, err error) {
	e.Logger.Debug("dropping inbound event", zap.String("event", event), zap.Error(err))
}

func (e *Engine) onDisconnect(data []byte) {
	e.Logger.Info("disconnected", zap.String("reason", gjson.GetBytes(data, "reason").String()))
}

func (e *Engine) onNewMessage(data []byte) {
	m, err := e.normalizer.Message(data)
	if err != nil {
		e.drop(wire.EventNewMessage, err)
		return
	}
	fx := e.Store.AddMessage(m)
	if !fx.Changed {
		return
	}
	// A message arriving in the open conversation is read on sight.
	snap := e.Store.Snapshot()
	if m.SenderID != snap.SelfID && fx.ConversationID != "" && fx.ConversationID == snap.CurrentConversationID {
		ctx, cancel := context.WithTimeout(e.ctx, handlerTimeout)
		defer cancel()
		if err := e.Unread.MarkAsRead(ctx, m.ID); err != nil {
			e.Logger.Debug("auto mark read", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}
}

func (e *Engine) onConversationUpdate(data []byte) {
	up, err := e.normalizer.ConversationUpdate(data)
	if err != nil {
		e.drop(wire.EventConversationUpdate, err)
		return
	}
	sentBySelf := up.SenderID != "" && up.SenderID == e.Store.SelfID()
	e.Store.UpdateConversationOnEvent(up.ConversationID, up.LastMessage, up.LastMessageAt, sentBySelf)
}

func (e *Engine) onMessageSent(data []byte) {
	ack, err := e.normalizer.MessageSent(data)
	if err != nil {
		e.drop(wire.EventMessageSent, err)
		return
	}
	e.Outbox.HandleAck(ack)
}

func (e *Engine) onMessageRead(data []byte) {
	r, err := e.normalizer.MessageRead(data)
	if err != nil {
		e.drop(wire.EventMessageRead, err)
		return
	}
	e.Unread.HandleReceipt(r)
}

func (e *Engine) onMessageDeleted(data []byte) {
	id, err := e.normalizer.MessageID(data)
	if err != nil {
		e.drop(wire.EventMessageDeleted, err)
		return
	}
	e.Store.MarkDeletedForUser(id)
}

func (e *Engine) onMessageRecalled(data []byte) {
	id, err := e.normalizer.MessageID(data)
	if err != nil {
		e.drop(wire.EventMessageRecalled, err)
		return
	}
	e.Store.MarkRecalled(id)
}

func (e *Engine) onAllMessagesDeleted(data []byte) {
	id, err := e.normalizer.ConversationID(data)
	if err != nil {
		e.drop(wire.EventAllMessagesDeleted, err)
		return
	}
	e.Store.DeleteAllMessagesInConversation(id)
}

func (e *Engine) onUserOnline(data []byte) {
	p, err := e.normalizer.Presence(data)
	if err != nil {
		e.drop(wire.EventUserOnline, err)
		return
	}
	e.Presence.HandleOnline(p)
}

func (e *Engine) onUserOffline(data []byte) {
	p, err := e.normalizer.Presence(data)
	if err != nil {
		e.drop(wire.EventUserOffline, err)
		return
	}
	e.Presence.HandleOffline(p)
}

func (e *Engine) onUserTyping(data []byte) {
	t, err := e.normalizer.Typing(data)
	if err != nil {
		e.drop(wire.EventUserTyping, err)
		return
	}
	e.Presence.HandleTyping(t)
}

func (e *Engine) onPendingMessage(data []byte) {
	p, err := e.normalizer.PendingMessage(data)
	if err != nil {
		e.drop(wire.EventPendingMessage, err)
		return
	}
	e.Pending.HandlePending(p)
}

func (e *Engine) onMessageAccepted(data []byte) {
	d, err := e.normalizer.PendingDecision(data)
	if err != nil {
		e.drop(wire.EventMessageAccepted, err)
		return
	}
	e.Pending.HandleAccepted(d)
}

func (e *Engine) onMessageRejected(data []byte) {
	d, err := e.normalizer.PendingDecision(data)
	if err != nil {
		e.drop(wire.EventMessageRejected, err)
		return
	}
	e.Pending.HandleRejected(d)
}

// initialLoad fetches the conversation list and the unread total side by
// side. Failures are logged and leave the state as it was.
func (e *Engine) initialLoad() {
	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.ReloadConversations(gctx) })
	g.Go(func() error {
		_, err := e.Unread.Refresh(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		e.Logger.Warn("initial load", zap.Error(err))
		return
	}
	e.Logger.Info("initial load complete", zap.Int("conversations", len(e.Store.Conversations())))
}

// ReloadConversations replaces the list with the server's first page.
// Concurrent calls share one request.
func (e *Engine) ReloadConversations(ctx context.Context) error {
	_, err, shared := e.group.Do("conversations", func() (any, error) {
		convs, err := e.API.Conversations(ctx, 1, e.opts.PageSize)
		if err != nil {
			return nil, err
		}
		e.Store.Dispatch(state.SetConversations{Conversations: convs})
		return nil, nil
	})
	if shared {
		e.Logger.Debug("conversation reload shared")
	}
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	return nil
}

// OpenConversation makes a conversation current, loads its newest page and
// marks it read.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	if _, ok := e.Store.Snapshot().Conversation(conversationID); !ok {
		return fmt.Errorf("open conversation %s: %w", conversationID, ErrUnknownConversation)
	}
	e.Store.Dispatch(state.OpenConversation{ConversationID: conversationID})
	if chat.IsPlaceholderID(conversationID) {
		return nil
	}

	msgs, err := e.API.Messages(ctx, conversationID, 1, e.opts.PageSize)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	e.Store.Dispatch(state.SetMessages{ConversationID: conversationID, Messages: msgs})

	if _, err := e.Unread.MarkConversationAsRead(ctx, conversationID); err != nil {
		e.Logger.Warn("mark opened conversation read", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return nil
}

// LoadOlder merges an older page in front of a conversation's thread.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string, page int) (int, error) {
	msgs, err := e.API.Messages(ctx, conversationID, page, e.opts.PageSize)
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}
	e.Store.Dispatch(state.SetMessages{ConversationID: conversationID, Messages: msgs, Older: true})
	return len(msgs), nil
}

// CloseConversation clears the current conversation, ends the local user's
// typing signal there and cancels its typing timers.
func (e *Engine) CloseConversation(ctx context.Context, conversationID string) {
	if conversationID == "" {
		conversationID = e.Store.Snapshot().CurrentConversationID
	}
	if conversationID == "" {
		return
	}
	if err := e.Presence.StopTyping(ctx, conversationID); err != nil {
		e.Logger.Debug("stop typing on close", zap.Error(err))
	}
	e.Store.CloseConversation(conversationID)
}

// StartConversation returns the conversation with a user, creating it on the
// server when none is known.
func (e *Engine) StartConversation(ctx context.Context, userID string) (chat.Conversation, error) {
	if c, ok := e.Store.Snapshot().ConversationWith(userID); ok && !c.IsMock {
		return c, nil
	}
	c, err := e.API.CreateConversation(ctx, userID)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	e.Store.Dispatch(state.UpsertConversation{Conversation: c})
	return c, nil
}

// RecallMessage recalls one of the user's own messages for every viewer.
// The recall window is checked here first; the server checks it again.
func (e *Engine) RecallMessage(ctx context.Context, messageID string) error {
	snap := e.Store.Snapshot()
	m, ok := snap.FindMessage(messageID)
	if !ok {
		return fmt.Errorf("recall %s: %w", messageID, ErrUnknownMessage)
	}
	if err := chat.CheckRecall(&m, snap.SelfID, time.Now(), e.opts.RecallWindow); err != nil {
		return err
	}
	if err := e.API.RecallMessage(ctx, messageID); err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	e.Store.MarkRecalled(messageID)
	return nil
}

// DeleteForMe hides a message for the local user only. The socket is
// preferred; the HTTP endpoint covers a dropped connection.
func (e *Engine) DeleteForMe(ctx context.Context, messageID string) error {
	err := e.Conn.SendEvent(ctx, wire.EventDeleteMessage, wire.MessageAction{
		MessageID: messageID,
		UserID:    e.Store.SelfID(),
	})
	if errors.Is(err, conn.ErrNotConnected) {
		err = e.API.DeleteMessage(ctx, messageID)
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	e.Store.MarkDeletedForUser(messageID)
	return nil
}
