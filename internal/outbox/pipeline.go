package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Validation errors, returned before anything is sent.
var (
	ErrEmptyMessage   = errors.New("message has no content and no attachments")
	ErrContentTooLong = errors.New("message content too long")
	ErrInvalidMessage = errors.New("invalid message")
)

// ErrUnknownTempID is returned by Wait for a temp id that is not tracked.
var ErrUnknownTempID = errors.New("no send in flight for temp id")

const (
	DefaultMaxLength  = 2000
	DefaultAckTimeout = 20 * time.Second

	reasonAckTimeout = "acknowledgment timed out"
	reasonNoMessage  = "acknowledgment carried no message"
)

// Emitter writes events to the server.
type Emitter interface {
	SendEvent(ctx context.Context, name string, payload any) error
}

// SendError is a send the server rejected, or that was never acknowledged.
type SendError struct {
	TempID string
	Reason string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s failed: %s", e.TempID, e.Reason)
}

// Ack is the payload of message.send_ack events.
type Ack struct {
	TempID         string
	MessageID      string
	ConversationID string
}

type request struct {
	ReceiverID  string            `validate:"required"`
	MessageType chat.MessageType  `validate:"oneof=text image file"`
	Attachments []chat.Attachment `validate:"dive"`
}

type outcome struct {
	msg chat.Message
	err error
}

type inflight struct {
	done   chan outcome
	timer  *time.Timer
	result *outcome
}

// Pipeline is the optimistic send path: a temp message lands in the store
// immediately and is later swapped for the server copy or rolled back.
// Concurrent sends are independent; each is keyed by its own temp id.
type Pipeline struct {
	store      *store.Store
	emitter    Emitter
	bus        *bus.Bus
	validate   *validator.Validate
	logger     *zap.Logger
	maxLength  int
	ackTimeout time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]*inflight
}

// NewPipeline creates a send pipeline. Zero maxLength or ackTimeout select defaults.
func NewPipeline(st *store.Store, emitter Emitter, b *bus.Bus, maxLength int, ackTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Pipeline{
		store:      st,
		emitter:    emitter,
		bus:        b,
		validate:   validator.New(),
		logger:     logger,
		maxLength:  maxLength,
		ackTimeout: ackTimeout,
		now:        time.Now,
		inflight:   make(map[string]*inflight),
	}
}

// Validate checks a send without side effects.
func (p *Pipeline) Validate(receiverID, content string, typ chat.MessageType, attachments []chat.Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if err := p.validate.Var(content, fmt.Sprintf("max=%d", p.maxLength)); err != nil {
		return fmt.Errorf("%w: limit is %d characters", ErrContentTooLong, p.maxLength)
	}
	if typ == "" {
		typ = chat.TypeText
	}
	err := p.validate.Struct(request{ReceiverID: receiverID, MessageType: typ, Attachments: attachments})
	if err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			first := vErrs[0]
			return fmt.Errorf("%w: field %s failed %s", ErrInvalidMessage, first.Namespace(), first.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Send validates, inserts a temp message, and emits sendMessage carrying the
// temp id. It returns the temp message; use Wait for the outcome. A transport
// failure rolls the temp message back and is returned.
func (p *Pipeline) Send(ctx context.Context, receiverID, content string, typ chat.MessageType, attachments []chat.Attachment) (chat.Message, error) {
	if err := p.Validate(receiverID, content, typ, attachments); err != nil {
		return chat.Message{}, err
	}
	if typ == "" {
		typ = chat.TypeText
	}
	if attachments == nil {
		attachments = []chat.Attachment{}
	}

	selfID := p.store.SelfID()
	now := p.now()
	convID := p.conversationFor(selfID, receiverID, now)

	msg := chat.Message{
		ID:             chat.NewTempID(),
		ConversationID: convID,
		SenderID:       selfID,
		ReceiverID:     receiverID,
		Content:        content,
		MessageType:    typ,
		Attachments:    attachments,
		Status:         chat.StatusSent,
		CreatedAt:      now,
		IsTemp:         true,
	}

	p.mu.Lock()
	fl := &inflight{done: make(chan outcome, 1)}
	tempID := msg.ID
	fl.timer = time.AfterFunc(p.ackTimeout, func() {
		p.logger.Warn("send not acknowledged", zap.String("temp_id", tempID), zap.Duration("timeout", p.ackTimeout))
		p.fail(tempID, reasonAckTimeout)
	})
	p.inflight[tempID] = fl
	p.mu.Unlock()

	p.store.AddMessage(msg)

	err := p.emitter.SendEvent(ctx, wire.EventSendMessage, wire.SendMessage{
		SenderID:    selfID,
		ReceiverID:  receiverID,
		Content:     content,
		MessageType: typ,
		Attachments: attachments,
		TempID:      tempID,
	})
	if err != nil {
		p.logger.Warn("emit sendMessage", zap.String("temp_id", tempID), zap.Error(err))
		p.fail(tempID, err.Error())
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	p.logger.Debug("message queued", zap.String("temp_id", tempID), zap.String("conversation_id", convID))
	return msg, nil
}

// conversationFor returns the conversation shared with receiverID, creating a
// placeholder when none is known yet.
func (p *Pipeline) conversationFor(selfID, receiverID string, now time.Time) string {
	if c, ok := p.store.Snapshot().ConversationWith(receiverID); ok {
		return c.ID
	}
	fx := p.store.Dispatch(state.AddPlaceholderConversation{Conversation: chat.Conversation{
		ID:             chat.NewPlaceholderID(),
		ParticipantIDs: []string{selfID, receiverID},
		LastMessageAt:  now,
		IsMock:         true,
	}})
	return fx.ConversationID
}

// Wait blocks until the send identified by tempID is confirmed or fails.
func (p *Pipeline) Wait(ctx context.Context, tempID string) (chat.Message, error) {
	p.mu.Lock()
	fl, ok := p.inflight[tempID]
	p.mu.Unlock()
	if !ok {
		return chat.Message{}, ErrUnknownTempID
	}
	select {
	case o := <-fl.done:
		fl.done <- o
		return o.msg, o.err
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	}
}

// HandleAck reconciles a messageSent acknowledgment. Acks for unknown temp ids
// (timed out, or sent from another session) still apply: the confirmed copy is
// inserted through the duplicate guard, a failure removes whatever is left.
func (p *Pipeline) HandleAck(ack wire.MessageSent) {
	if ack.TempID == "" {
		p.logger.Debug("ack without temp id")
		return
	}
	if !ack.Success || ack.Message == nil {
		reason := ack.Error
		if reason == "" {
			reason = reasonNoMessage
		}
		p.fail(ack.TempID, reason)
		return
	}

	confirmed := *ack.Message
	confirmed.IsTemp = false
	fx := p.store.ReplaceTempWithConfirmed(ack.TempID, confirmed)
	if fx.Duplicate {
		p.logger.Debug("confirmed message already present", zap.String("temp_id", ack.TempID), zap.String("msg_id", confirmed.ID))
	}
	if fx.ConversationID != "" {
		confirmed.ConversationID = fx.ConversationID
	}

	p.resolve(ack.TempID, outcome{msg: confirmed})
	p.logger.Info("message sent", zap.String("temp_id", ack.TempID), zap.String("msg_id", confirmed.ID))
	if p.bus != nil {
		p.bus.Publish(bus.Event{
			Kind:      bus.KindSendAck,
			Timestamp: p.now(),
			Payload:   Ack{TempID: ack.TempID, MessageID: confirmed.ID, ConversationID: confirmed.ConversationID},
		})
	}
}

// fail rolls back a temp message and surfaces the reason.
func (p *Pipeline) fail(tempID, reason string) {
	if fx := p.store.RemoveMessage(tempID); fx.Changed && chat.IsPlaceholderID(fx.ConversationID) {
		p.store.Dispatch(state.RemovePlaceholderConversation{ConversationID: fx.ConversationID})
	}
	err := &SendError{TempID: tempID, Reason: reason}
	if !p.resolve(tempID, outcome{err: err}) {
		return
	}
	p.logger.Warn("message send failed", zap.String("temp_id", tempID), zap.String("error", reason))
	if p.bus != nil {
		p.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Timestamp: p.now(), Payload: err})
	}
}

// resolve completes an in-flight send once. It reports false when the send
// was already resolved or never tracked.
func (p *Pipeline) resolve(tempID string, o outcome) bool {
	p.mu.Lock()
	fl, ok := p.inflight[tempID]
	if !ok || fl.result != nil {
		p.mu.Unlock()
		return false
	}
	fl.result = &o
	fl.timer.Stop()
	p.mu.Unlock()

	fl.done <- o
	// Keep the resolved entry around briefly so a Wait racing the ack still
	// finds it.
	time.AfterFunc(p.ackTimeout, func() {
		p.mu.Lock()
		if p.inflight[tempID] == fl {
			delete(p.inflight, tempID)
		}
		p.mu.Unlock()
	})
	return true
}

// Inflight returns the number of sends awaiting acknowledgment.
func (p *Pipeline) Inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, fl := range p.inflight {
		if fl.result == nil {
			n++
		}
	}
	return n
}

// Close stops every ack timer. Sends still in flight stay in the store.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, fl := range p.inflight {
		fl.timer.Stop()
		delete(p.inflight, id)
	}
}
