// Package pending implements the accept/reject workflow for inbound messages
// held by conversations that require acceptance.
package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("pending message not found")
	ErrAlreadyDecided = errors.New("pending message already decided")
)

// API is the server side of the workflow.
type API interface {
	AcceptPending(ctx context.Context, messageID string) (*chat.Message, error)
	RejectPending(ctx context.Context, messageID string) error
}

// Decision is the payload of pending.decided events.
type Decision struct {
	MessageID      string
	ConversationID string
	Decision       chat.PendingDecision
}

// Workflow moves pending messages from received to accepted or rejected.
// Both outcomes are terminal.
type Workflow struct {
	store  *store.Store
	api    API
	bus    *bus.Bus
	logger *zap.Logger
}

// NewWorkflow creates the workflow. b may be nil.
func NewWorkflow(st *store.Store, api API, b *bus.Bus, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{store: st, api: api, bus: b, logger: logger}
}

// List returns the queued messages in arrival order.
func (w *Workflow) List() []chat.PendingMessage {
	return w.store.Snapshot().Pending
}

// HandlePending queues an inbound pendingMessage. Re-deliveries and messages
// that were already decided are ignored.
func (w *Workflow) HandlePending(p chat.PendingMessage) {
	if fx := w.store.Dispatch(state.AddPending{Pending: p}); fx.Duplicate {
		w.logger.Debug("pending message already known", zap.String("msg_id", p.MessageID))
	}
}

func (w *Workflow) lookup(messageID string) (chat.PendingMessage, error) {
	snap := w.store.Snapshot()
	if d, ok := snap.Decided[messageID]; ok {
		return chat.PendingMessage{}, fmt.Errorf("%w: %s was %s", ErrAlreadyDecided, messageID, d)
	}
	p, ok := snap.PendingMessage(messageID)
	if !ok {
		return chat.PendingMessage{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	return p, nil
}

// Accept accepts a pending message on the server, then promotes it into its
// conversation. Nothing changes locally if the server call fails.
func (w *Workflow) Accept(ctx context.Context, messageID string) (chat.Message, error) {
	p, err := w.lookup(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	confirmed, err := w.api.AcceptPending(ctx, messageID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("accept %s: %w", messageID, err)
	}
	w.accept(messageID, confirmed)

	msg := p.Message
	if confirmed != nil {
		msg = *confirmed
	}
	return msg, nil
}

// Reject rejects a pending message on the server, then drops it from the queue.
func (w *Workflow) Reject(ctx context.Context, messageID string) error {
	if _, err := w.lookup(messageID); err != nil {
		return err
	}
	if err := w.api.RejectPending(ctx, messageID); err != nil {
		return fmt.Errorf("reject %s: %w", messageID, err)
	}
	w.reject(messageID)
	return nil
}

// HandleAccepted applies an inbound messageAccepted. For a message this
// client holds in its queue it is the same as Accept; for a message this user
// sent it delivers the now visible message.
func (w *Workflow) HandleAccepted(d wire.PendingDecision) {
	w.accept(d.MessageID, d.Message)
}

// HandleRejected applies an inbound messageRejected.
func (w *Workflow) HandleRejected(d wire.PendingDecision) {
	w.reject(d.MessageID)
}

func (w *Workflow) accept(messageID string, confirmed *chat.Message) {
	fx := w.store.Dispatch(state.AcceptPending{MessageID: messageID})
	if confirmed != nil {
		if afx := w.store.AddMessage(*confirmed); afx.Changed && fx.ConversationID == "" {
			fx.ConversationID = afx.ConversationID
		}
	}
	if fx.Changed {
		w.decided(messageID, fx.ConversationID, chat.PendingAccepted)
	}
}

func (w *Workflow) reject(messageID string) {
	fx := w.store.Dispatch(state.RejectPending{MessageID: messageID})
	if fx.Changed {
		w.decided(messageID, fx.ConversationID, chat.PendingRejected)
	}
}

func (w *Workflow) decided(messageID, conversationID string, d chat.PendingDecision) {
	w.logger.Info("pending message decided", zap.String("msg_id", messageID), zap.String("decision", string(d)))
	if w.bus == nil {
		return
	}
	w.bus.Publish(bus.Event{
		Kind:      bus.KindPendingDecided,
		Timestamp: time.Now(),
		Payload:   Decision{MessageID: messageID, ConversationID: conversationID, Decision: d},
	})
}
