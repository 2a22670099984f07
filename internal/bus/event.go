package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon.
const (
	KindStatusChanged       = "session.status_changed"
	KindStoreChanged        = "store.changed"
	KindConversationMissing = "store.conversation_missing"
	KindSendAck             = "message.send_ack"
	KindSendFailed          = "message.send_failed"
	KindPendingDecided      = "pending.decided"
)
