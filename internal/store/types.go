package store

import "time"

// Transition is one journaled state transition.
type Transition struct {
	Seq            int64
	Kind           string
	Payload        []byte
	ConversationID string
	CreatedAt      time.Time
}
