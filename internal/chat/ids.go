package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tempPrefix = "temp_"
	mockPrefix = "mock_"
)

// DefaultRecallWindow is how long after sending a message its author may recall it.
const DefaultRecallWindow = 5 * time.Minute

// ErrRecallWindowExpired is returned when a recall is attempted outside the window.
var ErrRecallWindowExpired = errors.New("recall window expired")

// ErrNotAuthor is returned when a user tries to recall someone else's message.
var ErrNotAuthor = errors.New("only the author can recall a message")

// NewTempID returns a client-unique id for an optimistic message.
func NewTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// NewPlaceholderID returns an id for a conversation that does not exist on the server yet.
func NewPlaceholderID() string {
	return mockPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id was generated by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, mockPrefix)
}

// CheckRecall applies the client-side recall policy. The server re-checks it.
func CheckRecall(m *Message, userID string, now time.Time, window time.Duration) error {
	if m.SenderID != userID {
		return ErrNotAuthor
	}
	if window <= 0 {
		window = DefaultRecallWindow
	}
	if now.Sub(m.CreatedAt) > window {
		return ErrRecallWindowExpired
	}
	return nil
}
