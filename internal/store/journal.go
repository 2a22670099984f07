package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/state"
)

// AppendTransition records an applied transition.
func (db *DB) AppendTransition(t Transition) error {
	_, err := db.Exec(`
		INSERT INTO transitions (kind, payload, conversation_id, created_at)
		VALUES (?, ?, ?, ?)`,
		t.Kind, string(t.Payload), t.ConversationID, t.CreatedAt.UnixMilli())
	return err
}

// ListTransitions returns transitions with seq > afterSeq in order. A
// conversationID filters to that conversation; limit <= 0 means all.
func (db *DB) ListTransitions(afterSeq int64, conversationID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT seq, kind, payload, conversation_id, created_at
		FROM transitions
		WHERE seq > ? AND (? = '' OR conversation_id = ?)
		ORDER BY seq ASC
		LIMIT ?`, afterSeq, conversationID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Transition
	for rows.Next() {
		var (
			t       Transition
			payload string
			ts      int64
		)
		if err := rows.Scan(&t.Seq, &t.Kind, &payload, &t.ConversationID, &ts); err != nil {
			return nil, err
		}
		t.Payload = []byte(payload)
		t.CreatedAt = time.UnixMilli(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplayJournal rebuilds state from every recorded transition.
func (db *DB) ReplayJournal() (state.State, error) {
	ts, err := db.ListTransitions(0, "", 0)
	if err != nil {
		return state.State{}, fmt.Errorf("list transitions: %w", err)
	}
	actions := make([]state.Action, 0, len(ts))
	for _, t := range ts {
		a, err := state.Decode(t.Kind, t.Payload)
		if err != nil {
			return state.State{}, fmt.Errorf("transition %d: %w", t.Seq, err)
		}
		actions = append(actions, a)
	}
	return state.Replay(actions), nil
}
