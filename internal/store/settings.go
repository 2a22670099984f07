package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// PutSettings caches a conversation's settings.
func (db *DB) PutSettings(s chat.ConversationSettings) error {
	_, err := db.Exec(`
		INSERT INTO conversation_settings (conversation_id, require_acceptance, muted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			require_acceptance = excluded.require_acceptance,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		s.ConversationID, s.RequireAcceptance, s.Muted, time.Now().UnixMilli())
	return err
}

// GetSettings returns cached settings. ok is false on a cache miss.
func (db *DB) GetSettings(conversationID string) (chat.ConversationSettings, bool, error) {
	s := chat.ConversationSettings{ConversationID: conversationID}
	err := db.QueryRow(`
		SELECT require_acceptance, muted FROM conversation_settings WHERE conversation_id = ?`,
		conversationID).Scan(&s.RequireAcceptance, &s.Muted)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	return s, true, nil
}

// DeleteSettings drops a cached entry.
func (db *DB) DeleteSettings(conversationID string) error {
	_, err := db.Exec(`DELETE FROM conversation_settings WHERE conversation_id = ?`, conversationID)
	return err
}
