package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, is_group, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			is_group = excluded.is_group,
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.IsGroup, now)
	return err
}

// GetConversation returns a conversation by id, nil when missing.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, peer_id, peer_name, is_group, draft_text, draft_state, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.PeerID, &c.PeerName, &c.IsGroup, &c.DraftText, &c.DraftState, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveDraft persists the composer draft for a conversation, creating the
// conversation row lazily on the first draft write.
func (db *DB) SaveDraft(conversationID, text, toolbarState string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, draft_text, draft_state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			draft_text = excluded.draft_text,
			draft_state = excluded.draft_state,
			updated_at = excluded.updated_at`,
		conversationID, text, toolbarState, now)
	return err
}

// ClearDraft empties a conversation's draft.
func (db *DB) ClearDraft(conversationID string) error {
	_, err := db.Exec(`UPDATE conversations SET draft_text = '', draft_state = '' WHERE id = ?`,
		conversationID)
	return err
}

// PurgeConversation removes a conversation with its draft, messages and
// metadata records (messages cascade).
func (db *DB) PurgeConversation(conversationID string) error {
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("purge conversation: %w", err)
	}
	return nil
}

// PurgeAll wipes every conversation. Used on logout.
func (db *DB) PurgeAll() error {
	_, err := db.Exec(`DELETE FROM conversations`)
	return err
}
