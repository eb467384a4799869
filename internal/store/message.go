package store

import (
	"database/sql"
	"fmt"
)

const messageColumns = `m.seq, m.conversation_id, m.server_id, m.client_id, m.sender_id,
	m.media_kind, m.body, m.local_path, m.download_url,
	m.send_state, m.send_error, m.download_state, m.read_state, m.created_at,
	mm.message_seq, mm.width, mm.height, mm.duration`

const messageFrom = `FROM messages m LEFT JOIN media_meta mm ON mm.message_seq = m.seq`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var metaSeq sql.NullInt64
	var width, height, duration sql.NullFloat64
	err := row.Scan(
		&m.Seq, &m.ConversationID, &m.ServerID, &m.ClientID, &m.SenderID,
		&m.MediaKind, &m.Body, &m.LocalPath, &m.DownloadURL,
		&m.SendState, &m.SendError, &m.DownloadState, &m.ReadState, &m.CreatedAt,
		&metaSeq, &width, &height, &duration,
	)
	if err != nil {
		return nil, err
	}
	if metaSeq.Valid {
		m.Meta = &MediaMeta{
			MessageSeq: metaSeq.Int64,
			Width:      width.Float64,
			Height:     height.Float64,
			Duration:   duration.Float64,
		}
	}
	return &m, nil
}

// Count returns the number of log entries in a conversation.
func (db *DB) Count(conversationID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// MessageAt returns the message at a global log position (0 = oldest).
// Returns nil without error when the index is out of range: indices computed
// before an async gap are expected to go stale.
func (db *DB) MessageAt(conversationID string, index int) (*Message, error) {
	if index < 0 {
		return nil, nil
	}
	row := db.QueryRow(`SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.conversation_id = ?
		ORDER BY m.seq LIMIT 1 OFFSET ?`, conversationID, index)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message at %d: %w", index, err)
	}
	return m, nil
}

// IndexOf returns the current global log position of a message.
// The second return is false when the message is no longer in the log.
func (db *DB) IndexOf(conversationID string, seq int64) (int, bool, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND seq = ?`,
		conversationID, seq).Scan(&exists)
	if err != nil {
		return 0, false, err
	}
	if exists == 0 {
		return 0, false, nil
	}
	var before int
	err = db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND seq < ?`,
		conversationID, seq).Scan(&before)
	if err != nil {
		return 0, false, err
	}
	return before, true, nil
}

// MessageByServerID resolves a transport-assigned identifier. Returns nil
// when no entry matches (e.g. the id raced with a deletion).
func (db *DB) MessageByServerID(conversationID, serverID string) (*Message, error) {
	if serverID == "" {
		return nil, nil
	}
	row := db.QueryRow(`SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.conversation_id = ? AND m.server_id = ?`, conversationID, serverID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MessageByClientID resolves the request-scoped id assigned at send time.
func (db *DB) MessageByClientID(clientID string) (*Message, error) {
	if clientID == "" {
		return nil, nil
	}
	row := db.QueryRow(`SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.client_id = ?`, clientID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MessagesInRange returns the log entries at [offset, offset+length) in order.
func (db *DB) MessagesInRange(conversationID string, offset, length int) ([]Message, error) {
	if length <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.conversation_id = ?
		ORDER BY m.seq LIMIT ? OFFSET ?`, conversationID, length, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// AppendMessage appends a message to the conversation log, assigning its seq.
// The write also stores the attached metadata record in the same transaction.
func (db *DB) AppendMessage(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO messages (conversation_id, server_id, client_id, sender_id,
			media_kind, body, local_path, download_url,
			send_state, send_error, download_state, read_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ServerID, m.ClientID, m.SenderID,
		m.MediaKind, m.Body, m.LocalPath, m.DownloadURL,
		m.SendState, m.SendError, m.DownloadState, m.ReadState, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message seq: %w", err)
	}
	m.Seq = seq

	if m.Meta != nil {
		m.Meta.MessageSeq = seq
		if _, err := tx.Exec(`
			INSERT INTO media_meta (message_seq, width, height, duration)
			VALUES (?, ?, ?, ?)`,
			seq, m.Meta.Width, m.Meta.Height, m.Meta.Duration); err != nil {
			return fmt.Errorf("insert media meta: %w", err)
		}
	}

	return tx.Commit()
}

// ConfirmSent resolves a pending send: assigns the server id, flips the state
// to sent and attaches post-processing metadata, all in one transaction. The
// update is paired by client id so it always targets the exact message the
// originating request created. Returns false when no pending entry matched,
// meaning the message was deleted in the interim and the confirmation must
// be discarded.
func (db *DB) ConfirmSent(clientID, serverID string, meta *MediaMeta) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin confirm: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRow(`SELECT seq FROM messages WHERE client_id = ? AND send_state = ?`,
		clientID, SendPending).Scan(&seq)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup pending: %w", err)
	}

	if _, err := tx.Exec(`UPDATE messages SET server_id = ?, send_state = ?, send_error = '' WHERE seq = ?`,
		serverID, SendSent, seq); err != nil {
		return false, fmt.Errorf("confirm sent: %w", err)
	}

	if meta != nil {
		meta.MessageSeq = seq
		if _, err := tx.Exec(`
			INSERT INTO media_meta (message_seq, width, height, duration)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_seq) DO UPDATE SET
				width = excluded.width, height = excluded.height, duration = excluded.duration`,
			seq, meta.Width, meta.Height, meta.Duration); err != nil {
			return false, fmt.Errorf("attach media meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit confirm: %w", err)
	}
	return true, nil
}

// MarkSendFailed flips a pending send to failed, recording the reason.
// Returns false when the message no longer exists.
func (db *DB) MarkSendFailed(clientID, reason string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET send_state = ?, send_error = ? WHERE client_id = ? AND send_state = ?`,
		SendFailed, reason, clientID, SendPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkResendPending re-enters the pending state for a failed message.
// Returns false when the message is not in the failed state.
func (db *DB) MarkResendPending(seq int64) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET send_state = ?, send_error = '' WHERE seq = ? AND send_state = ?`,
		SendPending, seq, SendFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead commits the read state for a received message.
func (db *DB) MarkRead(seq int64) error {
	_, err := db.Exec(`UPDATE messages SET read_state = ? WHERE seq = ?`, Read, seq)
	return err
}

// UnreadIncoming returns unread messages not authored by selfID within the
// global range [offset, offset+length).
func (db *DB) UnreadIncoming(conversationID, selfID string, offset, length int) ([]Message, error) {
	msgs, err := db.MessagesInRange(conversationID, offset, length)
	if err != nil {
		return nil, err
	}
	var unread []Message
	for _, m := range msgs {
		if m.ReadState == Unread && m.SenderID != selfID && !m.IsSectionDate() {
			unread = append(unread, m)
		}
	}
	return unread, nil
}

// DeleteMessage removes a single log entry; the attached metadata record
// cascades with it.
func (db *DB) DeleteMessage(seq int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE seq = ?`, seq)
	return err
}

// DeleteMessagePair removes a message and its section-date sibling in one
// atomic operation, so readers never observe the orphaned day marker.
func (db *DB) DeleteMessagePair(seq, sectionSeq int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete pair: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE seq = ?`, sectionSeq); err != nil {
		return fmt.Errorf("delete section date: %w", err)
	}
	return tx.Commit()
}
