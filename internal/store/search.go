package store

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.seq, m.conversation_id, m.server_id, m.client_id, m.sender_id,
		       m.media_kind, m.body, m.send_state, m.read_state, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.seq = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.Seq, &r.Message.ConversationID, &r.Message.ServerID,
			&r.Message.ClientID, &r.Message.SenderID, &r.Message.MediaKind,
			&r.Message.Body, &r.Message.SendState, &r.Message.ReadState,
			&r.Message.CreatedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
