package chat

import (
	"context"
	"database/sql"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveMessage inserts msg, or returns the row already stored under the same
// author and client token. created is false for such replays.
func (r *Repository) SaveMessage(ctx context.Context, msg *Message) (saved *Message, created bool, err error) {
	query := `
		INSERT INTO messages (id, league_id, author_id, body, client_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (author_id, client_token) DO UPDATE SET client_token = EXCLUDED.client_token
		RETURNING id, league_id, author_id, body, COALESCE(client_token, ''), created_at, (xmax = 0)
	`
	token := sql.NullString{String: msg.ClientToken, Valid: msg.ClientToken != ""}

	out := &Message{AuthorName: msg.AuthorName}
	err = r.db.QueryRowContext(ctx, query, msg.ID, msg.ConversationID, msg.AuthorID, msg.Body, token).
		Scan(&out.ID, &out.ConversationID, &out.AuthorID, &out.Body, &out.ClientToken, &out.CreatedAt, &created)
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetRecentMessages returns the latest limit messages of a league, oldest first.
func (r *Repository) GetRecentMessages(ctx context.Context, leagueID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, league_id, author_id, username, body, client_token, created_at FROM (
			SELECT m.id, m.league_id, m.author_id, u.username, m.body,
			       COALESCE(m.client_token, '') AS client_token, m.created_at
			FROM messages m
			JOIN users u ON m.author_id = u.id
			WHERE m.league_id = $1
			ORDER BY m.created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, leagueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.AuthorID, &msg.AuthorName, &msg.Body, &msg.ClientToken, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
