package db

import (
	"context"
	"database/sql"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/pkg/errors"
)

// TouchUser records contact from a conversation: the first call inserts the
// user with a count of one, later calls bump the count and last_seen.
func (d *Database) TouchUser(ctx context.Context, conversationID int64, displayName string) error {
	const query = `
        INSERT INTO users (conversation_id, display_name, first_seen, last_seen, message_count)
        VALUES (?, ?, ?, ?, 1)
        ON CONFLICT(conversation_id) DO UPDATE SET
            display_name = excluded.display_name,
            last_seen = excluded.last_seen,
            message_count = users.message_count + 1`

	now := d.timestamp()
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, conversationID, displayName, now, now)
		return errors.Wrap(err, "upsert user")
	})
	if err != nil {
		return apperr.Storage("db.TouchUser", err)
	}
	return nil
}

func (d *Database) GetUser(ctx context.Context, conversationID int64) (*models.UserRecord, error) {
	query := `
        SELECT conversation_id, display_name, first_seen, last_seen, message_count
        FROM users
        WHERE conversation_id = ?`

	u := &models.UserRecord{}
	err := d.db.QueryRowContext(ctx, query, conversationID).
		Scan(&u.ConversationID, &u.DisplayName, &u.FirstSeen, &u.LastSeen, &u.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("db.GetUser", err)
	}
	return u, nil
}
