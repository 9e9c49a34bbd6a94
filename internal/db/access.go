package db

import (
	"context"
	"database/sql"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/pkg/errors"
)

// GrantAccess allows a conversation to use the bot. An existing entry for
// the same conversation is replaced.
func (d *Database) GrantAccess(ctx context.Context, conversationID int64, displayName string, grantedBy int64) error {
	const query = `
        INSERT OR REPLACE INTO access (conversation_id, display_name, granted_by, granted_at)
        VALUES (?, ?, ?, ?)`

	err := d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, conversationID, displayName, grantedBy, d.timestamp())
		return errors.Wrap(err, "insert access")
	})
	if err != nil {
		return apperr.Storage("db.GrantAccess", err)
	}
	return nil
}

// RevokeAccess reports whether an entry was removed.
func (d *Database) RevokeAccess(ctx context.Context, conversationID int64) (bool, error) {
	var removed int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM access WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return errors.Wrap(err, "delete access")
		}
		removed, err = res.RowsAffected()
		return errors.Wrap(err, "rows affected")
	})
	if err != nil {
		return false, apperr.Storage("db.RevokeAccess", err)
	}
	return removed > 0, nil
}

func (d *Database) IsAuthorized(ctx context.Context, conversationID int64) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM access WHERE conversation_id = ?`, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("db.IsAuthorized", err)
	}
	return true, nil
}

// ListAccess returns all entries, most recent grant first.
func (d *Database) ListAccess(ctx context.Context) ([]models.AccessEntry, error) {
	query := `
        SELECT conversation_id, display_name, granted_by, granted_at
        FROM access
        ORDER BY granted_at DESC, conversation_id ASC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return []models.AccessEntry{}, apperr.Storage("db.ListAccess", errors.Wrap(err, "query"))
	}
	defer rows.Close()

	entries := make([]models.AccessEntry, 0)
	for rows.Next() {
		var e models.AccessEntry
		if err := rows.Scan(&e.ConversationID, &e.DisplayName, &e.GrantedBy, &e.GrantedAt); err != nil {
			return []models.AccessEntry{}, apperr.Storage("db.ListAccess", errors.Wrap(err, "scan"))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return []models.AccessEntry{}, apperr.Storage("db.ListAccess", errors.Wrap(err, "rows"))
	}
	return entries, nil
}
