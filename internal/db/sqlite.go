package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/tokens"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    author TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    token_estimate INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS users (
    conversation_id INTEGER PRIMARY KEY,
    display_name TEXT NOT NULL,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS access (
    conversation_id INTEGER PRIMARY KEY,
    display_name TEXT NOT NULL,
    granted_by INTEGER NOT NULL,
    granted_at TIMESTAMP NOT NULL
);`

// Database is the durable history, user and access store.
// Every write runs in its own transaction; readers never see half of one.
type Database struct {
	db     *sql.DB
	tokens tokens.Estimator
	now    func() time.Time
}

type Option func(*Database)

// WithClock overrides time.Now for row timestamps and retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(d *Database) {
		d.now = now
	}
}

func WithEstimator(e tokens.Estimator) Option {
	return func(d *Database) {
		d.tokens = e
	}
}

// New opens (creating if needed) the SQLite database at dbPath in WAL mode.
// Write transactions take the write lock at BEGIN so concurrent appends
// wait on busy_timeout instead of failing on lock upgrade.
func New(dbPath string, opts ...Option) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("apply schema: %w", err), db.Close())
	}

	d := &Database{db: db, tokens: tokens.Heuristic{}, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) timestamp() time.Time {
	return d.now().UTC()
}

// inTx runs fn in one transaction, rolling back on any error.
func (d *Database) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = multierr.Append(err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// AppendExchange stores a user turn and the assistant's reply together.
func (d *Database) AppendExchange(ctx context.Context, conversationID int64, author, userText, assistantText string) error {
	const query = `
        INSERT INTO messages (conversation_id, author, role, content, created_at, token_estimate)
        VALUES (?, ?, ?, ?, ?, ?)`

	// Estimate outside the transaction; it holds the write lock from BEGIN.
	userTokens, replyTokens := d.tokens.Count(userText), d.tokens.Count(assistantText)
	createdAt := d.timestamp()
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, conversationID, author, models.RoleUser, userText, createdAt, userTokens); err != nil {
			return errors.Wrap(err, "insert user turn")
		}
		if _, err := tx.ExecContext(ctx, query, conversationID, author, models.RoleAssistant, assistantText, createdAt, replyTokens); err != nil {
			return errors.Wrap(err, "insert assistant turn")
		}
		return nil
	})
	if err != nil {
		return apperr.Storage("db.AppendExchange", err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
func (d *Database) RecentTurns(ctx context.Context, conversationID int64, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		return []models.Turn{}, nil
	}

	query := `
        SELECT role, content
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return []models.Turn{}, apperr.Storage("db.RecentTurns", errors.Wrap(err, "query"))
	}
	defer rows.Close()

	turns := make([]models.Turn, 0, limit)
	for rows.Next() {
		var turn models.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return []models.Turn{}, apperr.Storage("db.RecentTurns", errors.Wrap(err, "scan"))
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return []models.Turn{}, apperr.Storage("db.RecentTurns", errors.Wrap(err, "rows"))
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Messages returns the full stored rows of a conversation, oldest first.
func (d *Database) Messages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, author, role, content, created_at, token_estimate
        FROM (
            SELECT * FROM messages
            WHERE conversation_id = ?
            ORDER BY id DESC
            LIMIT ?
        )
        ORDER BY id ASC`

	rows, err := d.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return []models.Message{}, apperr.Storage("db.Messages", errors.Wrap(err, "query"))
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Author, &msg.Role, &msg.Content, &msg.CreatedAt, &msg.TokenEstimate); err != nil {
			return []models.Message{}, apperr.Storage("db.Messages", errors.Wrap(err, "scan"))
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return []models.Message{}, apperr.Storage("db.Messages", errors.Wrap(err, "rows"))
	}
	return messages, nil
}

func (d *Database) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, apperr.Storage("db.CountMessages", err)
	}
	return n, nil
}

// PurgeOlderThan deletes messages older than the given number of days.
// Users and access entries are left alone.
func (d *Database) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, apperr.New(apperr.CodeInvalidArgument, "retention days must not be negative")
	}
	cutoff := d.timestamp().AddDate(0, 0, -days)

	var deleted int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
		if err != nil {
			return errors.Wrap(err, "delete")
		}
		deleted, err = res.RowsAffected()
		return errors.Wrap(err, "rows affected")
	})
	if err != nil {
		return 0, apperr.Storage("db.PurgeOlderThan", err)
	}
	return deleted, nil
}

// ClearConversation deletes every message of one conversation.
func (d *Database) ClearConversation(ctx context.Context, conversationID int64) (int64, error) {
	var deleted int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return errors.Wrap(err, "delete")
		}
		deleted, err = res.RowsAffected()
		return errors.Wrap(err, "rows affected")
	})
	if err != nil {
		return 0, apperr.Storage("db.ClearConversation", err)
	}
	return deleted, nil
}
