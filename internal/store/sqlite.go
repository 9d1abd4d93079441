package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer keeps snapshot rewrites serialised.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		sender_user_id TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		text TEXT NOT NULL,
		attachment_url TEXT,
		attachment_type TEXT,
		attachment_name TEXT,
		reply_to TEXT,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS removed_users (
		user_id TEXT PRIMARY KEY
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load reads the full snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := domain.NewSnapshot()

	if err := s.loadSessions(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadRemoved(ctx, snap); err != nil {
		return nil, err
	}

	return normalize(snap), nil
}

func (s *SQLiteStore) loadSessions(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, approved, is_admin, removed, created_at, updated_at
		FROM sessions`)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	for rows.Next() {
		var sess domain.Session
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&sess.UserID, &sess.Name, &sess.Approved, &sess.IsAdmin, &sess.Removed,
			&createdAt, &updatedAt,
		); err != nil {
			return fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.Unix(0, createdAt).UTC()
		sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
		snap.Sessions[sess.UserID] = sess
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_user_id, sender_name, text,
		       attachment_url, attachment_type, attachment_name,
		       reply_to, deleted, created_at
		FROM messages ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	for rows.Next() {
		var msg domain.Message
		var url, typ, name, replyTo sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&msg.ID, &msg.SenderUserID, &msg.SenderName, &msg.Text,
			&url, &typ, &name,
			&replyTo, &msg.Deleted, &createdAt,
		); err != nil {
			return fmt.Errorf("scan message row: %w", err)
		}
		if url.Valid {
			msg.Attachment = &domain.Attachment{URL: url.String, Type: typ.String, Name: name.String}
		}
		msg.ReplyTo = replyTo.String
		msg.Timestamp = time.Unix(0, createdAt).UTC()
		snap.Messages = append(snap.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadRemoved(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM removed_users`)
	if err != nil {
		return fmt.Errorf("query removed users: %w", err)
	}
	defer closeRows(rows, "removed_users")

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan removed user row: %w", err)
		}
		snap.RemovedUsers = append(snap.RemovedUsers, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate removed users: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	return shared.Retry(ctx, "sqlite save", shared.DefaultRetryPolicy, func(ctx context.Context) error {
		return s.saveOnce(ctx, snap)
	})
}

func (s *SQLiteStore) saveOnce(ctx context.Context, snap *domain.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Debug("Failed to roll back save", "error", rbErr)
			}
		}
	}()

	if err = truncate(ctx, tx); err != nil {
		return err
	}

	for _, sess := range snap.Sessions {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (user_id, name, approved, is_admin, removed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.UserID, sess.Name, sess.Approved, sess.IsAdmin, sess.Removed,
			sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.UserID, err)
		}
	}

	for i, msg := range snap.Messages {
		var url, typ, name, replyTo interface{}
		if msg.Attachment != nil {
			url, typ, name = msg.Attachment.URL, msg.Attachment.Type, msg.Attachment.Name
		}
		if msg.ReplyTo != "" {
			replyTo = msg.ReplyTo
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO messages (seq, id, sender_user_id, sender_name, text,
				attachment_url, attachment_type, attachment_name, reply_to, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, msg.ID, msg.SenderUserID, msg.SenderName, msg.Text,
			url, typ, name, replyTo, msg.Deleted, msg.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	for _, id := range snap.RemovedUsers {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO removed_users (user_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("insert removed user %s: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Clear deletes all stored state.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return shared.Retry(ctx, "sqlite clear", shared.DefaultRetryPolicy, func(ctx context.Context) (err error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin clear: %w", err)
		}
		if err = truncate(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit clear: %w", err)
		}
		return nil
	})
}

func truncate(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"sessions", "messages", "removed_users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "table", what, "error", err)
	}
}
