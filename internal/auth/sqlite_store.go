package auth

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/uplink/internal/errors"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	provider_id   TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
)`

// SQLiteStore is a SessionStore backed by a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the session database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load(ctx context.Context, providerID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expiry FROM sessions WHERE provider_id = ?`,
		providerID)

	sess := Session{ProviderID: providerID}
	var expiry int64
	if err := row.Scan(&sess.AccessToken, &sess.RefreshToken, &sess.TokenType, &expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errors.ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("load session %s: %w", providerID, err)
	}
	if expiry > 0 {
		sess.Expiry = time.Unix(expiry, 0)
	}
	return sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, session Session) error {
	var expiry int64
	if !session.Expiry.IsZero() {
		expiry = session.Expiry.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (provider_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		session.ProviderID, session.AccessToken, session.RefreshToken, session.TokenType,
		expiry, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ProviderID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, providerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE provider_id = ?`, providerID); err != nil {
		return fmt.Errorf("delete session %s: %w", providerID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
