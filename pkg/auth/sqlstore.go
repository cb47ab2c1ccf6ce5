package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions in a local sqlite database so grants
// survive process restarts. Tokens are stored as written by the provider;
// the database file carries the deployment's filesystem permissions.
type SQLiteStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	user_id        TEXT NOT NULL,
	provider       TEXT NOT NULL,
	scope_set      TEXT NOT NULL,
	scopes         TEXT NOT NULL,
	status         TEXT NOT NULL,
	state          TEXT NOT NULL DEFAULT '',
	token          TEXT NOT NULL DEFAULT '',
	refresh_token  TEXT NOT NULL DEFAULT '',
	granted_scopes TEXT NOT NULL DEFAULT '[]',
	expires_at     INTEGER NOT NULL DEFAULT 0,
	consent_url    TEXT NOT NULL DEFAULT '',
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (user_id, provider, scope_set)
);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_state ON auth_sessions(state);
`

// NewSQLiteStore opens (creating if needed) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, scopes, status, state, token, refresh_token,
		       granted_scopes, expires_at, consent_url, updated_at
		FROM auth_sessions
		WHERE user_id = ? AND provider = ? AND scope_set = ?`,
		key.User, key.Provider, key.ScopeSet)
	return scanSession(row)
}

func (s *SQLiteStore) List(ctx context.Context, user, provider string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, provider, scopes, status, state, token, refresh_token,
		       granted_scopes, expires_at, consent_url, updated_at
		FROM auth_sessions
		WHERE user_id = ? AND provider = ?`,
		user, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetByState(ctx context.Context, state string) (*Session, error) {
	if state == "" {
		return nil, ErrSessionNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, scopes, status, state, token, refresh_token,
		       granted_scopes, expires_at, consent_url, updated_at
		FROM auth_sessions
		WHERE state = ?`,
		state)
	return scanSession(row)
}

func (s *SQLiteStore) Put(ctx context.Context, session *Session) error {
	scopes, err := json.Marshal(session.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}
	granted, err := json.Marshal(session.GrantedScopes)
	if err != nil {
		return fmt.Errorf("failed to encode granted scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions
			(user_id, provider, scope_set, scopes, status, state, token,
			 refresh_token, granted_scopes, expires_at, consent_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, scope_set) DO UPDATE SET
			scopes = excluded.scopes,
			status = excluded.status,
			state = excluded.state,
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			granted_scopes = excluded.granted_scopes,
			expires_at = excluded.expires_at,
			consent_url = excluded.consent_url,
			updated_at = excluded.updated_at`,
		session.User, session.Provider, ScopeSet(session.Scopes), string(scopes),
		string(session.Status), session.State, session.Token, session.RefreshToken,
		string(granted), unixOrZero(session.ExpiresAt), session.ConsentURL,
		session.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM auth_sessions WHERE user_id = ? AND provider = ? AND scope_set = ?",
		key.User, key.Provider, key.ScopeSet)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_sessions
		WHERE (status IN (?, ?) AND updated_at < ?)
		   OR (status = ? AND expires_at > 0 AND expires_at < ? AND refresh_token = '')`,
		string(StatusRevoked), string(StatusPending), cutoff,
		string(StatusGranted), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session            Session
		scopes, granted    string
		status             string
		expires, updatedAt int64
	)
	err := row.Scan(&session.User, &session.Provider, &scopes, &status,
		&session.State, &session.Token, &session.RefreshToken, &granted,
		&expires, &session.ConsentURL, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(scopes), &session.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(granted), &session.GrantedScopes); err != nil {
		return nil, fmt.Errorf("failed to decode granted scopes: %w", err)
	}

	session.Status = Status(status)
	if expires > 0 {
		session.ExpiresAt = time.Unix(expires, 0)
	}
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

var _ Store = (*SQLiteStore)(nil)
