package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/meridian/voter-gateway/internal/domain"
)

// PostgresRepository is the self-hosted session backend.
//
// Schema:
//
//	CREATE TABLE chat_sessions (
//	    session_id TEXT PRIMARY KEY,
//	    user_id    TEXT NOT NULL,
//	    name       TEXT NOT NULL,
//	    model_id   TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
//	    last_seq   INTEGER NOT NULL DEFAULT 0
//	);
//	CREATE TABLE chat_messages (
//	    message_id TEXT PRIMARY KEY,
//	    session_id TEXT NOT NULL REFERENCES chat_sessions(session_id),
//	    role       TEXT NOT NULL,
//	    body       TEXT NOT NULL,
//	    ts         TIMESTAMPTZ NOT NULL,
//	    seq        INTEGER NOT NULL,
//	    UNIQUE (session_id, seq)
//	);
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open Postgres pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres connects and pings a Postgres pool from a connection URL.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, name, model_id, created_at, updated_at, is_active, last_seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		s.ID, s.UserID, s.Name, s.ModelID, s.CreatedAt, s.UpdatedAt, s.IsActive)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, name, model_id, created_at, updated_at, is_active
		 FROM chat_sessions WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID).
		Scan(&s.ID, &s.UserID, &s.Name, &s.ModelID, &s.CreatedAt, &s.UpdatedAt, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, user_id, name, model_id, created_at, updated_at, is_active
		 FROM chat_sessions WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("selecting sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.ModelID, &s.CreatedAt, &s.UpdatedAt, &s.IsActive); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PostgresRepository) UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET
		    name = COALESCE($3, name),
		    model_id = COALESCE($4, model_id),
		    is_active = COALESCE($5, is_active),
		    updated_at = NOW()
		 WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID, u.Name, u.ModelID, u.IsActive)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage allocates the next sequence under a row lock on the session
// so concurrent appends serialize and sequences stay dense.
func (r *PostgresRepository) AppendMessage(ctx context.Context, userID string, m *domain.Message) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append tx: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq FROM chat_sessions
		 WHERE session_id = $1 AND user_id = $2 FOR UPDATE`,
		m.SessionID, userID).Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("locking session: %w", err)
	}

	next := lastSeq + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, body, ts, seq)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SessionID, string(m.Role), m.Text, m.Timestamp, next); err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET last_seq = $2, updated_at = NOW() WHERE session_id = $1`,
		m.SessionID, next); err != nil {
		return 0, fmt.Errorf("bumping last_seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return next, nil
}

func (r *PostgresRepository) MessagesAfter(ctx context.Context, sessionID string, afterSeq, limit int) ([]domain.Message, error) {
	q := `SELECT message_id, session_id, role, body, ts, seq
	      FROM chat_messages WHERE session_id = $1 AND seq > $2 ORDER BY seq ASC`
	args := []interface{}{sessionID, afterSeq}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Text, &m.Timestamp, &m.SequenceNumber); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired messages: %w", err)
	}
	return int(n), nil
}
