package mediapod

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var _ Storage = &SQLiteStorage{}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	video_id TEXT,
	collection_id TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	metadata JSON
);
CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT NOT NULL,
	conv_id TEXT NOT NULL,
	msg_id TEXT PRIMARY KEY,
	msg_type TEXT NOT NULL,
	agents JSON,
	actions JSON,
	content JSON,
	status TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	metadata JSON,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS context_messages (
	session_id TEXT PRIMARY KEY,
	context_data JSON,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	metadata JSON,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);`

// NewSQLiteStorage opens the database file at dbPath and creates the tables
// if they don't exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.initDB(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database and recreates any missing table.
func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return s.initDB(ctx)
}

func (s *SQLiteStorage) CreateSession(ctx context.Context, rec SessionRecord) error {
	metadata, err := marshalColumn(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO sessions (session_id, video_id, collection_id, created_at, updated_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.VideoID, rec.CollectionID, rec.CreatedAt, rec.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT session_id, video_id, collection_id, created_at, updated_at, metadata
	FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return rec, err
}

func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id, video_id, collection_id, created_at, updated_at, metadata
	FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

// SaveMessage upserts the message, keeping its original position, and bumps
// the session's updated_at.
func (s *SQLiteStorage) SaveMessage(ctx context.Context, rec MessageRecord) error {
	agents, err := marshalColumn(rec.Agents)
	if err != nil {
		return err
	}
	actions, err := marshalColumn(rec.Actions)
	if err != nil {
		return err
	}
	content, err := marshalColumn(rec.Content)
	if err != nil {
		return err
	}
	metadata, err := marshalColumn(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO conversations
	(session_id, conv_id, msg_id, msg_type, agents, actions, content, status, created_at, updated_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(msg_id) DO UPDATE SET
		agents = excluded.agents,
		actions = excluded.actions,
		content = excluded.content,
		status = excluded.status,
		updated_at = excluded.updated_at,
		metadata = excluded.metadata`,
		rec.SessionID, rec.ConvID, rec.MsgID, string(rec.MsgType), agents, actions, content,
		string(rec.Status), rec.CreatedAt, rec.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), rec.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id, conv_id, msg_id, msg_type, agents, actions, content, status, created_at, updated_at, metadata
	FROM conversations WHERE session_id = ?
	ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	messages := []MessageRecord{}
	for rows.Next() {
		var (
			rec                                MessageRecord
			msgType, status                    string
			agents, actions, content, metadata sql.NullString
		)
		err := rows.Scan(&rec.SessionID, &rec.ConvID, &rec.MsgID, &msgType, &agents, &actions,
			&content, &status, &rec.CreatedAt, &rec.UpdatedAt, &metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.MsgType = MsgType(msgType)
		rec.Status = Status(status)
		if err := unmarshalColumn(agents, &rec.Agents); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(actions, &rec.Actions); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(content, &rec.Content); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(metadata, &rec.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStorage) SaveContext(ctx context.Context, rec ContextRecord) error {
	data, err := marshalColumn(rec.Messages)
	if err != nil {
		return err
	}
	metadata, err := marshalColumn(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO context_messages (session_id, context_data, created_at, updated_at, metadata)
	VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, data, rec.CreatedAt, rec.UpdatedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetContext(ctx context.Context, sessionID string) (ContextRecord, error) {
	var (
		rec            = ContextRecord{SessionID: sessionID}
		data, metadata sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT context_data, created_at, updated_at, metadata
	FROM context_messages WHERE session_id = ?`, sessionID).
		Scan(&data, &rec.CreatedAt, &rec.UpdatedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		rec.Messages = []ContextMessage{}
		rec.Metadata = map[string]any{}
		return rec, nil
	}
	if err != nil {
		return ContextRecord{}, fmt.Errorf("failed to query context: %w", err)
	}
	if err := unmarshalColumn(data, &rec.Messages); err != nil {
		return ContextRecord{}, err
	}
	if err := unmarshalColumn(metadata, &rec.Metadata); err != nil {
		return ContextRecord{}, err
	}
	if rec.Messages == nil {
		rec.Messages = []ContextMessage{}
	}
	return rec, nil
}

// DeleteSession removes the conversation, the context and the session row.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM conversations WHERE session_id = ?`,
		`DELETE FROM context_messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec                       SessionRecord
		videoID, collectionID, md sql.NullString
	)
	if err := row.Scan(&rec.SessionID, &videoID, &collectionID, &rec.CreatedAt, &rec.UpdatedAt, &md); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, err
		}
		return SessionRecord{}, fmt.Errorf("failed to scan session: %w", err)
	}
	rec.VideoID = videoID.String
	rec.CollectionID = collectionID.String
	if err := unmarshalColumn(md, &rec.Metadata); err != nil {
		return SessionRecord{}, err
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return rec, nil
}

func marshalColumn(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(raw), nil
}

func unmarshalColumn(col sql.NullString, v any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
