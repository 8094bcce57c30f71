package mediapod

import "context"

type MsgType string

const (
	MsgTypeInput  MsgType = "input"
	MsgTypeOutput MsgType = "output"
)

// SessionRecord is the persisted row of a session. Timestamps are unix seconds.
type SessionRecord struct {
	SessionID    string         `json:"session_id"`
	VideoID      string         `json:"video_id"`
	CollectionID string         `json:"collection_id"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
	Metadata     map[string]any `json:"metadata"`
}

// MessageRecord is the persisted row of one conversation message.
type MessageRecord struct {
	SessionID string         `json:"session_id"`
	ConvID    string         `json:"conv_id"`
	MsgID     string         `json:"msg_id"`
	MsgType   MsgType        `json:"msg_type"`
	Agents    []string       `json:"agents"`
	Actions   []string       `json:"actions"`
	Content   []*Content     `json:"content"`
	Status    Status         `json:"status"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// ContextRecord holds the context buffer of a session.
type ContextRecord struct {
	SessionID string           `json:"session_id"`
	Messages  []ContextMessage `json:"context_data"`
	CreatedAt int64            `json:"created_at"`
	UpdatedAt int64            `json:"updated_at"`
	Metadata  map[string]any   `json:"metadata"`
}

// Storage persists sessions, their conversation messages and context buffers.
type Storage interface {
	// CreateSession inserts the session, ignoring an existing row with the same id.
	CreateSession(ctx context.Context, rec SessionRecord) error
	// GetSession returns ErrSessionNotFound when no row exists.
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	// ListSessions returns sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionRecord, error)

	// SaveMessage inserts or replaces the message keyed by MsgID.
	SaveMessage(ctx context.Context, rec MessageRecord) error
	// GetMessages returns the session's messages in creation order.
	GetMessages(ctx context.Context, sessionID string) ([]MessageRecord, error)

	SaveContext(ctx context.Context, rec ContextRecord) error
	// GetContext returns an empty record when nothing was saved yet.
	GetContext(ctx context.Context, sessionID string) (ContextRecord, error)

	// DeleteSession removes the session with its messages and context.
	DeleteSession(ctx context.Context, sessionID string) error

	// HealthCheck verifies the connection and creates missing tables.
	HealthCheck(ctx context.Context) error
	Close() error
}
