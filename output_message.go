package mediapod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// StatusMessageInterrupted is set on contents that were still in progress when their message got published.
const StatusMessageInterrupted = "Task ended before completion."

// messageSink is where an OutputMessage delivers its snapshots. Session is the only implementation.
type messageSink interface {
	emit(ctx context.Context, u Update) error
	persist(ctx context.Context, rec MessageRecord) error
}

// OutputMessage is the append-only log of contents and actions produced by one
// agent turn. It has a single writer: the agent invocation it was handed to.
// Observers only ever see immutable snapshots of it.
type OutputMessage struct {
	ID        string
	ConvID    string
	SessionID string

	agents    []string
	actions   []string
	content   []*Content
	status    Status
	metadata  map[string]any
	createdAt time.Time
	updatedAt time.Time

	seq       uint64
	published bool
	strict    bool

	sink   messageSink
	logger *slog.Logger
}

func newOutputMessage(sink messageSink, sessionID, convID string, strict bool, logger *slog.Logger) *OutputMessage {
	now := time.Now()
	return &OutputMessage{
		ID:        uuid.NewString(),
		ConvID:    convID,
		SessionID: sessionID,
		status:    StatusProgress,
		metadata:  map[string]any{},
		createdAt: now,
		updatedAt: now,
		strict:    strict,
		sink:      sink,
		logger:    logger,
	}
}

func (m *OutputMessage) Published() bool { return m.published }

// Contents returns the live contents in append order.
func (m *OutputMessage) Contents() []*Content { return slices.Clone(m.content) }

// AddAgent records agentName as a contributor of this message.
func (m *OutputMessage) AddAgent(agentName string) error {
	if m.published {
		return m.closedErr()
	}
	if agentName != "" && !slices.Contains(m.agents, agentName) {
		m.agents = append(m.agents, agentName)
	}
	return nil
}

// AddAction appends a line of narration.
func (m *OutputMessage) AddAction(action string) error {
	if m.published {
		return m.closedErr()
	}
	m.actions = append(m.actions, action)
	m.updatedAt = time.Now()
	return nil
}

// Append adds c at the end of the content log. Positions are never removed.
func (m *OutputMessage) Append(c *Content) error {
	if m.published {
		return m.closedErr()
	}
	if c == nil {
		return errors.New("nil content")
	}
	c.strict = m.strict
	if err := m.AddAgent(c.AgentName); err != nil {
		return err
	}
	m.content = append(m.content, c)
	m.updatedAt = time.Now()
	return nil
}

// PushUpdate broadcasts the current state, including contents still in progress.
func (m *OutputMessage) PushUpdate(ctx context.Context) error {
	if m.published {
		return m.closedErr()
	}
	m.seq++
	rec := m.Record()
	return m.deliver(ctx, UpdateTypePush, rec)
}

// Publish terminates every content that is still in progress, persists the
// message and broadcasts it. It succeeds once; afterwards the message is frozen.
func (m *OutputMessage) Publish(ctx context.Context) error {
	if m.published {
		return m.closedErr()
	}
	m.status = StatusSuccess
	for _, c := range m.content {
		if c.status == StatusProgress {
			m.log().Warn("Content still in progress at publish", "msg_id", m.ID, "agent", c.AgentName, "type", c.Type)
			_ = c.Fail(StatusMessageInterrupted)
		}
		if c.status == StatusError {
			m.status = StatusError
		}
	}
	m.published = true
	m.updatedAt = time.Now()
	m.seq++
	rec := m.Record()

	var persistErr error
	if m.sink != nil {
		persistErr = m.sink.persist(ctx, rec)
		if persistErr != nil {
			m.log().Error("Failed to persist output message", "msg_id", m.ID, "error", persistErr)
		}
	}
	return errors.Join(persistErr, m.deliver(ctx, UpdateTypePublish, rec))
}

func (m *OutputMessage) deliver(ctx context.Context, t UpdateType, rec MessageRecord) error {
	if m.sink == nil {
		return nil
	}
	return m.sink.emit(ctx, Update{
		Type:      t,
		SessionID: m.SessionID,
		MsgID:     m.ID,
		Seq:       m.seq,
		Message:   &rec,
	})
}

// Record returns a deep copy of the message in its persisted shape.
func (m *OutputMessage) Record() MessageRecord {
	content := make([]*Content, len(m.content))
	for i, c := range m.content {
		content[i] = c.clone()
	}
	return MessageRecord{
		SessionID: m.SessionID,
		ConvID:    m.ConvID,
		MsgID:     m.ID,
		MsgType:   MsgTypeOutput,
		Agents:    append([]string{}, m.agents...),
		Actions:   append([]string{}, m.actions...),
		Content:   content,
		Status:    m.status,
		CreatedAt: m.createdAt.Unix(),
		UpdatedAt: m.updatedAt.Unix(),
		Metadata:  maps.Clone(m.metadata),
	}
}

func (m *OutputMessage) touched() bool {
	return len(m.content) > 0 || len(m.actions) > 0
}

func (m *OutputMessage) closedErr() error {
	return fmt.Errorf("%w: %s", ErrMessagePublished, m.ID)
}

func (m *OutputMessage) log() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}
