// Package mediapod provides the Session, the OutputMessage streaming protocol and
// the agent execution contract used to report media tasks to a client.
package mediapod

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultUpdateBuffer = 64

type sessionConfig struct {
	storage      Storage
	strict       bool
	updateBuffer int
	logger       *slog.Logger
}

// Session is the durable conversation context: its ordered messages, the
// collection and video it is bound to, and the context buffer of the planner.
// Every OutputMessage of the session reports to the same observer channel.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// outUserQueue holds updates not yet taken by Out. Push updates wait for
	// room below updateBuffer; publish updates are always queued.
	outMu        sync.Mutex
	outUserQueue []Update
	outReady     chan struct{}
	outSpace     chan struct{}
	updateBuffer int

	id           string
	collectionID string
	videoID      string
	createdAt    time.Time
	metadata     map[string]any

	State *SessionState

	mu        sync.Mutex
	convID    string
	order     []string
	snapshots map[string]MessageRecord
	updatedAt time.Time

	storage Storage
	strict  bool
	logger  *slog.Logger
}

func newSession(ctx context.Context, rec SessionRecord, state *SessionState, cfg sessionConfig) *Session {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultUpdateBuffer
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if state == nil {
		state = NewSessionState()
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Session{
		ctx:          ctx,
		cancel:       cancel,
		outReady:     make(chan struct{}, 1),
		outSpace:     make(chan struct{}, 1),
		updateBuffer: cfg.updateBuffer,
		id:           rec.SessionID,
		collectionID: rec.CollectionID,
		videoID:      rec.VideoID,
		createdAt:    time.Unix(rec.CreatedAt, 0),
		updatedAt:    time.Unix(rec.UpdatedAt, 0),
		metadata:     metadata,
		State:        state,
		snapshots:    make(map[string]MessageRecord),
		storage:      cfg.storage,
		strict:       cfg.strict,
		logger:       cfg.logger.With("session_id", rec.SessionID),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CollectionID() string { return s.collectionID }
func (s *Session) VideoID() string      { return s.videoID }

// Context returns the context buffer consumed by the upstream planner.
func (s *Session) Context() *MessageList { return s.State.Context }

// Record returns the persisted shape of the session.
func (s *Session) Record() SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionRecord{
		SessionID:    s.id,
		VideoID:      s.videoID,
		CollectionID: s.collectionID,
		CreatedAt:    s.createdAt.Unix(),
		UpdatedAt:    s.updatedAt.Unix(),
		Metadata:     maps.Clone(s.metadata),
	}
}

// AddInput records a user message and appends it to the context buffer. It
// starts a new conversation turn: output messages created afterwards share its
// conv id.
func (s *Session) AddInput(ctx context.Context, text string) (MessageRecord, error) {
	if s.closed() {
		return MessageRecord{}, ErrSessionClosed
	}
	now := time.Now().Unix()
	in := NewContent(ContentTypeText, "", "")
	if err := in.Succeed("", TextData{Text: text}); err != nil {
		return MessageRecord{}, err
	}

	s.mu.Lock()
	s.convID = uuid.NewString()
	rec := MessageRecord{
		SessionID: s.id,
		ConvID:    s.convID,
		MsgID:     uuid.NewString(),
		MsgType:   MsgTypeInput,
		Agents:    []string{},
		Actions:   []string{},
		Content:   []*Content{in},
		Status:    StatusSuccess,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
	s.track(rec)
	s.mu.Unlock()
	s.State.Context.Add(UserMessage(text))

	if err := s.persist(ctx, rec); err != nil {
		return rec, err
	}
	return rec, s.SaveContext(ctx)
}

// NewOutputMessage appends an empty OutputMessage to the session. The caller
// becomes its only writer.
func (s *Session) NewOutputMessage(agents ...string) (*OutputMessage, error) {
	if s.closed() {
		return nil, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convID == "" {
		s.convID = uuid.NewString()
	}
	m := newOutputMessage(s, s.id, s.convID, s.strict, s.logger)
	for _, a := range agents {
		_ = m.AddAgent(a)
	}
	s.track(m.Record())
	return m, nil
}

// Messages returns the latest broadcast snapshot of every message, in creation order.
func (s *Session) Messages() []MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshots[id])
	}
	return out
}

// Message returns the latest snapshot of one message.
func (s *Session) Message(msgID string) (MessageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.snapshots[msgID]
	return rec, ok
}

// SaveContext persists the context buffer.
func (s *Session) SaveContext(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	now := time.Now().Unix()
	created := s.createdAt.Unix()
	return s.storage.SaveContext(ctx, ContextRecord{
		SessionID: s.id,
		Messages:  s.State.Context.All(),
		CreatedAt: created,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	})
}

// Out retrieves the next update for the observer, blocking until one is
// available. Once the session is closed and drained it returns an end update.
func (s *Session) Out() Update {
	for {
		if u, ok := s.dequeue(); ok {
			return u
		}
		select {
		case <-s.outReady:
		case <-s.ctx.Done():
			if u, ok := s.dequeue(); ok {
				return u
			}
			return Update{Type: UpdateTypeEnd, SessionID: s.id}
		}
	}
}

func (s *Session) dequeue() (Update, bool) {
	s.outMu.Lock()
	if len(s.outUserQueue) == 0 {
		s.outMu.Unlock()
		return Update{}, false
	}
	u := s.outUserQueue[0]
	s.outUserQueue[0] = Update{}
	s.outUserQueue = s.outUserQueue[1:]
	s.outMu.Unlock()
	signal(s.outSpace)
	return u, true
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close ends the session lifecycle. Pending updates, and the publish of any
// message still running, can still be drained with Out.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.logger.Info("Session closed")
	})
}

func (s *Session) closed() bool {
	return s.ctx.Err() != nil
}

// track stores rec as the latest snapshot; s.mu must be held.
func (s *Session) track(rec MessageRecord) {
	if _, ok := s.snapshots[rec.MsgID]; !ok {
		s.order = append(s.order, rec.MsgID)
	}
	s.snapshots[rec.MsgID] = rec
	s.updatedAt = time.Now()
}

// discard forgets a message that was never written to.
func (s *Session) discard(msgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[msgID]; !ok {
		return
	}
	delete(s.snapshots, msgID)
	for i, id := range s.order {
		if id == msgID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Session) emit(ctx context.Context, u Update) error {
	if u.Message != nil {
		s.mu.Lock()
		s.track(*u.Message)
		s.mu.Unlock()
	}
	// a publish terminates its message, so it never waits and is never refused
	terminal := u.Type == UpdateTypePublish
	for {
		if !terminal && s.closed() {
			return ErrSessionClosed
		}
		s.outMu.Lock()
		if terminal || len(s.outUserQueue) < s.updateBuffer {
			s.outUserQueue = append(s.outUserQueue, u)
			room := len(s.outUserQueue) < s.updateBuffer
			s.outMu.Unlock()
			signal(s.outReady)
			if room {
				// pass the wakeup on to another waiting writer
				signal(s.outSpace)
			}
			return nil
		}
		s.outMu.Unlock()
		select {
		case <-s.outSpace:
		case <-s.ctx.Done():
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) persist(ctx context.Context, rec MessageRecord) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.SaveMessage(ctx, rec); err != nil {
		return fmt.Errorf("failed to save message %s: %w", rec.MsgID, err)
	}
	return nil
}
