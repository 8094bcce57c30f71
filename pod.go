package mediapod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AgentInfo describes a registered agent for the planner.
type AgentInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Pod holds the registered agents and the resources shared by every session.
type Pod struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string

	storage      Storage
	strict       bool
	updateBuffer int
	logger       *slog.Logger
}

type Option func(*Pod)

// WithStorage persists sessions, published messages and context buffers.
func WithStorage(storage Storage) Option {
	return func(p *Pod) { p.storage = storage }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pod) { p.logger = logger }
}

// WithStrictTransitions makes illegal content transitions panic instead of returning ErrStatusFinal.
func WithStrictTransitions(strict bool) Option {
	return func(p *Pod) { p.strict = strict }
}

// WithUpdateBuffer sets how many push updates a session queues for its observer.
// Publish updates are always queued.
func WithUpdateBuffer(n int) Option {
	return func(p *Pod) { p.updateBuffer = n }
}

// NewPod constructs a new Pod with the given resources.
func NewPod(opts ...Option) *Pod {
	p := &Pod{
		agents:       make(map[string]Agent),
		updateBuffer: defaultUpdateBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds agents under their names. Names must be unique.
func (p *Pod) Register(agents ...Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range agents {
		if a == nil || a.Name() == "" {
			return errors.New("agent must have a name")
		}
		if _, exists := p.agents[a.Name()]; exists {
			return fmt.Errorf("agent %s already registered", a.Name())
		}
		p.agents[a.Name()] = a
		p.order = append(p.order, a.Name())
	}
	return nil
}

func (p *Pod) Agent(name string) (Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[name]
	return a, ok
}

// Agents lists the registered agents in registration order.
func (p *Pod) Agents() []AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	infos := make([]AgentInfo, 0, len(p.order))
	for _, name := range p.order {
		a := p.agents[name]
		infos = append(infos, AgentInfo{Name: a.Name(), Description: a.Description(), Parameters: a.Parameters()})
	}
	return infos
}

func (p *Pod) sessionConfig() sessionConfig {
	return sessionConfig{
		storage:      p.storage,
		strict:       p.strict,
		updateBuffer: p.updateBuffer,
		logger:       p.logger,
	}
}

// NewSession creates a session bound to a collection and optionally a video.
// The session lives until Close or until ctx is done.
func (p *Pod) NewSession(ctx context.Context, collectionID, videoID string, metadata map[string]any) (*Session, error) {
	sessionID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	now := time.Now().Unix()
	rec := SessionRecord{
		SessionID:    sessionID,
		VideoID:      videoID,
		CollectionID: collectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     metadata,
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if p.storage != nil {
		if err := p.storage.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}
	sess := newSession(ctx, rec, nil, p.sessionConfig())
	sess.logger.Info("Session started", "collection_id", collectionID, "video_id", videoID)
	return sess, nil
}

// LoadSession restores a session with its message history and context buffer.
func (p *Pod) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	if p.storage == nil {
		return nil, errors.New("pod has no storage")
	}
	rec, err := p.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := p.storage.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	contextRec, err := p.storage.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := newSession(ctx, rec, NewSessionState(contextRec.Messages...), p.sessionConfig())
	sess.mu.Lock()
	for _, m := range messages {
		sess.track(m)
		sess.convID = m.ConvID
	}
	sess.mu.Unlock()
	sess.logger.Info("Session loaded", "messages", len(messages))
	return sess, nil
}

// Invoke runs the named agent in a fresh OutputMessage of sess. Parameters
// are checked against the agent's schema before anything is created. The
// response message of a published run joins the session's context buffer.
func (p *Pod) Invoke(ctx context.Context, sess *Session, name string, params Params) AgentResponse {
	agent, ok := p.Agent(name)
	if !ok {
		return AgentResponse{Status: AgentStatusError, Message: fmt.Sprintf("%v: %s", ErrUnknownAgent, name), Data: map[string]any{}}
	}
	schema := agent.Parameters()
	params = withSessionDefaults(schema, sess, params)
	if err := ValidateParams(schema, params); err != nil {
		p.logger.Warn("Invalid agent parameters", "agent", name, "session_id", sess.ID(), "error", err)
		return AgentResponse{Status: AgentStatusError, Message: err.Error(), Data: map[string]any{}}
	}
	out, err := sess.NewOutputMessage(name)
	if err != nil {
		return AgentResponse{Status: AgentStatusError, Message: err.Error(), Data: map[string]any{}}
	}
	logger := sess.logger.With("msg_id", out.ID, "agent", name)
	logger.Info("Running agent")
	resp := Execute(ctx, agent, out, params, logger)
	if !out.Published() {
		sess.discard(out.ID)
		logger.Info("Agent finished", "status", resp.Status)
		return resp
	}
	if resp.Message != "" {
		sess.Context().Add(AssistantMessage(resp.Message))
		if err := sess.SaveContext(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to save context", "error", err)
		}
	}
	logger.Info("Agent finished", "status", resp.Status)
	return resp
}

// withSessionDefaults fills collection_id from the session binding when the
// agent accepts one and the caller left it out.
func withSessionDefaults(schema map[string]any, sess *Session, params Params) Params {
	props, _ := schema["properties"].(map[string]any)
	out := make(Params, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	if _, declared := props["collection_id"]; declared && sess.CollectionID() != "" {
		if _, set := out["collection_id"]; !set {
			out["collection_id"] = sess.CollectionID()
		}
	}
	return out
}
