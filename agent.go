package mediapod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

type AgentStatus string

const (
	AgentStatusSuccess AgentStatus = "success"
	AgentStatusError   AgentStatus = "error"
)

// AgentResponse is what an invocation returns to its caller. It is reported
// in addition to the statuses of the contents the agent produced.
type AgentResponse struct {
	Status  AgentStatus    `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Params are the raw invocation parameters, shaped by Agent.Parameters.
type Params map[string]any

// Agent is a pluggable unit of task logic.
//
// Run drives the contents it creates through task and either returns a
// response or an error. It must not publish the message itself: Execute turns
// whatever Run returns, including errors and panics, into terminal contents,
// exactly one publish and an AgentResponse.
type Agent interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of Params.
	Parameters() map[string]any
	Run(ctx context.Context, task *Task, params Params) (AgentResponse, error)
}

// FailureStatuser lets an agent word the status message shown on contents
// failed because of err.
type FailureStatuser interface {
	FailureStatus(err error) string
}

// Task is the handle an agent uses to write to its OutputMessage.
type Task struct {
	agentName string
	out       *OutputMessage
	created   []*Content
	logger    *slog.Logger
}

func (t *Task) AgentName() string          { return t.agentName }
func (t *Task) Logger() *slog.Logger       { return t.logger }
func (t *Task) Message() *OutputMessage    { return t.out }
func (t *Task) Contents() []*Content       { return append([]*Content(nil), t.created...) }
func (t *Task) Action(action string) error { return t.out.AddAction(action) }

// PushUpdate broadcasts the current state of the message.
func (t *Task) PushUpdate(ctx context.Context) error { return t.out.PushUpdate(ctx) }

// Start appends a Content in progress and broadcasts it.
func (t *Task) Start(ctx context.Context, contentType ContentType, statusMessage string) (*Content, error) {
	c := NewContent(contentType, t.agentName, statusMessage)
	if err := t.out.Append(c); err != nil {
		return nil, err
	}
	t.created = append(t.created, c)
	if err := t.out.PushUpdate(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// Complete appends a Content that is already successful, for results known
// without any external call.
func (t *Task) Complete(contentType ContentType, statusMessage string, p Payload) (*Content, error) {
	c := NewContent(contentType, t.agentName, "")
	if err := c.Succeed(statusMessage, p); err != nil {
		return nil, err
	}
	if err := t.out.Append(c); err != nil {
		return nil, err
	}
	t.created = append(t.created, c)
	return c, nil
}

// Execute runs agent against out and is the single recovery boundary of an
// invocation. Every content the agent created ends terminal, the message is
// published exactly once if the agent wrote anything, and the response is
// never a success while a content failed.
func Execute(ctx context.Context, agent Agent, out *OutputMessage, params Params, logger *slog.Logger) AgentResponse {
	if logger == nil {
		logger = slog.Default()
	}
	task := &Task{agentName: agent.Name(), out: out, logger: logger}
	resp, err := runAgent(ctx, agent, task, params)
	if err == nil && ctx.Err() != nil && task.pending() {
		err = ctx.Err()
	}
	return task.finish(context.WithoutCancel(ctx), agent, resp, err)
}

func runAgent(ctx context.Context, agent Agent, task *Task, params Params) (resp AgentResponse, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var terr *TransitionError
		if e, ok := r.(error); ok && errors.As(e, &terr) && task.out.strict {
			panic(r)
		}
		err = &ExecutionError{Agent: agent.Name(), Err: fmt.Errorf("panic: %v", r)}
	}()
	return agent.Run(ctx, task, params)
}

func (t *Task) pending() bool {
	for _, c := range t.created {
		if !c.Status().Terminal() {
			return true
		}
	}
	return false
}

func (t *Task) finish(ctx context.Context, agent Agent, resp AgentResponse, err error) AgentResponse {
	var verr *ValidationError
	if err != nil && errors.As(err, &verr) && !t.out.touched() {
		t.logger.Warn("Agent rejected parameters", "error", err)
		return AgentResponse{Status: AgentStatusError, Message: verr.Message, Data: map[string]any{}}
	}

	if err != nil {
		t.logger.Error("Agent failed", "error", err)
		t.failPending(failureStatus(agent, err))
		resp = AgentResponse{Status: AgentStatusError, Message: failureMessage(err), Data: resp.Data}
	} else {
		if resp.Status == "" {
			resp.Status = AgentStatusSuccess
		}
		if resp.Status == AgentStatusError {
			t.failPending(resp.Message)
		} else if t.pending() {
			t.logger.Error("Agent returned with contents in progress")
			t.failPending(StatusMessageInterrupted)
		}
		for _, c := range t.created {
			if c.Status() == StatusError && resp.Status == AgentStatusSuccess {
				resp.Status = AgentStatusError
				resp.Message = fmt.Sprintf("Agent %s failed: %s", agent.Name(), c.StatusMessage())
			}
		}
	}
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}

	if t.out.touched() && !t.out.Published() {
		if perr := t.out.Publish(ctx); perr != nil {
			t.logger.Error("Failed to publish output message", "error", perr)
		}
	}
	return resp
}

func (t *Task) failPending(statusMessage string) {
	for _, c := range t.created {
		if !c.Status().Terminal() {
			_ = c.Fail(statusMessage)
		}
	}
}

func failureStatus(agent Agent, err error) string {
	var eerr *EmptyResultError
	if errors.As(err, &eerr) && eerr.StatusMessage != "" {
		return eerr.StatusMessage
	}
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		err = xerr.Err
	}
	if fs, ok := agent.(FailureStatuser); ok {
		return fs.FailureStatus(err)
	}
	return fmt.Sprintf("Failed: %v", err)
}

func failureMessage(err error) string {
	var eerr *EmptyResultError
	if errors.As(err, &eerr) {
		return eerr.Error()
	}
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		err = xerr.Err
	}
	return fmt.Sprintf("Agent failed with error %v", err)
}

// DecodeParams converts params into the agent's typed parameter struct.
func DecodeParams[T any](params Params) (T, error) {
	var v T
	raw, err := json.Marshal(params)
	if err != nil {
		return v, NewValidationError("invalid parameters: %v", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, NewValidationError("invalid parameters: %v", err)
	}
	return v, nil
}
