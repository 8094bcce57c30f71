package mediapod

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcAgent struct {
	name   string
	schema map[string]any
	run    func(ctx context.Context, task *Task, params Params) (AgentResponse, error)
	status func(error) string
}

func (a *funcAgent) Name() string               { return a.name }
func (a *funcAgent) Description() string        { return "test agent " + a.name }
func (a *funcAgent) Parameters() map[string]any { return a.schema }
func (a *funcAgent) Run(ctx context.Context, task *Task, params Params) (AgentResponse, error) {
	return a.run(ctx, task, params)
}

type statusAgent struct{ *funcAgent }

func (a statusAgent) FailureStatus(err error) string { return a.status(err) }

// drain closes sess and collects the updates still buffered.
func drain(sess *Session) []Update {
	sess.Close()
	var updates []Update
	for {
		u := sess.Out()
		if u.Type == UpdateTypeEnd {
			return updates
		}
		updates = append(updates, u)
	}
}

func publishes(updates []Update, msgID string) int {
	n := 0
	for _, u := range updates {
		if u.Type == UpdateTypePublish && u.MsgID == msgID {
			n++
		}
	}
	return n
}

// assertMonotonic checks every content of every message only moves from
// progress to a single terminal status across the observed updates.
func assertMonotonic(t *testing.T, updates []Update) {
	t.Helper()
	seen := map[string][]Status{}
	lastSeq := map[string]uint64{}
	for _, u := range updates {
		if u.Message == nil {
			continue
		}
		assert.Greater(t, u.Seq, lastSeq[u.MsgID], "seq must increase per message")
		lastSeq[u.MsgID] = u.Seq
		for i, c := range u.Message.Content {
			key := u.MsgID + "/" + string(rune('0'+i))
			prev := seen[key]
			if len(prev) > 0 && prev[len(prev)-1].Terminal() {
				assert.Equal(t, prev[len(prev)-1], c.Status(), "terminal status changed")
			}
			seen[key] = append(prev, c.Status())
		}
	}
}

func executeOnce(t *testing.T, agent Agent, params Params, strict bool) (AgentResponse, *OutputMessage, []Update) {
	t.Helper()
	sess := newSession(context.Background(), SessionRecord{SessionID: "s-1"}, nil, sessionConfig{strict: strict})
	out, err := sess.NewOutputMessage(agent.Name())
	require.NoError(t, err)
	resp := Execute(context.Background(), agent, out, params, nil)
	return resp, out, drain(sess)
}

func TestExecuteSuccess(t *testing.T) {
	agent := &funcAgent{name: "ok", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		c, err := task.Start(ctx, ContentTypeImage, "Generating image..")
		require.NoError(t, err)
		require.NoError(t, c.Succeed("done", ImageData{URL: "https://img/1.png"}))
		return AgentResponse{Message: "fine"}, nil
	}}
	resp, out, updates := executeOnce(t, agent, nil, false)

	assert.Equal(t, AgentStatusSuccess, resp.Status)
	assert.NotNil(t, resp.Data)
	assert.True(t, out.Published())
	assert.Equal(t, 1, publishes(updates, out.ID))
	assertMonotonic(t, updates)
}

func TestExecuteValidationBeforeWrite(t *testing.T) {
	agent := &funcAgent{name: "v", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		return AgentResponse{}, NewValidationError("Either 'video_id' or 'stream_url' is required")
	}}
	resp, out, updates := executeOnce(t, agent, nil, false)

	assert.Equal(t, AgentStatusError, resp.Status)
	assert.Equal(t, "Either 'video_id' or 'stream_url' is required", resp.Message)
	assert.False(t, out.Published())
	assert.Empty(t, out.Contents())
	assert.Empty(t, updates)
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name          string
		run           func(ctx context.Context, task *Task, _ Params) (AgentResponse, error)
		statusMessage string
		respContains  string
	}{
		{
			name: "Error",
			run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
				_, _ = task.Start(ctx, ContentTypeImage, "Generating image..")
				return AgentResponse{}, errors.New("provider exploded")
			},
			statusMessage: "Failed: provider exploded",
			respContains:  "Agent failed with error provider exploded",
		},
		{
			name: "EmptyResult",
			run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
				_, _ = task.Start(ctx, ContentTypeImage, "Generating image..")
				return AgentResponse{}, &EmptyResultError{Op: "generate", StatusMessage: "Error in generating image."}
			},
			statusMessage: "Error in generating image.",
			respContains:  "generate returned no result",
		},
		{
			name: "Panic",
			run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
				_, _ = task.Start(ctx, ContentTypeVideo, "Loading stream for the video..")
				var m map[string]string
				m["x"] = "boom"
				return AgentResponse{}, nil
			},
			statusMessage: "Failed: panic: assignment to entry in nil map",
			respContains:  "panic",
		},
		{
			name: "ErrorResponse",
			run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
				_, _ = task.Start(ctx, ContentTypeText, "Downloading..")
				return AgentResponse{Status: AgentStatusError, Message: "Download failed"}, nil
			},
			statusMessage: "Download failed",
			respContains:  "Download failed",
		},
		{
			name: "ReturnedWhilePending",
			run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
				_, _ = task.Start(ctx, ContentTypeText, "Working..")
				return AgentResponse{Status: AgentStatusSuccess}, nil
			},
			statusMessage: StatusMessageInterrupted,
			respContains:  StatusMessageInterrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &funcAgent{name: "failing", run: tt.run}
			resp, out, updates := executeOnce(t, agent, nil, false)

			assert.Equal(t, AgentStatusError, resp.Status)
			assert.Contains(t, resp.Message, tt.respContains)
			require.Len(t, out.Contents(), 1)
			c := out.Contents()[0]
			assert.Equal(t, StatusError, c.Status())
			assert.Equal(t, tt.statusMessage, c.StatusMessage())
			assert.Equal(t, 1, publishes(updates, out.ID))
			assertMonotonic(t, updates)
		})
	}
}

func TestExecuteFailureStatuser(t *testing.T) {
	agent := statusAgent{&funcAgent{
		name: "stream_video",
		run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
			_, _ = task.Start(ctx, ContentTypeVideo, "Loading stream for the video..")
			return AgentResponse{}, errors.New("video not found")
		},
		status: func(err error) string { return "Error in loading stream: " + err.Error() },
	}}
	_, out, _ := executeOnce(t, agent, nil, false)
	assert.Equal(t, "Error in loading stream: video not found", out.Contents()[0].StatusMessage())
}

func TestExecutePartialFailure(t *testing.T) {
	agent := &funcAgent{name: "two", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		a, _ := task.Start(ctx, ContentTypeText, "first")
		b, _ := task.Start(ctx, ContentTypeText, "second")
		require.NoError(t, a.Succeed("ok", TextData{Text: "a"}))
		require.NoError(t, b.Fail("nope"))
		return AgentResponse{Status: AgentStatusSuccess, Message: "all good"}, nil
	}}
	resp, out, _ := executeOnce(t, agent, nil, false)

	assert.Equal(t, AgentStatusError, resp.Status)
	assert.Contains(t, resp.Message, "nope")
	assert.Equal(t, StatusSuccess, out.Contents()[0].Status())
	assert.Equal(t, StatusError, out.Contents()[1].Status())
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := newSession(context.Background(), SessionRecord{SessionID: "s-1"}, nil, sessionConfig{})
	out, err := sess.NewOutputMessage("slow")
	require.NoError(t, err)

	started := make(chan struct{})
	agent := &funcAgent{name: "slow", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		_, _ = task.Start(ctx, ContentTypeImage, "Generating image..")
		close(started)
		<-ctx.Done()
		return AgentResponse{}, ctx.Err()
	}}

	done := make(chan AgentResponse)
	go func() { done <- Execute(ctx, agent, out, nil, nil) }()
	<-started
	cancel()

	select {
	case resp := <-done:
		assert.Equal(t, AgentStatusError, resp.Status)
		assert.Contains(t, resp.Message, context.Canceled.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	updates := drain(sess)
	assert.Equal(t, 1, publishes(updates, out.ID))
	assert.Equal(t, StatusError, out.Contents()[0].Status())
}

// cancelAfterStart starts one content, cancels the caller and reports the cancellation.
func cancelAfterStart(cancel context.CancelFunc) *funcAgent {
	return &funcAgent{name: "slow", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		if _, err := task.Start(ctx, ContentTypeVideo, "Generating video.."); err != nil {
			return AgentResponse{}, err
		}
		cancel()
		return AgentResponse{}, ctx.Err()
	}}
}

func executeWithin(t *testing.T, ctx context.Context, agent Agent, out *OutputMessage) AgentResponse {
	t.Helper()
	done := make(chan AgentResponse, 1)
	go func() { done <- Execute(ctx, agent, out, nil, nil) }()
	select {
	case resp := <-done:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("Execute still running after the caller was cancelled")
		return AgentResponse{}
	}
}

func TestExecuteCancellationWithFullObserverQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := newSession(context.Background(), SessionRecord{SessionID: "s-1"}, nil, sessionConfig{updateBuffer: 1})
	out, err := sess.NewOutputMessage("slow")
	require.NoError(t, err)

	// nobody reads, so the first push fills the queue
	resp := executeWithin(t, ctx, cancelAfterStart(cancel), out)
	assert.Equal(t, AgentStatusError, resp.Status)
	assert.True(t, out.Published())

	updates := drain(sess)
	require.Len(t, updates, 2)
	assert.Equal(t, UpdateTypePush, updates[0].Type)
	assert.Equal(t, UpdateTypePublish, updates[1].Type)
	assert.Equal(t, StatusError, updates[1].Message.Content[0].Status())
}

func TestExecuteCancellationSharedWithSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := newSession(ctx, SessionRecord{SessionID: "s-1"}, nil, sessionConfig{})
	out, err := sess.NewOutputMessage("slow")
	require.NoError(t, err)

	resp := executeWithin(t, ctx, cancelAfterStart(cancel), out)
	assert.Equal(t, AgentStatusError, resp.Status)
	<-sess.Done()

	var types []UpdateType
	for {
		u := sess.Out()
		types = append(types, u.Type)
		if u.Type == UpdateTypeEnd {
			break
		}
	}
	assert.Equal(t, []UpdateType{UpdateTypePush, UpdateTypePublish, UpdateTypeEnd}, types)
}

func TestExecuteIllegalTransition(t *testing.T) {
	doubleWrite := func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		c, _ := task.Complete(ContentTypeText, "ok", TextData{Text: "x"})
		if err := c.Fail("late failure"); err != nil {
			return AgentResponse{}, err
		}
		return AgentResponse{}, nil
	}

	t.Run("Lenient", func(t *testing.T) {
		resp, out, _ := executeOnce(t, &funcAgent{name: "dbl", run: doubleWrite}, nil, false)
		assert.Equal(t, AgentStatusError, resp.Status)
		c := out.Contents()[0]
		assert.Equal(t, StatusSuccess, c.Status())
		assert.Equal(t, "ok", c.StatusMessage())
	})

	t.Run("Strict", func(t *testing.T) {
		assert.Panics(t, func() {
			executeOnce(t, &funcAgent{name: "dbl", run: doubleWrite}, nil, true)
		})
	})
}

func TestExecuteConcurrentMessages(t *testing.T) {
	sess := newSession(context.Background(), SessionRecord{SessionID: "s-1"}, nil, sessionConfig{updateBuffer: 256})
	agent := &funcAgent{name: "worker", run: func(ctx context.Context, task *Task, _ Params) (AgentResponse, error) {
		c, err := task.Start(ctx, ContentTypeText, "working")
		if err != nil {
			return AgentResponse{}, err
		}
		for i := 0; i < 3; i++ {
			_ = c.SetStatusMessage("still working")
			_ = task.PushUpdate(ctx)
		}
		return AgentResponse{}, c.Succeed("done", TextData{Text: "ok"})
	}}

	const workers = 10
	outs := make([]*OutputMessage, workers)
	for i := range outs {
		out, err := sess.NewOutputMessage(agent.Name())
		require.NoError(t, err)
		outs[i] = out
	}

	var wg sync.WaitGroup
	for _, out := range outs {
		wg.Add(1)
		go func(out *OutputMessage) {
			defer wg.Done()
			resp := Execute(context.Background(), agent, out, nil, nil)
			assert.Equal(t, AgentStatusSuccess, resp.Status)
		}(out)
	}
	wg.Wait()

	updates := drain(sess)
	assertMonotonic(t, updates)
	for _, out := range outs {
		assert.Equal(t, 1, publishes(updates, out.ID))
	}
	messages := sess.Messages()
	require.Len(t, messages, workers)
	for i, m := range messages {
		assert.Equal(t, outs[i].ID, m.MsgID)
		assert.Equal(t, StatusSuccess, m.Status)
	}
}

func TestDecodeParams(t *testing.T) {
	type params struct {
		VideoID string `json:"video_id"`
	}
	p, err := DecodeParams[params](Params{"video_id": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", p.VideoID)

	_, err = DecodeParams[params](Params{"video_id": 42})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
