package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultKlingBaseURL = "https://api.klingai.com"
	defaultKlingModel   = "kling-v1"
	defaultPollInterval = 30 * time.Second
	tokenLifetime       = 30 * time.Minute
)

var _ VideoGenerator = &Kling{}

// Kling is the VideoGenerator backed by the Kling AI API. Jobs are
// asynchronous: TextToVideo submits one and polls until it settles.
type Kling struct {
	baseURL      string
	accessKey    string
	secretKey    string
	client       *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

type KlingOption func(*Kling)

// WithPollInterval sets how long TextToVideo waits between status checks.
func WithPollInterval(d time.Duration) KlingOption {
	return func(k *Kling) { k.pollInterval = d }
}

func WithKlingLogger(logger *slog.Logger) KlingOption {
	return func(k *Kling) { k.logger = logger }
}

func NewKling(accessKey, secretKey, baseURL string, opts ...KlingOption) *Kling {
	if baseURL == "" {
		baseURL = DefaultKlingBaseURL
	}
	k := &Kling{
		baseURL:      baseURL,
		accessKey:    accessKey,
		secretKey:    secretKey,
		client:       &http.Client{Timeout: 5 * time.Minute},
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

type klingTask struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Videos []struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Duration string `json:"duration"`
		} `json:"videos"`
	} `json:"task_result"`
}

type klingResponse struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    klingTask `json:"data"`
}

func (k *Kling) TextToVideo(ctx context.Context, req TextToVideoRequest, w io.Writer) error {
	const op = "kling.text_to_video"
	if req.Prompt == "" {
		return &Error{Op: op, Kind: KindInvalid, Err: errors.New("prompt is empty")}
	}
	header, err := k.header()
	if err != nil {
		return &Error{Op: op, Kind: KindInvalid, Err: err}
	}

	body := map[string]any{
		"prompt": req.Prompt,
		"model":  orDefault(req.Config.Model, defaultKlingModel),
	}
	if req.Duration > 0 {
		body["duration"] = fmt.Sprint(req.Duration)
	}
	if req.Config.NegativePrompt != "" {
		body["negative_prompt"] = req.Config.NegativePrompt
	}
	if req.Config.CfgScale != nil {
		body["cfg_scale"] = *req.Config.CfgScale
	}
	if req.Config.Mode != "" {
		body["mode"] = req.Config.Mode
	}

	submitted, err := k.call(ctx, op, http.MethodPost, k.baseURL+"/v1/videos/text2video", header, body)
	if err != nil {
		return err
	}
	if submitted.TaskID == "" {
		return &Error{Op: op, Kind: KindUpstream, Err: errors.New("no task id returned")}
	}
	k.logger.Info("Video job submitted", "task_id", submitted.TaskID)

	task, err := k.wait(ctx, submitted.TaskID, req.Progress)
	if err != nil {
		return err
	}
	if len(task.TaskResult.Videos) == 0 || task.TaskResult.Videos[0].URL == "" {
		return &Error{Op: op, Kind: KindUpstream, Err: errors.New("job succeeded without a video")}
	}
	return stream(ctx, k.client, "kling.download", http.MethodGet, task.TaskResult.Videos[0].URL, nil, nil, w)
}

// wait polls the job until it succeeds, fails or ctx is done.
func (k *Kling) wait(ctx context.Context, taskID string, progress func(string)) (klingTask, error) {
	const op = "kling.poll"
	endpoint := k.baseURL + "/v1/videos/text2video/" + url.PathEscape(taskID)
	timer := time.NewTimer(k.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return klingTask{}, ctx.Err()
		case <-timer.C:
		}
		// the token expires, so every poll signs a fresh one
		header, err := k.header()
		if err != nil {
			return klingTask{}, &Error{Op: op, Kind: KindInvalid, Err: err}
		}
		task, err := withRetry(ctx, DefaultRetry, func(ctx context.Context) (klingTask, error) {
			return k.call(ctx, op, http.MethodGet, endpoint, header, nil)
		})
		if err != nil {
			return klingTask{}, err
		}
		k.logger.Debug("Video job status", "task_id", taskID, "status", task.TaskStatus)
		if progress != nil {
			progress(task.TaskStatus)
		}
		switch task.TaskStatus {
		case "succeed":
			return task, nil
		case "failed":
			return klingTask{}, &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("job failed: %s", task.TaskStatusMsg)}
		}
		timer.Reset(k.pollInterval)
	}
}

func (k *Kling) call(ctx context.Context, op, method, endpoint string, header http.Header, body any) (klingTask, error) {
	resp, err := send(ctx, k.client, op, method, endpoint, header, body)
	if err != nil {
		return klingTask{}, err
	}
	defer resp.Body.Close()
	var out klingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return klingTask{}, &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if out.Code != 0 {
		return klingTask{}, &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("code %d: %s", out.Code, out.Message)}
	}
	return out.Data, nil
}

// header signs the short-lived bearer token Kling expects.
func (k *Kling) header() (http.Header, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    k.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
	})
	signed, err := token.SignedString([]byte(k.secretKey))
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	h.Set("Accept", "application/json")
	return h, nil
}
