package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const DefaultVideoDBBaseURL = "https://api.videodb.io"

var _ MediaCatalog = &VideoDB{}

// VideoDB is the MediaCatalog backed by the VideoDB HTTP API.
type VideoDB struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

type VideoDBOption func(*VideoDB)

func WithHTTPClient(client *http.Client) VideoDBOption {
	return func(v *VideoDB) { v.client = client }
}

// WithRetry sets the retry policy of idempotent lookups.
func WithRetry(cfg RetryConfig) VideoDBOption {
	return func(v *VideoDB) { v.retry = cfg }
}

func WithLogger(logger *slog.Logger) VideoDBOption {
	return func(v *VideoDB) { v.logger = logger }
}

func NewVideoDB(baseURL, apiKey string, opts ...VideoDBOption) *VideoDB {
	if baseURL == "" {
		baseURL = DefaultVideoDBBaseURL
	}
	v := &VideoDB{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		retry:   DefaultRetry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// envelope is the response shape shared by every VideoDB endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GetVideo looks up a video of the collection.
func (v *VideoDB) GetVideo(ctx context.Context, collectionID, videoID string) (Video, error) {
	const op = "videodb.get_video"
	if videoID == "" {
		return Video{}, &Error{Op: op, Kind: KindInvalid, Err: errors.New("video id is empty")}
	}
	query := url.Values{}
	if collectionID != "" {
		query.Set("collection_id", collectionID)
	}
	return withRetry(ctx, v.retry, func(ctx context.Context) (Video, error) {
		var video Video
		err := v.do(ctx, op, http.MethodGet, "/video/"+url.PathEscape(videoID), query, nil, &video)
		return video, err
	})
}

// Upload adds media to a collection, either from a public URL or from a local file.
func (v *VideoDB) Upload(ctx context.Context, req UploadRequest) (Media, error) {
	const op = "videodb.upload"
	if req.Source == "" {
		return Media{}, &Error{Op: op, Kind: KindInvalid, Err: errors.New("source is empty")}
	}
	if req.MediaType == "" {
		req.MediaType = MediaVideo
	}
	switch req.MediaType {
	case MediaVideo, MediaAudio, MediaImage:
	default:
		return Media{}, &Error{Op: op, Kind: KindInvalid, Err: fmt.Errorf("invalid media type %q", req.MediaType)}
	}

	sourceURL := req.Source
	switch req.SourceType {
	case SourceURL, "":
	case SourceLocalFile:
		uploaded, err := v.uploadFile(ctx, req)
		if err != nil {
			return Media{}, err
		}
		sourceURL = uploaded
	default:
		return Media{}, &Error{Op: op, Kind: KindInvalid, Err: fmt.Errorf("invalid source type %q", req.SourceType)}
	}

	body := map[string]any{
		"url":        sourceURL,
		"media_type": req.MediaType,
	}
	if req.Name != "" {
		body["name"] = req.Name
	}
	var media Media
	path := "/collection/" + url.PathEscape(req.CollectionID) + "/upload"
	if err := v.do(ctx, op, http.MethodPost, path, nil, body, &media); err != nil {
		return Media{}, err
	}
	media.MediaType = req.MediaType
	v.logger.Info("Media uploaded", "media_type", req.MediaType, "id", media.ID, "collection_id", media.CollectionID)
	return media, nil
}

// uploadFile pushes a local file to a signed upload URL and returns that URL.
func (v *VideoDB) uploadFile(ctx context.Context, req UploadRequest) (string, error) {
	const op = "videodb.upload_file"
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Source)
	}
	var target struct {
		UploadURL string `json:"upload_url"`
	}
	path := "/collection/" + url.PathEscape(req.CollectionID) + "/upload_url"
	if err := v.do(ctx, op, http.MethodGet, path, url.Values{"name": {name}}, nil, &target); err != nil {
		return "", err
	}
	if target.UploadURL == "" {
		return "", &Error{Op: op, Kind: KindUpstream, Err: errors.New("no upload url returned")}
	}

	f, err := os.Open(req.Source)
	if err != nil {
		return "", &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &Error{Op: op, Kind: KindInvalid, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, &buf)
	if err != nil {
		return "", &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := v.client.Do(httpReq)
	if err != nil {
		return "", wrapTransport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Err: fmt.Errorf("upload returned %s", resp.Status)}
	}
	return target.UploadURL, nil
}

// Download asks the platform for a download link of a stream.
func (v *VideoDB) Download(ctx context.Context, streamLink, name string) (DownloadResult, error) {
	const op = "videodb.download"
	if streamLink == "" {
		return DownloadResult{}, &Error{Op: op, Kind: KindInvalid, Err: errors.New("stream link is empty")}
	}
	body := map[string]any{"stream_link": streamLink}
	if name != "" {
		body["name"] = name
	}
	var result DownloadResult
	if err := v.do(ctx, op, http.MethodPost, "/download", nil, body, &result); err != nil {
		return DownloadResult{}, err
	}
	return result, nil
}

func (v *VideoDB) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	endpoint := v.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindInvalid, Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.apiKey != "" {
		req.Header.Set("x-access-token", v.apiKey)
	}

	start := time.Now()
	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("VideoDB request failed", "op", op, "error", err)
		return wrapTransport(op, err)
	}
	defer resp.Body.Close()
	v.logger.Debug("VideoDB request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransport(op, err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	if resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Err: errors.New(msg)}
	}
	if !env.Success {
		return &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("request unsuccessful: %s", env.Message)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return nil
}
