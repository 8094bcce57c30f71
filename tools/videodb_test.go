package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"success": status < 300, "data": data}))
}

func newTestVideoDB(srv *httptest.Server) *VideoDB {
	return NewVideoDB(srv.URL, "test-key", WithHTTPClient(srv.Client()), WithRetry(RetryConfig{MaxAttempts: 3}))
}

func TestVideoDBGetVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video/abc", r.URL.Path)
		assert.Equal(t, "c-1", r.URL.Query().Get("collection_id"))
		assert.Equal(t, "test-key", r.Header.Get("x-access-token"))
		writeEnvelope(t, w, http.StatusOK, map[string]any{
			"id":            "abc",
			"name":          "demo",
			"collection_id": "c-1",
			"stream_url":    "https://y/s.m3u8",
			"length":        12.5,
		})
	}))
	defer srv.Close()

	video, err := newTestVideoDB(srv).GetVideo(context.Background(), "c-1", "abc")
	require.NoError(t, err)
	assert.Equal(t, Video{ID: "abc", Name: "demo", CollectionID: "c-1", StreamURL: "https://y/s.m3u8", Length: 12.5}, video)
}

func TestVideoDBGetVideoErrors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success": false, "message": "Video not found"}`))
		}))
		defer srv.Close()

		_, err := newTestVideoDB(srv).GetVideo(context.Background(), "c-1", "missing")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindNotFound))
		assert.Contains(t, err.Error(), "Video not found")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("RetriesUnavailable", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writeEnvelope(t, w, http.StatusOK, map[string]any{"id": "abc", "stream_url": "https://y/s.m3u8"})
		}))
		defer srv.Close()

		video, err := newTestVideoDB(srv).GetVideo(context.Background(), "", "abc")
		require.NoError(t, err)
		assert.Equal(t, "https://y/s.m3u8", video.StreamURL)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("EmptyID", func(t *testing.T) {
		_, err := NewVideoDB("", "").GetVideo(context.Background(), "c-1", "")
		assert.True(t, IsKind(err, KindInvalid))
	})
}

func TestVideoDBUpload(t *testing.T) {
	t.Run("URL", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/collection/c-1/upload", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://src/video.mp4", body["url"])
			assert.Equal(t, "video", body["media_type"])
			assert.Equal(t, "clip", body["name"])
			writeEnvelope(t, w, http.StatusOK, map[string]any{"id": "m-1", "collection_id": "c-1", "name": "clip", "stream_url": "https://s/m-1.m3u8"})
		}))
		defer srv.Close()

		media, err := newTestVideoDB(srv).Upload(context.Background(), UploadRequest{
			CollectionID: "c-1", Source: "https://src/video.mp4", SourceType: SourceURL, MediaType: MediaVideo, Name: "clip",
		})
		require.NoError(t, err)
		assert.Equal(t, MediaVideo, media.MediaType)
		assert.Equal(t, "m-1", media.ID)
		assert.Equal(t, "https://s/m-1.m3u8", media.StreamURL)
	})

	t.Run("LocalFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "song.mp3")
		require.NoError(t, os.WriteFile(path, []byte("audio-bytes"), 0o600))

		mux := http.NewServeMux()
		var srv *httptest.Server
		mux.HandleFunc("GET /collection/c-1/upload_url", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "song.mp3", r.URL.Query().Get("name"))
			writeEnvelope(t, w, http.StatusOK, map[string]any{"upload_url": srv.URL + "/signed"})
		})
		mux.HandleFunc("POST /signed", func(w http.ResponseWriter, r *http.Request) {
			f, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "song.mp3", header.Filename)
			assert.Equal(t, "audio-bytes", string(data))
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("POST /collection/c-1/upload", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, srv.URL+"/signed", body["url"])
			assert.Equal(t, "audio", body["media_type"])
			writeEnvelope(t, w, http.StatusOK, map[string]any{"id": "a-1", "collection_id": "c-1", "name": "song.mp3", "length": 3.0})
		})
		srv = httptest.NewServer(mux)
		defer srv.Close()

		media, err := newTestVideoDB(srv).Upload(context.Background(), UploadRequest{
			CollectionID: "c-1", Source: path, SourceType: SourceLocalFile, MediaType: MediaAudio,
		})
		require.NoError(t, err)
		assert.Equal(t, "a-1", media.ID)
		assert.Equal(t, 3.0, media.Length)
	})

	t.Run("InvalidSourceType", func(t *testing.T) {
		_, err := NewVideoDB("", "").Upload(context.Background(), UploadRequest{Source: "x", SourceType: "ftp"})
		assert.True(t, IsKind(err, KindInvalid))
	})
}

func TestVideoDBDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://s/m-1.m3u8", body["stream_link"])
		writeEnvelope(t, w, http.StatusOK, map[string]any{"status": "done", "download_url": "https://dl/m-1.mp4", "name": "m-1"})
	}))
	defer srv.Close()

	result, err := newTestVideoDB(srv).Download(context.Background(), "https://s/m-1.m3u8", "")
	require.NoError(t, err)
	assert.True(t, result.Done())
	assert.Equal(t, "https://dl/m-1.mp4", result.DownloadURL)
}
