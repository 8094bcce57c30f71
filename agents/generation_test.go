package agents

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

type fakeAudio struct {
	data []byte
	err  error

	speech []tools.SpeechRequest
	sounds []tools.SoundEffectRequest
}

func (f *fakeAudio) TextToSpeech(ctx context.Context, req tools.SpeechRequest, w io.Writer) error {
	f.speech = append(f.speech, req)
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

func (f *fakeAudio) SoundEffect(ctx context.Context, req tools.SoundEffectRequest, w io.Writer) error {
	f.sounds = append(f.sounds, req)
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

type fakeVideo struct {
	data     []byte
	statuses []string
	err      error
}

func (f *fakeVideo) TextToVideo(ctx context.Context, req tools.TextToVideoRequest, w io.Writer) error {
	for _, s := range f.statuses {
		req.Progress(s)
	}
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

// readingCatalog records the bytes of every uploaded local file.
type readingCatalog struct {
	*fakeCatalog
	uploaded [][]byte
}

func (r *readingCatalog) Upload(ctx context.Context, req tools.UploadRequest) (tools.Media, error) {
	data, err := os.ReadFile(req.Source)
	if err != nil {
		return tools.Media{}, err
	}
	r.uploaded = append(r.uploaded, data)
	return r.fakeCatalog.Upload(ctx, req)
}

func TestAudioGeneration(t *testing.T) {
	t.Run("TextToSpeech", func(t *testing.T) {
		dir := t.TempDir()
		gen := &fakeAudio{data: []byte("ID3-speech")}
		catalog := &readingCatalog{fakeCatalog: &fakeCatalog{media: tools.Media{ID: "a-9", CollectionID: "c-1", URL: "https://a/a-9.mp3"}}}
		resp, messages, updates := run(t, NewAudioGeneration(gen, catalog, dir), mediapod.Params{
			"job_type": "text_to_speech",
			"text_to_speech": map[string]any{
				"text":              "welcome aboard",
				"elevenlabs_config": map[string]any{"voice_id": "v-1"},
			},
		})

		assert.Equal(t, mediapod.AgentStatusSuccess, resp.Status)
		assert.Equal(t, "Audio generated successfully, Generated Media audio id : a-9", resp.Message)
		assert.Equal(t, map[string]any{"audio_id": "a-9"}, resp.Data)

		require.Len(t, gen.speech, 1)
		assert.Equal(t, "welcome aboard", gen.speech[0].Text)
		assert.Equal(t, "v-1", gen.speech[0].Config.VoiceID)

		require.Len(t, catalog.uploads, 1)
		up := catalog.uploads[0]
		assert.Equal(t, "c-1", up.CollectionID)
		assert.Equal(t, tools.SourceLocalFile, up.SourceType)
		assert.Equal(t, tools.MediaAudio, up.MediaType)
		assert.Equal(t, dir, filepath.Dir(up.Source))
		assert.Equal(t, [][]byte{[]byte("ID3-speech")}, catalog.uploaded)
		assert.NoFileExists(t, up.Source)

		require.Len(t, messages, 1)
		require.Len(t, messages[0].Actions, 3)
		assert.Equal(t, "Using <b>elevenlabs</b> to convert text <i>welcome aboard</i> to speech", messages[0].Actions[0])
		assert.Equal(t, "Uploaded generated audio to VideoDB with Audio ID a-9", messages[0].Actions[2])
		c := messages[0].Content[0]
		assert.Equal(t, mediapod.ContentTypeAudio, c.Type)
		assert.Equal(t, "Here is your generated audio", c.StatusMessage())
		assert.Equal(t, "a-9", c.Payload().(mediapod.AudioData).ID)

		assert.Equal(t, []mediapod.Status{mediapod.StatusProgress, mediapod.StatusProgress, mediapod.StatusSuccess}, statuses(updates))
		assert.Equal(t, 1, countPublishes(updates))
	})

	t.Run("SoundEffect", func(t *testing.T) {
		gen := &fakeAudio{data: []byte("boom")}
		catalog := &fakeCatalog{media: tools.Media{ID: "a-2"}}
		resp, _, _ := run(t, NewAudioGeneration(gen, catalog, t.TempDir()), mediapod.Params{
			"job_type":     "sound_effect",
			"sound_effect": map[string]any{"prompt": "thunder", "duration": 3},
		})

		assert.Equal(t, mediapod.AgentStatusSuccess, resp.Status)
		require.Len(t, gen.sounds, 1)
		assert.Equal(t, tools.SoundEffectRequest{Prompt: "thunder", Duration: 3}, gen.sounds[0])
		assert.Empty(t, gen.speech)
	})

	t.Run("MissingText", func(t *testing.T) {
		gen := &fakeAudio{}
		resp, messages, updates := run(t, NewAudioGeneration(gen, &fakeCatalog{}, t.TempDir()), mediapod.Params{"job_type": "text_to_speech"})
		assert.Equal(t, mediapod.AgentStatusError, resp.Status)
		assert.Equal(t, "Text is required for text to speech", resp.Message)
		assert.Empty(t, messages)
		assert.Empty(t, updates)
		assert.Empty(t, gen.speech)
	})

	t.Run("GeneratorFailure", func(t *testing.T) {
		dir := t.TempDir()
		catalog := &fakeCatalog{}
		gen := &fakeAudio{err: &tools.Error{Op: "elevenlabs.text_to_speech", Kind: tools.KindUpstream, Err: errors.New("quota exceeded")}}
		resp, messages, updates := run(t, NewAudioGeneration(gen, catalog, dir), mediapod.Params{
			"job_type":       "text_to_speech",
			"text_to_speech": map[string]any{"text": "hi"},
		})

		assert.Equal(t, mediapod.AgentStatusError, resp.Status)
		assert.Contains(t, resp.Message, "quota exceeded")
		assert.Empty(t, catalog.uploads)
		c := messages[0].Content[0]
		assert.Equal(t, mediapod.StatusError, c.Status())
		assert.Equal(t, "Failed to generate audio", c.StatusMessage())
		assert.Equal(t, 1, countPublishes(updates))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestVideoGeneration(t *testing.T) {
	params := mediapod.Params{
		"job_type":      "text_to_video",
		"text_to_video": map[string]any{"prompt": "a boat at dawn", "duration": 5},
	}

	t.Run("Success", func(t *testing.T) {
		gen := &fakeVideo{data: []byte("mp4"), statuses: []string{"submitted", "processing"}}
		catalog := &readingCatalog{fakeCatalog: &fakeCatalog{media: tools.Media{ID: "v-7", CollectionID: "c-1", StreamURL: "https://s/v-7.m3u8"}}}
		resp, messages, updates := run(t, NewVideoGeneration(gen, catalog, t.TempDir()), params)

		assert.Equal(t, mediapod.AgentStatusSuccess, resp.Status)
		assert.Equal(t, "Generated video ID v-7", resp.Message)
		assert.Equal(t, map[string]any{"video_id": "v-7", "video_stream_url": "https://s/v-7.m3u8"}, resp.Data)

		require.Len(t, catalog.uploads, 1)
		assert.Equal(t, tools.MediaVideo, catalog.uploads[0].MediaType)
		assert.Equal(t, tools.SourceLocalFile, catalog.uploads[0].SourceType)
		assert.Equal(t, [][]byte{[]byte("mp4")}, catalog.uploaded)

		c := messages[0].Content[0]
		assert.Equal(t, mediapod.StatusSuccess, c.Status())
		assert.Equal(t, "Here is your generated video", c.StatusMessage())
		assert.Equal(t, "https://s/v-7.m3u8", c.Payload().(mediapod.VideoData).StreamURL)

		// start, action, two progress polls, saved file, publish
		require.Len(t, updates, 6)
		assert.Equal(t, "Video generation processing..", updates[3].Message.Content[0].StatusMessage())
		assert.Equal(t, 1, countPublishes(updates))
		for i := 1; i < len(updates); i++ {
			assert.Greater(t, updates[i].Seq, updates[i-1].Seq)
		}
	})

	t.Run("FailureAfterUpload", func(t *testing.T) {
		gen := &fakeVideo{data: []byte("mp4")}
		catalog := &fakeCatalog{media: tools.Media{ID: "v-8"}}
		resp, messages, updates := run(t, NewVideoGeneration(gen, catalog, t.TempDir()), params)

		assert.Equal(t, mediapod.AgentStatusError, resp.Status)
		require.Len(t, catalog.uploads, 1)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0].Actions, "Uploaded generated video to VideoDB with Video ID v-8")
		c := messages[0].Content[0]
		assert.Equal(t, mediapod.StatusError, c.Status())
		assert.Equal(t, "Failed to generate video", c.StatusMessage())
		assert.Equal(t, mediapod.StatusError, updates[len(updates)-1].Message.Content[0].Status())
		assert.Equal(t, 1, countPublishes(updates))
	})

	t.Run("UploadFailure", func(t *testing.T) {
		gen := &fakeVideo{data: []byte("mp4")}
		catalog := &fakeCatalog{err: errors.New("collection not found")}
		resp, messages, _ := run(t, NewVideoGeneration(gen, catalog, t.TempDir()), params)

		assert.Equal(t, mediapod.AgentStatusError, resp.Status)
		assert.Contains(t, resp.Message, "collection not found")
		assert.Equal(t, "Failed to generate video", messages[0].Content[0].StatusMessage())
	})

	t.Run("UnsupportedEngine", func(t *testing.T) {
		resp, messages, _ := run(t, NewVideoGeneration(&fakeVideo{}, &fakeCatalog{}, t.TempDir()), mediapod.Params{
			"engine":        "sora",
			"job_type":      "text_to_video",
			"text_to_video": map[string]any{"prompt": "x"},
		})
		assert.Equal(t, mediapod.AgentStatusError, resp.Status)
		assert.Empty(t, messages)
	})
}
