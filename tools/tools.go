// Package tools wraps the external media services used by agents. Each facade
// returns plain result structs or a *Error and never touches an output message.
package tools

import (
	"context"
	"io"
)

// MediaCatalog is the video platform: lookups, uploads and downloads.
type MediaCatalog interface {
	GetVideo(ctx context.Context, collectionID, videoID string) (Video, error)
	Upload(ctx context.Context, req UploadRequest) (Media, error)
	Download(ctx context.Context, streamLink, name string) (DownloadResult, error)
}

// ImageGenerator turns a prompt into an image. A zero Image with a nil error
// means the provider produced nothing.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// AudioGenerator synthesizes audio and streams the encoded bytes to w.
type AudioGenerator interface {
	TextToSpeech(ctx context.Context, req SpeechRequest, w io.Writer) error
	SoundEffect(ctx context.Context, req SoundEffectRequest, w io.Writer) error
}

// VideoGenerator renders a video from a prompt and streams the file to w. It
// may block until a remote job finishes.
type VideoGenerator interface {
	TextToVideo(ctx context.Context, req TextToVideoRequest, w io.Writer) error
}

type Video struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	CollectionID string  `json:"collection_id"`
	StreamURL    string  `json:"stream_url"`
	PlayerURL    string  `json:"player_url"`
	Length       float64 `json:"length"`
	ThumbnailURL string  `json:"thumbnail_url"`
}

type SourceType string

const (
	SourceURL       SourceType = "url"
	SourceLocalFile SourceType = "local_file"
)

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaImage MediaType = "image"
)

type UploadRequest struct {
	CollectionID string
	Source       string
	SourceType   SourceType
	MediaType    MediaType
	Name         string
}

// Media is an uploaded asset. Which fields are set depends on MediaType.
type Media struct {
	MediaType    MediaType `json:"media_type"`
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	StreamURL    string    `json:"stream_url,omitempty"`
	PlayerURL    string    `json:"player_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	URL          string    `json:"url,omitempty"`
	Length       float64   `json:"length,omitempty"`
}

type DownloadResult struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	Name        string `json:"name"`
}

// Done reports whether the download finished with a usable link.
func (d DownloadResult) Done() bool {
	return d.Status == "done" && d.DownloadURL != ""
}

type Image struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// SpeechConfig holds the optional voice settings of a text to speech job.
type SpeechConfig struct {
	ModelID         string   `json:"model_id,omitempty" jsonschema_description:"Identifier of the model that will be used."`
	VoiceID         string   `json:"voice_id,omitempty" jsonschema_description:"The ID of the voice to use for text-to-speech."`
	OutputFormat    string   `json:"output_format,omitempty" jsonschema:"enum=mp3_22050_32,enum=mp3_44100_32,enum=mp3_44100_64,enum=mp3_44100_96,enum=mp3_44100_128,enum=mp3_44100_192"`
	LanguageCode    string   `json:"language_code,omitempty" jsonschema_description:"ISO 639-1 language code enforced on the model."`
	Stability       *float64 `json:"stability,omitempty" jsonschema:"minimum=0,maximum=1"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty" jsonschema:"minimum=0,maximum=1"`
	Style           *float64 `json:"style,omitempty" jsonschema:"minimum=0,maximum=1"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
}

type SpeechRequest struct {
	Text   string
	Config SpeechConfig
}

type SoundEffectRequest struct {
	Prompt string
	// Duration in seconds; providers clamp it to what they support.
	Duration float64
	// PromptInfluence in [0, 1]; zero means the provider default.
	PromptInfluence float64
}

// VideoConfig holds the optional settings of a text to video job.
type VideoConfig struct {
	Model          string   `json:"model,omitempty" jsonschema:"enum=kling-v1"`
	NegativePrompt string   `json:"negative_prompt,omitempty" jsonschema:"maxLength=5200"`
	CfgScale       *float64 `json:"cfg_scale,omitempty" jsonschema:"minimum=0,maximum=1"`
	Mode           string   `json:"mode,omitempty" jsonschema:"enum=std,enum=pro"`
}

type TextToVideoRequest struct {
	Prompt   string
	Duration float64
	Config   VideoConfig
	// Progress, when set, receives the job status on every poll.
	Progress func(status string)
}
