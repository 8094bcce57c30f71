package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID           = "pNInz6obpgDQGcFmaJgB"
	defaultSpeechModel       = "eleven_multilingual_v2"
	defaultSpeechFormat      = "mp3_44100_128"
	maxSoundEffectDuration   = 20.0
	defaultPromptInfluence   = 0.3
)

var _ AudioGenerator = &ElevenLabs{}

// ElevenLabs is the AudioGenerator backed by the ElevenLabs HTTP API.
type ElevenLabs struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewElevenLabs creates the generator. baseURL may be empty to use the public API.
func NewElevenLabs(apiKey, baseURL string, logger *slog.Logger) *ElevenLabs {
	if baseURL == "" {
		baseURL = DefaultElevenLabsBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabs{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

func (g *ElevenLabs) TextToSpeech(ctx context.Context, req SpeechRequest, w io.Writer) error {
	const op = "elevenlabs.text_to_speech"
	if req.Text == "" {
		return &Error{Op: op, Kind: KindInvalid, Err: errors.New("text is empty")}
	}
	cfg := req.Config
	voiceID := orDefault(cfg.VoiceID, DefaultVoiceID)
	body := map[string]any{
		"text":     req.Text,
		"model_id": orDefault(cfg.ModelID, defaultSpeechModel),
		"voice_settings": voiceSettings{
			Stability:       deref(cfg.Stability, 0),
			SimilarityBoost: deref(cfg.SimilarityBoost, 1),
			Style:           deref(cfg.Style, 0),
			UseSpeakerBoost: deref(cfg.UseSpeakerBoost, true),
		},
	}
	if cfg.LanguageCode != "" {
		body["language_code"] = cfg.LanguageCode
	}
	query := url.Values{"output_format": {orDefault(cfg.OutputFormat, defaultSpeechFormat)}}
	endpoint := g.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?" + query.Encode()

	start := time.Now()
	if err := stream(ctx, g.client, op, http.MethodPost, endpoint, g.header(), body, w); err != nil {
		return err
	}
	g.logger.Info("Speech generated", "voice_id", voiceID, "duration", time.Since(start))
	return nil
}

func (g *ElevenLabs) SoundEffect(ctx context.Context, req SoundEffectRequest, w io.Writer) error {
	const op = "elevenlabs.sound_effect"
	if req.Prompt == "" {
		return &Error{Op: op, Kind: KindInvalid, Err: errors.New("prompt is empty")}
	}
	body := map[string]any{
		"text":             req.Prompt,
		"prompt_influence": defaultPromptInfluence,
	}
	if req.PromptInfluence > 0 {
		body["prompt_influence"] = req.PromptInfluence
	}
	if req.Duration > 0 {
		body["duration_seconds"] = min(req.Duration, maxSoundEffectDuration)
	}

	start := time.Now()
	if err := stream(ctx, g.client, op, http.MethodPost, g.baseURL+"/v1/sound-generation", g.header(), body, w); err != nil {
		return err
	}
	g.logger.Info("Sound effect generated", "duration", time.Since(start))
	return nil
}

func (g *ElevenLabs) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "audio/mpeg")
	if g.apiKey != "" {
		h.Set("xi-api-key", g.apiKey)
	}
	return h
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func deref[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
