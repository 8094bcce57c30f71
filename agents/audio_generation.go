package agents

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

const (
	AudioGenerationName = "audio_generation"

	JobTextToSpeech = "text_to_speech"
	JobSoundEffect  = "sound_effect"

	statusAudioFailed = "Failed to generate audio"
)

type SoundEffectParams struct {
	Prompt          string  `json:"prompt" jsonschema:"required" jsonschema_description:"The prompt to generate the sound effect."`
	Duration        float64 `json:"duration,omitempty" jsonschema_description:"The duration of the sound effect in seconds."`
	PromptInfluence float64 `json:"prompt_influence,omitempty" jsonschema:"minimum=0,maximum=1" jsonschema_description:"How closely the generation follows the prompt."`
}

type TextToSpeechParams struct {
	Text             string             `json:"text" jsonschema:"required" jsonschema_description:"The text to convert to speech."`
	ElevenLabsConfig tools.SpeechConfig `json:"elevenlabs_config,omitempty" jsonschema_description:"Config to use when elevenlabs engine is used."`
}

type AudioGenerationParams struct {
	CollectionID string              `json:"collection_id" jsonschema:"required" jsonschema_description:"The unique identifier of the collection to store the audio."`
	Engine       string              `json:"engine,omitempty" jsonschema:"enum=elevenlabs" jsonschema_description:"The engine to use."`
	JobType      string              `json:"job_type" jsonschema:"required,enum=text_to_speech,enum=sound_effect" jsonschema_description:"The type of audio generation to perform."`
	SoundEffect  *SoundEffectParams  `json:"sound_effect,omitempty"`
	TextToSpeech *TextToSpeechParams `json:"text_to_speech,omitempty"`
}

// AudioGeneration synthesizes speech or a sound effect and stores it in the collection.
type AudioGeneration struct {
	generator    tools.AudioGenerator
	catalog      tools.MediaCatalog
	downloadsDir string
}

func NewAudioGeneration(generator tools.AudioGenerator, catalog tools.MediaCatalog, downloadsDir string) *AudioGeneration {
	return &AudioGeneration{generator: generator, catalog: catalog, downloadsDir: downloadsDir}
}

func (a *AudioGeneration) Name() string { return AudioGenerationName }

func (a *AudioGeneration) Description() string {
	return "An agent designed to generate speech from text and sound effects from prompt"
}

func (a *AudioGeneration) Parameters() map[string]any {
	return mediapod.GenerateSchema[AudioGenerationParams]()
}

func (a *AudioGeneration) FailureStatus(error) string { return statusAudioFailed }

func (a *AudioGeneration) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[AudioGenerationParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if p.Engine != "" && p.Engine != "elevenlabs" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("%s not supported", p.Engine)
	}

	var (
		action   string
		generate func(w io.Writer) error
	)
	switch p.JobType {
	case JobSoundEffect:
		if p.SoundEffect == nil || p.SoundEffect.Prompt == "" {
			return mediapod.AgentResponse{}, mediapod.NewValidationError("Prompt is required for sound effect generation")
		}
		req := tools.SoundEffectRequest{
			Prompt:          p.SoundEffect.Prompt,
			Duration:        p.SoundEffect.Duration,
			PromptInfluence: p.SoundEffect.PromptInfluence,
		}
		action = fmt.Sprintf("Generating sound effect using <b>elevenlabs</b> for prompt <i>%s</i>", req.Prompt)
		generate = func(w io.Writer) error { return a.generator.SoundEffect(ctx, req, w) }
	case JobTextToSpeech:
		if p.TextToSpeech == nil || p.TextToSpeech.Text == "" {
			return mediapod.AgentResponse{}, mediapod.NewValidationError("Text is required for text to speech")
		}
		req := tools.SpeechRequest{Text: p.TextToSpeech.Text, Config: p.TextToSpeech.ElevenLabsConfig}
		action = fmt.Sprintf("Using <b>elevenlabs</b> to convert text <i>%s</i> to speech", req.Text)
		generate = func(w io.Writer) error { return a.generator.TextToSpeech(ctx, req, w) }
	default:
		return mediapod.AgentResponse{}, mediapod.NewValidationError("%s not supported", p.JobType)
	}

	if err := task.Action(action); err != nil {
		return mediapod.AgentResponse{}, err
	}
	content, err := task.Start(ctx, mediapod.ContentTypeAudio, "Generating audio..")
	if err != nil {
		return mediapod.AgentResponse{}, err
	}

	path, err := generateFile(a.downloadsDir, "audio_"+p.JobType+"_*.mp3", generate)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	defer os.Remove(path)

	media, err := uploadGenerated(ctx, task, a.catalog, p.CollectionID, path, tools.MediaAudio)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := task.Action(fmt.Sprintf("Uploaded generated audio to VideoDB with Audio ID %s", media.ID)); err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := content.Succeed("Here is your generated audio", uploadPayload(media)); err != nil {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{Op: "upload", StatusMessage: statusAudioFailed, Message: err.Error()}
	}
	return mediapod.AgentResponse{
		Status:  mediapod.AgentStatusSuccess,
		Message: fmt.Sprintf("Audio generated successfully, Generated Media audio id : %s", media.ID),
		Data:    map[string]any{"audio_id": media.ID},
	}, nil
}
