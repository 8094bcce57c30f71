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
	VideoGenerationName = "video_generation"

	JobTextToVideo = "text_to_video"

	statusVideoFailed = "Failed to generate video"
)

type TextToVideoParams struct {
	Prompt      string            `json:"prompt" jsonschema:"required" jsonschema_description:"The text prompt to generate the video."`
	Duration    float64           `json:"duration,omitempty" jsonschema_description:"The duration of the video in seconds."`
	KlingConfig tools.VideoConfig `json:"kling_config,omitempty" jsonschema_description:"Config to use when kling engine is used."`
}

type VideoGenerationParams struct {
	CollectionID string             `json:"collection_id" jsonschema:"required" jsonschema_description:"Collection ID to store the video."`
	Engine       string             `json:"engine,omitempty" jsonschema:"enum=kling" jsonschema_description:"The video generation engine to use."`
	JobType      string             `json:"job_type" jsonschema:"required,enum=text_to_video" jsonschema_description:"The type of video generation to perform."`
	TextToVideo  *TextToVideoParams `json:"text_to_video,omitempty"`
}

// VideoGeneration renders a video from a prompt and stores it in the collection.
type VideoGeneration struct {
	generator    tools.VideoGenerator
	catalog      tools.MediaCatalog
	downloadsDir string
}

func NewVideoGeneration(generator tools.VideoGenerator, catalog tools.MediaCatalog, downloadsDir string) *VideoGeneration {
	return &VideoGeneration{generator: generator, catalog: catalog, downloadsDir: downloadsDir}
}

func (a *VideoGeneration) Name() string { return VideoGenerationName }

func (a *VideoGeneration) Description() string {
	return "Agent designed to generate videos from text prompts"
}

func (a *VideoGeneration) Parameters() map[string]any {
	return mediapod.GenerateSchema[VideoGenerationParams]()
}

func (a *VideoGeneration) FailureStatus(error) string { return statusVideoFailed }

func (a *VideoGeneration) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[VideoGenerationParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if p.Engine != "" && p.Engine != "kling" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("%s not supported", p.Engine)
	}
	if p.JobType != JobTextToVideo {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("%s not supported", p.JobType)
	}
	if p.TextToVideo == nil || p.TextToVideo.Prompt == "" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("Prompt is required for video generation")
	}

	content, err := task.Start(ctx, mediapod.ContentTypeVideo, "Processing...")
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := task.Action(fmt.Sprintf("Generating video using <b>kling</b> for prompt <i>%s</i>", p.TextToVideo.Prompt)); err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := task.PushUpdate(ctx); err != nil {
		return mediapod.AgentResponse{}, err
	}

	req := tools.TextToVideoRequest{
		Prompt:   p.TextToVideo.Prompt,
		Duration: p.TextToVideo.Duration,
		Config:   p.TextToVideo.KlingConfig,
		Progress: func(status string) {
			// narration only; a dropped update does not fail the job
			if content.SetStatusMessage("Video generation "+status+"..") == nil {
				_ = task.PushUpdate(ctx)
			}
		},
	}
	path, err := generateFile(a.downloadsDir, "video_"+p.JobType+"_*.mp4", func(w io.Writer) error {
		return a.generator.TextToVideo(ctx, req, w)
	})
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	defer os.Remove(path)

	media, err := uploadGenerated(ctx, task, a.catalog, p.CollectionID, path, tools.MediaVideo)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := task.Action(fmt.Sprintf("Uploaded generated video to VideoDB with Video ID %s", media.ID)); err != nil {
		return mediapod.AgentResponse{}, err
	}
	if err := content.Succeed("Here is your generated video", uploadPayload(media)); err != nil {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{Op: "upload", StatusMessage: statusVideoFailed, Message: err.Error()}
	}
	return mediapod.AgentResponse{
		Status:  mediapod.AgentStatusSuccess,
		Message: fmt.Sprintf("Generated video ID %s", media.ID),
		Data:    map[string]any{"video_id": media.ID, "video_stream_url": media.StreamURL},
	}, nil
}
