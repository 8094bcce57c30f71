package agents

import (
	"context"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

const (
	ImageGenerationName = "image_generation"

	statusGeneratingImage = "Generating image.."
	statusImageFailed     = "Error in generating image."
	statusImageReady      = "Here is your generated image"
)

type ImageGenerationParams struct {
	Prompt string `json:"prompt" jsonschema:"required" jsonschema_description:"Prompt for image generation."`
}

// ImageGeneration generates an image from a prompt.
type ImageGeneration struct {
	generator tools.ImageGenerator
}

func NewImageGeneration(generator tools.ImageGenerator) *ImageGeneration {
	return &ImageGeneration{generator: generator}
}

func (a *ImageGeneration) Name() string { return ImageGenerationName }

func (a *ImageGeneration) Description() string {
	return "Agent for image generation using GenAI models on given prompt and configurations."
}

func (a *ImageGeneration) Parameters() map[string]any {
	return mediapod.GenerateSchema[ImageGenerationParams]()
}

func (a *ImageGeneration) FailureStatus(error) string { return statusImageFailed }

func (a *ImageGeneration) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[ImageGenerationParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if p.Prompt == "" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("'prompt' is required for image generation.")
	}

	if err := task.Action("Processing prompt.."); err != nil {
		return mediapod.AgentResponse{}, err
	}
	content, err := task.Start(ctx, mediapod.ContentTypeImage, statusGeneratingImage)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	img, err := a.generator.GenerateImage(ctx, p.Prompt)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if img.URL == "" {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{
			Op:            "generate_image",
			StatusMessage: statusImageFailed,
			Message:       "Agent failed with error in image generation.",
		}
	}
	if err := content.Succeed(statusImageReady, mediapod.ImageData{URL: img.URL}); err != nil {
		return mediapod.AgentResponse{}, err
	}
	return completed(a.Name(), map[string]any{"image_url": img.URL}), nil
}
