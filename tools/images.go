package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultImageModel = "dall-e-3"

var _ ImageGenerator = &OpenAIImages{}

// OpenAIImages generates images with the OpenAI images endpoint.
type OpenAIImages struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIImages creates the generator. baseURL may be empty to use the
// default OpenAI endpoint.
func NewOpenAIImages(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIImages {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultImageModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIImages{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

func (g *OpenAIImages) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	const op = "openai.generate_image"
	if prompt == "" {
		return Image{}, &Error{Op: op, Kind: KindInvalid, Err: errors.New("prompt is empty")}
	}
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Image{}, &Error{Op: op, Kind: kindForStatus(apiErr.StatusCode), Err: err}
		}
		return Image{}, wrapTransport(op, err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
		g.logger.Warn("Image generation returned no image", "model", g.model)
		return Image{}, nil
	}
	return Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
