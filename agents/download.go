package agents

import (
	"context"
	"fmt"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

const (
	DownloadName = "download"

	statusDownloadFailed = "Download failed"
)

type DownloadParams struct {
	StreamLink string `json:"stream_link" jsonschema:"required" jsonschema_description:"The URL of the video stream to download."`
	Name       string `json:"name,omitempty" jsonschema_description:"Optional name for the downloaded file."`
}

// Download resolves the download URL of a generated stream.
type Download struct {
	catalog tools.MediaCatalog
}

func NewDownload(catalog tools.MediaCatalog) *Download {
	return &Download{catalog: catalog}
}

func (a *Download) Name() string { return DownloadName }

func (a *Download) Description() string {
	return "Get the download URLs of the VideoDB generated streams."
}

func (a *Download) Parameters() map[string]any {
	return mediapod.GenerateSchema[DownloadParams]()
}

func (a *Download) FailureStatus(error) string { return statusDownloadFailed }

func (a *Download) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[DownloadParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if p.StreamLink == "" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("'stream_link' is required for download.")
	}

	content, err := task.Start(ctx, mediapod.ContentTypeText, "Downloading..")
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	result, err := a.catalog.Download(ctx, p.StreamLink, p.Name)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if !result.Done() {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{
			Op:            "download",
			StatusMessage: statusDownloadFailed,
			Message:       fmt.Sprintf("Download failed with status %q", result.Status),
		}
	}
	link := fmt.Sprintf("<a href='%s' target='_blank'>%s</a>", result.DownloadURL, result.Name)
	if err := content.Succeed("Here is the download link", mediapod.TextData{Text: link}); err != nil {
		return mediapod.AgentResponse{}, err
	}
	return mediapod.AgentResponse{
		Status:  mediapod.AgentStatusSuccess,
		Message: "Download successful.",
		Data: map[string]any{
			"status":       result.Status,
			"download_url": result.DownloadURL,
			"name":         result.Name,
		},
	}, nil
}
