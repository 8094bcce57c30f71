// Package agents holds the media agents run by a mediapod.Pod.
package agents

import (
	"context"
	"fmt"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

const (
	StreamVideoName = "stream_video"

	statusLoadingStream = "Loading stream for the video.."
	statusStreamReady   = "Here is your stream"
)

type StreamVideoParams struct {
	CollectionID string `json:"collection_id,omitempty" jsonschema_description:"The collection_id where given video_id is available."`
	VideoID      string `json:"video_id,omitempty" jsonschema_description:"The id of the video for which the video player is required."`
	StreamURL    string `json:"stream_url,omitempty" jsonschema_description:"m3u8 stream_url for which the video player is required."`
}

// StreamVideo plays a catalog video or a given m3u8 stream in the video player.
type StreamVideo struct {
	catalog tools.MediaCatalog
}

func NewStreamVideo(catalog tools.MediaCatalog) *StreamVideo {
	return &StreamVideo{catalog: catalog}
}

func (a *StreamVideo) Name() string { return StreamVideoName }

func (a *StreamVideo) Description() string {
	return "Agent to play the requested video or given m3u8 stream_url by getting the video player"
}

func (a *StreamVideo) Parameters() map[string]any {
	return mediapod.GenerateSchema[StreamVideoParams]()
}

func (a *StreamVideo) FailureStatus(err error) string {
	return fmt.Sprintf("Error in loading stream: %v", err)
}

func (a *StreamVideo) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[StreamVideoParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if p.VideoID == "" && p.StreamURL == "" {
		return mediapod.AgentResponse{}, mediapod.NewValidationError(
			"Either 'video_id' or 'stream_url' is required for getting the stream in video player.")
	}

	action := "Processing for given video_id.."
	if p.VideoID == "" {
		action = "Processing given stream url.."
	}
	if err := task.Action(action); err != nil {
		return mediapod.AgentResponse{}, err
	}

	// a given stream needs no lookup
	if p.StreamURL != "" {
		if _, err := task.Complete(mediapod.ContentTypeVideo, statusStreamReady, mediapod.VideoData{StreamURL: p.StreamURL}); err != nil {
			return mediapod.AgentResponse{}, err
		}
		return completed(a.Name(), map[string]any{"stream_url": p.StreamURL}), nil
	}

	content, err := task.Start(ctx, mediapod.ContentTypeVideo, statusLoadingStream)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	video, err := a.catalog.GetVideo(ctx, p.CollectionID, p.VideoID)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	if video.StreamURL == "" {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{
			Op:            "get_video",
			StatusMessage: "Error in loading stream: video has no stream url",
			Message:       fmt.Sprintf("Agent failed with error: video %s has no stream url", p.VideoID),
		}
	}
	err = content.Succeed(statusStreamReady, mediapod.VideoData{
		StreamURL:    video.StreamURL,
		PlayerURL:    video.PlayerURL,
		ID:           video.ID,
		CollectionID: video.CollectionID,
		Name:         video.Name,
		Description:  video.Description,
		ThumbnailURL: video.ThumbnailURL,
		Length:       video.Length,
	})
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	task.Logger().Info("Stream loaded", "video_id", video.ID)
	return completed(a.Name(), map[string]any{"stream_url": video.StreamURL}), nil
}

func completed(agentName string, data map[string]any) mediapod.AgentResponse {
	return mediapod.AgentResponse{
		Status:  mediapod.AgentStatusSuccess,
		Message: fmt.Sprintf("Agent %s completed successfully.", agentName),
		Data:    data,
	}
}
