package agents

import (
	"context"
	"fmt"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/tools"
)

const UploadName = "upload"

type UploadParams struct {
	CollectionID string `json:"collection_id" jsonschema:"required" jsonschema_description:"Collection ID to upload the content."`
	Source       string `json:"source" jsonschema:"required" jsonschema_description:"URL or local path to upload the content."`
	SourceType   string `json:"source_type" jsonschema:"required,enum=url,enum=local_file" jsonschema_description:"Type of given source."`
	MediaType    string `json:"media_type,omitempty" jsonschema:"enum=video,enum=audio,enum=image" jsonschema_description:"Type of media to upload, default is video."`
	Name         string `json:"name,omitempty" jsonschema_description:"Name of the content to upload, optional parameter."`
}

// Upload adds a video, audio or image to a collection.
type Upload struct {
	catalog tools.MediaCatalog
}

func NewUpload(catalog tools.MediaCatalog) *Upload {
	return &Upload{catalog: catalog}
}

func (a *Upload) Name() string { return UploadName }

func (a *Upload) Description() string {
	return "This agent uploads the media content to VideoDB. " +
		"This agent takes a source which can be a URL or local path of the media content. " +
		"The media content can be a video, audio, or image file."
}

func (a *Upload) Parameters() map[string]any {
	return mediapod.GenerateSchema[UploadParams]()
}

func (a *Upload) Run(ctx context.Context, task *mediapod.Task, params mediapod.Params) (mediapod.AgentResponse, error) {
	p, err := mediapod.DecodeParams[UploadParams](params)
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	sourceType := tools.SourceType(p.SourceType)
	if sourceType != tools.SourceURL && sourceType != tools.SourceLocalFile {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("Invalid source type %s", p.SourceType)
	}
	mediaType := tools.MediaType(p.MediaType)
	if mediaType == "" {
		mediaType = tools.MediaVideo
	}
	contentType, ok := uploadContentTypes[mediaType]
	if !ok {
		return mediapod.AgentResponse{}, mediapod.NewValidationError("Invalid media type %s", p.MediaType)
	}

	content, err := task.Start(ctx, contentType, fmt.Sprintf("Uploading %s...", mediaType))
	if err != nil {
		return mediapod.AgentResponse{}, err
	}
	failed := fmt.Sprintf("Error in uploading %s", mediaType)

	media, err := a.catalog.Upload(ctx, tools.UploadRequest{
		CollectionID: p.CollectionID,
		Source:       p.Source,
		SourceType:   sourceType,
		MediaType:    mediaType,
		Name:         p.Name,
	})
	if err != nil {
		_ = content.Fail(failed)
		return mediapod.AgentResponse{}, err
	}
	if err := content.Succeed(fmt.Sprintf("%s uploaded successfully", media.Name), uploadPayload(media)); err != nil {
		return mediapod.AgentResponse{}, &mediapod.EmptyResultError{Op: "upload", StatusMessage: failed, Message: err.Error()}
	}
	task.Logger().Info("Upload finished", "media_type", mediaType, "id", media.ID)
	return mediapod.AgentResponse{
		Status:  mediapod.AgentStatusSuccess,
		Message: "Upload successful",
		Data:    uploadData(media),
	}, nil
}

var uploadContentTypes = map[tools.MediaType]mediapod.ContentType{
	tools.MediaVideo: mediapod.ContentTypeVideo,
	tools.MediaAudio: mediapod.ContentTypeAudio,
	tools.MediaImage: mediapod.ContentTypeImage,
}

func uploadPayload(m tools.Media) mediapod.Payload {
	switch m.MediaType {
	case tools.MediaAudio:
		return mediapod.AudioData{URL: m.URL, ID: m.ID, CollectionID: m.CollectionID, Name: m.Name, Length: m.Length}
	case tools.MediaImage:
		return mediapod.ImageData{URL: m.URL, ID: m.ID, CollectionID: m.CollectionID, Name: m.Name}
	default:
		return mediapod.VideoData{
			StreamURL:    m.StreamURL,
			PlayerURL:    m.PlayerURL,
			ID:           m.ID,
			CollectionID: m.CollectionID,
			Name:         m.Name,
			Description:  m.Description,
			ThumbnailURL: m.ThumbnailURL,
			Length:       m.Length,
		}
	}
}

func uploadData(m tools.Media) map[string]any {
	data := map[string]any{
		"id":            m.ID,
		"collection_id": m.CollectionID,
		"name":          m.Name,
	}
	switch m.MediaType {
	case tools.MediaVideo:
		data["stream_url"] = m.StreamURL
		data["player_url"] = m.PlayerURL
		data["thumbnail_url"] = m.ThumbnailURL
		data["description"] = m.Description
		data["length"] = m.Length
	case tools.MediaAudio:
		data["length"] = m.Length
	case tools.MediaImage:
		data["url"] = m.URL
	}
	return data
}
