package mediapod

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a single Content.
type Status string

const (
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

func (s Status) valid() bool {
	switch s {
	case StatusProgress, StatusSuccess, StatusError:
		return true
	}
	return false
}

// ContentType is the discriminator of the Content union.
type ContentType string

const (
	ContentTypeText          ContentType = "text"
	ContentTypeImage         ContentType = "image"
	ContentTypeVideo         ContentType = "video"
	ContentTypeAudio         ContentType = "audio"
	ContentTypeSearchResults ContentType = "search_results"
)

// Payload is the kind specific part of a Content. The set of implementations is closed.
type Payload interface {
	ContentType() ContentType
	validate() error
	clone() Payload
}

type TextData struct {
	Text string
}

func (TextData) ContentType() ContentType { return ContentTypeText }
func (TextData) validate() error          { return nil }
func (d TextData) clone() Payload         { return d }

type ImageData struct {
	URL          string `json:"url"`
	ID           string `json:"id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	Name         string `json:"name,omitempty"`
}

func (ImageData) ContentType() ContentType { return ContentTypeImage }
func (d ImageData) clone() Payload         { return d }
func (d ImageData) validate() error {
	if d.URL == "" {
		return fmt.Errorf("%w: image url is empty", ErrEmptyPayload)
	}
	return nil
}

type VideoData struct {
	StreamURL    string  `json:"stream_url"`
	PlayerURL    string  `json:"player_url,omitempty"`
	ID           string  `json:"id,omitempty"`
	CollectionID string  `json:"collection_id,omitempty"`
	Name         string  `json:"name,omitempty"`
	Description  string  `json:"description,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Length       float64 `json:"length,omitempty"`
}

func (VideoData) ContentType() ContentType { return ContentTypeVideo }
func (d VideoData) clone() Payload         { return d }
func (d VideoData) validate() error {
	if d.StreamURL == "" {
		return fmt.Errorf("%w: video stream_url is empty", ErrEmptyPayload)
	}
	return nil
}

type AudioData struct {
	URL          string  `json:"url,omitempty"`
	ID           string  `json:"id,omitempty"`
	CollectionID string  `json:"collection_id,omitempty"`
	Name         string  `json:"name,omitempty"`
	Length       float64 `json:"length,omitempty"`
}

func (AudioData) ContentType() ContentType { return ContentTypeAudio }
func (d AudioData) clone() Payload         { return d }
func (d AudioData) validate() error {
	if d.URL == "" && d.ID == "" {
		return fmt.Errorf("%w: audio has neither url nor id", ErrEmptyPayload)
	}
	return nil
}

// SearchResult is one matched video in a SearchResultsData payload.
type SearchResult struct {
	VideoID   string  `json:"video_id"`
	StreamURL string  `json:"stream_url,omitempty"`
	Text      string  `json:"text,omitempty"`
	Start     float64 `json:"start,omitempty"`
	End       float64 `json:"end,omitempty"`
}

type SearchResultsData struct {
	Videos []SearchResult `json:"videos"`
}

func (SearchResultsData) ContentType() ContentType { return ContentTypeSearchResults }
func (SearchResultsData) validate() error          { return nil }
func (d SearchResultsData) clone() Payload {
	d.Videos = append([]SearchResult(nil), d.Videos...)
	return d
}

// Content is one renderable unit of agent output. Its status moves from
// progress to exactly one terminal value and is frozen from then on.
type Content struct {
	Type      ContentType
	AgentName string

	status        Status
	statusMessage string
	payload       Payload

	// strict turns illegal transitions into panics instead of errors.
	strict bool
}

// NewContent returns a Content of the given type in progress.
func NewContent(contentType ContentType, agentName, statusMessage string) *Content {
	return &Content{
		Type:          contentType,
		AgentName:     agentName,
		status:        StatusProgress,
		statusMessage: statusMessage,
	}
}

func (c *Content) Status() Status        { return c.status }
func (c *Content) StatusMessage() string { return c.statusMessage }
func (c *Content) Payload() Payload      { return c.payload }

// SetStatusMessage updates the narration of a Content that is still in progress.
func (c *Content) SetStatusMessage(msg string) error {
	if c.status.Terminal() {
		return c.reject(c.status)
	}
	c.statusMessage = msg
	return nil
}

// SetPayload attaches a payload while the Content is still in progress.
func (c *Content) SetPayload(p Payload) error {
	if c.status.Terminal() {
		return c.reject(c.status)
	}
	if err := c.checkType(p); err != nil {
		return err
	}
	c.payload = p
	return nil
}

// Succeed moves the Content to success. Image and video contents need a
// non-empty payload, either passed here or set earlier; otherwise nothing changes.
func (c *Content) Succeed(msg string, p Payload) error {
	if c.status.Terminal() {
		return c.reject(StatusSuccess)
	}
	if p == nil {
		p = c.payload
	}
	if p == nil {
		switch c.Type {
		case ContentTypeImage, ContentTypeVideo, ContentTypeAudio:
			return fmt.Errorf("%w: %s content has no payload", ErrEmptyPayload, c.Type)
		}
	} else {
		if err := c.checkType(p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
	}
	c.payload = p
	c.status = StatusSuccess
	c.statusMessage = msg
	return nil
}

// Fail moves the Content to error.
func (c *Content) Fail(msg string) error {
	if c.status.Terminal() {
		return c.reject(StatusError)
	}
	c.status = StatusError
	c.statusMessage = msg
	return nil
}

func (c *Content) checkType(p Payload) error {
	if p.ContentType() != c.Type {
		return fmt.Errorf("%w: %s payload on %s content", ErrPayloadType, p.ContentType(), c.Type)
	}
	return nil
}

func (c *Content) reject(to Status) error {
	err := &TransitionError{AgentName: c.AgentName, Type: c.Type, From: c.status, To: to}
	if c.strict {
		panic(err)
	}
	return err
}

func (c *Content) clone() *Content {
	out := *c
	if c.payload != nil {
		out.payload = c.payload.clone()
	}
	return &out
}

type contentJSON struct {
	Type          ContentType        `json:"type"`
	AgentName     string             `json:"agent_name"`
	Status        Status             `json:"status"`
	StatusMessage string             `json:"status_message"`
	Text          *string            `json:"text,omitempty"`
	Image         *ImageData         `json:"image,omitempty"`
	Video         *VideoData         `json:"video,omitempty"`
	Audio         *AudioData         `json:"audio,omitempty"`
	SearchResults *SearchResultsData `json:"search_results,omitempty"`
}

func (c *Content) MarshalJSON() ([]byte, error) {
	out := contentJSON{
		Type:          c.Type,
		AgentName:     c.AgentName,
		Status:        c.status,
		StatusMessage: c.statusMessage,
	}
	switch p := c.payload.(type) {
	case nil:
	case TextData:
		out.Text = &p.Text
	case ImageData:
		out.Image = &p
	case VideoData:
		out.Video = &p
	case AudioData:
		out.Audio = &p
	case SearchResultsData:
		out.SearchResults = &p
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}
	return json.Marshal(out)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var in contentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Status.valid() {
		return fmt.Errorf("unknown content status %q", in.Status)
	}
	var p Payload
	switch in.Type {
	case ContentTypeText:
		if in.Text != nil {
			p = TextData{Text: *in.Text}
		}
	case ContentTypeImage:
		if in.Image != nil {
			p = *in.Image
		}
	case ContentTypeVideo:
		if in.Video != nil {
			p = *in.Video
		}
	case ContentTypeAudio:
		if in.Audio != nil {
			p = *in.Audio
		}
	case ContentTypeSearchResults:
		if in.SearchResults != nil {
			p = *in.SearchResults
		}
	default:
		return fmt.Errorf("unknown content type %q", in.Type)
	}
	*c = Content{
		Type:          in.Type,
		AgentName:     in.AgentName,
		status:        in.Status,
		statusMessage: in.StatusMessage,
		payload:       p,
	}
	return nil
}
