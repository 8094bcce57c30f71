package mediapod

type UpdateType string

const (
	UpdateTypePush    UpdateType = "push_update"
	UpdateTypePublish UpdateType = "publish"
	UpdateTypeEnd     UpdateType = "end"
)

// Update is one delivery on a session's observer channel. Observers should
// apply updates per MsgID in Seq order; a publish update supersedes every
// earlier update for the same message.
type Update struct {
	Type      UpdateType     `json:"type"`
	SessionID string         `json:"session_id"`
	MsgID     string         `json:"msg_id,omitempty"`
	Seq       uint64         `json:"seq,omitempty"`
	Message   *MessageRecord `json:"message,omitempty"`
}
