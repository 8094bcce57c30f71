package mediapod

// SessionState is the part of a session consumed by the upstream planner.
type SessionState struct {
	Context *MessageList
}

func NewSessionState(msgs ...ContextMessage) *SessionState {
	return &SessionState{
		Context: NewMessageList(msgs...),
	}
}
