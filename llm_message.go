package mediapod

import (
	"fmt"
	"sync"

	"github.com/openai/openai-go"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContextMessage is one entry of a session's context buffer. The core stores
// it verbatim; only the upstream planner interprets it.
type ContextMessage struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

func UserMessage(content string) ContextMessage {
	return ContextMessage{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) ContextMessage {
	return ContextMessage{Role: RoleAssistant, Content: content}
}

func DeveloperMessage(content string) ContextMessage {
	return ContextMessage{Role: RoleDeveloper, Content: content}
}

func ToolMessage(content, toolCallID string) ContextMessage {
	return ContextMessage{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// OpenAI converts the message to the chat completion param the planner sends.
func (m ContextMessage) OpenAI() (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case RoleSystem:
		return openai.SystemMessage(m.Content), nil
	case RoleDeveloper:
		return openai.DeveloperMessage(m.Content), nil
	case RoleUser:
		return openai.UserMessage(m.Content), nil
	case RoleAssistant:
		return openai.AssistantMessage(m.Content), nil
	case RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", m.Role)
	}
}

// MessageList holds an ordered collection of ContextMessage to preserve the history.
type MessageList struct {
	mu       sync.RWMutex
	messages []ContextMessage
}

func NewMessageList(msgs ...ContextMessage) *MessageList {
	return &MessageList{
		messages: append([]ContextMessage{}, msgs...),
	}
}

func (ml *MessageList) Len() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.messages)
}

// Add appends one or more new messages to the MessageList in a FIFO order.
func (ml *MessageList) Add(msgs ...ContextMessage) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.messages = append(ml.messages, msgs...)
}

// All returns a copy of the messages.
func (ml *MessageList) All() []ContextMessage {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return append([]ContextMessage{}, ml.messages...)
}

// OpenAI returns the history as chat completion params.
func (ml *MessageList) OpenAI() ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs := ml.All()
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, m := range msgs {
		p, err := m.OpenAI()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
