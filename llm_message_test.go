package mediapod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageListOpenAI(t *testing.T) {
	ml := NewMessageList(DeveloperMessage("You narrate media tasks."), UserMessage("play abc"))
	ml.Add(AssistantMessage("Here is your stream"), ToolMessage(`{"ok":true}`, "call-1"))
	require.Equal(t, 4, ml.Len())

	params, err := ml.OpenAI()
	require.NoError(t, err)
	require.Len(t, params, 4)
	assert.NotNil(t, params[0].OfDeveloper)
	assert.NotNil(t, params[1].OfUser)
	assert.NotNil(t, params[2].OfAssistant)
	require.NotNil(t, params[3].OfTool)
	assert.Equal(t, "call-1", params[3].OfTool.ToolCallID)

	ml.Add(ContextMessage{Role: "narrator", Content: "?"})
	_, err = ml.OpenAI()
	assert.ErrorContains(t, err, "message 4")
}
