package mediapod

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test_director.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	storage := newTestSQLite(t)

	session := SessionRecord{
		SessionID:    "test-session",
		VideoID:      "m-1",
		CollectionID: "c-1",
		CreatedAt:    100,
		UpdatedAt:    100,
		Metadata:     map[string]any{"test": "value"},
	}

	t.Run("CreateSession", func(t *testing.T) {
		require.NoError(t, storage.CreateSession(ctx, session))

		// a second insert with the same id is ignored
		dup := session
		dup.VideoID = "m-2"
		require.NoError(t, storage.CreateSession(ctx, dup))

		got, err := storage.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "m-1", got.VideoID)
		assert.Equal(t, "c-1", got.CollectionID)
		assert.Equal(t, "value", got.Metadata["test"])
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		_, err := storage.GetSession(ctx, "non-existent-session")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("SaveMessage", func(t *testing.T) {
		video := NewContent(ContentTypeVideo, "stream_video", "Loading stream for the video..")
		require.NoError(t, video.Succeed("Here is your stream", VideoData{StreamURL: "https://stream/x.m3u8", ID: "m-1"}))
		failed := NewContent(ContentTypeImage, "image_generation", "Generating image..")
		require.NoError(t, failed.Fail("Error in generating image."))

		input := MessageRecord{
			SessionID: session.SessionID, ConvID: "conv-1", MsgID: "msg-1", MsgType: MsgTypeInput,
			Content: []*Content{textContent(t, "play it")}, Status: StatusSuccess, CreatedAt: 101, UpdatedAt: 101,
		}
		output := MessageRecord{
			SessionID: session.SessionID, ConvID: "conv-1", MsgID: "msg-2", MsgType: MsgTypeOutput,
			Agents: []string{"stream_video"}, Actions: []string{"Processing for given video_id.."},
			Content: []*Content{video, failed}, Status: StatusError, CreatedAt: 101, UpdatedAt: 102,
		}
		require.NoError(t, storage.SaveMessage(ctx, input))
		require.NoError(t, storage.SaveMessage(ctx, output))

		// saving again replaces the row in place
		output.Actions = append(output.Actions, "Done")
		require.NoError(t, storage.SaveMessage(ctx, output))

		messages, err := storage.GetMessages(ctx, session.SessionID)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "msg-1", messages[0].MsgID)
		assert.Equal(t, MsgTypeInput, messages[0].MsgType)

		got := messages[1]
		assert.Equal(t, MsgTypeOutput, got.MsgType)
		assert.Equal(t, StatusError, got.Status)
		assert.Equal(t, []string{"Processing for given video_id..", "Done"}, got.Actions)
		require.Len(t, got.Content, 2)
		assert.Equal(t, StatusSuccess, got.Content[0].Status())
		assert.Equal(t, VideoData{StreamURL: "https://stream/x.m3u8", ID: "m-1"}, got.Content[0].Payload())
		assert.Equal(t, StatusError, got.Content[1].Status())
		assert.Equal(t, "Error in generating image.", got.Content[1].StatusMessage())

		rec, err := storage.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Greater(t, rec.UpdatedAt, session.UpdatedAt)
	})

	t.Run("Context", func(t *testing.T) {
		empty, err := storage.GetContext(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Empty(t, empty.Messages)

		rec := ContextRecord{
			SessionID: session.SessionID,
			Messages:  []ContextMessage{UserMessage("play it"), ToolMessage("{}", "call-1")},
			CreatedAt: 100,
			UpdatedAt: 103,
		}
		require.NoError(t, storage.SaveContext(ctx, rec))
		got, err := storage.GetContext(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, rec.Messages, got.Messages)
	})

	t.Run("ListSessions", func(t *testing.T) {
		require.NoError(t, storage.CreateSession(ctx, SessionRecord{SessionID: "older", CreatedAt: 1, UpdatedAt: 1}))
		sessions, err := storage.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, session.SessionID, sessions[0].SessionID)
		assert.Equal(t, "older", sessions[1].SessionID)
	})

	t.Run("DeleteSession", func(t *testing.T) {
		require.NoError(t, storage.DeleteSession(ctx, session.SessionID))
		_, err := storage.GetSession(ctx, session.SessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		messages, err := storage.GetMessages(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		_, err := storage.db.Exec(`DROP TABLE context_messages`)
		require.NoError(t, err)
		require.NoError(t, storage.HealthCheck(ctx))
		_, err = storage.GetContext(ctx, "older")
		assert.NoError(t, err)
	})
}

func textContent(t *testing.T, text string) *Content {
	t.Helper()
	c := NewContent(ContentTypeText, "", "")
	require.NoError(t, c.Succeed("", TextData{Text: text}))
	return c
}
