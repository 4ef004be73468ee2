package gemini

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

const (
	sessionID = "29d207db-ca7e-40ba-87f7-e14c9de60613"
	childID   = "3a1b2c3d-ca7e-40ba-87f7-e14c9de60613"
	project   = "0c0d7b04c22749f3687ea60b66949fd32bcea2551d4349bf72346a9ccc9a9ba4"
)

func writeSession(t *testing.T, root, hash, name, id, parent, userText string) string {
	t.Helper()
	path := filepath.Join(root, "tmp", hash, "chats", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	parentField := ""
	if parent != "" {
		parentField = fmt.Sprintf(`"parentSessionId": %q,`, parent)
	}
	content := fmt.Sprintf(`{
  "sessionId": %q,
  %s
  "projectHash": %q,
  "startTime": "2026-01-08T11:55:12.379Z",
  "lastUpdated": "2026-01-08T12:31:14.881Z",
  "messages": [
    { "type": "user", "content": %q },
    { "type": "info", "content": "Request cancelled." },
    { "type": "gemini", "content": [{"text": "done"}] }
  ]
}`, id, parentField, hash, userText)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadFromChats(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root, project, "session-2026-01-08T11-55-29-29d207db.json", sessionID, "", "hello")

	conv, err := New(root).Read(context.Background(), "29D207DB-CA7E-40BA-87F7-E14C9DE60613")
	require.NoError(t, err)
	assert.Equal(t, sessionID, conv.ID)
	assert.Equal(t, path, conv.Source)
	assert.Equal(t, SourceChats, conv.SourceKind)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "done", conv.Messages[1].Content)
	assert.Empty(t, conv.Children)
}

func TestSelectsLatestWhenMultipleMatch(t *testing.T) {
	root := t.TempDir()
	first := writeSession(t, root, "hash-a", "session-a.json", sessionID, "", "first")
	second := writeSession(t, root, "hash-b", "session-b.json", sessionID, "", "second")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(first, old, old))

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, second, conv.Source)
	require.NotEmpty(t, conv.Warnings)
	assert.Contains(t, conv.Warnings[0], "multiple matches found (2)")
}

func TestReadNotFound(t *testing.T) {
	_, err := New(t.TempDir()).Read(context.Background(), sessionID)
	require.ErrorIs(t, err, xerr.ErrConversationNotFound)
	assert.Contains(t, err.Error(), "thread not found")
}

func TestReadFallsBackToPromptLog(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "tmp", project, "logs.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	require.NoError(t, os.WriteFile(logPath, []byte(`[
  {"sessionId":"`+sessionID+`","messageId":0,"type":"user","message":"first prompt","timestamp":"2026-01-08T11:55:12.379Z"},
  {"sessionId":"other","messageId":0,"type":"user","message":"unrelated","timestamp":"2026-01-08T11:56:12.379Z"},
  {"sessionId":"`+sessionID+`","messageId":1,"type":"user","message":"second prompt","timestamp":"2026-01-08T11:57:12.379Z"}
]`), 0644))

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, SourceLogs, conv.SourceKind)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "second prompt", conv.Messages[1].Content)
	assert.Len(t, conv.Warnings, 1)
}

func TestChildren(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, project, "session-main.json", sessionID, "", "hello")
	childPath := writeSession(t, root, project, "session-child.json", childID, sessionID, "subtask")
	writeSession(t, root, "other-project", "session-stray.json", "4a1b2c3d-ca7e-40ba-87f7-e14c9de60613", sessionID, "elsewhere")

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, conv.Children, 1)
	child := conv.Children[0]
	assert.Equal(t, childID, child.ID)
	assert.Equal(t, childPath, child.Path)
	assert.Equal(t, models.StatusCompleted, child.Status)
	assert.Equal(t, models.StatusSourceChild, child.StatusSource)

	detail, err := New(root).ReadChild(context.Background(), sessionID, childID)
	require.NoError(t, err)
	assert.True(t, detail.Validated)
	assert.Equal(t, sessionID, detail.Conversation.ParentID)
	require.Len(t, detail.Excerpt, 2)
	assert.Equal(t, "subtask", detail.Excerpt[0].Content)
}

func TestReadChildMissing(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, project, "session-main.json", sessionID, "", "hello")

	detail, err := New(root).ReadChild(context.Background(), sessionID, childID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, detail.Child.Status)
	assert.Equal(t, models.StatusSourceInferred, detail.Child.StatusSource)
	assert.Nil(t, detail.Conversation)
}

func TestListSkipsChildren(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, project, "session-main.json", sessionID, "", "hello parser")
	writeSession(t, root, project, "session-child.json", childID, sessionID, "subtask")

	listing, err := New(root).List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, sessionID, listing.Items[0].ID)
	assert.Equal(t, "hello parser", listing.Items[0].Title)

	listing, err = New(root).List(context.Background(), store.ListOptions{Keyword: "PARSER", Limit: 10})
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.NotEmpty(t, listing.Items[0].MatchedPreview)
}

const missingID = "5b1b2c3d-ca7e-40ba-87f7-e14c9de60613"

func TestResumeHintsFromPromptLog(t *testing.T) {
	layouts := map[string]string{
		"array": `[
  {"sessionId":"` + sessionID + `","messageId":0,"type":"user","message":"hello main","timestamp":"2026-01-08T11:59:09.195Z"},
  {"sessionId":"` + missingID + `","messageId":0,"type":"user","message":"/resume","timestamp":"2026-01-08T12:00:09.195Z"},
  {"sessionId":"` + childID + `","messageId":0,"type":"user","message":"/resume","timestamp":"2026-01-08T12:11:44.907Z"}
]`,
		"ndjson": `{"sessionId":"` + sessionID + `","messageId":0,"type":"user","message":"hello main","timestamp":"2026-01-08T11:59:09.195Z"}
{"sessionId":"` + missingID + `","messageId":0,"type":"user","message":"/resume","timestamp":"2026-01-08T12:00:09.195Z"}
{"sessionId":"` + childID + `","messageId":0,"type":"user","message":"/resume","timestamp":"2026-01-08T12:11:44.907Z"}`,
	}
	for name, logs := range layouts {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeSession(t, root, project, "session-main.json", sessionID, "", "hello main")
			writeSession(t, root, project, "session-child.json", childID, sessionID, "/resume")
			require.NoError(t, os.WriteFile(filepath.Join(root, "tmp", project, "logs.json"), []byte(logs), 0644))

			conv, err := New(root).Read(context.Background(), sessionID)
			require.NoError(t, err)
			require.Len(t, conv.Children, 2)
			assert.Equal(t, childID, conv.Children[0].ID)
			assert.Equal(t, models.StatusCompleted, conv.Children[0].Status)
			assert.Equal(t, missingID, conv.Children[1].ID)
			assert.Equal(t, models.StatusNotFound, conv.Children[1].Status)
			require.Len(t, conv.Warnings, 1)
			assert.Contains(t, conv.Warnings[0], "relation hint references child_session_id="+missingID)

			detail, err := New(root).ReadChild(context.Background(), sessionID, missingID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusNotFound, detail.Child.Status)
			require.Len(t, detail.Lifecycle, 1)
			assert.Equal(t, "resume", detail.Lifecycle[0].Event)
			assert.NotEmpty(t, detail.Relation)

			detail, err = New(root).ReadChild(context.Background(), sessionID, childID)
			require.NoError(t, err)
			assert.True(t, detail.Validated)
			require.Len(t, detail.Lifecycle, 2)
			assert.Equal(t, "session_start", detail.Lifecycle[0].Event)
			assert.Equal(t, "resume", detail.Lifecycle[1].Event)
		})
	}
}
