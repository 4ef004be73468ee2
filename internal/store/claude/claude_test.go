package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

const (
	sessionID = "2823d1df-720a-4c31-ac55-ae8ba726721f"
	agentID   = "acompact-69d537"
)

var mainLog = strings.Join([]string{
	`{"type":"summary","summary":"Refactor the parser","leafUuid":"u4"}`,
	`{"timestamp":"2026-02-23T00:00:00Z","type":"user","sessionId":"` + sessionID + `","uuid":"u1","message":{"role":"user","content":"hello"}}`,
	`{"timestamp":"2026-02-23T00:00:01Z","type":"assistant","sessionId":"` + sessionID + `","uuid":"u2","parentUuid":"u1","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Task","input":{"description":"explore repo"}},{"type":"text","text":"delegating"}]}}`,
	`{"timestamp":"2026-02-23T00:00:02Z","type":"user","sessionId":"` + sessionID + `","uuid":"u3","toolUseResult":{"agentId":"` + agentID + `","status":"completed"},"message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"done"}]}}`,
	`{"timestamp":"2026-02-23T00:00:03Z","type":"user","sessionId":"` + sessionID + `","isMeta":true,"message":{"role":"user","content":"<command-name>/clear</command-name>"}}`,
	`{broken`,
	`{"timestamp":"2026-02-23T00:00:04Z","type":"system","subtype":"compact_boundary","sessionId":"` + sessionID + `","content":"Conversation compacted"}`,
	`{"timestamp":"2026-02-23T00:00:05Z","type":"user","sessionId":"` + sessionID + `","isCompactSummary":true,"message":{"role":"user","content":"Summary: parser refactor in progress"}}`,
	`{"timestamp":"2026-02-23T00:00:06Z","type":"assistant","sessionId":"` + sessionID + `","uuid":"u4","message":{"role":"assistant","content":[{"type":"text","text":"world"}]}}`,
	`{"timestamp":"2026-02-23T00:00:07Z","type":"user","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"inline1","uuid":"s1","message":{"role":"user","content":"inline task"}}`,
	`{"timestamp":"2026-02-23T00:00:08Z","type":"assistant","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"inline1","parentUuid":"s1","message":{"role":"assistant","content":"inline done"}}`,
}, "\n") + "\n"

var agentLog = strings.Join([]string{
	`{"timestamp":"2026-02-23T00:00:10Z","type":"user","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"` + agentID + `","uuid":"w1","message":{"role":"user","content":"Warmup"}}`,
	`{"timestamp":"2026-02-23T00:00:10Z","type":"assistant","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"` + agentID + `","parentUuid":"w1","message":{"role":"assistant","content":"ready"}}`,
	`{"timestamp":"2026-02-23T00:00:11Z","type":"user","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"` + agentID + `","message":{"role":"user","content":"agent task"}}`,
	`{"timestamp":"2026-02-23T00:00:12Z","type":"assistant","sessionId":"` + sessionID + `","isSidechain":true,"agentId":"` + agentID + `","message":{"role":"assistant","content":"agent done"}}`,
}, "\n") + "\n"

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func setupTree(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	project := filepath.Join(root, "projects", "-workspace-demo")
	mainPath := writeFile(t, filepath.Join(project, sessionID+".jsonl"), mainLog)
	writeFile(t, filepath.Join(project, sessionID, "subagents", "agent-"+agentID+".jsonl"), agentLog)
	return root, mainPath
}

func TestReadMainThread(t *testing.T) {
	root, mainPath := setupTree(t)

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, mainPath, conv.Source)
	assert.Equal(t, SourceFilename, conv.SourceKind)
	assert.Equal(t, mainLog, string(conv.Raw))

	var roles []models.Role
	var texts []string
	for _, m := range conv.Messages {
		roles = append(roles, m.Role)
		texts = append(texts, m.Content)
	}
	assert.Equal(t, []models.Role{models.RoleUser, models.RoleAssistant, models.RoleCompactMarker, models.RoleAssistant}, roles)
	assert.Equal(t, []string{"hello", "delegating", "Summary: parser refactor in progress", "world"}, texts)

	require.Len(t, conv.Children, 2)
	assert.Equal(t, agentID, conv.Children[0].ID)
	assert.Equal(t, models.StatusCompleted, conv.Children[0].Status)
	assert.Equal(t, models.StatusSourceChild, conv.Children[0].StatusSource)
	assert.Equal(t, "inline1", conv.Children[1].ID)
	assert.Equal(t, mainPath, conv.Children[1].Path)

	assert.Contains(t, strings.Join(conv.Warnings, "\n"), "malformed")
}

func TestCompactBoundaryWithoutSummary(t *testing.T) {
	root := t.TempDir()
	log := strings.Join([]string{
		`{"timestamp":"2026-02-23T00:00:00Z","type":"user","sessionId":"` + sessionID + `","message":{"role":"user","content":"before"}}`,
		`{"timestamp":"2026-02-23T00:00:01Z","type":"system","subtype":"compact_boundary","sessionId":"` + sessionID + `"}`,
		`{"timestamp":"2026-02-23T00:00:02Z","type":"user","sessionId":"` + sessionID + `","message":{"role":"user","content":"after"}}`,
	}, "\n")
	writeFile(t, filepath.Join(root, "projects", "p", sessionID+".jsonl"), log)

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, models.RoleCompactMarker, conv.Messages[1].Role)
	assert.Empty(t, conv.Messages[1].Content)
}

func TestResolveOrder(t *testing.T) {
	root := t.TempDir()
	indexed := writeFile(t, filepath.Join(root, "elsewhere", "renamed.jsonl"), mainLog)
	writeFile(t, filepath.Join(root, "projects", "p", "sessions-index.json"),
		fmt.Sprintf(`{"entries":[{"sessionId":%q,"fullPath":%q}]}`, sessionID, indexed))
	writeFile(t, filepath.Join(root, "projects", "p", sessionID+".jsonl"), mainLog)

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, SourceSessionsIndex, conv.SourceKind)
	assert.Equal(t, indexed, conv.Source)
}

func TestResolveByHeaderScan(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, filepath.Join(root, "projects", "p", "unrelated-name.jsonl"), mainLog)

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, SourceHeaderScan, conv.SourceKind)
	assert.Equal(t, path, conv.Source)
}

func TestReadNotFound(t *testing.T) {
	_, err := New(t.TempDir()).Read(context.Background(), sessionID)
	assert.ErrorIs(t, err, xerr.ErrConversationNotFound)
}

func TestReadChildFromSubagentFile(t *testing.T) {
	root, _ := setupTree(t)

	detail, err := New(root).ReadChild(context.Background(), sessionID, agentID)
	require.NoError(t, err)
	assert.True(t, detail.Validated)
	assert.Equal(t, models.StatusCompleted, detail.Child.Status)

	var texts []string
	for _, m := range detail.Excerpt {
		texts = append(texts, m.Content)
	}
	assert.Equal(t, []string{"agent task", "agent done"}, texts)

	require.Len(t, detail.Lifecycle, 2)
	assert.Equal(t, "task", detail.Lifecycle[0].Event)
	assert.Equal(t, "explore repo", detail.Lifecycle[0].Detail)
	assert.Equal(t, "status=completed", detail.Lifecycle[1].Detail)
}

func TestReadChildInline(t *testing.T) {
	root, _ := setupTree(t)

	detail, err := New(root).ReadChild(context.Background(), sessionID, "inline1")
	require.NoError(t, err)
	require.Len(t, detail.Excerpt, 2)
	assert.Equal(t, "inline task", detail.Excerpt[0].Content)
	assert.Equal(t, "inline done", detail.Excerpt[1].Content)
	assert.Equal(t, models.StatusCompleted, detail.Child.Status)
}

func TestReadChildMissing(t *testing.T) {
	root, _ := setupTree(t)

	detail, err := New(root).ReadChild(context.Background(), sessionID, "nope")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, detail.Child.Status)
	assert.Empty(t, detail.Excerpt)
}

func TestList(t *testing.T) {
	root, _ := setupTree(t)
	writeFile(t, filepath.Join(root, "projects", "p", "11111111-2222-3333-4444-555555555555.jsonl"),
		`{"type":"file-history-snapshot","messageId":"m"}`+"\n")

	listing, err := New(root).List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, sessionID, listing.Items[0].ID)
	assert.Equal(t, "Refactor the parser", listing.Items[0].Title)

	listing, err = New(root).List(context.Background(), store.ListOptions{Keyword: "inline", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, listing.Items)
}
