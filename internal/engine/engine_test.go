package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/xurl/internal/config"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store/pi"
	"github.com/vanpelt/xurl/internal/uri"
	"github.com/vanpelt/xurl/internal/xerr"
)

const piSession = "12cb4c19-2774-4de4-a0d0-9fa32fbae29f"

func piLine(id, parent, ts, role, text string) string {
	parentField := `null`
	if parent != "" {
		parentField = `"` + parent + `"`
	}
	return `{"type":"message","id":"` + id + `","parentId":` + parentField + `,"timestamp":"` + ts +
		`","message":{"role":"` + role + `","content":[{"type":"text","text":"` + text + `"}]}}` + "\n"
}

func setup(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "sessions", "--tmp-project--", "2026-02-23T13-00-12-780Z_"+piSession+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	content := `{"type":"session","version":3,"id":"` + piSession + `","timestamp":"2026-02-23T13:00:12.780Z","cwd":"/tmp/project"}` + "\n" +
		piLine("a1b2c3d4", "", "2026-02-23T13:00:13.000Z", "user", "fix the flaky test") +
		piLine("b1b2c3d4", "a1b2c3d4", "2026-02-23T13:00:14.000Z", "assistant", "the timer is shared")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return New(&config.RuntimeConfig{PiRoot: root}), path
}

func TestResolveReadsMainThread(t *testing.T) {
	e, path := setup(t)

	res, err := e.Resolve(context.Background(), uri.MustParse("agents://pi/"+piSession+"?mode=x"))
	require.NoError(t, err)
	require.NotNil(t, res.Conversation)
	assert.Equal(t, path, res.Conversation.Source)
	assert.Len(t, res.Conversation.Messages, 2)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"ignored query parameter `mode`: not supported when reading a thread"}, res.Ignored)
}

func TestResolveReadsBranchEntry(t *testing.T) {
	e, _ := setup(t)

	res, err := e.Resolve(context.Background(), uri.MustParse("agents://pi/"+piSession+"/b1b2c3d4"))
	require.NoError(t, err)
	require.NotNil(t, res.Detail)
	assert.Nil(t, res.Conversation)
	assert.Equal(t, "b1b2c3d4", res.Detail.Child.ID)
}

func TestResolveNotFound(t *testing.T) {
	e, _ := setup(t)

	_, err := e.Resolve(context.Background(), uri.MustParse("agents://pi/72b3a4c1-2774-4de4-a0d0-9fa32fbae29f"))
	assert.ErrorIs(t, err, xerr.ErrConversationNotFound)
}

func TestDiscover(t *testing.T) {
	e, _ := setup(t)

	res, err := e.Resolve(context.Background(), uri.MustParse("agents://pi?q=%20FLAKY%20&limit=5&sort=asc"))
	require.NoError(t, err)
	require.NotNil(t, res.List)
	assert.Equal(t, "FLAKY", res.List.Query.Keyword)
	assert.Equal(t, 5, res.List.Query.Limit)
	assert.Equal(t, []string{"sort"}, res.List.Query.IgnoredParams)
	assert.Equal(t, []string{"ignored query parameter `sort`: not supported for discovery"}, res.Ignored)
	require.Len(t, res.List.Items, 1)
	assert.Equal(t, piSession, res.List.Items[0].ID)
}

func TestDiscoverEmptyStore(t *testing.T) {
	e := New(&config.RuntimeConfig{CodexRoot: t.TempDir()})

	res, err := e.Resolve(context.Background(), uri.MustParse("agents://codex"))
	require.NoError(t, err)
	assert.NotNil(t, res.List.Items)
	assert.Empty(t, res.List.Items)
}

func TestParseListQuery(t *testing.T) {
	q, warnings, err := ParseListQuery(nil)
	require.NoError(t, err)
	assert.Equal(t, models.ListQuery{Limit: 10}, q)
	assert.Empty(t, warnings)

	q, _, err = ParseListQuery(uri.Query{{Key: "limit", Value: "0", HasValue: true}})
	require.NoError(t, err)
	assert.Equal(t, 0, q.Limit)

	for _, bad := range []string{"-1", "ten", ""} {
		_, _, err = ParseListQuery(uri.Query{{Key: "limit", Value: bad, HasValue: true}})
		assert.ErrorIs(t, err, xerr.ErrInvalidURI, bad)
	}
}

func TestNewAdapter(t *testing.T) {
	for _, d := range provider.All() {
		a, err := NewAdapter(d.Kind, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, d.Kind, a.Kind())
	}
	_, err := NewAdapter(provider.Kind("cursor"), "")
	assert.ErrorIs(t, err, xerr.ErrUnknownProvider)
}

func TestPiSessionsLocate(t *testing.T) {
	e, path := setup(t)

	var locator interface {
		Locate(context.Context, string) (string, error)
	} = e.PiSessions()
	got, err := locator.Locate(context.Background(), piSession)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.IsType(t, &pi.Store{}, locator)
}

func TestFollowEmitsAppendedMessages(t *testing.T) {
	e, path := setup(t)
	FollowDebounce = 20 * time.Millisecond

	res, err := e.Resolve(context.Background(), uri.MustParse("agents://pi/"+piSession))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []models.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- e.Follow(ctx, res, func(msgs []models.Message) error {
			got <- msgs
			return nil
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(piLine("c1b2c3d4", "b1b2c3d4", "2026-02-23T13:00:15.000Z", "user", "use a fake clock"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case msgs := <-got:
		require.Len(t, msgs, 1)
		assert.Equal(t, "use a fake clock", strings.TrimSpace(msgs[0].Content))
		assert.Equal(t, models.RoleUser, msgs[0].Role)
	case <-ctx.Done():
		t.Fatal("no messages emitted before timeout")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestFollowNeedsSource(t *testing.T) {
	e := New(&config.RuntimeConfig{})
	err := e.Follow(context.Background(), &Result{Ref: uri.MustParse("agents://pi")}, nil)
	assert.ErrorIs(t, err, xerr.ErrUnsupportedOperation)
}
