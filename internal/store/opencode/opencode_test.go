package opencode

import (
	"context"
	"database/sql"
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
	sessionID = "ses_43a90e3adffejRgrTdlJa48CtE"
	childID   = "ses_43a90e3adffejRgrTdlJa48Ch1"
	emptyID   = "ses_43a90e3adffejRgrTdlJa48Ch2"
	otherID   = "ses_43a90e3adffejRgrTdlJa48Ot1"
)

const schemaSQL = `
CREATE TABLE session (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	title TEXT,
	time_created INTEGER,
	time_updated INTEGER
);
CREATE TABLE message (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	time_created INTEGER,
	data TEXT NOT NULL
);
CREATE TABLE part (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	time_created INTEGER,
	data TEXT NOT NULL
);`

type fixture struct {
	t  *testing.T
	db *sql.DB
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(root, "opencode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	return &fixture{t: t, db: db}
}

func (f *fixture) exec(query string, args ...interface{}) {
	f.t.Helper()
	_, err := f.db.Exec(query, args...)
	require.NoError(f.t, err)
}

func (f *fixture) session(id, parent, title string, created, updated int64) {
	var p interface{}
	if parent != "" {
		p = parent
	}
	f.exec(`INSERT INTO session (id, parent_id, title, time_created, time_updated) VALUES (?, ?, ?, ?, ?)`,
		id, p, title, created, updated)
}

func (f *fixture) message(session, id string, created int64, data string) {
	f.exec(`INSERT INTO message (id, session_id, time_created, data) VALUES (?, ?, ?, ?)`, id, session, created, data)
}

func (f *fixture) part(session, message, id string, created int64, data string) {
	f.exec(`INSERT INTO part (id, message_id, session_id, time_created, data) VALUES (?, ?, ?, ?, ?)`,
		id, message, session, created, data)
}

func seed(t *testing.T, root string) {
	f := newFixture(t, root)
	f.session(sessionID, "", "Fix the flaky test", 1769839000000, 1769839010000)
	f.message(sessionID, "msg_1", 1769839001000, `{"role":"user","time":{"created":1769839001000}}`)
	f.part(sessionID, "msg_1", "prt_1", 1769839001000, `{"type":"text","text":"why does this fail?"}`)
	f.message(sessionID, "msg_2", 1769839002000, `{"role":"assistant","time":{"created":1769839002000,"completed":1769839003000}}`)
	f.part(sessionID, "msg_2", "prt_2", 1769839002000, `{"type":"reasoning","text":"look at the race"}`)
	f.part(sessionID, "msg_2", "prt_3", 1769839002001, `{"type":"tool","tool":"bash","state":{}}`)
	f.part(sessionID, "msg_2", "prt_4", 1769839002002, `{"type":"text","text":"the timer is shared"}`)
	f.message(sessionID, "msg_3", 1769839004000, `not json`)

	f.session(childID, sessionID, "explore subagent", 1769839002500, 1769839006000)
	f.message(childID, "msg_c1", 1769839005000, `{"role":"user"}`)
	f.part(childID, "msg_c1", "prt_c1", 1769839005000, `{"type":"text","text":"find the timer"}`)
	f.message(childID, "msg_c2", 1769839006000, `{"role":"assistant","time":{"created":1769839006000,"completed":1769839006500}}`)
	f.part(childID, "msg_c2", "prt_c2", 1769839006000, `{"type":"text","text":"found it"}`)

	f.session(emptyID, sessionID, "never started", 1769839007000, 1769839007000)

	f.session(otherID, "", "Unrelated work", 1769838000000, 1769838000000)
	f.message(otherID, "msg_o1", 1769838000000, `{"role":"user"}`)
	f.part(otherID, "msg_o1", "prt_o1", 1769838000000, `{"type":"text","text":"bump deps"}`)
}

func TestRead(t *testing.T) {
	root := t.TempDir()
	seed(t, root)

	conv, err := New(root).Read(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, SourceSqlite, conv.SourceKind)
	assert.Equal(t, filepath.Join(root, "opencode.db"), conv.Source)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "why does this fail?", conv.Messages[0].Content)
	assert.Equal(t, "look at the race\n\nthe timer is shared", conv.Messages[1].Content)

	require.Len(t, conv.Children, 2)
	assert.Equal(t, childID, conv.Children[0].ID)
	assert.Equal(t, models.StatusCompleted, conv.Children[0].Status)
	assert.Equal(t, models.StatusSourceChild, conv.Children[0].StatusSource)
	assert.Equal(t, emptyID, conv.Children[1].ID)
	assert.Equal(t, models.StatusPendingInit, conv.Children[1].Status)

	warnings := strings.Join(conv.Warnings, "\n")
	assert.Contains(t, warnings, "skipped message id=msg_3: invalid json payload")
	assert.Contains(t, warnings, "child session_id="+emptyID+" has no materialized messages in sqlite")

	raw := string(conv.Raw)
	assert.True(t, strings.HasPrefix(raw, `{"sessionId":"`+sessionID+`","type":"session"}`))
	assert.Contains(t, raw, `"text":"the timer is shared"`)
	assert.Equal(t, 3, strings.Count(raw, "\n"))
}

func TestReadNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := New(root).Read(context.Background(), sessionID)
	assert.ErrorIs(t, err, xerr.ErrConversationNotFound)

	seed(t, root)
	_, err = New(root).Read(context.Background(), "ses_missing")
	assert.ErrorIs(t, err, xerr.ErrConversationNotFound)

	_, err = New(root).Read(context.Background(), "not-a-session")
	assert.ErrorIs(t, err, xerr.ErrInvalidURI)
}

func TestReadAllMessagesCorrupt(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, root)
	f.session(sessionID, "", "broken", 1769839000000, 1769839010000)
	f.message(sessionID, "m1", 1769839001000, `not json`)
	f.message(sessionID, "m2", 1769839002000, `{broken`)
	f.session(childID, sessionID, "broken child", 1769839003000, 1769839003000)
	f.message(childID, "m3", 1769839004000, `[]`)

	s := New(root)
	_, err := s.Read(context.Background(), sessionID)
	assert.ErrorIs(t, err, xerr.ErrCorruptStore)
	assert.ErrorContains(t, err, "skipped message id=m1")

	_, err = s.ReadChild(context.Background(), sessionID, childID)
	assert.ErrorIs(t, err, xerr.ErrCorruptStore)

	listing, err := s.List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, listing.Items)
	require.Len(t, listing.Warnings, 1)
	assert.Contains(t, listing.Warnings[0], "skipped session_id="+sessionID)
}

func TestReadChild(t *testing.T) {
	root := t.TempDir()
	seed(t, root)
	s := New(root)

	detail, err := s.ReadChild(context.Background(), sessionID, childID)
	require.NoError(t, err)
	assert.True(t, detail.Validated)
	assert.Equal(t, []string{RelationEvidence}, detail.Relation)
	assert.Equal(t, models.StatusCompleted, detail.Child.Status)
	require.Len(t, detail.Excerpt, 2)
	assert.Equal(t, "found it", detail.Excerpt[1].Content)
	require.Len(t, detail.Lifecycle, 1)
	assert.Equal(t, "session_created", detail.Lifecycle[0].Event)

	detail, err = s.ReadChild(context.Background(), sessionID, emptyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingInit, detail.Child.Status)
	assert.Empty(t, detail.Excerpt)
	assert.Contains(t, detail.Warnings, noMessagesWarning(emptyID))

	detail, err = s.ReadChild(context.Background(), sessionID, otherID)
	require.NoError(t, err)
	assert.False(t, detail.Validated)
	assert.Equal(t, models.StatusNotFound, detail.Child.Status)
	assert.Contains(t, strings.Join(detail.Warnings, "\n"), "parent_id is")

	detail, err = s.ReadChild(context.Background(), sessionID, "ses_nope")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, detail.Child.Status)
}

func TestList(t *testing.T) {
	root := t.TempDir()
	listing, err := New(root).List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, listing.Items)

	seed(t, root)
	listing, err = New(root).List(context.Background(), store.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listing.Items, 2)
	assert.Equal(t, sessionID, listing.Items[0].ID)
	assert.Equal(t, "Fix the flaky test", listing.Items[0].Title)
	assert.Equal(t, int64(1769839010000), listing.Items[0].UpdatedAt.UnixMilli())
	assert.Equal(t, otherID, listing.Items[1].ID)

	listing, err = New(root).List(context.Background(), store.ListOptions{Keyword: "DEPS", Limit: 10})
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, otherID, listing.Items[0].ID)
	assert.Contains(t, listing.Items[0].MatchedPreview, "bump deps")
}
