// Package opencode reads OpenCode sessions from its SQLite database,
// <data>/opencode/opencode.db. Messages and their parts are stored as JSON
// in the message and part tables; subagent sessions point at their parent
// through session.parent_id.
package opencode

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// SourceSqlite is the resolution source for database sessions.
const SourceSqlite = "opencode:sqlite"

// RelationEvidence is recorded when a child's parent_id names the parent.
const RelationEvidence = "opencode sqlite relation validated via session.parent_id"

// partFields are the part types rendered as prose.
var partFields = map[string]string{
	"text":      "text",
	"reasoning": "text",
}

// Store reads sessions from an OpenCode data directory.
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the OpenCode data directory.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Opencode)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Opencode
}

func (s *Store) dbPath() string {
	return filepath.Join(s.root, "opencode.db")
}

// conn is an open database plus its probed schema.
type conn struct {
	db     *sql.DB
	schema schema
	path   string
}

func (s *Store) open(id string) (*conn, error) {
	path := s.dbPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, xerr.NotFound(string(provider.Opencode), id, path)
	}
	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindCorruptStore, err, "failed to open opencode database %s", path)
	}
	return &conn{db: db, schema: probe(db), path: path}, nil
}

func (c *conn) Close() error {
	return c.db.Close()
}

func (c *conn) wrap(err error) error {
	return xerr.Wrap(xerr.KindCorruptStore, err, "failed to query opencode database %s", c.path)
}

// session is a loaded session and its normalized conversation.
type session struct {
	row      *sessionRow
	messages []row
	conv     *models.Conversation
}

// load builds the conversation for one session row.
func (c *conn) load(r *sessionRow) (*session, error) {
	messages, warnings, err := fetch(c.db, messagesQuery, r.id, "message")
	if err != nil {
		return nil, c.wrap(err)
	}
	if len(messages) == 0 && len(warnings) > 0 {
		return nil, xerr.New(xerr.KindCorruptStore,
			"session_id=%s in %s has no readable messages: %s", r.id, c.path, warnings[0])
	}
	parts, partWarnings, err := fetch(c.db, partsQuery, r.id, "part")
	if err != nil {
		return nil, c.wrap(err)
	}
	warnings = append(warnings, partWarnings...)

	byMessage := make(map[string][]map[string]interface{})
	for _, p := range parts {
		byMessage[p.messageID] = append(byMessage[p.messageID], p.data)
	}

	b := conversation.New(provider.Opencode, r.id).
		Raw(materialize(r.id, messages, byMessage)).
		Source(c.path, SourceSqlite)
	if r.parentID != "" {
		b.Parent(r.parentID)
	}
	for _, w := range warnings {
		b.Warn("%s", w)
	}
	b.Touch(conversation.Timestamp(r.created))
	b.Touch(conversation.Timestamp(r.updated))

	for _, m := range messages {
		ts := conversation.Timestamp(jsonl.Get(m.data, "time", "created"))
		if ts == nil {
			ts = conversation.Timestamp(m.created)
		}
		msgParts := make([]interface{}, 0, len(byMessage[m.id]))
		for _, p := range byMessage[m.id] {
			msgParts = append(msgParts, p)
		}
		if hasPart(byMessage[m.id], "compaction") {
			b.Compact(conversation.TypedText(msgParts, partFields), ts)
			continue
		}
		b.AddRecord(jsonl.String(m.data, "role"), conversation.TypedText(msgParts, partFields), ts)
	}
	return &session{row: r, messages: messages, conv: b.Build()}, nil
}

func hasPart(parts []map[string]interface{}, kind string) bool {
	for _, p := range parts {
		if jsonl.String(p, "type") == kind {
			return true
		}
	}
	return false
}

// status infers a session's state from its last message.
func (s *session) status() string {
	if len(s.messages) == 0 {
		return models.StatusPendingInit
	}
	last := s.messages[len(s.messages)-1].data
	switch {
	case jsonl.Get(last, "error") != nil:
		return models.StatusErrored
	case jsonl.String(last, "role") == "assistant" && jsonl.Get(last, "time", "completed") != nil:
		return models.StatusCompleted
	default:
		return models.StatusRunning
	}
}

func (s *session) link(parentID string) models.ChildLink {
	return models.ChildLink{
		ID:           s.row.id,
		Kind:         models.ChildSubagent,
		ParentID:     parentID,
		Status:       s.status(),
		StatusSource: models.StatusSourceChild,
		LastUpdate:   s.conv.UpdatedAt,
	}
}

func noMessagesWarning(id string) string {
	return fmt.Sprintf("child session_id=%s has no materialized messages in sqlite", id)
}

// Read implements store.Adapter.
func (s *Store) Read(ctx context.Context, id string) (*models.Conversation, error) {
	id, err := s.desc.ValidateSessionID(id)
	if err != nil {
		return nil, err
	}
	c, err := s.open(id)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	r, err := getSession(c.db, c.schema, id)
	if err != nil {
		return nil, c.wrap(err)
	}
	if r == nil {
		return nil, xerr.NotFound(string(provider.Opencode), id, c.path)
	}
	main, err := c.load(r)
	if err != nil {
		return nil, err
	}

	conv := main.conv
	children, err := childSessions(c.db, c.schema, id)
	if err != nil {
		return nil, c.wrap(err)
	}
	for _, cr := range children {
		child, err := c.load(cr)
		if err != nil {
			conv.Warnings = append(conv.Warnings, fmt.Sprintf("failed to read child session_id=%s: %v", cr.id, err))
			continue
		}
		if len(child.messages) == 0 {
			conv.Warnings = append(conv.Warnings, noMessagesWarning(cr.id))
		}
		conv.Children = append(conv.Children, child.link(id))
	}
	return conv, nil
}

// ReadChild implements store.Adapter.
func (s *Store) ReadChild(ctx context.Context, parentID, childID string) (*models.SubagentDetail, error) {
	parentID, err := s.desc.ValidateSessionID(parentID)
	if err != nil {
		return nil, err
	}
	childID, err = s.desc.ValidateChildID(childID)
	if err != nil {
		return nil, err
	}
	c, err := s.open(parentID)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	parent, err := getSession(c.db, c.schema, parentID)
	if err != nil {
		return nil, c.wrap(err)
	}
	if parent == nil {
		return nil, xerr.NotFound(string(provider.Opencode), parentID, c.path)
	}

	r, err := getSession(c.db, c.schema, childID)
	if err != nil {
		return nil, c.wrap(err)
	}
	if r == nil {
		return store.MissingChild(provider.Opencode, parentID, childID, nil), nil
	}
	if r.parentID != parentID {
		missing := store.MissingChild(provider.Opencode, parentID, childID, nil)
		missing.Warnings = append(missing.Warnings, fmt.Sprintf(
			"session_id=%s exists but its parent_id is %q", childID, r.parentID))
		return missing, nil
	}

	child, err := c.load(r)
	if err != nil {
		return nil, err
	}
	detail := &models.SubagentDetail{
		Provider:     string(provider.Opencode),
		MainID:       parentID,
		Child:        child.link(parentID),
		Excerpt:      store.Excerpt(child.conv.Messages),
		Relation:     []string{RelationEvidence},
		Validated:    true,
		Conversation: child.conv,
		Warnings:     append([]string(nil), child.conv.Warnings...),
	}
	if r.created != 0 {
		detail.Lifecycle = append(detail.Lifecycle, models.LifecycleEvent{
			Timestamp: conversation.Timestamp(r.created),
			Event:     "session_created",
			Detail:    "child session row created with parent_id=" + parentID,
		})
	}
	if len(child.messages) == 0 {
		detail.Warnings = append(detail.Warnings, noMessagesWarning(childID))
	}
	return detail, nil
}

// List implements store.Adapter. Sessions share one database connection, so
// they are loaded in sequence rather than through store.Collect.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	listing := &store.Listing{}
	if _, err := os.Stat(s.dbPath()); os.IsNotExist(err) {
		return listing, nil
	}
	c, err := s.open("")
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rows, err := topLevel(c.db, c.schema)
	if err != nil {
		return nil, c.wrap(err)
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := s.desc.NormalizeSessionID(r.id); !ok {
			continue
		}
		sess, err := c.load(r)
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Sprintf("skipped session_id=%s: %v", r.id, err))
			continue
		}
		summary, ok := store.Summarize(sess.conv, strings.TrimSpace(r.title), opts.Keyword)
		if !ok {
			continue
		}
		// The database mtime says nothing about an individual session.
		if sess.conv.UpdatedAt != nil {
			summary.UpdatedAt = *sess.conv.UpdatedAt
		}
		listing.Items = append(listing.Items, summary)
	}
	store.Finalize(listing, opts)
	logger.Debugf("opencode: listed %d of %d session(s)", len(listing.Items), len(rows))
	return listing, nil
}
