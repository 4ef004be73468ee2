// Package gemini reads Gemini CLI chat sessions stored under
// <home>/tmp/<projectHash>/chats/session-*.json, falling back to the
// per-project logs.json prompt log when no chat file was saved.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Resolution sources.
const (
	SourceChats = "gemini:chats"
	SourceLogs  = "gemini:logs"
)

// session is the subset of a chat file xurl reads.
type session struct {
	SessionID       string      `json:"sessionId"`
	ParentSessionID string      `json:"parentSessionId"`
	ProjectHash     string      `json:"projectHash"`
	StartTime       interface{} `json:"startTime"`
	LastUpdated     interface{} `json:"lastUpdated"`
	Summary         string      `json:"summary"`
	Messages        []message   `json:"messages"`
}

type message struct {
	Type      string      `json:"type"`
	Content   interface{} `json:"content"`
	Timestamp interface{} `json:"timestamp"`
}

// logEntry is one prompt in <project>/logs.json. The log holds user turns
// only.
type logEntry struct {
	SessionID string `json:"sessionId"`
	MessageID int    `json:"messageId"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Store reads sessions under a Gemini CLI home (~/.gemini).
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the Gemini CLI home directory.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Gemini)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Gemini
}

func (s *Store) tmpRoot() string {
	return filepath.Join(s.root, "tmp")
}

func isChatFile(path string, d fs.DirEntry) bool {
	name := d.Name()
	return strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".json") &&
		filepath.Base(filepath.Dir(path)) == "chats"
}

func (s *Store) chatFiles() []string {
	return store.Walk(s.tmpRoot(), isChatFile)
}

// loaded is a decoded chat file.
type loaded struct {
	doc  session
	raw  []byte
	path string
}

func decode(path string) (*loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, xerr.New(xerr.KindCorruptStore, "session file is empty: %s", path)
	}
	var doc session
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerr.Wrap(xerr.KindCorruptStore, err, "invalid session document %s", path)
	}
	return &loaded{doc: doc, raw: raw, path: path}, nil
}

// peekID returns the sessionId of a chat file, or "" when unreadable.
func peekID(path string) string {
	l, err := decode(path)
	if err != nil {
		return ""
	}
	return l.doc.SessionID
}

// location is a resolved session.
type location struct {
	path     string
	source   string
	warnings []string
}

func (s *Store) locate(id string) (*location, error) {
	var matches []string
	for _, path := range s.chatFiles() {
		if strings.EqualFold(peekID(path), id) {
			matches = append(matches, path)
		}
	}
	if chosen, count := store.ChooseLatest(matches); chosen != "" {
		loc := &location{path: chosen, source: SourceChats}
		if count > 1 {
			loc.warnings = append(loc.warnings, store.MultipleCandidatesWarning(count, chosen))
		}
		return loc, nil
	}

	if path := s.logsWith(id); path != "" {
		return &location{path: path, source: SourceLogs}, nil
	}
	return nil, xerr.NotFound(string(provider.Gemini), id, s.tmpRoot())
}

func (s *Store) logsWith(id string) string {
	for _, path := range s.logFiles() {
		entries, err := readLogs(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.EqualFold(e.SessionID, id) {
				return path
			}
		}
	}
	return ""
}

func (s *Store) logFiles() []string {
	return store.Walk(s.tmpRoot(), func(path string, d fs.DirEntry) bool {
		return d.Name() == logsFile && filepath.Dir(filepath.Dir(path)) == s.tmpRoot()
	})
}

const logsFile = "logs.json"

// readLogs accepts both layouts the CLI has written: one JSON array, or
// one entry per line.
func readLogs(path string) ([]logEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var logs []logEntry
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		if err := json.Unmarshal(data, &logs); err != nil {
			return nil, xerr.Wrap(xerr.KindCorruptStore, err, "invalid prompt log %s", path)
		}
		return logs, nil
	}
	for _, rec := range jsonl.Parse(data).Records {
		var e logEntry
		if err := json.Unmarshal(rec.Raw, &e); err == nil && e.SessionID != "" {
			logs = append(logs, e)
		}
	}
	if len(logs) == 0 {
		return nil, xerr.New(xerr.KindCorruptStore, "prompt log has no entries: %s", path)
	}
	return logs, nil
}

// resumeHints reads a project prompt log for sessions opened with
// /resume. Each is attributed to the latest session before it in the log
// that was not itself opened by /resume.
func resumeHints(path string) map[string][]logEntry {
	entries, err := readLogs(path)
	if err != nil {
		return nil
	}
	first := make(map[string]bool)
	hints := make(map[string][]logEntry)
	var origin string
	for _, e := range entries {
		id := strings.ToLower(e.SessionID)
		if first[id] {
			continue
		}
		first[id] = true
		if strings.TrimSpace(e.Message) == resumeCommand {
			if origin != "" {
				hints[origin] = append(hints[origin], e)
			}
			continue
		}
		origin = id
	}
	return hints
}

const resumeCommand = "/resume"

// build normalizes a chat file. Only user and gemini turns carry
// conversation text; info and error records are CLI chatter.
func (l *loaded) build(id string) *models.Conversation {
	b := conversation.New(provider.Gemini, id).Raw(l.raw).Source(l.path, SourceChats)
	for _, m := range l.doc.Messages {
		b.AddRecord(m.Type, conversation.Text(m.Content), conversation.Timestamp(m.Timestamp))
	}
	b.Touch(conversation.Timestamp(l.doc.StartTime))
	b.Touch(conversation.Timestamp(l.doc.LastUpdated))
	if parent := strings.ToLower(l.doc.ParentSessionID); provider.IsUUID(parent) {
		b.Parent(parent)
	}
	return b.Build()
}

func (s *Store) readLogSession(id, path string) (*models.Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	entries, err := readLogs(path)
	if err != nil {
		return nil, err
	}
	b := conversation.New(provider.Gemini, id).Raw(raw).Source(path, SourceLogs)
	for _, e := range entries {
		if strings.EqualFold(e.SessionID, id) {
			b.AddRecord(e.Type, e.Message, conversation.Timestamp(e.Timestamp))
		}
	}
	b.Warn("no chat file saved for session_id=%s; timeline from prompt log has user turns only", id)
	return b.Build(), nil
}

// projectDir is <tmp>/<projectHash> for either source layout.
func projectDir(loc *location) string {
	if loc.source == SourceLogs {
		return filepath.Dir(loc.path)
	}
	return filepath.Dir(filepath.Dir(loc.path))
}

// Read implements store.Adapter.
func (s *Store) Read(ctx context.Context, id string) (*models.Conversation, error) {
	id, err := s.desc.ValidateSessionID(id)
	if err != nil {
		return nil, err
	}
	loc, err := s.locate(id)
	if err != nil {
		return nil, err
	}

	var conv *models.Conversation
	if loc.source == SourceLogs {
		conv, err = s.readLogSession(id, loc.path)
	} else {
		var l *loaded
		if l, err = decode(loc.path); err == nil {
			conv = l.build(id)
		}
	}
	if err != nil {
		return nil, err
	}
	conv.Warnings = append(loc.warnings, conv.Warnings...)

	found := s.children(id, projectDir(loc))
	for _, c := range found {
		conv.Children = append(conv.Children, c.link)
		if c.link.Status == models.StatusNotFound {
			conv.Warnings = append(conv.Warnings, missingHintWarning(c.link.ID))
		}
	}
	return conv, nil
}

func missingHintWarning(childID string) string {
	return fmt.Sprintf("relation hint references child_session_id=%s but no chat file was found", childID)
}

// child is a discovered child session and how it was related to its
// parent.
type child struct {
	link      models.ChildLink
	chat      *loaded
	resumedAt *logEntry
}

// children relates sessions of one project to parentID: chat files that
// name it in parentSessionId, and sessions the prompt log shows were
// opened with /resume after it.
func (s *Store) children(parentID, project string) []child {
	byID := make(map[string]*child)
	var order []string
	add := func(id string) *child {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &child{link: models.ChildLink{
			ID:           id,
			Kind:         models.ChildSubagent,
			ParentID:     parentID,
			Status:       models.StatusNotFound,
			StatusSource: models.StatusSourceInferred,
		}}
		byID[id] = c
		order = append(order, id)
		return c
	}

	chats := make(map[string]*loaded)
	for _, path := range store.Walk(filepath.Join(project, "chats"), isChatFile) {
		l, err := decode(path)
		if err != nil {
			continue
		}
		id, ok := s.desc.NormalizeChildID(l.doc.SessionID)
		if !ok || id == parentID {
			continue
		}
		if prev, seen := chats[id]; !seen || store.ModTime(path).After(store.ModTime(prev.path)) {
			chats[id] = l
		}
	}
	var linked []*loaded
	for _, l := range chats {
		if strings.EqualFold(l.doc.ParentSessionID, parentID) {
			linked = append(linked, l)
		}
	}
	sort.Slice(linked, func(i, j int) bool { return linked[i].path < linked[j].path })
	for _, l := range linked {
		id, _ := s.desc.NormalizeChildID(l.doc.SessionID)
		add(id)
	}

	hints := resumeHints(filepath.Join(project, logsFile))
	for _, e := range hints[parentID] {
		e := e
		id, ok := s.desc.NormalizeChildID(e.SessionID)
		if !ok {
			continue
		}
		add(id).resumedAt = &e
	}

	out := make([]child, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if l, ok := chats[id]; ok {
			conv := l.build(id)
			c.chat = l
			c.link.Path = l.path
			c.link.Status = status(conv)
			c.link.StatusSource = models.StatusSourceChild
			c.link.LastUpdate = conv.UpdatedAt
		} else if c.resumedAt != nil {
			c.link.LastUpdate = conversation.Timestamp(c.resumedAt.Timestamp)
		}
		out = append(out, *c)
	}
	return out
}

// status infers a child's state from its own timeline.
func status(conv *models.Conversation) string {
	n := len(conv.Messages)
	switch {
	case n == 0:
		return models.StatusPendingInit
	case conv.Messages[n-1].Role == models.RoleAssistant:
		return models.StatusCompleted
	default:
		return models.StatusRunning
	}
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
	loc, err := s.locate(parentID)
	if err != nil {
		return nil, err
	}

	var found *child
	for _, c := range s.children(parentID, projectDir(loc)) {
		if c.link.ID == childID {
			c := c
			found = &c
			break
		}
	}
	if found == nil {
		return store.MissingChild(provider.Gemini, parentID, childID, nil), nil
	}

	var lifecycle []models.LifecycleEvent
	var relation []string
	if found.resumedAt != nil {
		lifecycle = append(lifecycle, models.LifecycleEvent{
			Timestamp: conversation.Timestamp(found.resumedAt.Timestamp),
			Event:     "resume",
			Detail:    "session opened with /resume after the main session",
		})
		relation = append(relation, "prompt log shows the session was opened with /resume after the main session")
	}
	if found.chat == nil {
		missing := store.MissingChild(provider.Gemini, parentID, childID, lifecycle)
		missing.Child.LastUpdate = found.link.LastUpdate
		missing.Relation = relation
		missing.Warnings = append(missing.Warnings, missingHintWarning(childID))
		return missing, nil
	}

	conv := found.chat.build(childID)
	conv.ParentID = parentID
	lifecycle = append([]models.LifecycleEvent{{
		Timestamp: conversation.Timestamp(found.chat.doc.StartTime),
		Event:     "session_start",
		Detail:    "child chat started",
	}}, lifecycle...)
	if strings.EqualFold(found.chat.doc.ParentSessionID, parentID) {
		relation = append([]string{fmt.Sprintf("child chat %s records parentSessionId=%s", found.chat.path, parentID)}, relation...)
	}
	return &models.SubagentDetail{
		Provider:     string(provider.Gemini),
		MainID:       parentID,
		Child:        found.link,
		Lifecycle:    lifecycle,
		Excerpt:      store.Excerpt(conv.Messages),
		Relation:     relation,
		Validated:    true,
		Conversation: conv,
		Warnings:     append([]string(nil), conv.Warnings...),
	}, nil
}

// List implements store.Adapter. Child chats are listed under their parent
// only.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	return store.Collect(ctx, s.chatFiles(), opts, func(ctx context.Context, path string) (models.Summary, bool, error) {
		l, err := decode(path)
		if err != nil {
			return models.Summary{}, false, err
		}
		if l.doc.ParentSessionID != "" {
			return models.Summary{}, false, nil
		}
		id, ok := s.desc.NormalizeSessionID(l.doc.SessionID)
		if !ok {
			return models.Summary{}, false, nil
		}
		summary, ok := store.Summarize(l.build(id), l.doc.Summary, opts.Keyword)
		return summary, ok, nil
	})
}
