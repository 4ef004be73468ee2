// Package amp reads Amp threads, one JSON document per thread under
// <data>/amp/threads/<T-id>.json.
package amp

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// SourceThreads is the resolution source for thread files.
const SourceThreads = "amp:threads"

// thread is the subset of an Amp thread document xurl reads.
type thread struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Status      string         `json:"status"`
	UpdatedAt   interface{}    `json:"updatedAt"`
	LastUpdated interface{}    `json:"lastUpdated"`
	Messages    []message      `json:"messages"`
	Relations   []relationship `json:"relationships"`
}

type message struct {
	Role      string        `json:"role"`
	Timestamp interface{}   `json:"timestamp"`
	Content   []interface{} `json:"content"`
}

type relationship struct {
	Type      string      `json:"type"`
	ThreadID  string      `json:"threadID"`
	Role      string      `json:"role"`
	Timestamp interface{} `json:"timestamp"`
}

// contentFields are the item types rendered as prose, keyed to the field
// holding their text.
var contentFields = map[string]string{
	"text":     "text",
	"thinking": "thinking",
}

// Store reads threads under an Amp data directory.
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the Amp data directory.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Amp)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Amp
}

func (s *Store) threadsRoot() string {
	return filepath.Join(s.root, "threads")
}

func (s *Store) threadPath(id string) string {
	return filepath.Join(s.threadsRoot(), id+".json")
}

// loaded is a decoded thread file.
type loaded struct {
	doc  thread
	raw  []byte
	path string
}

func (s *Store) load(id string) (*loaded, error) {
	path := s.threadPath(id)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, xerr.NotFound(string(provider.Amp), id, s.threadsRoot())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decode(path, raw)
}

func decode(path string, raw []byte) (*loaded, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, xerr.New(xerr.KindCorruptStore, "thread file is empty: %s", path)
	}
	var doc thread
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerr.Wrap(xerr.KindCorruptStore, err, "invalid thread document %s", path)
	}
	return &loaded{doc: doc, raw: raw, path: path}, nil
}

// build normalizes a thread document.
func (l *loaded) build(id string) *models.Conversation {
	b := conversation.New(provider.Amp, id).Raw(l.raw).Source(l.path, SourceThreads)
	for _, m := range l.doc.Messages {
		text := conversation.TypedText(m.Content, contentFields)
		b.AddRecord(m.Role, text, conversation.Timestamp(m.Timestamp))
	}
	b.Touch(conversation.Timestamp(l.doc.UpdatedAt))
	b.Touch(conversation.Timestamp(l.doc.LastUpdated))
	return b.Build()
}

// childRefs are handoff relationships in which this thread is the parent.
// A missing role counts as parent; only an explicit "child" role points up.
func (l *loaded) childRefs() []relationship {
	var out []relationship
	for _, r := range l.doc.Relations {
		if r.Type == "handoff" && r.ThreadID != "" && !strings.EqualFold(r.Role, "child") {
			out = append(out, r)
		}
	}
	return out
}

// parentRef returns the thread this one was handed off from.
func (l *loaded) parentRef() string {
	for _, r := range l.doc.Relations {
		if r.Type == "handoff" && strings.EqualFold(r.Role, "child") {
			return r.ThreadID
		}
	}
	return ""
}

func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "":
		return models.StatusUnknown
	case "completed", "done", "idle":
		return models.StatusCompleted
	case "running", "active", "in_progress":
		return models.StatusRunning
	case "error", "errored", "failed", "cancelled":
		return models.StatusErrored
	default:
		return strings.ToLower(s)
	}
}

// Read implements store.Adapter.
func (s *Store) Read(ctx context.Context, id string) (*models.Conversation, error) {
	id, err := s.desc.ValidateSessionID(id)
	if err != nil {
		return nil, err
	}
	l, err := s.load(id)
	if err != nil {
		return nil, err
	}

	conv := l.build(id)
	if parent := l.parentRef(); parent != "" {
		if normalized, ok := s.desc.NormalizeSessionID(parent); ok {
			conv.ParentID = normalized
		}
	}
	for _, ref := range l.childRefs() {
		link := s.childLink(id, ref)
		if link.Status == models.StatusNotFound {
			conv.Warnings = append(conv.Warnings, fmt.Sprintf("handoff thread %s has no thread file", link.ID))
		}
		conv.Children = append(conv.Children, link)
	}
	return conv, nil
}

func (s *Store) childLink(parentID string, ref relationship) models.ChildLink {
	childID, ok := s.desc.NormalizeChildID(ref.ThreadID)
	if !ok {
		childID = ref.ThreadID
	}
	link := models.ChildLink{
		ID:           childID,
		Kind:         models.ChildSubagent,
		ParentID:     parentID,
		Status:       models.StatusNotFound,
		StatusSource: models.StatusSourceInferred,
		LastUpdate:   conversation.Timestamp(ref.Timestamp),
	}
	if child, err := s.load(childID); err == nil {
		link.Path = child.path
		link.Status = normalizeStatus(child.doc.Status)
		link.StatusSource = models.StatusSourceChild
		if conv := child.build(childID); conv.UpdatedAt != nil {
			link.LastUpdate = conv.UpdatedAt
		}
	}
	return link
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
	parent, err := s.load(parentID)
	if err != nil {
		return nil, err
	}

	var lifecycle []models.LifecycleEvent
	listed := false
	for _, ref := range parent.childRefs() {
		if id, _ := s.desc.NormalizeChildID(ref.ThreadID); id != childID {
			continue
		}
		listed = true
		lifecycle = append(lifecycle, models.LifecycleEvent{
			Timestamp: conversation.Timestamp(ref.Timestamp),
			Event:     "handoff",
			Detail:    "handoff recorded on the main thread",
		})
	}

	child, err := s.load(childID)
	if err != nil {
		if xerr.KindOf(err) == xerr.KindConversationNotFound {
			return store.MissingChild(provider.Amp, parentID, childID, lifecycle), nil
		}
		return nil, err
	}
	conv := child.build(childID)
	conv.ParentID = parentID

	detail := &models.SubagentDetail{
		Provider: string(provider.Amp),
		MainID:   parentID,
		Child: models.ChildLink{
			ID:           childID,
			Kind:         models.ChildSubagent,
			ParentID:     parentID,
			Path:         child.path,
			Status:       normalizeStatus(child.doc.Status),
			StatusSource: models.StatusSourceChild,
			LastUpdate:   conv.UpdatedAt,
		},
		Lifecycle:    lifecycle,
		Excerpt:      store.Excerpt(conv.Messages),
		Conversation: conv,
	}

	back, _ := s.desc.NormalizeSessionID(child.parentRef())
	switch {
	case listed && back == parentID:
		detail.Validated = true
		detail.Relation = []string{"main thread lists a handoff to the child and the child points back"}
	case listed:
		detail.Validated = true
		detail.Relation = []string{"main thread lists a handoff to the child"}
	case back == parentID:
		detail.Validated = true
		detail.Relation = []string{"child thread records a handoff from the main thread"}
	default:
		detail.Warnings = append(detail.Warnings, fmt.Sprintf(
			"no handoff relationship links %s and %s", parentID, childID))
	}
	return detail, nil
}

// List implements store.Adapter.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	paths := store.Walk(s.threadsRoot(), func(_ string, d fs.DirEntry) bool {
		return strings.HasSuffix(d.Name(), ".json")
	})
	return store.Collect(ctx, paths, opts, func(ctx context.Context, path string) (models.Summary, bool, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return models.Summary{}, false, err
		}
		l, err := decode(path, raw)
		if err != nil {
			return models.Summary{}, false, err
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		if normalized, ok := s.desc.NormalizeSessionID(l.doc.ID); ok {
			id = normalized
		}
		summary, ok := store.Summarize(l.build(id), l.doc.Title, opts.Keyword)
		return summary, ok, nil
	})
}
