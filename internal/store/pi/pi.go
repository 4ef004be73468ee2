// Package pi reads pi coding agent sessions. Each session is a JSONL file
// under <agent>/sessions/<cwd-slug>/ whose first line is a session header
// and whose remaining lines are tree entries linked by parentId.
package pi

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// SourceSessions is the resolution source for session files.
const SourceSessions = "pi:sessions"

// headerScanLines bounds how far into a file the session header is looked
// for.
const headerScanLines = 20

// Store reads sessions under a pi agent directory.
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the pi agent directory.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Pi)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Pi
}

func (s *Store) sessionsRoot() string {
	return filepath.Join(s.root, "sessions")
}

func (s *Store) sessionFiles() []string {
	return store.Walk(s.sessionsRoot(), func(_ string, d fs.DirEntry) bool {
		return strings.HasSuffix(d.Name(), ".jsonl")
	})
}

// peekHeader returns the session header of path, or nil when the file does
// not start with one.
func peekHeader(path string) map[string]interface{} {
	records, err := jsonl.Head(path, headerScanLines)
	if err != nil || len(records) == 0 {
		return nil
	}
	if jsonl.String(records[0], "type") != "session" {
		return nil
	}
	return records[0]
}

// location is a resolved session file.
type location struct {
	path     string
	warnings []string
}

func (s *Store) locate(id string) (*location, error) {
	var matches []string
	for _, path := range s.sessionFiles() {
		if h := peekHeader(path); h != nil && strings.EqualFold(jsonl.String(h, "id"), id) {
			matches = append(matches, path)
		}
	}
	chosen, count := store.ChooseLatest(matches)
	if chosen == "" {
		return nil, xerr.NotFound(string(provider.Pi), id, s.sessionsRoot())
	}
	loc := &location{path: chosen}
	if count > 1 {
		loc.warnings = append(loc.warnings, store.MultipleCandidatesWarning(count, chosen))
	}
	return loc, nil
}

func (s *Store) open(id string) (*tree, *location, error) {
	loc, err := s.locate(id)
	if err != nil {
		return nil, nil, err
	}
	t, err := parseTree(loc.path)
	if err != nil {
		return nil, nil, err
	}
	return t, loc, nil
}

// Locate returns the session file for id. Resuming a pi session is done by
// handing this path back to the pi CLI.
func (s *Store) Locate(ctx context.Context, id string) (string, error) {
	id, err := s.desc.ValidateSessionID(id)
	if err != nil {
		return "", err
	}
	loc, err := s.locate(id)
	if err != nil {
		return "", err
	}
	return loc.path, nil
}

// Read implements store.Adapter. The timeline follows the latest leaf; the
// children are every tree entry followed by child sessions.
func (s *Store) Read(ctx context.Context, id string) (*models.Conversation, error) {
	id, err := s.desc.ValidateSessionID(id)
	if err != nil {
		return nil, err
	}
	t, loc, err := s.open(id)
	if err != nil {
		return nil, err
	}

	conv := t.build(id, SourceSessions, t.latestLeaf())
	conv.Warnings = append(loc.warnings, conv.Warnings...)
	conv.Children = t.entryLinks()

	sessions, warnings := s.childSessions(id, t)
	conv.Children = append(conv.Children, sessions...)
	conv.Warnings = append(conv.Warnings, warnings...)
	return conv, nil
}

// List implements store.Adapter. Sessions spawned by another session are
// reached through their parent.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	return store.Collect(ctx, s.sessionFiles(), opts, func(ctx context.Context, path string) (models.Summary, bool, error) {
		t, err := parseTree(path)
		if err != nil {
			return models.Summary{}, false, err
		}
		if t.header.Type != "session" || t.header.ParentSessionID != "" {
			return models.Summary{}, false, nil
		}
		id, ok := s.desc.NormalizeSessionID(t.header.ID)
		if !ok {
			return models.Summary{}, false, nil
		}
		summary, ok := store.Summarize(t.build(id, SourceSessions, t.latestLeaf()), "", opts.Keyword)
		return summary, ok, nil
	})
}
