// Package claude reads Claude Code session logs.
//
// Sessions live under <config>/projects/<encoded-project>/<session>.jsonl;
// subagent transcripts under <encoded-project>/<session>/subagents/.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Resolution sources reported as thread_source.
const (
	SourceSessionsIndex = "claude:sessions-index"
	SourceFilename      = "claude:filename"
	SourceHeaderScan    = "claude:header-scan"

	sessionsIndexName = "sessions-index.json"
	headerScanLines   = 30
)

// Store reads sessions under a Claude config directory.
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the Claude config directory.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Claude)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Claude
}

func (s *Store) projectsRoot() string {
	return filepath.Join(s.root, "projects")
}

type sessionsIndex struct {
	Entries []struct {
		SessionID string `json:"sessionId"`
		FullPath  string `json:"fullPath"`
	} `json:"entries"`
}

func (s *Store) fromSessionsIndex(id string) []string {
	indexes := store.Walk(s.projectsRoot(), func(_ string, d fs.DirEntry) bool {
		return d.Name() == sessionsIndexName
	})

	var hits []string
	for _, path := range indexes {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var idx sessionsIndex
		if err := json.Unmarshal(data, &idx); err != nil {
			logger.Debugf("claude: ignoring unreadable %s: %v", path, err)
			continue
		}
		for _, e := range idx.Entries {
			if strings.EqualFold(e.SessionID, id) && e.FullPath != "" {
				if _, err := os.Stat(e.FullPath); err == nil {
					hits = append(hits, e.FullPath)
				}
			}
		}
	}
	return hits
}

func (s *Store) byFilename(id string) []string {
	needle := id + ".jsonl"
	return store.Walk(s.projectsRoot(), func(_ string, d fs.DirEntry) bool {
		return strings.EqualFold(d.Name(), needle)
	})
}

// headerHasSession reports whether one of the first lines of path carries
// sessionId == id.
func headerHasSession(path, id string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 0; n < headerScanLines && scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var head struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal([]byte(line), &head) == nil && strings.EqualFold(head.SessionID, id) {
			return true
		}
	}
	return false
}

func (s *Store) byHeaderScan(id string) []string {
	return store.Walk(s.projectsRoot(), func(path string, d fs.DirEntry) bool {
		if !strings.HasSuffix(d.Name(), ".jsonl") || isSubagentPath(path) {
			return false
		}
		return headerHasSession(path, id)
	})
}

// isSubagentPath reports whether path sits in a subagents directory.
func isSubagentPath(path string) bool {
	return filepath.Base(filepath.Dir(path)) == "subagents"
}

type location struct {
	path    string
	source  string
	warning string
}

func (s *Store) locate(id string) (*location, error) {
	steps := []struct {
		source string
		find   func(string) []string
	}{
		{SourceSessionsIndex, s.fromSessionsIndex},
		{SourceFilename, s.byFilename},
		{SourceHeaderScan, s.byHeaderScan},
	}
	for _, step := range steps {
		path, count := store.ChooseLatest(step.find(id))
		if path == "" {
			continue
		}
		loc := &location{path: path, source: step.source}
		if count > 1 {
			loc.warning = store.MultipleCandidatesWarning(count, path)
		}
		return loc, nil
	}
	return nil, xerr.NotFound(string(provider.Claude), id, s.projectsRoot())
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
	logger.Debugf("claude: resolved %s via %s: %s", id, loc.source, loc.path)

	t, err := parseTranscript(id, loc.path, loc.source, mainFilter)
	if err != nil {
		return nil, err
	}
	if loc.warning != "" {
		t.builder.Warn("%s", loc.warning)
	}
	for _, link := range s.children(t) {
		t.builder.Child(link)
	}
	return t.builder.Build(), nil
}

// List implements store.Adapter.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	paths := store.Walk(s.projectsRoot(), func(path string, d fs.DirEntry) bool {
		if !strings.HasSuffix(d.Name(), ".jsonl") || isSubagentPath(path) {
			return false
		}
		return provider.IsUUID(strings.TrimSuffix(d.Name(), ".jsonl"))
	})

	return store.Collect(ctx, paths, opts, func(ctx context.Context, path string) (models.Summary, bool, error) {
		id := strings.ToLower(strings.TrimSuffix(filepath.Base(path), ".jsonl"))
		t, err := parseTranscript(id, path, SourceFilename, mainFilter)
		if err != nil {
			return models.Summary{}, false, err
		}
		// Snapshot-only files have no conversation to list.
		if t.builder.Len() == 0 {
			return models.Summary{}, false, nil
		}
		summary, ok := store.Summarize(t.builder.Build(), t.title, opts.Keyword)
		return summary, ok, nil
	})
}
