// Package codex reads Codex CLI rollout logs.
//
// Layout under the Codex home:
//
//	sessions/YYYY/MM/DD/rollout-<ts>-<id>.jsonl
//	archived_sessions/rollout-<ts>-<id>.jsonl
//	state.sqlite, state_<N>.sqlite    threads(id, rollout_path, archived)
package codex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Resolution sources reported as thread_source.
const (
	SourceSqliteSessions  = "codex:sqlite:sessions"
	SourceSessions        = "codex:sessions"
	SourceSqliteArchived  = "codex:sqlite:archived_sessions"
	SourceArchived        = "codex:archived_sessions"
	rolloutPrefix         = "rollout-"
	rolloutSuffix         = ".jsonl"
	stateDBName           = "state.sqlite"
	stateDBVersionedPrefx = "state_"
)

// Store reads rollouts under a Codex home directory.
type Store struct {
	root string
	desc provider.Descriptor
}

// New creates a Store rooted at the Codex home.
func New(root string) *Store {
	return &Store{root: root, desc: provider.MustResolve(provider.Codex)}
}

var _ store.Adapter = (*Store)(nil)

// Kind implements store.Adapter.
func (s *Store) Kind() provider.Kind {
	return provider.Codex
}

func (s *Store) sessionsRoot() string {
	return filepath.Join(s.root, "sessions")
}

func (s *Store) archivedRoot() string {
	return filepath.Join(s.root, "archived_sessions")
}

// location is where a rollout was found and how.
type location struct {
	path     string
	source   string
	warnings []string
}

type threadRecord struct {
	rolloutPath string
	archived    bool
}

// stateDBPaths lists thread index databases, highest version first, then
// newest first.
func (s *Store) stateDBPaths() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}

	type versioned struct {
		path    string
		version int
		mtime   int64
	}
	var dbs []versioned
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		version := 0
		switch {
		case name == stateDBName:
		case strings.HasPrefix(name, stateDBVersionedPrefx) && strings.HasSuffix(name, ".sqlite"):
			v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, stateDBVersionedPrefx), ".sqlite"))
			if err == nil {
				version = v
			}
		default:
			continue
		}
		path := filepath.Join(s.root, name)
		dbs = append(dbs, versioned{path: path, version: version, mtime: store.ModTime(path).UnixNano()})
	}

	sort.SliceStable(dbs, func(i, j int) bool {
		if dbs[i].version != dbs[j].version {
			return dbs[i].version > dbs[j].version
		}
		return dbs[i].mtime > dbs[j].mtime
	})
	out := make([]string, len(dbs))
	for i, d := range dbs {
		out[i] = d.path
	}
	return out
}

func queryThread(path, id string) (*threadRecord, error) {
	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var rec threadRecord
	var archived int64
	err = db.QueryRow("SELECT rollout_path, archived FROM threads WHERE id = ? LIMIT 1", id).
		Scan(&rec.rolloutPath, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.archived = archived != 0
	return &rec, nil
}

func (s *Store) lookupIndex(id string, warnings *[]string) *threadRecord {
	for _, path := range s.stateDBPaths() {
		rec, err := queryThread(path, id)
		if err != nil {
			*warnings = append(*warnings, fmt.Sprintf("failed reading sqlite thread index %s: %v", path, err))
			continue
		}
		if rec != nil {
			return rec
		}
	}
	return nil
}

func findRollouts(root, id string) []string {
	needle := id + rolloutSuffix
	return store.Walk(root, func(path string, d fs.DirEntry) bool {
		name := d.Name()
		return strings.HasPrefix(name, rolloutPrefix) && strings.HasSuffix(name, needle)
	})
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// locate resolves a thread id to a rollout file. The sqlite index wins for
// active threads, then the sessions tree, then archived entries.
func (s *Store) locate(id string) (*location, error) {
	var warnings []string
	rec := s.lookupIndex(id, &warnings)

	if rec != nil && !rec.archived {
		if exists(rec.rolloutPath) {
			return &location{path: rec.rolloutPath, source: SourceSqliteSessions, warnings: warnings}, nil
		}
		warnings = append(warnings, fmt.Sprintf("sqlite thread index points to a missing rollout for session_id=%s: %s", id, rec.rolloutPath))
	}

	if path, count := store.ChooseLatest(findRollouts(s.sessionsRoot(), id)); path != "" {
		if count > 1 {
			warnings = append(warnings, store.MultipleCandidatesWarning(count, path))
		}
		return &location{path: path, source: SourceSessions, warnings: warnings}, nil
	}

	if rec != nil && rec.archived {
		if exists(rec.rolloutPath) {
			return &location{path: rec.rolloutPath, source: SourceSqliteArchived, warnings: warnings}, nil
		}
		warnings = append(warnings, fmt.Sprintf("sqlite thread index points to a missing archived rollout for session_id=%s: %s", id, rec.rolloutPath))
	}

	if path, count := store.ChooseLatest(findRollouts(s.archivedRoot(), id)); path != "" {
		if count > 1 {
			warnings = append(warnings, store.MultipleCandidatesWarning(count, path))
		}
		return &location{path: path, source: SourceArchived, warnings: warnings}, nil
	}

	for _, w := range warnings {
		logger.Debugf("codex: %s", w)
	}
	return nil, xerr.NotFound(string(provider.Codex), id, s.sessionsRoot(), s.archivedRoot())
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
	logger.Debugf("codex: resolved %s via %s: %s", id, loc.source, loc.path)

	parsed, err := parseRollout(id, loc.path, loc.source)
	if err != nil {
		return nil, err
	}
	for _, w := range loc.warnings {
		parsed.builder.Warn("%s", w)
	}
	s.attachChildren(parsed)
	return parsed.builder.Build(), nil
}

// List implements store.Adapter. Subagent rollouts are left out; they are
// reachable through their parent.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.Listing, error) {
	paths := store.Walk(s.sessionsRoot(), func(path string, d fs.DirEntry) bool {
		return strings.HasPrefix(d.Name(), rolloutPrefix) && strings.HasSuffix(d.Name(), rolloutSuffix)
	})

	return store.Collect(ctx, paths, opts, func(ctx context.Context, path string) (models.Summary, bool, error) {
		id := idFromFilename(filepath.Base(path))
		parsed, err := parseRollout(id, path, SourceSessions)
		if err != nil {
			return models.Summary{}, false, err
		}
		if parsed.parentThreadID != "" {
			return models.Summary{}, false, nil
		}
		conv := parsed.builder.Build()
		summary, ok := store.Summarize(conv, parsed.title, opts.Keyword)
		return summary, ok, nil
	})
}

// idFromFilename extracts the trailing UUID of rollout-<ts>-<uuid>.jsonl.
func idFromFilename(name string) string {
	base := strings.TrimSuffix(name, rolloutSuffix)
	if len(base) >= 36 && provider.IsUUID(base[len(base)-36:]) {
		return strings.ToLower(base[len(base)-36:])
	}
	return base
}
