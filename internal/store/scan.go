package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/recovery"
)

const (
	titleWidth   = 80
	previewWidth = 60
)

// Walk returns every file under root for which match is true. Unreadable
// directories are skipped; a missing root yields no files.
func Walk(root string, match func(path string, d fs.DirEntry) bool) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && match(path, d) {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// Candidate is a file considered when resolving an id to one location.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ChooseLatest picks the most recently modified path. Tie-breakers are the
// larger size, then the lexically greater path, so the choice is stable.
// It returns "" when no path can be stat'ed.
func ChooseLatest(paths []string) (string, int) {
	var candidates []Candidate
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, Candidate{Path: p, Size: info.Size(), ModTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", 0
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.ModTime.After(best.ModTime):
			best = c
		case c.ModTime.Equal(best.ModTime) && c.Size > best.Size:
			best = c
		case c.ModTime.Equal(best.ModTime) && c.Size == best.Size && c.Path > best.Path:
			best = c
		}
	}
	return best.Path, len(candidates)
}

// MultipleCandidatesWarning is the warning recorded when ChooseLatest had
// more than one option.
func MultipleCandidatesWarning(count int, chosen string) string {
	return fmt.Sprintf("multiple matches found (%d) for session_id; selected latest: %s", count, chosen)
}

// ModTime returns the modification time of path, or the zero time.
func ModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Summarize builds a discovery summary for conv. With a keyword it reports
// false unless the keyword appears in the title or any message.
func Summarize(conv *models.Conversation, title, keyword string) (models.Summary, bool) {
	if title == "" {
		for _, m := range conv.Messages {
			if m.Role == models.RoleUser {
				title = m.Content
				break
			}
		}
	}

	s := models.Summary{
		ID:           conv.ID,
		Provider:     conv.Provider,
		Title:        conversation.Preview(title, titleWidth),
		Source:       conv.Source,
		MessageCount: len(conv.Messages),
	}
	if conv.UpdatedAt != nil {
		s.UpdatedAt = *conv.UpdatedAt
	}
	if mt := ModTime(conv.Source); mt.After(s.UpdatedAt) {
		s.UpdatedAt = mt
	}

	if keyword == "" {
		return s, true
	}
	if p := conversation.MatchPreview(title, keyword, previewWidth); p != "" {
		s.MatchedPreview = p
		return s, true
	}
	for _, m := range conv.Messages {
		if p := conversation.MatchPreview(m.Content, keyword, previewWidth); p != "" {
			s.MatchedPreview = p
			return s, true
		}
	}
	return s, false
}

// Loader reads one store file into a summary. ok=false drops the file from
// the listing without a warning (for example a child thread).
type Loader func(ctx context.Context, path string) (summary models.Summary, ok bool, err error)

// Collect runs load over paths in parallel and returns the sorted,
// truncated listing. Per-file failures become warnings. The result order
// does not depend on enumeration order.
func Collect(ctx context.Context, paths []string, opts ListOptions, load Loader) (*Listing, error) {
	type slot struct {
		summary models.Summary
		ok      bool
		warning string
	}
	slots := make([]slot, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := recovery.Guard("list "+filepath.Base(path), func() error {
				s, ok, err := load(gctx, path)
				if err != nil {
					return err
				}
				slots[i] = slot{summary: s, ok: ok}
				return nil
			})
			if err != nil {
				slots[i] = slot{warning: fmt.Sprintf("skipped %s: %v", path, err)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	listing := &Listing{}
	for _, s := range slots {
		if s.warning != "" {
			listing.Warnings = append(listing.Warnings, s.warning)
			continue
		}
		if s.ok {
			listing.Items = append(listing.Items, s.summary)
		}
	}
	Finalize(listing, opts)
	logger.Debugf("collected %d item(s) from %d file(s)", len(listing.Items), len(paths))
	return listing, nil
}

// Finalize sorts items most-recent first (ties by id) and applies the limit.
func Finalize(listing *Listing, opts ListOptions) {
	sort.SliceStable(listing.Items, func(i, j int) bool {
		a, b := listing.Items[i], listing.Items[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	limit := opts.Limit
	if limit < 0 {
		limit = DefaultLimit
	}
	if len(listing.Items) > limit {
		listing.Items = listing.Items[:limit]
	}
}
