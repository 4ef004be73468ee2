package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/xerr"
)

// FollowDebounce is how long writes to a source settle before it is re-read.
var FollowDebounce = 150 * time.Millisecond

// Follow watches the source of a resolved thread and calls emit with the
// messages appended since the last read. It returns when ctx is done.
func (e *Engine) Follow(ctx context.Context, res *Result, emit func([]models.Message) error) error {
	conv := res.Conversation
	if res.Detail != nil {
		conv = res.Detail.Conversation
	}
	if conv == nil || conv.Source == "" {
		return xerr.New(xerr.KindUnsupportedOperation, "nothing to follow for %s", res.Ref)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xerr.Wrap(xerr.KindUnsupportedOperation, err, "failed to watch %s", conv.Source)
	}
	defer watcher.Close()

	// Watch the directory so replaced files and sqlite journals are seen.
	dir, base := filepath.Split(conv.Source)
	if err := watcher.Add(filepath.Clean(dir)); err != nil {
		return xerr.Wrap(xerr.KindUnsupportedOperation, err, "failed to watch %s", dir)
	}
	logger.Debugf("follow: watching %s for %s", dir, base)

	last := lastOrdinal(conv.Messages)
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle = time.After(FollowDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("follow: watcher error: %v", err)
		case <-settle:
			settle = nil
			fresh, err := e.Resolve(ctx, res.Ref)
			if err != nil {
				// A writer may be mid-record; the next write retries.
				logger.Debugf("follow: reload of %s failed: %v", res.Ref, err)
				continue
			}
			msgs := messagesOf(fresh)
			var added []models.Message
			for _, m := range msgs {
				if m.Ordinal > last {
					added = append(added, m)
				}
			}
			if len(added) == 0 {
				continue
			}
			last = lastOrdinal(msgs)
			if err := emit(added); err != nil {
				return err
			}
		}
	}
}

func messagesOf(res *Result) []models.Message {
	switch {
	case res.Conversation != nil:
		return res.Conversation.Messages
	case res.Detail != nil && res.Detail.Conversation != nil:
		return res.Detail.Conversation.Messages
	}
	return nil
}

func lastOrdinal(msgs []models.Message) int {
	last := -1
	for _, m := range msgs {
		if m.Ordinal > last {
			last = m.Ordinal
		}
	}
	return last
}
