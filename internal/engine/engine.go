// Package engine routes a parsed reference to the adapter for its provider
// and runs the read, head and discovery operations against it.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vanpelt/xurl/internal/config"
	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/store"
	"github.com/vanpelt/xurl/internal/store/amp"
	"github.com/vanpelt/xurl/internal/store/claude"
	"github.com/vanpelt/xurl/internal/store/codex"
	"github.com/vanpelt/xurl/internal/store/gemini"
	"github.com/vanpelt/xurl/internal/store/opencode"
	"github.com/vanpelt/xurl/internal/store/pi"
	"github.com/vanpelt/xurl/internal/uri"
	"github.com/vanpelt/xurl/internal/xerr"
)

// NewAdapter creates the store adapter for kind rooted at root.
func NewAdapter(kind provider.Kind, root string) (store.Adapter, error) {
	switch kind {
	case provider.Amp:
		return amp.New(root), nil
	case provider.Codex:
		return codex.New(root), nil
	case provider.Claude:
		return claude.New(root), nil
	case provider.Gemini:
		return gemini.New(root), nil
	case provider.Pi:
		return pi.New(root), nil
	case provider.Opencode:
		return opencode.New(root), nil
	}
	return nil, xerr.New(xerr.KindUnknownProvider, "unsupported provider: %s", kind)
}

// Engine resolves references against the provider stores on this machine.
type Engine struct {
	cfg *config.RuntimeConfig
}

// New creates an Engine over the roots in cfg.
func New(cfg *config.RuntimeConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Adapter returns the adapter for kind.
func (e *Engine) Adapter(kind provider.Kind) (store.Adapter, error) {
	return NewAdapter(kind, e.cfg.Root(kind))
}

// PiSessions locates pi session files for resuming them.
func (e *Engine) PiSessions() *pi.Store {
	return pi.New(e.cfg.Root(provider.Pi))
}

// Result is what a reference resolved to. Exactly one of Conversation,
// Detail and List is set.
type Result struct {
	Ref          uri.Reference
	Conversation *models.Conversation
	Detail       *models.SubagentDetail
	List         *models.ListResult
	// Warnings come from the store and are rendered with the output.
	Warnings []string
	// Ignored describes query keys that had no effect. They are reported
	// on stderr rather than in the output.
	Ignored []string
}

// Resolve reads whatever ref names: a listing, a main thread or a child.
func (e *Engine) Resolve(ctx context.Context, ref uri.Reference) (*Result, error) {
	switch {
	case ref.IsCollection():
		return e.Discover(ctx, ref)
	case ref.ChildID != "":
		return e.ReadChild(ctx, ref)
	default:
		return e.Read(ctx, ref)
	}
}

// Read loads the main thread ref names.
func (e *Engine) Read(ctx context.Context, ref uri.Reference) (*Result, error) {
	adapter, err := e.Adapter(ref.Provider)
	if err != nil {
		return nil, err
	}
	conv, err := adapter.Read(ctx, ref.ConversationID)
	if err != nil {
		return nil, err
	}
	logger.Debugf("engine: read %s with %d message(s) from %s", ref, len(conv.Messages), conv.Source)
	return &Result{Ref: ref, Conversation: conv, Warnings: conv.Warnings, Ignored: ignoredOnRead(ref.Query)}, nil
}

// ReadChild loads a child thread or branch entry through its parent.
func (e *Engine) ReadChild(ctx context.Context, ref uri.Reference) (*Result, error) {
	desc, err := provider.Resolve(string(ref.Provider))
	if err != nil {
		return nil, err
	}
	if !desc.SupportsChildPath || desc.ChildDiscovery == provider.NoneSupported {
		return nil, xerr.New(xerr.KindUnsupportedOperation,
			"%s does not support child paths: %s", desc.DisplayName, ref)
	}
	adapter, err := e.Adapter(ref.Provider)
	if err != nil {
		return nil, err
	}
	detail, err := adapter.ReadChild(ctx, ref.ConversationID, ref.ChildID)
	if err != nil {
		return nil, err
	}
	return &Result{Ref: ref, Detail: detail, Warnings: detail.Warnings, Ignored: ignoredOnRead(ref.Query)}, nil
}

// Discover lists recent conversations, optionally filtered by keyword.
func (e *Engine) Discover(ctx context.Context, ref uri.Reference) (*Result, error) {
	query, warnings, err := ParseListQuery(ref.Query)
	if err != nil {
		return nil, err
	}
	adapter, err := e.Adapter(ref.Provider)
	if err != nil {
		return nil, err
	}
	listing, err := adapter.List(ctx, store.ListOptions{Keyword: query.Keyword, Limit: query.Limit})
	if err != nil {
		return nil, err
	}
	list := &models.ListResult{
		Provider: string(ref.Provider),
		Query:    query,
		Items:    listing.Items,
		Warnings: listing.Warnings,
	}
	if list.Items == nil {
		list.Items = []models.Summary{}
	}
	return &Result{Ref: ref, List: list, Warnings: list.Warnings, Ignored: warnings}, nil
}

// ParseListQuery reads the discovery parameters q and limit. Any other key
// is reported back as ignored.
func ParseListQuery(q uri.Query) (models.ListQuery, []string, error) {
	query := models.ListQuery{Limit: store.DefaultLimit}
	var warnings []string
	for _, p := range q {
		switch p.Key {
		case "q":
			query.Keyword = strings.TrimSpace(p.Value)
		case "limit":
			n, err := strconv.Atoi(strings.TrimSpace(p.Value))
			if err != nil || n < 0 {
				return query, nil, xerr.InvalidURI("limit="+p.Value, "limit must be a non-negative integer")
			}
			query.Limit = n
		default:
			query.IgnoredParams = append(query.IgnoredParams, p.Key)
			warnings = append(warnings, fmt.Sprintf("ignored query parameter `%s`: not supported for discovery", p.Key))
		}
	}
	return query, warnings, nil
}

func ignoredOnRead(q uri.Query) []string {
	var warnings []string
	for _, p := range q {
		warnings = append(warnings, fmt.Sprintf("ignored query parameter `%s`: not supported when reading a thread", p.Key))
	}
	return warnings
}
