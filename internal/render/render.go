// Package render turns resolved references into markdown, frontmatter or
// the provider's raw records.
package render

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/vanpelt/xurl/internal/engine"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Format selects markdown output or raw pass-through.
type Format int

const (
	Markdown Format = iota
	Raw
)

// Scope selects the full document or its frontmatter alone.
type Scope int

const (
	Full Scope = iota
	FrontmatterOnly
)

// Render writes res to w.
func Render(w io.Writer, res *engine.Result, format Format, scope Scope) error {
	if format == Raw {
		return renderRaw(w, res)
	}

	var (
		f    fields
		body strings.Builder
	)
	switch {
	case res.List != nil:
		f = discoveryFields(res.Ref, res.List, res.Warnings)
		discoveryBody(&body, res.Ref, res.List)
	case res.Detail != nil:
		d := res.Detail
		f = detailFields(res.Ref, d, res.Warnings)
		if d.Child.Kind == models.ChildBranchEntry && d.Conversation != nil {
			threadBody(&body, res.Ref.Main().Child(d.Child.ID), d.Conversation)
		} else {
			subagentBody(&body, res.Ref, d, res.Warnings)
		}
	case res.Conversation != nil:
		f = threadFields(res.Ref, res.Conversation, res.Warnings)
		threadBody(&body, res.Ref.Main(), res.Conversation)
	default:
		return xerr.New(xerr.KindUnsupportedOperation, "nothing to render for %s", res.Ref)
	}

	if err := writeFrontmatter(w, f); err != nil {
		return err
	}
	if scope == FrontmatterOnly {
		return nil
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	_, err := io.WriteString(w, body.String())
	return err
}

// Messages writes timeline blocks for messages appended after the first
// start-1 already shown.
func Messages(w io.Writer, msgs []models.Message, start int) error {
	var b strings.Builder
	Timeline(&b, msgs, start)
	_, err := io.WriteString(w, b.String())
	return err
}

// renderRaw writes the records exactly as the store holds them. Listings
// have no single source, so each summary is written as one JSON line.
func renderRaw(w io.Writer, res *engine.Result) error {
	switch {
	case res.Conversation != nil:
		_, err := w.Write(res.Conversation.Raw)
		return err
	case res.Detail != nil:
		if res.Detail.Conversation == nil {
			return xerr.New(xerr.KindUnsupportedOperation,
				"no raw records for %s: the child thread was not found", res.Ref)
		}
		_, err := w.Write(res.Detail.Conversation.Raw)
		return err
	case res.List != nil:
		enc := json.NewEncoder(w)
		for _, item := range res.List.Items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}
	return xerr.New(xerr.KindUnsupportedOperation, "nothing to render for %s", res.Ref)
}
