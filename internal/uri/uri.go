// Package uri parses agents:// references into a canonical Reference.
//
// Three spellings are accepted and normalize to the same value:
//
//	agents://codex/<id>/<child>?k=v   canonical
//	codex/<id>/<child>?k=v            shorthand
//	codex://<id>/<child>?k=v          legacy
package uri

import (
	"strings"

	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Scheme is the canonical URI scheme.
const Scheme = "agents"

// Mode is what an invocation does with a Reference.
type Mode int

const (
	ModeDiscover Mode = iota
	ModeRead
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "discover"
	}
}

// Reference is a parsed, canonicalized URI.
type Reference struct {
	Provider       provider.Kind
	ConversationID string
	ChildID        string
	Query          Query
	Mode           Mode
}

// Parse turns raw input into a Reference. It only checks structure; whether
// ids have the right shape for the provider is left to the consumer.
func Parse(raw string) (Reference, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return Reference{}, xerr.InvalidURI(raw, "empty input")
	}

	beforeQuery, rawQuery, _ := strings.Cut(input, "?")
	scheme, target, hasScheme := strings.Cut(beforeQuery, "://")
	if !hasScheme {
		target = beforeQuery
	}

	query, err := ParseQuery(rawQuery)
	if err != nil {
		return Reference{}, xerr.InvalidURI(raw, err.Error())
	}

	var (
		desc     provider.Descriptor
		segments []string
	)
	switch {
	case !hasScheme || strings.EqualFold(scheme, Scheme):
		head, tail, _ := strings.Cut(target, "/")
		if head == "" {
			return Reference{}, xerr.InvalidURI(raw, "missing provider")
		}
		if desc, err = provider.Resolve(head); err != nil {
			return Reference{}, err
		}
		if tail != "" || strings.HasSuffix(target, "/") {
			segments = strings.Split(tail, "/")
		}
	default:
		if desc, err = provider.Resolve(scheme); err != nil {
			return Reference{}, err
		}
		if target == "" {
			return Reference{}, xerr.InvalidURI(raw, "missing conversation id")
		}
		segments = strings.Split(target, "/")
	}

	for _, s := range segments {
		if s == "" {
			return Reference{}, xerr.InvalidURI(raw, "empty path segment")
		}
	}
	if desc.StripThreadsSegment && len(segments) >= 2 && segments[0] == "threads" {
		segments = segments[1:]
	}

	ref := Reference{Provider: desc.Kind, Query: query, Mode: ModeDiscover}
	switch len(segments) {
	case 0:
	case 1:
		ref.ConversationID = segments[0]
	case 2:
		ref.ConversationID = segments[0]
		ref.ChildID = segments[1]
	default:
		return Reference{}, xerr.InvalidURI(raw, "too many path segments")
	}

	if ref.ConversationID != "" {
		ref.Mode = ModeRead
		if id, ok := desc.NormalizeSessionID(ref.ConversationID); ok {
			ref.ConversationID = id
		}
	}
	if ref.ChildID != "" {
		if id, ok := desc.NormalizeChildID(ref.ChildID); ok {
			ref.ChildID = id
		}
	}
	return ref, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(raw string) Reference {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

// WithPayload switches the reference into write mode.
func (r Reference) WithPayload() Reference {
	r.Mode = ModeWrite
	return r
}

// IsCollection reports whether the reference names no conversation.
func (r Reference) IsCollection() bool {
	return r.ConversationID == ""
}

// Main returns the reference to the parent conversation, without query.
func (r Reference) Main() Reference {
	return Reference{Provider: r.Provider, ConversationID: r.ConversationID, Mode: ModeRead}
}

// Child returns the reference to a child of this conversation.
func (r Reference) Child(id string) Reference {
	return Reference{Provider: r.Provider, ConversationID: r.ConversationID, ChildID: id, Mode: ModeRead}
}

// String renders the canonical agents:// form without the query.
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(string(r.Provider))
	if r.ConversationID != "" {
		b.WriteByte('/')
		b.WriteString(r.ConversationID)
		if r.ChildID != "" {
			b.WriteByte('/')
			b.WriteString(r.ChildID)
		}
	}
	return b.String()
}
