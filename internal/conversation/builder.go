// Package conversation turns provider records into the normalized
// models.Conversation shared by every store.
package conversation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
)

// Builder accumulates messages and children for one conversation.
type Builder struct {
	conv    models.Conversation
	ordinal int
}

// New starts a conversation for provider/id.
func New(kind provider.Kind, id string) *Builder {
	return &Builder{conv: models.Conversation{ID: id, Provider: string(kind)}}
}

// Raw records the original bytes returned for --raw output.
func (b *Builder) Raw(raw []byte) *Builder {
	b.conv.Raw = raw
	return b
}

// Source records where and how the conversation was found.
func (b *Builder) Source(path, kind string) *Builder {
	b.conv.Source = path
	b.conv.SourceKind = kind
	return b
}

// Parent marks the conversation as a child of parentID.
func (b *Builder) Parent(parentID string) *Builder {
	b.conv.ParentID = parentID
	return b
}

// Add appends a message. Blank text is dropped and reported as false.
func (b *Builder) Add(role models.Role, text string, ts *time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	b.ordinal++
	b.conv.Messages = append(b.conv.Messages, models.Message{
		Role:      role,
		Content:   text,
		Timestamp: ts,
		Ordinal:   b.ordinal,
	})
	b.Touch(ts)
	return true
}

// AddRecord classifies a provider role name before adding. Unknown roles
// are dropped.
func (b *Builder) AddRecord(roleName, text string, ts *time.Time) bool {
	role, ok := ClassifyRole(roleName)
	if !ok {
		return false
	}
	return b.Add(role, text, ts)
}

// Compact records a compaction boundary. Unlike Add, an empty summary still
// produces a marker.
func (b *Builder) Compact(summary string, ts *time.Time) {
	b.ordinal++
	b.conv.Messages = append(b.conv.Messages, models.Message{
		Role:      models.RoleCompactMarker,
		Content:   strings.TrimSpace(summary),
		Timestamp: ts,
		Ordinal:   b.ordinal,
	})
	b.Touch(ts)
}

// Child appends a child link, ignoring duplicates by id.
func (b *Builder) Child(link models.ChildLink) {
	for i, existing := range b.conv.Children {
		if existing.ID == link.ID {
			b.conv.Children[i] = mergeChild(existing, link)
			return
		}
	}
	if link.ParentID == "" {
		link.ParentID = b.conv.ID
	}
	b.conv.Children = append(b.conv.Children, link)
}

// Lifecycle appends a parent-side event.
func (b *Builder) Lifecycle(ev models.LifecycleEvent) {
	b.conv.Lifecycle = append(b.conv.Lifecycle, ev)
}

// Warn records a non-fatal problem found while reading.
func (b *Builder) Warn(format string, args ...interface{}) {
	b.conv.Warnings = append(b.conv.Warnings, fmt.Sprintf(format, args...))
}

// Touch moves UpdatedAt forward to ts.
func (b *Builder) Touch(ts *time.Time) {
	if ts == nil {
		return
	}
	if b.conv.UpdatedAt == nil || ts.After(*b.conv.UpdatedAt) {
		t := *ts
		b.conv.UpdatedAt = &t
	}
}

// Len is the number of messages added so far.
func (b *Builder) Len() int {
	return len(b.conv.Messages)
}

// Build finalizes the conversation. Messages are kept in record order unless
// every one of them has a timestamp, in which case they are stably sorted
// by (timestamp, ordinal).
func (b *Builder) Build() *models.Conversation {
	conv := b.conv
	conv.Messages = append([]models.Message(nil), b.conv.Messages...)
	conv.Children = append([]models.ChildLink(nil), b.conv.Children...)

	if allTimestamped(conv.Messages) {
		sort.SliceStable(conv.Messages, func(i, j int) bool {
			a, c := conv.Messages[i], conv.Messages[j]
			if !a.Timestamp.Equal(*c.Timestamp) {
				return a.Timestamp.Before(*c.Timestamp)
			}
			return a.Ordinal < c.Ordinal
		})
	}
	return &conv
}

func allTimestamped(msgs []models.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if m.Timestamp == nil {
			return false
		}
	}
	return true
}

func mergeChild(a, b models.ChildLink) models.ChildLink {
	if b.Status != "" {
		a.Status = b.Status
		a.StatusSource = b.StatusSource
	}
	if b.Path != "" {
		a.Path = b.Path
	}
	if b.LastUpdate != nil && (a.LastUpdate == nil || b.LastUpdate.After(*a.LastUpdate)) {
		a.LastUpdate = b.LastUpdate
	}
	if b.Preview != "" {
		a.Preview = b.Preview
	}
	return a
}
