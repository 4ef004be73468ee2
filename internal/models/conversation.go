package models

import (
	"time"
)

// Role classifies a normalized message.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleSystem        Role = "system"
	RoleCompactMarker Role = "compact_marker"
)

// Title is the label used for the role in rendered timelines.
func (r Role) Title() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleCompactMarker:
		return "Compaction"
	default:
		return string(r)
	}
}

// Message is one normalized entry of a conversation timeline.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Timestamp is nil when the source record carried none
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Ordinal is the position of the source record, used to keep order
	// stable across equal or missing timestamps
	Ordinal int `json:"ordinal"`
}

// ChildKind distinguishes subagent threads from in-session branch entries.
type ChildKind string

const (
	ChildSubagent    ChildKind = "subagent"
	ChildBranchEntry ChildKind = "branch_entry"
)

// Child statuses reported in subagent indexes.
const (
	StatusPendingInit = "pendingInit"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusErrored     = "errored"
	StatusShutdown    = "shutdown"
	StatusNotFound    = "notFound"
	StatusUnknown     = "unknown"
)

// Where a child status was read from.
const (
	StatusSourceChild    = "child_rollout"
	StatusSourceParent   = "parent_rollout"
	StatusSourceInferred = "inferred"
)

// ChildLink points from a conversation to a child addressable under it.
type ChildLink struct {
	ID       string    `json:"id"`
	Kind     ChildKind `json:"kind"`
	ParentID string    `json:"parentId"`

	// Status and StatusSource describe subagent lifecycle. StatusSource is
	// one of the StatusSource constants.
	Status       string `json:"status,omitempty"`
	StatusSource string `json:"statusSource,omitempty"`

	// Path is the child's own store location when it has one.
	Path       string     `json:"path,omitempty"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`

	// Branch entry fields.
	EntryType string `json:"entryType,omitempty"`
	IsLeaf    bool   `json:"isLeaf,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// LifecycleEvent is a parent-side record about a child (spawn, wait, close).
type LifecycleEvent struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Event     string     `json:"event"`
	Detail    string     `json:"detail"`
}

// Conversation is the normalized result of reading one thread.
// It is built fresh per invocation and not modified after Build.
type Conversation struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`

	Messages []Message   `json:"messages"`
	Children []ChildLink `json:"children,omitempty"`

	// Lifecycle holds parent-side events when this conversation is a child
	// read through its parent.
	Lifecycle []LifecycleEvent `json:"lifecycle,omitempty"`

	// Raw holds the source records exactly as read.
	Raw []byte `json:"-"`

	// Source is the file or database path the conversation was read from and
	// SourceKind names how it was located (for example "sqlite_index").
	Source     string `json:"source"`
	SourceKind string `json:"sourceKind"`

	// ParentID is set when the conversation itself is a child.
	ParentID string `json:"parentId,omitempty"`

	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Warnings  []string   `json:"-"`
}

// Summary is one discovery result.
type Summary struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	// Title is the first user message or stored title, truncated
	Title string `json:"title,omitempty"`
	// MatchedPreview is the text around a keyword match
	MatchedPreview string    `json:"matchedPreview,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Source         string    `json:"source"`
	MessageCount   int       `json:"messageCount"`
}
