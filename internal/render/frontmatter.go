package render

import (
	"io"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/uri"
)

// Frontmatter modes.
const (
	ModeSubagentIndex  = "subagent_index"
	ModeSubagentDetail = "subagent_detail"
	ModePiEntryIndex   = "pi_entry_index"
	ModePiEntry        = "pi_entry"
	ModeDiscovery      = "discovery"
)

type fields = yaml.MapSlice

func field(key string, value interface{}) yaml.MapItem {
	return yaml.MapItem{Key: key, Value: value}
}

// writeFrontmatter emits f between --- fences.
func writeFrontmatter(w io.Writer, f fields) error {
	out, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "---\n")
	return err
}

func stamp(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func withWarnings(f fields, warnings []string) fields {
	if len(warnings) > 0 {
		f = append(f, field("warnings", warnings))
	}
	return f
}

// threadFields describes a main thread and indexes its children.
func threadFields(ref uri.Reference, conv *models.Conversation, warnings []string) fields {
	main := ref.Main()
	mode := ModeSubagentIndex
	if ref.Provider == provider.Pi {
		mode = ModePiEntryIndex
	}

	f := fields{
		field("uri", main.String()),
		field("provider", string(ref.Provider)),
		field("thread_source", conv.Source),
		field("source_kind", conv.SourceKind),
		field("mode", mode),
		field("messages", len(conv.Messages)),
	}
	if ts := stamp(conv.UpdatedAt); ts != "" {
		f = append(f, field("updated_at", ts))
	}

	var subagents, entries []fields
	for _, c := range conv.Children {
		childURI := main.Child(c.ID).String()
		if c.Kind == models.ChildBranchEntry {
			entry := fields{
				field("uri", childURI),
				field("entry_type", c.EntryType),
				field("is_leaf", c.IsLeaf),
			}
			if c.ParentID != "" {
				entry = append(entry, field("parent_id", c.ParentID))
			}
			if c.Preview != "" {
				entry = append(entry, field("preview", c.Preview))
			}
			entries = append(entries, entry)
			continue
		}
		sub := fields{
			field("uri", childURI),
			field("status", c.Status),
			field("status_source", c.StatusSource),
		}
		if ts := stamp(c.LastUpdate); ts != "" {
			sub = append(sub, field("last_update", ts))
		}
		if c.Path != "" {
			sub = append(sub, field("thread_source", c.Path))
		}
		subagents = append(subagents, sub)
	}
	if mode == ModePiEntryIndex {
		f = append(f, field("entries", orEmpty(entries)))
		if len(subagents) > 0 {
			f = append(f, field("subagents", subagents))
		}
	} else {
		f = append(f, field("subagents", orEmpty(subagents)))
	}
	return withWarnings(f, warnings)
}

// detailFields describes a child thread or pi branch entry.
func detailFields(ref uri.Reference, d *models.SubagentDetail, warnings []string) fields {
	f := fields{
		field("uri", ref.Main().Child(d.Child.ID).String()),
		field("main_uri", ref.Main().String()),
		field("provider", string(ref.Provider)),
	}
	if d.Conversation != nil {
		f = append(f, field("thread_source", d.Conversation.Source))
	}

	if d.Child.Kind == models.ChildBranchEntry {
		f = append(f,
			field("mode", ModePiEntry),
			field("entry_type", d.Child.EntryType),
			field("is_leaf", d.Child.IsLeaf),
		)
		if d.Conversation != nil {
			f = append(f, field("messages", len(d.Conversation.Messages)))
		}
		return withWarnings(f, warnings)
	}

	f = append(f,
		field("mode", ModeSubagentDetail),
		field("status", d.Child.Status),
		field("status_source", d.Child.StatusSource),
		field("relation", relation(d)),
	)
	if len(d.Relation) > 0 {
		f = append(f, field("evidence", d.Relation))
	}
	if ts := stamp(d.Child.LastUpdate); ts != "" {
		f = append(f, field("last_update", ts))
	}
	f = append(f, field("lifecycle_events", len(d.Lifecycle)))
	if d.Conversation != nil {
		f = append(f, field("messages", len(d.Conversation.Messages)))
	}
	return withWarnings(f, warnings)
}

// discoveryFields describes a listing request.
func discoveryFields(ref uri.Reference, list *models.ListResult, warnings []string) fields {
	query := fields{field("limit", list.Query.Limit)}
	if list.Query.Keyword != "" {
		query = append(fields{field("q", list.Query.Keyword)}, query...)
	}
	f := fields{
		field("uri", ref.Main().String()),
		field("provider", list.Provider),
		field("mode", ModeDiscovery),
		field("query", query),
		field("results", len(list.Items)),
	}
	if len(list.Query.IgnoredParams) > 0 {
		f = append(f, field("ignored_params", list.Query.IgnoredParams))
	}
	return withWarnings(f, warnings)
}

func relation(d *models.SubagentDetail) string {
	if d.Validated {
		return "validated"
	}
	return "inferred"
}

func orEmpty(items []fields) []fields {
	if items == nil {
		return []fields{}
	}
	return items
}
