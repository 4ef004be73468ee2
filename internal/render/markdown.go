package render

import (
	"fmt"
	"strings"

	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/uri"
)

// compactBoundary introduces the summary a provider kept when it compacted
// earlier context.
const compactBoundary = "_Context compacted here; earlier messages were replaced by this summary._"

// Timeline writes numbered message blocks starting at number start.
func Timeline(b *strings.Builder, msgs []models.Message, start int) {
	for i, m := range msgs {
		fmt.Fprintf(b, "## %d. %s\n\n", start+i, m.Role.Title())
		if m.Role == models.RoleCompactMarker {
			b.WriteString(compactBoundary)
			b.WriteString("\n\n")
			if text := strings.TrimSpace(m.Content); text != "" {
				b.WriteString(quote(text))
				b.WriteString("\n\n")
			}
			continue
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

// threadBody renders a conversation as a timeline, followed by full URIs
// for everything addressable beneath it.
func threadBody(b *strings.Builder, self uri.Reference, conv *models.Conversation) {
	b.WriteString("# Thread\n\n")
	fmt.Fprintf(b, "- URI: `%s`\n", self)
	fmt.Fprintf(b, "- Source: `%s`\n\n", conv.Source)

	b.WriteString("## Timeline\n\n")
	if len(conv.Messages) == 0 {
		b.WriteString("_No user/assistant messages found._\n\n")
	} else {
		Timeline(b, conv.Messages, 1)
	}

	var subagents, entries []models.ChildLink
	for _, c := range conv.Children {
		if c.Kind == models.ChildBranchEntry {
			entries = append(entries, c)
		} else {
			subagents = append(subagents, c)
		}
	}
	main := self.Main()
	if len(subagents) > 0 {
		b.WriteString("## Subagents\n\n")
		for _, c := range subagents {
			fmt.Fprintf(b, "- `%s` (`%s`)\n", main.Child(c.ID), c.Status)
		}
		b.WriteString("\n")
	}
	if len(entries) > 0 {
		b.WriteString("## Entries\n\n")
		for _, c := range entries {
			line := fmt.Sprintf("- `%s` %s", main.Child(c.ID), c.EntryType)
			if c.IsLeaf {
				line += " (leaf)"
			}
			if c.Preview != "" {
				line += ": " + c.Preview
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
}

// subagentBody renders a child thread as seen through its parent.
func subagentBody(b *strings.Builder, ref uri.Reference, d *models.SubagentDetail, warnings []string) {
	main := ref.Main()
	b.WriteString("# Subagent Thread\n\n")
	fmt.Fprintf(b, "- Main Thread: `%s`\n", main)
	fmt.Fprintf(b, "- Subagent Thread: `%s`\n", main.Child(d.Child.ID))
	fmt.Fprintf(b, "- Status: `%s` (`%s`)\n", d.Child.Status, d.Child.StatusSource)
	fmt.Fprintf(b, "- Relation: `%s`\n", relation(d))
	for _, r := range d.Relation {
		fmt.Fprintf(b, "  - %s\n", r)
	}
	b.WriteString("\n")

	b.WriteString("## Agent Status Summary\n\n")
	fmt.Fprintf(b, "- Status: `%s`\n", d.Child.Status)
	if ts := stamp(d.Child.LastUpdate); ts != "" {
		fmt.Fprintf(b, "- Last Update: `%s`\n", ts)
	}
	if d.Conversation != nil {
		fmt.Fprintf(b, "- Source: `%s`\n", d.Conversation.Source)
		fmt.Fprintf(b, "- Messages: %d\n", len(d.Conversation.Messages))
	}
	for _, w := range warnings {
		fmt.Fprintf(b, "- Warning: %s\n", w)
	}
	b.WriteString("\n")

	b.WriteString("## Lifecycle (Parent Thread)\n\n")
	if len(d.Lifecycle) == 0 {
		b.WriteString("_No lifecycle events found._\n\n")
	} else {
		for i, ev := range d.Lifecycle {
			line := fmt.Sprintf("%d. `%s`", i+1, ev.Event)
			if ts := stamp(ev.Timestamp); ts != "" {
				line += " at `" + ts + "`"
			}
			if ev.Detail != "" {
				line += ": " + ev.Detail
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Thread Excerpt (Child Thread)\n\n")
	if len(d.Excerpt) == 0 {
		b.WriteString("_No child thread messages found._\n\n")
		return
	}
	var total int
	if d.Conversation != nil {
		total = len(d.Conversation.Messages)
	}
	start := 1
	if total > len(d.Excerpt) {
		start = total - len(d.Excerpt) + 1
		fmt.Fprintf(b, "_Showing the last %d of %d messages._\n\n", len(d.Excerpt), total)
	}
	Timeline(b, d.Excerpt, start)
}

// discoveryBody renders one line per listed conversation, most recent first.
func discoveryBody(b *strings.Builder, ref uri.Reference, list *models.ListResult) {
	b.WriteString("# Threads\n\n")
	if len(list.Items) == 0 {
		b.WriteString("_No threads found._\n")
		return
	}
	main := ref.Main()
	for i, s := range list.Items {
		line := fmt.Sprintf("%d. `%s`", i+1, uri.Reference{Provider: main.Provider, ConversationID: s.ID})
		if !s.UpdatedAt.IsZero() {
			line += " " + s.UpdatedAt.UTC().Format("2006-01-02 15:04")
		}
		line += fmt.Sprintf(" (%d messages)", s.MessageCount)
		if s.Title != "" {
			line += " " + s.Title
		}
		b.WriteString(line + "\n")
		if s.MatchedPreview != "" {
			fmt.Fprintf(b, "   > %s\n", s.MatchedPreview)
		}
	}
}
