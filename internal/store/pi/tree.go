package pi

import (
	"encoding/json"
	"time"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
)

const previewWidth = 80

// header is the first record of a session file.
type header struct {
	Type            string      `json:"type"`
	Version         int         `json:"version"`
	ID              string      `json:"id"`
	Timestamp       interface{} `json:"timestamp"`
	Cwd             string      `json:"cwd"`
	ParentSessionID string      `json:"parent_session_id"`
	ChildSessionIDs []string    `json:"childSessionIds"`
}

// entry is one node of the session tree.
type entry struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	ParentID  string                 `json:"parentId"`
	Timestamp interface{}            `json:"timestamp"`
	Message   map[string]interface{} `json:"message"`
	Summary   string                 `json:"summary"`

	ts    *time.Time
	order int
}

// contentFields limits assistant output to prose; thinking and tool calls
// are not part of the timeline.
var contentFields = map[string]string{"text": "text"}

// role returns the timeline role of a message entry.
func (e *entry) role() (models.Role, bool) {
	if e.Type != "message" {
		return "", false
	}
	return conversation.ClassifyRole(jsonl.String(e.Message, "role"))
}

func (e *entry) text() string {
	switch e.Type {
	case "message":
		content := e.Message["content"]
		if s, ok := content.(string); ok {
			return s
		}
		return conversation.TypedText(content, contentFields)
	case "compaction", "branch_summary":
		return e.Summary
	}
	return ""
}

// tree is a parsed session file. Entries form a forest through parentId;
// the active conversation is the path from a root to a leaf.
type tree struct {
	header   header
	raw      []byte
	path     string
	entries  []*entry
	byID     map[string]*entry
	children map[string]int
	skipped  int
}

func parseTree(path string) (*tree, error) {
	raw, res, err := jsonl.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &tree{
		raw:      raw,
		path:     path,
		byID:     make(map[string]*entry),
		children: make(map[string]int),
		skipped:  len(res.Skipped),
	}
	for i, rec := range res.Records {
		if i == 0 && jsonl.String(rec.Value, "type") == "session" {
			if err := json.Unmarshal(rec.Raw, &t.header); err == nil {
				continue
			}
		}
		e := &entry{}
		if err := json.Unmarshal(rec.Raw, e); err != nil || e.ID == "" {
			t.skipped++
			continue
		}
		e.ts = conversation.Timestamp(e.Timestamp)
		e.order = len(t.entries)
		t.entries = append(t.entries, e)
		t.byID[e.ID] = e
		if e.ParentID != "" {
			t.children[e.ParentID]++
		}
	}
	return t, nil
}

func (t *tree) isLeaf(e *entry) bool {
	return t.children[e.ID] == 0
}

// latestLeaf is the leaf with the newest timestamp; later file position
// breaks ties and stands in for missing timestamps.
func (t *tree) latestLeaf() *entry {
	var best *entry
	for _, e := range t.entries {
		if !t.isLeaf(e) {
			continue
		}
		if best == nil || newer(e, best) {
			best = e
		}
	}
	return best
}

func newer(a, b *entry) bool {
	if a.ts != nil && b.ts != nil && !a.ts.Equal(*b.ts) {
		return a.ts.After(*b.ts)
	}
	return a.order > b.order
}

// branch returns the entries from the root down to leaf. A parentId that
// points outside the file ends the walk; a cycle is cut at the first
// repeated entry.
func (t *tree) branch(leaf *entry) []*entry {
	var out []*entry
	seen := make(map[string]bool)
	for e := leaf; e != nil && !seen[e.ID]; e = t.byID[e.ParentID] {
		seen[e.ID] = true
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// build renders the branch ending at leaf as a conversation.
func (t *tree) build(id, source string, leaf *entry) *models.Conversation {
	b := conversation.New(provider.Pi, id).Raw(t.raw).Source(t.path, source)
	if t.skipped > 0 {
		b.Warn("skipped %d malformed line(s) in %s", t.skipped, t.path)
	}
	b.Touch(conversation.Timestamp(t.header.Timestamp))
	if leaf == nil {
		return b.Build()
	}
	for _, e := range t.branch(leaf) {
		switch e.Type {
		case "compaction":
			b.Compact(e.text(), e.ts)
		case "message":
			if role, ok := e.role(); ok {
				b.Add(role, e.text(), e.ts)
			}
		}
		b.Touch(e.ts)
	}
	return b.Build()
}

// entryLinks lists every entry in file order.
func (t *tree) entryLinks() []models.ChildLink {
	links := make([]models.ChildLink, 0, len(t.entries))
	for _, e := range t.entries {
		links = append(links, models.ChildLink{
			ID:         e.ID,
			Kind:       models.ChildBranchEntry,
			ParentID:   e.ParentID,
			LastUpdate: e.ts,
			EntryType:  e.Type,
			IsLeaf:     t.isLeaf(e),
			Preview:    conversation.Preview(e.text(), previewWidth),
		})
	}
	return links
}

// status infers a session's state from the tip of its active branch.
func (t *tree) status() string {
	leaf := t.latestLeaf()
	if leaf == nil {
		return models.StatusPendingInit
	}
	path := t.branch(leaf)
	for i := len(path) - 1; i >= 0; i-- {
		role, ok := path[i].role()
		if !ok {
			continue
		}
		if role == models.RoleAssistant {
			return models.StatusCompleted
		}
		return models.StatusRunning
	}
	return models.StatusPendingInit
}
