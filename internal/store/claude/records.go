package claude

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
)

// record is one line of a Claude transcript.
type record struct {
	Type             string                 `json:"type"`
	Subtype          string                 `json:"subtype"`
	SessionID        string                 `json:"sessionId"`
	UUID             string                 `json:"uuid"`
	ParentUUID       string                 `json:"parentUuid"`
	IsSidechain      bool                   `json:"isSidechain"`
	IsMeta           bool                   `json:"isMeta"`
	IsCompactSummary bool                   `json:"isCompactSummary"`
	AgentID          string                 `json:"agentId"`
	Timestamp        string                 `json:"timestamp"`
	Summary          string                 `json:"summary"`
	Message          map[string]interface{} `json:"message"`
	ToolUseResult    interface{}            `json:"toolUseResult"`
}

// filter selects which records contribute messages.
type filter func(rec *record) bool

// mainFilter keeps the main thread; sidechain records belong to subagents.
func mainFilter(rec *record) bool {
	return !rec.IsSidechain
}

// agentFilter keeps the records of one inline subagent.
func agentFilter(agentID string) filter {
	return func(rec *record) bool {
		return rec.IsSidechain && rec.AgentID == agentID
	}
}

func allRecords(*record) bool {
	return true
}

// task is a Task tool call waiting for its result.
type task struct {
	description string
	at          *time.Time
}

// transcript is a parsed session file.
type transcript struct {
	builder *conversation.Builder
	id      string
	path    string
	title   string

	// lastRole and pendingTool describe the tail, used to infer whether
	// an agent finished.
	lastRole    models.Role
	pendingTool bool

	// Inline subagents: sidechain records carrying an agentId.
	inlineAgents []string
	inlineSeenAt map[string]*time.Time

	tasks       map[string]task
	lifecycle   map[string][]models.LifecycleEvent
	agentStatus map[string]string

	userByUUID     map[string]string
	pendingCompact *time.Time
	hasCompact     bool
}

func parseTranscript(id, path, source string, keep filter) (*transcript, error) {
	raw, res, err := jsonl.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &transcript{
		builder:      conversation.New(provider.Claude, id).Raw(raw).Source(path, source),
		id:           id,
		path:         path,
		inlineSeenAt: make(map[string]*time.Time),
		tasks:        make(map[string]task),
		lifecycle:    make(map[string][]models.LifecycleEvent),
		agentStatus:  make(map[string]string),
		userByUUID:   make(map[string]string),
	}
	if len(res.Skipped) > 0 {
		t.builder.Warn("skipped %d malformed line(s) in %s", len(res.Skipped), path)
	}

	for _, line := range res.Records {
		var rec record
		if err := json.Unmarshal(line.Raw, &rec); err != nil {
			continue
		}
		t.apply(&rec, keep)
	}
	t.flushCompact(nil)
	return t, nil
}

func (t *transcript) apply(rec *record, keep filter) {
	ts := conversation.Timestamp(rec.Timestamp)

	if rec.IsSidechain && rec.AgentID != "" {
		if _, ok := t.inlineSeenAt[rec.AgentID]; !ok {
			t.inlineAgents = append(t.inlineAgents, rec.AgentID)
		}
		t.inlineSeenAt[rec.AgentID] = ts
	}
	if !keep(rec) {
		return
	}
	t.builder.Touch(ts)

	switch rec.Type {
	case "summary":
		if t.title == "" {
			t.title = strings.TrimSpace(rec.Summary)
		}

	case "system":
		if rec.Subtype == "compact_boundary" {
			t.flushCompact(ts)
			t.pendingCompact = ts
			t.hasCompact = true
		}

	case "user", "assistant":
		t.message(rec, ts)
	}
}

// flushCompact emits a boundary that was not followed by its summary.
func (t *transcript) flushCompact(ts *time.Time) {
	if !t.hasCompact {
		return
	}
	at := t.pendingCompact
	if at == nil {
		at = ts
	}
	t.builder.Compact("", at)
	t.pendingCompact = nil
	t.hasCompact = false
}

func (t *transcript) message(rec *record, ts *time.Time) {
	content := rec.Message["content"]
	text := conversation.Text(content)

	if rec.Type == "user" {
		if s, ok := content.(string); ok {
			t.userByUUID[rec.UUID] = s
		}
		t.taskResults(rec, content, ts)
		if rec.IsCompactSummary {
			at := ts
			if t.hasCompact && t.pendingCompact != nil {
				at = t.pendingCompact
			}
			t.pendingCompact = nil
			t.hasCompact = false
			t.builder.Compact(text, at)
			return
		}
		if rec.IsMeta || isWarmup(rec, t.userByUUID) {
			return
		}
	} else {
		t.taskCalls(content, ts)
		if isWarmup(rec, t.userByUUID) {
			return
		}
	}

	role := models.Role(rec.Type)
	if r, ok := conversation.ClassifyRole(jsonl.String(rec.Message, "role")); ok {
		role = r
	}
	t.flushCompact(ts)
	if t.builder.Add(role, text, ts) {
		t.lastRole = role
		if role == models.RoleUser && t.title == "" {
			t.title = strings.TrimSpace(text)
		}
	}
}

// taskCalls records Task/Agent tool invocations so their results can be
// tied back to an agent id.
func (t *transcript) taskCalls(content interface{}, ts *time.Time) {
	items, _ := content.([]interface{})
	t.pendingTool = false
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok || jsonl.String(obj, "type") != "tool_use" {
			continue
		}
		t.pendingTool = true
		name := jsonl.String(obj, "name")
		if name != "Task" && name != "Agent" {
			continue
		}
		t.tasks[jsonl.String(obj, "id")] = task{
			description: jsonl.String(obj, "input", "description"),
			at:          ts,
		}
	}
}

func (t *transcript) taskResults(rec *record, content interface{}, ts *time.Time) {
	items, _ := content.([]interface{})
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok || jsonl.String(obj, "type") != "tool_result" {
			continue
		}
		t.pendingTool = false
		call, ok := t.tasks[jsonl.String(obj, "tool_use_id")]
		if !ok {
			continue
		}
		result, _ := rec.ToolUseResult.(map[string]interface{})
		agentID := jsonl.String(result, "agentId")
		if agentID == "" {
			continue
		}
		detail := call.description
		if detail == "" {
			detail = "Task tool call"
		}
		t.lifecycle[agentID] = append(t.lifecycle[agentID],
			models.LifecycleEvent{Timestamp: call.at, Event: "task", Detail: detail})

		status := normalizeStatus(jsonl.String(result, "status"))
		t.lifecycle[agentID] = append(t.lifecycle[agentID],
			models.LifecycleEvent{Timestamp: ts, Event: "task_result", Detail: "status=" + status})
		t.agentStatus[agentID] = status
	}
}

// status infers an agent's state from the tail of its own transcript.
func (t *transcript) status() string {
	switch {
	case t.builder.Len() == 0:
		return models.StatusPendingInit
	case t.lastRole == models.RoleAssistant && !t.pendingTool:
		return models.StatusCompleted
	default:
		return models.StatusRunning
	}
}

func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "completed", "success":
		return models.StatusCompleted
	case "error", "errored", "failed":
		return models.StatusErrored
	case "running", "in_progress":
		return models.StatusRunning
	case "":
		return models.StatusUnknown
	default:
		return strings.ToLower(s)
	}
}

// isWarmup matches the "Warmup" exchange Claude Code runs on sidechains
// before a subagent starts working.
func isWarmup(rec *record, userByUUID map[string]string) bool {
	if !rec.IsSidechain {
		return false
	}
	if rec.Type == "user" {
		s, ok := rec.Message["content"].(string)
		return ok && strings.TrimSpace(s) == "Warmup"
	}
	return rec.ParentUUID != "" && strings.TrimSpace(userByUUID[rec.ParentUUID]) == "Warmup"
}
