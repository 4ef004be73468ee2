package codex

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vanpelt/xurl/internal/conversation"
	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
)

// Prefixes of user messages injected by the Codex harness rather than typed.
var harnessPrefixes = []string{
	"<environment_context>",
	"<user_instructions>",
	"# AGENTS.md",
}

// spawn is a spawn_agent call seen in a parent rollout.
type spawn struct {
	callID  string
	agentID string
	at      *time.Time
}

// rollout is a parsed rollout file plus the subagent bookkeeping gathered
// while reading it.
type rollout struct {
	builder        *conversation.Builder
	id             string
	path           string
	title          string
	parentThreadID string

	// status is the last status seen for the thread itself.
	status string
	// lastAssistant is the newest assistant text, for agent_message dedupe
	lastAssistant string

	spawns    []spawn
	lifecycle map[string][]models.LifecycleEvent
	// addressed is every agent id with lifecycle events, in first-seen order
	addressed []string
	// childStatus is the last status the parent observed per agent id
	childStatus map[string]string
	childSeenAt map[string]*time.Time
}

// pendingCall is a function call waiting for its output record.
type pendingCall struct {
	name string
	args map[string]interface{}
	at   *time.Time
}

func parseRollout(id, path, source string) (*rollout, error) {
	raw, res, err := jsonl.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r := &rollout{
		builder:     conversation.New(provider.Codex, id).Raw(raw).Source(path, source),
		id:          id,
		path:        path,
		lifecycle:   make(map[string][]models.LifecycleEvent),
		childStatus: make(map[string]string),
		childSeenAt: make(map[string]*time.Time),
	}
	if len(res.Skipped) > 0 {
		r.builder.Warn("skipped %d malformed line(s) in %s", len(res.Skipped), path)
	}

	calls := make(map[string]pendingCall)
	for _, rec := range res.Records {
		r.apply(rec.Value, calls)
	}
	return r, nil
}

func (r *rollout) apply(rec map[string]interface{}, calls map[string]pendingCall) {
	ts := conversation.Timestamp(rec["timestamp"])
	payload := jsonl.Object(rec, "payload")
	r.builder.Touch(ts)

	switch jsonl.String(rec, "type") {
	case "session_meta":
		if parent := jsonl.String(payload, "source", "subagent", "thread_spawn", "parent_thread_id"); parent != "" {
			r.parentThreadID = strings.ToLower(parent)
			r.builder.Parent(r.parentThreadID)
		}

	case "response_item":
		switch jsonl.String(payload, "type") {
		case "message":
			role, ok := conversation.ClassifyRole(jsonl.String(payload, "role"))
			if !ok || role == models.RoleSystem {
				return
			}
			text := conversation.Text(payload["content"])
			if role == models.RoleUser && isHarnessText(text) {
				return
			}
			if role == models.RoleUser && r.title == "" {
				r.title = strings.TrimSpace(text)
			}
			r.add(role, text, ts)

		case "function_call":
			callID := jsonl.String(payload, "call_id")
			if callID == "" {
				return
			}
			calls[callID] = pendingCall{
				name: jsonl.String(payload, "name"),
				args: decodeObject(jsonl.String(payload, "arguments")),
				at:   ts,
			}

		case "function_call_output":
			callID := jsonl.String(payload, "call_id")
			call, ok := calls[callID]
			if !ok {
				return
			}
			delete(calls, callID)
			r.applyCallOutput(callID, call, outputObject(payload["output"]), ts)
		}

	case "event_msg":
		switch jsonl.String(payload, "type") {
		case "agent_message":
			text := strings.TrimSpace(jsonl.String(payload, "message"))
			if text == "" || text == r.lastAssistant {
				return
			}
			r.add(models.RoleAssistant, text, ts)
		case "task_started":
			r.status = models.StatusRunning
		case "task_complete":
			r.status = models.StatusCompleted
		case "turn_aborted", "error":
			r.status = models.StatusErrored
		}

	case "compacted":
		r.builder.Compact(jsonl.String(payload, "message"), ts)
	}
}

// add appends a message. Codex mirrors final answers as both a
// response_item and an agent_message event, so the latest assistant text is
// remembered for dedupe.
func (r *rollout) add(role models.Role, text string, ts *time.Time) {
	if !r.builder.Add(role, text, ts) {
		return
	}
	if role == models.RoleAssistant {
		r.lastAssistant = strings.TrimSpace(text)
	} else {
		r.lastAssistant = ""
	}
}

func (r *rollout) applyCallOutput(callID string, call pendingCall, out map[string]interface{}, ts *time.Time) {
	switch call.name {
	case "spawn_agent":
		agentID := strings.ToLower(jsonl.String(out, "agent_id"))
		if agentID == "" {
			return
		}
		r.spawns = append(r.spawns, spawn{callID: callID, agentID: agentID, at: call.at})
		r.event(agentID, call.at, "spawn_agent", "spawned by "+callID)
		r.observe(agentID, models.StatusPendingInit, ts)

	case "wait":
		for _, agentID := range waitTargets(call.args) {
			status := statusFrom(out, agentID)
			r.event(agentID, ts, "wait", describeStatus(status, out))
			r.observe(agentID, status, ts)
		}

	case "close_agent":
		agentID := strings.ToLower(jsonl.String(call.args, "id"))
		if agentID == "" {
			return
		}
		r.event(agentID, ts, "close_agent", describeStatus(statusFrom(out, agentID), out))
		r.observe(agentID, models.StatusShutdown, ts)
	}
}

func (r *rollout) event(agentID string, ts *time.Time, name, detail string) {
	if _, ok := r.lifecycle[agentID]; !ok {
		r.addressed = append(r.addressed, agentID)
	}
	r.lifecycle[agentID] = append(r.lifecycle[agentID], models.LifecycleEvent{
		Timestamp: ts,
		Event:     name,
		Detail:    detail,
	})
}

func (r *rollout) observe(agentID, status string, ts *time.Time) {
	if status == "" || status == models.StatusUnknown {
		if _, ok := r.childStatus[agentID]; ok {
			return
		}
		status = models.StatusUnknown
	}
	r.childStatus[agentID] = status
	if ts != nil {
		r.childSeenAt[agentID] = ts
	}
}

// waitTargets reads the agent ids a wait call blocks on.
func waitTargets(args map[string]interface{}) []string {
	var ids []string
	for _, v := range jsonl.Array(args, "ids") {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, strings.ToLower(s))
		}
	}
	if id := jsonl.String(args, "id"); id != "" {
		ids = append(ids, strings.ToLower(id))
	}
	return ids
}

var knownStatuses = map[string]string{
	"pending_init": models.StatusPendingInit,
	"pendinginit":  models.StatusPendingInit,
	"running":      models.StatusRunning,
	"completed":    models.StatusCompleted,
	"errored":      models.StatusErrored,
	"error":        models.StatusErrored,
	"shutdown":     models.StatusShutdown,
	"not_found":    models.StatusNotFound,
	"notfound":     models.StatusNotFound,
}

// statusFrom reads a tool output status. Codex reports it either as
// {"status": {"<state>": detail}} or keyed by agent id first.
func statusFrom(out map[string]interface{}, agentID string) string {
	status := out["status"]
	if obj, ok := status.(map[string]interface{}); ok {
		if nested, ok := obj[agentID]; ok {
			status = nested
		}
	}
	switch v := status.(type) {
	case string:
		return normalizeStatus(v)
	case map[string]interface{}:
		for key := range v {
			if s := normalizeStatus(key); s != models.StatusUnknown {
				return s
			}
		}
	}
	return models.StatusUnknown
}

func normalizeStatus(s string) string {
	if status, ok := knownStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return status
	}
	return models.StatusUnknown
}

func describeStatus(status string, out map[string]interface{}) string {
	detail := "status=" + status
	if timedOut, ok := out["timed_out"].(bool); ok && timedOut {
		detail += " (timed out)"
	}
	return detail
}

func isHarnessText(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range harnessPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func decodeObject(s string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// outputObject decodes a function_call_output payload, which Codex stores
// as a JSON string or as {"content": "<json>"}.
func outputObject(v interface{}) map[string]interface{} {
	switch x := v.(type) {
	case string:
		return decodeObject(x)
	case map[string]interface{}:
		if content, ok := x["content"].(string); ok {
			if obj := decodeObject(content); obj != nil {
				return obj
			}
		}
		return x
	}
	return nil
}
