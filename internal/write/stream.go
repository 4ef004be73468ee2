package write

import (
	"strings"

	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/provider"
)

// Sink receives a write's progress as the provider streams it.
type Sink interface {
	// SessionReady is called when the stream names the conversation id.
	SessionReady(kind provider.Kind, id string)
	// Text is called with assistant text as it arrives.
	Text(delta string)
	// Warning is called for each dropped or ignored query parameter
	// before the provider CLI starts.
	Warning(msg string)
}

// NopSink discards progress.
type NopSink struct{}

func (NopSink) SessionReady(provider.Kind, string) {}
func (NopSink) Text(string)                        {}
func (NopSink) Warning(string)                     {}

// decoder accumulates what a provider's JSON event stream reports.
type decoder struct {
	kind      provider.Kind
	sessionID string
	final     string
	streamed  strings.Builder
	delta     bool
	streamErr string
	events    int
	sink      Sink
}

func newDecoder(kind provider.Kind, sessionID string, sink Sink) *decoder {
	if sink == nil {
		sink = NopSink{}
	}
	return &decoder{kind: kind, sessionID: sessionID, sink: sink}
}

func (d *decoder) session(id string) {
	if id == "" || id == d.sessionID {
		return
	}
	d.sessionID = id
	d.sink.SessionReady(d.kind, id)
}

// text reports a complete assistant message.
func (d *decoder) text(s string) {
	if s == "" {
		return
	}
	d.sink.Text(s)
	d.final = s
}

// appendDelta reports a streamed fragment of the assistant message.
func (d *decoder) appendDelta(s string) {
	if s == "" {
		return
	}
	d.sink.Text(s)
	d.streamed.WriteString(s)
	d.final = d.streamed.String()
	d.delta = true
}

func (d *decoder) handle(ev map[string]interface{}) error {
	d.events++
	if h, ok := handlers[d.kind]; ok {
		h(d, ev)
	}
	return nil
}

var handlers = map[provider.Kind]func(*decoder, map[string]interface{}){
	provider.Codex:    codexEvent,
	provider.Claude:   claudeEvent,
	provider.Amp:      claudeEvent,
	provider.Gemini:   geminiEvent,
	provider.Pi:       piEvent,
	provider.Opencode: opencodeEvent,
}

func codexEvent(d *decoder, ev map[string]interface{}) {
	switch jsonl.String(ev, "type") {
	case "thread.started":
		d.session(jsonl.String(ev, "thread_id"))
	case "item.completed":
		if jsonl.String(ev, "item", "type") == "agent_message" {
			d.text(jsonl.String(ev, "item", "text"))
		}
	case "turn.failed", "error":
		if msg := firstString(ev, []string{"error", "message"}, []string{"message"}); msg != "" {
			d.streamErr = msg
		}
	}
}

// claudeEvent decodes the stream-json format shared by Claude Code and Amp.
func claudeEvent(d *decoder, ev map[string]interface{}) {
	switch jsonl.String(ev, "type") {
	case "system":
		if jsonl.String(ev, "subtype") == "init" {
			d.session(jsonl.String(ev, "session_id"))
		}
	case "assistant":
		d.text(joinedText(jsonl.Array(ev, "message", "content")))
		d.session(jsonl.String(ev, "session_id"))
	case "result":
		d.session(jsonl.String(ev, "session_id"))
		isError, _ := jsonl.Get(ev, "is_error").(bool)
		if isError || jsonl.String(ev, "subtype") == "error" {
			d.streamErr = firstString(ev, []string{"result"}, []string{"error", "message"})
			if d.streamErr == "" {
				d.streamErr = "unknown error"
			}
		}
		if d.final == "" {
			d.text(jsonl.String(ev, "result"))
		}
	}
}

func geminiEvent(d *decoder, ev map[string]interface{}) {
	d.session(jsonl.String(ev, "session_id"))
	switch jsonl.String(ev, "type") {
	case "message":
		if jsonl.String(ev, "role") != "assistant" {
			break
		}
		if isDelta, _ := jsonl.Get(ev, "delta").(bool); isDelta {
			d.appendDelta(jsonl.String(ev, "content"))
		} else {
			d.text(jsonl.String(ev, "content"))
		}
	case "result":
		if jsonl.String(ev, "status") != "success" {
			d.streamErr = firstString(ev, []string{"error"}, []string{"error", "message"}, []string{"message"}, []string{"status"})
			if d.streamErr == "" {
				d.streamErr = "unknown error"
			}
		}
	}
	if d.final == "" {
		d.text(jsonl.String(ev, "response"))
	}
}

func piEvent(d *decoder, ev map[string]interface{}) {
	switch jsonl.String(ev, "type") {
	case "session":
		d.session(jsonl.String(ev, "id"))
	case "message_update":
		if jsonl.String(ev, "assistantMessageEvent", "type") == "text_delta" {
			d.appendDelta(jsonl.String(ev, "assistantMessageEvent", "delta"))
		}
	case "message_end", "turn_end":
		if d.delta {
			return
		}
		msg := jsonl.Object(ev, "message")
		if jsonl.String(msg, "role") != "assistant" {
			return
		}
		if s := jsonl.String(msg, "content"); s != "" {
			d.text(s)
			return
		}
		d.text(joinedText(jsonl.Array(msg, "content")))
	}
}

func opencodeEvent(d *decoder, ev map[string]interface{}) {
	d.session(firstString(ev, []string{"sessionID"}, []string{"sessionId"}, []string{"part", "sessionID"}))

	if jsonl.String(ev, "type") == "error" {
		d.streamErr = firstString(ev,
			[]string{"error", "data", "message"}, []string{"error", "message"}, []string{"message"})
		if d.streamErr == "" {
			d.streamErr = "unknown error"
		}
		return
	}
	if delta := firstString(ev, []string{"delta"}, []string{"textDelta"}, []string{"message", "delta"}); delta != "" {
		d.appendDelta(delta)
		return
	}
	if d.delta {
		return
	}
	switch {
	case jsonl.String(ev, "role") == "assistant":
		d.text(contentText(jsonl.Get(ev, "content")))
	case jsonl.String(ev, "message", "role") == "assistant":
		d.text(contentText(jsonl.Get(ev, "message", "content")))
	case jsonl.String(ev, "type") == "text" && jsonl.String(ev, "part", "type") == "text":
		d.text(jsonl.String(ev, "part", "text"))
	default:
		d.text(jsonl.String(ev, "response"))
	}
}

// joinedText concatenates the text items of a content array.
func joinedText(items []interface{}) string {
	var b strings.Builder
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok || jsonl.String(obj, "type") != "text" {
			continue
		}
		b.WriteString(jsonl.String(obj, "text"))
	}
	return b.String()
}

func contentText(v interface{}) string {
	switch c := v.(type) {
	case string:
		return c
	case []interface{}:
		return joinedText(c)
	}
	return ""
}

func firstString(ev map[string]interface{}, paths ...[]string) string {
	for _, p := range paths {
		if s := jsonl.String(ev, p...); s != "" {
			return s
		}
	}
	return ""
}
