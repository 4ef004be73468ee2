package opencode

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vanpelt/xurl/internal/store"
)

// row is a message or part with its decoded data column.
type row struct {
	id        string
	messageID string
	created   int64
	data      map[string]interface{}
}

// sessionRow is the subset of the session table xurl reads. Older
// databases lack some columns; they stay zero.
type sessionRow struct {
	id       string
	parentID string
	title    string
	updated  int64
	created  int64
}

// schema records which optional session columns exist.
type schema struct {
	parentID bool
	title    bool
	updated  bool
	created  bool
}

func probe(db *sql.DB) schema {
	return schema{
		parentID: store.HasColumn(db, "session", "parent_id"),
		title:    store.HasColumn(db, "session", "title"),
		updated:  store.HasColumn(db, "session", "time_updated"),
		created:  store.HasColumn(db, "session", "time_created"),
	}
}

func (sc schema) columns() string {
	cols := "id"
	for _, c := range []struct {
		ok   bool
		expr string
	}{
		{sc.parentID, "COALESCE(parent_id, '')"},
		{sc.title, "COALESCE(title, '')"},
		{sc.updated, "COALESCE(time_updated, 0)"},
		{sc.created, "COALESCE(time_created, 0)"},
	} {
		if c.ok {
			cols += ", " + c.expr
		} else {
			cols += ", NULL"
		}
	}
	return cols
}

func scanSession(rows interface{ Scan(...interface{}) error }) (*sessionRow, error) {
	var (
		s                sessionRow
		parent, title    sql.NullString
		updated, created sql.NullInt64
	)
	if err := rows.Scan(&s.id, &parent, &title, &updated, &created); err != nil {
		return nil, err
	}
	s.parentID, s.title = parent.String, title.String
	s.updated, s.created = updated.Int64, created.Int64
	return &s, nil
}

// getSession returns the row for id, or nil when there is none.
func getSession(db *sql.DB, sc schema, id string) (*sessionRow, error) {
	r := db.QueryRow("SELECT "+sc.columns()+" FROM session WHERE id = ? LIMIT 1", id)
	s, err := scanSession(r)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func querySessions(db *sql.DB, sc schema, where string, args ...interface{}) ([]*sessionRow, error) {
	rows, err := db.Query("SELECT "+sc.columns()+" FROM session "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sessionRow
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// topLevel lists sessions that were not spawned by another session.
func topLevel(db *sql.DB, sc schema) ([]*sessionRow, error) {
	if !sc.parentID {
		return querySessions(db, sc, "")
	}
	return querySessions(db, sc, "WHERE parent_id IS NULL OR parent_id = ''")
}

func childSessions(db *sql.DB, sc schema, parentID string) ([]*sessionRow, error) {
	if !sc.parentID {
		return nil, nil
	}
	return querySessions(db, sc, "WHERE parent_id = ?", parentID)
}

// fetch reads message or part rows for a session in creation order. Rows
// whose data column is not a JSON object are reported and skipped.
func fetch(db *sql.DB, query, sessionID, kind string) ([]row, []string, error) {
	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []row
	var warnings []string
	for rows.Next() {
		var r row
		var data string
		if err := rows.Scan(&r.id, &r.messageID, &r.created, &data); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(data), &r.data); err != nil || r.data == nil {
			if err == nil {
				err = fmt.Errorf("not an object")
			}
			warnings = append(warnings, fmt.Sprintf("skipped %s id=%s: invalid json payload (%v)", kind, r.id, err))
			continue
		}
		out = append(out, r)
	}
	return out, warnings, rows.Err()
}

const (
	messagesQuery = `SELECT id, id, time_created, data FROM message
		WHERE session_id = ? ORDER BY time_created ASC, id ASC`
	partsQuery = `SELECT id, message_id, time_created, data FROM part
		WHERE session_id = ? ORDER BY time_created ASC, id ASC`
)

// materialize renders a session as JSONL: a session header line, then one
// line per message carrying its parts. This is the raw form of a database
// backed conversation.
func materialize(sessionID string, messages []row, parts map[string][]map[string]interface{}) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]interface{}{"type": "session", "sessionId": sessionID})
	for _, m := range messages {
		p := parts[m.id]
		if p == nil {
			p = []map[string]interface{}{}
		}
		_ = enc.Encode(map[string]interface{}{
			"type":      "message",
			"id":        m.id,
			"sessionId": sessionID,
			"message":   m.data,
			"parts":     p,
		})
	}
	return buf.Bytes()
}
