// Package jsonl reads line-delimited JSON logs, skipping lines that do not
// decode instead of failing the whole file.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Record is one decoded line.
type Record struct {
	// Line is 1-based
	Line  int
	Raw   []byte
	Value map[string]interface{}
}

// Result holds every decodable record of a log plus bookkeeping about the
// lines that were dropped.
type Result struct {
	Records []Record
	// NonBlank counts lines with content, decodable or not
	NonBlank int
	// Skipped lists 1-based line numbers that failed to decode
	Skipped []int
}

// Parse splits raw into lines and decodes each as a JSON object.
func Parse(raw []byte) *Result {
	res := &Result{}
	lineNo := 0
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		lineNo++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		res.NonBlank++

		var obj map[string]interface{}
		if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
			res.Skipped = append(res.Skipped, lineNo)
			continue
		}
		res.Records = append(res.Records, Record{Line: lineNo, Raw: line, Value: obj})
	}
	return res
}

// ReadFile reads and parses path. A file that yields no usable record is a
// CorruptStore error; the raw bytes are returned either way.
func ReadFile(path string) ([]byte, *Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	res := Parse(raw)
	if len(res.Skipped) > 0 {
		logger.Debugf("skipped %d malformed line(s) in %s", len(res.Skipped), path)
	}
	if len(res.Records) == 0 {
		if res.NonBlank == 0 {
			return raw, res, xerr.New(xerr.KindCorruptStore, "thread file is empty: %s", path)
		}
		return raw, res, xerr.New(xerr.KindCorruptStore, "no parseable records in %s (%d malformed line(s))", path, len(res.Skipped))
	}
	return raw, res, nil
}

// Head decodes at most n non-blank lines from the start of path. It is used
// for cheap header checks while scanning directories.
func Head(path string, n int) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]interface{}
	reader := bufio.NewReader(f)
	seen := 0
	for seen < n {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			seen++
			var obj map[string]interface{}
			if json.Unmarshal(trimmed, &obj) == nil && obj != nil {
				out = append(out, obj)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Stream calls fn for each JSON object read from r. Non-JSON lines are
// passed to onText when it is non-nil. Stream stops at the first error
// returned by fn.
func Stream(r io.Reader, fn func(map[string]interface{}) error, onText func(string)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var obj map[string]interface{}
			if json.Unmarshal(trimmed, &obj) == nil && obj != nil {
				if fnErr := fn(obj); fnErr != nil {
					return fnErr
				}
			} else if onText != nil {
				onText(string(trimmed))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Get walks nested objects by key and returns the value at the end of path.
func Get(obj map[string]interface{}, path ...string) interface{} {
	var cur interface{} = obj
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// String is Get narrowed to a string; missing or non-string values give "".
func String(obj map[string]interface{}, path ...string) string {
	s, _ := Get(obj, path...).(string)
	return s
}

// Object is Get narrowed to an object.
func Object(obj map[string]interface{}, path ...string) map[string]interface{} {
	m, _ := Get(obj, path...).(map[string]interface{})
	return m
}

// Array is Get narrowed to an array.
func Array(obj map[string]interface{}, path ...string) []interface{} {
	a, _ := Get(obj, path...).([]interface{})
	return a
}
