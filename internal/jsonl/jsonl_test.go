package jsonl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanpelt/xurl/internal/xerr"
)

func TestParseSkipsMalformedLines(t *testing.T) {
	raw := []byte("{\"type\":\"a\"}\nnot json\n\n[1,2]\n{\"type\":\"b\"}")
	res := Parse(raw)

	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Records[0].Line)
	assert.Equal(t, 5, res.Records[1].Line)
	assert.Equal(t, `{"type":"b"}`, string(res.Records[1].Raw))
	assert.Equal(t, []int{2, 4}, res.Skipped)
	assert.Equal(t, 4, res.NonBlank)
}

func TestReadFileCorrupt(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0644))
	_, _, err := ReadFile(empty)
	assert.True(t, errors.Is(err, xerr.ErrCorruptStore))

	garbage := filepath.Join(dir, "garbage.jsonl")
	require.NoError(t, os.WriteFile(garbage, []byte("nope\nstill nope\n"), 0644))
	raw, res, err := ReadFile(garbage)
	assert.True(t, errors.Is(err, xerr.ErrCorruptStore))
	assert.Equal(t, "nope\nstill nope\n", string(raw))
	assert.Len(t, res.Skipped, 2)

	good := filepath.Join(dir, "good.jsonl")
	require.NoError(t, os.WriteFile(good, []byte("{\"a\":1}\nbad\n"), 0644))
	_, res, err = ReadFile(good)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	_, _, err = ReadFile(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}

func TestHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":1}\n\nbad\n{\"n\":2}\n{\"n\":3}\n"), 0644))

	objs, err := Head(path, 3)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, float64(2), objs[1]["n"])
}

func TestStream(t *testing.T) {
	input := "warming up\n{\"type\":\"x\"}\n{\"type\":\"y\"}"
	var types, texts []string
	err := Stream(strings.NewReader(input), func(obj map[string]interface{}) error {
		types = append(types, String(obj, "type"))
		return nil
	}, func(s string) { texts = append(texts, s) })

	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, types)
	assert.Equal(t, []string{"warming up"}, texts)

	stop := errors.New("stop")
	err = Stream(strings.NewReader(input), func(map[string]interface{}) error { return stop }, nil)
	assert.ErrorIs(t, err, stop)
}

func TestGetters(t *testing.T) {
	obj := map[string]interface{}{
		"payload": map[string]interface{}{
			"type":  "message",
			"items": []interface{}{1.0},
		},
	}
	assert.Equal(t, "message", String(obj, "payload", "type"))
	assert.Equal(t, "", String(obj, "payload", "missing"))
	assert.Equal(t, "", String(obj, "payload", "type", "deeper"))
	assert.NotNil(t, Object(obj, "payload"))
	assert.Len(t, Array(obj, "payload", "items"), 1)
}
