package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/xurl/internal/config"
	"github.com/vanpelt/xurl/internal/write"
	"github.com/vanpelt/xurl/internal/xerr"
)

const (
	piSession    = "12cb4c19-2774-4de4-a0d0-9fa32fbae29f"
	codexSession = "019c871c-b1f9-7f60-9c4f-87ed09f13592"
)

const codexStream = `{"type":"thread.started","thread_id":"` + codexSession + `"}
{"type":"turn.started"}
{"type":"item.completed","item":{"id":"item_0","type":"agent_message","text":"on it"}}
{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":2}}
`

type harness struct {
	app    *App
	runner *write.MockRunner
	stdin  *bytes.Buffer
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "pi", "sessions", "--tmp-project--", "2026-02-23T13-00-12-780Z_"+piSession+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		`{"type":"session","version":3,"id":"` + piSession + `","timestamp":"2026-02-23T13:00:12.780Z","cwd":"/tmp/project"}`,
		`{"type":"message","id":"a1b2c3d4","parentId":null,"timestamp":"2026-02-23T13:00:13.000Z","message":{"role":"user","content":[{"type":"text","text":"hello"}]}}`,
		`{"type":"message","id":"b1b2c3d4","parentId":"a1b2c3d4","timestamp":"2026-02-23T13:00:14.000Z","message":{"role":"assistant","content":[{"type":"text","text":"world"}]}}`,
	}, "\n")+"\n"), 0644))

	h := &harness{
		runner: write.NewMockRunner(codexStream),
		stdin:  &bytes.Buffer{},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	h.app = &App{
		Config: &config.RuntimeConfig{
			HomeDir:      root,
			PiRoot:       filepath.Join(root, "pi"),
			CodexRoot:    filepath.Join(root, "codex"),
			ClaudeRoot:   filepath.Join(root, "claude"),
			AmpRoot:      filepath.Join(root, "amp"),
			GeminiRoot:   filepath.Join(root, "gemini"),
			OpencodeRoot: filepath.Join(root, "opencode"),
		},
		Runner: h.runner,
		Stdin:  h.stdin,
		Stdout: h.stdout,
		Stderr: h.stderr,
	}
	return h
}

func (h *harness) run(args ...string) error {
	cmd := NewRootCmd(h.app)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestReadOutputsMarkdown(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("agents://pi/"+piSession))
	out := h.stdout.String()
	assert.True(t, strings.HasPrefix(out, "---\n"))
	assert.Contains(t, out, "uri: agents://pi/"+piSession)
	assert.Contains(t, out, "mode: pi_entry_index")
	assert.Contains(t, out, "# Thread")
	assert.Contains(t, out, "## 1. User\n\nhello")
	assert.Contains(t, out, "## 2. Assistant\n\nworld")
	assert.Empty(t, h.stderr.String())
}

func TestHeadOutputsFrontmatterOnly(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("-I", "pi/"+piSession))
	out := h.stdout.String()
	assert.Contains(t, out, "entries:")
	assert.Contains(t, out, "is_leaf: true")
	assert.NotContains(t, out, "# Thread")
}

func TestRawOutputsRecords(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("--raw", "agents://pi/"+piSession))
	assert.True(t, strings.HasPrefix(h.stdout.String(), `{"type":"session"`))
	assert.Equal(t, 3, strings.Count(h.stdout.String(), "\n"))
}

func TestOutputFlagWritesFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "thread.md")

	require.NoError(t, h.run("-o", path, "agents://pi/"+piSession))
	assert.Empty(t, h.stdout.String())
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "# Thread")
}

func TestReadWarnsAboutQuery(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("agents://pi/"+piSession+"?model=x"))
	assert.Equal(t, "warning: ignored query parameter `model`: not supported when reading a thread\n", h.stderr.String())
}

func TestDiscoveryRejectsBadLimit(t *testing.T) {
	h := newHarness(t)

	err := h.run("agents://pi?limit=-1")
	assert.ErrorIs(t, err, xerr.ErrInvalidURI)
}

func TestHeadWithDataConflicts(t *testing.T) {
	h := newHarness(t)

	err := h.run("-I", "-d", "hi", "agents://codex")
	assert.ErrorIs(t, err, xerr.ErrModeConflict)
	assert.Equal(t, 1, xerr.ExitCode(err))
	assert.Empty(t, h.runner.Calls())
}

func TestCreateReportsURI(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	require.NoError(t, h.run("-d", "fix the flaky test", "agents://codex?workdir="+dir+"&model=gpt-5"))
	assert.Equal(t, "on it\n", h.stdout.String())
	assert.Equal(t, "created: agents://codex/"+codexSession+"\n", h.stderr.String())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, dir, calls[0].Dir)
	assert.Equal(t, []string{"exec", "--json", "--cd", dir, "--model", "gpt-5", "--", "fix the flaky test"}, calls[0].Args)
}

func TestAppendWarnsAndReportsURI(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("-d", "continue", "agents://codex/"+codexSession+"?flag=1"))
	assert.Contains(t, h.stderr.String(), "warning: ignored query parameter `flag`")
	assert.True(t, strings.HasSuffix(h.stderr.String(), "updated: agents://codex/"+codexSession+"\n"))

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"exec", "resume", "--json", "--", codexSession, "continue"}, calls[0].Args)
}

func TestEmptyWorkdirFailsBeforeRunning(t *testing.T) {
	h := newHarness(t)

	err := h.run("-d", "hi", "agents://codex?workdir=&model=gpt-5")
	assert.ErrorIs(t, err, xerr.ErrInvalidWorkdir)
	assert.Empty(t, h.runner.Calls())
}

func TestChildWriteIsRejected(t *testing.T) {
	h := newHarness(t)

	err := h.run("-d", "hi", "agents://codex/"+codexSession+"/019c87fb-38b9-7843-92b1-832f02598495")
	assert.ErrorIs(t, err, xerr.ErrInvalidWriteTarget)
	assert.Empty(t, h.runner.Calls())
}

func TestRejectedWriteLeavesNoOutputFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "reply.md")

	err := h.run("-o", path, "-d", "hi", "agents://codex/"+codexSession+"/019c87fb-38b9-7843-92b1-832f02598495")
	assert.ErrorIs(t, err, xerr.ErrInvalidWriteTarget)
	assert.NoFileExists(t, path)
}

func TestWriteOutputFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "reply.md")

	require.NoError(t, h.run("-o", path, "-d", "hi", "agents://codex"))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "on it\n", string(written))
	assert.Empty(t, h.stdout.String())
}

func TestWriteFailureExitCode(t *testing.T) {
	h := newHarness(t)
	h.runner.Stdout = ""
	h.runner.ExitCode = 42
	h.runner.Stderr = "quota exceeded"

	err := h.run("-d", "hi", "agents://codex?json=1")
	require.Error(t, err)
	assert.Equal(t, 42, xerr.ExitCode(err))
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, "warning: ignored query parameter `json`: reserved by xurl for this provider\n", h.stderr.String())
}

func TestDataFromStdinAndFiles(t *testing.T) {
	h := newHarness(t)
	h.stdin.WriteString("from stdin\n")
	file := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(file, []byte("from file\n"), 0644))

	require.NoError(t, h.run("-d", "first", "-d", "@-", "-d", "@"+file, "agents://codex"))
	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Equal(t, "first\nfrom stdin\nfrom file", args[len(args)-1])
}

func TestReadPayload(t *testing.T) {
	got, err := readPayload([]string{"a,b", "c"}, strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "a,b\nc", got)

	_, err = readPayload([]string{"@-", "@-"}, strings.NewReader("x"))
	assert.Error(t, err)

	_, err = readPayload([]string{"@" + filepath.Join(t.TempDir(), "missing")}, nil)
	assert.ErrorContains(t, err, "i/o error on")
}

func TestFollowRejectsListing(t *testing.T) {
	h := newHarness(t)

	err := h.run("--follow", "agents://pi")
	assert.ErrorIs(t, err, xerr.ErrUnsupportedOperation)
}
