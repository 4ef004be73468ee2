package xerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("reading thread: %w", NotFound("codex", "abc", "/tmp/sessions"))

	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.NotErrorIs(t, err, ErrCorruptStore)
	assert.Equal(t, KindConversationNotFound, KindOf(err))
	assert.Equal(t, "reading thread: thread not found for provider=codex session_id=abc (searched: [/tmp/sessions])", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindCorruptStore, fs.ErrPermission, "failed to open %s", "opencode.db")

	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.ErrorIs(t, err, ErrCorruptStore)
	assert.Equal(t, "failed to open opencode.db: permission denied", err.Error())
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "invalid uri: codex:/x (empty path segment)", InvalidURI("codex:/x", "empty path segment").Error())
	assert.Equal(t, "invalid uri: ", InvalidURI("", "").Error())
	assert.Equal(t, "ModeConflict", (&Error{Kind: KindModeConflict}).Error())
	assert.Equal(t, "command failed: codex exec --json hi (exit code: 2): boom",
		ProcessFailure("codex exec --json hi", 2, "boom").Error())
	assert.Equal(t, "command failed: pi (exit code: 1)", ProcessFailure("pi", 1, "").Error())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"validation", New(KindInvalidWorkdir, "workdir must not be empty"), 1},
		{"child exit status", ProcessFailure("codex", 3, ""), 3},
		{"child killed by SIGTERM", fmt.Errorf("write: %w", ProcessFailure("claude", 143, "")), 143},
		{"process failure without status", New(KindExternalProcessFailure, "missing session id"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}
