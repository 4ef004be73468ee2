package config

import (
	"os"
	"path/filepath"

	"github.com/vanpelt/xurl/internal/provider"
)

// RuntimeConfig holds the storage roots of every provider and the CLI
// binaries used to write to them.
type RuntimeConfig struct {
	HomeDir string

	AmpRoot      string // $XDG_DATA_HOME/amp or ~/.local/share/amp
	CodexRoot    string // $CODEX_HOME or ~/.codex
	ClaudeRoot   string // $CLAUDE_CONFIG_DIR or ~/.claude
	GeminiRoot   string // $GEMINI_CLI_HOME/.gemini or ~/.gemini
	PiRoot       string // $PI_CODING_AGENT_DIR or ~/.pi/agent
	OpencodeRoot string // $XDG_DATA_HOME/opencode or ~/.local/share/opencode
}

// DetectRuntime resolves provider roots from the environment, falling back
// to each tool's default location under the home directory.
func DetectRuntime() *RuntimeConfig {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	config := &RuntimeConfig{HomeDir: homeDir}

	dataHome := filepath.Join(homeDir, ".local", "share")
	if v := env("XDG_DATA_HOME"); v != "" {
		dataHome = v
	}
	config.AmpRoot = filepath.Join(dataHome, "amp")
	config.OpencodeRoot = filepath.Join(dataHome, "opencode")

	config.CodexRoot = envOr("CODEX_HOME", filepath.Join(homeDir, ".codex"))
	config.ClaudeRoot = envOr("CLAUDE_CONFIG_DIR", filepath.Join(homeDir, ".claude"))
	config.PiRoot = envOr("PI_CODING_AGENT_DIR", filepath.Join(homeDir, ".pi", "agent"))

	config.GeminiRoot = filepath.Join(homeDir, ".gemini")
	if v := env("GEMINI_CLI_HOME"); v != "" {
		config.GeminiRoot = filepath.Join(v, ".gemini")
	}

	return config
}

// Root returns the storage root for kind.
func (rc *RuntimeConfig) Root(kind provider.Kind) string {
	switch kind {
	case provider.Amp:
		return rc.AmpRoot
	case provider.Codex:
		return rc.CodexRoot
	case provider.Claude:
		return rc.ClaudeRoot
	case provider.Gemini:
		return rc.GeminiRoot
	case provider.Pi:
		return rc.PiRoot
	case provider.Opencode:
		return rc.OpencodeRoot
	}
	return ""
}

// Binary returns the CLI used to write to kind, honouring XURL_<KIND>_BIN.
func (rc *RuntimeConfig) Binary(kind provider.Kind) string {
	d, err := provider.Resolve(string(kind))
	if err != nil {
		return string(kind)
	}
	return envOr(d.BinaryEnv(), string(kind))
}

func env(name string) string {
	return os.Getenv(name)
}

func envOr(name, fallback string) string {
	if v := env(name); v != "" {
		return v
	}
	return fallback
}
