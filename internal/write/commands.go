package write

import (
	"context"
	"strings"

	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/xerr"
)

// SessionLocator finds the on-disk session for id. Pi resumes a session by
// file path rather than by id.
type SessionLocator interface {
	Locate(ctx context.Context, id string) (string, error)
}

// invocation is what a provider needs to run one write.
type invocation struct {
	kind      provider.Kind
	sessionID string // empty on create
	prompt    string
	opts      *Options
}

// argsFor builds the provider CLI arguments. The prompt never occupies an
// argument slot where the provider CLI could parse it as an option: it
// follows a "--" terminator or is attached to its own flag with "=".
func (d *Dispatcher) argsFor(ctx context.Context, inv invocation) ([]string, error) {
	flags := inv.opts.args()
	resume := inv.sessionID != ""

	switch inv.kind {
	case provider.Codex:
		args := []string{"exec"}
		if resume {
			args = append(args, "resume")
		}
		args = append(args, "--json")
		args = append(args, flags...)
		args = append(args, "--")
		if resume {
			args = append(args, inv.sessionID)
		}
		return append(args, inv.prompt), nil

	case provider.Claude:
		args := []string{"-p", "--verbose", "--output-format", "stream-json"}
		args = append(args, flags...)
		if resume {
			args = append(args, "--resume", inv.sessionID)
		}
		return append(args, "--", inv.prompt), nil

	case provider.Amp:
		var args []string
		if resume {
			args = append(args, "threads", "continue", inv.sessionID)
		}
		args = append(args, "--execute="+inv.prompt, "--stream-json")
		return append(args, flags...), nil

	case provider.Gemini:
		args := []string{"--prompt=" + inv.prompt, "--output-format", "stream-json"}
		args = append(args, flags...)
		if resume {
			args = append(args, "--resume", inv.sessionID)
		}
		return args, nil

	case provider.Pi:
		// pi takes the prompt as a message argument after its print flag
		// and has no "--" terminator.
		if strings.HasPrefix(inv.prompt, "-") {
			return nil, xerr.New(xerr.KindUnsupportedOperation,
				"pi cannot receive a prompt starting with '-': it would be parsed as an option")
		}
		var args []string
		if resume {
			if d.piSessions == nil {
				return nil, xerr.New(xerr.KindUnsupportedOperation, "pi session lookup is not configured")
			}
			path, err := d.piSessions.Locate(ctx, inv.sessionID)
			if err != nil {
				return nil, err
			}
			args = append(args, "--session", path)
		}
		args = append(args, "-p", inv.prompt, "--mode", "json")
		return append(args, flags...), nil

	case provider.Opencode:
		args := []string{"run"}
		args = append(args, flags...)
		if resume {
			args = append(args, "--session", inv.sessionID)
		}
		return append(args, "--format", "json", "--", inv.prompt), nil
	}
	return nil, xerr.New(xerr.KindUnknownProvider, "unsupported provider: %s", inv.kind)
}

// redacted is the command line with the prompt replaced, for error messages.
func redacted(cmd Command, prompt string) string {
	if prompt == "" {
		return cmd.String()
	}
	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		switch {
		case a == prompt:
			args[i] = "<prompt>"
		case strings.HasSuffix(a, "="+prompt) && strings.HasPrefix(a, "--"):
			args[i] = strings.TrimSuffix(a, prompt) + "<prompt>"
		default:
			args[i] = a
		}
	}
	return Command{Binary: cmd.Binary, Args: args}.String()
}
