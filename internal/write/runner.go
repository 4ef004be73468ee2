package write

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/recovery"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Command is one provider CLI invocation. Arguments are passed to the
// process directly; no shell is involved.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty means inherit
	Dir string
}

// String renders the command line for error messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Outcome is how a finished process exited.
type Outcome struct {
	// ExitCode is the process exit status, or 128+signo when it was killed
	// by a signal.
	ExitCode int
	Stderr   string
}

// ProcessRunner runs provider CLIs. Implementations copy the child's stdout
// to stdout as it is produced and return once the child has exited. A
// non-zero exit is reported through Outcome; err is for a child that could
// not be started at all.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command, stdout io.Writer) (*Outcome, error)
}

// forwardedSignals are relayed to the child so an interrupted xurl does not
// leave an orphaned writer behind.
var forwardedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// Interrupted is the cancellation cause recorded by NotifyContext.
type Interrupted struct {
	Signal os.Signal
}

func (i Interrupted) Error() string {
	return "interrupted by " + i.Signal.String()
}

// NotifyContext works like signal.NotifyContext but records the received
// signal as the context's cause. ExecRunner relays such a signal to the
// child itself and does not interrupt it again when the context ends.
func NotifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	recovery.SafeGo("signal context", func() {
		select {
		case sig := <-ch:
			cancel(Interrupted{Signal: sig})
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		signal.Stop(ch)
		cancel(context.Canceled)
	}
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a runner for real subprocesses.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements ProcessRunner. Cancelling ctx interrupts the child rather
// than killing it, giving the provider CLI a chance to flush its session.
func (r *ExecRunner) Run(ctx context.Context, c Command, stdout io.Writer) (*Outcome, error) {
	if ctx.Err() != nil {
		return nil, xerr.Wrap(xerr.KindExternalProcessFailure, context.Cause(ctx), "%s was not started", c.Binary)
	}
	cmd := exec.Command(c.Binary, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	detach(cmd)

	// Registered before Start so no signal falls between the two.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, forwardedSignals...)

	logger.Debugf("write: running %s (dir=%q)", c, c.Dir)
	if err := cmd.Start(); err != nil {
		signal.Stop(signals)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			e := xerr.Wrap(xerr.KindExternalProcessFailure, err, "command not found: %s", c.Binary)
			e.ExitCode = 127
			return nil, e
		}
		return nil, xerr.Wrap(xerr.KindExternalProcessFailure, err, "failed to start %s", c.Binary)
	}

	done := make(chan struct{})
	forwarded := make(chan struct{})
	recovery.SafeGo("forward signals to "+c.Binary, func() {
		defer close(forwarded)
		cancelled := ctx.Done()
		for {
			select {
			case sig := <-signals:
				logger.Debugf("write: forwarding %v to %s", sig, c.Binary)
				_ = cmd.Process.Signal(sig)
			case <-cancelled:
				cancelled = nil
				var relayed Interrupted
				if errors.As(context.Cause(ctx), &relayed) {
					continue
				}
				_ = cmd.Process.Signal(os.Interrupt)
			case <-done:
				return
			}
		}
	})

	err := cmd.Wait()
	signal.Stop(signals)
	close(done)
	<-forwarded

	out := &Outcome{Stderr: strings.TrimSpace(stderr.String())}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, xerr.Wrap(xerr.KindExternalProcessFailure, err, "failed to wait for %s", c.Binary)
	}
	out.ExitCode = exitStatus(exitErr.ProcessState)
	return out, nil
}

func exitStatus(ps *os.ProcessState) int {
	if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	if code := ps.ExitCode(); code > 0 {
		return code
	}
	return 1
}
