// Package write creates and continues conversations by running each
// provider's own CLI. It never touches provider storage directly.
package write

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/vanpelt/xurl/internal/jsonl"
	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/uri"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Request is one write: a reference in write mode and the prompt.
type Request struct {
	Ref     uri.Reference
	Payload string
}

// Result describes the conversation a write created or continued.
type Result struct {
	Provider  provider.Kind
	SessionID string
	// Created is false when an existing conversation was appended to
	Created bool
	// Text is the final assistant message, when the stream carried one
	Text     string
	Warnings []string
}

// URI is the canonical reference to the affected conversation.
func (r *Result) URI() string {
	return uri.Reference{Provider: r.Provider, ConversationID: r.SessionID}.String()
}

// BinaryFunc names the executable for a provider.
type BinaryFunc func(kind provider.Kind) string

// Dispatcher validates write references and runs the provider CLI.
type Dispatcher struct {
	runner     ProcessRunner
	binary     BinaryFunc
	piSessions SessionLocator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBinaries overrides how provider executables are named.
func WithBinaries(fn BinaryFunc) Option {
	return func(d *Dispatcher) { d.binary = fn }
}

// WithPiSessions sets how pi session files are found for append.
func WithPiSessions(l SessionLocator) Option {
	return func(d *Dispatcher) { d.piSessions = l }
}

// NewDispatcher creates a dispatcher running commands through runner.
func NewDispatcher(runner ProcessRunner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner: runner,
		binary: func(kind provider.Kind) string { return string(kind) },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one write. Validation failures are returned before any
// process is started.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, sink Sink) (*Result, error) {
	ref := req.Ref
	if ref.ChildID != "" {
		return nil, xerr.New(xerr.KindInvalidWriteTarget,
			"cannot write to a child thread: %s (write to the main thread instead)", ref.String())
	}
	desc, err := provider.Resolve(string(ref.Provider))
	if err != nil {
		return nil, err
	}

	create := ref.ConversationID == ""
	sessionID := ""
	if !create {
		if sessionID, err = desc.ValidateSessionID(ref.ConversationID); err != nil {
			return nil, err
		}
	}
	opts, err := ResolveOptions(desc, ref.Query, create)
	if err != nil {
		return nil, err
	}

	args, err := d.argsFor(ctx, invocation{
		kind:      desc.Kind,
		sessionID: sessionID,
		prompt:    req.Payload,
		opts:      opts,
	})
	if err != nil {
		return nil, err
	}
	cmd := Command{Binary: d.binary(desc.Kind), Args: args, Dir: opts.Workdir}

	dec := newDecoder(desc.Kind, sessionID, sink)
	for _, w := range opts.Warnings {
		dec.sink.Warning(w)
	}
	outcome, err := d.run(ctx, cmd, dec)
	if err != nil {
		return nil, err
	}
	if outcome.ExitCode != 0 {
		return nil, xerr.ProcessFailure(redacted(cmd, req.Payload), outcome.ExitCode, outcome.Stderr)
	}

	switch {
	case dec.events == 0:
		return nil, xerr.New(xerr.KindExternalProcessFailure, "%s output does not contain JSON events", desc.Kind)
	case dec.streamErr != "":
		return nil, xerr.New(xerr.KindExternalProcessFailure, "%s stream returned an error: %s", desc.Kind, dec.streamErr)
	case dec.sessionID == "":
		return nil, xerr.New(xerr.KindExternalProcessFailure, "missing session id in %s event stream", desc.Kind)
	}

	id := dec.sessionID
	if normalized, ok := desc.NormalizeSessionID(id); ok {
		id = normalized
	}
	logger.Debugf("write: %s session %s (created=%v)", desc.Kind, id, create)
	return &Result{
		Provider:  desc.Kind,
		SessionID: id,
		Created:   create,
		Text:      dec.final,
		Warnings:  opts.Warnings,
	}, nil
}

// run feeds the child's stdout through the decoder while it runs.
func (d *Dispatcher) run(ctx context.Context, cmd Command, dec *decoder) (*Outcome, error) {
	pr, pw := io.Pipe()

	var g errgroup.Group
	g.Go(func() error {
		err := jsonl.Stream(pr, dec.handle, func(line string) {
			logger.Debugf("write: %s non-json output: %s", dec.kind, line)
		})
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
		return err
	})

	outcome, runErr := d.runner.Run(ctx, cmd, pw)
	pw.Close()
	streamErr := g.Wait()

	if runErr != nil {
		return nil, runErr
	}
	if streamErr != nil {
		return nil, xerr.Wrap(xerr.KindExternalProcessFailure, streamErr, "failed to read %s output", dec.kind)
	}
	return outcome, nil
}
