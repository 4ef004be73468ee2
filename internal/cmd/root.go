package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vanpelt/xurl/internal/config"
	"github.com/vanpelt/xurl/internal/engine"
	"github.com/vanpelt/xurl/internal/logger"
	"github.com/vanpelt/xurl/internal/models"
	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/render"
	"github.com/vanpelt/xurl/internal/uri"
	"github.com/vanpelt/xurl/internal/write"
	"github.com/vanpelt/xurl/internal/xerr"
)

const long = `# xurl

**Read, list, create and continue AI agent conversations with one URI.**

## URIs

- **agents://codex/<id>** reads a thread as markdown
- **agents://codex/<id>/<child>** reads a subagent (or a pi branch entry)
- **agents://claude?q=flaky&limit=5** lists recent threads matching a keyword
- **codex/<id>** and **codex://<id>** are accepted as shorthand

Providers: amp, codex, claude, gemini, pi, opencode.

## Writing

Pass **-d** to send a prompt. Without an id a new thread is created;
with one the thread is continued.

- **xurl -d "fix the flaky test" "agents://codex?workdir=~/src/app"**
- **xurl -d @prompt.md agents://claude/<id>**`

var (
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// App carries what a single invocation reads from and writes to.
type App struct {
	Config *config.RuntimeConfig
	Runner write.ProcessRunner
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// TTY reports whether stdout and stderr are terminals
	TTY bool
}

type options struct {
	head    bool
	data    []string
	output  string
	raw     bool
	follow  bool
	pretty  bool
	verbose bool
}

// NewRootCmd builds the xurl command around app.
func NewRootCmd(app *App) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "xurl <uri>",
		Short:         "Read and write AI agent conversations by URI",
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Configure(logger.GetLogLevelFromEnv(opts.verbose))
			return app.run(cmd.Context(), args[0], opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetIn(app.Stdin)
	cmd.SetOut(app.Stdout)
	cmd.SetErr(app.Stderr)

	flags := cmd.Flags()
	flags.BoolVarP(&opts.head, "head", "I", false, "Output frontmatter only")
	flags.StringArrayVarP(&opts.data, "data", "d", nil, "Prompt to send; @file reads a file, @- reads stdin (repeatable)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write output to a file instead of stdout")
	flags.BoolVar(&opts.raw, "raw", false, "Output the provider's records unmodified")
	flags.BoolVarP(&opts.follow, "follow", "f", false, "Keep printing new messages as the thread grows")
	flags.BoolVar(&opts.pretty, "pretty", false, "Style markdown for the terminal")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
	return cmd
}

// Execute runs xurl against the real environment and exits.
func Execute() {
	app := &App{
		Config: config.DetectRuntime(),
		Runner: write.NewExecRunner(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		TTY:    isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stderr.Fd()),
	}
	ctx, stop := write.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd(app).ExecuteContext(ctx)
	stop()
	if err != nil {
		app.errorf("%v", err)
		os.Exit(xerr.ExitCode(err))
	}
}

func (a *App) run(ctx context.Context, raw string, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.head && len(opts.data) > 0 {
		return xerr.New(xerr.KindModeConflict, "--head cannot be combined with --data")
	}
	if opts.follow && len(opts.data) > 0 {
		return xerr.New(xerr.KindModeConflict, "--follow cannot be combined with --data")
	}

	ref, err := uri.Parse(raw)
	if err != nil {
		return err
	}
	if len(opts.data) > 0 {
		payload, err := readPayload(opts.data, a.Stdin)
		if err != nil {
			return err
		}
		return a.write(ctx, ref.WithPayload(), payload, opts)
	}
	return a.read(ctx, ref, opts)
}

func (a *App) read(ctx context.Context, ref uri.Reference, opts *options) error {
	if opts.follow {
		switch {
		case opts.head, opts.raw:
			return xerr.New(xerr.KindModeConflict, "--follow cannot be combined with --head or --raw")
		case ref.IsCollection():
			return xerr.New(xerr.KindUnsupportedOperation, "--follow needs a thread, not a listing: %s", ref)
		}
	}

	eng := engine.New(a.Config)
	res, err := eng.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	for _, w := range res.Ignored {
		a.warnf("%s", w)
	}

	format, scope := render.Markdown, render.Full
	if opts.raw {
		format = render.Raw
	}
	if opts.head {
		scope = render.FrontmatterOnly
	}
	var doc strings.Builder
	if err := render.Render(&doc, res, format, scope); err != nil {
		return err
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, []byte(doc.String()), 0644); err != nil {
			return fmt.Errorf("i/o error on %s: %w", opts.output, err)
		}
		return nil
	}

	out := doc.String()
	if opts.pretty && !opts.raw {
		width := 100
		if f, ok := a.Stdout.(*os.File); ok {
			width = render.TerminalWidth(f)
		}
		if styled, err := render.Pretty(out, width); err == nil {
			out = styled
		} else {
			logger.Debugf("pretty rendering failed: %v", err)
		}
	}
	if _, err := io.WriteString(a.Stdout, out); err != nil {
		return err
	}

	if !opts.follow {
		return nil
	}
	next := len(messages(res)) + 1
	return eng.Follow(ctx, res, func(msgs []models.Message) error {
		if err := render.Messages(a.Stdout, msgs, next); err != nil {
			return err
		}
		next += len(msgs)
		return nil
	})
}

func messages(res *engine.Result) []models.Message {
	switch {
	case res.Conversation != nil:
		return res.Conversation.Messages
	case res.Detail != nil && res.Detail.Conversation != nil:
		return res.Detail.Conversation.Messages
	}
	return nil
}

// writeSink streams assistant text to the output as the provider emits it.
type writeSink struct {
	out     io.Writer
	warn    func(format string, args ...interface{})
	printed bool
	last    byte
}

func (s *writeSink) SessionReady(kind provider.Kind, id string) {
	logger.Debugf("write: %s session %s started", kind, id)
}

func (s *writeSink) Warning(msg string) {
	s.warn("%s", msg)
}

func (s *writeSink) Text(delta string) {
	if delta == "" {
		return
	}
	_, _ = io.WriteString(s.out, delta)
	s.printed = true
	s.last = delta[len(delta)-1]
}

// lazyFile creates its file on the first write.
type lazyFile struct {
	path string
	f    *os.File
	err  error
}

func (l *lazyFile) Write(p []byte) (int, error) {
	if l.f == nil && l.err == nil {
		l.f, l.err = os.Create(l.path)
	}
	if l.err != nil {
		return 0, fmt.Errorf("i/o error on %s: %w", l.path, l.err)
	}
	return l.f.Write(p)
}

// Finish creates the file if nothing was written and closes it.
func (l *lazyFile) Finish() error {
	if _, err := l.Write(nil); err != nil {
		return err
	}
	if err := l.Close(); err != nil {
		return fmt.Errorf("i/o error on %s: %w", l.path, err)
	}
	return nil
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f, l.err = nil, os.ErrClosed
	return f.Close()
}

func (a *App) write(ctx context.Context, ref uri.Reference, payload string, opts *options) error {
	out := a.Stdout
	var file *lazyFile
	if opts.output != "" {
		file = &lazyFile{path: opts.output}
		defer file.Close()
		out = file
	}

	sink := &writeSink{out: out, warn: a.warnf}
	d := write.NewDispatcher(a.Runner,
		write.WithBinaries(a.Config.Binary),
		write.WithPiSessions(engine.New(a.Config).PiSessions()),
	)
	res, err := d.Dispatch(ctx, write.Request{Ref: ref, Payload: payload}, sink)
	if err != nil {
		return err
	}
	if sink.printed && sink.last != '\n' {
		_, _ = io.WriteString(out, "\n")
	}
	if file != nil {
		if err := file.Finish(); err != nil {
			return err
		}
	}

	verb := "updated"
	if res.Created {
		verb = "created"
	}
	a.noticef("%s: %s", verb, res.URI())
	return nil
}

func (a *App) errorf(format string, args ...interface{}) {
	a.diagnostic(errorStyle, "error", format, args...)
}

func (a *App) warnf(format string, args ...interface{}) {
	a.diagnostic(warningStyle, "warning", format, args...)
}

func (a *App) noticef(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if a.TTY {
		msg = noticeStyle.Render(msg)
	}
	fmt.Fprintln(a.Stderr, msg)
}

func (a *App) diagnostic(style lipgloss.Style, prefix, format string, args ...interface{}) {
	label := prefix + ":"
	if a.TTY {
		label = style.Render(label)
	}
	fmt.Fprintf(a.Stderr, "%s %s\n", label, fmt.Sprintf(format, args...))
}

// renderMarkdownHelp renders command help with glamour
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder
	help.WriteString(cmd.Long)
	help.WriteString("\n\n## Usage\n\n```bash\n")
	help.WriteString(cmd.UseLine())
	help.WriteString("\n```\n\n")

	if cmd.HasAvailableFlags() {
		help.WriteString("## Flags\n\n```\n")
		help.WriteString(cmd.Flags().FlagUsages())
		help.WriteString("```\n")
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), help.String())
		return
	}
	rendered, err := renderer.Render(help.String())
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), help.String())
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
}
