package write

import (
	"context"
	"io"
	"sync"
)

// MockRunner is a ProcessRunner for tests. It records every command and
// answers with canned output instead of starting a process.
type MockRunner struct {
	// Stdout is written to the caller's stdout unless Respond is set
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is returned instead of an Outcome, as for a missing binary
	Err error
	// Respond computes stdout from the command when set
	Respond func(cmd Command) string

	mu    sync.Mutex
	calls []Command
}

// NewMockRunner creates a mock answering with stdout and exit code 0.
func NewMockRunner(stdout string) *MockRunner {
	return &MockRunner{Stdout: stdout}
}

// Run implements ProcessRunner.
func (m *MockRunner) Run(ctx context.Context, cmd Command, stdout io.Writer) (*Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	out := m.Stdout
	if m.Respond != nil {
		out = m.Respond(cmd)
	}
	if _, err := io.WriteString(stdout, out); err != nil {
		return nil, err
	}
	return &Outcome{ExitCode: m.ExitCode, Stderr: m.Stderr}, nil
}

// Calls returns the commands run so far.
func (m *MockRunner) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}
