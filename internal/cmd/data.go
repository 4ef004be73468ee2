package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// readPayload joins every -d value with newlines. A value of @- reads
// stdin and @path reads a file; stdin can be consumed only once.
func readPayload(values []string, stdin io.Reader) (string, error) {
	parts := make([]string, 0, len(values))
	stdinUsed := false
	for _, v := range values {
		switch {
		case v == "@-":
			if stdinUsed {
				return "", fmt.Errorf("stdin can only be read once (-d @- given more than once)")
			}
			stdinUsed = true
			b, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("i/o error on stdin: %w", err)
			}
			parts = append(parts, strings.TrimRight(string(b), "\n"))
		case strings.HasPrefix(v, "@"):
			path := v[1:]
			b, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("i/o error on %s: %w", path, err)
			}
			parts = append(parts, strings.TrimRight(string(b), "\n"))
		default:
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n"), nil
}
