package render

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWidth = 100

// TerminalWidth is the width of f when it is a terminal, or a default.
func TerminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Pretty styles rendered markdown for a terminal. The frontmatter is kept
// as a fenced block so glamour does not read it as headings.
func Pretty(doc string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(fenceFrontmatter(doc))
}

func fenceFrontmatter(doc string) string {
	if !strings.HasPrefix(doc, "---\n") {
		return doc
	}
	end := strings.Index(doc[4:], "\n---\n")
	if end < 0 {
		return "```yaml\n" + strings.TrimPrefix(doc, "---\n") + "```\n"
	}
	front := doc[4 : 4+end+1]
	return "```yaml\n" + front + "```\n" + doc[4+end+5:]
}
