package clifmt

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

func Headerf(format string, args ...any) string {
	text := fmt.Sprintf(format, args...)
	if !useColor() {
		return text
	}
	return "\x1b[1;36m" + text + "\x1b[0m"
}

func Success(text string) string {
	return colorize("32", text)
}

func Warn(text string) string {
	return colorize("33", text)
}

func Fail(text string) string {
	return colorize("31", text)
}

func Dim(text string) string {
	return colorize("2", text)
}

func Key(text string) string {
	return colorize("1;33", text)
}

// Status colors a task status by how it ended.
func Status(status string) string {
	switch strings.ToLower(status) {
	case "completed":
		return Success(status)
	case "failed":
		return Fail(status)
	case "in_progress":
		return Warn(status)
	default:
		return Dim(status)
	}
}

// Fields prints aligned "key: value" lines.
func Fields(w io.Writer, pairs ...[2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		pad := strings.Repeat(" ", width-len(p[0]))
		fmt.Fprintf(w, "%s:%s %s\n", Key(p[0]), pad, p[1])
	}
}

// TermWidth returns the stdout width, or fallback when stdout is not a
// terminal.
func TermWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

func colorize(code string, text string) string {
	if !useColor() {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
