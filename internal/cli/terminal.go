package cli

import (
	"log/slog"

	"golang.org/x/term"
)

// TerminalDetector answers whether a file descriptor is an interactive
// terminal. Injected so decode progress tests can force either answer.
type TerminalDetector interface {
	IsTerminal(fd int) bool
}

// DefaultTerminalDetector asks golang.org/x/term.
type DefaultTerminalDetector struct{}

func (d *DefaultTerminalDetector) IsTerminal(fd int) bool {
	isTerminal := term.IsTerminal(fd)

	slog.Debug("terminal detection result",
		"fd", fd,
		"is_terminal", isTerminal)

	return isTerminal
}

// isInteractiveTerminal gates carriage-return progress output: piped
// stderr gets plain lines instead. The detector is created lazily so a
// zero CLI value still works.
func (c *CLI) isInteractiveTerminal(fd int) bool {
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}

	return c.terminalDetector.IsTerminal(fd)
}
