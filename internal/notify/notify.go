// Package notify is the feedback boundary: the pipeline reports cycle
// progress and outcomes here and never prints or beeps on its own.
package notify

import (
	"fmt"
	"io"
	"os"
)

// Notifier receives user-facing cycle feedback.
type Notifier interface {
	// Thinking is emitted once per cycle, right before the first API call.
	Thinking(message string)
	// Done is emitted exactly once per cycle with the final outcome.
	Done(success bool, message string)
}

// Console renders notifications to a terminal. When Bell is set it rings the
// terminal bell on completion: once for success, twice for failure.
type Console struct {
	Out  io.Writer
	Bell bool
}

// NewConsole returns a Console writing to stdout.
func NewConsole(bell bool) *Console {
	return &Console{Out: os.Stdout, Bell: bell}
}

func (c *Console) Thinking(message string) {
	fmt.Fprintln(c.Out, message)
}

func (c *Console) Done(success bool, message string) {
	fmt.Fprintln(c.Out, message)
	if !c.Bell {
		return
	}
	if success {
		fmt.Fprint(c.Out, "\a")
	} else {
		fmt.Fprint(c.Out, "\a\a")
	}
}

// Discard swallows all notifications. Useful in tests.
type Discard struct{}

func (Discard) Thinking(string)   {}
func (Discard) Done(bool, string) {}
