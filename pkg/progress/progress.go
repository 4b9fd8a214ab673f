// Package progress reports advancement of long-running vault operations,
// either through a plain callback or an interactive terminal bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Callback receives one update per unit of work.
type Callback func(op string, current, total int, message string)

// Noop discards updates.
func Noop(op string, current, total int, message string) {}

// Progress counts completed units for one operation and forwards each
// change to its callback.
type Progress struct {
	Op      string
	Total   int
	current int
	cb      Callback
}

// New creates a tracker for total units of op. A nil callback is allowed.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Increment advances by one unit.
func (p *Progress) Increment(message string) {
	p.current++
	p.cb(p.Op, p.current, p.Total, message)
}

// Set jumps to an absolute position.
func (p *Progress) Set(current int, message string) {
	p.current = current
	p.cb(p.Op, p.current, p.Total, message)
}

// Done reports the operation complete.
func (p *Progress) Done(message string) {
	p.current = p.Total
	p.cb(p.Op, p.current, p.Total, message)
}

// Current returns the completed unit count.
func (p *Progress) Current() int {
	return p.current
}

// Terminal renders an in-place progress bar on one terminal line.
type Terminal struct {
	mu       sync.Mutex
	writer   io.Writer
	op       string
	total    int
	current  int
	lastLen  int
	disabled bool
}

const barWidth = 30

// NewTerminal creates a terminal bar for total units of op. When enabled
// is false every method is a no-op, so callers never branch on verbosity.
func NewTerminal(op string, total int, enabled bool) *Terminal {
	return &Terminal{
		writer:   os.Stderr,
		op:       op,
		total:    total,
		disabled: !enabled,
	}
}

// SetWriter redirects output, primarily for tests.
func (t *Terminal) SetWriter(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer = w
}

// Callback returns the Callback that drives this bar.
func (t *Terminal) Callback() Callback {
	return func(op string, current, total int, message string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.disabled {
			return
		}
		t.current = current
		if total > 0 {
			// Adopt the caller's total; the bar is often created before
			// the amount of work is known.
			t.total = total
		}
		t.render(message)
	}
}

// Done completes the bar and moves to the next line.
func (t *Terminal) Done(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return
	}
	t.current = t.total
	t.render(message)
	fmt.Fprintln(t.writer)
}

// render assumes t.mu is held.
func (t *Terminal) render(message string) {
	total := t.total
	if total <= 0 {
		total = 1
	}
	filled := barWidth * t.current / total
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d (%.0f%%)",
		t.op, bar, t.current, total, float64(t.current)/float64(total)*100)
	if message != "" {
		line += " " + message
	}

	// Overwrite whatever the previous render left behind.
	clear := "\r"
	if t.lastLen > len(line) {
		clear = "\r" + strings.Repeat(" ", t.lastLen) + "\r"
	}
	fmt.Fprint(t.writer, clear+line)
	t.lastLen = len(line)
}
