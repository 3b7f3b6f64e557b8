// Package detector decides when a command typed into a remote shell has
// finished, by watching the raw terminal stream for a shell prompt or for a
// stretch of silence.
package detector

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Default detection thresholds.
const (
	DefaultQuiescence   = 5 * time.Second
	DefaultTickInterval = time.Second
)

// promptChars are the characters a shell prompt line commonly ends with.
const promptChars = "#$%>➜"

// trailingSpace mirrors the RE2 \s class.
const trailingSpace = " \t\n\f\r"

// Config holds the tunable detection parameters.
type Config struct {
	// Quiescence is how long the stream may stay silent while armed before
	// the window is closed as timed out.
	Quiescence time.Duration
	// TickInterval is how often the owner should call Tick.
	TickInterval time.Duration
}

// Result is the outcome of one armed window.
type Result struct {
	Output   string
	TimedOut bool
}

// Detector buffers one session's output during an armed window. It is not
// safe for concurrent use; the session's runner owns it.
type Detector struct {
	cfg Config

	armed       bool
	buf         strings.Builder
	lastChunkAt time.Time
}

// New creates a Detector, filling zero config fields with defaults.
func New(cfg Config) *Detector {
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = DefaultQuiescence
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Arm opens a new window: the buffer is cleared and the silence clock starts
// at now.
func (d *Detector) Arm(now time.Time) {
	d.buf.Reset()
	d.armed = true
	d.lastChunkAt = now
}

// Disarm closes the window without producing a result.
func (d *Detector) Disarm() {
	d.armed = false
}

// Armed reports whether a window is open.
func (d *Detector) Armed() bool {
	return d.armed
}

// Buffered returns the output collected so far in the current window.
func (d *Detector) Buffered() string {
	return d.buf.String()
}

// Feed appends a chunk of stream data. Chunks arriving while disarmed are
// ignored. When the buffer ends in a shell prompt the window closes and the
// trimmed buffer is returned with ok set.
func (d *Detector) Feed(chunk []byte, now time.Time) (res Result, ok bool) {
	if !d.armed {
		return Result{}, false
	}
	d.buf.Write(chunk)
	d.lastChunkAt = now

	out := d.buf.String()
	if !endsWithPrompt(out) {
		return Result{}, false
	}
	d.armed = false
	return Result{Output: strings.TrimSpace(out), TimedOut: false}, true
}

// Tick checks the silence clock. If the window has been quiet for longer
// than the quiescence threshold it closes, returning whatever was buffered
// (possibly nothing) with TimedOut set.
func (d *Detector) Tick(now time.Time) (res Result, ok bool) {
	if !d.armed {
		return Result{}, false
	}
	if now.Sub(d.lastChunkAt) <= d.cfg.Quiescence {
		return Result{}, false
	}
	d.armed = false
	return Result{Output: d.buf.String(), TimedOut: true}, true
}

// endsWithPrompt reports whether the last line of s ends in a prompt
// character, ignoring trailing whitespace. It is equivalent to matching
// `(?:\r\n|\n|^).*?[#$%>➜]\s*$` but only inspects the tail, so a long
// buffer is not rescanned on every chunk.
//
// This is a heuristic: ordinary output that happens to end in one of these
// characters closes the window early.
func endsWithPrompt(s string) bool {
	s = strings.TrimRight(s, trailingSpace)
	r, size := utf8.DecodeLastRuneInString(s)
	if size == 0 {
		return false
	}
	return strings.ContainsRune(promptChars, r)
}
