// Package cursor holds the single authoritative index into the event log.
// Every derived view is keyed by this position; nothing else in the
// consumption side carries hidden mutable state.
package cursor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultStepPeriod is the playback period at speed 1.0.
const DefaultStepPeriod = 250 * time.Millisecond

// Cursor tracks the current point in history. Position -1 means "before the
// first event". Moves clamp to the valid range and boundary steps are
// no-ops, not errors.
type Cursor struct {
	mu      sync.Mutex
	clk     clock.Clock
	length  func() int
	pos     int
	period  time.Duration
	playing bool
	stop    chan struct{}
	onMove  func(pos int)
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithClock substitutes the wall clock, used by tests to drive playback
// deterministically.
func WithClock(c clock.Clock) Option {
	return func(cur *Cursor) { cur.clk = c }
}

// WithStepPeriod overrides the base playback period.
func WithStepPeriod(d time.Duration) Option {
	return func(cur *Cursor) { cur.period = d }
}

// WithOnMove registers a callback fired after every position change, both
// manual and playback-driven.
func WithOnMove(fn func(pos int)) Option {
	return func(cur *Cursor) { cur.onMove = fn }
}

// New creates a cursor positioned before the first event. length reports the
// current log length; it is consulted on every move so the cursor tracks a
// growing log.
func New(length func() int, opts ...Option) *Cursor {
	c := &Cursor{
		clk:    clock.New(),
		length: length,
		pos:    -1,
		period: DefaultStepPeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pos returns the current position.
func (c *Cursor) Pos() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Seek moves to i, clamped to [-1, length-1].
func (c *Cursor) Seek(i int) int {
	c.mu.Lock()
	prev := c.pos
	pos := c.moveLocked(i)
	c.mu.Unlock()
	if pos != prev {
		c.notify(pos)
	}
	return pos
}

// StepForward advances one event; no-op at the end.
func (c *Cursor) StepForward() int {
	c.mu.Lock()
	prev := c.pos
	pos := c.moveLocked(c.pos + 1)
	c.mu.Unlock()
	if pos != prev {
		c.notify(pos)
	}
	return pos
}

// StepBackward rewinds one event; no-op at the beginning.
func (c *Cursor) StepBackward() int {
	c.mu.Lock()
	prev := c.pos
	pos := c.moveLocked(c.pos - 1)
	c.mu.Unlock()
	if pos != prev {
		c.notify(pos)
	}
	return pos
}

// Playing reports whether playback is running.
func (c *Cursor) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Play starts advancing the cursor on a fixed period divided by speed,
// stopping automatically at the final index. Speeds <= 0 are treated as 1.
// Calling Play while playing restarts with the new speed.
func (c *Cursor) Play(speed float64) {
	if speed <= 0 {
		speed = 1
	}

	c.mu.Lock()
	if c.playing {
		close(c.stop)
	}
	c.playing = true
	stop := make(chan struct{})
	c.stop = stop
	period := time.Duration(float64(c.period) / speed)
	c.mu.Unlock()

	ticker := c.clk.Ticker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				prev := c.pos
				pos := c.moveLocked(c.pos + 1)
				atEnd := pos >= c.length()-1
				if atEnd && c.playing && c.stop == stop {
					c.playing = false
					close(c.stop)
				}
				c.mu.Unlock()
				if pos != prev {
					c.notify(pos)
				}
				if atEnd {
					return
				}
			}
		}
	}()
}

// Pause stops playback. The cursor keeps its position.
func (c *Cursor) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.playing = false
		close(c.stop)
	}
}

func (c *Cursor) moveLocked(i int) int {
	max := c.length() - 1
	if i > max {
		i = max
	}
	if i < -1 {
		i = -1
	}
	c.pos = i
	return i
}

func (c *Cursor) notify(pos int) {
	if c.onMove != nil {
		c.onMove(pos)
	}
}
