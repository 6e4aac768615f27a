package clock

import (
	"sync"
	"time"
)

// Ticker calls fn every interval while running. Unlike time.Ticker it can be
// paused and resumed without being recreated.
type Ticker struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	running bool
	stopped bool
}

// NewTicker creates a paused ticker. Call Start to begin ticking.
func NewTicker(c Clock, interval time.Duration, fn func()) *Ticker {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Ticker{clock: c, interval: interval, fn: fn}
}

// Start begins ticking. Start on a running or stopped ticker is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.stopped {
		return
	}
	t.running = true
	t.armLocked()
}

// Pause suspends ticking until Start is called again.
func (t *Ticker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.disarmLocked()
}

// Stop halts the ticker permanently.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.stopped = true
	t.disarmLocked()
}

// Running reports whether the ticker is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Ticker) armLocked() {
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.interval, func() { t.tick(gen) })
}

func (t *Ticker) disarmLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Ticker) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	t.armLocked()
	t.mu.Unlock()

	t.fn()
}
