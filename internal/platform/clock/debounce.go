package clock

import (
	"sync"
	"time"
)

// Debouncer delays a keyed callback until no newer call for the same key
// arrived within the wait window. Only the latest callback runs.
type Debouncer struct {
	clock Clock
	wait  time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*debounced
	stopped bool
}

type debounced struct {
	timer Timer
	gen   uint64
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(c Clock, wait time.Duration) *Debouncer {
	return &Debouncer{
		clock:   c,
		wait:    wait,
		pending: make(map[string]*debounced),
	}
}

// Do schedules fn for key, replacing any callback still waiting for that key.
func (d *Debouncer) Do(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	entry, ok := d.pending[key]
	if !ok {
		entry = &debounced{}
		d.pending[key] = entry
	} else if entry.timer != nil {
		entry.timer.Stop()
	}
	d.seq++
	gen := d.seq
	entry.gen = gen
	entry.timer = d.clock.AfterFunc(d.wait, func() {
		d.mu.Lock()
		cur, ok := d.pending[key]
		if !ok || cur.gen != gen {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the callback waiting for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// Stop cancels every pending callback and rejects future ones.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}
