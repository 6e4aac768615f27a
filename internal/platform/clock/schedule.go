package clock

import (
	"sync"
	"time"
)

type scheduleState int

const (
	scheduleIdle scheduleState = iota
	scheduleRunning
	schedulePaused
	scheduleFired
	scheduleCancelled
)

// Schedule is a one-shot callback whose countdown can be paused and resumed.
// Time spent paused does not count towards the deadline.
type Schedule struct {
	clock Clock
	fn    func()

	mu        sync.Mutex
	total     time.Duration
	remaining time.Duration
	startedAt time.Time
	timer     Timer
	gen       uint64
	state     scheduleState
}

// NewSchedule creates a stopped schedule that runs fn once d of running time
// has elapsed. Call Start to begin the countdown.
func NewSchedule(c Clock, d time.Duration, fn func()) *Schedule {
	if d < 0 {
		d = 0
	}
	return &Schedule{clock: c, fn: fn, total: d, remaining: d}
}

// Start begins the countdown. It is a no-op unless the schedule is idle.
func (s *Schedule) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != scheduleIdle {
		return
	}
	s.armLocked()
}

// Pause stops the countdown and remembers the remaining time.
func (s *Schedule) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != scheduleRunning {
		return
	}
	s.remaining -= s.clock.Now().Sub(s.startedAt)
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.disarmLocked()
	s.state = schedulePaused
}

// Resume continues a paused countdown with the remaining time.
func (s *Schedule) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != schedulePaused {
		return
	}
	s.armLocked()
}

// Cancel stops the schedule permanently.
func (s *Schedule) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == scheduleFired || s.state == scheduleCancelled {
		return
	}
	s.disarmLocked()
	s.state = scheduleCancelled
}

// Elapsed returns the running time accumulated so far.
func (s *Schedule) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case scheduleFired:
		return s.total
	case scheduleRunning:
		e := s.total - s.remaining + s.clock.Now().Sub(s.startedAt)
		if e > s.total {
			return s.total
		}
		return e
	default:
		return s.total - s.remaining
	}
}

// Total returns the configured duration.
func (s *Schedule) Total() time.Duration {
	return s.total
}

// Running reports whether the countdown is active.
func (s *Schedule) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == scheduleRunning
}

// Fired reports whether the callback has run.
func (s *Schedule) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == scheduleFired
}

func (s *Schedule) armLocked() {
	s.gen++
	gen := s.gen
	s.startedAt = s.clock.Now()
	s.state = scheduleRunning
	s.timer = s.clock.AfterFunc(s.remaining, func() { s.fire(gen) })
}

func (s *Schedule) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Schedule) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != scheduleRunning {
		s.mu.Unlock()
		return
	}
	s.state = scheduleFired
	s.remaining = 0
	s.timer = nil
	s.mu.Unlock()

	s.fn()
}
