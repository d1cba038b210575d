package pipeline

import "time"

// Deadline is the wall-clock budget of one session. It is checked
// cooperatively at stage boundaries.
type Deadline struct {
	start time.Time
	at    time.Time
	now   func() time.Time
}

// NewDeadline starts a deadline of timeout from now().
func NewDeadline(timeout time.Duration, now func() time.Time) *Deadline {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Deadline{start: start, at: start.Add(timeout), now: now}
}

// Start returns when the deadline began.
func (d *Deadline) Start() time.Time { return d.start }

// At returns when the deadline expires.
func (d *Deadline) At() time.Time { return d.at }

// Elapsed returns the time since start.
func (d *Deadline) Elapsed() time.Duration { return d.now().Sub(d.start) }

// Remaining returns the time left, never negative.
func (d *Deadline) Remaining() time.Duration {
	r := d.at.Sub(d.now())
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the deadline has passed.
func (d *Deadline) Expired() bool {
	return !d.now().Before(d.at)
}
