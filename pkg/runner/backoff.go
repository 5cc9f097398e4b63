package runner

import "time"

// Backoff walks a fixed schedule of reconnect delays. Failures advance
// through the schedule and stay on its last entry; a success starts over.
type Backoff struct {
	schedule []time.Duration
	index    int
}

func NewBackoff(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		schedule = defaultReconnect
	}
	return &Backoff{schedule: schedule}
}

// Delay is the wait before the next attempt.
func (b *Backoff) Delay() time.Duration {
	return b.schedule[b.index]
}

func (b *Backoff) Failure() time.Duration {
	b.index = min(b.index+1, len(b.schedule)-1)
	return b.Delay()
}

func (b *Backoff) Success() {
	b.index = 0
}
