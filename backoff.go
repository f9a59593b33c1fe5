package ermis

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultReconnectFloor   = 1 * time.Second
	DefaultReconnectCeiling = 60 * time.Second
)

// backoff schedules reconnection attempts. The delay starts at floor,
// doubles after every scheduled attempt and is clamped at ceiling until
// reset. It never gives up on its own; only cancel stops a pending retry.
type backoff struct {
	clock   clock.Clock
	floor   time.Duration
	ceiling time.Duration

	mu      sync.Mutex
	delay   time.Duration
	attempt int
	timer   *clock.Timer
}

func newBackoff(clk clock.Clock, floor, ceiling time.Duration) *backoff {
	if floor <= 0 {
		floor = DefaultReconnectFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &backoff{clock: clk, floor: floor, ceiling: ceiling, delay: floor}
}

// schedule arms a timer for the current delay that runs action, replacing
// any pending one. It returns the attempt number and the delay used.
func (b *backoff) schedule(action func()) (int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}

	delay := b.delay
	b.attempt++

	var t *clock.Timer
	t = b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.timer == t {
			b.timer = nil
		}
		b.mu.Unlock()
		action()
	})
	b.timer = t

	b.delay *= 2
	if b.delay > b.ceiling {
		b.delay = b.ceiling
	}
	return b.attempt, delay
}

// reset returns the delay to its floor after a successful connection.
func (b *backoff) reset() {
	b.mu.Lock()
	b.delay = b.floor
	b.attempt = 0
	b.mu.Unlock()
}

// cancel stops a pending retry.
func (b *backoff) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// next is the delay the following schedule call will use.
func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

func (b *backoff) pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}
