package quest

import (
	"sync"
	"time"
)

// CountdownTick is delivered to the observer on every re-evaluation.
type CountdownTick struct {
	Status Status
	Remaining
}

// Countdown is a scheduled re-evaluation bound to one quest's active window.
// It runs only while the quest is IN_PROGRESS and cancels its own timer when
// the quest leaves that state; Stop is idempotent and safe on teardown.
type Countdown struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// StartCountdown schedules per-interval re-evaluation of a started quest.
// The observer receives one tick immediately and then one per interval until
// the status leaves IN_PROGRESS (the terminal tick is delivered) or Stop is
// called.
func StartCountdown(q Quest, window, interval time.Duration, observe func(CountdownTick)) *Countdown {
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go c.run(q, window, interval, observe)
	return c
}

func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Countdown) run(q Quest, window, interval time.Duration, observe func(CountdownTick)) {
	defer close(c.done)

	emit := func() Status {
		now := c.now()
		st := Classify(q, window, now)
		observe(CountdownTick{Status: st, Remaining: TimeRemaining(q, window, now)})
		return st
	}

	if st := emit(); st != StatusInProgress {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if st := emit(); st != StatusInProgress {
				return
			}
		}
	}
}
