package quest

import (
	"sync"
	"testing"
	"time"
)

func TestCountdown_StopsWhenWindowElapses(t *testing.T) {
	started := time.Now().Add(-90 * time.Millisecond)
	q := mkQuest(&started, false)

	var mu sync.Mutex
	var ticks []CountdownTick
	c := StartCountdown(q, 100*time.Millisecond, 10*time.Millisecond, func(tk CountdownTick) {
		mu.Lock()
		ticks = append(ticks, tk)
		mu.Unlock()
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(ticks)
		var last CountdownTick
		if n > 0 {
			last = ticks[n-1]
		}
		mu.Unlock()
		if n > 0 && last.Status == StatusReady {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("countdown never reached READY (ticks=%d)", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.Stop() // must be safe after self-termination

	mu.Lock()
	defer mu.Unlock()
	if ticks[0].Status != StatusInProgress {
		t.Fatalf("first tick status=%s want IN_PROGRESS", ticks[0].Status)
	}
	last := ticks[len(ticks)-1]
	if last.ProgressPercent != 100 || last.RemainingText != "00:00" {
		t.Fatalf("terminal tick not clamped: %+v", last)
	}
}

func TestCountdown_NoScheduleOutsideInProgress(t *testing.T) {
	q := mkQuest(nil, false) // NOT_STARTED: one evaluation, no timer

	var mu sync.Mutex
	count := 0
	c := StartCountdown(q, time.Minute, 5*time.Millisecond, func(CountdownTick) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	c.Stop()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected a single evaluation for NOT_STARTED, got %d", count)
	}
}

func TestCountdown_StopIsIdempotent(t *testing.T) {
	started := time.Now()
	q := mkQuest(&started, false)
	c := StartCountdown(q, time.Minute, 10*time.Millisecond, func(CountdownTick) {})
	c.Stop()
	c.Stop()
}
