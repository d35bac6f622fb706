package quest

import (
	"fmt"
	"time"
)

// Classify is pure: the same (isCompleted, startedAt, window, now) always
// yields the same status. COMPLETED is terminal.
func Classify(q Quest, window time.Duration, now time.Time) Status {
	if q.IsCompleted {
		return StatusCompleted
	}
	if q.StartedAt == nil {
		return StatusNotStarted
	}
	if now.Before(q.StartedAt.Add(window)) {
		return StatusInProgress
	}
	return StatusReady
}

// Remaining is what a countdown renders: time left in the quest window and
// how far through it we are.
type Remaining struct {
	RemainingText   string `json:"remainingText"`
	ProgressPercent int    `json:"progressPercent"`
}

func TimeRemaining(q Quest, window time.Duration, now time.Time) Remaining {
	if q.StartedAt == nil || window <= 0 {
		return Remaining{RemainingText: FormatRemaining(window), ProgressPercent: 0}
	}
	elapsed := now.Sub(*q.StartedAt)
	left := window - elapsed
	if left < 0 {
		left = 0
	}
	pct := int(elapsed * 100 / window)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return Remaining{RemainingText: FormatRemaining(left), ProgressPercent: pct}
}

// FormatRemaining renders mm:ss, or h:mm:ss for windows an hour or longer.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
