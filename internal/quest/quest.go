package quest

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeDaily  Type = "Daily"
	TypeWeekly Type = "Weekly"
)

// PeriodStatus is the server-declared label for which bucket a quest's period
// falls in relative to now. Only TODAY/THIS_WEEK quests are actionable.
type PeriodStatus string

const (
	PeriodToday              PeriodStatus = "TODAY"
	PeriodYesterday          PeriodStatus = "YESTERDAY"
	PeriodDayBeforeYesterday PeriodStatus = "DAY_BEFORE_YESTERDAY"
	PeriodThisWeek           PeriodStatus = "THIS_WEEK"
	PeriodLastWeek           PeriodStatus = "LAST_WEEK"
	PeriodTwoWeeksAgo        PeriodStatus = "TWO_WEEKS_AGO"
)

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusCompleted  Status = "COMPLETED"
)

// Quest is one canonical instance per (userId, communityId, periodKey, periodSeq).
type Quest struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	CommunityID string       `json:"communityId"`
	Description string       `json:"description"`
	XPValue     int          `json:"xpValue"`
	Type        Type         `json:"type"`
	PeriodKey   string       `json:"periodKey"`
	PeriodSeq   int          `json:"periodSeq"`
	StartedAt   *time.Time   `json:"startedAt"`
	IsCompleted bool         `json:"isCompleted"`
	PeriodStatus PeriodStatus `json:"periodStatus"`
}

func (q Quest) Validate(maxSeq int) error {
	if q.UserID == "" || q.CommunityID == "" {
		return fmt.Errorf("quest %s: missing owner", q.ID)
	}
	if q.PeriodKey == "" {
		return fmt.Errorf("quest %s: missing period key", q.ID)
	}
	if q.PeriodSeq < 1 || (maxSeq > 0 && q.PeriodSeq > maxSeq) {
		return fmt.Errorf("quest %s: period seq %d out of range [1,%d]", q.ID, q.PeriodSeq, maxSeq)
	}
	switch q.Type {
	case TypeDaily, TypeWeekly:
	default:
		return fmt.Errorf("quest %s: unknown type %q", q.ID, q.Type)
	}
	return nil
}

// DailyKey returns the date bucket a daily quest belongs to.
func DailyKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeeklyKey returns the ISO week bucket, e.g. "2026-W35".
func WeeklyKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// PeriodKeyFor picks the canonical key for a quest type at the given time.
func PeriodKeyFor(typ Type, t time.Time) string {
	if typ == TypeWeekly {
		return WeeklyKey(t)
	}
	return DailyKey(t)
}

// PeriodStatusFor derives the period label from a quest's key and the current
// time. Buckets older than the labels clamp to the oldest label.
func PeriodStatusFor(typ Type, periodKey string, now time.Time) (PeriodStatus, error) {
	now = now.UTC()
	if typ == TypeWeekly {
		var year, week int
		if _, err := fmt.Sscanf(periodKey, "%d-W%d", &year, &week); err != nil {
			return "", fmt.Errorf("bad weekly period key %q", periodKey)
		}
		ny, nw := now.ISOWeek()
		diff := (ny-year)*53 + (nw - week)
		// Week counts across year boundaries are approximate; re-derive via
		// date math when the naive diff straddles a year.
		if ny != year {
			diff = weeksBetween(year, week, ny, nw)
		}
		switch {
		case diff <= 0:
			return PeriodThisWeek, nil
		case diff == 1:
			return PeriodLastWeek, nil
		default:
			return PeriodTwoWeeksAgo, nil
		}
	}

	day, err := time.Parse("2006-01-02", periodKey)
	if err != nil {
		return "", fmt.Errorf("bad daily period key %q", periodKey)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(today.Sub(day).Hours() / 24)
	switch {
	case diff <= 0:
		return PeriodToday, nil
	case diff == 1:
		return PeriodYesterday, nil
	default:
		return PeriodDayBeforeYesterday, nil
	}
}

func weeksBetween(y1, w1, y2, w2 int) int {
	// Monday of ISO week: walk from Jan 4th, which is always in week 1.
	monday := func(year, week int) time.Time {
		jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
		_, wk := jan4.ISOWeek()
		d := jan4.AddDate(0, 0, -(int(jan4.Weekday()+6) % 7))
		return d.AddDate(0, 0, (week-wk)*7)
	}
	return int(monday(y2, w2).Sub(monday(y1, w1)).Hours() / (24 * 7))
}

// Current reports whether the quest's period is the canonical active one.
// Historical quests are rendered but not actionable.
func (q Quest) Current(now time.Time) bool {
	return q.PeriodKey == PeriodKeyFor(q.Type, now)
}
