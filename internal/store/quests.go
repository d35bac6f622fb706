package store

import (
	"database/sql"
	"fmt"
	"time"

	"guildpulse.gg/internal/quest"
)

var ErrQuestNotFound = fmt.Errorf("quest not found")

// InsertQuests stores generated quests. The canonical unique index makes
// re-generation idempotent: existing (user, community, period, seq) rows are
// left untouched. Returns how many rows were actually inserted.
func (s *Store) InsertQuests(qs []quest.Quest) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, q := range qs {
		res, err := tx.Exec(
			`INSERT INTO quests(id, user_id, community_id, description, xp_value, type, period_key, period_seq)
			 VALUES(?,?,?,?,?,?,?,?)
			 ON CONFLICT(user_id, community_id, period_key, period_seq) DO NOTHING`,
			q.ID, q.UserID, q.CommunityID, q.Description, q.XPValue, string(q.Type), q.PeriodKey, q.PeriodSeq,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func scanQuest(row interface{ Scan(...any) error }, now time.Time) (quest.Quest, error) {
	var q quest.Quest
	var typ string
	var started sql.NullInt64
	var completed int
	if err := row.Scan(&q.ID, &q.UserID, &q.CommunityID, &q.Description, &q.XPValue, &typ, &q.PeriodKey, &q.PeriodSeq, &started, &completed); err != nil {
		return quest.Quest{}, err
	}
	q.Type = quest.Type(typ)
	if started.Valid {
		t := time.Unix(started.Int64, 0).UTC()
		q.StartedAt = &t
	}
	q.IsCompleted = completed != 0
	if ps, err := quest.PeriodStatusFor(q.Type, q.PeriodKey, now); err == nil {
		q.PeriodStatus = ps
	}
	return q, nil
}

const questCols = `id, user_id, community_id, description, xp_value, type, period_key, period_seq, started_at, is_completed`

func (s *Store) GetQuest(id string, now time.Time) (quest.Quest, error) {
	row := s.db.QueryRow(`SELECT `+questCols+` FROM quests WHERE id=?`, id)
	q, err := scanQuest(row, now)
	if err == sql.ErrNoRows {
		return quest.Quest{}, ErrQuestNotFound
	}
	return q, err
}

// QuestsFor lists a user's quests of one type, newest period first, then by
// sequence. Historical periods are included; the caller renders them
// read-only.
func (s *Store) QuestsFor(userID string, typ quest.Type, now time.Time) ([]quest.Quest, error) {
	rows, err := s.db.Query(
		`SELECT `+questCols+` FROM quests WHERE user_id=? AND type=? ORDER BY period_key DESC, period_seq ASC`,
		userID, string(typ),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quest.Quest
	for rows.Next() {
		q, err := scanQuest(rows, now)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// StartQuest sets startedAt exactly once. Starting an already-started,
// non-completed quest is a no-op that returns the existing state.
func (s *Store) StartQuest(id string, now time.Time) (quest.Quest, error) {
	q, err := s.GetQuest(id, now)
	if err != nil {
		return quest.Quest{}, err
	}
	if q.IsCompleted {
		return q, fmt.Errorf("quest %s already completed", id)
	}
	if !q.Current(now) {
		return q, fmt.Errorf("quest %s is historical", id)
	}
	if q.StartedAt != nil {
		return q, nil
	}
	if _, err := s.db.Exec(
		`UPDATE quests SET started_at=? WHERE id=? AND started_at IS NULL`,
		now.UTC().Unix(), id,
	); err != nil {
		return quest.Quest{}, err
	}
	return s.GetQuest(id, now)
}

// CompleteQuest flips is_completed exactly once; it requires the quest's
// window to have elapsed (READY). isCompleted never reverts.
func (s *Store) CompleteQuest(id string, window time.Duration, now time.Time) (quest.Quest, error) {
	q, err := s.GetQuest(id, now)
	if err != nil {
		return quest.Quest{}, err
	}
	if q.IsCompleted {
		return q, nil
	}
	if !q.Current(now) {
		return q, fmt.Errorf("quest %s is historical", id)
	}
	if st := quest.Classify(q, window, now); st != quest.StatusReady {
		return q, fmt.Errorf("quest %s not ready: %s", id, st)
	}
	if _, err := s.db.Exec(`UPDATE quests SET is_completed=1 WHERE id=? AND is_completed=0`, id); err != nil {
		return quest.Quest{}, err
	}
	return s.GetQuest(id, now)
}

func (s *Store) DeleteQuest(id string) error {
	res, err := s.db.Exec(`DELETE FROM quests WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuestNotFound
	}
	return nil
}

// UserIDs lists known users (for period generation).
func (s *Store) UserIDs() ([]string, error) {
	return s.stringColumn(`SELECT id FROM users ORDER BY id`)
}

// CommunityIDs lists known communities.
func (s *Store) CommunityIDs() ([]string, error) {
	return s.stringColumn(`SELECT id FROM communities ORDER BY id`)
}

func (s *Store) stringColumn(q string) ([]string, error) {
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
