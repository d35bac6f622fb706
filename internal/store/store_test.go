package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"guildpulse.gg/internal/quest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "guildpulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTokens_CreditDebit(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureUser("u_1", 10); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	// Ensure is idempotent and does not reset the balance.
	if err := s.EnsureUser("u_1", 99); err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if n, _ := s.Tokens("u_1"); n != 10 {
		t.Fatalf("tokens=%d want 10", n)
	}

	if n, err := s.CreditTokens("u_1", 5); err != nil || n != 15 {
		t.Fatalf("CreditTokens=%d err=%v", n, err)
	}

	ok, remaining, err := s.DebitTokens("u_1", 6)
	if err != nil || !ok || remaining != 9 {
		t.Fatalf("DebitTokens: ok=%v remaining=%d err=%v", ok, remaining, err)
	}

	// Server-side over-debit always rejected, balance untouched.
	ok, remaining, err = s.DebitTokens("u_1", 100)
	if err != nil {
		t.Fatalf("DebitTokens: %v", err)
	}
	if ok || remaining != 9 {
		t.Fatalf("over-debit: ok=%v remaining=%d", ok, remaining)
	}
}

func TestInsertQuests_Idempotent(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	qs := quest.GeneratePeriod([]string{"u_1"}, []string{"c_1"}, quest.TypeDaily, now, 3, 50)
	n, err := s.InsertQuests(qs)
	if err != nil || n != 3 {
		t.Fatalf("first insert n=%d err=%v", n, err)
	}

	// Regeneration mints new ids but hits the canonical unique index.
	again := quest.GeneratePeriod([]string{"u_1"}, []string{"c_1"}, quest.TypeDaily, now, 3, 50)
	n, err = s.InsertQuests(again)
	if err != nil || n != 0 {
		t.Fatalf("second insert n=%d err=%v", n, err)
	}

	got, err := s.QuestsFor("u_1", quest.TypeDaily, now)
	if err != nil {
		t.Fatalf("QuestsFor: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("quests=%d want 3", len(got))
	}
	for _, q := range got {
		if q.PeriodStatus != quest.PeriodToday {
			t.Fatalf("period status=%s want TODAY", q.PeriodStatus)
		}
	}
}

func TestStartQuest_IdempotentAndGuarded(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	qs := quest.GeneratePeriod([]string{"u_1"}, []string{"c_1"}, quest.TypeDaily, now, 1, 50)
	if _, err := s.InsertQuests(qs); err != nil {
		t.Fatalf("InsertQuests: %v", err)
	}
	id := qs[0].ID

	q, err := s.StartQuest(id, now)
	if err != nil {
		t.Fatalf("StartQuest: %v", err)
	}
	if q.StartedAt == nil || !q.StartedAt.Equal(now.Truncate(time.Second)) {
		t.Fatalf("startedAt=%v", q.StartedAt)
	}

	// Second start is a no-op returning the existing state.
	later := now.Add(5 * time.Minute)
	q2, err := s.StartQuest(id, later)
	if err != nil {
		t.Fatalf("StartQuest again: %v", err)
	}
	if !q2.StartedAt.Equal(*q.StartedAt) {
		t.Fatalf("startedAt changed: %v -> %v", q.StartedAt, q2.StartedAt)
	}

	// Historical quests are read-only.
	if _, err := s.StartQuest(id, now.AddDate(0, 0, 3)); err == nil {
		t.Fatalf("historical start accepted")
	}
}

func TestCompleteQuest_RequiresReadyAndIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	window := 30 * time.Minute
	qs := quest.GeneratePeriod([]string{"u_1"}, []string{"c_1"}, quest.TypeDaily, now, 1, 50)
	if _, err := s.InsertQuests(qs); err != nil {
		t.Fatalf("InsertQuests: %v", err)
	}
	id := qs[0].ID

	// Not started: rejected.
	if _, err := s.CompleteQuest(id, window, now); err == nil {
		t.Fatalf("complete before start accepted")
	}

	if _, err := s.StartQuest(id, now); err != nil {
		t.Fatalf("StartQuest: %v", err)
	}

	// In progress: rejected.
	if _, err := s.CompleteQuest(id, window, now.Add(10*time.Minute)); err == nil {
		t.Fatalf("complete before window elapsed accepted")
	}

	ready := now.Add(window + time.Minute)
	q, err := s.CompleteQuest(id, window, ready)
	if err != nil {
		t.Fatalf("CompleteQuest: %v", err)
	}
	if !q.IsCompleted {
		t.Fatalf("quest not marked completed")
	}

	// Completing again is a no-op, never a revert.
	q2, err := s.CompleteQuest(id, window, ready.Add(time.Hour))
	if err != nil {
		t.Fatalf("CompleteQuest again: %v", err)
	}
	if !q2.IsCompleted {
		t.Fatalf("isCompleted reverted")
	}
}

func TestApplyCompletionAward_Aggregates(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureUser("u_1", 10); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.EnsureCommunity("c_1"); err != nil {
		t.Fatalf("EnsureCommunity: %v", err)
	}
	if err := s.SetClanMember("u_1", "clan_1"); err != nil {
		t.Fatalf("SetClanMember: %v", err)
	}

	award, err := s.ApplyCompletionAward("u_1", "c_1", 300, 5)
	if err != nil {
		t.Fatalf("ApplyCompletionAward: %v", err)
	}
	if award.XPAwarded != 300 || award.TokensAwarded != 5 {
		t.Fatalf("award: %+v", award)
	}
	if award.CurrentTokens != 15 {
		t.Fatalf("currentTokens=%d want 15", award.CurrentTokens)
	}
	if award.CurrentLevel != LevelForXP(300) {
		t.Fatalf("currentLevel=%d", award.CurrentLevel)
	}
	if award.CommunityID != "c_1" || award.CommunityTotalXP != 300 {
		t.Fatalf("community: %+v", award)
	}
	if award.ClanID != "clan_1" || award.ClanMemberXP != 300 || award.ClanTotalXP != 300 {
		t.Fatalf("clan: %+v", award)
	}
}

func TestAppendChat_Drains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guildpulse.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 10; i++ {
		s.AppendChat("s_1", "u_1", "user", "hello")
	}
	// Close drains the writer before returning.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	n, err := s2.ChatLogCount("s_1")
	if err != nil {
		t.Fatalf("ChatLogCount: %v", err)
	}
	if n != 10 {
		t.Fatalf("chat rows=%d want 10", n)
	}
}

func TestAppendChat_ConcurrentWithClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "guildpulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.AppendChat("s_1", "u_1", "user", "hello")
			}
		}()
	}
	// Close while appends are in flight: late rows are discarded, but
	// nothing may panic on the log channel.
	time.Sleep(time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	// Appending after Close stays a no-op.
	s.AppendChat("s_1", "u_1", "user", "late")
}
