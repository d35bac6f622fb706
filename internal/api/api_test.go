package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"guildpulse.gg/internal/config"
	"guildpulse.gg/internal/quest"
	"guildpulse.gg/internal/store"
)

func newFixture(t *testing.T, cfg config.Config) (*Server, *store.Store, *http.ServeMux) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.EnsureUser("u_1", 10); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := st.EnsureCommunity("c_1"); err != nil {
		t.Fatalf("community: %v", err)
	}

	srv := NewServer(st, nil, cfg, nil)
	mux := http.NewServeMux()
	srv.Routes(mux)
	return srv, st, mux
}

func doReq(t *testing.T, mux *http.ServeMux, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "127.0.0.1:55555"
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, st *store.Store, id string, typ quest.Type) {
	t.Helper()
	key := quest.DailyKey(time.Now())
	if typ == quest.TypeWeekly {
		key = quest.WeeklyKey(time.Now())
	}
	_, err := st.InsertQuests([]quest.Quest{{
		ID: id, UserID: "u_1", CommunityID: "c_1",
		Description: "reach wave ten", XPValue: 50,
		Type: typ, PeriodKey: key, PeriodSeq: 1,
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestConfigEndpoint(t *testing.T) {
	_, _, mux := newFixture(t, config.Defaults())
	rec := doReq(t, mux, http.MethodGet, "/ai/config", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp ConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if !resp.AI.Configured || resp.AI.MaxPromptChars != 4000 || resp.AI.TokenCostPerChat != 2 {
		t.Fatalf("config: %+v", resp)
	}
	if resp.Quests.DailyCount != 3 || resp.Quests.WeeklyCount != 2 {
		t.Fatalf("quests config: %+v", resp.Quests)
	}
}

func TestQuestList_RequiresUser(t *testing.T) {
	_, _, mux := newFixture(t, config.Defaults())
	rec := doReq(t, mux, http.MethodGet, "/ai/quests/daily", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
	var eb errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &eb)
	if eb.Error.Code != "AUTH_ERROR" {
		t.Fatalf("code=%s", eb.Error.Code)
	}
}

func TestQuestList_DerivedFields(t *testing.T) {
	_, st, mux := newFixture(t, config.Defaults())
	seed(t, st, "q_1", quest.TypeDaily)

	rec := doReq(t, mux, http.MethodGet, "/ai/quests/daily", "u_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp questListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(resp.Quests) != 1 {
		t.Fatalf("quests: %+v", resp.Quests)
	}
	q := resp.Quests[0]
	if q.Status != quest.StatusNotStarted || q.PeriodStatus != quest.PeriodToday {
		t.Fatalf("derived: %+v", q)
	}
	// Weekly list stays empty.
	rec = doReq(t, mux, http.MethodGet, "/ai/quests/weekly", "u_1", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Quests) != 0 {
		t.Fatalf("weekly leaked daily quests")
	}
}

func TestStartAndCompleteFlow(t *testing.T) {
	cfg := config.Defaults()
	cfg.Quests.DailyWindowMinutes = 0
	_, st, mux := newFixture(t, cfg)
	seed(t, st, "q_1", quest.TypeDaily)

	rec := doReq(t, mux, http.MethodPost, "/ai/quests/start", "u_1", questIDRequest{QuestID: "q_1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", rec.Code, rec.Body.String())
	}
	var qv QuestView
	_ = json.Unmarshal(rec.Body.Bytes(), &qv)
	if qv.StartedAt == nil || qv.Status != quest.StatusReady {
		t.Fatalf("after start: %+v", qv)
	}

	rec = doReq(t, mux, http.MethodPatch, "/ai/quests/complete", "u_1", questIDRequest{QuestID: "q_1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status=%d body=%s", rec.Code, rec.Body.String())
	}
	var award store.CompletionAward
	if err := json.Unmarshal(rec.Body.Bytes(), &award); err != nil {
		t.Fatalf("award: %v", err)
	}
	if award.XPAwarded != 50 || award.TokensAwarded != 5 || award.CurrentTokens != 15 {
		t.Fatalf("award: %+v", award)
	}
	if award.CurrentLevel != 1 || award.CommunityTotalXP != 50 || award.CommunityID != "c_1" {
		t.Fatalf("award aggregates: %+v", award)
	}

	// Completing again acks without a second award.
	rec = doReq(t, mux, http.MethodPatch, "/ai/quests/complete", "u_1", questIDRequest{QuestID: "q_1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("re-complete status=%d", rec.Code)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &award)
	if award.XPAwarded != 0 || award.CurrentTokens != 15 {
		t.Fatalf("double award: %+v", award)
	}
	if tokens, _ := st.Tokens("u_1"); tokens != 15 {
		t.Fatalf("tokens=%d want 15", tokens)
	}
}

func TestComplete_RejectsForeignQuest(t *testing.T) {
	_, st, mux := newFixture(t, config.Defaults())
	seed(t, st, "q_1", quest.TypeDaily)

	rec := doReq(t, mux, http.MethodPatch, "/ai/quests/complete", "u_2", questIDRequest{QuestID: "q_1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestComplete_NotReadyConflicts(t *testing.T) {
	_, st, mux := newFixture(t, config.Defaults())
	seed(t, st, "q_1", quest.TypeDaily)

	// Not started at all.
	rec := doReq(t, mux, http.MethodPatch, "/ai/quests/complete", "u_1", questIDRequest{QuestID: "q_1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestForceGenerate(t *testing.T) {
	cfg := config.Defaults()
	_, st, mux := newFixture(t, cfg)

	rec := doReq(t, mux, http.MethodPost, "/ai/generate/daily/force", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp generateResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Generated != cfg.Quests.DailyCount {
		t.Fatalf("generated=%d want %d", resp.Generated, cfg.Quests.DailyCount)
	}
	if resp.PeriodKey != quest.DailyKey(time.Now()) {
		t.Fatalf("periodKey=%s", resp.PeriodKey)
	}

	// Idempotent per period.
	rec = doReq(t, mux, http.MethodPost, "/ai/generate/daily/force", "", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Generated != 0 {
		t.Fatalf("regeneration minted %d", resp.Generated)
	}

	qs, err := st.QuestsFor("u_1", quest.TypeDaily, time.Now())
	if err != nil || len(qs) != cfg.Quests.DailyCount {
		t.Fatalf("quests=%d err=%v", len(qs), err)
	}
}

func TestAdmin_LoopbackOnly(t *testing.T) {
	_, st, mux := newFixture(t, config.Defaults())
	seed(t, st, "q_1", quest.TypeDaily)

	req := httptest.NewRequest(http.MethodPost, "/ai/generate/daily/force", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("generate status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/ai/quests/q_1", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete status=%d", rec.Code)
	}
}

func TestDeleteQuest(t *testing.T) {
	_, st, mux := newFixture(t, config.Defaults())
	seed(t, st, "q_1", quest.TypeDaily)

	rec := doReq(t, mux, http.MethodDelete, "/ai/quests/q_1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if _, err := st.GetQuest("q_1", time.Now()); err != store.ErrQuestNotFound {
		t.Fatalf("quest survived delete: %v", err)
	}

	rec = doReq(t, mux, http.MethodDelete, "/ai/quests/q_1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rec.Code)
	}
}
