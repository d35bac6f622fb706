// Package api is the REST surface of the quest and token economy. The hub
// owns realtime state; these handlers read and mutate the store directly and
// push authoritative balances to live connections after awards.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"guildpulse.gg/internal/config"
	"guildpulse.gg/internal/hub"
	"guildpulse.gg/internal/quest"
	"guildpulse.gg/internal/store"
)

type Server struct {
	store *store.Store
	hub   *hub.Hub
	cfg   config.Config
	log   *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewServer(st *store.Store, h *hub.Hub, cfg config.Config, logger *log.Logger) *Server {
	return &Server{store: st, hub: h, cfg: cfg, log: logger, now: time.Now}
}

// Routes mounts every endpoint on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ai/quests/daily", s.handleQuestList(quest.TypeDaily))
	mux.HandleFunc("/ai/quests/weekly", s.handleQuestList(quest.TypeWeekly))
	mux.HandleFunc("/ai/quests/start", s.handleStart)
	mux.HandleFunc("/ai/quests/complete", s.handleComplete)
	mux.HandleFunc("/ai/config", s.handleConfig)

	// Local-only admin endpoints.
	mux.HandleFunc("/ai/generate/daily/force", s.handleForceGenerate(quest.TypeDaily))
	mux.HandleFunc("/ai/generate/weekly/force", s.handleForceGenerate(quest.TypeWeekly))
	mux.HandleFunc("/ai/quests/", s.handleQuestByID)
}

func (s *Server) window(typ quest.Type) time.Duration {
	if typ == quest.TypeWeekly {
		return time.Duration(s.cfg.Quests.WeeklyWindowMinutes) * time.Minute
	}
	return time.Duration(s.cfg.Quests.DailyWindowMinutes) * time.Minute
}

// QuestView is a quest plus its derived, render-ready fields.
type QuestView struct {
	quest.Quest
	Status    quest.Status    `json:"status"`
	Remaining quest.Remaining `json:"remaining"`
}

func (s *Server) questView(q quest.Quest, now time.Time) QuestView {
	window := s.window(q.Type)
	return QuestView{
		Quest:     q,
		Status:    quest.Classify(q, window, now),
		Remaining: quest.TimeRemaining(q, window, now),
	}
}

type questListResponse struct {
	Quests []QuestView `json:"quests"`
}

func (s *Server) handleQuestList(typ quest.Type) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		userID := requestUser(r)
		if userID == "" {
			writeError(rw, http.StatusUnauthorized, "AUTH_ERROR", "missing user")
			return
		}
		now := s.now()
		qs, err := s.store.QuestsFor(userID, typ, now)
		if err != nil {
			s.internal(rw, "quest list", err)
			return
		}
		resp := questListResponse{Quests: make([]QuestView, 0, len(qs))}
		for _, q := range qs {
			resp.Quests = append(resp.Quests, s.questView(q, now))
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

type questIDRequest struct {
	QuestID string `json:"questId"`
}

func (s *Server) handleStart(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := requestUser(r)
	if userID == "" {
		writeError(rw, http.StatusUnauthorized, "AUTH_ERROR", "missing user")
		return
	}
	var req questIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestID == "" {
		writeError(rw, http.StatusBadRequest, "BAD_REQUEST", "missing questId")
		return
	}
	now := s.now()
	q, err := s.store.StartQuest(req.QuestID, now)
	if err != nil {
		s.questError(rw, err)
		return
	}
	if q.UserID != userID {
		writeError(rw, http.StatusForbidden, "AUTH_ERROR", "not your quest")
		return
	}
	writeJSON(rw, http.StatusOK, s.questView(q, now))
}

func (s *Server) handleComplete(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := requestUser(r)
	if userID == "" {
		writeError(rw, http.StatusUnauthorized, "AUTH_ERROR", "missing user")
		return
	}
	var req questIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestID == "" {
		writeError(rw, http.StatusBadRequest, "BAD_REQUEST", "missing questId")
		return
	}
	now := s.now()
	pre, err := s.store.GetQuest(req.QuestID, now)
	if err != nil {
		s.questError(rw, err)
		return
	}
	if pre.UserID != userID {
		writeError(rw, http.StatusForbidden, "AUTH_ERROR", "not your quest")
		return
	}

	q, err := s.store.CompleteQuest(req.QuestID, s.window(pre.Type), now)
	if err != nil {
		s.questError(rw, err)
		return
	}
	// Completing an already-completed quest acks without a second award.
	if pre.IsCompleted {
		award := store.CompletionAward{CommunityID: q.CommunityID}
		if u, err := s.store.GetUser(userID); err == nil {
			award.CurrentLevel = store.LevelForXP(u.XP)
			award.CurrentTokens = u.Tokens
		}
		writeJSON(rw, http.StatusOK, award)
		return
	}

	tokens := s.cfg.Tokens.DailyQuestAward
	if q.Type == quest.TypeWeekly {
		tokens = s.cfg.Tokens.WeeklyQuestAward
	}
	award, err := s.store.ApplyCompletionAward(userID, q.CommunityID, q.XPValue, tokens)
	if err != nil {
		s.internal(rw, "apply award", err)
		return
	}
	if s.hub != nil {
		s.hub.PushTokens(userID, award.CurrentTokens)
	}
	writeJSON(rw, http.StatusOK, award)
}

// ConfigResponse is the client-facing subset of the server config.
type ConfigResponse struct {
	AI struct {
		Configured       bool   `json:"configured"`
		Model            string `json:"model"`
		MaxPromptChars   int    `json:"maxPromptChars"`
		TokenCostPerChat int    `json:"tokenCostPerChat"`
	} `json:"ai"`
	Quests struct {
		DailyCount         int    `json:"dailyCount"`
		WeeklyCount        int    `json:"weeklyCount"`
		QuestsPerCommunity int    `json:"questsPerCommunity"`
		GenerationSchedule string `json:"generationSchedule"`
	} `json:"quests"`
}

func (s *Server) handleConfig(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var resp ConfigResponse
	resp.AI.Configured = s.cfg.AI.Configured
	resp.AI.Model = s.cfg.AI.Model
	resp.AI.MaxPromptChars = s.cfg.AI.MaxPromptChars
	resp.AI.TokenCostPerChat = s.cfg.AI.TokenCostPerChat
	resp.Quests.DailyCount = s.cfg.Quests.DailyCount
	resp.Quests.WeeklyCount = s.cfg.Quests.WeeklyCount
	resp.Quests.QuestsPerCommunity = s.cfg.Quests.QuestsPerCommunity
	resp.Quests.GenerationSchedule = s.cfg.Quests.GenerationSchedule
	writeJSON(rw, http.StatusOK, resp)
}

type generateResponse struct {
	Generated int    `json:"generated"`
	PeriodKey string `json:"periodKey"`
}

func (s *Server) handleForceGenerate(typ quest.Type) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		now := s.now()
		n, err := s.Generate(typ, now)
		if err != nil {
			s.internal(rw, "force generate", err)
			return
		}
		writeJSON(rw, http.StatusOK, generateResponse{Generated: n, PeriodKey: quest.PeriodKeyFor(typ, now)})
	}
}

// Generate mints the current period's quest set for every known
// (user, community) pair. Re-running for a period that already exists
// inserts nothing.
func (s *Server) Generate(typ quest.Type, now time.Time) (int, error) {
	userIDs, err := s.store.UserIDs()
	if err != nil {
		return 0, err
	}
	communityIDs, err := s.store.CommunityIDs()
	if err != nil {
		return 0, err
	}
	count := s.cfg.Quests.DailyCount
	xp := s.cfg.Quests.DailyXP
	if typ == quest.TypeWeekly {
		count = s.cfg.Quests.WeeklyCount
		xp = s.cfg.Quests.WeeklyXP
	}
	qs := quest.GeneratePeriod(userIDs, communityIDs, typ, now, count, xp)
	return s.store.InsertQuests(qs)
}

// handleQuestByID covers DELETE /ai/quests/{id}. The list and verb routes
// own their exact paths; anything else under the prefix lands here.
func (s *Server) handleQuestByID(rw http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ai/quests/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(rw, r)
		return
	}
	if r.Method != http.MethodDelete {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if err := s.store.DeleteQuest(id); err != nil {
		s.questError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"deleted": true})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(rw, status, body)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (s *Server) internal(rw http.ResponseWriter, what string, err error) {
	if s.log != nil {
		s.log.Printf("%s: %v", what, err)
	}
	writeError(rw, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func (s *Server) questError(rw http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrQuestNotFound) {
		writeError(rw, http.StatusNotFound, "NOT_FOUND", "quest not found")
		return
	}
	writeError(rw, http.StatusConflict, "CONFLICT", err.Error())
}

func requestUser(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
