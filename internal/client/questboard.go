package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"guildpulse.gg/internal/quest"
	"guildpulse.gg/internal/speculative"
)

var ErrQuestInFlight = errors.New("quest mutation in flight")

// QuestItem is the server's render-ready quest projection.
type QuestItem struct {
	quest.Quest
	Status    quest.Status    `json:"status"`
	Remaining quest.Remaining `json:"remaining"`
}

// Profile is the user aggregate the server derives from quest completions.
type Profile struct {
	XP     int `json:"xp"`
	Level  int `json:"level"`
	Tokens int `json:"tokens"`
}

// Standing is a community or clan XP aggregate.
type Standing struct {
	ID      string `json:"id"`
	Level   int    `json:"level"`
	TotalXP int    `json:"totalXp"`
}

// CompletionResult is the award payload a quest completion returns.
type CompletionResult struct {
	XPAwarded        int    `json:"xpAwarded"`
	CurrentLevel     int    `json:"currentLevel"`
	TokensAwarded    int    `json:"tokensAwarded"`
	CurrentTokens    int    `json:"currentTokens"`
	CommunityLevel   int    `json:"communityLevel"`
	CommunityID      string `json:"communityId"`
	CommunityTotalXP int    `json:"communityTotalXp"`
	ClanMemberXP     int    `json:"clanMemberXp"`
	ClanID           string `json:"clanId"`
	ClanTotalXP      int    `json:"clanTotalXp"`
}

// QuestBoard holds the cached quest lists and the aggregates hanging off
// them. Start and complete apply optimistically through the speculative
// cache: commit on server success (aggregates go stale, never patched),
// byte-identical revert on failure.
type QuestBoard struct {
	baseURL string
	userID  string
	http    *http.Client
	channel *Channel

	cache     *speculative.Cache
	Daily     *speculative.View[[]QuestItem]
	Weekly    *speculative.View[[]QuestItem]
	Profile   *speculative.View[Profile]
	Community *speculative.View[Standing]
	Clan      *speculative.View[Standing]

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewQuestBoard wires a board against the REST base URL. The channel is
// optional; when present, completion results reconcile its token mirror.
func NewQuestBoard(baseURL, userID string, ch *Channel) *QuestBoard {
	cache := speculative.NewCache()
	return &QuestBoard{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 10 * time.Second},
		channel: ch,
		cache:   cache,
		Daily:   speculative.NewView(cache, []QuestItem(nil), speculative.CloneSlice[QuestItem]),
		Weekly:  speculative.NewView(cache, []QuestItem(nil), speculative.CloneSlice[QuestItem]),
		Profile: speculative.NewView(cache, Profile{}, nil),
		Community: speculative.NewView(cache, Standing{}, nil),
		Clan:      speculative.NewView(cache, Standing{}, nil),
		inflight:  map[string]struct{}{},
	}
}

func (b *QuestBoard) viewFor(typ quest.Type) *speculative.View[[]QuestItem] {
	if typ == quest.TypeWeekly {
		return b.Weekly
	}
	return b.Daily
}

// Refresh replaces one quest list with fresh server data.
func (b *QuestBoard) Refresh(typ quest.Type) error {
	path := "/ai/quests/daily"
	if typ == quest.TypeWeekly {
		path = "/ai/quests/weekly"
	}
	var resp struct {
		Quests []QuestItem `json:"quests"`
	}
	if err := b.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	b.viewFor(typ).Set(resp.Quests)
	return nil
}

// acquire serializes mutations per quest id.
func (b *QuestBoard) acquire(questID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[questID]; busy {
		return false
	}
	b.inflight[questID] = struct{}{}
	return true
}

func (b *QuestBoard) release(questID string) {
	b.mu.Lock()
	delete(b.inflight, questID)
	b.mu.Unlock()
}

// Start marks the quest IN_PROGRESS optimistically, then confirms with the
// server. The revert restores the exact pre-mutation list.
func (b *QuestBoard) Start(typ quest.Type, questID string) error {
	if !b.acquire(questID) {
		return ErrQuestInFlight
	}
	defer b.release(questID)

	now := time.Now()
	m := speculative.Begin(speculative.Touch(b.viewFor(typ), func(items []QuestItem) []QuestItem {
		for i := range items {
			if items[i].ID == questID && items[i].StartedAt == nil {
				t := now
				items[i].StartedAt = &t
				items[i].Status = quest.StatusInProgress
			}
		}
		return items
	}))

	var updated QuestItem
	if err := b.do(http.MethodPost, "/ai/quests/start", questIDBody{QuestID: questID}, &updated); err != nil {
		m.Revert()
		return err
	}
	m.Commit()
	// The server's startedAt is the countdown anchor; adopt it.
	b.viewFor(typ).Set(replaceItem(b.viewFor(typ).Get(), updated))
	return nil
}

// Complete flips the quest optimistically, confirms with the server and
// marks every dependent aggregate stale: levels and totals are derived
// server-side and refetched, never patched locally.
func (b *QuestBoard) Complete(typ quest.Type, questID string) (CompletionResult, error) {
	if !b.acquire(questID) {
		return CompletionResult{}, ErrQuestInFlight
	}
	defer b.release(questID)

	m := speculative.Begin(speculative.Touch(b.viewFor(typ), func(items []QuestItem) []QuestItem {
		for i := range items {
			if items[i].ID == questID {
				items[i].IsCompleted = true
				items[i].Status = quest.StatusCompleted
			}
		}
		return items
	}))

	var res CompletionResult
	if err := b.do(http.MethodPatch, "/ai/quests/complete", questIDBody{QuestID: questID}, &res); err != nil {
		m.Revert()
		return CompletionResult{}, err
	}
	m.Commit(b.Profile, b.Community, b.Clan)

	if b.channel != nil {
		b.channel.Ledger().Reconcile(res.CurrentTokens)
	}
	return res, nil
}

type questIDBody struct {
	QuestID string `json:"questId"`
}

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (b *QuestBoard) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, b.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", b.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&eb) == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func replaceItem(items []QuestItem, updated QuestItem) []QuestItem {
	for i := range items {
		if items[i].ID == updated.ID {
			items[i] = updated
		}
	}
	return items
}
