package store

import (
	"database/sql"
	"fmt"
	"math"
)

// Level derivation is server-owned: clients must refetch, never recompute.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + int(math.Sqrt(float64(xp)/100))
}

func CommunityLevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + int(math.Sqrt(float64(xp)/250))
}

type User struct {
	ID     string
	XP     int
	Level  int
	Tokens int
}

func (s *Store) EnsureUser(id string, startingTokens int) error {
	_, err := s.db.Exec(
		`INSERT INTO users(id, xp, tokens) VALUES(?, 0, ?) ON CONFLICT(id) DO NOTHING`,
		id, startingTokens,
	)
	return err
}

func (s *Store) GetUser(id string) (User, error) {
	var u User
	err := s.db.QueryRow(`SELECT id, xp, tokens FROM users WHERE id=?`, id).Scan(&u.ID, &u.XP, &u.Tokens)
	if err != nil {
		return User{}, err
	}
	u.Level = LevelForXP(u.XP)
	return u, nil
}

func (s *Store) EnsureCommunity(id string) error {
	_, err := s.db.Exec(`INSERT INTO communities(id, total_xp) VALUES(?, 0) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

func (s *Store) EnsureClan(id string) error {
	_, err := s.db.Exec(`INSERT INTO clans(id, total_xp) VALUES(?, 0) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

// SetClanMember places a user in a clan (one clan per user).
func (s *Store) SetClanMember(userID, clanID string) error {
	if err := s.EnsureClan(clanID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO clan_members(user_id, clan_id, xp) VALUES(?, ?, 0)
		 ON CONFLICT(user_id) DO UPDATE SET clan_id=excluded.clan_id`,
		userID, clanID,
	)
	return err
}

// Tokens returns the authoritative balance.
func (s *Store) Tokens(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT tokens FROM users WHERE id=?`, userID).Scan(&n)
	return n, err
}

// CreditTokens adds to the balance and returns the new authoritative value.
func (s *Store) CreditTokens(userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative credit %d", amount)
	}
	if _, err := s.db.Exec(`UPDATE users SET tokens = tokens + ? WHERE id=?`, amount, userID); err != nil {
		return 0, err
	}
	return s.Tokens(userID)
}

// DebitTokens is the server's own admission check: it only succeeds when the
// stored balance covers the amount, atomically. The returned balance is
// authoritative either way.
func (s *Store) DebitTokens(userID string, amount int) (ok bool, remaining int, err error) {
	if amount < 0 {
		return false, 0, fmt.Errorf("negative debit %d", amount)
	}
	res, err := s.db.Exec(
		`UPDATE users SET tokens = tokens - ? WHERE id=? AND tokens >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return false, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	remaining, err = s.Tokens(userID)
	if err != nil {
		return false, 0, err
	}
	return n == 1, remaining, nil
}

// CompletionAward is the aggregate payload a quest completion returns. All
// derived fields (levels, totals) are computed here, server-side.
type CompletionAward struct {
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

// ApplyCompletionAward propagates a completed quest's XP into the user,
// community and clan aggregates and credits the token award, in one
// transaction.
func (s *Store) ApplyCompletionAward(userID, communityID string, xp, tokens int) (CompletionAward, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return CompletionAward{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE users SET xp = xp + ?, tokens = tokens + ? WHERE id=?`, xp, tokens, userID); err != nil {
		return CompletionAward{}, err
	}
	if _, err := tx.Exec(
		`INSERT INTO communities(id, total_xp) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET total_xp = total_xp + excluded.total_xp`,
		communityID, xp,
	); err != nil {
		return CompletionAward{}, err
	}

	var clanID sql.NullString
	var clanMemberXP int
	err = tx.QueryRow(`SELECT clan_id, xp FROM clan_members WHERE user_id=?`, userID).Scan(&clanID, &clanMemberXP)
	if err != nil && err != sql.ErrNoRows {
		return CompletionAward{}, err
	}
	if clanID.Valid {
		if _, err := tx.Exec(`UPDATE clan_members SET xp = xp + ? WHERE user_id=?`, xp, userID); err != nil {
			return CompletionAward{}, err
		}
		if _, err := tx.Exec(`UPDATE clans SET total_xp = total_xp + ? WHERE id=?`, xp, clanID.String); err != nil {
			return CompletionAward{}, err
		}
		clanMemberXP += xp
	}

	var userXP, userTokens, communityXP int
	if err := tx.QueryRow(`SELECT xp, tokens FROM users WHERE id=?`, userID).Scan(&userXP, &userTokens); err != nil {
		return CompletionAward{}, err
	}
	if err := tx.QueryRow(`SELECT total_xp FROM communities WHERE id=?`, communityID).Scan(&communityXP); err != nil {
		return CompletionAward{}, err
	}
	var clanTotalXP int
	if clanID.Valid {
		if err := tx.QueryRow(`SELECT total_xp FROM clans WHERE id=?`, clanID.String).Scan(&clanTotalXP); err != nil {
			return CompletionAward{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return CompletionAward{}, err
	}

	return CompletionAward{
		XPAwarded:        xp,
		CurrentLevel:     LevelForXP(userXP),
		TokensAwarded:    tokens,
		CurrentTokens:    userTokens,
		CommunityLevel:   CommunityLevelForXP(communityXP),
		CommunityID:      communityID,
		CommunityTotalXP: communityXP,
		ClanMemberXP:     clanMemberXP,
		ClanID:           clanID.String,
		ClanTotalXP:      clanTotalXP,
	}, nil
}
