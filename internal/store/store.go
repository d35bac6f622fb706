// Package store is the server's sqlite persistence: users, communities,
// clans, quests, token balances and the chat log. Reads and balance/quest
// mutations are synchronous; chat-log appends go through a buffered
// single-writer goroutine so a bursty stream never stalls the hub.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB

	ch   chan chatLogReq
	wg   sync.WaitGroup
	once sync.Once

	// closeMu orders appends against Close: a send never races the channel
	// close.
	closeMu sync.RWMutex
	closed  bool
}

type chatLogReq struct {
	SessionID string
	UserID    string
	Role      string
	Content   string
	At        time.Time
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		// Generous buffer: chat streams append one row per message leg.
		ch: make(chan chatLogReq, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style chat log; NORMAL is an acceptable
	// durability/perf tradeoff for a gamification read model.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			xp INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0 CHECK (tokens >= 0)
		);`,
		`CREATE TABLE IF NOT EXISTS communities (
			id TEXT PRIMARY KEY,
			total_xp INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS clans (
			id TEXT PRIMARY KEY,
			total_xp INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS clan_members (
			user_id TEXT PRIMARY KEY,
			clan_id TEXT NOT NULL,
			xp INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS quests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			community_id TEXT NOT NULL,
			description TEXT NOT NULL,
			xp_value INTEGER NOT NULL,
			type TEXT NOT NULL,
			period_key TEXT NOT NULL,
			period_seq INTEGER NOT NULL,
			started_at INTEGER,
			is_completed INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS quests_canonical
			ON quests(user_id, community_id, period_key, period_seq);`,
		`CREATE INDEX IF NOT EXISTS quests_by_user_type
			ON quests(user_id, type, period_key);`,
		`CREATE TABLE IF NOT EXISTS chat_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chat_log_by_session ON chat_log(session_id, id);`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// AppendChat queues a chat-log row. Drops are not acceptable for a ledgered
// exchange, so a full buffer blocks the caller; the hub loop appends the
// user leg, which is why the buffer is sized well past any realistic burst.
// After Close the row is silently discarded.
func (s *Store) AppendChat(sessionID, userID, role, content string) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	s.ch <- chatLogReq{SessionID: sessionID, UserID: userID, Role: role, Content: content, At: time.Now().UTC()}
}

func (s *Store) loop() {
	for req := range s.ch {
		_, err := s.db.Exec(
			`INSERT INTO chat_log(session_id, user_id, role, content, created_at) VALUES(?,?,?,?,?)`,
			req.SessionID, req.UserID, req.Role, req.Content, req.At.Format(time.RFC3339Nano),
		)
		_ = err // the chat log is best-effort; balances and quests are not
	}
}

func (s *Store) Close() error {
	s.once.Do(func() {
		// Taking the write lock waits out any append already past its
		// closed check before the channel goes away.
		s.closeMu.Lock()
		s.closed = true
		close(s.ch)
		s.closeMu.Unlock()
	})
	s.wg.Wait()
	return s.db.Close()
}

// ChatLogCount is used by tests and the admin surface.
func (s *Store) ChatLogCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_log WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}
