// Package ledger holds the client-side mirror of the server-owned token
// balance. The mirror is advisory: it gates spend attempts locally, but the
// server re-checks every spend and its value always wins on reconcile.
package ledger

import "sync"

type Ledger struct {
	mu     sync.Mutex
	mirror int
}

func New(initial int) *Ledger {
	if initial < 0 {
		initial = 0
	}
	return &Ledger{mirror: initial}
}

func (l *Ledger) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mirror
}

func (l *Ledger) Credit(amount int) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	l.mirror += amount
	l.mu.Unlock()
}

// Debit is the local admission gate: it succeeds only if the mirror covers
// the amount. A debit that would go negative leaves the mirror untouched and
// returns false. Passing the gate does not guarantee the server will accept
// the spend.
func (l *Ledger) Debit(amount int) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mirror < amount {
		return false
	}
	l.mirror -= amount
	return true
}

// Reconcile unconditionally overwrites the mirror with the authoritative
// server value. Last authoritative value wins; any in-flight speculative
// delta is discarded rather than blended.
func (l *Ledger) Reconcile(authoritative int) {
	if authoritative < 0 {
		authoritative = 0
	}
	l.mu.Lock()
	l.mirror = authoritative
	l.mu.Unlock()
}
