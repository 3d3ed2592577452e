package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jewelshot/engine/internal/domain"
)

// Action names a destructive operation that must be confirmed.
type Action string

const (
	ActionCancel Action = "cancel"
	ActionClear  Action = "clear"
)

// DefaultConfirmTTL bounds how long a minted token stays redeemable.
const DefaultConfirmTTL = 2 * time.Minute

// Gate implements the two-step confirmation for destructive actions. The
// first request mints a one-time token bound to (action, batch); the second
// request redeems it. Controllers trust their callers, so the gate is the
// testable precondition sitting in front of them.
type Gate struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]pendingConfirm
	now    func() time.Time
}

type pendingConfirm struct {
	action    Action
	batchID   string
	expiresAt time.Time
}

// NewGate creates a gate with the given token lifetime; ttl <= 0 selects the
// default.
func NewGate(ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	return &Gate{
		ttl:    ttl,
		tokens: make(map[string]pendingConfirm),
		now:    time.Now,
	}
}

// Request mints a confirmation token for the action on the batch.
func (g *Gate) Request(action Action, batchID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()
	token := uuid.NewString()
	g.tokens[token] = pendingConfirm{
		action:    action,
		batchID:   batchID,
		expiresAt: g.now().Add(g.ttl),
	}
	return token
}

// Confirm redeems a token. A token works exactly once and only for the
// action and batch it was minted for.
func (g *Gate) Confirm(token string, action Action, batchID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pending, ok := g.tokens[token]
	if !ok {
		return domain.ErrConfirmationRequired
	}
	delete(g.tokens, token)
	if pending.action != action || pending.batchID != batchID {
		return domain.ErrConfirmationRequired
	}
	if g.now().After(pending.expiresAt) {
		return domain.ErrConfirmationRequired
	}
	return nil
}

func (g *Gate) sweepLocked() {
	now := g.now()
	for token, pending := range g.tokens {
		if now.After(pending.expiresAt) {
			delete(g.tokens, token)
		}
	}
}
