// Package quota enforces daily throughput limits: per-agent conversation
// caps, a global generation-call budget, and an adaptive cooldown that
// grows with call volume.
package quota

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/clock"
)

var (
	// ErrParticipantsBusy means at least one agent in a reservation set is
	// already engaged. Do not retry immediately.
	ErrParticipantsBusy = errors.New("participants busy")
	// ErrBudgetExhausted means the global daily call budget is spent.
	// Recoverable only after cooldown or the daily reset.
	ErrBudgetExhausted = errors.New("daily budget exhausted")
)

// Config holds the limits. Zero values are filled with defaults.
type Config struct {
	AgentDailyCap  int
	GlobalDailyCap int
	BaseCooldown   time.Duration
	CooldownGrowth float64 // k in cooldown*(1+k*dailyCalls)
}

func (c *Config) defaults() {
	if c.AgentDailyCap == 0 {
		c.AgentDailyCap = 12
	}
	if c.GlobalDailyCap == 0 {
		c.GlobalDailyCap = 500
	}
	if c.BaseCooldown == 0 {
		c.BaseCooldown = 5 * time.Minute
	}
	if c.CooldownGrowth == 0 {
		c.CooldownGrowth = 0.002
	}
}

type agentQuota struct {
	count int
	last  time.Time
}

// Tracker is the in-memory rate limiter. It performs no I/O.
type Tracker struct {
	cfg        Config
	agents     map[string]*agentQuota
	busy       map[string]string // agentID -> conversationID
	dailyCalls int
	clk        clock.Clock
	mu         sync.Mutex
	logger     *zap.Logger
}

// New creates a tracker.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) *Tracker {
	cfg.defaults()
	return &Tracker{
		cfg:    cfg,
		agents: make(map[string]*agentQuota),
		busy:   make(map[string]string),
		clk:    clk,
		logger: logger,
	}
}

// cooldown grows with global call volume: a negative-feedback throttle.
func (t *Tracker) cooldown() time.Duration {
	factor := 1 + t.cfg.CooldownGrowth*float64(t.dailyCalls)
	return time.Duration(float64(t.cfg.BaseCooldown) * factor)
}

// CanStart reports whether an agent may begin a new conversation: under the
// daily cap and past the adaptive cooldown since its last one.
func (t *Tracker) CanStart(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.agents[agentID]
	if !ok {
		return true
	}
	if q.count >= t.cfg.AgentDailyCap {
		return false
	}
	if !q.last.IsZero() && t.clk.Now().Sub(q.last) <= t.cooldown() {
		return false
	}
	return true
}

// Reserve atomically marks a participant set busy for a conversation.
// It fails entirely, reserving nobody, if any agent is already busy or the
// global budget is exhausted.
func (t *Tracker) Reserve(conversationID string, agentIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dailyCalls >= t.cfg.GlobalDailyCap {
		return ErrBudgetExhausted
	}
	for _, id := range agentIDs {
		if _, taken := t.busy[id]; taken {
			return ErrParticipantsBusy
		}
	}
	now := t.clk.Now()
	for _, id := range agentIDs {
		t.busy[id] = conversationID
		q, ok := t.agents[id]
		if !ok {
			q = &agentQuota{}
			t.agents[id] = q
		}
		q.count++
		q.last = now
	}
	return nil
}

// Release frees the participants of a terminated conversation and stamps
// their last-conversation time for cooldown purposes.
func (t *Tracker) Release(agentIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	for _, id := range agentIDs {
		delete(t.busy, id)
		if q, ok := t.agents[id]; ok {
			q.last = now
		}
	}
}

// Busy reports whether an agent currently holds a reservation, and where.
func (t *Tracker) Busy(agentID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv, ok := t.busy[agentID]
	return conv, ok
}

// ConsumeCall charges one external generation call against the global
// budget. The call that would exceed the budget is rejected.
func (t *Tracker) ConsumeCall() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dailyCalls >= t.cfg.GlobalDailyCap {
		return ErrBudgetExhausted
	}
	t.dailyCalls++
	return nil
}

// DailyCalls returns today's global call count.
func (t *Tracker) DailyCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dailyCalls
}

// ResetDaily clears per-agent counters and the global call count at the
// day boundary. Reservations held by still-active conversations survive.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents = make(map[string]*agentQuota)
	t.dailyCalls = 0
	t.logger.Info("daily quota counters reset",
		zap.Int("held_reservations", len(t.busy)))
}
