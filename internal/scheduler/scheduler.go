// Package scheduler drives the autonomous side of the city: it periodically
// starts conversations between idle residents, nudges idle conversations
// forward, and resets daily quotas at midnight. Every trigger is isolated so
// a panic or error in one never stops the loop.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/clock"
	"github.com/nidhogg/agora/internal/config"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
)

// Lifecycle is the slice of the engine the scheduler needs.
type Lifecycle interface {
	StartConversation(ctx context.Context, participantIDs []string, topic, location, activity string) (*conversation.Record, error)
	RunTurn(ctx context.Context, convID string) error
}

// Decayer ages relationships that have gone without contact. The social
// graph implements it; nil disables the pass.
type Decayer interface {
	Decay(ctx context.Context)
}

// Scheduler fires the periodic triggers. Tick is the unit of work so tests
// can drive it with a manual clock; Run wraps it in a production ticker.
type Scheduler struct {
	cfg     config.SchedulerConfig
	eng     Lifecycle
	reg     *registry.Registry
	quota   *quota.Tracker
	convs   *conversation.Store
	clk     clock.Clock
	decayer Decayer
	logger  *zap.Logger

	rng   *rand.Rand
	rngMu sync.Mutex

	// Turns run on their own goroutines so a hung generation stalls only
	// its conversation, never the tick loop. pending holds the ids with a
	// dispatched turn still in flight.
	pending   map[string]bool
	pendingMu sync.Mutex
	turnWG    sync.WaitGroup

	lastGenerated time.Time
	lastSwept     time.Time
	lastDecayed   time.Time
	lastResetDay  int // year*1000 + day-of-year
}

func New(
	cfg config.SchedulerConfig,
	eng Lifecycle,
	reg *registry.Registry,
	tracker *quota.Tracker,
	convs *conversation.Store,
	clk clock.Clock,
	rng *rand.Rand,
	logger *zap.Logger,
) *Scheduler {
	cfg.Defaults()
	return &Scheduler{
		cfg:          cfg,
		eng:          eng,
		reg:          reg,
		quota:        tracker,
		convs:        convs,
		clk:          clk,
		rng:          rng,
		logger:       logger,
		pending:      make(map[string]bool),
		lastResetDay: dayKey(clk.Now()),
	}
}

// SetDecayer wires the periodic relationship-decay pass. Optional.
func (s *Scheduler) SetDecayer(d Decayer) {
	s.decayer = d
}

// Run executes ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval.Std())
	defer ticker.Stop()
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.TickInterval.Std()),
		zap.Int("max_active", s.cfg.MaxActive))
	for {
		select {
		case <-ctx.Done():
			s.turnWG.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.clk.Now())
		}
	}
}

// Tick evaluates every trigger against the given instant. Triggers only
// dispatch work; Tick itself never blocks on a generation call.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.runTrigger("daily_reset", func() { s.maybeResetDaily(now) })

	if now.Sub(s.lastGenerated) >= s.cfg.GeneratorInterval.Std() {
		s.lastGenerated = now
		s.runTrigger("generator", func() { s.generate(ctx, now) })
	}
	if now.Sub(s.lastSwept) >= s.cfg.SweepInterval.Std() {
		s.lastSwept = now
		s.runTrigger("sweep", func() { s.sweep(ctx, now) })
	}
	if s.decayer != nil && now.Sub(s.lastDecayed) >= s.cfg.DecayInterval.Std() {
		s.lastDecayed = now
		s.runTrigger("relation_decay", func() { s.decayer.Decay(ctx) })
	}
}

// WaitTurns blocks until every dispatched turn has finished. Tests use it
// to settle the world between ticks.
func (s *Scheduler) WaitTurns() {
	s.turnWG.Wait()
}

// runTrigger isolates a trigger so one failure never takes the loop down.
func (s *Scheduler) runTrigger(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("trigger panicked",
				zap.String("trigger", name), zap.Any("panic", r))
		}
	}()
	fn()
}

// dispatchTurn runs one engine turn on its own goroutine. At most one
// dispatched turn per conversation is in flight; while one is pending the
// conversation is simply skipped. recheck, if non-nil, re-validates the
// dispatch condition on the goroutine, after the pending slot is claimed.
func (s *Scheduler) dispatchTurn(ctx context.Context, convID string, recheck func() bool) {
	s.pendingMu.Lock()
	if s.pending[convID] {
		s.pendingMu.Unlock()
		return
	}
	s.pending[convID] = true
	s.pendingMu.Unlock()

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		defer func() {
			s.pendingMu.Lock()
			delete(s.pending, convID)
			s.pendingMu.Unlock()
			if r := recover(); r != nil {
				s.logger.Error("turn panicked",
					zap.String("conversation", convID), zap.Any("panic", r))
			}
		}()
		if recheck != nil && !recheck() {
			return
		}
		if err := s.eng.RunTurn(ctx, convID); err != nil && !errors.Is(err, conversation.ErrEnded) {
			s.logger.Warn("dispatched turn failed",
				zap.String("conversation", convID), zap.Error(err))
		}
	}()
}

// maybeResetDaily clears per-agent counts and the global budget once per
// local day. Reservations held by in-flight conversations survive the reset.
func (s *Scheduler) maybeResetDaily(now time.Time) {
	key := dayKey(now)
	if key == s.lastResetDay {
		return
	}
	s.lastResetDay = key
	s.quota.ResetDaily()
	s.logger.Info("daily quotas reset", zap.String("day", now.Format("2006-01-02")))
}

// generate probabilistically starts a conversation between two idle
// residents whose routines put them in a social mood right now.
func (s *Scheduler) generate(ctx context.Context, now time.Time) {
	if s.quietHours(now) {
		return
	}
	if s.convs.CountActive() >= s.cfg.MaxActive {
		return
	}

	eligible := s.eligibleAgents(now)
	if len(eligible) < 2 {
		return
	}

	initiator := eligible[s.randIntn(len(eligible))]
	partner := s.pickPartner(initiator, eligible)
	if partner == nil {
		return
	}

	slot := s.reg.RoutineAt(initiator.ID, now)
	topic := s.pickTopic(initiator, partner, slot)
	location, activity := "the square", "passing time"
	if slot != nil {
		if slot.Location != "" {
			location = slot.Location
		}
		if slot.Activity != "" {
			activity = slot.Activity
		}
	}

	rec, err := s.eng.StartConversation(ctx, []string{initiator.ID, partner.ID}, topic, location, activity)
	if err != nil {
		// Losing the race for a participant is routine, not a defect.
		if errors.Is(err, quota.ErrParticipantsBusy) || errors.Is(err, quota.ErrBudgetExhausted) {
			s.logger.Debug("generation skipped", zap.Error(err))
			return
		}
		s.logger.Warn("conversation generation failed", zap.Error(err))
		return
	}
	s.dispatchTurn(ctx, rec.ID, nil)
}

// eligibleAgents filters active residents down to those who are free, under
// quota, and whose routine slot rolls social right now.
func (s *Scheduler) eligibleAgents(now time.Time) []*registry.Agent {
	var out []*registry.Agent
	for _, agent := range s.reg.ListActive() {
		if _, busy := s.quota.Busy(agent.ID); busy {
			continue
		}
		if !s.quota.CanStart(agent.ID) {
			continue
		}
		slot := s.reg.RoutineAt(agent.ID, now)
		if slot == nil {
			continue
		}
		p := slot.SocialProbability * (0.5 + 0.5*s.reg.Extroversion(agent.ID))
		if s.randFloat() < p {
			out = append(out, agent)
		}
	}
	return out
}

// pickPartner prefers a friend of the initiator when one is eligible.
func (s *Scheduler) pickPartner(initiator *registry.Agent, eligible []*registry.Agent) *registry.Agent {
	friends := make(map[string]bool)
	for _, id := range s.reg.Friends(initiator.ID) {
		friends[id] = true
	}
	var friendPool, pool []*registry.Agent
	for _, a := range eligible {
		if a.ID == initiator.ID {
			continue
		}
		pool = append(pool, a)
		if friends[a.ID] {
			friendPool = append(friendPool, a)
		}
	}
	if len(friendPool) > 0 {
		return friendPool[s.randIntn(len(friendPool))]
	}
	if len(pool) > 0 {
		return pool[s.randIntn(len(pool))]
	}
	return nil
}

// pickTopic prefers routine-slot topics, then shared interests, then
// whatever the initiator cares about.
func (s *Scheduler) pickTopic(initiator, partner *registry.Agent, slot *registry.RoutineSlot) string {
	if slot != nil && len(slot.Topics) > 0 {
		return slot.Topics[s.randIntn(len(slot.Topics))]
	}
	shared := intersect(initiator.Interests, partner.Interests)
	if len(shared) > 0 {
		return shared[s.randIntn(len(shared))]
	}
	if len(initiator.Interests) > 0 {
		return initiator.Interests[s.randIntn(len(initiator.Interests))]
	}
	return "the neighborhood"
}

// sweep advances conversations that have gone quiet. Turn errors close the
// conversation inside the engine; the dispatch path only reports them.
func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	idle := s.cfg.IdleBeforeSweep.Std()
	for _, rec := range s.convs.ListActive() {
		if now.Sub(rec.LastMessageAt) < idle {
			continue
		}
		id := rec.ID
		// The listing can be stale by the time the goroutine runs, so the
		// idleness check is repeated against the live record.
		s.dispatchTurn(ctx, id, func() bool {
			cur, err := s.convs.Get(id)
			if err != nil || cur.Status != conversation.StatusActive {
				return false
			}
			return now.Sub(cur.LastMessageAt) >= idle
		})
	}
}

// quietHours reports whether autonomous generation is paused for the hour.
func (s *Scheduler) quietHours(now time.Time) bool {
	h := now.Hour()
	start, end := s.cfg.QuietHourStart, s.cfg.QuietHourEnd
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (s *Scheduler) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Scheduler) randIntn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func dayKey(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}
