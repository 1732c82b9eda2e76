package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/clock"
	"github.com/nidhogg/agora/internal/config"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
)

// fakeLifecycle mimics the engine against the real store and tracker so the
// scheduler's triggers can be observed without providers. Turns arrive on
// dispatch goroutines, so the log is mutex-guarded.
type fakeLifecycle struct {
	store *conversation.Store
	quota *quota.Tracker
	clk   *clock.Manual

	mu        sync.Mutex
	starts    int
	turns     []string
	panicTurn bool
}

func (f *fakeLifecycle) StartConversation(_ context.Context, ids []string, topic, location, activity string) (*conversation.Record, error) {
	f.mu.Lock()
	id := fmt.Sprintf("conv-%d", f.starts)
	f.mu.Unlock()
	if err := f.quota.Reserve(id, ids); err != nil {
		return nil, err
	}
	rec := &conversation.Record{
		ID:            id,
		Participants:  ids,
		Topic:         topic,
		Context:       conversation.Context{Location: location, Activity: activity, District: "downtown"},
		StartedAt:     f.clk.Now(),
		LastMessageAt: f.clk.Now(),
	}
	if err := f.store.Create(rec); err != nil {
		f.quota.Release(ids)
		return nil, err
	}
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return f.store.Get(id)
}

func (f *fakeLifecycle) RunTurn(_ context.Context, convID string) error {
	f.mu.Lock()
	if f.panicTurn {
		f.mu.Unlock()
		panic("turn exploded")
	}
	f.turns = append(f.turns, convID)
	n := len(f.turns)
	f.mu.Unlock()
	return f.store.Append(convID, conversation.Message{
		ID:        fmt.Sprintf("m-%d", n),
		Author:    "someone",
		Role:      conversation.RoleAgent,
		Content:   "well then",
		Timestamp: f.clk.Now(),
	})
}

func (f *fakeLifecycle) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeLifecycle) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

type fixture struct {
	sched *Scheduler
	fake  *fakeLifecycle
	reg   *registry.Registry
	quota *quota.Tracker
	convs *conversation.Store
	clk   *clock.Manual
}

func newFixture(t *testing.T, cfg config.SchedulerConfig, start time.Time) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewManual(start)
	reg := registry.New(clk, logger)
	tracker := quota.New(quota.Config{}, clk, logger)
	convs := conversation.NewStore(logger)
	fake := &fakeLifecycle{store: convs, quota: tracker, clk: clk}

	sched := New(cfg, fake, reg, tracker, convs, clk,
		rand.New(rand.NewSource(11)), logger)
	return &fixture{sched: sched, fake: fake, reg: reg, quota: tracker, convs: convs, clk: clk}
}

// tick runs one tick and waits for every dispatched turn to land.
func (f *fixture) tick(ctx context.Context) {
	f.sched.Tick(ctx, f.clk.Now())
	f.sched.WaitTurns()
}

// registerSocial adds an always-approachable agent.
func (f *fixture) registerSocial(t *testing.T, id string) {
	t.Helper()
	err := f.reg.Register(&registry.Agent{
		ID:     id,
		Name:   id,
		Traits: map[string]float64{registry.TraitExtroversion: 1},
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	err = f.reg.SetRoutine(id, []registry.RoutineSlot{{
		StartHour: 0, EndHour: 24,
		Activity: "loitering", Location: "the square",
		Topics:            []string{"the weather"},
		SocialProbability: 1,
	}})
	if err != nil {
		t.Fatalf("routine %s: %v", id, err)
	}
}

var noon = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGeneratorStartsConversations(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{}, noon)
	f.registerSocial(t, "ada")
	f.registerSocial(t, "bo")

	f.tick(context.Background())

	if got := f.fake.startCount(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}
	if got := f.fake.turnCount(); got != 1 {
		t.Fatalf("opening turns = %d, want 1", got)
	}
	recs := f.convs.ListActive()
	if len(recs) != 1 {
		t.Fatalf("active conversations = %d, want 1", len(recs))
	}
	if recs[0].Topic != "the weather" {
		t.Fatalf("topic = %q, want routine topic", recs[0].Topic)
	}
	if recs[0].Context.Location != "the square" {
		t.Fatalf("location = %q, want routine location", recs[0].Context.Location)
	}
}

func TestGeneratorSkipsQuietHours(t *testing.T) {
	threeAM := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	f := newFixture(t, config.SchedulerConfig{}, threeAM)
	f.registerSocial(t, "ada")
	f.registerSocial(t, "bo")

	f.tick(context.Background())

	if got := f.fake.startCount(); got != 0 {
		t.Fatalf("starts = %d during quiet hours, want 0", got)
	}
}

func TestGeneratorHonorsMaxActive(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{MaxActive: 1, GeneratorInterval: config.Duration(time.Minute)}, noon)
	for _, id := range []string{"ada", "bo", "cy", "dee"} {
		f.registerSocial(t, id)
	}

	f.tick(context.Background())
	if got := f.fake.startCount(); got != 1 {
		t.Fatalf("starts = %d after first tick, want 1", got)
	}

	f.clk.Advance(2 * time.Minute)
	f.tick(context.Background())
	if got := f.fake.startCount(); got != 1 {
		t.Fatalf("starts = %d with active cap reached, want 1", got)
	}
}

func TestGeneratorSkipsBusyAgents(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{GeneratorInterval: config.Duration(time.Minute)}, noon)
	f.registerSocial(t, "ada")
	f.registerSocial(t, "bo")

	f.tick(context.Background())
	if got := f.fake.startCount(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}

	// Both residents are now engaged; the generator finds nobody.
	f.clk.Advance(2 * time.Minute)
	f.tick(context.Background())
	if got := f.fake.startCount(); got != 1 {
		t.Fatalf("starts = %d with everyone busy, want 1", got)
	}
}

func TestSweepProducesAtMostOneMessage(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{}, noon)

	if _, err := f.fake.StartConversation(context.Background(), []string{"ada", "bo"}, "the weather", "the square", ""); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	turnsBefore := f.fake.turnCount()

	// Idle past the sweep threshold.
	f.clk.Advance(50 * time.Second)
	now := f.clk.Now()

	f.sched.Tick(context.Background(), now)
	f.sched.Tick(context.Background(), now)
	f.sched.WaitTurns()

	if got := f.fake.turnCount() - turnsBefore; got != 1 {
		t.Fatalf("sweep turns = %d from back-to-back ticks, want 1", got)
	}

	// The next sweep window finds the conversation freshly active.
	f.clk.Advance(31 * time.Second)
	f.tick(context.Background())
	if got := f.fake.turnCount() - turnsBefore; got != 1 {
		t.Fatalf("sweep turns = %d after fresh activity, want still 1", got)
	}
}

// stuckLifecycle blocks turns for one conversation until released.
type stuckLifecycle struct {
	*fakeLifecycle
	stuckID string
	release chan struct{}
}

func (s *stuckLifecycle) RunTurn(ctx context.Context, convID string) error {
	if convID == s.stuckID {
		<-s.release
		return nil
	}
	return s.fakeLifecycle.RunTurn(ctx, convID)
}

func TestHungTurnStallsOnlyItsConversation(t *testing.T) {
	logger := zap.NewNop()
	clk := clock.NewManual(noon)
	reg := registry.New(clk, logger)
	tracker := quota.New(quota.Config{}, clk, logger)
	convs := conversation.NewStore(logger)
	fake := &fakeLifecycle{store: convs, quota: tracker, clk: clk}
	stuck := &stuckLifecycle{fakeLifecycle: fake, stuckID: "conv-0", release: make(chan struct{})}

	sched := New(config.SchedulerConfig{}, stuck, reg, tracker, convs, clk,
		rand.New(rand.NewSource(11)), logger)

	if _, err := fake.StartConversation(context.Background(), []string{"ada", "bo"}, "the weather", "the square", ""); err != nil {
		t.Fatalf("seed conv-0: %v", err)
	}
	if _, err := fake.StartConversation(context.Background(), []string{"cy", "dee"}, "bread prices", "the square", ""); err != nil {
		t.Fatalf("seed conv-1: %v", err)
	}
	clk.Advance(50 * time.Second)

	done := make(chan struct{})
	go func() {
		sched.Tick(context.Background(), clk.Now())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked behind a hung turn")
	}

	// The healthy conversation is still served while conv-0 hangs.
	deadline := time.Now().Add(2 * time.Second)
	for fake.turnCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("turns = %d while one conversation hangs, want 1", fake.turnCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second sweep window must not pile a second turn onto conv-0.
	clk.Advance(31 * time.Second)
	sched.Tick(context.Background(), clk.Now())
	if got := fake.turnCount(); got != 1 {
		t.Fatalf("turns = %d after re-sweeping a pending conversation, want 1", got)
	}

	close(stuck.release)
	sched.WaitTurns()
}

// countingDecayer tallies decay passes.
type countingDecayer struct {
	calls int
}

func (d *countingDecayer) Decay(context.Context) {
	d.calls++
}

func TestDecayFiresOnItsInterval(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{DecayInterval: config.Duration(10 * time.Minute)}, noon)
	dec := &countingDecayer{}
	f.sched.SetDecayer(dec)

	f.tick(context.Background())
	if dec.calls != 1 {
		t.Fatalf("decay calls = %d after first tick, want 1", dec.calls)
	}

	f.clk.Advance(5 * time.Minute)
	f.tick(context.Background())
	if dec.calls != 1 {
		t.Fatalf("decay calls = %d inside the interval, want still 1", dec.calls)
	}

	f.clk.Advance(6 * time.Minute)
	f.tick(context.Background())
	if dec.calls != 2 {
		t.Fatalf("decay calls = %d past the interval, want 2", dec.calls)
	}
}

func TestDailyResetAtMidnight(t *testing.T) {
	lateNight := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	f := newFixture(t, config.SchedulerConfig{}, lateNight)
	if err := f.reg.Register(&registry.Agent{ID: "ada", Name: "Ada"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.quota.Reserve("c1", []string{"ada"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	f.quota.Release([]string{"ada"})
	if f.quota.CanStart("ada") {
		t.Fatal("ada unexpectedly clear of cooldown")
	}

	f.tick(context.Background())
	if f.quota.CanStart("ada") {
		t.Fatal("quota reset before midnight")
	}

	f.clk.Advance(15 * time.Minute) // crosses into March 2nd
	f.tick(context.Background())
	if !f.quota.CanStart("ada") {
		t.Fatal("quota not reset after midnight")
	}
}

func TestTriggerPanicIsContained(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{}, noon)

	if _, err := f.fake.StartConversation(context.Background(), []string{"ada", "bo"}, "the weather", "the square", ""); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	f.fake.panicTurn = true
	f.clk.Advance(50 * time.Second)

	// Must not propagate the panic from the dispatched goroutine.
	f.tick(context.Background())
}
