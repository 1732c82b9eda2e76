package quota

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/clock"
)

func newTestTracker(cfg Config) (*Tracker, *clock.Manual) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(cfg, clk, zap.NewNop()), clk
}

func TestCanStartDailyCap(t *testing.T) {
	tr, clk := newTestTracker(Config{AgentDailyCap: 2, BaseCooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if !tr.CanStart("ada") {
			t.Fatalf("conversation %d: CanStart = false, want true", i+1)
		}
		if err := tr.Reserve("conv", []string{"ada"}); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		tr.Release([]string{"ada"})
		clk.Advance(2 * time.Minute)
	}

	if tr.CanStart("ada") {
		t.Fatal("CanStart = true after reaching daily cap, want false")
	}

	// Not even a long wait helps until the daily reset.
	clk.Advance(6 * time.Hour)
	if tr.CanStart("ada") {
		t.Fatal("CanStart = true at cap after waiting, want false")
	}
	tr.ResetDaily()
	if !tr.CanStart("ada") {
		t.Fatal("CanStart = false after daily reset, want true")
	}
}

func TestCanStartCooldown(t *testing.T) {
	tr, clk := newTestTracker(Config{AgentDailyCap: 10, BaseCooldown: 5 * time.Minute})

	if err := tr.Reserve("conv", []string{"bo"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.Release([]string{"bo"})

	clk.Advance(time.Minute)
	if tr.CanStart("bo") {
		t.Fatal("CanStart = true inside cooldown, want false")
	}
	clk.Advance(5 * time.Minute)
	if !tr.CanStart("bo") {
		t.Fatal("CanStart = false after cooldown elapsed, want true")
	}
}

func TestCooldownGrowsWithCallVolume(t *testing.T) {
	tr, clk := newTestTracker(Config{
		AgentDailyCap:  10,
		GlobalDailyCap: 1000,
		BaseCooldown:   10 * time.Minute,
		CooldownGrowth: 0.1, // +1 minute per call
	})

	for i := 0; i < 5; i++ {
		if err := tr.ConsumeCall(); err != nil {
			t.Fatalf("ConsumeCall %d: %v", i, err)
		}
	}

	if err := tr.Reserve("conv", []string{"cy"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.Release([]string{"cy"})

	// Base cooldown alone would have elapsed, the grown one has not.
	clk.Advance(12 * time.Minute)
	if tr.CanStart("cy") {
		t.Fatal("CanStart = true inside grown cooldown, want false")
	}
	clk.Advance(4 * time.Minute)
	if !tr.CanStart("cy") {
		t.Fatal("CanStart = false after grown cooldown elapsed, want true")
	}
}

func TestReserveAtomic(t *testing.T) {
	tr, _ := newTestTracker(Config{AgentDailyCap: 5})

	if err := tr.Reserve("conv-1", []string{"ada"}); err != nil {
		t.Fatalf("Reserve conv-1: %v", err)
	}

	err := tr.Reserve("conv-2", []string{"bo", "ada", "cy"})
	if !errors.Is(err, ErrParticipantsBusy) {
		t.Fatalf("Reserve with busy member: err = %v, want ErrParticipantsBusy", err)
	}

	// Nobody else got marked busy by the failed reservation.
	for _, id := range []string{"bo", "cy"} {
		if conv, busy := tr.Busy(id); busy {
			t.Fatalf("%s busy in %s after failed reservation", id, conv)
		}
		if !tr.CanStart(id) {
			t.Fatalf("%s CanStart = false after failed reservation", id)
		}
	}
}

func TestGlobalBudget(t *testing.T) {
	tr, _ := newTestTracker(Config{GlobalDailyCap: 5})

	for i := 0; i < 5; i++ {
		if err := tr.ConsumeCall(); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := tr.ConsumeCall(); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("6th call: err = %v, want ErrBudgetExhausted", err)
	}
	if got := tr.DailyCalls(); got != 5 {
		t.Fatalf("DailyCalls = %d, want 5", got)
	}

	// New reservations are refused while the budget is spent.
	if err := tr.Reserve("conv", []string{"ada"}); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Reserve at exhausted budget: err = %v, want ErrBudgetExhausted", err)
	}

	tr.ResetDaily()
	if err := tr.ConsumeCall(); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestResetDailyKeepsReservations(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	if err := tr.Reserve("conv-1", []string{"ada", "bo"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tr.ResetDaily()

	if _, busy := tr.Busy("ada"); !busy {
		t.Fatal("ada reservation dropped by daily reset")
	}
	if _, busy := tr.Busy("bo"); !busy {
		t.Fatal("bo reservation dropped by daily reset")
	}
}
