package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/clock"
)

// ErrNotFound is returned for lookups of unknown agent ids.
var ErrNotFound = errors.New("agent not found")

// defaultWindow bounds how long interactions count as "recent".
const defaultWindow = 24 * time.Hour

// Registry holds the agent population and their social profiles.
type Registry struct {
	agents   map[string]*Agent
	profiles map[string]*SocialProfile
	window   time.Duration
	clk      clock.Clock
	mu       sync.RWMutex
	logger   *zap.Logger
}

// New creates an empty registry.
func New(clk clock.Clock, logger *zap.Logger) *Registry {
	return &Registry{
		agents:   make(map[string]*Agent),
		profiles: make(map[string]*SocialProfile),
		window:   defaultWindow,
		clk:      clk,
		logger:   logger,
	}
}

// Register adds an agent. The agent is active by default and its identity
// fields are frozen from this point on.
func (r *Registry) Register(a *Agent) error {
	if a.ID == "" {
		return fmt.Errorf("register agent: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.ID]; exists {
		return fmt.Errorf("register agent %s: already registered", a.ID)
	}
	cp := a.clone()
	cp.Active = true
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.clk.Now()
	}
	if cp.Traits == nil {
		cp.Traits = make(map[string]float64)
	}
	r.agents[cp.ID] = cp
	r.profiles[cp.ID] = newSocialProfile(cp.ID)
	r.logger.Info("agent registered",
		zap.String("agent", cp.ID),
		zap.String("name", cp.Name))
	return nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a.clone(), nil
}

// List returns all agents ordered by id.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActive returns agents with the active flag set, ordered by id.
func (r *Registry) ListActive() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.Active {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive flips the only mutable agent field.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	a.Active = active
	return nil
}

// AddFriend records a mutual friendship edge.
func (r *Registry) AddFriend(id, friendID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	fp, ok := r.profiles[friendID]
	if !ok {
		return fmt.Errorf("agent %s: %w", friendID, ErrNotFound)
	}
	p.Friends[friendID] = struct{}{}
	fp.Friends[id] = struct{}{}
	return nil
}

// Friends returns the friend ids of an agent, sorted.
func (r *Registry) Friends(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.Friends))
	for f := range p.Friends {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SetRoutine replaces the daily routine for an agent.
func (r *Registry) SetRoutine(id string, slots []RoutineSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	p.Routine = append([]RoutineSlot(nil), slots...)
	return nil
}

// RoutineAt returns the routine slot an agent occupies at t, or nil when
// nothing is scheduled.
func (r *Registry) RoutineAt(id string, t time.Time) *RoutineSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil
	}
	slot := p.slotAt(t.Hour())
	if slot == nil {
		return nil
	}
	cp := *slot
	cp.Topics = append([]string(nil), slot.Topics...)
	return &cp
}

// RecordInteraction appends a completed exchange to the recency window.
func (r *Registry) RecordInteraction(id string, in Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return
	}
	if in.At.IsZero() {
		in.At = r.clk.Now()
	}
	p.Recent = append(p.Recent, in)
	p.prune(r.clk.Now(), r.window)
}

// RecentInteractions returns the windowed interaction history for an agent.
func (r *Registry) RecentInteractions(id string) []Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil
	}
	p.prune(r.clk.Now(), r.window)
	return append([]Interaction(nil), p.Recent...)
}

// Extroversion derives how outgoing an agent currently is: the innate trait
// nudged up by recent social activity.
func (r *Registry) Extroversion(id string) float64 {
	r.mu.RLock()
	a, okA := r.agents[id]
	p, okP := r.profiles[id]
	r.mu.RUnlock()
	if !okA || !okP {
		return 0.5
	}
	base := a.Trait(TraitExtroversion)
	boost := float64(len(p.Recent)) * 0.02
	if boost > 0.2 {
		boost = 0.2
	}
	return clamp01(base + boost)
}

// Openness derives curiosity toward new topics from innate traits.
func (r *Registry) Openness(id string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return 0.5
	}
	return clamp01(0.6*a.Trait(TraitOpenness) + 0.4*a.Trait(TraitCuriosity))
}

// CommunityOrientation derives attachment to the local district from the
// community trait and friend count.
func (r *Registry) CommunityOrientation(id string) float64 {
	r.mu.RLock()
	a, okA := r.agents[id]
	p, okP := r.profiles[id]
	r.mu.RUnlock()
	if !okA || !okP {
		return 0.5
	}
	boost := float64(len(p.Friends)) * 0.05
	if boost > 0.3 {
		boost = 0.3
	}
	return clamp01(0.7*a.Trait(TraitCommunity) + boost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
