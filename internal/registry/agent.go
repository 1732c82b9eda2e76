package registry

import (
	"time"
)

// Author sentinels for message and interaction attribution outside the
// agent population.
const (
	AuthorUser   = "user"
	AuthorSystem = "system"
)

// Trait axis names. All axes are scored 0-1.
const (
	TraitExtroversion = "extroversion"
	TraitOpenness     = "openness"
	TraitAgreeable    = "agreeableness"
	TraitCuriosity    = "curiosity"
	TraitCommunity    = "community"
)

// Agent is a resident of the city. Everything except the Active flag is
// immutable after registration.
type Agent struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Traits    map[string]float64 `json:"traits"`
	Interests []string           `json:"interests"`
	Style     string             `json:"style"` // preferred conversational register
	Backstory string             `json:"backstory"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
}

// Trait returns the named axis, defaulting to 0.5 when unset.
func (a *Agent) Trait(name string) float64 {
	if v, ok := a.Traits[name]; ok {
		return v
	}
	return 0.5
}

// clone returns a shallow copy with its own trait map so callers cannot
// mutate registered state.
func (a *Agent) clone() *Agent {
	cp := *a
	cp.Traits = make(map[string]float64, len(a.Traits))
	for k, v := range a.Traits {
		cp.Traits[k] = v
	}
	cp.Interests = append([]string(nil), a.Interests...)
	return &cp
}
