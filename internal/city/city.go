// Package city supplies the read-only district context the engine consumes
// when building prompts: community mood, cultural notes, and sampled
// environmental conditions.
package city

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// District is one neighborhood of the simulated city.
type District struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Mood    float64 `json:"mood"` // 0-1 community mood
	Culture string  `json:"culture"`
}

// Conditions are the sampled environmental signals for one moment at one
// location. All axes are 0-1.
type Conditions struct {
	Noise        float64 `json:"noise"`
	Crowding     float64 `json:"crowding"`
	TimePressure float64 `json:"time_pressure"`
}

// Directory maps districts and locations and answers context queries.
type Directory struct {
	districts map[string]District
	locations map[string]string // location -> district id
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{
		districts: make(map[string]District),
		locations: make(map[string]string),
		logger:    logger,
	}
}

// AddDistrict registers or replaces a district.
func (d *Directory) AddDistrict(dist District) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.districts[dist.ID] = dist
}

// MapLocation assigns a location to a district.
func (d *Directory) MapLocation(location, districtID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[location] = districtID
}

// DistrictFor resolves a location to its district id, defaulting to
// "downtown" for unmapped places.
func (d *Directory) DistrictFor(location string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.locations[location]; ok {
		return id
	}
	return "downtown"
}

// Mood returns a district's community mood, neutral when unknown.
func (d *Directory) Mood(districtID string) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if dist, ok := d.districts[districtID]; ok {
		return dist.Mood
	}
	return 0.5
}

// Culture returns a district's cultural note, empty when unknown.
func (d *Directory) Culture(districtID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if dist, ok := d.districts[districtID]; ok {
		return dist.Culture
	}
	return ""
}

// SetMood updates a district's community mood, clamped to [0,1].
func (d *Directory) SetMood(districtID string, mood float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dist, ok := d.districts[districtID]
	if !ok {
		return
	}
	if mood < 0 {
		mood = 0
	}
	if mood > 1 {
		mood = 1
	}
	dist.Mood = mood
	d.districts[districtID] = dist
}

// Districts lists all registered districts.
func (d *Directory) Districts() []District {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]District, 0, len(d.districts))
	for _, dist := range d.districts {
		out = append(out, dist)
	}
	return out
}

// SampleConditions draws environmental conditions for a district at a
// moment: ambient levels follow the hour of day, jittered by the injected
// random source so simulations are reproducible.
func (d *Directory) SampleConditions(rng *rand.Rand, districtID string, t time.Time) Conditions {
	base := hourProfile(t.Hour())
	jitter := func(v float64) float64 {
		v += (rng.Float64() - 0.5) * 0.2
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return Conditions{
		Noise:        jitter(base.Noise),
		Crowding:     jitter(base.Crowding),
		TimePressure: jitter(base.TimePressure),
	}
}

// hourProfile gives the ambient baseline per local hour: quiet nights,
// crowded rush hours, hurried lunchtimes.
func hourProfile(hour int) Conditions {
	switch {
	case hour < 6:
		return Conditions{Noise: 0.1, Crowding: 0.05, TimePressure: 0.1}
	case hour < 9:
		return Conditions{Noise: 0.6, Crowding: 0.7, TimePressure: 0.7}
	case hour < 12:
		return Conditions{Noise: 0.4, Crowding: 0.4, TimePressure: 0.4}
	case hour < 14:
		return Conditions{Noise: 0.7, Crowding: 0.7, TimePressure: 0.5}
	case hour < 18:
		return Conditions{Noise: 0.5, Crowding: 0.5, TimePressure: 0.4}
	case hour < 22:
		return Conditions{Noise: 0.6, Crowding: 0.6, TimePressure: 0.2}
	default:
		return Conditions{Noise: 0.3, Crowding: 0.2, TimePressure: 0.1}
	}
}
