package city

import (
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDirectory() *Directory {
	d := NewDirectory(zap.NewNop())
	d.AddDistrict(District{ID: "downtown", Name: "Downtown", Mood: 0.6, Culture: "busy cafes"})
	d.AddDistrict(District{ID: "riverside", Name: "Riverside", Mood: 0.8})
	d.MapLocation("the square", "downtown")
	d.MapLocation("the boathouse", "riverside")
	return d
}

func TestDistrictFor(t *testing.T) {
	d := newTestDirectory()
	if got := d.DistrictFor("the boathouse"); got != "riverside" {
		t.Fatalf("DistrictFor = %q, want riverside", got)
	}
	// Unmapped places land downtown.
	if got := d.DistrictFor("nowhere in particular"); got != "downtown" {
		t.Fatalf("DistrictFor unmapped = %q, want downtown", got)
	}
}

func TestMoodAndCulture(t *testing.T) {
	d := newTestDirectory()
	if got := d.Mood("downtown"); got != 0.6 {
		t.Fatalf("Mood = %f, want 0.6", got)
	}
	if got := d.Mood("ghost-town"); got != 0.5 {
		t.Fatalf("Mood unknown = %f, want neutral 0.5", got)
	}
	if got := d.Culture("downtown"); got != "busy cafes" {
		t.Fatalf("Culture = %q", got)
	}

	d.SetMood("downtown", 1.7)
	if got := d.Mood("downtown"); got != 1.0 {
		t.Fatalf("Mood after clamp = %f, want 1.0", got)
	}
	// Unknown districts are ignored, not created.
	d.SetMood("ghost-town", 0.9)
	if got := len(d.Districts()); got != 2 {
		t.Fatalf("len(Districts) = %d, want 2", got)
	}
}

func TestSampleConditionsReproducible(t *testing.T) {
	d := newTestDirectory()
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	a := d.SampleConditions(rand.New(rand.NewSource(42)), "downtown", at)
	b := d.SampleConditions(rand.New(rand.NewSource(42)), "downtown", at)
	if a != b {
		t.Fatalf("same seed diverged: %+v vs %+v", a, b)
	}

	for _, v := range []float64{a.Noise, a.Crowding, a.TimePressure} {
		if v < 0 || v > 1 {
			t.Fatalf("condition out of range: %+v", a)
		}
	}
}

func TestSampleConditionsFollowHour(t *testing.T) {
	d := newTestDirectory()
	rng := rand.New(rand.NewSource(1))

	night := d.SampleConditions(rng, "downtown", time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC))
	rush := d.SampleConditions(rng, "downtown", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))

	// Jitter is ±0.1, so the 0.05 vs 0.7 crowding baselines cannot cross.
	if night.Crowding >= rush.Crowding {
		t.Fatalf("night crowding %f >= rush crowding %f", night.Crowding, rush.Crowding)
	}
}
