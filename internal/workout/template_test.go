package workout_test

import (
	"errors"
	"testing"

	"github.com/myrjola/formcoach/internal/ptr"
	"github.com/myrjola/formcoach/internal/workout"
)

func TestEstimateTSS(t *testing.T) {
	tests := []struct {
		minutes   int
		intensity float64
		want      float64
	}{
		{minutes: 60, intensity: 1, want: 100},
		{minutes: 120, intensity: 0.7, want: 98},
		{minutes: 30, intensity: 0.5, want: 12.5},
		{minutes: 0, intensity: 0.9, want: 0},
	}
	for _, tt := range tests {
		got := workout.EstimateTSS(tt.minutes, tt.intensity)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("EstimateTSS(%d, %v) = %v, want %v", tt.minutes, tt.intensity, got, tt.want)
		}
	}
}

func TestMinutesForTSS(t *testing.T) {
	if got := workout.MinutesForTSS(100, 1); got != 60 {
		t.Errorf("MinutesForTSS(100, 1) = %d, want 60", got)
	}
	if got := workout.MinutesForTSS(49, 0.7); got != 60 {
		t.Errorf("MinutesForTSS(49, 0.7) = %d, want 60", got)
	}
	if got := workout.MinutesForTSS(10, 0); got != 0 {
		t.Errorf("MinutesForTSS with zero intensity = %d, want 0", got)
	}
}

func TestTemplate_Scaled(t *testing.T) {
	endurance := workout.Template{
		ID: "end-90", Category: workout.CategoryEndurance, DurationMinutes: 90, TargetIF: 0.7, TargetTSS: 73.5,
	}
	tests := []struct {
		name        string
		tss         float64
		wantMinutes int
	}{
		{name: "stretched", tss: 98, wantMinutes: 120},
		{name: "bounded above", tss: 1000, wantMinutes: 180},
		{name: "bounded below", tss: 5, wantMinutes: 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := endurance.Scaled(tt.tss)
			if got.DurationMinutes != tt.wantMinutes {
				t.Errorf("DurationMinutes = %d, want %d", got.DurationMinutes, tt.wantMinutes)
			}
			if want := workout.EstimateTSS(tt.wantMinutes, 0.7); got.TargetTSS != want {
				t.Errorf("TargetTSS = %v, want %v", got.TargetTSS, want)
			}
			if endurance.DurationMinutes != 90 {
				t.Error("Scaled mutated the receiver")
			}
		})
	}
}

func TestTemplate_Validate(t *testing.T) {
	valid := workout.Template{
		ID:              "vo2-5x4",
		Category:        workout.CategoryVO2Max,
		TargetTSS:       85,
		DurationMinutes: 75,
		TargetIF:        0.85,
		Prerequisites:   workout.Prerequisites{MinCTL: ptr.Ref(40.0), MinDaysSinceHard: ptr.Ref(2)},
		Intervals:       []workout.Interval{{Repeats: 5, WorkSeconds: 240, WorkPctFTP: 1.15, RestSeconds: 240}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	tests := []struct {
		name   string
		modify func(*workout.Template)
	}{
		{name: "no id", modify: func(w *workout.Template) { w.ID = "" }},
		{name: "unknown category", modify: func(w *workout.Template) { w.Category = "fartlek" }},
		{name: "no duration", modify: func(w *workout.Template) { w.DurationMinutes = 0 }},
		{name: "intensity", modify: func(w *workout.Template) { w.TargetIF = 2 }},
		{name: "negative tss", modify: func(w *workout.Template) { w.TargetTSS = -1 }},
		{name: "empty interval", modify: func(w *workout.Template) { w.Intervals = []workout.Interval{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.modify(&w)
			if err := w.Validate(); !errors.Is(err, workout.ErrInvalidTemplate) {
				t.Errorf("Validate() = %v, want ErrInvalidTemplate", err)
			}
		})
	}
}

func TestPhase_Allows(t *testing.T) {
	tests := []struct {
		phase    workout.Phase
		category workout.Category
		want     bool
	}{
		{phase: workout.PhaseBase, category: workout.CategoryVO2Max, want: false},
		{phase: workout.PhaseBase, category: workout.CategorySweetSpot, want: true},
		{phase: workout.PhaseBuild, category: workout.CategoryThreshold, want: true},
		{phase: workout.PhasePeak, category: workout.CategoryTempo, want: false},
		{phase: workout.PhaseTaper, category: workout.CategorySprint, want: true},
		{phase: workout.PhaseMaintenance, category: workout.CategoryAnaerobic, want: false},
	}
	for _, tt := range tests {
		if got := tt.phase.Allows(tt.category); got != tt.want {
			t.Errorf("%s.Allows(%s) = %v, want %v", tt.phase, tt.category, got, tt.want)
		}
	}
}

func TestProfiles_keyAndFillerAreAllowed(t *testing.T) {
	for _, name := range []string{"base", "build", "peak", "taper", "maintenance"} {
		p, err := workout.ParsePhase(name)
		if err != nil {
			t.Fatal(err)
		}
		profile := p.Profile()
		for _, c := range append(profile.Key, profile.Filler...) {
			if !p.Allows(c) {
				t.Errorf("%s: key or filler category %s is not allowed", p, c)
			}
		}
		if profile.KeyWorkouts < 1 || profile.LoadFactor <= 0 {
			t.Errorf("%s: incomplete profile %+v", p, profile)
		}
	}
}

func TestParseCategory(t *testing.T) {
	if _, err := workout.ParseCategory("hill repeats"); !errors.Is(err, workout.ErrUnknown) {
		t.Errorf("ParseCategory() error = %v, want ErrUnknown", err)
	}
	c, err := workout.ParseCategory("threshold")
	if err != nil || !c.IsHard() {
		t.Errorf("ParseCategory(threshold) = %v, %v; want hard category", c, err)
	}
	if workout.CategorySweetSpot.IsHard() || !workout.CategorySweetSpot.IsDemanding() {
		t.Error("sweetspot should be demanding but not hard")
	}
}
