package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/formcoach/internal/engine"
)

func TestStandard_isValid(t *testing.T) {
	if err := engine.Standard().Validate(); err != nil {
		t.Fatalf("Standard().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(d *engine.Defaults)
	}{
		{name: "zero ftp", modify: func(d *engine.Defaults) { d.FTPWatts = 0 }},
		{name: "ramp above one", modify: func(d *engine.Defaults) { d.RampCeiling = 1.5 }},
		{name: "back-off factor zero", modify: func(d *engine.Defaults) { d.BackOffFactor = 0 }},
		{name: "inverted band", modify: func(d *engine.Defaults) { d.Scoring.GenericTSBMin = 10 }},
		{name: "no timeout", modify: func(d *engine.Defaults) { d.FetchTimeout = 0 }},
		{name: "confidence samples", modify: func(d *engine.Defaults) { d.Pattern.FullConfidenceSamples = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Standard()
			tt.modify(&d)
			if err := d.Validate(); !errors.Is(err, engine.ErrInvalidDefaults) {
				t.Errorf("Validate() = %v, want ErrInvalidDefaults", err)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		got, err := engine.LoadDefaults("")
		if err != nil {
			t.Fatalf("LoadDefaults() error = %v", err)
		}
		if diff := cmp.Diff(engine.Standard(), got); diff != "" {
			t.Errorf("LoadDefaults() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("file overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		config := []byte(`ramp_ceiling: 0.08
fetch_timeout: 500ms
scoring:
  alternatives: 5
pattern:
  min_data_points: 8
`)
		if err := os.WriteFile(path, config, 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := engine.LoadDefaults(path)
		if err != nil {
			t.Fatalf("LoadDefaults() error = %v", err)
		}
		want := engine.Standard()
		want.RampCeiling = 0.08
		want.FetchTimeout = 500 * time.Millisecond
		want.Scoring.Alternatives = 5
		want.Pattern.MinDataPoints = 8
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("LoadDefaults() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("COACH_ENGINE_WEEKLY_HOURS", "11")
		t.Setenv("COACH_ENGINE_SCORING_TSB_MARGIN", "3")
		got, err := engine.LoadDefaults("")
		if err != nil {
			t.Fatalf("LoadDefaults() error = %v", err)
		}
		if got.WeeklyHours != 11 || got.Scoring.TSBMargin != 3 {
			t.Errorf("env overrides not applied: weekly hours %v, margin %v", got.WeeklyHours, got.Scoring.TSBMargin)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.json")
		if err := os.WriteFile(path, []byte(`{"back_off_factor": 2}`), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.LoadDefaults(path); !errors.Is(err, engine.ErrInvalidDefaults) {
			t.Errorf("LoadDefaults() error = %v, want ErrInvalidDefaults", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := engine.LoadDefaults(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("LoadDefaults() expected error for missing file")
		}
	})
}
