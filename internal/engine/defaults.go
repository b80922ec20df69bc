// Package engine holds the tunable constants of the planning engine.
//
// Defaults is immutable by convention: it is passed by value into the planner, the prescriber and the pattern
// analyzer so that tests can override any number without touching package level state.
package engine

import (
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/errors"
)

// ErrInvalidDefaults is returned when a Defaults value cannot drive the engine.
var ErrInvalidDefaults = errors.NewSentinel("invalid engine defaults")

// Defaults are the engine constants and fallbacks.
type Defaults struct {
	// FTPWatts is assumed when the athlete has no functional threshold power on record.
	FTPWatts float64 `mapstructure:"ftp_watts"`
	// WeightKg is assumed when the athlete has no weight on record.
	WeightKg float64 `mapstructure:"weight_kg"`
	// WeeklyHours is assumed when a plan request has no weekly hours target.
	WeeklyHours float64 `mapstructure:"weekly_hours"`
	// TSSPerHour converts weekly hours into the weekly stress budget of a peak week.
	TSSPerHour float64 `mapstructure:"tss_per_hour"`
	// RampCeiling caps the week-over-week increase of the weekly target TSS.
	RampCeiling float64 `mapstructure:"ramp_ceiling"`
	// BackOffEvery programs a back-off week every n weeks. Zero disables back-off weeks.
	BackOffEvery int `mapstructure:"back_off_every"`
	// BackOffFactor scales the prior week's target during a back-off week.
	BackOffFactor float64 `mapstructure:"back_off_factor"`
	// WeeklyTolerance is the accepted relative deviation of planned from target weekly TSS.
	WeeklyTolerance float64 `mapstructure:"weekly_tolerance"`
	// TaperRestDays are forced rest before an event unless the athlete overrides.
	TaperRestDays int `mapstructure:"taper_rest_days"`
	// EventHorizonDays is how far past the plan end an event may lie and still be projected.
	EventHorizonDays int `mapstructure:"event_horizon_days"`
	// MaxDurationWeeks bounds plan length.
	MaxDurationWeeks int `mapstructure:"max_duration_weeks"`
	// FetchTimeout bounds the concurrent storage reads that precede planning and prescribing.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	Scoring Scoring       `mapstructure:"scoring"`
	Pattern PatternConfig `mapstructure:"pattern"`
}

// Scoring holds the points and thresholds of the workout scoring rules.
type Scoring struct {
	PhaseFitBonus        float64 `mapstructure:"phase_fit_bonus"`
	TSBMatchBonus        float64 `mapstructure:"tsb_match_bonus"`
	TSBMismatchPenalty   float64 `mapstructure:"tsb_mismatch_penalty"`
	TSBMargin            float64 `mapstructure:"tsb_margin"`
	GenericTSBMin        float64 `mapstructure:"generic_tsb_min"`
	GenericTSBMax        float64 `mapstructure:"generic_tsb_max"`
	DayAffinityBonus     float64 `mapstructure:"day_affinity_bonus"`
	DayAffinityPenalty   float64 `mapstructure:"day_affinity_penalty"`
	DayAffinityThreshold float64 `mapstructure:"day_affinity_threshold"`
	TypeSuccessBonus     float64 `mapstructure:"type_success_bonus"`
	TypeSuccessPenalty   float64 `mapstructure:"type_success_penalty"`
	// GoodCompletionRate and below it PoorCompletionRate classify per-category history.
	GoodCompletionRate float64 `mapstructure:"good_completion_rate"`
	PoorCompletionRate float64 `mapstructure:"poor_completion_rate"`
	// ComfortableRPE and HighRPE classify the average perceived exertion of a category.
	ComfortableRPE float64 `mapstructure:"comfortable_rpe"`
	HighRPE        float64 `mapstructure:"high_rpe"`
	MinTypeSamples int     `mapstructure:"min_type_samples"`
	Alternatives   int     `mapstructure:"alternatives"`
}

// PatternConfig holds the thresholds of pattern detection.
type PatternConfig struct {
	WindowDays            int     `mapstructure:"window_days"`
	MinDataPoints         int     `mapstructure:"min_data_points"`
	MinConfidence         float64 `mapstructure:"min_confidence"`
	FullConfidenceSamples int     `mapstructure:"full_confidence_samples"`
	TSBBandWidth          float64 `mapstructure:"tsb_band_width"`
	MinBandSamples        int     `mapstructure:"min_band_samples"`
	BandSuccessSlack      float64 `mapstructure:"band_success_slack"`
	MinDaySamples         int     `mapstructure:"min_day_samples"`
	// HardRPE marks a session as too hard to count as a success.
	HardRPE               int     `mapstructure:"hard_rpe"`
	RecoveryLookaheadDays int     `mapstructure:"recovery_lookahead_days"`
	RecoveryRPETolerance  float64 `mapstructure:"recovery_rpe_tolerance"`
	FastRecoveryDays      float64 `mapstructure:"fast_recovery_days"`
	SlowRecoveryDays      float64 `mapstructure:"slow_recovery_days"`
	PreferenceMargin      float64 `mapstructure:"preference_margin"`
	MinPreferenceSamples  int     `mapstructure:"min_preference_samples"`
}

// Standard returns the documented engine defaults.
func Standard() Defaults { //nolint:mnd // the defaults are the magic numbers.
	return Defaults{
		FTPWatts:         250,
		WeightKg:         70,
		WeeklyHours:      8,
		TSSPerHour:       50,
		RampCeiling:      0.10,
		BackOffEvery:     4,
		BackOffFactor:    0.75,
		WeeklyTolerance:  0.10,
		TaperRestDays:    2,
		EventHorizonDays: 7,
		MaxDurationWeeks: 52,
		FetchTimeout:     2 * time.Second,
		Scoring: Scoring{
			PhaseFitBonus:        10,
			TSBMatchBonus:        15,
			TSBMismatchPenalty:   -15,
			TSBMargin:            5,
			GenericTSBMin:        -10,
			GenericTSBMax:        5,
			DayAffinityBonus:     15,
			DayAffinityPenalty:   -20,
			DayAffinityThreshold: 0.15,
			TypeSuccessBonus:     10,
			TypeSuccessPenalty:   -10,
			GoodCompletionRate:   0.8,
			PoorCompletionRate:   0.6,
			ComfortableRPE:       7.5,
			HighRPE:              8.5,
			MinTypeSamples:       3,
			Alternatives:         3,
		},
		Pattern: PatternConfig{
			WindowDays:            90,
			MinDataPoints:         5,
			MinConfidence:         0.5,
			FullConfidenceSamples: 30,
			TSBBandWidth:          5,
			MinBandSamples:        2,
			BandSuccessSlack:      0.1,
			MinDaySamples:         2,
			HardRPE:               8,
			RecoveryLookaheadDays: 7,
			RecoveryRPETolerance:  0.5,
			FastRecoveryDays:      1.5,
			SlowRecoveryDays:      3,
			PreferenceMargin:      0.1,
			MinPreferenceSamples:  2,
		},
	}
}

// Validate reports the first setting that cannot drive the engine.
func (d Defaults) Validate() error {
	checks := []struct {
		ok   bool
		what string
	}{
		{d.FTPWatts > 0, "ftp_watts must be positive"},
		{d.WeightKg > 0, "weight_kg must be positive"},
		{d.WeeklyHours > 0, "weekly_hours must be positive"},
		{d.TSSPerHour > 0, "tss_per_hour must be positive"},
		{d.RampCeiling > 0 && d.RampCeiling <= 1, "ramp_ceiling must be in (0, 1]"},
		{d.BackOffEvery >= 0, "back_off_every must not be negative"},
		{d.BackOffFactor > 0 && d.BackOffFactor <= 1, "back_off_factor must be in (0, 1]"},
		{d.WeeklyTolerance >= 0, "weekly_tolerance must not be negative"},
		{d.TaperRestDays >= 0, "taper_rest_days must not be negative"},
		{d.EventHorizonDays >= 0, "event_horizon_days must not be negative"},
		{d.MaxDurationWeeks > 0, "max_duration_weeks must be positive"},
		{d.FetchTimeout > 0, "fetch_timeout must be positive"},
		{d.Scoring.GenericTSBMin <= d.Scoring.GenericTSBMax, "generic TSB band is inverted"},
		{d.Scoring.Alternatives >= 0, "alternatives must not be negative"},
		{d.Pattern.WindowDays > 0, "pattern window_days must be positive"},
		{d.Pattern.MinDataPoints > 0, "pattern min_data_points must be positive"},
		{d.Pattern.FullConfidenceSamples >= d.Pattern.MinDataPoints,
			"pattern full_confidence_samples must be at least min_data_points"},
		{d.Pattern.TSBBandWidth > 0, "pattern tsb_band_width must be positive"},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("%w: %s", ErrInvalidDefaults, c.what)
		}
	}
	return nil
}
