package engine

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "COACH_ENGINE"

// LoadDefaults overlays Standard with the settings in the config file at path and COACH_ENGINE_* environment
// variables. Nested keys use underscores in the environment, e.g. COACH_ENGINE_SCORING_ALTERNATIVES.
//
// An empty path skips the file. The format follows the file extension (yaml, toml, json).
func LoadDefaults(path string) (Defaults, error) {
	d := Standard()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Viper only resolves environment variables for keys it knows about.
	for key, value := range settings(d) {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Defaults{}, fmt.Errorf("read engine config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&d); err != nil {
		return Defaults{}, fmt.Errorf("unmarshal engine config: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

// settings flattens d into viper keys.
func settings(d Defaults) map[string]any {
	s, p := d.Scoring, d.Pattern
	return map[string]any{
		"ftp_watts":          d.FTPWatts,
		"weight_kg":          d.WeightKg,
		"weekly_hours":       d.WeeklyHours,
		"tss_per_hour":       d.TSSPerHour,
		"ramp_ceiling":       d.RampCeiling,
		"back_off_every":     d.BackOffEvery,
		"back_off_factor":    d.BackOffFactor,
		"weekly_tolerance":   d.WeeklyTolerance,
		"taper_rest_days":    d.TaperRestDays,
		"event_horizon_days": d.EventHorizonDays,
		"max_duration_weeks": d.MaxDurationWeeks,
		"fetch_timeout":      d.FetchTimeout,

		"scoring.phase_fit_bonus":        s.PhaseFitBonus,
		"scoring.tsb_match_bonus":        s.TSBMatchBonus,
		"scoring.tsb_mismatch_penalty":   s.TSBMismatchPenalty,
		"scoring.tsb_margin":             s.TSBMargin,
		"scoring.generic_tsb_min":        s.GenericTSBMin,
		"scoring.generic_tsb_max":        s.GenericTSBMax,
		"scoring.day_affinity_bonus":     s.DayAffinityBonus,
		"scoring.day_affinity_penalty":   s.DayAffinityPenalty,
		"scoring.day_affinity_threshold": s.DayAffinityThreshold,
		"scoring.type_success_bonus":     s.TypeSuccessBonus,
		"scoring.type_success_penalty":   s.TypeSuccessPenalty,
		"scoring.good_completion_rate":   s.GoodCompletionRate,
		"scoring.poor_completion_rate":   s.PoorCompletionRate,
		"scoring.comfortable_rpe":        s.ComfortableRPE,
		"scoring.high_rpe":               s.HighRPE,
		"scoring.min_type_samples":       s.MinTypeSamples,
		"scoring.alternatives":           s.Alternatives,

		"pattern.window_days":             p.WindowDays,
		"pattern.min_data_points":         p.MinDataPoints,
		"pattern.min_confidence":          p.MinConfidence,
		"pattern.full_confidence_samples": p.FullConfidenceSamples,
		"pattern.tsb_band_width":          p.TSBBandWidth,
		"pattern.min_band_samples":        p.MinBandSamples,
		"pattern.band_success_slack":      p.BandSuccessSlack,
		"pattern.min_day_samples":         p.MinDaySamples,
		"pattern.hard_rpe":                p.HardRPE,
		"pattern.recovery_lookahead_days": p.RecoveryLookaheadDays,
		"pattern.recovery_rpe_tolerance":  p.RecoveryRPETolerance,
		"pattern.fast_recovery_days":      p.FastRecoveryDays,
		"pattern.slow_recovery_days":      p.SlowRecoveryDays,
		"pattern.preference_margin":       p.PreferenceMargin,
		"pattern.min_preference_samples":  p.MinPreferenceSamples,
	}
}
