package pattern

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/workout"
)

// Analyze mines the outcomes inside the configured window ending at asOf.
//
// It returns ErrInsufficientData when fewer than cfg.MinDataPoints sessions fall in the window.
func Analyze(outcomes []Outcome, asOf time.Time, cfg engine.PatternConfig) (Pattern, error) {
	window := inWindow(outcomes, asOf, cfg.WindowDays)
	if len(window) < cfg.MinDataPoints {
		return Pattern{}, errors.Wrap(ErrInsufficientData, fmt.Sprintf("%d of %d sessions", len(window), cfg.MinDataPoints),
			slog.Int("sessions", len(window)), slog.Int("required", cfg.MinDataPoints))
	}

	a := analyzer{cfg: cfg, outcomes: window}
	return Pattern{
		RecoveryRate:              a.recoveryRate(),
		OptimalTSB:                a.optimalTSB(),
		DayOfWeekAffinity:         a.dayOfWeekAffinity(),
		VolumeIntensityPreference: a.volumeIntensityPreference(),
		TypeSuccessRates:          a.typeSuccessRates(),
		Confidence:                min(1, float64(len(window))/float64(cfg.FullConfidenceSamples)),
		DataPoints:                len(window),
		ComputedAt:                fitness.NormalizeDate(asOf),
	}, nil
}

// inWindow returns outcomes dated within (asOf - days, asOf] ordered by date.
func inWindow(outcomes []Outcome, asOf time.Time, days int) []Outcome {
	end := fitness.NormalizeDate(asOf)
	start := end.AddDate(0, 0, -days)
	var out []Outcome
	for _, o := range outcomes {
		d := fitness.NormalizeDate(o.Date)
		if d.After(start) && !d.After(end) {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b Outcome) int { return a.Date.Compare(b.Date) })
	return out
}

type analyzer struct {
	cfg      engine.PatternConfig
	outcomes []Outcome
}

// success is a completed session that did not overreach.
func (a analyzer) success(o Outcome) bool {
	return o.Completed && !o.Skipped && (o.RPE == 0 || o.RPE < a.cfg.HardRPE)
}

func (a analyzer) successRate(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, o := range outcomes {
		if a.success(o) {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

func (a analyzer) dayOfWeekAffinity() map[time.Weekday]float64 {
	overall := a.successRate(a.outcomes)
	byDay := make(map[time.Weekday][]Outcome)
	for _, o := range a.outcomes {
		byDay[o.Date.Weekday()] = append(byDay[o.Date.Weekday()], o)
	}
	affinity := make(map[time.Weekday]float64)
	for day, sessions := range byDay {
		if len(sessions) < a.cfg.MinDaySamples {
			continue
		}
		affinity[day] = fitness.Round(max(-1, min(1, a.successRate(sessions)-overall)), 2) //nolint:mnd // two decimals.
	}
	return affinity
}

// optimalTSB partitions sessions into TSB bands and returns the contiguous run of bands around the most
// successful one whose success rate is within the configured slack of the best.
func (a analyzer) optimalTSB() *Band {
	width := a.cfg.TSBBandWidth
	buckets := make(map[int][]Outcome)
	for _, o := range a.outcomes {
		k := int(math.Floor(o.TSB / width))
		buckets[k] = append(buckets[k], o)
	}
	rates := make(map[int]float64)
	var keys []int
	for k, sessions := range buckets {
		if len(sessions) < a.cfg.MinBandSamples {
			continue
		}
		rates[k] = a.successRate(sessions)
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if rates[k] > rates[best] || (rates[k] == rates[best] && len(buckets[k]) > len(buckets[best])) {
			best = k
		}
	}
	threshold := rates[best] - a.cfg.BandSuccessSlack
	lo, hi := best, best
	for {
		r, ok := rates[lo-1]
		if !ok || r < threshold {
			break
		}
		lo--
	}
	for {
		r, ok := rates[hi+1]
		if !ok || r < threshold {
			break
		}
		hi++
	}
	return &Band{Min: float64(lo) * width, Max: float64(hi+1) * width}
}

// recoveryRate measures the days until a session reports an RPE back at baseline after a hard session.
func (a analyzer) recoveryRate() RecoveryRate {
	var easy []float64
	for _, o := range a.outcomes {
		if o.RPE > 0 && o.Completed && !o.Category.IsHard() {
			easy = append(easy, float64(o.RPE))
		}
	}
	if len(easy) == 0 {
		return RecoveryAverage
	}
	baseline := median(easy)

	var days []float64
	for i, o := range a.outcomes {
		if !o.Category.IsHard() || !o.Completed {
			continue
		}
		limit := o.Date.AddDate(0, 0, a.cfg.RecoveryLookaheadDays)
		for _, next := range a.outcomes[i+1:] {
			if next.Date.After(limit) {
				break
			}
			if next.RPE == 0 || !next.Completed || !next.Date.After(o.Date) {
				continue
			}
			if float64(next.RPE) <= baseline+a.cfg.RecoveryRPETolerance && !next.Category.IsHard() {
				days = append(days, float64(fitness.DaysBetween(o.Date, next.Date)))
				break
			}
		}
	}
	if len(days) == 0 {
		return RecoveryAverage
	}
	avg := mean(days)
	switch {
	case avg <= a.cfg.FastRecoveryDays:
		return RecoveryFast
	case avg > a.cfg.SlowRecoveryDays:
		return RecoverySlow
	default:
		return RecoveryAverage
	}
}

// volumeIntensityPreference compares the success of intensity sessions with aerobic volume sessions.
func (a analyzer) volumeIntensityPreference() Preference {
	var volume, intensity []Outcome
	for _, o := range a.outcomes {
		if o.Category.IsHard() {
			intensity = append(intensity, o)
		} else if o.Category == workout.CategoryEndurance || o.Category == workout.CategoryTempo {
			volume = append(volume, o)
		}
	}
	if len(volume) < a.cfg.MinPreferenceSamples || len(intensity) < a.cfg.MinPreferenceSamples {
		return PreferBalanced
	}
	diff := a.successRate(intensity) - a.successRate(volume)
	switch {
	case diff > a.cfg.PreferenceMargin:
		return PreferIntensity
	case diff < -a.cfg.PreferenceMargin:
		return PreferVolume
	default:
		return PreferBalanced
	}
}

func (a analyzer) typeSuccessRates() map[workout.Category]TypeStats {
	byType := make(map[workout.Category][]Outcome)
	for _, o := range a.outcomes {
		byType[o.Category] = append(byType[o.Category], o)
	}
	stats := make(map[workout.Category]TypeStats, len(byType))
	for c, sessions := range byType {
		var (
			completed int
			rpes      []float64
		)
		for _, o := range sessions {
			if o.Completed && !o.Skipped {
				completed++
			}
			if o.RPE > 0 {
				rpes = append(rpes, float64(o.RPE))
			}
		}
		stats[c] = TypeStats{
			Sessions:       len(sessions),
			CompletionRate: fitness.Round(float64(completed)/float64(len(sessions)), 2), //nolint:mnd // two decimals.
			AvgRPE:         fitness.Round(mean(rpes), 1),
		}
	}
	return stats
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func median(vs []float64) float64 {
	s := slices.Clone(vs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2 //nolint:mnd // average of the middle pair.
}

func sortDays(days []time.Weekday, score map[time.Weekday]float64) {
	slices.SortStableFunc(days, func(a, b time.Weekday) int {
		if c := cmp.Compare(score[b], score[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}
