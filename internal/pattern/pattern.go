// Package pattern mines session outcomes into athlete patterns.
//
// A pattern is only produced from at least the configured minimum number of sessions and always carries its
// confidence. Consumers must check [Pattern.Usable] before letting a pattern influence a decision and fall back
// to generic defaults otherwise.
package pattern

import (
	"time"

	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/workout"
)

// ErrInsufficientData is returned when the analysis window holds fewer sessions than required.
var ErrInsufficientData = errors.NewSentinel("insufficient data")

// RecoveryRate classifies how quickly perceived exertion returns to baseline after hard sessions.
type RecoveryRate string

// Recovery rates.
const (
	RecoveryFast    RecoveryRate = "fast"
	RecoveryAverage RecoveryRate = "average"
	RecoverySlow    RecoveryRate = "slow"
)

// Preference tells whether an athlete responds better to volume or to intensity.
type Preference string

// Volume and intensity preferences.
const (
	PreferVolume    Preference = "volume"
	PreferIntensity Preference = "intensity"
	PreferBalanced  Preference = "balanced"
)

// Outcome is one planned or performed session.
type Outcome struct {
	Date       time.Time        `json:"date"`
	Category   workout.Category `json:"category"`
	PlannedTSS float64          `json:"plannedTSS"`
	ActualTSS  float64          `json:"actualTSS"`
	Completed  bool             `json:"completed"`
	Skipped    bool             `json:"skipped"`
	// RPE is the rate of perceived exertion from 1 to 10. Zero means not reported.
	RPE int `json:"rpe,omitempty"`
	// TSB is the training stress balance going into the session.
	TSB float64 `json:"tsb"`
}

// Band is an inclusive TSB range.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside b.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// TypeStats summarises the history of one workout category.
type TypeStats struct {
	Sessions       int     `json:"sessions"`
	CompletionRate float64 `json:"completionRate"`
	AvgRPE         float64 `json:"avgRPE"`
}

// Pattern is what the analyzer learned about an athlete.
type Pattern struct {
	RecoveryRate RecoveryRate `json:"recoveryRate"`
	// OptimalTSB is nil when no band had enough sessions to compare.
	OptimalTSB *Band `json:"optimalTSB,omitempty"`
	// DayOfWeekAffinity is the success rate of a weekday relative to the overall success rate, in [-1, 1].
	DayOfWeekAffinity         map[time.Weekday]float64       `json:"dayOfWeekAffinity"`
	VolumeIntensityPreference Preference                     `json:"volumeIntensityPreference"`
	TypeSuccessRates          map[workout.Category]TypeStats `json:"typeSuccessRates"`
	Confidence                float64                        `json:"confidence"`
	DataPoints                int                            `json:"dataPoints"`
	ComputedAt                time.Time                      `json:"computedAt"`
}

// Usable reports whether p exists and is confident enough to act on.
func (p *Pattern) Usable(minConfidence float64) bool {
	return p != nil && p.DataPoints > 0 && p.Confidence >= minConfidence
}

// BestDays returns up to n weekdays with positive affinity, strongest first.
func (p *Pattern) BestDays(n int) []time.Weekday {
	if p == nil {
		return nil
	}
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if p.DayOfWeekAffinity[d] > 0 {
			days = append(days, d)
		}
	}
	sortDays(days, p.DayOfWeekAffinity)
	if len(days) > n {
		days = days[:n]
	}
	return days
}
