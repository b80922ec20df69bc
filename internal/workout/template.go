package workout

import (
	"fmt"
	"math"

	"github.com/myrjola/formcoach/internal/errors"
)

// ErrInvalidTemplate is returned for catalog entries that cannot be prescribed.
var ErrInvalidTemplate = errors.NewSentinel("invalid workout template")

// Template is an immutable catalog workout.
type Template struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Category        Category      `json:"category"`
	TargetTSS       float64       `json:"targetTSS"`
	DurationMinutes int           `json:"targetDurationMinutes"`
	TargetIF        float64       `json:"targetIF"`
	Prerequisites   Prerequisites `json:"prerequisites"`
	Intervals       []Interval    `json:"intervals,omitempty"`
	Description     string        `json:"description,omitempty"`
}

// Prerequisites are hard gates. A nil field is not checked.
type Prerequisites struct {
	MinCTL           *float64 `json:"minCTL,omitempty"`
	MinDaysSinceHard *int     `json:"minDaysSinceHard,omitempty"`
}

// Interval is a repeated work and rest block with intensities relative to FTP.
type Interval struct {
	Repeats     int     `json:"repeats"`
	WorkSeconds int     `json:"workSeconds"`
	WorkPctFTP  float64 `json:"workPctFTP"`
	RestSeconds int     `json:"restSeconds"`
	RestPctFTP  float64 `json:"restPctFTP"`
}

// Validate checks the template fields.
func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTemplate)
	}
	if _, err := ParseCategory(string(t.Category)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidTemplate, t.ID, err)
	}
	if t.DurationMinutes <= 0 {
		return fmt.Errorf("%w: %s: duration must be positive", ErrInvalidTemplate, t.ID)
	}
	if t.TargetIF <= 0 || t.TargetIF > maxIF {
		return fmt.Errorf("%w: %s: intensity factor %v out of range", ErrInvalidTemplate, t.ID, t.TargetIF)
	}
	if t.TargetTSS < 0 {
		return fmt.Errorf("%w: %s: negative TSS", ErrInvalidTemplate, t.ID)
	}
	for i, in := range t.Intervals {
		if in.Repeats <= 0 || in.WorkSeconds <= 0 {
			return fmt.Errorf("%w: %s: interval %d is empty", ErrInvalidTemplate, t.ID, i)
		}
	}
	return nil
}

const (
	maxIF          = 1.5
	minutesPerHour = 60
	// FlexMin and FlexMax bound how far a filler workout's duration may be stretched.
	FlexMin = 0.5
	FlexMax = 2.0
)

// EstimateTSS returns the training stress of riding durationMinutes at intensity factor IF.
func EstimateTSS(durationMinutes int, intensity float64) float64 {
	hours := float64(durationMinutes) / minutesPerHour
	return hours * intensity * intensity * 100 //nolint:mnd // one hour at FTP is 100 TSS.
}

// MinutesForTSS returns the duration in whole five minute steps that produces roughly tss at intensity.
func MinutesForTSS(tss, intensity float64) int {
	if intensity <= 0 || tss <= 0 {
		return 0
	}
	hours := tss / (intensity * intensity * 100) //nolint:mnd // one hour at FTP is 100 TSS.
	const step = 5
	return int(math.Round(hours*minutesPerHour/step)) * step
}

// Scaled returns a copy of t stretched to roughly tss, bounded by FlexMin and FlexMax of the template duration.
func (t Template) Scaled(tss float64) Template {
	minutes := MinutesForTSS(tss, t.TargetIF)
	lo := int(math.Ceil(float64(t.DurationMinutes) * FlexMin))
	hi := int(math.Floor(float64(t.DurationMinutes) * FlexMax))
	minutes = max(lo, min(hi, minutes))
	scaled := t
	scaled.DurationMinutes = minutes
	scaled.TargetTSS = EstimateTSS(minutes, t.TargetIF)
	return scaled
}
