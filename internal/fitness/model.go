// Package fitness implements the exponentially weighted fitness and fatigue model.
//
// Chronic training load (CTL) and acute training load (ATL) are updated once per day from the day's training
// stress score (TSS). Training stress balance (TSB) is always derived as CTL − ATL. All state is kept unrounded;
// rounding is a presentation concern handled by [Round] and the JSON encoders.
package fitness

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/myrjola/formcoach/internal/errors"
)

const (
	// CTLDays is the time constant of chronic training load.
	CTLDays = 42
	// ATLDays is the time constant of acute training load.
	ATLDays = 7
)

// ErrInvalidSeries is returned when a stress series has negative or missing values or non-contiguous dates.
var ErrInvalidSeries = errors.NewSentinel("invalid stress series")

// State is a fitness snapshot at the end of Date.
type State struct {
	Date time.Time
	CTL  float64
	ATL  float64
}

// TSB returns the training stress balance.
func (s State) TSB() float64 {
	return s.CTL - s.ATL
}

// ACWR returns the acute:chronic workload ratio or zero when there is no chronic load.
func (s State) ACWR() float64 {
	if s.CTL <= 0 {
		return 0
	}
	return s.ATL / s.CTL
}

type stateJSON struct {
	Date string  `json:"date"`
	CTL  float64 `json:"ctl"`
	ATL  float64 `json:"atl"`
	TSB  float64 `json:"tsb"`
}

// MarshalJSON renders the state rounded to two decimals with the derived TSB.
func (s State) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(stateJSON{
		Date: FormatDate(s.Date),
		CTL:  Round(s.CTL, 2),   //nolint:mnd // presentation precision.
		ATL:  Round(s.ATL, 2),   //nolint:mnd // presentation precision.
		TSB:  Round(s.TSB(), 2), //nolint:mnd // presentation precision.
	})
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return b, nil
}

// DailyStress is the total training stress of one calendar day. Rest days have zero TSS.
type DailyStress struct {
	Date time.Time `json:"date"`
	TSS  float64   `json:"tss"`
}

// Advance applies one day of stress to prev and returns the state at the end of the following day.
//
// tss must be non-negative. Use [ValidateSeries] before folding caller supplied data.
func Advance(prev State, tss float64) State {
	return State{
		Date: NextDay(prev.Date),
		CTL:  prev.CTL + (tss-prev.CTL)/CTLDays,
		ATL:  prev.ATL + (tss-prev.ATL)/ATLDays,
	}
}

// Decay advances prev through days of rest.
func Decay(prev State, days int) State {
	s := prev
	for range days {
		s = Advance(s, 0)
	}
	return s
}

// AdvanceN applies series to start, one Advance per day. The series must begin the day after start.Date and be
// contiguous.
//
// The returned slice holds the state at the end of each day in series.
func AdvanceN(start State, series []DailyStress) ([]State, error) {
	if err := ValidateSeries(NextDay(start.Date), series); err != nil {
		return nil, err
	}
	states := make([]State, len(series))
	s := start
	for i, d := range series {
		s = Advance(s, d.TSS)
		states[i] = s
	}
	return states, nil
}

// ValidateSeries checks that series starts at first, is contiguous and carries non-negative finite TSS.
//
// A zero first skips the start date check.
func ValidateSeries(first time.Time, series []DailyStress) error {
	expected := NormalizeDate(first)
	for i, d := range series {
		if math.IsNaN(d.TSS) || math.IsInf(d.TSS, 0) {
			return errors.Wrap(ErrInvalidSeries, "missing tss", slog.Int("index", i))
		}
		if d.TSS < 0 {
			return errors.Wrap(ErrInvalidSeries, "negative tss",
				slog.Int("index", i), slog.Float64("tss", d.TSS))
		}
		date := NormalizeDate(d.Date)
		if i == 0 && first.IsZero() {
			expected = date
		}
		if !date.Equal(expected) {
			return errors.Wrap(ErrInvalidSeries, fmt.Sprintf("expected %s got %s", FormatDate(expected), FormatDate(date)),
				slog.Int("index", i))
		}
		expected = NextDay(expected)
	}
	return nil
}

// FillDays sums entries per calendar day and returns one DailyStress for every day in [from, to].
// Days without entries are rest days. Entries outside the range are ignored.
func FillDays(from, to time.Time, entries []DailyStress) []DailyStress {
	from, to = NormalizeDate(from), NormalizeDate(to)
	if to.Before(from) {
		return nil
	}
	days := DaysBetween(from, to) + 1
	out := make([]DailyStress, days)
	for i := range out {
		out[i].Date = from.AddDate(0, 0, i)
	}
	for _, e := range entries {
		d := NormalizeDate(e.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		out[DaysBetween(from, d)].TSS += e.TSS
	}
	return out
}

// FormDescription describes a training stress balance in words.
func FormDescription(tsb float64) string {
	switch {
	case tsb > 25: //nolint:mnd // form bands.
		return "very fresh, possibly detrained"
	case tsb > 10: //nolint:mnd // form bands.
		return "fresh and ready to race"
	case tsb > 0:
		return "neutral, good for training"
	case tsb > -10: //nolint:mnd // form bands.
		return "slightly fatigued"
	case tsb > -25: //nolint:mnd // form bands.
		return "tired but building fitness"
	default:
		return "very fatigued, rest needed"
	}
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
