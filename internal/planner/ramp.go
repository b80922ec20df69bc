package planner

import (
	"fmt"
	"math"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/workout"
)

// weekTarget is the stress budget of one week.
type weekTarget struct {
	tss     float64
	backOff bool
	clamped bool
}

// taperSteps are the shares of the peak load for consecutive taper weeks.
//
//nolint:gochecknoglobals,mnd // taper curve.
var taperSteps = []float64{0.7, 0.5}

// rampTargets computes weekly target TSS with back-off weeks and the ramp ceiling applied.
//
// currentCTL seeds the ceiling for the first week: a chronic load of x means the athlete currently absorbs
// about 7x per week.
func rampTargets(weeks []workout.Phase, weeklyHours, currentCTL float64, d engine.Defaults) ([]weekTarget, []string) {
	var (
		targets  = make([]weekTarget, len(weeks))
		warnings []string
		peakLoad = weeklyHours * d.TSSPerHour
		taperLen = countPhase(weeks, workout.PhaseTaper)
		taperIdx = 0
		// ref is the last week that is not a back-off week. Zero means no reference yet.
		ref float64
	)
	if currentCTL > 0 {
		ref = currentCTL * 7 //nolint:mnd // days per week.
	}

	for w, phase := range weeks {
		naive := peakLoad * phase.Profile().LoadFactor
		if phase == workout.PhaseTaper && taperLen > 1 {
			naive = peakLoad * taperSteps[min(taperIdx, len(taperSteps)-1)]
		}
		if phase == workout.PhaseTaper {
			taperIdx++
		}

		if w > 0 && isBackOff(w+1, phase, d) {
			prev := targets[w-1].tss
			targets[w] = weekTarget{tss: round1(min(naive, prev*d.BackOffFactor)), backOff: true, clamped: false}
			continue
		}

		t := weekTarget{tss: round1(naive), backOff: false, clamped: false}
		if ref > 0 {
			ceiling := ref * (1 + d.RampCeiling)
			if naive > ceiling {
				t.clamped = true
				warnings = append(warnings, fmt.Sprintf("week %d target clamped from %.0f to %.0f TSS (ramp ceiling %.0f%%)",
					w+1, naive, ceiling, d.RampCeiling*100)) //nolint:mnd // percent.
			}
			if t.tss > ceiling {
				t.tss = floor1(ceiling)
			}
		}
		targets[w] = t
		ref = t.tss
	}
	return targets, warnings
}

// isBackOff reports whether week (numbered from 1) is a programmed back-off week.
func isBackOff(week int, phase workout.Phase, d engine.Defaults) bool {
	if d.BackOffEvery <= 0 || week%d.BackOffEvery != 0 {
		return false
	}
	return phase == workout.PhaseBase || phase == workout.PhaseBuild || phase == workout.PhasePeak
}

func countPhase(weeks []workout.Phase, p workout.Phase) int {
	n := 0
	for _, w := range weeks {
		if w == p {
			n++
		}
	}
	return n
}

func round1(v float64) float64 {
	return fitness.Round(v, 1)
}

// floor1 rounds v down to one decimal place and never returns more than v.
func floor1(v float64) float64 {
	f := math.Floor(v*10) / 10 //nolint:mnd // one decimal place.
	if f > v {
		f -= 0.1 //nolint:mnd // one decimal place.
	}
	return f
}
