package planner

import (
	"math"

	"github.com/myrjola/formcoach/internal/workout"
)

// block is one entry of a goal's phase layout. Share is the fraction of the plan's weeks given to the phase.
type block struct {
	phase workout.Phase
	share float64
}

// layouts maps goals without an event to their canonical phase shares. The last block takes the weeks that
// rounding leaves over.
//
//nolint:gochecknoglobals,mnd // static layouts.
var layouts = map[Goal][]block{
	GoalBaseBuild:   {{workout.PhaseBase, 0.6}, {workout.PhaseBuild, 0.4}},
	GoalFTPBuild:    {{workout.PhaseBase, 0.25}, {workout.PhaseBuild, 0.75}},
	GoalTaper:       {{workout.PhaseTaper, 1}},
	GoalMaintenance: {{workout.PhaseMaintenance, 1}},
}

// phaseWeeks returns the phase of every week of an n week plan. eventWeeks is the number of weeks up to and
// including the event for event_prep plans; the weeks after it are maintenance.
func phaseWeeks(goal Goal, n, eventWeeks int) []workout.Phase {
	if goal != GoalEventPrep {
		return allocate(layouts[goal], n)
	}
	span := n
	if eventWeeks > 0 && eventWeeks < n {
		span = eventWeeks
	}
	weeks := eventPrepWeeks(span)
	for len(weeks) < n {
		weeks = append(weeks, workout.PhaseMaintenance)
	}
	return weeks
}

// eventPrepWeeks lays out base, build, peak and taper over n weeks. Short plans fold peak and then taper into build.
func eventPrepWeeks(n int) []workout.Phase {
	var base, build, peak, taper int
	switch {
	case n >= 8: //nolint:mnd // enough weeks for every phase.
		taper = max(1, roundWeeks(0.1*float64(n))) //nolint:mnd // 10%.
		peak = max(1, roundWeeks(0.1*float64(n)))  //nolint:mnd // 10%.
		base = roundWeeks(0.4 * float64(n))        //nolint:mnd // 40%.
		build = n - base - peak - taper
	case n >= 4: //nolint:mnd // peak collapses into build.
		taper = 1
		base = int(0.4 * float64(n)) //nolint:mnd // 40%.
		build = n - base - taper
	default:
		build = n
	}
	return expand([]workout.Phase{workout.PhaseBase, workout.PhaseBuild, workout.PhasePeak, workout.PhaseTaper},
		[]int{base, build, peak, taper})
}

func allocate(blocks []block, n int) []workout.Phase {
	phases := make([]workout.Phase, len(blocks))
	counts := make([]int, len(blocks))
	left := n
	for i, b := range blocks {
		phases[i] = b.phase
		if i == len(blocks)-1 {
			counts[i] = left
			break
		}
		counts[i] = min(left, roundWeeks(b.share*float64(n)))
		left -= counts[i]
	}
	return expand(phases, counts)
}

func expand(phases []workout.Phase, counts []int) []workout.Phase {
	var weeks []workout.Phase
	for i, p := range phases {
		for range counts[i] {
			weeks = append(weeks, p)
		}
	}
	return weeks
}

func roundWeeks(v float64) int {
	return int(math.Round(v))
}

// blocks groups consecutive weeks of the same phase.
func blocks(weeks []workout.Phase, targets []float64) []PhaseBlock {
	var out []PhaseBlock
	for i, p := range weeks {
		if len(out) > 0 && out[len(out)-1].Phase == p {
			out[len(out)-1].EndWeek = i + 1
			continue
		}
		out = append(out, PhaseBlock{
			Phase:            p,
			StartWeek:        i + 1,
			EndWeek:          i + 1,
			FocusDescription: p.Profile().Focus,
			TargetWeeklyTSS:  0,
		})
	}
	// The block target is the highest week target within the block.
	for i := range out {
		for w := out[i].StartWeek; w <= out[i].EndWeek; w++ {
			out[i].TargetWeeklyTSS = max(out[i].TargetWeeklyTSS, targets[w-1])
		}
	}
	return out
}
