package prescriber

import (
	"fmt"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/workout"
)

type evaluation struct {
	req           Request
	scoring       engine.Scoring
	minConfidence float64
}

// confidentPattern returns the pattern when it may influence scoring.
func (e evaluation) confidentPattern() *pattern.Pattern {
	if e.req.Pattern.Usable(e.minConfidence) {
		return e.req.Pattern
	}
	return nil
}

// rule adds points to a candidate. A zero result leaves no trace in the breakdown.
type rule struct {
	name  string
	apply func(e evaluation, t workout.Template) (float64, string)
}

// standardRules are applied in this order.
func standardRules() []rule {
	return []rule{
		{name: "phase fit", apply: phaseFit},
		{name: "tsb zone", apply: tsbZone},
		{name: "day affinity", apply: dayAffinity},
		{name: "type history", apply: typeHistory},
	}
}

func phaseFit(e evaluation, t workout.Template) (float64, string) {
	if e.req.Phase.IsKey(t.Category) {
		return e.scoring.PhaseFitBonus, fmt.Sprintf("%s is canonical for the %s phase", t.Category, e.req.Phase)
	}
	return 0, ""
}

// tsbZone rewards demanding work when the athlete is inside the optimal band and easy work when clearly
// fatigued. Future days have no known TSB so the rule is skipped when planning.
func tsbZone(e evaluation, t workout.Template) (float64, string) {
	if e.req.Planning {
		return 0, ""
	}
	band := pattern.Band{Min: e.scoring.GenericTSBMin, Max: e.scoring.GenericTSBMax}
	source := "generic"
	if p := e.confidentPattern(); p != nil && p.OptimalTSB != nil {
		band = *p.OptimalTSB
		source = "learned"
	}
	tsb := e.req.State.TSB()
	outside := tsb < band.Min-e.scoring.TSBMargin || tsb > band.Max+e.scoring.TSBMargin
	switch {
	case t.Category.IsDemanding() && band.Contains(tsb):
		return e.scoring.TSBMatchBonus, fmt.Sprintf("TSB %.1f inside %s optimal band [%g, %g]",
			tsb, source, band.Min, band.Max)
	case t.Category.IsDemanding() && outside:
		return e.scoring.TSBMismatchPenalty, fmt.Sprintf("TSB %.1f outside %s optimal band [%g, %g]",
			tsb, source, band.Min, band.Max)
	case !t.Category.IsDemanding() && tsb < band.Min-e.scoring.TSBMargin:
		return e.scoring.TSBMatchBonus, fmt.Sprintf("TSB %.1f calls for easy work", tsb)
	}
	return 0, ""
}

func dayAffinity(e evaluation, t workout.Template) (float64, string) {
	p := e.confidentPattern()
	if p == nil || !t.Category.IsDemanding() {
		return 0, ""
	}
	day := e.req.Date.Weekday()
	score, ok := p.DayOfWeekAffinity[day]
	switch {
	case !ok:
		return 0, ""
	case score >= e.scoring.DayAffinityThreshold:
		return e.scoring.DayAffinityBonus, fmt.Sprintf("quality sessions usually succeed on %s", day)
	case score <= -e.scoring.DayAffinityThreshold:
		return e.scoring.DayAffinityPenalty, fmt.Sprintf("quality sessions are often missed on %s", day)
	}
	return 0, ""
}

func typeHistory(e evaluation, t workout.Template) (float64, string) {
	p := e.confidentPattern()
	if p == nil {
		return 0, ""
	}
	stats, ok := p.TypeSuccessRates[t.Category]
	if !ok || stats.Sessions < e.scoring.MinTypeSamples {
		return 0, ""
	}
	switch {
	case stats.CompletionRate < e.scoring.PoorCompletionRate || stats.AvgRPE >= e.scoring.HighRPE:
		return e.scoring.TypeSuccessPenalty, fmt.Sprintf("%s completion %.0f%% at RPE %.1f",
			t.Category, stats.CompletionRate*100, stats.AvgRPE) //nolint:mnd // percent.
	case stats.CompletionRate >= e.scoring.GoodCompletionRate &&
		(stats.AvgRPE == 0 || stats.AvgRPE <= e.scoring.ComfortableRPE):
		return e.scoring.TypeSuccessBonus, fmt.Sprintf("%s completion %.0f%% at RPE %.1f",
			t.Category, stats.CompletionRate*100, stats.AvgRPE) //nolint:mnd // percent.
	}
	return 0, ""
}
