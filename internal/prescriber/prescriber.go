// Package prescriber scores catalog workouts for a day and picks the best one.
//
// Candidates first pass hard gates (phase, requested categories, prerequisites). Survivors are scored by an
// ordered list of additive rules and ranked by an explicit comparator so that the winner is fully deterministic.
package prescriber

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/workout"
)

// Request describes the slot to fill.
type Request struct {
	Date  time.Time
	Phase workout.Phase
	// State is the current fitness, or the planned cumulative fitness when Planning is set.
	State   fitness.State
	Catalog []workout.Template
	// Pattern is optional. It only influences scoring when confident.
	Pattern *pattern.Pattern
	// LastHard is the date of the most recent hard session. Nil means none on record.
	LastHard *time.Time
	// NominalTSS is the phase's target stress for the slot and breaks score ties.
	NominalTSS float64
	// Categories restricts the candidates further than the phase does. Empty means no restriction.
	Categories []workout.Category
	// Planning skips rules that need the current TSB of a future day.
	Planning bool
}

// Candidate is a scored template.
type Candidate struct {
	Template workout.Template `json:"workout"`
	Score    float64          `json:"score"`
	// Reasons lists every rule that changed the score.
	Reasons []string `json:"reasons"`
}

// Exclusion records why a template failed a hard gate.
type Exclusion struct {
	TemplateID string `json:"templateId"`
	Gate       string `json:"gate"`
	Reason     string `json:"reason"`
}

// Result of a prescription.
type Result struct {
	// Best is nil when every candidate failed a hard gate.
	Best         *Candidate  `json:"best"`
	Alternatives []Candidate `json:"alternatives"`
	Excluded     []Exclusion `json:"excluded,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
}

// Prescriber scores workouts with a fixed set of engine defaults.
type Prescriber struct {
	defaults engine.Defaults
	rules    []rule
}

// New creates a Prescriber.
func New(defaults engine.Defaults) *Prescriber {
	return &Prescriber{defaults: defaults, rules: standardRules()}
}

// Prescribe picks the best workout for req.
func (p *Prescriber) Prescribe(req Request) Result {
	var (
		res        Result
		candidates []Candidate
	)
	if len(req.Catalog) == 0 {
		res.Warnings = append(res.Warnings, "workout catalog is empty")
		return res
	}

	ev := evaluation{req: req, scoring: p.defaults.Scoring, minConfidence: p.defaults.Pattern.MinConfidence}
	for _, t := range req.Catalog {
		if ex, gated := gate(req, t); gated {
			res.Excluded = append(res.Excluded, ex)
			continue
		}
		c := Candidate{Template: t, Score: 0, Reasons: nil}
		for _, r := range p.rules {
			points, reason := r.apply(ev, t)
			if points == 0 {
				continue
			}
			c.Score += points
			c.Reasons = append(c.Reasons, fmt.Sprintf("%s %+g: %s", r.name, points, reason))
		}
		candidates = append(candidates, c)
	}

	slices.SortFunc(candidates, compare(req.NominalTSS))

	if len(candidates) == 0 {
		res.Warnings = append(res.Warnings, blockedWarning(req, res.Excluded))
		return res
	}
	best := candidates[0]
	res.Best = &best
	n := min(p.defaults.Scoring.Alternatives, len(candidates)-1)
	res.Alternatives = slices.Clone(candidates[1 : 1+n])
	return res
}

// compare orders candidates by score, then closeness to the nominal TSS, then template id.
func compare(nominal float64) func(a, b Candidate) int {
	return func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if nominal > 0 {
			da := math.Abs(a.Template.TargetTSS - nominal)
			db := math.Abs(b.Template.TargetTSS - nominal)
			if c := cmp.Compare(da, db); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Template.ID, b.Template.ID)
	}
}

const (
	gatePhase            = "phase"
	gateCategory         = "category"
	gateMinCTL           = "minCTL"
	gateMinDaysSinceHard = "minDaysSinceHard"
)

// gate applies the hard gates in order and reports the first failure.
func gate(req Request, t workout.Template) (Exclusion, bool) {
	ex := Exclusion{TemplateID: t.ID, Gate: "", Reason: ""}
	switch {
	case !req.Phase.Allows(t.Category):
		ex.Gate = gatePhase
		ex.Reason = fmt.Sprintf("%s is not trained in the %s phase", t.Category, req.Phase)
	case len(req.Categories) > 0 && !slices.Contains(req.Categories, t.Category):
		ex.Gate = gateCategory
		ex.Reason = fmt.Sprintf("%s is not requested for this slot", t.Category)
	case t.Prerequisites.MinCTL != nil && req.State.CTL < *t.Prerequisites.MinCTL:
		ex.Gate = gateMinCTL
		ex.Reason = fmt.Sprintf("CTL %.1f is below minCTL=%g", req.State.CTL, *t.Prerequisites.MinCTL)
	case t.Prerequisites.MinDaysSinceHard != nil && req.LastHard != nil &&
		fitness.DaysBetween(*req.LastHard, req.Date) < *t.Prerequisites.MinDaysSinceHard:
		ex.Gate = gateMinDaysSinceHard
		ex.Reason = fmt.Sprintf("%d days since the last hard session, needs minDaysSinceHard=%d",
			fitness.DaysBetween(*req.LastHard, req.Date), *t.Prerequisites.MinDaysSinceHard)
	default:
		return ex, false
	}
	return ex, true
}

// blockedWarning names the gates that left no candidate. Prerequisite gates are reported in preference to the
// phase and category gates because they are the actionable ones.
func blockedWarning(req Request, excluded []Exclusion) string {
	var prerequisites, scope []string
	for _, ex := range excluded {
		t, _ := workout.Catalog(req.Catalog).Find(ex.TemplateID)
		switch ex.Gate {
		case gateMinCTL:
			prerequisites = append(prerequisites, fmt.Sprintf("minCTL=%g", *t.Prerequisites.MinCTL))
		case gateMinDaysSinceHard:
			prerequisites = append(prerequisites, fmt.Sprintf("minDaysSinceHard=%d", *t.Prerequisites.MinDaysSinceHard))
		case gatePhase:
			scope = append(scope, fmt.Sprintf("the %s phase", req.Phase))
		case gateCategory:
			scope = append(scope, "the requested categories")
		}
	}
	if len(prerequisites) > 0 {
		return "no candidates satisfy " + joinUnique(prerequisites)
	}
	return "no candidates allowed in " + joinUnique(scope)
}

func joinUnique(s []string) string {
	slices.Sort(s)
	return strings.Join(slices.Compact(s), ", ")
}
