// Package planner builds periodized training plans.
//
// A plan is laid out in three steps: calendar weeks are allocated to phases by goal, each week receives a target
// stress budget bounded by the ramp ceiling, and the days of each week are filled with catalog workouts chosen by
// the prescriber. The result is previewed with the forward projection.
package planner

import (
	"fmt"
	"slices"
	"time"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/prescriber"
	"github.com/myrjola/formcoach/internal/projection"
	"github.com/myrjola/formcoach/internal/workout"
)

// ErrValidation is returned for requests that cannot produce a plan. Nothing is simulated for such requests.
var ErrValidation = errors.NewSentinel("invalid plan request")

const daysPerWeek = 7

// Request describes the plan to generate.
type Request struct {
	Goal      Goal
	StartDate time.Time
	// DurationWeeks is the plan length in whole weeks.
	DurationWeeks int
	// WeeklyHours is the time budget of a peak week. Zero selects the engine default.
	WeeklyHours float64
	EventDate   *time.Time
	// Fitness is the athlete's state going into the plan. A state dated before the start is decayed to the day
	// before the start assuming rest.
	Fitness fitness.State
	// Pattern is optional and only used when confident.
	Pattern *pattern.Pattern
	Catalog []workout.Template
	// KeyWorkoutDays overrides the weekdays preferred for key workouts.
	KeyWorkoutDays []time.Weekday
	// RestDays are weekdays that never carry a workout.
	RestDays []time.Weekday
	// OverrideTaperRest lets the athlete train in the final days before the event.
	OverrideTaperRest bool
}

// Planner generates plans with a fixed set of engine defaults.
type Planner struct {
	defaults   engine.Defaults
	prescriber *prescriber.Prescriber
}

// New creates a Planner.
func New(defaults engine.Defaults) *Planner {
	return &Planner{defaults: defaults, prescriber: prescriber.New(defaults)}
}

// Generate builds a draft plan for req together with its week summaries and fitness projection.
//
// Generate is deterministic: equal requests produce equal proposals.
func (p *Planner) Generate(req Request) (Proposal, error) {
	var warnings []string
	req, catalog, err := p.normalize(req, &warnings)
	if err != nil {
		return Proposal{}, err
	}
	req.Catalog = catalog

	start := fitness.NormalizeDate(req.StartDate)
	n := req.DurationWeeks
	end := start.AddDate(0, 0, daysPerWeek*n)

	var eventWeeks int
	if req.EventDate != nil {
		days := fitness.DaysBetween(start, *req.EventDate)
		eventWeeks = min(n, (days+daysPerWeek-1)/daysPerWeek)
		if horizon := end.AddDate(0, 0, p.defaults.EventHorizonDays-1); req.EventDate.After(horizon) {
			warnings = append(warnings, fmt.Sprintf(
				"event %s is more than %d days after the plan ends, its form is not projected",
				fitness.FormatDate(*req.EventDate), p.defaults.EventHorizonDays))
		}
	}

	startState := alignFitness(req.Fitness, start, &warnings)

	phases := phaseWeeks(req.Goal, n, eventWeeks)
	targets, rampWarnings := rampTargets(phases, req.WeeklyHours, startState.CTL, p.defaults)
	warnings = append(warnings, rampWarnings...)

	keyDays, keyWarning := resolveKeyDays(req, p.defaults.Pattern.MinConfidence)
	if keyWarning != "" {
		warnings = append(warnings, keyWarning)
	}

	s := &scheduler{
		planner:  p,
		req:      req,
		keyDays:  keyDays,
		keyCount: keyCounts(phases),
		state:    startState,
		lastHard: nil,
		warnings: nil,
	}
	weeks := make([]week, n)
	for i := range weeks {
		weeks[i] = p.newWeek(req, i, phases[i], targets[i], start)
		s.schedule(&weeks[i])
	}
	warnings = append(warnings, s.warnings...)

	plan := TrainingPlan{
		ID:                "",
		AthleteID:         "",
		Goal:              req.Goal,
		Status:            StatusDraft,
		StartDate:         start,
		EndDate:           end,
		DurationWeeks:     n,
		WeeklyHoursTarget: req.WeeklyHours,
		EventDate:         req.EventDate,
		KeyWorkoutDays:    req.KeyWorkoutDays,
		RestDays:          req.RestDays,
		OverrideTaperRest: req.OverrideTaperRest,
		StartFitness:      startState,
		Phases:            blocks(phases, weekTSS(targets)),
		Days:              nil,
		Version:           1,
	}
	summaries := make([]WeekSummary, n)
	for i := range weeks {
		w := &weeks[i]
		plan.Days = append(plan.Days, w.days...)
		summaries[i] = WeekSummary{
			WeekNumber:     w.number,
			StartDate:      w.days[0].Date,
			Phase:          w.phase,
			TargetTSS:      w.target.tss,
			PlannedTSS:     round1(w.plannedTSS()),
			PlannedMinutes: w.plannedMinutes(),
			KeyWorkouts:    w.keyWorkouts(),
			IsBackOff:      w.target.backOff,
			RampClamped:    w.target.clamped,
		}
		if tol := p.defaults.WeeklyTolerance * w.target.tss; absDiff(w.plannedTSS(), w.target.tss) > tol {
			warnings = append(warnings, fmt.Sprintf("week %d planned %.0f TSS is outside %.0f%% of the %.0f TSS target",
				w.number, w.plannedTSS(), p.defaults.WeeklyTolerance*100, w.target.tss)) //nolint:mnd // percent.
		}
	}

	proj, err := p.Preview(plan, req.Pattern)
	if err != nil {
		return Proposal{}, err
	}

	return Proposal{
		Plan:          plan,
		WeekSummaries: summaries,
		Projection:    proj,
		Warnings:      warnings,
		FitnessSource: "",
	}, nil
}

// Preview projects plan from its start fitness. Rest days are appended through the event when it lies within the
// event horizon after the plan end.
func (p *Planner) Preview(plan TrainingPlan, pat *pattern.Pattern) (projection.Projection, error) {
	days := make([]projection.PlannedDay, 0, len(plan.Days))
	for _, d := range plan.Days {
		days = append(days, projection.PlannedDay{Date: d.Date, TSS: d.PlannedTSS(), Phase: d.Phase, Taper: d.IsTaper})
	}
	if plan.EventDate != nil && !plan.EventDate.Before(plan.EndDate) &&
		fitness.DaysBetween(plan.EndDate, *plan.EventDate) < p.defaults.EventHorizonDays {
		for d := plan.EndDate; !d.After(*plan.EventDate); d = fitness.NextDay(d) {
			days = append(days, projection.PlannedDay{Date: d, TSS: 0, Phase: workout.PhaseTaper, Taper: true})
		}
	}
	band := pattern.Band{Min: p.defaults.Scoring.GenericTSBMin, Max: p.defaults.Scoring.GenericTSBMax}
	proj, err := projection.Project(plan.StartFitness, days, projection.Options{
		EventDate:  plan.EventDate,
		OptimalTSB: optimalBand(pat, p.defaults.Pattern.MinConfidence, band),
	})
	if err != nil {
		return projection.Projection{}, fmt.Errorf("project plan: %w", err)
	}
	return proj, nil
}

// normalize validates req and fills its defaults. It returns the usable catalog templates.
func (p *Planner) normalize(req Request, warnings *[]string) (Request, []workout.Template, error) {
	if _, err := ParseGoal(string(req.Goal)); err != nil {
		return req, nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if req.StartDate.IsZero() {
		return req, nil, fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if req.DurationWeeks < 1 || req.DurationWeeks > p.defaults.MaxDurationWeeks {
		return req, nil, fmt.Errorf("%w: duration %d weeks is outside 1..%d", ErrValidation, req.DurationWeeks,
			p.defaults.MaxDurationWeeks)
	}
	if req.WeeklyHours < 0 {
		return req, nil, fmt.Errorf("%w: weekly hours %v is negative", ErrValidation, req.WeeklyHours)
	}
	if req.WeeklyHours == 0 {
		req.WeeklyHours = p.defaults.WeeklyHours
		*warnings = append(*warnings, fmt.Sprintf("no weekly hours target, using the default %g hours",
			p.defaults.WeeklyHours))
	}
	req.StartDate = fitness.NormalizeDate(req.StartDate)
	if req.EventDate != nil {
		event := fitness.NormalizeDate(*req.EventDate)
		if !event.After(req.StartDate) {
			return req, nil, fmt.Errorf("%w: event date %s is not after start date %s", ErrValidation,
				fitness.FormatDate(event), fitness.FormatDate(req.StartDate))
		}
		req.EventDate = &event
	}
	if req.Goal == GoalEventPrep && req.EventDate == nil {
		*warnings = append(*warnings, "event_prep plan without an event date, the taper ends with the plan")
	}

	var catalog []workout.Template
	for _, t := range workout.Catalog(req.Catalog).Sorted() {
		if err := t.Validate(); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("skipping catalog entry: %v", err))
			continue
		}
		catalog = append(catalog, t)
	}
	if len(catalog) == 0 {
		return req, nil, fmt.Errorf("%w: workout catalog has no valid templates", ErrValidation)
	}
	return req, catalog, nil
}

// newWeek materializes the days of week i and closes the days that cannot carry a workout. The days after the
// event in the event week are closed too, the next week picks up the maintenance load.
func (p *Planner) newWeek(req Request, i int, phase workout.Phase, target weekTarget, start time.Time) week {
	w := week{
		number: i + 1,
		phase:  phase,
		target: target,
		days:   make([]PlanDay, daysPerWeek),
		open:   make([]bool, daysPerWeek),
	}
	weekStart := start.AddDate(0, 0, i*daysPerWeek)
	for j := range daysPerWeek {
		date := weekStart.AddDate(0, 0, j)
		d := PlanDay{
			Date:       date,
			WeekNumber: w.number,
			DayOfWeek:  date.Weekday(),
			Phase:      phase,
			IsTaper:    phase == workout.PhaseTaper,
		}
		open := !slices.Contains(req.RestDays, date.Weekday())
		if req.EventDate != nil {
			before := fitness.DaysBetween(date, *req.EventDate)
			switch {
			case before == 0:
				d.IsEvent = true
				open = false
			case before == -1:
				// The day after the event is for recovery.
				open = false
			case before < -1 && !req.EventDate.Before(weekStart):
				d.Phase = workout.PhaseMaintenance
				d.IsTaper = false
				open = false
			case before > 0 && before <= p.defaults.TaperRestDays && !req.OverrideTaperRest:
				d.IsTaper = true
				open = false
			}
		}
		w.days[j] = d
		w.open[j] = open
	}
	return w
}

// alignFitness returns the state at the end of the day before start.
func alignFitness(s fitness.State, start time.Time, warnings *[]string) fitness.State {
	dayBefore := start.AddDate(0, 0, -1)
	switch {
	case s.Date.IsZero():
		s.Date = dayBefore
	case s.Date.Before(dayBefore):
		gap := fitness.DaysBetween(s.Date, dayBefore)
		*warnings = append(*warnings, fmt.Sprintf("fitness from %s decayed over %d rest days to the plan start",
			fitness.FormatDate(s.Date), gap))
		s = fitness.Decay(s, gap)
	case s.Date.After(dayBefore):
		*warnings = append(*warnings, fmt.Sprintf("fitness from %s is after the plan start, using it as of %s",
			fitness.FormatDate(s.Date), fitness.FormatDate(dayBefore)))
		s.Date = dayBefore
	}
	return s
}

// keyCounts returns the key workouts per week number. A single taper week keeps two short intensity touches.
func keyCounts(phases []workout.Phase) map[int]int {
	counts := make(map[int]int, len(phases))
	taperWeeks := countPhase(phases, workout.PhaseTaper)
	for i, ph := range phases {
		counts[i+1] = ph.Profile().KeyWorkouts
		if ph == workout.PhaseTaper && taperWeeks == 1 {
			counts[i+1] = 2
		}
	}
	return counts
}

func weekTSS(targets []weekTarget) []float64 {
	out := make([]float64, len(targets))
	for i, t := range targets {
		out[i] = t.tss
	}
	return out
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
