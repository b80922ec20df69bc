package planner

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/prescriber"
	"github.com/myrjola/formcoach/internal/workout"
)

// minFillerTSS is the smallest stress worth a filler session. Anything less stays a rest day.
const minFillerTSS = 20

//nolint:gochecknoglobals // fallback key days.
var defaultKeyDays = []time.Weekday{time.Tuesday, time.Thursday, time.Saturday}

// week is the working state of one week during day assignment.
type week struct {
	number int
	phase  workout.Phase
	target weekTarget
	days   []PlanDay
	// open marks days that may carry a workout.
	open []bool
}

// scheduler assigns workouts to the days of consecutive weeks while tracking the planned fitness.
type scheduler struct {
	planner  *Planner
	req      Request
	keyDays  []time.Weekday
	keyCount map[int]int
	state    fitness.State
	lastHard *time.Time
	warnings []string
}

func (s *scheduler) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// schedule fills w in place and advances the planned fitness through it.
func (s *scheduler) schedule(w *week) {
	profile := w.phase.Profile()
	keys := s.keyCount[w.number]
	keyTSS := s.scheduleKeys(w, keys, w.target.tss*profile.KeyShare)
	s.scheduleFiller(w, w.target.tss-keyTSS)

	for _, d := range w.days {
		s.state = fitness.Advance(s.state, d.PlannedTSS())
	}
}

// scheduleKeys places up to n key workouts on the preferred days and returns their total stress.
func (s *scheduler) scheduleKeys(w *week, n int, nominal float64) float64 {
	if n == 0 {
		return 0
	}
	var total float64
	chosen := s.pickKeyDays(w, n)
	for _, i := range chosen {
		d := &w.days[i]
		res := s.planner.prescriber.Prescribe(prescriber.Request{
			Date:       d.Date,
			Phase:      w.phase,
			State:      s.state,
			Catalog:    s.req.Catalog,
			Pattern:    s.req.Pattern,
			LastHard:   s.lastHard,
			NominalTSS: nominal,
			Categories: w.phase.Profile().Key,
			Planning:   true,
		})
		if res.Best == nil {
			s.warn("week %d: no key workout for %s (%s), using filler", w.number, fitness.FormatDate(d.Date),
				joinWarnings(res.Warnings))
			continue
		}
		assign(d, res.Best.Template)
		d.IsKey = true
		w.open[i] = false
		total += res.Best.Template.TargetTSS
		if res.Best.Template.Category.IsHard() {
			date := d.Date
			s.lastHard = &date
		}
	}
	return total
}

// pickKeyDays returns the indexes of the days to carry key workouts, keeping at least one day between them
// when the week allows it.
func (s *scheduler) pickKeyDays(w *week, n int) []int {
	var chosen []int
	adjacent := func(i int) bool {
		for _, c := range chosen {
			if c == i-1 || c == i+1 {
				return true
			}
		}
		return false
	}
	for _, spaced := range []bool{true, false} {
		for _, wd := range s.keyDays {
			if len(chosen) == n {
				return sortedInts(chosen)
			}
			i := w.index(wd)
			if i < 0 || !w.open[i] || slices.Contains(chosen, i) || (spaced && adjacent(i)) {
				continue
			}
			chosen = append(chosen, i)
		}
	}
	return sortedInts(chosen)
}

// scheduleFiller spreads remaining over the fewest open days that bring the week within tolerance.
func (s *scheduler) scheduleFiller(w *week, remaining float64) {
	if remaining < minFillerTSS {
		return
	}
	candidates := w.fillerOrder()
	if len(candidates) == 0 {
		s.warn("week %d: no open days left for %.0f TSS of filler", w.number, remaining)
		return
	}
	tolerance := s.planner.defaults.WeeklyTolerance * w.target.tss
	keyTSS := w.plannedTSS()

	var best []PlanDay
	bestGap := math.Inf(1)
	for n := 1; n <= len(candidates); n++ {
		perDay := remaining / float64(n)
		if perDay < minFillerTSS {
			break
		}
		trial := slices.Clone(w.days)
		total := keyTSS
		for _, i := range candidates[:n] {
			t, ok := s.filler(w, trial[i].Date, perDay)
			if !ok {
				continue
			}
			assign(&trial[i], t)
			total += t.TargetTSS
		}
		gap := math.Abs(total - w.target.tss)
		if gap < bestGap {
			best, bestGap = trial, gap
		}
		if gap <= tolerance {
			break
		}
	}
	if best != nil {
		w.days = best
	}
}

// filler picks and scales a filler workout for one day.
func (s *scheduler) filler(w *week, date time.Time, tss float64) (workout.Template, bool) {
	res := s.planner.prescriber.Prescribe(prescriber.Request{
		Date:       date,
		Phase:      w.phase,
		State:      s.state,
		Catalog:    s.req.Catalog,
		Pattern:    s.req.Pattern,
		LastHard:   s.lastHard,
		NominalTSS: tss,
		Categories: w.phase.Profile().Filler,
		Planning:   true,
	})
	if res.Best == nil {
		return workout.Template{}, false
	}
	return res.Best.Template.Scaled(tss), true
}

// fillerOrder ranks the open days for filler: weekend days first, then days that do not follow a key workout,
// then the rest, each group in date order.
func (w *week) fillerOrder() []int {
	rank := func(i int) int {
		d := w.days[i]
		switch {
		case d.DayOfWeek == time.Saturday || d.DayOfWeek == time.Sunday:
			return 0
		case i == 0 || !w.days[i-1].IsKey:
			return 1
		default:
			return 2 //nolint:mnd // lowest preference.
		}
	}
	var open []int
	for i := range w.days {
		if w.open[i] {
			open = append(open, i)
		}
	}
	slices.SortStableFunc(open, func(a, b int) int { return cmp.Compare(rank(a), rank(b)) })
	return open
}

func (w *week) index(wd time.Weekday) int {
	for i, d := range w.days {
		if d.DayOfWeek == wd {
			return i
		}
	}
	return -1
}

func (w *week) plannedTSS() float64 {
	var total float64
	for _, d := range w.days {
		total += d.PlannedTSS()
	}
	return total
}

func (w *week) plannedMinutes() int {
	var total int
	for _, d := range w.days {
		if d.TargetDurationMinutes != nil {
			total += *d.TargetDurationMinutes
		}
	}
	return total
}

func (w *week) keyWorkouts() int {
	n := 0
	for _, d := range w.days {
		if d.IsKey {
			n++
		}
	}
	return n
}

func assign(d *PlanDay, t workout.Template) {
	id := t.ID
	category := t.Category
	tss := round1(t.TargetTSS)
	minutes := t.DurationMinutes
	intensity := t.TargetIF
	d.WorkoutTemplateRef = &id
	d.Category = &category
	d.TargetTSS = &tss
	d.TargetDurationMinutes = &minutes
	d.TargetIF = &intensity
}

// resolveKeyDays orders the weekdays preferred for key workouts.
func resolveKeyDays(req Request, minConfidence float64) ([]time.Weekday, string) {
	if len(req.KeyWorkoutDays) > 0 {
		return req.KeyWorkoutDays, ""
	}
	if !req.Pattern.Usable(minConfidence) {
		return defaultKeyDays, "pattern confidence too low, using generic key workout days"
	}
	days := req.Pattern.BestDays(len(defaultKeyDays))
	for _, d := range defaultKeyDays {
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	return days, ""
}

func joinWarnings(ws []string) string {
	if len(ws) == 0 {
		return "no candidates"
	}
	return ws[0]
}

func sortedInts(s []int) []int {
	slices.Sort(s)
	return s
}

// optimalBand returns the learned TSB band or the generic one.
func optimalBand(p *pattern.Pattern, minConfidence float64, generic pattern.Band) pattern.Band {
	if p.Usable(minConfidence) && p.OptimalTSB != nil {
		return *p.OptimalTSB
	}
	return generic
}
