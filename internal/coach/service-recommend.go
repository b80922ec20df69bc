package coach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/prescriber"
	"github.com/myrjola/formcoach/internal/workout"
)

const displayPlaces = 2

// RecommendWorkout picks the workout for date from the catalog.
//
// The phase and nominal stress come from the active plan when it covers date. Without one the athlete is
// assumed to be in the maintenance phase. The fitness going into the day is the state at the end of the day
// before.
func (s *Service) RecommendWorkout(ctx context.Context, date time.Time) (Recommendation, error) {
	ctx, athlete, err := s.scope(ctx)
	if err != nil {
		return Recommendation{}, err
	}
	date = fitness.NormalizeDate(date)

	snap, err := s.gather(ctx, date.AddDate(0, 0, -1))
	if err != nil {
		return Recommendation{}, err
	}
	warnings := snap.warnings

	phase, nominal, rest, phaseWarning, err := s.dayTarget(ctx, athlete, date)
	if err != nil {
		return Recommendation{}, err
	}
	if phaseWarning != "" {
		warnings = append(warnings, phaseWarning)
	}

	state := snap.fitness
	rec := Recommendation{
		Workout: nil,
		Context: RecommendationContext{
			Date:            fitness.FormatDate(date),
			Phase:           phase,
			CurrentCTL:      fitness.Round(state.CTL, displayPlaces),
			CurrentATL:      fitness.Round(state.ATL, displayPlaces),
			CurrentTSB:      fitness.Round(state.TSB(), displayPlaces),
			Form:            fitness.FormDescription(state.TSB()),
			ACWR:            fitness.Round(state.ACWR(), displayPlaces),
			SelectedBecause: nil,
			Alternatives:    nil,
		},
		Warnings:      warnings,
		FitnessSource: snap.fitnessSource,
	}
	if rest {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("the active plan schedules rest on %s",
			fitness.FormatDate(date)))
		return rec, nil
	}

	res := s.prescriber.Prescribe(prescriber.Request{
		Date:       date,
		Phase:      phase,
		State:      state,
		Catalog:    snap.catalog,
		Pattern:    snap.pattern,
		LastHard:   lastHard(snap.outcomes, date),
		NominalTSS: nominal,
		Categories: nil,
		Planning:   false,
	})
	rec.Warnings = append(rec.Warnings, res.Warnings...)
	rec.Context.Alternatives = res.Alternatives
	if res.Best != nil {
		rec.Workout = &res.Best.Template
		rec.Context.SelectedBecause = res.Best.Reasons
		s.logger.LogAttrs(ctx, slog.LevelInfo, "recommended workout", slog.String("date", rec.Context.Date),
			slog.String("workout", res.Best.Template.ID), slog.Float64("score", res.Best.Score))
	}
	return rec, nil
}

// dayTarget returns the phase and nominal stress of date from the active plan, falling back to maintenance.
func (s *Service) dayTarget(
	ctx context.Context,
	athlete Athlete,
	date time.Time,
) (workout.Phase, float64, bool, string, error) {
	plan, err := s.repo.plans.Active(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", 0, false, "", fmt.Errorf("get active plan: %w", err)
	}
	if err == nil {
		for _, d := range plan.Days {
			if !d.Date.Equal(date) {
				continue
			}
			if d.IsRest() {
				return d.Phase, 0, true, "", nil
			}
			return d.Phase, d.PlannedTSS(), false, "", nil
		}
	}

	hours := athlete.WeeklyHours
	if hours <= 0 {
		hours = s.defaults.WeeklyHours
	}
	profile := workout.PhaseMaintenance.Profile()
	nominal := hours * s.defaults.TSSPerHour * profile.LoadFactor * profile.KeyShare
	warning := "no active plan covers the day, assuming the maintenance phase"
	return workout.PhaseMaintenance, nominal, false, warning, nil
}
