package coach

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/myrjola/formcoach/internal/activity"
	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/workout"
)

const maxRPE = 10

// SaveAthlete creates or updates an athlete.
func (s *Service) SaveAthlete(ctx context.Context, a Athlete) error {
	if a.ID == "" {
		return fmt.Errorf("%w: athlete id is required", ErrInvalidInput)
	}
	if a.FTPWatts < 0 || a.WeightKg < 0 || a.WeeklyHours < 0 {
		return fmt.Errorf("%w: athlete physiology must not be negative", ErrInvalidInput)
	}
	if err := s.repo.athletes.Save(ctx, a); err != nil {
		return fmt.Errorf("save athlete: %w", err)
	}
	return nil
}

// ListAthletes returns every athlete.
func (s *Service) ListAthletes(ctx context.Context) ([]Athlete, error) {
	athletes, err := s.repo.athletes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}
	return athletes, nil
}

// RecordDailyStress replaces the total stress of one day.
func (s *Service) RecordDailyStress(ctx context.Context, d fitness.DailyStress) error {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return err
	}
	d.Date = fitness.NormalizeDate(d.Date)
	if err = fitness.ValidateSeries(d.Date, []fitness.DailyStress{d}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err = s.repo.stress.Set(ctx, d); err != nil {
		return fmt.Errorf("record daily stress: %w", err)
	}
	return nil
}

// SeedFitness stores a known fitness state. Later folds start from the latest seed on or before their date.
func (s *Service) SeedFitness(ctx context.Context, state fitness.State) error {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return err
	}
	if state.Date.IsZero() || state.CTL < 0 || state.ATL < 0 {
		return fmt.Errorf("%w: fitness seed needs a date and non-negative loads", ErrInvalidInput)
	}
	state.Date = fitness.NormalizeDate(state.Date)
	if err = s.repo.stress.SaveSeed(ctx, state); err != nil {
		return fmt.Errorf("seed fitness: %w", err)
	}
	return nil
}

// ImportActivity analyses the FIT file at path and adds its stress to the day it was ridden.
func (s *Service) ImportActivity(ctx context.Context, path string) (activity.Summary, error) {
	ctx, athlete, err := s.scope(ctx)
	if err != nil {
		return activity.Summary{}, err
	}
	summary, err := activity.AnalyzeFile(path, activity.Athlete{FTPWatts: athlete.FTPWatts,
		WeightKg: athlete.WeightKg}, s.defaults)
	if err != nil {
		return activity.Summary{}, fmt.Errorf("analyze activity: %w", err)
	}
	return s.storeActivity(ctx, summary)
}

// LogActivity records a ride without a file from its duration and intensity factor.
func (s *Service) LogActivity(
	ctx context.Context,
	start time.Time,
	duration time.Duration,
	intensityFactor float64,
) (activity.Summary, error) {
	ctx, athlete, err := s.scope(ctx)
	if err != nil {
		return activity.Summary{}, err
	}
	if duration <= 0 || intensityFactor <= 0 || math.IsNaN(intensityFactor) {
		return activity.Summary{}, fmt.Errorf("%w: duration and intensity factor must be positive", ErrInvalidInput)
	}
	summary := activity.Manual(start, duration, intensityFactor, activity.Athlete{FTPWatts: athlete.FTPWatts,
		WeightKg: athlete.WeightKg}, s.defaults)
	return s.storeActivity(ctx, summary)
}

func (s *Service) storeActivity(ctx context.Context, summary activity.Summary) (activity.Summary, error) {
	id := uuid.NewString()
	if err := s.repo.activities.Import(ctx, id, summary); err != nil {
		return activity.Summary{}, fmt.Errorf("store activity: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "imported activity", slog.String("activityID", id),
		slog.String("date", fitness.FormatDate(summary.Date())), slog.Float64("tss", summary.TSS),
		slog.String("ftpSource", string(summary.FTPSource)))
	return summary, nil
}

// RecordOutcome stores how a session went. The TSB going into the session is taken from the fitness fold. When
// the active plan covers the date, its day is marked completed or skipped.
func (s *Service) RecordOutcome(ctx context.Context, in OutcomeInput) (pattern.Outcome, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return pattern.Outcome{}, err
	}
	if _, err = workout.ParseCategory(string(in.Category)); err != nil {
		return pattern.Outcome{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if in.RPE < 0 || in.RPE > maxRPE {
		return pattern.Outcome{}, fmt.Errorf("%w: rpe %d is outside 0..%d", ErrInvalidInput, in.RPE, maxRPE)
	}
	if in.Completed && in.Skipped {
		return pattern.Outcome{}, fmt.Errorf("%w: a session cannot be both completed and skipped", ErrInvalidInput)
	}
	if in.PlannedTSS < 0 || in.ActualTSS < 0 {
		return pattern.Outcome{}, fmt.Errorf("%w: negative TSS", ErrInvalidInput)
	}

	date := fitness.NormalizeDate(in.Date)
	state, _, err := s.fitnessAt(ctx, date.AddDate(0, 0, -1))
	if err != nil {
		return pattern.Outcome{}, err
	}
	o := pattern.Outcome{
		Date:       date,
		Category:   in.Category,
		PlannedTSS: in.PlannedTSS,
		ActualTSS:  in.ActualTSS,
		Completed:  in.Completed,
		Skipped:    in.Skipped,
		RPE:        in.RPE,
		TSB:        state.TSB(),
	}

	var planID *string
	plan, err := s.repo.plans.Active(ctx)
	switch {
	case err == nil:
		if !date.Before(plan.StartDate) && date.Before(plan.EndDate) {
			planID = &plan.ID
		}
	case !errors.Is(err, ErrNotFound):
		return pattern.Outcome{}, fmt.Errorf("get active plan: %w", err)
	}

	if err = s.repo.outcomes.Create(ctx, o, planID, in.ActualDurationMinutes); err != nil {
		return pattern.Outcome{}, fmt.Errorf("record outcome: %w", err)
	}
	return o, nil
}

// RecomputePatterns analyses the athlete's recent outcomes and stores the pattern. With too few outcomes the
// stored pattern is removed and an error wrapping pattern.ErrInsufficientData is returned.
func (s *Service) RecomputePatterns(ctx context.Context) (pattern.Pattern, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return pattern.Pattern{}, err
	}
	asOf := s.now().UTC()
	since := fitness.NormalizeDate(asOf).AddDate(0, 0, -s.defaults.Pattern.WindowDays)
	outcomes, err := s.repo.outcomes.List(ctx, since)
	if err != nil {
		return pattern.Pattern{}, fmt.Errorf("list outcomes: %w", err)
	}
	p, err := pattern.Analyze(outcomes, asOf, s.defaults.Pattern)
	if errors.Is(err, pattern.ErrInsufficientData) {
		if delErr := s.repo.patterns.Delete(ctx); delErr != nil {
			return pattern.Pattern{}, fmt.Errorf("drop outdated pattern: %w", delErr)
		}
	}
	if err != nil {
		return pattern.Pattern{}, fmt.Errorf("analyze outcomes: %w", err)
	}
	if err = s.repo.patterns.Save(ctx, p); err != nil {
		return pattern.Pattern{}, fmt.Errorf("save pattern: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "recomputed pattern", slog.Int("dataPoints", p.DataPoints),
		slog.Float64("confidence", p.Confidence))
	return p, nil
}

// RecomputeAllPatterns recomputes the pattern of every athlete. Athletes with too little data are skipped.
func (s *Service) RecomputeAllPatterns(ctx context.Context) error {
	athletes, err := s.ListAthletes(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range athletes {
		actx := contexthelpers.WithAthleteID(ctx, a.ID)
		if _, err = s.RecomputePatterns(actx); err != nil && !errors.Is(err, pattern.ErrInsufficientData) {
			errs = append(errs, fmt.Errorf("athlete %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Patterns returns the athlete's stored pattern.
func (s *Service) Patterns(ctx context.Context) (pattern.Pattern, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return pattern.Pattern{}, err
	}
	p, err := s.repo.patterns.Get(ctx)
	if err != nil {
		return pattern.Pattern{}, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}
