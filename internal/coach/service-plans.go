package coach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/projection"
)

// ProposePlan generates a draft plan and stores it.
//
// When storing fails the proposal is returned together with an error wrapping ErrPersistence.
func (s *Service) ProposePlan(ctx context.Context, req PlanRequest) (planner.Proposal, error) {
	ctx, athlete, err := s.scope(ctx)
	if err != nil {
		return planner.Proposal{}, err
	}

	// The plan starts from the fitness at the end of the day before the start, or today for later starts.
	through := fitness.NormalizeDate(req.StartDate).AddDate(0, 0, -1)
	if today := s.today(); through.After(today) {
		through = today
	}
	snap, err := s.gather(ctx, through)
	if err != nil {
		return planner.Proposal{}, err
	}

	hours := req.WeeklyHours
	if hours == 0 {
		hours = athlete.WeeklyHours
	}
	prop, err := s.planner.Generate(planner.Request{
		Goal:              req.Goal,
		StartDate:         req.StartDate,
		DurationWeeks:     req.DurationWeeks,
		WeeklyHours:       hours,
		EventDate:         req.EventDate,
		Fitness:           snap.fitness,
		Pattern:           snap.pattern,
		Catalog:           snap.catalog,
		KeyWorkoutDays:    req.KeyWorkoutDays,
		RestDays:          req.RestDays,
		OverrideTaperRest: req.OverrideTaperRest,
	})
	if err != nil {
		return planner.Proposal{}, fmt.Errorf("generate plan: %w", err)
	}
	prop.Plan.ID = uuid.NewString()
	prop.Plan.AthleteID = athlete.ID
	prop.FitnessSource = string(snap.fitnessSource)
	prop.Warnings = append(snap.warnings, prop.Warnings...)

	if err = s.repo.plans.Create(ctx, prop.Plan); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to store plan proposal", errors.SlogError(err))
		return prop, fmt.Errorf("%w: store plan: %w", ErrPersistence, err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "proposed plan", slog.String("planID", prop.Plan.ID),
		slog.String("goal", string(prop.Plan.Goal)), slog.Int("weeks", prop.Plan.DurationWeeks),
		slog.Int("warnings", len(prop.Warnings)))
	return prop, nil
}

// ModifyPlan regenerates plan id with the modified inputs and replaces all of its days.
//
// The plan keeps its id, status and starting fitness. Completion and actuals carry over to days that keep their
// date. Identical modifications of the same plan produce identical days.
func (s *Service) ModifyPlan(ctx context.Context, id string, mod Modification) (planner.Proposal, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return planner.Proposal{}, err
	}
	snap, err := s.gather(ctx, s.today())
	if err != nil {
		return planner.Proposal{}, err
	}

	var prop planner.Proposal
	err = s.repo.plans.Update(ctx, id, func(plan *planner.TrainingPlan) (bool, error) {
		if plan.Version != mod.ExpectedVersion {
			return false, fmt.Errorf("%w: expected version %d, stored %d", ErrVersionConflict, mod.ExpectedVersion,
				plan.Version)
		}
		if plan.Status != planner.StatusDraft && plan.Status != planner.StatusActive {
			return false, fmt.Errorf("%w: cannot modify a %s plan", ErrInvalidTransition, plan.Status)
		}

		req := modifiedRequest(*plan, mod)
		req.Pattern = snap.pattern
		req.Catalog = snap.catalog
		generated, genErr := s.planner.Generate(req)
		if genErr != nil {
			return false, fmt.Errorf("generate plan: %w", genErr)
		}

		next := generated.Plan
		next.ID = plan.ID
		next.AthleteID = plan.AthleteID
		next.Status = plan.Status
		next.Version = plan.Version + 1
		carryOver(next.Days, plan.Days)
		*plan = next

		prop = generated
		prop.Plan = next
		return true, nil
	})
	if err != nil {
		return planner.Proposal{}, fmt.Errorf("modify plan: %w", err)
	}
	prop.Warnings = append(snap.warnings, prop.Warnings...)
	prop.FitnessSource = string(FitnessFromPlan)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "modified plan", slog.String("planID", id),
		slog.Int("version", prop.Plan.Version))
	return prop, nil
}

// modifiedRequest rebuilds the request that produced plan with mod applied. The stored start fitness keeps the
// regeneration independent of history recorded since.
func modifiedRequest(plan planner.TrainingPlan, mod Modification) planner.Request {
	req := planner.Request{
		Goal:              plan.Goal,
		StartDate:         plan.StartDate,
		DurationWeeks:     plan.DurationWeeks,
		WeeklyHours:       plan.WeeklyHoursTarget,
		EventDate:         plan.EventDate,
		Fitness:           plan.StartFitness,
		Pattern:           nil,
		Catalog:           nil,
		KeyWorkoutDays:    plan.KeyWorkoutDays,
		RestDays:          plan.RestDays,
		OverrideTaperRest: plan.OverrideTaperRest,
	}
	if mod.WeeklyHours != nil {
		req.WeeklyHours = *mod.WeeklyHours
	}
	if mod.DurationWeeks != nil {
		req.DurationWeeks = *mod.DurationWeeks
	}
	if mod.EventDate != nil {
		req.EventDate = mod.EventDate
	}
	if mod.KeyWorkoutDays != nil {
		req.KeyWorkoutDays = mod.KeyWorkoutDays
	}
	if mod.OverrideTaperRest != nil {
		req.OverrideTaperRest = *mod.OverrideTaperRest
	}
	return req
}

// carryOver copies completion state from previous days onto next days with the same date.
func carryOver(next, previous []planner.PlanDay) {
	byDate := make(map[time.Time]planner.PlanDay, len(previous))
	for _, d := range previous {
		byDate[d.Date] = d
	}
	for i := range next {
		prev, ok := byDate[next[i].Date]
		if !ok {
			continue
		}
		next[i].Completed = prev.Completed
		next[i].Skipped = prev.Skipped
		next[i].ActualTSS = prev.ActualTSS
		next[i].ActualDurationMinutes = prev.ActualDurationMinutes
	}
}

// ActivatePlan makes plan id the athlete's active plan. A previously active plan is abandoned.
func (s *Service) ActivatePlan(ctx context.Context, id string) error {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return err
	}
	if err = s.repo.plans.Activate(ctx, id); err != nil {
		return fmt.Errorf("activate plan: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "activated plan", slog.String("planID", id))
	return nil
}

// SetPlanStatus moves plan id to status following the plan lifecycle.
func (s *Service) SetPlanStatus(ctx context.Context, id string, status planner.Status) error {
	if status == planner.StatusActive {
		return s.ActivatePlan(ctx, id)
	}
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return err
	}
	if err = s.repo.plans.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("set plan status: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "changed plan status", slog.String("planID", id),
		slog.String("status", string(status)))
	return nil
}

// GetPlan retrieves plan id.
func (s *Service) GetPlan(ctx context.Context, id string) (planner.TrainingPlan, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return planner.TrainingPlan{}, err
	}
	plan, err := s.repo.plans.Get(ctx, id)
	if err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// ActivePlan retrieves the athlete's active plan or an error wrapping ErrNotFound.
func (s *Service) ActivePlan(ctx context.Context) (planner.TrainingPlan, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return planner.TrainingPlan{}, err
	}
	plan, err := s.repo.plans.Active(ctx)
	if err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("get active plan: %w", err)
	}
	return plan, nil
}

// ProjectPlan projects the stored plan id from its starting fitness.
func (s *Service) ProjectPlan(ctx context.Context, id string) (projection.Projection, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return projection.Projection{}, err
	}
	var pat *pattern.Pattern
	if p, patErr := s.repo.patterns.Get(ctx); patErr == nil {
		pat = &p
	}
	proj, err := s.planner.Preview(plan, pat)
	if err != nil {
		return projection.Projection{}, fmt.Errorf("preview plan: %w", err)
	}
	return proj, nil
}
