package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/ptr"
	"github.com/myrjola/formcoach/internal/workout"
)

// sqlitePlanRepository implements planRepository.
type sqlitePlanRepository struct {
	baseRepository
}

// Create stores a new plan with its days.
func (r *sqlitePlanRepository) Create(ctx context.Context, plan planner.TrainingPlan) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	row, err := newPlanRow(plan)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO training_plans (id, athlete_id, goal, status, start_date, end_date, duration_weeks, weekly_hours,
			                            event_date, key_workout_days, rest_days, override_taper_rest,
			                            start_fitness_date, start_ctl, start_atl, phases, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			plan.ID, athleteID, string(plan.Goal), string(plan.Status), row.startDate, row.endDate, plan.DurationWeeks,
			plan.WeeklyHoursTarget, row.eventDate, row.keyDays, row.restDays, boolInt(plan.OverrideTaperRest),
			row.fitnessDate, plan.StartFitness.CTL, plan.StartFitness.ATL, row.phases, plan.Version); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		return insertDays(ctx, tx, plan.ID, plan.Days)
	})
}

// Get retrieves a plan of the athlete by id.
func (r *sqlitePlanRepository) Get(ctx context.Context, id string) (planner.TrainingPlan, error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return planner.TrainingPlan{}, err
	}
	return loadPlan(ctx, r.db.ReadOnly, athleteID, "id = ?", id)
}

// Active retrieves the athlete's active plan.
func (r *sqlitePlanRepository) Active(ctx context.Context) (planner.TrainingPlan, error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return planner.TrainingPlan{}, err
	}
	return loadPlan(ctx, r.db.ReadOnly, athleteID, "status = ?", string(planner.StatusActive))
}

// Update replaces a plan and all of its days atomically.
func (r *sqlitePlanRepository) Update(
	ctx context.Context,
	id string,
	updateFn func(plan *planner.TrainingPlan) (bool, error),
) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		plan, err := loadPlan(ctx, tx, athleteID, "id = ?", id)
		if err != nil {
			return err
		}
		version := plan.Version
		updated, err := updateFn(&plan)
		if err != nil {
			return fmt.Errorf("update function: %w", err)
		}
		if !updated {
			return nil
		}

		row, err := newPlanRow(plan)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE training_plans
			SET goal = ?, status = ?, start_date = ?, end_date = ?, duration_weeks = ?, weekly_hours = ?, event_date = ?,
			    key_workout_days = ?, rest_days = ?, override_taper_rest = ?, start_fitness_date = ?, start_ctl = ?,
			    start_atl = ?, phases = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND athlete_id = ? AND version = ?`,
			string(plan.Goal), string(plan.Status), row.startDate, row.endDate, plan.DurationWeeks,
			plan.WeeklyHoursTarget, row.eventDate, row.keyDays, row.restDays, boolInt(plan.OverrideTaperRest),
			row.fitnessDate, plan.StartFitness.CTL, plan.StartFitness.ATL, row.phases, nowTimestamp(),
			id, athleteID, version)
		if err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrVersionConflict
		}

		if _, err = tx.ExecContext(ctx, "DELETE FROM plan_days WHERE plan_id = ?", id); err != nil {
			return fmt.Errorf("delete plan days: %w", err)
		}
		return insertDays(ctx, tx, id, plan.Days)
	})
}

// SetStatus moves a plan along its lifecycle. Activation goes through Activate.
func (r *sqlitePlanRepository) SetStatus(ctx context.Context, id string, status planner.Status) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkTransition(ctx, tx, athleteID, id, status); err != nil {
			return err
		}
		return setStatus(ctx, tx, id, status)
	})
}

// Activate makes id the athlete's only active plan.
func (r *sqlitePlanRepository) Activate(ctx context.Context, id string) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkTransition(ctx, tx, athleteID, id, planner.StatusActive); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE training_plans SET status = ?, updated_at = ?
			WHERE athlete_id = ? AND status = ? AND id <> ?`,
			string(planner.StatusAbandoned), nowTimestamp(), athleteID, string(planner.StatusActive), id); err != nil {
			return fmt.Errorf("abandon active plan: %w", err)
		}
		return setStatus(ctx, tx, id, planner.StatusActive)
	})
}

func checkTransition(ctx context.Context, q querier, athleteID, id string, next planner.Status) error {
	var current string
	err := q.QueryRowContext(ctx, "SELECT status FROM training_plans WHERE id = ? AND athlete_id = ?",
		id, athleteID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query plan status: %w", err)
	}
	if !planner.Status(current).CanTransition(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
	}
	return nil
}

func setStatus(ctx context.Context, q querier, id string, status planner.Status) error {
	if _, err := q.ExecContext(ctx, "UPDATE training_plans SET status = ?, updated_at = ? WHERE id = ?",
		string(status), nowTimestamp(), id); err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return nil
}

// planRow holds the encoded plan columns.
type planRow struct {
	startDate   string
	endDate     string
	eventDate   sql.NullString
	keyDays     string
	restDays    string
	fitnessDate string
	phases      string
}

func newPlanRow(plan planner.TrainingPlan) (planRow, error) {
	row := planRow{
		startDate:   formatDate(plan.StartDate),
		endDate:     formatDate(plan.EndDate),
		eventDate:   sql.NullString{},
		fitnessDate: formatDate(plan.StartFitness.Date),
	}
	if plan.EventDate != nil {
		row.eventDate = sql.NullString{String: formatDate(*plan.EventDate), Valid: true}
	}
	var err error
	if row.keyDays, err = marshalJSON(weekdaysOrEmpty(plan.KeyWorkoutDays)); err != nil {
		return planRow{}, fmt.Errorf("marshal key workout days: %w", err)
	}
	if row.restDays, err = marshalJSON(weekdaysOrEmpty(plan.RestDays)); err != nil {
		return planRow{}, fmt.Errorf("marshal rest days: %w", err)
	}
	if row.phases, err = marshalJSON(plan.Phases); err != nil {
		return planRow{}, fmt.Errorf("marshal phases: %w", err)
	}
	return row, nil
}

func weekdaysOrEmpty(days []time.Weekday) []time.Weekday {
	if days == nil {
		return []time.Weekday{}
	}
	return days
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err //nolint:wrapcheck // callers wrap.
	}
	return string(b), nil
}

func insertDays(ctx context.Context, tx *sql.Tx, planID string, days []planner.PlanDay) (err error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plan_days (plan_id, date, week_number, phase, workout_template_id, category, target_tss,
		                       target_duration_minutes, target_if, is_key, is_taper, is_event, completed, skipped,
		                       actual_tss, actual_duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert plan day: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close statement: %w", closeErr))
		}
	}()

	for _, d := range days {
		var category *string
		if d.Category != nil {
			category = ptr.Ref(string(*d.Category))
		}
		if _, err = stmt.ExecContext(ctx, planID, formatDate(d.Date), d.WeekNumber, string(d.Phase),
			d.WorkoutTemplateRef, category, d.TargetTSS, d.TargetDurationMinutes, d.TargetIF, boolInt(d.IsKey),
			boolInt(d.IsTaper), boolInt(d.IsEvent), boolInt(d.Completed), boolInt(d.Skipped), d.ActualTSS,
			d.ActualDurationMinutes); err != nil {
			return fmt.Errorf("insert plan day %s: %w", formatDate(d.Date), err)
		}
	}
	return nil
}

// loadPlan reads one plan of the athlete matching where.
func loadPlan(ctx context.Context, q querier, athleteID, where string, args ...any) (planner.TrainingPlan, error) {
	var (
		plan                                   planner.TrainingPlan
		goal, status, startDate, endDate       string
		eventDate                              sql.NullString
		keyDays, restDays, fitnessDate, phases string
		overrideTaperRest                      int
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, athlete_id, goal, status, start_date, end_date, duration_weeks, weekly_hours, event_date,
		       key_workout_days, rest_days, override_taper_rest, start_fitness_date, start_ctl, start_atl, phases,
		       version
		FROM training_plans
		WHERE athlete_id = ? AND `+where,
		append([]any{athleteID}, args...)...).Scan(
		&plan.ID, &plan.AthleteID, &goal, &status, &startDate, &endDate, &plan.DurationWeeks,
		&plan.WeeklyHoursTarget, &eventDate, &keyDays, &restDays, &overrideTaperRest, &fitnessDate,
		&plan.StartFitness.CTL, &plan.StartFitness.ATL, &phases, &plan.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return planner.TrainingPlan{}, fmt.Errorf("plan: %w", ErrNotFound)
	}
	if err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("query plan: %w", err)
	}

	plan.Goal = planner.Goal(goal)
	plan.Status = planner.Status(status)
	plan.OverrideTaperRest = overrideTaperRest == 1
	dates := []struct {
		dst *time.Time
		src string
	}{
		{&plan.StartDate, startDate},
		{&plan.EndDate, endDate},
		{&plan.StartFitness.Date, fitnessDate},
	}
	for _, d := range dates {
		if *d.dst, err = fitness.ParseDate(d.src); err != nil {
			return planner.TrainingPlan{}, fmt.Errorf("parse plan date: %w", err)
		}
	}
	if eventDate.Valid {
		event, parseErr := fitness.ParseDate(eventDate.String)
		if parseErr != nil {
			return planner.TrainingPlan{}, fmt.Errorf("parse event date: %w", parseErr)
		}
		plan.EventDate = &event
	}
	if err = json.Unmarshal([]byte(keyDays), &plan.KeyWorkoutDays); err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("unmarshal key workout days: %w", err)
	}
	if err = json.Unmarshal([]byte(restDays), &plan.RestDays); err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("unmarshal rest days: %w", err)
	}
	if err = json.Unmarshal([]byte(phases), &plan.Phases); err != nil {
		return planner.TrainingPlan{}, fmt.Errorf("unmarshal phases: %w", err)
	}
	if len(plan.KeyWorkoutDays) == 0 {
		plan.KeyWorkoutDays = nil
	}
	if len(plan.RestDays) == 0 {
		plan.RestDays = nil
	}

	if plan.Days, err = loadDays(ctx, q, plan.ID); err != nil {
		return planner.TrainingPlan{}, err
	}
	return plan, nil
}

func loadDays(ctx context.Context, q querier, planID string) (_ []planner.PlanDay, err error) {
	rows, err := q.QueryContext(ctx, `
		SELECT date, week_number, phase, workout_template_id, category, target_tss, target_duration_minutes,
		       target_if, is_key, is_taper, is_event, completed, skipped, actual_tss, actual_duration_minutes
		FROM plan_days
		WHERE plan_id = ?
		ORDER BY date`, planID)
	if err != nil {
		return nil, fmt.Errorf("query plan days: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var days []planner.PlanDay
	for rows.Next() {
		var (
			d                                           planner.PlanDay
			date, phase                                 string
			templateID, category                        sql.NullString
			targetTSS, targetIF, actualTSS              sql.NullFloat64
			targetMinutes, actualMinutes                sql.NullInt64
			isKey, isTaper, isEvent, completed, skipped int
		)
		if err = rows.Scan(&date, &d.WeekNumber, &phase, &templateID, &category, &targetTSS, &targetMinutes,
			&targetIF, &isKey, &isTaper, &isEvent, &completed, &skipped, &actualTSS, &actualMinutes); err != nil {
			return nil, fmt.Errorf("scan plan day: %w", err)
		}
		if d.Date, err = fitness.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse plan day date: %w", err)
		}
		d.DayOfWeek = d.Date.Weekday()
		d.Phase = workout.Phase(phase)
		if templateID.Valid {
			d.WorkoutTemplateRef = ptr.Ref(templateID.String)
		}
		if category.Valid {
			d.Category = ptr.Ref(workout.Category(category.String))
		}
		d.TargetTSS = nullFloat(targetTSS)
		d.TargetIF = nullFloat(targetIF)
		d.ActualTSS = nullFloat(actualTSS)
		d.TargetDurationMinutes = nullInt(targetMinutes)
		d.ActualDurationMinutes = nullInt(actualMinutes)
		d.IsKey, d.IsTaper, d.IsEvent = isKey == 1, isTaper == 1, isEvent == 1
		d.Completed, d.Skipped = completed == 1, skipped == 1
		days = append(days, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return days, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return ptr.Ref(v.Float64)
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return ptr.Ref(int(v.Int64))
}
