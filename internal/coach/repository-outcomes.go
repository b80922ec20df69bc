package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/workout"
)

// sqliteOutcomeRepository implements outcomeRepository.
type sqliteOutcomeRepository struct {
	baseRepository
}

// Create stores o. When planID is set the plan day on the same date records the completion and the actuals.
func (r *sqliteOutcomeRepository) Create(
	ctx context.Context,
	o pattern.Outcome,
	planID *string,
	actualMinutes *int,
) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	date := formatDate(o.Date)
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO session_outcomes (athlete_id, plan_id, date, category, planned_tss, actual_tss, completed,
			                              skipped, rpe, tsb)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			athleteID, planID, date, string(o.Category), o.PlannedTSS, o.ActualTSS, boolInt(o.Completed),
			boolInt(o.Skipped), o.RPE, o.TSB); err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		if planID == nil {
			return nil
		}
		var actualTSS *float64
		if o.Completed {
			actualTSS = &o.ActualTSS
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE plan_days
			SET completed = ?, skipped = ?, actual_tss = ?, actual_duration_minutes = ?
			WHERE plan_id = ? AND date = ?`,
			boolInt(o.Completed), boolInt(o.Skipped), actualTSS, actualMinutes, *planID, date); err != nil {
			return fmt.Errorf("mark plan day: %w", err)
		}
		return nil
	})
}

// List retrieves outcomes dated on or after since in date order.
func (r *sqliteOutcomeRepository) List(ctx context.Context, since time.Time) (_ []pattern.Outcome, err error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT date, category, planned_tss, actual_tss, completed, skipped, rpe, tsb
		FROM session_outcomes
		WHERE athlete_id = ? AND date >= ?
		ORDER BY date, id`, athleteID, formatDate(since))
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var outcomes []pattern.Outcome
	for rows.Next() {
		var (
			o                  pattern.Outcome
			date, category     string
			completed, skipped int
		)
		if err = rows.Scan(&date, &category, &o.PlannedTSS, &o.ActualTSS, &completed, &skipped, &o.RPE,
			&o.TSB); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.Date, err = fitness.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse outcome date: %w", err)
		}
		o.Category = workout.Category(category)
		o.Completed, o.Skipped = completed == 1, skipped == 1
		outcomes = append(outcomes, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return outcomes, nil
}

// sqlitePatternRepository implements patternRepository.
type sqlitePatternRepository struct {
	baseRepository
}

// Get retrieves the athlete's latest computed pattern.
func (r *sqlitePatternRepository) Get(ctx context.Context) (pattern.Pattern, error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return pattern.Pattern{}, err
	}
	var data string
	err = r.db.ReadOnly.QueryRowContext(ctx, "SELECT pattern FROM athlete_patterns WHERE athlete_id = ?",
		athleteID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return pattern.Pattern{}, fmt.Errorf("pattern: %w", ErrNotFound)
	}
	if err != nil {
		return pattern.Pattern{}, fmt.Errorf("query pattern: %w", err)
	}
	var p pattern.Pattern
	if err = json.Unmarshal([]byte(data), &p); err != nil {
		return pattern.Pattern{}, fmt.Errorf("unmarshal pattern: %w", err)
	}
	return p, nil
}

// Save replaces the athlete's pattern.
func (r *sqlitePatternRepository) Save(ctx context.Context, p pattern.Pattern) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	_, err = r.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO athlete_patterns (athlete_id, pattern, confidence, data_points, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (athlete_id) DO UPDATE SET
			pattern = excluded.pattern,
			confidence = excluded.confidence,
			data_points = excluded.data_points,
			computed_at = excluded.computed_at`,
		athleteID, string(data), p.Confidence, p.DataPoints, p.ComputedAt.UTC().Format(timestampFormat))
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// Delete removes the athlete's pattern. Deleting a missing pattern is not an error.
func (r *sqlitePatternRepository) Delete(ctx context.Context) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	if _, err = r.db.ReadWrite.ExecContext(ctx, "DELETE FROM athlete_patterns WHERE athlete_id = ?",
		athleteID); err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	return nil
}
