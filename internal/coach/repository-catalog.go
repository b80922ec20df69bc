package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/myrjola/formcoach/internal/workout"
)

// sqliteCatalogRepository implements catalogRepository.
type sqliteCatalogRepository struct {
	baseRepository
}

// List retrieves the workout catalog ordered by id.
func (r *sqliteCatalogRepository) List(ctx context.Context) (_ []workout.Template, err error) {
	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT id, name, category, target_tss, duration_minutes, target_if, min_ctl, min_days_since_hard,
		       intervals, description
		FROM workout_templates
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query workout templates: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var catalog []workout.Template
	for rows.Next() {
		var (
			t                workout.Template
			category         string
			minCTL           sql.NullFloat64
			minDaysSinceHard sql.NullInt64
			intervals        string
		)
		if err = rows.Scan(&t.ID, &t.Name, &category, &t.TargetTSS, &t.DurationMinutes, &t.TargetIF, &minCTL,
			&minDaysSinceHard, &intervals, &t.Description); err != nil {
			return nil, fmt.Errorf("scan workout template: %w", err)
		}
		t.Category = workout.Category(category)
		if minCTL.Valid {
			t.Prerequisites.MinCTL = &minCTL.Float64
		}
		if minDaysSinceHard.Valid {
			days := int(minDaysSinceHard.Int64)
			t.Prerequisites.MinDaysSinceHard = &days
		}
		if err = json.Unmarshal([]byte(intervals), &t.Intervals); err != nil {
			return nil, fmt.Errorf("unmarshal intervals of %s: %w", t.ID, err)
		}
		catalog = append(catalog, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return catalog, nil
}
