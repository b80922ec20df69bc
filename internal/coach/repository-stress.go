package coach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
)

// sqliteStressRepository implements stressRepository.
type sqliteStressRepository struct {
	baseRepository
}

// Set replaces the stress of one day.
func (r *sqliteStressRepository) Set(ctx context.Context, d fitness.DailyStress) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	_, err = r.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO daily_stress (athlete_id, date, tss) VALUES (?, ?, ?)
		ON CONFLICT (athlete_id, date) DO UPDATE SET tss = excluded.tss`,
		athleteID, formatDate(d.Date), d.TSS)
	if err != nil {
		return fmt.Errorf("save daily stress: %w", err)
	}
	return nil
}

// List returns the stored days in [from, to].
func (r *sqliteStressRepository) List(ctx context.Context, from, to time.Time) (_ []fitness.DailyStress, err error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT date, tss FROM daily_stress
		WHERE athlete_id = ? AND date >= ? AND date <= ?
		ORDER BY date`, athleteID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("query daily stress: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var days []fitness.DailyStress
	for rows.Next() {
		var (
			date string
			d    fitness.DailyStress
		)
		if err = rows.Scan(&date, &d.TSS); err != nil {
			return nil, fmt.Errorf("scan daily stress: %w", err)
		}
		if d.Date, err = fitness.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		days = append(days, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return days, nil
}

// Seed returns the latest snapshot dated on or before asOf.
func (r *sqliteStressRepository) Seed(ctx context.Context, asOf time.Time) (fitness.State, error) {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return fitness.State{}, err
	}
	var (
		date string
		s    fitness.State
	)
	err = r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT date, ctl, atl FROM fitness_snapshots
		WHERE athlete_id = ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1`, athleteID, formatDate(asOf)).Scan(&date, &s.CTL, &s.ATL)
	if errors.Is(err, sql.ErrNoRows) {
		return fitness.State{}, ErrNotFound
	}
	if err != nil {
		return fitness.State{}, fmt.Errorf("query fitness snapshot: %w", err)
	}
	if s.Date, err = fitness.ParseDate(date); err != nil {
		return fitness.State{}, fmt.Errorf("parse date: %w", err)
	}
	return s, nil
}

// SaveSeed stores a snapshot, replacing one on the same day.
func (r *sqliteStressRepository) SaveSeed(ctx context.Context, s fitness.State) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	_, err = r.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO fitness_snapshots (athlete_id, date, ctl, atl) VALUES (?, ?, ?, ?)
		ON CONFLICT (athlete_id, date) DO UPDATE SET ctl = excluded.ctl, atl = excluded.atl`,
		athleteID, formatDate(s.Date), s.CTL, s.ATL)
	if err != nil {
		return fmt.Errorf("save fitness snapshot: %w", err)
	}
	return nil
}
