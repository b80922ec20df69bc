package coach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqliteAthleteRepository implements athleteRepository.
type sqliteAthleteRepository struct {
	baseRepository
}

const athleteColumns = "id, name, ftp_watts, weight_kg, weekly_hours, created_at"

// Get retrieves an athlete by id.
func (r *sqliteAthleteRepository) Get(ctx context.Context, id string) (Athlete, error) {
	row := r.db.ReadOnly.QueryRowContext(ctx, "SELECT "+athleteColumns+" FROM athletes WHERE id = ?", id)
	a, err := scanAthlete(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Athlete{}, fmt.Errorf("athlete %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Athlete{}, fmt.Errorf("query athlete: %w", err)
	}
	return a, nil
}

// List retrieves every athlete ordered by id.
func (r *sqliteAthleteRepository) List(ctx context.Context) (_ []Athlete, err error) {
	rows, err := r.db.ReadOnly.QueryContext(ctx, "SELECT "+athleteColumns+" FROM athletes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query athletes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var athletes []Athlete
	for rows.Next() {
		a, scanErr := scanAthlete(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan athlete: %w", scanErr)
		}
		athletes = append(athletes, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return athletes, nil
}

// Save creates or updates an athlete.
func (r *sqliteAthleteRepository) Save(ctx context.Context, a Athlete) error {
	_, err := r.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO athletes (id, name, ftp_watts, weight_kg, weekly_hours)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			ftp_watts = excluded.ftp_watts,
			weight_kg = excluded.weight_kg,
			weekly_hours = excluded.weekly_hours`,
		a.ID, a.Name, nullPositive(a.FTPWatts), nullPositive(a.WeightKg), nullPositive(a.WeeklyHours))
	if err != nil {
		return fmt.Errorf("save athlete: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAthlete(row scanner) (Athlete, error) {
	var (
		a                  Athlete
		ftp, weight, hours sql.NullFloat64
		createdAt          string
	)
	if err := row.Scan(&a.ID, &a.Name, &ftp, &weight, &hours, &createdAt); err != nil {
		return Athlete{}, err //nolint:wrapcheck // callers wrap.
	}
	a.FTPWatts = ftp.Float64
	a.WeightKg = weight.Float64
	a.WeeklyHours = hours.Float64
	t, err := time.Parse(timestampFormat, createdAt)
	if err != nil {
		return Athlete{}, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

func nullPositive(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v > 0}
}
