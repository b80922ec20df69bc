package coach

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/myrjola/formcoach/internal/activity"
)

// sqliteActivityRepository implements activityRepository.
type sqliteActivityRepository struct {
	baseRepository
}

// Import stores s and adds its TSS to the stress of its day.
func (r *sqliteActivityRepository) Import(ctx context.Context, id string, s activity.Summary) error {
	athleteID, err := r.athleteID(ctx)
	if err != nil {
		return err
	}
	date := formatDate(s.Date())
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO activities (id, athlete_id, date, source, duration_seconds, distance_meters, avg_power,
			                        normalized_power, intensity_factor, tss, kilojoules, avg_heart_rate, ftp_watts,
			                        ftp_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, athleteID, date, string(s.Source), int(math.Round(s.DurationSeconds)), s.DistanceMeters, s.AvgPower,
			s.NormalizedPower, s.IntensityFactor, s.TSS, s.Kilojoules, s.AvgHeartRate, s.FTPWatts,
			string(s.FTPSource)); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO daily_stress (athlete_id, date, tss) VALUES (?, ?, ?)
			ON CONFLICT (athlete_id, date) DO UPDATE SET tss = tss + excluded.tss`,
			athleteID, date, s.TSS); err != nil {
			return fmt.Errorf("add daily stress: %w", err)
		}
		return nil
	})
}
