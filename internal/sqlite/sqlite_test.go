package sqlite_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/myrjola/formcoach/internal/sqlite"
	"github.com/myrjola/formcoach/internal/testhelpers"
)

func newDatabase(t *testing.T) *sqlite.Database {
	t.Helper()
	db, err := sqlite.NewDatabase(t.Context(), ":memory:", testhelpers.NewLogger(testhelpers.NewWriter(t)))
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		if err = db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(t.Context(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestNewDatabase_seedsCatalog(t *testing.T) {
	t.Parallel()
	db := newDatabase(t)
	if n := count(t, db.ReadOnly, "SELECT COUNT(*) FROM workout_templates"); n != 16 {
		t.Errorf("templates = %d, want 16", n)
	}
	if err := db.Optimize(t.Context()); err != nil {
		t.Errorf("Optimize() error = %v", err)
	}
	if err := db.Optimize(t.Context()); err != nil {
		t.Errorf("second Optimize() error = %v", err)
	}
}

func TestDatabase_WithTx(t *testing.T) {
	t.Parallel()
	db := newDatabase(t)
	ctx := t.Context()
	errBoom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO athletes (id) VALUES ('rolled-back')"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if n := count(t, db.ReadOnly, "SELECT COUNT(*) FROM athletes"); n != 0 {
		t.Errorf("athletes = %d after rollback, want 0", n)
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO athletes (id) VALUES ('committed')")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if n := count(t, db.ReadOnly, "SELECT COUNT(*) FROM athletes"); n != 1 {
		t.Errorf("athletes = %d after commit, want 1", n)
	}
}

func TestDatabase_oneActivePlan(t *testing.T) {
	t.Parallel()
	db := newDatabase(t)
	ctx := t.Context()
	insert := func(id, status string) error {
		_, err := db.ReadWrite.ExecContext(ctx, `INSERT INTO training_plans
    (id, athlete_id, goal, status, start_date, end_date, duration_weeks, weekly_hours, start_fitness_date,
     start_ctl, start_atl)
VALUES (?, 'a1', 'base_build', ?, '2025-01-06', '2025-02-03', 4, 8, '2025-01-05', 0, 0)`, id, status)
		return err
	}
	if _, err := db.ReadWrite.ExecContext(ctx, "INSERT INTO athletes (id) VALUES ('a1')"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []struct{ id, status string }{{"p1", "active"}, {"p2", "draft"}, {"p3", "abandoned"}} {
		if err := insert(p.id, p.status); err != nil {
			t.Fatalf("insert %s: %v", p.id, err)
		}
	}
	if err := insert("p4", "active"); err == nil {
		t.Error("second active plan was accepted")
	}
}

func TestDatabase_ExportAthlete(t *testing.T) {
	t.Parallel()
	db := newDatabase(t)
	ctx := t.Context()
	seed := []string{
		"INSERT INTO athletes (id, ftp_watts) VALUES ('a1', 280), ('a2', 200)",
		"INSERT INTO daily_stress (athlete_id, date, tss) VALUES ('a1', '2025-01-01', 80), ('a2', '2025-01-01', 40)",
		`INSERT INTO training_plans (id, athlete_id, goal, status, start_date, end_date, duration_weeks, weekly_hours,
                            start_fitness_date, start_ctl, start_atl)
VALUES ('p1', 'a1', 'base_build', 'draft', '2025-01-06', '2025-01-13', 1, 8, '2025-01-05', 40, 40),
       ('p2', 'a2', 'base_build', 'draft', '2025-01-06', '2025-01-13', 1, 8, '2025-01-05', 40, 40)`,
		`INSERT INTO plan_days (plan_id, date, week_number, phase, workout_template_id, target_tss)
VALUES ('p1', '2025-01-06', 1, 'base', 'end-90', 69.4), ('p2', '2025-01-06', 1, 'base', 'rec-45', 22.7)`,
		`INSERT INTO session_outcomes (athlete_id, date, category, completed, skipped)
VALUES ('a1', '2025-01-02', 'endurance', 1, 0)`,
	}
	for _, q := range seed {
		if _, err := db.ReadWrite.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	path, err := db.ExportAthlete(ctx, "a1", t.TempDir())
	if err != nil {
		t.Fatalf("ExportAthlete() error = %v", err)
	}
	export, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	t.Cleanup(func() { _ = export.Close() })

	tests := []struct {
		query string
		want  int
	}{
		{"SELECT COUNT(*) FROM athletes", 1},
		{"SELECT COUNT(*) FROM athletes WHERE id = 'a1'", 1},
		{"SELECT COUNT(*) FROM daily_stress", 1},
		{"SELECT COUNT(*) FROM training_plans", 1},
		{"SELECT COUNT(*) FROM plan_days WHERE plan_id = 'p1'", 1},
		{"SELECT COUNT(*) FROM plan_days", 1},
		{"SELECT COUNT(*) FROM session_outcomes", 1},
		{"SELECT COUNT(*) FROM workout_templates", 16},
	}
	for _, tt := range tests {
		if got := count(t, export, tt.query); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.query, got, tt.want)
		}
	}
}
