package coach

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/myrjola/formcoach/internal/activity"
	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/sqlite"
	"github.com/myrjola/formcoach/internal/workout"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// repository contains the repositories of the coach aggregates. Every repository except athletes and catalog
// is scoped to the athlete in the context.
type repository struct {
	athletes   athleteRepository
	stress     stressRepository
	activities activityRepository
	catalog    catalogRepository
	plans      planRepository
	outcomes   outcomeRepository
	patterns   patternRepository
}

type athleteRepository interface {
	Get(ctx context.Context, id string) (Athlete, error)
	List(ctx context.Context) ([]Athlete, error)
	Save(ctx context.Context, a Athlete) error
}

// stressRepository stores daily stress and the fitness snapshots that seed the fold.
type stressRepository interface {
	Set(ctx context.Context, d fitness.DailyStress) error
	// List returns stored days in [from, to] in date order.
	List(ctx context.Context, from, to time.Time) ([]fitness.DailyStress, error)
	// Seed returns the latest snapshot dated on or before asOf or ErrNotFound.
	Seed(ctx context.Context, asOf time.Time) (fitness.State, error)
	SaveSeed(ctx context.Context, s fitness.State) error
}

type activityRepository interface {
	// Import stores the activity and adds its stress to the day in one transaction.
	Import(ctx context.Context, id string, s activity.Summary) error
}

type catalogRepository interface {
	List(ctx context.Context) ([]workout.Template, error)
}

type planRepository interface {
	Create(ctx context.Context, plan planner.TrainingPlan) error
	Get(ctx context.Context, id string) (planner.TrainingPlan, error)
	// Active returns the athlete's active plan or ErrNotFound.
	Active(ctx context.Context) (planner.TrainingPlan, error)
	// Update replaces the plan and all its days when updateFn reports a change. The stored version must still be
	// the one updateFn saw and is incremented.
	Update(ctx context.Context, id string, updateFn func(plan *planner.TrainingPlan) (bool, error)) error
	SetStatus(ctx context.Context, id string, status planner.Status) error
	// Activate abandons the current active plan and activates id in one transaction.
	Activate(ctx context.Context, id string) error
}

type outcomeRepository interface {
	// Create stores the outcome and, when planID is set, marks the matching plan day.
	Create(ctx context.Context, o pattern.Outcome, planID *string, actualMinutes *int) error
	List(ctx context.Context, since time.Time) ([]pattern.Outcome, error)
}

type patternRepository interface {
	Get(ctx context.Context) (pattern.Pattern, error)
	Save(ctx context.Context, p pattern.Pattern) error
	Delete(ctx context.Context) error
}

// repositoryFactory creates repository instances.
type repositoryFactory struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func newRepositoryFactory(db *sqlite.Database, logger *slog.Logger) *repositoryFactory {
	return &repositoryFactory{db: db, logger: logger}
}

func (f *repositoryFactory) newRepository() *repository {
	base := baseRepository{db: f.db, logger: f.logger}
	return &repository{
		athletes:   &sqliteAthleteRepository{base},
		stress:     &sqliteStressRepository{base},
		activities: &sqliteActivityRepository{base},
		catalog:    &sqliteCatalogRepository{base},
		plans:      &sqlitePlanRepository{base},
		outcomes:   &sqliteOutcomeRepository{base},
		patterns:   &sqlitePatternRepository{base},
	}
}

type baseRepository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

// athleteID returns the athlete the context is scoped to.
func (r baseRepository) athleteID(ctx context.Context) (string, error) {
	id := contexthelpers.AthleteID(ctx)
	if id == "" {
		return "", ErrNoAthlete
	}
	return id, nil
}

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatDate(t time.Time) string {
	return fitness.FormatDate(t)
}

func nowTimestamp() string {
	return time.Now().UTC().Format(timestampFormat)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
