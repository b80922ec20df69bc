// Package coach is the service boundary of the plan engine.
//
// The service reads the athlete's fitness, patterns and the workout catalog concurrently, runs the pure engine
// packages and persists the results. Every method except the athlete administration reads the athlete from the
// context, see contexthelpers.WithAthleteID.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/logging"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/prescriber"
	"github.com/myrjola/formcoach/internal/sqlite"
	"github.com/myrjola/formcoach/internal/workout"
)

// Service handles the coaching use cases for one database.
type Service struct {
	repo       *repository
	db         *sqlite.Database
	logger     *slog.Logger
	defaults   engine.Defaults
	planner    *planner.Planner
	prescriber *prescriber.Prescriber
	// now is the clock. Tests replace it.
	now func() time.Time
}

// NewService creates a new coaching service.
func NewService(db *sqlite.Database, logger *slog.Logger, defaults engine.Defaults) *Service {
	factory := newRepositoryFactory(db, logger)
	return &Service{
		repo:       factory.newRepository(),
		db:         db,
		logger:     logger,
		defaults:   defaults,
		planner:    planner.New(defaults),
		prescriber: prescriber.New(defaults),
		now:        time.Now,
	}
}

// today is the current calendar day.
func (s *Service) today() time.Time {
	return fitness.NormalizeDate(s.now())
}

// scope checks that ctx is scoped to a known athlete and adds the athlete to the log context.
func (s *Service) scope(ctx context.Context) (context.Context, Athlete, error) {
	id := contexthelpers.AthleteID(ctx)
	if id == "" {
		return ctx, Athlete{}, ErrNoAthlete
	}
	a, err := s.repo.athletes.Get(ctx, id)
	if err != nil {
		return ctx, Athlete{}, fmt.Errorf("get athlete: %w", err)
	}
	return logging.WithAttrs(ctx, slog.String("athleteID", id)), a, nil
}

// snapshot is everything the engine reads before a decision.
type snapshot struct {
	fitness       fitness.State
	fitnessSource FitnessSource
	// pattern is nil when none is stored or the fetch failed.
	pattern  *pattern.Pattern
	catalog  []workout.Template
	outcomes []pattern.Outcome
	warnings []string
}

// gather reads the fitness at the end of through, the pattern, the catalog and recent outcomes concurrently.
// The reads share the fetch timeout. A failed or slow pattern read degrades to no pattern with a warning.
func (s *Service) gather(ctx context.Context, through time.Time) (snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.defaults.FetchTimeout)
	defer cancel()

	var (
		snap       snapshot
		patternErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, source, err := s.fitnessAt(gctx, through)
		if err != nil {
			return fmt.Errorf("current fitness: %w", err)
		}
		snap.fitness, snap.fitnessSource = state, source
		return nil
	})
	g.Go(func() error {
		catalog, err := s.repo.catalog.List(gctx)
		if err != nil {
			return fmt.Errorf("workout catalog: %w", err)
		}
		snap.catalog = catalog
		return nil
	})
	g.Go(func() error {
		since := through.AddDate(0, 0, -s.defaults.Pattern.WindowDays)
		outcomes, err := s.repo.outcomes.List(gctx, since)
		if err != nil {
			return fmt.Errorf("session outcomes: %w", err)
		}
		snap.outcomes = outcomes
		return nil
	})
	// The pattern read uses the parent context so that its failure does not cancel the required reads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		p, err := s.repo.patterns.Get(ctx)
		if err != nil {
			patternErr = err
			return
		}
		snap.pattern = &p
	}()

	err := g.Wait()
	<-done
	if err != nil {
		return snapshot{}, err
	}

	outdated := s.now().AddDate(0, 0, -s.defaults.Pattern.WindowDays)
	switch {
	case patternErr == nil && snap.pattern.ComputedAt.Before(outdated):
		snap.pattern = nil
		snap.warnings = append(snap.warnings, "pattern data is outdated, using generic defaults")
	case patternErr == nil:
	case errors.Is(patternErr, ErrNotFound):
		snap.warnings = append(snap.warnings, "no pattern data, using generic defaults")
	default:
		s.logger.LogAttrs(ctx, slog.LevelWarn, "pattern fetch failed", errors.SlogError(patternErr))
		snap.warnings = append(snap.warnings, "pattern data unavailable, using generic defaults")
	}
	if snap.fitnessSource == FitnessDefault {
		snap.warnings = append(snap.warnings, "no training history, starting from zero fitness")
	}
	return snap, nil
}

// CurrentFitness returns the athlete's fitness at the end of asOf.
func (s *Service) CurrentFitness(ctx context.Context, asOf time.Time) (fitness.State, FitnessSource, error) {
	ctx, _, err := s.scope(ctx)
	if err != nil {
		return fitness.State{}, "", err
	}
	return s.fitnessAt(ctx, fitness.NormalizeDate(asOf))
}

// fitnessAt folds the stored stress from the latest snapshot on or before asOf. Without a snapshot the fold
// starts from zero load the day before the first stored stress.
func (s *Service) fitnessAt(ctx context.Context, asOf time.Time) (fitness.State, FitnessSource, error) {
	seed, err := s.repo.stress.Seed(ctx, asOf)
	hasSeed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fitness.State{}, "", fmt.Errorf("fitness seed: %w", err)
	}

	var from time.Time
	if hasSeed {
		from = fitness.NextDay(seed.Date)
	}
	stored, err := s.repo.stress.List(ctx, from, asOf)
	if err != nil {
		return fitness.State{}, "", fmt.Errorf("daily stress: %w", err)
	}
	if !hasSeed {
		if len(stored) == 0 {
			return fitness.State{Date: asOf, CTL: 0, ATL: 0}, FitnessDefault, nil
		}
		seed = fitness.State{Date: stored[0].Date.AddDate(0, 0, -1), CTL: 0, ATL: 0}
	}

	states, err := fitness.AdvanceN(seed, fitness.FillDays(fitness.NextDay(seed.Date), asOf, stored))
	if err != nil {
		return fitness.State{}, "", fmt.Errorf("fold daily stress: %w", err)
	}
	if len(states) == 0 {
		return seed, FitnessFromHistory, nil
	}
	return states[len(states)-1], FitnessFromHistory, nil
}

// lastHard returns the most recent completed hard session before date.
func lastHard(outcomes []pattern.Outcome, date time.Time) *time.Time {
	var last *time.Time
	for _, o := range outcomes {
		if !o.Completed || !o.Category.IsHard() || !o.Date.Before(date) {
			continue
		}
		if last == nil || o.Date.After(*last) {
			d := o.Date
			last = &d
		}
	}
	return last
}
