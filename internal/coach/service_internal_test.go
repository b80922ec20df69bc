package coach

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/sqlite"
	"github.com/myrjola/formcoach/internal/testhelpers"
	"github.com/myrjola/formcoach/internal/workout"
)

// slowPatterns blocks until the context is done.
type slowPatterns struct {
	patternRepository
}

func (slowPatterns) Get(ctx context.Context) (pattern.Pattern, error) {
	<-ctx.Done()
	return pattern.Pattern{}, ctx.Err()
}

type failingPlans struct {
	planRepository
}

func (failingPlans) Create(context.Context, planner.TrainingPlan) error {
	return errors.New("disk full")
}

func newInternalService(t *testing.T, defaults engine.Defaults) (*Service, context.Context) {
	t.Helper()
	ctx := t.Context()
	logger := testhelpers.NewLogger(testhelpers.NewWriter(t))
	db, err := sqlite.NewDatabase(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		if err = db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	svc := NewService(db, logger, defaults)
	svc.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	if err = svc.SaveAthlete(ctx, Athlete{ID: "a", Name: "A", FTPWatts: 250, WeightKg: 70, WeeklyHours: 6,
		CreatedAt: time.Time{}}); err != nil {
		t.Fatalf("SaveAthlete() error = %v", err)
	}
	return svc, contexthelpers.WithAthleteID(ctx, "a")
}

func TestService_gather_slowPattern(t *testing.T) {
	defaults := engine.Standard()
	defaults.FetchTimeout = 200 * time.Millisecond
	svc, ctx := newInternalService(t, defaults)
	svc.repo.patterns = slowPatterns{}

	snap, err := svc.gather(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("gather() error = %v", err)
	}
	if snap.pattern != nil {
		t.Errorf("pattern = %+v, want nil", snap.pattern)
	}
	if !slices.Contains(snap.warnings, "pattern data unavailable, using generic defaults") {
		t.Errorf("warnings %q lack the unavailable pattern warning", snap.warnings)
	}
	if len(snap.catalog) == 0 {
		t.Error("catalog is empty")
	}
}

func TestService_ProposePlan_persistenceFailure(t *testing.T) {
	svc, ctx := newInternalService(t, engine.Standard())
	svc.repo.plans = failingPlans{svc.repo.plans}

	prop, err := svc.ProposePlan(ctx, PlanRequest{
		Goal:              planner.GoalBaseBuild,
		StartDate:         time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		DurationWeeks:     4,
		WeeklyHours:       0,
		EventDate:         nil,
		KeyWorkoutDays:    nil,
		RestDays:          nil,
		OverrideTaperRest: false,
	})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("ProposePlan() error = %v, want %v", err, ErrPersistence)
	}
	if len(prop.Plan.Days) != 28 {
		t.Errorf("days = %d, want the computed proposal with 28 days", len(prop.Plan.Days))
	}
	if prop.Plan.WeeklyHoursTarget != 6 {
		t.Errorf("WeeklyHoursTarget = %v, want the athlete's 6 hours", prop.Plan.WeeklyHoursTarget)
	}
}

func TestService_RecomputePatterns_outdated(t *testing.T) {
	svc, ctx := newInternalService(t, engine.Standard())
	for day := 10; day < 20; day++ {
		_, err := svc.RecordOutcome(ctx, OutcomeInput{
			Date:       time.Date(2024, 12, day, 0, 0, 0, 0, time.UTC),
			Category:   workout.CategoryEndurance,
			PlannedTSS: 60,
			ActualTSS:  60,
			Completed:  true,
			RPE:        5,
		})
		if err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}
	if _, err := svc.RecomputePatterns(ctx); err != nil {
		t.Fatalf("RecomputePatterns() error = %v", err)
	}

	svc.now = func() time.Time { return time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC) }
	if _, err := svc.RecomputePatterns(ctx); !errors.Is(err, pattern.ErrInsufficientData) {
		t.Fatalf("RecomputePatterns() error = %v, want %v", err, pattern.ErrInsufficientData)
	}
	if _, err := svc.Patterns(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Patterns() error = %v, want %v", err, ErrNotFound)
	}
	snap, err := svc.gather(ctx, time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("gather() error = %v", err)
	}
	if snap.pattern != nil {
		t.Errorf("pattern = %+v, want nil", snap.pattern)
	}
}

func TestService_gather_outdatedPattern(t *testing.T) {
	svc, ctx := newInternalService(t, engine.Standard())
	stored := pattern.Pattern{DataPoints: 10, Confidence: 0.9, ComputedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	if err := svc.repo.patterns.Save(ctx, stored); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, err := svc.gather(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("gather() error = %v", err)
	}
	if snap.pattern != nil {
		t.Errorf("pattern = %+v, want nil", snap.pattern)
	}
	if !slices.Contains(snap.warnings, "pattern data is outdated, using generic defaults") {
		t.Errorf("warnings %q lack the outdated pattern warning", snap.warnings)
	}
}

func Test_lastHard(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }
	outcomes := []pattern.Outcome{
		{Date: d(2), Category: workout.CategoryVO2Max, Completed: true},
		{Date: d(4), Category: workout.CategoryThreshold, Completed: true},
		{Date: d(5), Category: workout.CategoryVO2Max, Completed: false, Skipped: true},
		{Date: d(6), Category: workout.CategoryEndurance, Completed: true},
		{Date: d(8), Category: workout.CategorySprint, Completed: true},
	}

	tests := []struct {
		name string
		date time.Time
		want *time.Time
	}{
		{name: "before any session", date: d(2), want: nil},
		{name: "skips skipped and easy sessions", date: d(7), want: &outcomes[1].Date},
		{name: "same day does not count", date: d(8), want: &outcomes[1].Date},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lastHard(outcomes, tt.date)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil || !got.Equal(*tt.want):
				t.Errorf("lastHard() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_carryOver(t *testing.T) {
	day := fitness.NormalizeDate(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	tss, minutes := 55.0, 60
	previous := []planner.PlanDay{
		{Date: day, Completed: true, ActualTSS: &tss, ActualDurationMinutes: &minutes},
		{Date: day.AddDate(0, 0, 1), Skipped: true},
	}
	next := []planner.PlanDay{{Date: day}, {Date: day.AddDate(0, 0, 1)}, {Date: day.AddDate(0, 0, 2)}}

	carryOver(next, previous)

	if !next[0].Completed || next[0].ActualTSS == nil || *next[0].ActualTSS != 55 {
		t.Errorf("first day = %+v, want completed with 55 TSS", next[0])
	}
	if !next[1].Skipped {
		t.Errorf("second day = %+v, want skipped", next[1])
	}
	if next[2].Completed || next[2].Skipped {
		t.Errorf("new day = %+v, want untouched", next[2])
	}
}

type fakeRecorder struct {
	reasons []string
}

func (r *fakeRecorder) Capture(_ context.Context, reason string) (string, error) {
	r.reasons = append(r.reasons, reason)
	return reason + ".trace", nil
}

func TestScheduler_wrap(t *testing.T) {
	svc, ctx := newInternalService(t, engine.Standard())
	s, err := NewScheduler(ctx, svc, DefaultSchedule())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	recorder := &fakeRecorder{}
	s.RecordTraces(recorder)

	s.wrap("slow-job", func(context.Context) error { return fmt.Errorf("query: %w", context.DeadlineExceeded) })()
	s.wrap("failing-job", func(context.Context) error { return errors.New("boom") })()
	s.wrap("panicking-job", func(context.Context) error { panic("boom") })()

	if diff := cmp.Diff([]string{"slow-job"}, recorder.reasons); diff != "" {
		t.Errorf("captured traces mismatch (-want +got):\n%s", diff)
	}
}
