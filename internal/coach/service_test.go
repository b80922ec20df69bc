package coach_test

import (
	"context"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/formcoach/internal/coach"
	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/ptr"
	"github.com/myrjola/formcoach/internal/sqlite"
	"github.com/myrjola/formcoach/internal/testhelpers"
	"github.com/myrjola/formcoach/internal/workout"
)

const athleteID = "athlete-1"

func date(s string) time.Time {
	d, err := fitness.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newService returns a service on a fresh in-memory database and a context scoped to a registered athlete.
func newService(t *testing.T) (*coach.Service, context.Context) {
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
	svc := coach.NewService(db, logger, engine.Standard())
	athlete := coach.Athlete{ID: athleteID, Name: "Test Athlete", FTPWatts: 250, WeightKg: 70}
	if err = svc.SaveAthlete(ctx, athlete); err != nil {
		t.Fatalf("SaveAthlete() error = %v", err)
	}
	return svc, contexthelpers.WithAthleteID(ctx, athleteID)
}

func examplePlanRequest() coach.PlanRequest {
	return coach.PlanRequest{
		Goal:          planner.GoalEventPrep,
		StartDate:     date("2025-01-06"),
		DurationWeeks: 8,
		WeeklyHours:   8,
		EventDate:     ptr.Ref(date("2025-03-03")),
	}
}

func proposeExample(t *testing.T, svc *coach.Service, ctx context.Context) planner.Proposal {
	t.Helper()
	if err := svc.SeedFitness(ctx, fitness.State{Date: date("2025-01-05"), CTL: 50, ATL: 50}); err != nil {
		t.Fatalf("SeedFitness() error = %v", err)
	}
	prop, err := svc.ProposePlan(ctx, examplePlanRequest())
	if err != nil {
		t.Fatalf("ProposePlan() error = %v", err)
	}
	return prop
}

func TestService_ProposePlan(t *testing.T) {
	svc, ctx := newService(t)
	prop := proposeExample(t, svc, ctx)

	if prop.Plan.ID == "" {
		t.Fatal("plan has no id")
	}
	if prop.FitnessSource != string(coach.FitnessFromHistory) {
		t.Errorf("FitnessSource = %q, want %q", prop.FitnessSource, coach.FitnessFromHistory)
	}
	if prop.Plan.Status != planner.StatusDraft || prop.Plan.Version != 1 {
		t.Errorf("plan status %s version %d, want draft version 1", prop.Plan.Status, prop.Plan.Version)
	}
	if got := len(prop.Plan.Days); got != 56 {
		t.Errorf("days = %d, want 56", got)
	}
	if prop.Projection.EventFitness == nil || !prop.Projection.EventFitness.Date.Equal(date("2025-03-03")) {
		t.Errorf("EventFitness = %+v, want a point on 2025-03-03", prop.Projection.EventFitness)
	}
	if !slices.Contains(prop.Warnings, "no pattern data, using generic defaults") {
		t.Errorf("warnings %q lack the missing pattern warning", prop.Warnings)
	}

	stored, err := svc.GetPlan(ctx, prop.Plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if diff := cmp.Diff(prop.Plan, stored); diff != "" {
		t.Errorf("stored plan mismatch (-proposed +stored):\n%s", diff)
	}
}

func TestService_ProposePlan_validation(t *testing.T) {
	svc, ctx := newService(t)
	req := examplePlanRequest()
	req.EventDate = ptr.Ref(date("2025-01-01"))

	_, err := svc.ProposePlan(ctx, req)
	if !errors.Is(err, planner.ErrValidation) {
		t.Errorf("ProposePlan() error = %v, want %v", err, planner.ErrValidation)
	}
}

func TestService_scope(t *testing.T) {
	svc, ctx := newService(t)

	if _, err := svc.ProposePlan(t.Context(), examplePlanRequest()); !errors.Is(err, coach.ErrNoAthlete) {
		t.Errorf("unscoped ProposePlan() error = %v, want %v", err, coach.ErrNoAthlete)
	}
	unknown := contexthelpers.WithAthleteID(ctx, "nobody")
	if _, err := svc.RecommendWorkout(unknown, date("2025-01-06")); !errors.Is(err, coach.ErrNotFound) {
		t.Errorf("unknown athlete RecommendWorkout() error = %v, want %v", err, coach.ErrNotFound)
	}
}

func TestService_planLifecycle(t *testing.T) {
	svc, ctx := newService(t)
	first := proposeExample(t, svc, ctx)
	second, err := svc.ProposePlan(ctx, examplePlanRequest())
	if err != nil {
		t.Fatalf("ProposePlan() error = %v", err)
	}

	if _, err = svc.ActivePlan(ctx); !errors.Is(err, coach.ErrNotFound) {
		t.Errorf("ActivePlan() before activation error = %v, want %v", err, coach.ErrNotFound)
	}
	if err = svc.ActivatePlan(ctx, first.Plan.ID); err != nil {
		t.Fatalf("ActivatePlan(first) error = %v", err)
	}
	if err = svc.SetPlanStatus(ctx, second.Plan.ID, planner.StatusActive); err != nil {
		t.Fatalf("SetPlanStatus(second, active) error = %v", err)
	}

	active, err := svc.ActivePlan(ctx)
	if err != nil {
		t.Fatalf("ActivePlan() error = %v", err)
	}
	if active.ID != second.Plan.ID {
		t.Errorf("active plan = %s, want %s", active.ID, second.Plan.ID)
	}
	abandoned, err := svc.GetPlan(ctx, first.Plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if abandoned.Status != planner.StatusAbandoned {
		t.Errorf("first plan status = %s, want %s", abandoned.Status, planner.StatusAbandoned)
	}

	tests := []struct {
		name   string
		id     string
		status planner.Status
		want   error
	}{
		{name: "abandoned cannot be reactivated", id: first.Plan.ID, status: planner.StatusActive,
			want: coach.ErrInvalidTransition},
		{name: "active cannot go back to draft", id: second.Plan.ID, status: planner.StatusDraft,
			want: coach.ErrInvalidTransition},
		{name: "unknown plan", id: "missing", status: planner.StatusAbandoned, want: coach.ErrNotFound},
		{name: "active completes", id: second.Plan.ID, status: planner.StatusCompleted, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SetPlanStatus(ctx, tt.id, tt.status)
			if !errors.Is(err, tt.want) {
				t.Errorf("SetPlanStatus() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err = svc.ActivePlan(ctx); !errors.Is(err, coach.ErrNotFound) {
		t.Errorf("ActivePlan() after completion error = %v, want %v", err, coach.ErrNotFound)
	}
}

func TestService_ModifyPlan(t *testing.T) {
	svc, ctx := newService(t)
	prop := proposeExample(t, svc, ctx)
	if err := svc.ActivatePlan(ctx, prop.Plan.ID); err != nil {
		t.Fatalf("ActivatePlan() error = %v", err)
	}
	_, err := svc.RecordOutcome(ctx, coach.OutcomeInput{
		Date:                  date("2025-01-07"),
		Category:              workout.CategoryEndurance,
		PlannedTSS:            60,
		ActualTSS:             70,
		Completed:             true,
		Skipped:               false,
		RPE:                   5,
		ActualDurationMinutes: ptr.Ref(95),
	})
	if err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}

	mod := coach.Modification{ExpectedVersion: 1, WeeklyHours: ptr.Ref(10.0)}
	modified, err := svc.ModifyPlan(ctx, prop.Plan.ID, mod)
	if err != nil {
		t.Fatalf("ModifyPlan() error = %v", err)
	}
	if modified.Plan.ID != prop.Plan.ID || modified.Plan.Version != 2 {
		t.Errorf("modified plan %s version %d, want %s version 2", modified.Plan.ID, modified.Plan.Version,
			prop.Plan.ID)
	}
	if modified.Plan.Status != planner.StatusActive {
		t.Errorf("modified plan status = %s, want %s", modified.Plan.Status, planner.StatusActive)
	}
	if modified.Plan.WeeklyHoursTarget != 10 {
		t.Errorf("WeeklyHoursTarget = %v, want 10", modified.Plan.WeeklyHoursTarget)
	}

	stored, err := svc.GetPlan(ctx, prop.Plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if diff := cmp.Diff(modified.Plan, stored); diff != "" {
		t.Errorf("stored plan mismatch (-modified +stored):\n%s", diff)
	}
	for _, d := range stored.Days {
		if !d.Date.Equal(date("2025-01-07")) {
			continue
		}
		if !d.Completed || d.ActualTSS == nil || *d.ActualTSS != 70 || d.ActualDurationMinutes == nil {
			t.Errorf("completion did not carry over: %+v", d)
		}
	}

	t.Run("stale version", func(t *testing.T) {
		_, err := svc.ModifyPlan(ctx, prop.Plan.ID, mod)
		if !errors.Is(err, coach.ErrVersionConflict) {
			t.Errorf("ModifyPlan() error = %v, want %v", err, coach.ErrVersionConflict)
		}
	})

	t.Run("identical modification is deterministic", func(t *testing.T) {
		again, err := svc.ModifyPlan(ctx, prop.Plan.ID, coach.Modification{ExpectedVersion: 2,
			WeeklyHours: ptr.Ref(10.0)})
		if err != nil {
			t.Fatalf("ModifyPlan() error = %v", err)
		}
		if diff := cmp.Diff(modified.WeekSummaries, again.WeekSummaries); diff != "" {
			t.Errorf("week summaries differ (-first +second):\n%s", diff)
		}
		if again.Plan.Version != 3 {
			t.Errorf("Version = %d, want 3", again.Plan.Version)
		}
	})
}

func TestService_RecommendWorkout(t *testing.T) {
	t.Run("without plan or history", func(t *testing.T) {
		svc, ctx := newService(t)
		rec, err := svc.RecommendWorkout(ctx, date("2025-01-06"))
		if err != nil {
			t.Fatalf("RecommendWorkout() error = %v", err)
		}
		if rec.Workout == nil {
			t.Fatalf("no workout, warnings %q", rec.Warnings)
		}
		if rec.FitnessSource != coach.FitnessDefault {
			t.Errorf("FitnessSource = %q, want %q", rec.FitnessSource, coach.FitnessDefault)
		}
		if rec.Context.Phase != workout.PhaseMaintenance {
			t.Errorf("Phase = %q, want %q", rec.Context.Phase, workout.PhaseMaintenance)
		}
		if !workout.PhaseMaintenance.Allows(rec.Workout.Category) {
			t.Errorf("category %s is not allowed in maintenance", rec.Workout.Category)
		}
		want := []string{
			"no pattern data, using generic defaults",
			"no training history, starting from zero fitness",
			"no active plan covers the day, assuming the maintenance phase",
		}
		for _, w := range want {
			if !slices.Contains(rec.Warnings, w) {
				t.Errorf("warnings %q lack %q", rec.Warnings, w)
			}
		}
	})

	t.Run("follows the active plan", func(t *testing.T) {
		svc, ctx := newService(t)
		prop := proposeExample(t, svc, ctx)
		if err := svc.ActivatePlan(ctx, prop.Plan.ID); err != nil {
			t.Fatalf("ActivatePlan() error = %v", err)
		}
		var rest, training *planner.PlanDay
		for i := range prop.Plan.Days {
			d := &prop.Plan.Days[i]
			if d.IsEvent {
				continue
			}
			if d.IsRest() && rest == nil {
				rest = d
			}
			if !d.IsRest() && training == nil {
				training = d
			}
		}
		if rest == nil || training == nil {
			t.Fatal("plan needs a rest and a training day")
		}

		rec, err := svc.RecommendWorkout(ctx, training.Date)
		if err != nil {
			t.Fatalf("RecommendWorkout() error = %v", err)
		}
		if rec.Context.Phase != training.Phase {
			t.Errorf("Phase = %q, want %q", rec.Context.Phase, training.Phase)
		}
		if rec.Workout == nil {
			t.Errorf("no workout on a training day, warnings %q", rec.Warnings)
		}
		if math.Abs(rec.Context.CurrentTSB-fitness.Round(rec.Context.CurrentCTL-rec.Context.CurrentATL, 2)) > 0.011 {
			t.Errorf("TSB %v does not match CTL %v - ATL %v", rec.Context.CurrentTSB, rec.Context.CurrentCTL,
				rec.Context.CurrentATL)
		}

		rec, err = svc.RecommendWorkout(ctx, rest.Date)
		if err != nil {
			t.Fatalf("RecommendWorkout() error = %v", err)
		}
		if rec.Workout != nil {
			t.Errorf("Workout = %s on a planned rest day", rec.Workout.ID)
		}
		if !slices.ContainsFunc(rec.Warnings, func(w string) bool { return strings.Contains(w, "schedules rest") }) {
			t.Errorf("warnings %q lack the rest day warning", rec.Warnings)
		}
	})
}

func TestService_CurrentFitness(t *testing.T) {
	svc, ctx := newService(t)
	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-04"} {
		if err := svc.RecordDailyStress(ctx, fitness.DailyStress{Date: date(d), TSS: 100}); err != nil {
			t.Fatalf("RecordDailyStress() error = %v", err)
		}
	}

	got, source, err := svc.CurrentFitness(ctx, date("2025-01-04"))
	if err != nil {
		t.Fatalf("CurrentFitness() error = %v", err)
	}
	states, err := fitness.AdvanceN(fitness.State{Date: date("2024-12-31")}, []fitness.DailyStress{
		{Date: date("2025-01-01"), TSS: 100},
		{Date: date("2025-01-02"), TSS: 100},
		{Date: date("2025-01-03"), TSS: 0},
		{Date: date("2025-01-04"), TSS: 100},
	})
	if err != nil {
		t.Fatalf("AdvanceN() error = %v", err)
	}
	if diff := cmp.Diff(states[len(states)-1], got); diff != "" {
		t.Errorf("CurrentFitness() mismatch (-want +got):\n%s", diff)
	}
	if source != coach.FitnessFromHistory {
		t.Errorf("source = %q, want %q", source, coach.FitnessFromHistory)
	}

	t.Run("seed restarts the fold", func(t *testing.T) {
		seed := fitness.State{Date: date("2025-01-03"), CTL: 60, ATL: 40}
		if err := svc.SeedFitness(ctx, seed); err != nil {
			t.Fatalf("SeedFitness() error = %v", err)
		}
		got, _, err := svc.CurrentFitness(ctx, date("2025-01-04"))
		if err != nil {
			t.Fatalf("CurrentFitness() error = %v", err)
		}
		if diff := cmp.Diff(fitness.Advance(seed, 100), got); diff != "" {
			t.Errorf("CurrentFitness() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects negative stress", func(t *testing.T) {
		err := svc.RecordDailyStress(ctx, fitness.DailyStress{Date: date("2025-01-05"), TSS: -1})
		if !errors.Is(err, coach.ErrInvalidInput) || !errors.Is(err, fitness.ErrInvalidSeries) {
			t.Errorf("RecordDailyStress() error = %v, want invalid input", err)
		}
	})
}

func TestService_LogActivity(t *testing.T) {
	svc, ctx := newService(t)
	start := time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC)
	for range 2 {
		summary, err := svc.LogActivity(ctx, start, time.Hour, 0.8)
		if err != nil {
			t.Fatalf("LogActivity() error = %v", err)
		}
		if math.Abs(summary.TSS-64) > 1e-9 {
			t.Errorf("TSS = %v, want 64", summary.TSS)
		}
	}

	got, _, err := svc.CurrentFitness(ctx, date("2025-01-06"))
	if err != nil {
		t.Fatalf("CurrentFitness() error = %v", err)
	}
	want := fitness.Advance(fitness.State{Date: date("2025-01-05")}, 128)
	if math.Abs(got.CTL-want.CTL) > 1e-9 || math.Abs(got.ATL-want.ATL) > 1e-9 {
		t.Errorf("CurrentFitness() = %+v, want %+v", got, want)
	}

	if _, err = svc.LogActivity(ctx, start, 0, 0.8); !errors.Is(err, coach.ErrInvalidInput) {
		t.Errorf("LogActivity() without duration error = %v, want %v", err, coach.ErrInvalidInput)
	}
}

func TestService_RecordOutcome_validation(t *testing.T) {
	svc, ctx := newService(t)
	valid := coach.OutcomeInput{Date: date("2025-01-06"), Category: workout.CategoryTempo, Completed: true, RPE: 6}

	tests := []struct {
		name   string
		modify func(in *coach.OutcomeInput)
		want   error
	}{
		{name: "valid", modify: func(*coach.OutcomeInput) {}, want: nil},
		{name: "unknown category", modify: func(in *coach.OutcomeInput) { in.Category = "yoga" },
			want: coach.ErrInvalidInput},
		{name: "rpe too high", modify: func(in *coach.OutcomeInput) { in.RPE = 11 }, want: coach.ErrInvalidInput},
		{name: "completed and skipped", modify: func(in *coach.OutcomeInput) { in.Skipped = true },
			want: coach.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.modify(&in)
			_, err := svc.RecordOutcome(ctx, in)
			if !errors.Is(err, tt.want) {
				t.Errorf("RecordOutcome() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_RecomputePatterns(t *testing.T) {
	svc, ctx := newService(t)
	today := fitness.NormalizeDate(time.Now())
	record := func(daysAgo int) {
		t.Helper()
		_, err := svc.RecordOutcome(ctx, coach.OutcomeInput{
			Date:       today.AddDate(0, 0, -daysAgo),
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

	record(1)
	record(2)
	if _, err := svc.RecomputePatterns(ctx); !errors.Is(err, pattern.ErrInsufficientData) {
		t.Errorf("RecomputePatterns() error = %v, want %v", err, pattern.ErrInsufficientData)
	}
	if _, err := svc.Patterns(ctx); !errors.Is(err, coach.ErrNotFound) {
		t.Errorf("Patterns() error = %v, want %v", err, coach.ErrNotFound)
	}

	for d := 3; d <= 6; d++ {
		record(d)
	}
	if err := svc.RecomputeAllPatterns(t.Context()); err != nil {
		t.Fatalf("RecomputeAllPatterns() error = %v", err)
	}
	p, err := svc.Patterns(ctx)
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if p.DataPoints != 6 {
		t.Errorf("DataPoints = %d, want 6", p.DataPoints)
	}
	if p.Usable(engine.Standard().Pattern.MinConfidence) {
		t.Errorf("pattern from 6 sessions is usable with confidence %v", p.Confidence)
	}
}

func TestScheduler(t *testing.T) {
	svc, ctx := newService(t)

	if _, err := coach.NewScheduler(ctx, svc, coach.Schedule{Patterns: "not a spec", Optimize: "@hourly"}); err == nil {
		t.Error("NewScheduler() with an invalid spec succeeded")
	}

	for d := 1; d <= 6; d++ {
		_, err := svc.RecordOutcome(ctx, coach.OutcomeInput{
			Date:      fitness.NormalizeDate(time.Now()).AddDate(0, 0, -d),
			Category:  workout.CategorySweetSpot,
			Completed: true,
			RPE:       7,
		})
		if err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}
	s, err := coach.NewScheduler(t.Context(), svc, coach.DefaultSchedule())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.RunNow()

	p, err := svc.Patterns(ctx)
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if got := p.TypeSuccessRates[workout.CategorySweetSpot].Sessions; got != 6 {
		t.Errorf("sweetspot sessions = %d, want 6", got)
	}
}
