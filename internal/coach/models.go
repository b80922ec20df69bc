package coach

import (
	"time"

	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/prescriber"
	"github.com/myrjola/formcoach/internal/workout"
)

var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.NewSentinel("not found")
	// ErrVersionConflict is returned when a plan changed since the caller read it.
	ErrVersionConflict = errors.NewSentinel("plan version conflict")
	// ErrInvalidTransition is returned for plan status changes the lifecycle does not allow.
	ErrInvalidTransition = errors.NewSentinel("invalid plan status transition")
	// ErrPersistence wraps storage failures that happen after a result was computed.
	ErrPersistence = errors.NewSentinel("persistence failed")
	// ErrNoAthlete is returned when the context is not scoped to an athlete.
	ErrNoAthlete = errors.NewSentinel("no athlete in context")
	// ErrInvalidInput is returned for rejected history entries.
	ErrInvalidInput = errors.NewSentinel("invalid input")
)

// FitnessSource tells where the fitness used for a decision came from.
type FitnessSource string

const (
	// FitnessFromHistory means the state was folded from stored stress.
	FitnessFromHistory FitnessSource = "history"
	// FitnessDefault means nothing was on record and the athlete starts from zero load.
	FitnessDefault FitnessSource = "default"
	// FitnessFromPlan means a regenerated plan kept the starting fitness stored with it.
	FitnessFromPlan FitnessSource = "plan"
)

// Athlete is a coached athlete. Zero physiology values are unknown and fall back to the engine defaults.
type Athlete struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FTPWatts    float64   `json:"ftpWatts,omitempty"`
	WeightKg    float64   `json:"weightKg,omitempty"`
	WeeklyHours float64   `json:"weeklyHours,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PlanRequest asks for a new plan proposal.
type PlanRequest struct {
	Goal          planner.Goal
	StartDate     time.Time
	DurationWeeks int
	// WeeklyHours of zero uses the athlete's weekly hours, then the engine default.
	WeeklyHours       float64
	EventDate         *time.Time
	KeyWorkoutDays    []time.Weekday
	RestDays          []time.Weekday
	OverrideTaperRest bool
}

// Modification changes the inputs of an existing plan. Nil fields keep the plan's value.
type Modification struct {
	// ExpectedVersion must match the stored plan version.
	ExpectedVersion   int
	WeeklyHours       *float64
	DurationWeeks     *int
	EventDate         *time.Time
	KeyWorkoutDays    []time.Weekday
	OverrideTaperRest *bool
}

// OutcomeInput reports how a session went.
type OutcomeInput struct {
	Date       time.Time
	Category   workout.Category
	PlannedTSS float64
	ActualTSS  float64
	Completed  bool
	Skipped    bool
	// RPE from 1 to 10, zero when not reported.
	RPE                   int
	ActualDurationMinutes *int
}

// Recommendation is the workout suggested for one day.
type Recommendation struct {
	// Workout is nil when nothing could be prescribed. Warnings tell why.
	Workout       *workout.Template     `json:"workout"`
	Context       RecommendationContext `json:"context"`
	Warnings      []string              `json:"warnings"`
	FitnessSource FitnessSource         `json:"fitnessSource"`
}

// RecommendationContext explains a recommendation.
type RecommendationContext struct {
	Date            string                 `json:"date"`
	Phase           workout.Phase          `json:"phase"`
	CurrentCTL      float64                `json:"currentCTL"`
	CurrentATL      float64                `json:"currentATL"`
	CurrentTSB      float64                `json:"currentTSB"`
	Form            string                 `json:"form"`
	ACWR            float64                `json:"acwr"`
	SelectedBecause []string               `json:"selectedBecause"`
	Alternatives    []prescriber.Candidate `json:"alternatives"`
}
