package planner

import (
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/projection"
	"github.com/myrjola/formcoach/internal/workout"
)

// Goal selects the phase layout of a plan.
type Goal string

// Goals.
const (
	GoalBaseBuild   Goal = "base_build"
	GoalFTPBuild    Goal = "ftp_build"
	GoalEventPrep   Goal = "event_prep"
	GoalTaper       Goal = "taper"
	GoalMaintenance Goal = "maintenance"
)

// ParseGoal parses s into a Goal.
func ParseGoal(s string) (Goal, error) {
	switch g := Goal(s); g {
	case GoalBaseBuild, GoalFTPBuild, GoalEventPrep, GoalTaper, GoalMaintenance:
		return g, nil
	}
	return "", fmt.Errorf("%w: goal %q", workout.ErrUnknown, s)
}

// Status is the lifecycle state of a plan.
type Status string

// Plan statuses.
const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
	StatusCompleted Status = "completed"
)

// CanTransition reports whether a plan may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive || next == StatusAbandoned
	case StatusActive:
		return next == StatusAbandoned || next == StatusCompleted
	case StatusAbandoned, StatusCompleted:
		return false
	}
	return false
}

// TrainingPlan is a periodized plan with every day materialized.
type TrainingPlan struct {
	ID                string         `json:"id"`
	AthleteID         string         `json:"athleteId"`
	Goal              Goal           `json:"goal"`
	Status            Status         `json:"status"`
	StartDate         time.Time      `json:"startDate"`
	EndDate           time.Time      `json:"endDate"`
	DurationWeeks     int            `json:"durationWeeks"`
	WeeklyHoursTarget float64        `json:"weeklyHoursTarget"`
	EventDate         *time.Time     `json:"eventDate,omitempty"`
	KeyWorkoutDays    []time.Weekday `json:"keyWorkoutDays,omitempty"`
	RestDays          []time.Weekday `json:"restDays,omitempty"`
	OverrideTaperRest bool           `json:"overrideTaperRest,omitempty"`
	StartFitness      fitness.State  `json:"startFitness"`
	Phases            []PhaseBlock   `json:"phases"`
	Days              []PlanDay      `json:"days"`
	// Version increases with every replacement of the days.
	Version int `json:"version"`
}

// PhaseBlock is a run of weeks in one phase. Weeks are numbered from 1 and the range is inclusive.
type PhaseBlock struct {
	Phase            workout.Phase `json:"phase"`
	StartWeek        int           `json:"startWeek"`
	EndWeek          int           `json:"endWeek"`
	FocusDescription string        `json:"focusDescription"`
	TargetWeeklyTSS  float64       `json:"targetWeeklyTSS"`
}

// PlanDay is one calendar day of a plan. Rest days have no workout.
type PlanDay struct {
	Date                  time.Time         `json:"date"`
	WeekNumber            int               `json:"weekNumber"`
	DayOfWeek             time.Weekday      `json:"dayOfWeek"`
	Phase                 workout.Phase     `json:"phase"`
	WorkoutTemplateRef    *string           `json:"workoutTemplateRef,omitempty"`
	Category              *workout.Category `json:"category,omitempty"`
	TargetTSS             *float64          `json:"targetTSS,omitempty"`
	TargetDurationMinutes *int              `json:"targetDurationMinutes,omitempty"`
	TargetIF              *float64          `json:"targetIF,omitempty"`
	IsKey                 bool              `json:"isKey,omitempty"`
	IsTaper               bool              `json:"isTaper,omitempty"`
	IsEvent               bool              `json:"isEvent,omitempty"`
	Completed             bool              `json:"completed"`
	Skipped               bool              `json:"skipped"`
	ActualTSS             *float64          `json:"actualTSS,omitempty"`
	ActualDurationMinutes *int              `json:"actualDurationMinutes,omitempty"`
}

// PlannedTSS returns the day's target stress, zero for rest days.
func (d PlanDay) PlannedTSS() float64 {
	if d.TargetTSS == nil {
		return 0
	}
	return *d.TargetTSS
}

// IsRest reports whether no workout is planned.
func (d PlanDay) IsRest() bool {
	return d.WorkoutTemplateRef == nil
}

// WeekSummary aggregates one plan week.
type WeekSummary struct {
	WeekNumber     int           `json:"weekNumber"`
	StartDate      time.Time     `json:"startDate"`
	Phase          workout.Phase `json:"phase"`
	TargetTSS      float64       `json:"targetTSS"`
	PlannedTSS     float64       `json:"plannedTSS"`
	PlannedMinutes int           `json:"plannedMinutes"`
	KeyWorkouts    int           `json:"keyWorkouts"`
	IsBackOff      bool          `json:"isBackOff,omitempty"`
	RampClamped    bool          `json:"rampClamped,omitempty"`
}

// Proposal is a generated plan with its preview.
type Proposal struct {
	Plan          TrainingPlan          `json:"plan"`
	WeekSummaries []WeekSummary         `json:"weekSummaries"`
	Projection    projection.Projection `json:"projection"`
	Warnings      []string              `json:"warnings"`
	// FitnessSource tells where the starting fitness came from, e.g. "history" or "default".
	FitnessSource string `json:"fitnessSource,omitempty"`
}
