// Package workout defines the structured workout vocabulary shared by the planner and the prescriber:
// intensity categories, training phases and the immutable template catalog.
package workout

import (
	"fmt"

	"github.com/myrjola/formcoach/internal/errors"
)

// ErrUnknown is returned when parsing an unknown category, phase or goal.
var ErrUnknown = errors.NewSentinel("unknown value")

// Category is the intensity category of a workout.
type Category string

// Categories from easiest to hardest.
const (
	CategoryRecovery  Category = "recovery"
	CategoryEndurance Category = "endurance"
	CategoryTempo     Category = "tempo"
	CategorySweetSpot Category = "sweetspot"
	CategoryThreshold Category = "threshold"
	CategoryVO2Max    Category = "vo2max"
	CategoryAnaerobic Category = "anaerobic"
	CategorySprint    Category = "sprint"
)

// Categories lists every category from easiest to hardest.
//
//nolint:gochecknoglobals // enumeration.
var Categories = []Category{
	CategoryRecovery,
	CategoryEndurance,
	CategoryTempo,
	CategorySweetSpot,
	CategoryThreshold,
	CategoryVO2Max,
	CategoryAnaerobic,
	CategorySprint,
}

// ParseCategory parses s into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: category %q", ErrUnknown, s)
}

// IsHard reports whether the category counts as a hard day for recovery spacing.
func (c Category) IsHard() bool {
	switch c {
	case CategoryThreshold, CategoryVO2Max, CategoryAnaerobic, CategorySprint:
		return true
	case CategoryRecovery, CategoryEndurance, CategoryTempo, CategorySweetSpot:
		return false
	}
	return false
}

// IsDemanding reports whether the category needs freshness to be executed well.
func (c Category) IsDemanding() bool {
	return c != CategoryRecovery && c != CategoryEndurance && c != ""
}
