package workout

import (
	"fmt"
	"slices"
)

// Phase is a periodization phase.
type Phase string

// Phases in the order a full plan passes through them.
const (
	PhaseBase        Phase = "base"
	PhaseBuild       Phase = "build"
	PhasePeak        Phase = "peak"
	PhaseTaper       Phase = "taper"
	PhaseMaintenance Phase = "maintenance"
)

//nolint:gochecknoglobals // enumeration.
var phases = []Phase{PhaseBase, PhaseBuild, PhasePeak, PhaseTaper, PhaseMaintenance}

// ParsePhase parses s into a Phase.
func ParsePhase(s string) (Phase, error) {
	for _, p := range phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: phase %q", ErrUnknown, s)
}

// PhaseProfile describes what a phase trains.
type PhaseProfile struct {
	// Allowed categories. Everything else is excluded from the phase.
	Allowed []Category
	// Key categories are canonical for the phase and fill the key workout days.
	Key []Category
	// Filler categories top up the weekly volume.
	Filler []Category
	// KeyWorkouts per week.
	KeyWorkouts int
	// LoadFactor scales the peak weekly stress budget.
	LoadFactor float64
	// KeyShare is the share of the weekly target given to each key workout.
	KeyShare float64
	Focus    string
}

// Profile returns the profile of p.
func (p Phase) Profile() PhaseProfile {
	switch p {
	case PhaseBase:
		return PhaseProfile{
			Allowed:     []Category{CategoryRecovery, CategoryEndurance, CategoryTempo, CategorySweetSpot},
			Key:         []Category{CategorySweetSpot, CategoryTempo},
			Filler:      []Category{CategoryEndurance, CategoryRecovery},
			KeyWorkouts: 1,
			LoadFactor:  0.8, //nolint:mnd // aerobic volume below peak load.
			KeyShare:    0.2, //nolint:mnd // one fifth of the week.
			Focus:       "aerobic endurance and muscular endurance",
		}
	case PhaseBuild:
		return PhaseProfile{
			Allowed: []Category{
				CategoryRecovery, CategoryEndurance, CategoryTempo, CategorySweetSpot, CategoryThreshold, CategoryVO2Max,
			},
			Key:         []Category{CategoryThreshold, CategoryVO2Max, CategorySweetSpot},
			Filler:      []Category{CategoryEndurance, CategoryRecovery},
			KeyWorkouts: 2,    //nolint:mnd // two quality days.
			LoadFactor:  0.95, //nolint:mnd // near peak load.
			KeyShare:    0.18, //nolint:mnd // per key workout.
			Focus:       "threshold power and VO2max",
		}
	case PhasePeak:
		return PhaseProfile{
			Allowed: []Category{
				CategoryRecovery, CategoryEndurance, CategoryThreshold, CategoryVO2Max, CategoryAnaerobic, CategorySprint,
			},
			Key:         []Category{CategoryVO2Max, CategoryAnaerobic, CategoryThreshold},
			Filler:      []Category{CategoryEndurance, CategoryRecovery},
			KeyWorkouts: 2, //nolint:mnd // two quality days.
			LoadFactor:  1,
			KeyShare:    0.18, //nolint:mnd // per key workout.
			Focus:       "race specific intensity",
		}
	case PhaseTaper:
		return PhaseProfile{
			Allowed: []Category{
				CategoryRecovery, CategoryEndurance, CategoryThreshold, CategoryVO2Max, CategorySprint,
			},
			Key:         []Category{CategoryVO2Max, CategorySprint, CategoryThreshold},
			Filler:      []Category{CategoryRecovery, CategoryEndurance},
			KeyWorkouts: 1,
			LoadFactor:  0.6, //nolint:mnd // reduced volume.
			KeyShare:    0.2, //nolint:mnd // short touch.
			Focus:       "shed fatigue while keeping short intensity touches",
		}
	case PhaseMaintenance:
		return PhaseProfile{
			Allowed: []Category{
				CategoryRecovery, CategoryEndurance, CategoryTempo, CategorySweetSpot, CategoryThreshold,
			},
			Key:         []Category{CategorySweetSpot, CategoryTempo},
			Filler:      []Category{CategoryEndurance, CategoryRecovery},
			KeyWorkouts: 1,
			LoadFactor:  0.7, //nolint:mnd // hold fitness.
			KeyShare:    0.2, //nolint:mnd // one fifth of the week.
			Focus:       "hold fitness with moderate load",
		}
	}
	return PhaseProfile{}
}

// Allows reports whether c may be trained in phase p.
func (p Phase) Allows(c Category) bool {
	return slices.Contains(p.Profile().Allowed, c)
}

// IsKey reports whether c is canonical for phase p.
func (p Phase) IsKey(c Category) bool {
	return slices.Contains(p.Profile().Key, c)
}
