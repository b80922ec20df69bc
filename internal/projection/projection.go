// Package projection simulates the fitness model across planned daily stress.
package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/pattern"
	"github.com/myrjola/formcoach/internal/workout"
)

// PlannedDay is one day of planned stress.
type PlannedDay struct {
	Date  time.Time
	TSS   float64
	Phase workout.Phase
	Taper bool
}

// Options tag the projection.
type Options struct {
	// EventDate marks the event point. Nil means no event.
	EventDate *time.Time
	// OptimalTSB is the band the event form is compared with.
	OptimalTSB pattern.Band
}

// Point is the simulated state at the end of one day.
type Point struct {
	Date    time.Time
	CTL     float64
	ATL     float64
	TSB     float64
	TSS     float64
	Phase   workout.Phase
	IsEvent bool
	IsTaper bool
}

type pointJSON struct {
	Date    string        `json:"date"`
	CTL     float64       `json:"ctl"`
	ATL     float64       `json:"atl"`
	TSB     float64       `json:"tsb"`
	TSS     float64       `json:"tss"`
	Phase   workout.Phase `json:"phase,omitempty"`
	IsEvent bool          `json:"isEvent,omitempty"`
	IsTaper bool          `json:"isTaper,omitempty"`
}

const displayPlaces = 2

// MarshalJSON renders the point rounded for display.
func (p Point) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(pointJSON{
		Date:    fitness.FormatDate(p.Date),
		CTL:     fitness.Round(p.CTL, displayPlaces),
		ATL:     fitness.Round(p.ATL, displayPlaces),
		TSB:     fitness.Round(p.TSB, displayPlaces),
		TSS:     fitness.Round(p.TSS, displayPlaces),
		Phase:   p.Phase,
		IsEvent: p.IsEvent,
		IsTaper: p.IsTaper,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal point: %w", err)
	}
	return b, nil
}

// Projection is the simulated curve with its summary.
type Projection struct {
	Points       []Point       `json:"points"`
	StartFitness fitness.State `json:"startFitness"`
	EndFitness   fitness.State `json:"endFitness"`
	PeakCTL      float64       `json:"peakCTL"`
	PeakCTLDate  time.Time     `json:"-"`
	CTLGain      float64       `json:"ctlGain"`
	// EventFitness is nil when no event date falls inside the projected days.
	EventFitness *Point `json:"eventFitness,omitempty"`
	// EventInOptimalBand tells whether the event form lies in the optimal TSB band. Nil without an event.
	EventInOptimalBand *bool `json:"eventInOptimalBand,omitempty"`
}

type projectionJSON struct {
	Points             []Point       `json:"points"`
	StartFitness       fitness.State `json:"startFitness"`
	EndFitness         fitness.State `json:"endFitness"`
	PeakCTL            float64       `json:"peakCTL"`
	PeakCTLDate        string        `json:"peakCTLDate"`
	CTLGain            float64       `json:"ctlGain"`
	EventFitness       *Point        `json:"eventFitness,omitempty"`
	EventInOptimalBand *bool         `json:"eventInOptimalBand,omitempty"`
}

// MarshalJSON renders the summary rounded for display.
func (p Projection) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(projectionJSON{
		Points:             p.Points,
		StartFitness:       p.StartFitness,
		EndFitness:         p.EndFitness,
		PeakCTL:            fitness.Round(p.PeakCTL, displayPlaces),
		PeakCTLDate:        fitness.FormatDate(p.PeakCTLDate),
		CTLGain:            fitness.Round(p.CTLGain, displayPlaces),
		EventFitness:       p.EventFitness,
		EventInOptimalBand: p.EventInOptimalBand,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal projection: %w", err)
	}
	return b, nil
}

// Project folds the fitness model over days starting from start. Days must begin the day after start.Date and
// be contiguous with non-negative TSS.
//
// Project has no side effects; calling it repeatedly with the same input yields identical output.
func Project(start fitness.State, days []PlannedDay, opts Options) (Projection, error) {
	series := make([]fitness.DailyStress, len(days))
	for i, d := range days {
		series[i] = fitness.DailyStress{Date: d.Date, TSS: d.TSS}
	}
	states, err := fitness.AdvanceN(start, series)
	if err != nil {
		return Projection{}, fmt.Errorf("fold planned stress: %w", err)
	}

	var event time.Time
	if opts.EventDate != nil {
		event = fitness.NormalizeDate(*opts.EventDate)
	}

	proj := Projection{
		Points:       make([]Point, len(states)),
		StartFitness: start,
		EndFitness:   start,
		PeakCTL:      start.CTL,
		PeakCTLDate:  start.Date,
	}
	for i, s := range states {
		pt := Point{
			Date:    s.Date,
			CTL:     s.CTL,
			ATL:     s.ATL,
			TSB:     s.TSB(),
			TSS:     days[i].TSS,
			Phase:   days[i].Phase,
			IsTaper: days[i].Taper,
			IsEvent: !event.IsZero() && s.Date.Equal(event),
		}
		proj.Points[i] = pt
		if i == 0 || pt.CTL > proj.PeakCTL {
			proj.PeakCTL = pt.CTL
			proj.PeakCTLDate = pt.Date
		}
		if pt.IsEvent {
			eventPoint := pt
			proj.EventFitness = &eventPoint
			inBand := opts.OptimalTSB.Contains(pt.TSB)
			proj.EventInOptimalBand = &inBand
		}
	}
	if len(states) > 0 {
		proj.EndFitness = states[len(states)-1]
	}
	proj.CTLGain = proj.EndFitness.CTL - start.CTL
	return proj, nil
}
