// Package activity turns recorded rides into daily training stress.
//
// FIT files are decoded with github.com/tormoder/fit. Normalized power, intensity factor and TSS are computed
// from the 1 Hz power stream when the device did not record them in the session message.
package activity

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/tormoder/fit"
)

const (
	secondsPerHour = 3600.0
	// npWindow is the rolling average window of normalized power in seconds.
	npWindow = 30
	// maxGapFill bounds how many missing seconds are filled with the last power reading.
	maxGapFill = 30
)

// Source tells how an activity entered the system.
type Source string

const (
	SourceFIT    Source = "fit"
	SourceManual Source = "manual"
)

// FTPSource tells where the threshold power used for IF and TSS came from.
type FTPSource string

const (
	FTPSourceAthlete FTPSource = "athlete"
	FTPSourceDefault FTPSource = "default"
)

// Athlete carries the physiology used to scale an activity. Zero values fall back to the engine defaults.
type Athlete struct {
	FTPWatts float64
	WeightKg float64
}

// Summary is the analysed activity.
type Summary struct {
	Source          Source    `json:"source"`
	Start           time.Time `json:"start"`
	DurationSeconds float64   `json:"durationSeconds"`
	DistanceMeters  float64   `json:"distanceMeters"`
	AvgPower        float64   `json:"avgPower"`
	NormalizedPower float64   `json:"normalizedPower"`
	IntensityFactor float64   `json:"intensityFactor"`
	TSS             float64   `json:"tss"`
	Kilojoules      float64   `json:"kilojoules"`
	AvgHeartRate    float64   `json:"avgHeartRate"`
	WattsPerKg      float64   `json:"wattsPerKg"`
	FTPWatts        float64   `json:"ftpWatts"`
	FTPSource       FTPSource `json:"ftpSource"`
}

// Date is the calendar day the activity counts towards.
func (s Summary) Date() time.Time {
	return fitness.NormalizeDate(s.Start)
}

// AnalyzeFile decodes the FIT activity at path.
func AnalyzeFile(path string, athlete Athlete, d engine.Defaults) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read only.

	return Analyze(f, athlete, d)
}

// Analyze decodes a FIT activity from r.
func Analyze(r io.Reader, athlete Athlete, d engine.Defaults) (Summary, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return Summary{}, fmt.Errorf("decode FIT file: %w", err)
	}
	act, err := decoded.Activity()
	if err != nil {
		return Summary{}, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(act.Sessions) == 0 {
		return Summary{}, fmt.Errorf("activity file has no session message")
	}

	series := buildSeries(act.Records)
	session := act.Sessions[0]

	in := recording{
		start:           validTime(session.StartTime),
		durationSeconds: positive(session.GetTotalTimerTimeScaled()),
		distanceMeters:  positive(session.GetTotalDistanceScaled()),
		avgPower:        float64(validUint16(session.AvgPower)),
		normalizedPower: float64(validUint16(session.NormalizedPower)),
		kilojoules:      float64(validUint32(session.TotalWork)) / 1000, //nolint:mnd // joules per kJ.
		avgHeartRate:    float64(validUint8(session.AvgHeartRate)),
		power:           series.power,
	}
	if in.start.IsZero() {
		in.start = series.start
	}
	if in.durationSeconds == 0 {
		in.durationSeconds = series.durationSeconds
	}
	if in.avgHeartRate == 0 {
		in.avgHeartRate = average(series.heartRate)
	}
	if in.start.IsZero() {
		return Summary{}, fmt.Errorf("activity file has no start time")
	}

	return summarize(in, athlete, d), nil
}

// Manual builds a summary for a ride logged without a file, from its duration and intensity factor.
func Manual(start time.Time, duration time.Duration, intensityFactor float64, athlete Athlete, d engine.Defaults) Summary {
	ftp, source := resolveFTP(athlete, d)
	s := Summary{
		Source:          SourceManual,
		Start:           start,
		DurationSeconds: duration.Seconds(),
		IntensityFactor: positive(intensityFactor),
		FTPWatts:        ftp,
		FTPSource:       source,
	}
	s.NormalizedPower = s.IntensityFactor * ftp
	s.TSS = StressScore(s.DurationSeconds, s.IntensityFactor)
	return s
}

// recording is what a file yields before athlete scaling.
type recording struct {
	start           time.Time
	durationSeconds float64
	distanceMeters  float64
	avgPower        float64
	normalizedPower float64
	kilojoules      float64
	avgHeartRate    float64
	// power is the 1 Hz power stream.
	power []float64
}

func summarize(in recording, athlete Athlete, d engine.Defaults) Summary {
	ftp, source := resolveFTP(athlete, d)
	weight := athlete.WeightKg
	if weight <= 0 {
		weight = d.WeightKg
	}

	s := Summary{
		Source:          SourceFIT,
		Start:           in.start,
		DurationSeconds: in.durationSeconds,
		DistanceMeters:  in.distanceMeters,
		AvgPower:        in.avgPower,
		NormalizedPower: in.normalizedPower,
		Kilojoules:      in.kilojoules,
		AvgHeartRate:    in.avgHeartRate,
		FTPWatts:        ftp,
		FTPSource:       source,
	}
	if s.AvgPower == 0 {
		s.AvgPower = average(in.power)
	}
	if s.NormalizedPower == 0 {
		s.NormalizedPower = NormalizedPower(in.power)
	}
	if s.NormalizedPower == 0 {
		s.NormalizedPower = s.AvgPower
	}
	if s.Kilojoules == 0 {
		s.Kilojoules = s.AvgPower * s.DurationSeconds / 1000 //nolint:mnd // joules per kJ.
	}
	if weight > 0 {
		s.WattsPerKg = s.AvgPower / weight
	}
	s.IntensityFactor = s.NormalizedPower / ftp
	s.TSS = StressScore(s.DurationSeconds, s.IntensityFactor)
	return s
}

func resolveFTP(athlete Athlete, d engine.Defaults) (float64, FTPSource) {
	if athlete.FTPWatts > 0 {
		return athlete.FTPWatts, FTPSourceAthlete
	}
	return d.FTPWatts, FTPSourceDefault
}

// StressScore is the training stress of a ride: hours times IF squared times 100.
func StressScore(durationSeconds, intensityFactor float64) float64 {
	if durationSeconds <= 0 || intensityFactor <= 0 {
		return 0
	}
	return durationSeconds / secondsPerHour * intensityFactor * intensityFactor * 100 //nolint:mnd // percent.
}

// NormalizedPower is the fourth-power mean of the 30 second rolling average of a 1 Hz power stream.
// Streams shorter than the window fall back to the plain average.
func NormalizedPower(power []float64) float64 {
	if len(power) == 0 {
		return 0
	}
	if len(power) < npWindow {
		return average(power)
	}

	sum := 0.0
	for _, p := range power[:npWindow] {
		sum += p
	}
	total := 0.0
	count := 0
	for i := npWindow - 1; i < len(power); i++ {
		if i >= npWindow {
			sum += power[i] - power[i-npWindow]
		}
		total += math.Pow(sum/npWindow, 4) //nolint:mnd // fourth power.
		count++
	}
	return math.Pow(total/float64(count), 0.25) //nolint:mnd // fourth root.
}

type series struct {
	start           time.Time
	durationSeconds float64
	power           []float64
	heartRate       []float64
}

// buildSeries orders the records by time and resamples power to 1 Hz, filling short dropouts with the last
// reading.
func buildSeries(records []*fit.RecordMsg) series {
	var s series
	rows := make([]*fit.RecordMsg, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			rows = append(rows, rec)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	var (
		end       time.Time
		lastTS    time.Time
		lastPower float64
		havePower bool
	)
	for _, rec := range rows {
		ts := validTime(rec.Timestamp)
		if !ts.IsZero() {
			if s.start.IsZero() {
				s.start = ts
			}
			end = ts
		}
		if rec.HeartRate != math.MaxUint8 {
			s.heartRate = append(s.heartRate, float64(rec.HeartRate))
		}
		if rec.Power == math.MaxUint16 {
			continue
		}
		power := float64(rec.Power)
		if havePower && !ts.IsZero() && !lastTS.IsZero() {
			missing := int(math.Round(ts.Sub(lastTS).Seconds())) - 1
			for i := 0; i < missing && i < maxGapFill; i++ {
				s.power = append(s.power, lastPower)
			}
		}
		s.power = append(s.power, power)
		lastPower = power
		havePower = true
		if !ts.IsZero() {
			lastTS = ts
		}
	}
	if end.After(s.start) {
		s.durationSeconds = end.Sub(s.start).Seconds()
	}
	return s
}

func validTime(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func validUint8(v uint8) uint8 {
	if v == math.MaxUint8 {
		return 0
	}
	return v
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}

func validUint32(v uint32) uint32 {
	if v == math.MaxUint32 {
		return 0
	}
	return v
}

func positive(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}

func average(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range vs {
		total += v
	}
	return total / float64(len(vs))
}
