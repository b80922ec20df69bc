// Package export writes projections and plans as CSV or Parquet for analysis outside the coach.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/projection"
	"github.com/myrjola/formcoach/internal/ptr"
	"github.com/myrjola/formcoach/internal/workout"
)

// Format is an export file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

const (
	places          = 2
	parquetParallel = 4
)

// ParseFormat parses csv or parquet.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("%w: export format %q, expected csv or parquet", workout.ErrUnknown, s)
}

// PointRow is one projected day.
type PointRow struct {
	Date    string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TSS     float64 `parquet:"name=tss, type=DOUBLE"`
	CTL     float64 `parquet:"name=ctl, type=DOUBLE"`
	ATL     float64 `parquet:"name=atl, type=DOUBLE"`
	TSB     float64 `parquet:"name=tsb, type=DOUBLE"`
	Phase   string  `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	IsTaper bool    `parquet:"name=is_taper, type=BOOLEAN"`
	IsEvent bool    `parquet:"name=is_event, type=BOOLEAN"`
}

// DayRow is one plan day.
type DayRow struct {
	Date          string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Week          int32   `parquet:"name=week, type=INT32"`
	Phase         string  `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Workout       string  `parquet:"name=workout, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category      string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TargetTSS     float64 `parquet:"name=target_tss, type=DOUBLE"`
	TargetMinutes int32   `parquet:"name=target_minutes, type=INT32"`
	IsKey         bool    `parquet:"name=is_key, type=BOOLEAN"`
	Completed     bool    `parquet:"name=completed, type=BOOLEAN"`
	Skipped       bool    `parquet:"name=skipped, type=BOOLEAN"`
	ActualTSS     float64 `parquet:"name=actual_tss, type=DOUBLE"`
	ActualMinutes int32   `parquet:"name=actual_minutes, type=INT32"`
}

//nolint:gochecknoglobals // column order.
var (
	pointHeader = []string{"date", "tss", "ctl", "atl", "tsb", "phase", "is_taper", "is_event"}
	dayHeader   = []string{"date", "week", "phase", "workout", "category", "target_tss", "target_minutes", "is_key",
		"completed", "skipped", "actual_tss", "actual_minutes"}
)

// PointRows flattens the projected days. Loads are rounded for display.
func PointRows(proj projection.Projection) []PointRow {
	rows := make([]PointRow, 0, len(proj.Points))
	for _, p := range proj.Points {
		rows = append(rows, PointRow{
			Date:    fitness.FormatDate(p.Date),
			TSS:     fitness.Round(p.TSS, places),
			CTL:     fitness.Round(p.CTL, places),
			ATL:     fitness.Round(p.ATL, places),
			TSB:     fitness.Round(p.TSB, places),
			Phase:   string(p.Phase),
			IsTaper: p.IsTaper,
			IsEvent: p.IsEvent,
		})
	}
	return rows
}

// DayRows flattens the plan days. Rest days have an empty workout and zero targets.
func DayRows(plan planner.TrainingPlan) []DayRow {
	rows := make([]DayRow, 0, len(plan.Days))
	for _, d := range plan.Days {
		rows = append(rows, DayRow{
			Date:          fitness.FormatDate(d.Date),
			Week:          int32(d.WeekNumber), //nolint:gosec // plans are at most a year long.
			Phase:         string(d.Phase),
			Workout:       ptr.Or(d.WorkoutTemplateRef, ""),
			Category:      string(ptr.Or(d.Category, "")),
			TargetTSS:     d.PlannedTSS(),
			TargetMinutes: int32(ptr.Or(d.TargetDurationMinutes, 0)), //nolint:gosec // minutes of a day.
			IsKey:         d.IsKey,
			Completed:     d.Completed,
			Skipped:       d.Skipped,
			ActualTSS:     ptr.Or(d.ActualTSS, 0),
			ActualMinutes: int32(ptr.Or(d.ActualDurationMinutes, 0)), //nolint:gosec // minutes of a day.
		})
	}
	return rows
}

// WriteProjection writes the projected days to w.
func WriteProjection(w io.Writer, format Format, proj projection.Projection) error {
	rows := PointRows(proj)
	switch format {
	case FormatParquet:
		return writeParquet(w, rows)
	case FormatCSV:
	default:
		return fmt.Errorf("%w: export format %q", workout.ErrUnknown, format)
	}
	return writeCSV(w, pointHeader, rows, func(r PointRow) []string {
		return []string{r.Date, formatFloat(r.TSS), formatFloat(r.CTL), formatFloat(r.ATL), formatFloat(r.TSB),
			r.Phase, strconv.FormatBool(r.IsTaper), strconv.FormatBool(r.IsEvent)}
	})
}

// WritePlan writes the plan days to w.
func WritePlan(w io.Writer, format Format, plan planner.TrainingPlan) error {
	rows := DayRows(plan)
	switch format {
	case FormatParquet:
		return writeParquet(w, rows)
	case FormatCSV:
	default:
		return fmt.Errorf("%w: export format %q", workout.ErrUnknown, format)
	}
	return writeCSV(w, dayHeader, rows, func(r DayRow) []string {
		return []string{r.Date, strconv.Itoa(int(r.Week)), r.Phase, r.Workout, r.Category, formatFloat(r.TargetTSS),
			strconv.Itoa(int(r.TargetMinutes)), strconv.FormatBool(r.IsKey), strconv.FormatBool(r.Completed),
			strconv.FormatBool(r.Skipped), formatFloat(r.ActualTSS), strconv.Itoa(int(r.ActualMinutes))}
	})
}

func writeCSV[T any](w io.Writer, header []string, rows []T, record func(T) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(record(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// writeParquet buffers the file in memory since the footer is written last.
func writeParquet[T any](w io.Writer, rows []T) error {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(T), parquetParallel)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err = pw.Write(r); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	if err = fw.Close(); err != nil {
		return fmt.Errorf("close parquet buffer: %w", err)
	}
	if _, err = w.Write(fw.Bytes()); err != nil {
		return fmt.Errorf("write parquet file: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
