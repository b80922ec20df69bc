package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/myrjola/formcoach/internal/coach"
	"github.com/myrjola/formcoach/internal/contexthelpers"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/export"
	"github.com/myrjola/formcoach/internal/fitness"
	"github.com/myrjola/formcoach/internal/flightrecorder"
	"github.com/myrjola/formcoach/internal/planner"
	"github.com/myrjola/formcoach/internal/ptr"
	"github.com/myrjola/formcoach/internal/workout"
)

const displayPlaces = 2

type command struct {
	name    string
	summary string
	run     func(app *application, ctx context.Context, args []string) error
}

//nolint:gochecknoglobals // command table.
var commands = []command{
	{"athlete", "create or update an athlete", (*application).athlete},
	{"athletes", "list athletes", (*application).athletes},
	{"stress", "record the total stress of a day", (*application).stress},
	{"seed", "store a known fitness state", (*application).seed},
	{"fitness", "show the fitness at the end of a day", (*application).fitness},
	{"plan", "propose a training plan", (*application).plan},
	{"modify", "regenerate a plan with changed inputs", (*application).modify},
	{"activate", "activate a plan", (*application).activate},
	{"status", "change the status of a plan", (*application).status},
	{"show", "show a plan, the active one by default", (*application).show},
	{"recommend", "recommend the workout of a day", (*application).recommend},
	{"import", "import a FIT file or log a ride by duration and intensity", (*application).importActivity},
	{"outcome", "record how a session went", (*application).outcome},
	{"analyze", "recompute the training pattern", (*application).analyze},
	{"export", "export a projection, plan or the athlete's database", (*application).export},
	{"schedule", "run the background jobs until interrupted", (*application).schedule},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: coach <command> [flags]\n\ncommands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
}

func (app *application) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(app.stderr)
	return fs
}

// scoped parses args and returns ctx scoped to the --athlete flag.
func (app *application) scoped(ctx context.Context, fs *pflag.FlagSet, args []string) (context.Context, error) {
	athleteID := fs.String("athlete", "", "athlete id")
	if err := fs.Parse(args); err != nil {
		return ctx, fmt.Errorf("parse flags: %w", err)
	}
	if *athleteID == "" {
		return ctx, errors.New("--athlete is required")
	}
	return contexthelpers.WithAthleteID(ctx, *athleteID), nil
}

func (app *application) print(v any) error {
	enc := json.NewEncoder(app.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func (app *application) athlete(ctx context.Context, args []string) error {
	fs := app.flagSet("athlete")
	id := fs.String("id", "", "athlete id")
	name := fs.String("name", "", "display name")
	ftp := fs.Float64("ftp", 0, "functional threshold power in watts")
	weight := fs.Float64("weight", 0, "body weight in kg")
	hours := fs.Float64("hours", 0, "weekly training hours")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	a := coach.Athlete{ID: *id, Name: *name, FTPWatts: *ftp, WeightKg: *weight, WeeklyHours: *hours,
		CreatedAt: time.Time{}}
	if err := app.service.SaveAthlete(ctx, a); err != nil {
		return err
	}
	return app.print(a)
}

func (app *application) athletes(ctx context.Context, _ []string) error {
	athletes, err := app.service.ListAthletes(ctx)
	if err != nil {
		return err
	}
	return app.print(athletes)
}

func (app *application) stress(ctx context.Context, args []string) error {
	fs := app.flagSet("stress")
	date := fs.String("date", "", "day as YYYY-MM-DD")
	tss := fs.Float64("tss", 0, "total training stress of the day")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	day, err := fitness.ParseDate(*date)
	if err != nil {
		return err
	}
	return app.service.RecordDailyStress(ctx, fitness.DailyStress{Date: day, TSS: *tss})
}

func (app *application) seed(ctx context.Context, args []string) error {
	fs := app.flagSet("seed")
	date := fs.String("date", "", "day of the known state as YYYY-MM-DD")
	ctl := fs.Float64("ctl", 0, "chronic training load")
	atl := fs.Float64("atl", 0, "acute training load")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	day, err := fitness.ParseDate(*date)
	if err != nil {
		return err
	}
	return app.service.SeedFitness(ctx, fitness.State{Date: day, CTL: *ctl, ATL: *atl})
}

func (app *application) fitness(ctx context.Context, args []string) error {
	fs := app.flagSet("fitness")
	date := fs.String("date", "", "day as YYYY-MM-DD, today by default")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	day, err := dateOrToday(*date)
	if err != nil {
		return err
	}
	state, source, err := app.service.CurrentFitness(ctx, day)
	if err != nil {
		return err
	}
	return app.print(struct {
		Fitness fitness.State       `json:"fitness"`
		TSB     float64             `json:"tsb"`
		Form    string              `json:"form"`
		Source  coach.FitnessSource `json:"source"`
	}{
		Fitness: state,
		TSB:     fitness.Round(state.TSB(), displayPlaces),
		Form:    fitness.FormDescription(state.TSB()),
		Source:  source,
	})
}

func (app *application) plan(ctx context.Context, args []string) error {
	fs := app.flagSet("plan")
	goal := fs.String("goal", string(planner.GoalBaseBuild), "base_build, ftp_build, event_prep, taper or maintenance")
	start := fs.String("start", "", "first day as YYYY-MM-DD")
	weeks := fs.Int("weeks", 0, "plan length in weeks")
	hours := fs.Float64("hours", 0, "weekly hours, the athlete's by default")
	event := fs.String("event", "", "event day as YYYY-MM-DD")
	keyDays := fs.StringSlice("key-days", nil, "weekdays for key workouts, e.g. tue,thu")
	restDays := fs.StringSlice("rest-days", nil, "weekdays without workouts")
	overrideTaper := fs.Bool("override-taper-rest", false, "allow training in the final days before the event")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}

	g, err := planner.ParseGoal(*goal)
	if err != nil {
		return err
	}
	startDate, err := fitness.ParseDate(*start)
	if err != nil {
		return err
	}
	eventDate, err := optionalDate(*event)
	if err != nil {
		return err
	}
	key, err := parseWeekdays(*keyDays)
	if err != nil {
		return err
	}
	rest, err := parseWeekdays(*restDays)
	if err != nil {
		return err
	}

	prop, err := app.service.ProposePlan(ctx, coach.PlanRequest{
		Goal:              g,
		StartDate:         startDate,
		DurationWeeks:     *weeks,
		WeeklyHours:       *hours,
		EventDate:         eventDate,
		KeyWorkoutDays:    key,
		RestDays:          rest,
		OverrideTaperRest: *overrideTaper,
	})
	if err != nil && !errors.Is(err, coach.ErrPersistence) {
		return err
	}
	return errors.Join(app.print(prop), err)
}

func (app *application) modify(ctx context.Context, args []string) error {
	fs := app.flagSet("modify")
	planID := fs.String("plan", "", "plan id")
	version := fs.Int("version", 0, "plan version the change is based on")
	hours := fs.Float64("hours", 0, "weekly hours")
	weeks := fs.Int("weeks", 0, "plan length in weeks")
	event := fs.String("event", "", "event day as YYYY-MM-DD")
	keyDays := fs.StringSlice("key-days", nil, "weekdays for key workouts")
	overrideTaper := fs.Bool("override-taper-rest", false, "allow training in the final days before the event")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}

	mod := coach.Modification{ExpectedVersion: *version}
	if fs.Changed("hours") {
		mod.WeeklyHours = hours
	}
	if fs.Changed("weeks") {
		mod.DurationWeeks = weeks
	}
	if fs.Changed("event") {
		if mod.EventDate, err = optionalDate(*event); err != nil {
			return err
		}
	}
	if fs.Changed("key-days") {
		if mod.KeyWorkoutDays, err = parseWeekdays(*keyDays); err != nil {
			return err
		}
	}
	if fs.Changed("override-taper-rest") {
		mod.OverrideTaperRest = overrideTaper
	}

	prop, err := app.service.ModifyPlan(ctx, *planID, mod)
	if err != nil {
		return err
	}
	return app.print(prop)
}

func (app *application) activate(ctx context.Context, args []string) error {
	fs := app.flagSet("activate")
	planID := fs.String("plan", "", "plan id")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	return app.service.ActivatePlan(ctx, *planID)
}

func (app *application) status(ctx context.Context, args []string) error {
	fs := app.flagSet("status")
	planID := fs.String("plan", "", "plan id")
	status := fs.String("status", "", "active, abandoned or completed")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	return app.service.SetPlanStatus(ctx, *planID, planner.Status(*status))
}

func (app *application) show(ctx context.Context, args []string) error {
	fs := app.flagSet("show")
	planID := fs.String("plan", "", "plan id, the active plan by default")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	plan, err := app.loadPlan(ctx, *planID)
	if err != nil {
		return err
	}
	return app.print(plan)
}

func (app *application) loadPlan(ctx context.Context, id string) (planner.TrainingPlan, error) {
	if id == "" {
		return app.service.ActivePlan(ctx)
	}
	return app.service.GetPlan(ctx, id)
}

func (app *application) recommend(ctx context.Context, args []string) error {
	fs := app.flagSet("recommend")
	date := fs.String("date", "", "day as YYYY-MM-DD, today by default")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	day, err := dateOrToday(*date)
	if err != nil {
		return err
	}
	rec, err := app.service.RecommendWorkout(ctx, day)
	if err != nil {
		return err
	}
	return app.print(rec)
}

func (app *application) importActivity(ctx context.Context, args []string) error {
	fs := app.flagSet("import")
	file := fs.String("file", "", "FIT file to import")
	start := fs.String("start", "", "start of a ride without a file, RFC 3339")
	duration := fs.Duration("duration", 0, "duration of a ride without a file")
	intensity := fs.Float64("if", 0, "intensity factor of a ride without a file")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}

	if *file != "" {
		summary, importErr := app.service.ImportActivity(ctx, *file)
		if importErr != nil {
			return importErr
		}
		return app.print(summary)
	}
	startTime, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse start: %w", err)
	}
	summary, err := app.service.LogActivity(ctx, startTime, *duration, *intensity)
	if err != nil {
		return err
	}
	return app.print(summary)
}

func (app *application) outcome(ctx context.Context, args []string) error {
	fs := app.flagSet("outcome")
	date := fs.String("date", "", "day as YYYY-MM-DD, today by default")
	category := fs.String("category", "", "workout category")
	planned := fs.Float64("planned-tss", 0, "planned stress")
	actual := fs.Float64("actual-tss", 0, "actual stress")
	completed := fs.Bool("completed", false, "the session was completed")
	skipped := fs.Bool("skipped", false, "the session was skipped")
	rpe := fs.Int("rpe", 0, "perceived exertion from 1 to 10")
	minutes := fs.Int("minutes", 0, "actual duration in minutes")
	ctx, err := app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}
	day, err := dateOrToday(*date)
	if err != nil {
		return err
	}
	in := coach.OutcomeInput{
		Date:                  day,
		Category:              workout.Category(*category),
		PlannedTSS:            *planned,
		ActualTSS:             *actual,
		Completed:             *completed,
		Skipped:               *skipped,
		RPE:                   *rpe,
		ActualDurationMinutes: nil,
	}
	if fs.Changed("minutes") {
		in.ActualDurationMinutes = ptr.Ref(*minutes)
	}
	o, err := app.service.RecordOutcome(ctx, in)
	if err != nil {
		return err
	}
	return app.print(o)
}

func (app *application) analyze(ctx context.Context, args []string) error {
	ctx, err := app.scoped(ctx, app.flagSet("analyze"), args)
	if err != nil {
		return err
	}
	p, err := app.service.RecomputePatterns(ctx)
	if err != nil {
		return err
	}
	return app.print(p)
}

func (app *application) export(ctx context.Context, args []string) (err error) {
	fs := app.flagSet("export")
	planID := fs.String("plan", "", "plan id, the active plan by default")
	what := fs.String("what", "projection", "projection, plan or sqlite")
	format := fs.String("format", string(export.FormatCSV), "csv or parquet")
	out := fs.String("out", "", "output file, stdout by default. A directory for sqlite")
	ctx, err = app.scoped(ctx, fs, args)
	if err != nil {
		return err
	}

	if *what == "sqlite" {
		dir := *out
		if dir == "" {
			dir = "."
		}
		path, exportErr := app.db.ExportAthlete(ctx, contexthelpers.AthleteID(ctx), dir)
		if exportErr != nil {
			return fmt.Errorf("export athlete database: %w", exportErr)
		}
		_, err = fmt.Fprintln(app.stdout, path)
		return err
	}

	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	plan, err := app.loadPlan(ctx, *planID)
	if err != nil {
		return err
	}
	w := app.stdout
	if *out != "" {
		file, createErr := os.Create(*out)
		if createErr != nil {
			return fmt.Errorf("create output: %w", createErr)
		}
		defer func() { err = errors.Join(err, file.Close()) }()
		w = file
	}

	switch *what {
	case "plan":
		return export.WritePlan(w, f, plan)
	case "projection":
		proj, projErr := app.service.ProjectPlan(ctx, plan.ID)
		if projErr != nil {
			return projErr
		}
		return export.WriteProjection(w, f, proj)
	}
	return fmt.Errorf("unknown export %q, expected projection, plan or sqlite", *what)
}

func (app *application) schedule(ctx context.Context, args []string) error {
	fs := app.flagSet("schedule")
	defaults := coach.DefaultSchedule()
	patterns := fs.String("patterns", defaults.Patterns, "cron spec of the pattern recompute")
	optimize := fs.String("optimize", defaults.Optimize, "cron spec of the database optimization")
	runNow := fs.Bool("now", false, "run every job once before waiting")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	s, err := coach.NewScheduler(ctx, app.service, coach.Schedule{Patterns: *patterns, Optimize: *optimize})
	if err != nil {
		return err
	}
	if app.tracesDir != "" {
		recorder, recErr := flightrecorder.New(flightrecorder.Config{
			Logger:    app.logger,
			MinAge:    0,
			MaxBytes:  0,
			Directory: app.tracesDir,
			Cooldown:  0,
		})
		if recErr != nil {
			return recErr
		}
		if recErr = recorder.Start(ctx); recErr != nil {
			return recErr
		}
		defer recorder.Stop(context.WithoutCancel(ctx))
		s.RecordTraces(recorder)
	}
	if *runNow {
		s.RunNow()
	}
	s.Start()
	app.logger.LogAttrs(ctx, slog.LevelInfo, "scheduler started", slog.String("patterns", *patterns),
		slog.String("optimize", *optimize))
	<-ctx.Done()
	s.Stop()
	app.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "scheduler stopped")
	return nil
}

func dateOrToday(s string) (time.Time, error) {
	if s == "" {
		return fitness.NormalizeDate(time.Now()), nil
	}
	return fitness.ParseDate(s)
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // no date given.
	}
	d, err := fitness.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseWeekdays parses three letter or full English weekday names.
func parseWeekdays(names []string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, name := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n := strings.ToLower(strings.TrimSpace(name)); n == full || n == full[:3] {
				days = append(days, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: weekday %q", workout.ErrUnknown, name)
		}
	}
	return days, nil
}
