package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/myrjola/formcoach/internal/coach"
	"github.com/myrjola/formcoach/internal/engine"
	"github.com/myrjola/formcoach/internal/envstruct"
	"github.com/myrjola/formcoach/internal/errors"
	"github.com/myrjola/formcoach/internal/logging"
	"github.com/myrjola/formcoach/internal/sqlite"
)

type config struct {
	// SqliteURL is the URL to the SQLite database. You can use ":memory:" for an ethereal in-memory database.
	SqliteURL string `env:"COACH_SQLITE_URL" envDefault:"./formcoach.sqlite3"`
	// LogFile switches logging from stderr to a rotated file.
	LogFile string `env:"COACH_LOG_FILE" envDefault:""`
	// LogLevel is debug, info, warn or error.
	LogLevel string `env:"COACH_LOG_LEVEL" envDefault:"info"`
	// DefaultsFile overrides the engine defaults, see engine.LoadDefaults.
	DefaultsFile string `env:"COACH_DEFAULTS_FILE" envDefault:""`
	// TracesDir enables execution traces of scheduled jobs that overrun their timeout.
	TracesDir string `env:"COACH_TRACES_DIR" envDefault:""`
	// FetchTimeout overrides the engine's fetch timeout when positive.
	FetchTimeout time.Duration `env:"COACH_FETCH_TIMEOUT" envDefault:"0s"`
}

const (
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logMaxAgeDays = 28
)

type application struct {
	logger  *slog.Logger
	db      *sqlite.Database
	service *coach.Service
	stdout  io.Writer
	stderr  io.Writer
	// tracesDir is empty when tracing is off.
	tracesDir string
}

func run(
	ctx context.Context,
	args []string,
	stdout, stderr io.Writer,
	lookupEnv func(string) (string, bool),
) error {
	var (
		cancel context.CancelFunc
		err    error
	)

	ctx, cancel = signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	var cfg config
	if err = envstruct.Populate(&cfg, lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	defaults, err := engine.LoadDefaults(cfg.DefaultsFile)
	if err != nil {
		return errors.Wrap(err, "load engine defaults", slog.String("file", cfg.DefaultsFile))
	}
	if cfg.FetchTimeout > 0 {
		defaults.FetchTimeout = cfg.FetchTimeout
	}

	if len(args) == 0 {
		usage(stderr)
		return errors.New("missing command")
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		usage(stderr)
		return errors.Wrap(errors.New("unknown command"), "parse arguments", slog.String("command", args[0]))
	}

	db, err := sqlite.NewDatabase(ctx, cfg.SqliteURL, logger)
	if err != nil {
		return errors.Wrap(err, "open db", slog.String("url", cfg.SqliteURL))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelError, "failed to close db", errors.SlogError(closeErr))
		}
	}()

	app := &application{
		logger:    logger,
		db:        db,
		service:   coach.NewService(db, logger, defaults),
		stdout:    stdout,
		stderr:    stderr,
		tracesDir: cfg.TracesDir,
	}
	if err = cmd.run(app, ctx, args[1:]); err != nil {
		return errors.Wrap(err, "run command", slog.String("command", cmd.name))
	}
	return nil
}

// newLogger logs JSON to stderr, or to a rotated file when one is configured.
func newLogger(cfg config, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogFile == "" {
		return logging.NewLogger(stderr, level), func() {}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    logMaxSizeMB,
		MaxAge:     logMaxAgeDays,
		MaxBackups: logMaxBackups,
		LocalTime:  false,
		Compress:   false,
	}
	return logging.NewLogger(rotator, level), func() { _ = rotator.Close() }, nil
}

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv); err != nil {
		logger := logging.NewLogger(os.Stderr, slog.LevelError)
		logger.LogAttrs(ctx, slog.LevelError, "coach failed", errors.SlogError(err))
		os.Exit(1)
	}
}
