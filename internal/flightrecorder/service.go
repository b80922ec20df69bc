// Package flightrecorder keeps a rolling execution trace in memory and writes it to disk when a background job
// overruns its deadline.
package flightrecorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/myrjola/formcoach/internal/errors"
)

const (
	defaultMinAge   = 5 * time.Minute
	defaultMaxBytes = 64 * 1024 * 1024
	defaultCooldown = 30 * time.Minute
	dirPerm         = 0o750
)

// ErrCooldown is returned by Capture when a trace was written less than the cooldown ago.
var ErrCooldown = errors.NewSentinel("trace capture cooling down")

// Service manages the flight recorder.
type Service struct {
	logger         *slog.Logger
	flightRecorder *trace.FlightRecorder
	directory      string
	cooldown       time.Duration
	// lastCapture is the Unix nano timestamp of the last capture.
	lastCapture atomic.Int64
}

// Config configures the flight recorder. Zero values select the defaults.
type Config struct {
	Logger *slog.Logger
	// MinAge is the minimum age of the trace events kept in memory.
	MinAge   time.Duration
	MaxBytes uint64
	// Directory receives the trace files. It is created when missing.
	Directory string
	// Cooldown is the minimum time between two captures.
	Cooldown time.Duration
}

// New creates a new flight recorder service.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Directory == "" {
		return nil, errors.New("traces directory is required")
	}
	if err := os.MkdirAll(cfg.Directory, dirPerm); err != nil {
		return nil, fmt.Errorf("create traces directory: %w", err)
	}

	minAge := cfg.MinAge
	if minAge == 0 {
		minAge = defaultMinAge
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}

	return &Service{
		logger:         cfg.Logger,
		flightRecorder: trace.NewFlightRecorder(trace.FlightRecorderConfig{MinAge: minAge, MaxBytes: maxBytes}),
		directory:      cfg.Directory,
		cooldown:       cooldown,
		lastCapture:    atomic.Int64{},
	}, nil
}

// Start begins flight recording.
func (s *Service) Start(ctx context.Context) error {
	if err := s.flightRecorder.Start(); err != nil {
		return fmt.Errorf("start flight recorder: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder started", slog.String("directory", s.directory),
		slog.Duration("cooldown", s.cooldown))
	return nil
}

// Stop ends flight recording.
func (s *Service) Stop(ctx context.Context) {
	s.flightRecorder.Stop()
	s.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder stopped")
}

// Capture writes the recorded trace to <reason>-<timestamp>.trace and returns its path. Captures within the
// cooldown of the previous one return ErrCooldown.
func (s *Service) Capture(ctx context.Context, reason string) (_ string, err error) {
	now := time.Now()
	last := s.lastCapture.Load()
	if last > 0 && now.Sub(time.Unix(0, last)) < s.cooldown {
		return "", ErrCooldown
	}
	if !s.lastCapture.CompareAndSwap(last, now.UnixNano()) {
		return "", ErrCooldown
	}

	path := filepath.Join(s.directory, fmt.Sprintf("%s-%s.trace", reason, now.UTC().Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	n, err := s.flightRecorder.WriteTo(file)
	if err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "captured trace", slog.String("file", path), slog.Int64("bytes", n))
	return path, nil
}
