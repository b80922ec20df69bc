package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Optimize runs PRAGMA optimize, see https://www.sqlite.org/pragma.html#pragma_optimize.
//
// The scheduler calls it periodically. The first call on a fresh connection analyzes every table.
func (db *Database) Optimize(ctx context.Context) error {
	start := time.Now()
	pragma := "PRAGMA optimize;"
	if !db.optimized.Swap(true) {
		pragma = "PRAGMA optimize = 0x10002;"
	}
	if _, err := db.ReadWrite.ExecContext(ctx, pragma); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "optimized database", slog.Duration("duration", time.Since(start)))
	return nil
}
