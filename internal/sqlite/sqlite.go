// Package sqlite owns the coach's SQLite database: connections, declarative schema migration, the seed workout
// catalog and maintenance.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/myrjola/formcoach/internal/errors"

	_ "embed"
)

//go:embed schema.sql
var schemaDefinition string

//go:embed fixtures.sql
var fixtures string

// Database holds a single writer connection and a pool of readers on the same file.
type Database struct {
	ReadWrite *sql.DB
	ReadOnly  *sql.DB
	logger    *slog.Logger
	optimized atomic.Bool
}

// NewDatabase connects to url, migrates the schema and seeds the workout catalog.
//
// The url is a path to the database file or ":memory:" for a private in-memory database.
func NewDatabase(ctx context.Context, url string, logger *slog.Logger) (*Database, error) {
	db, err := connect(ctx, url, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err = db.migrateTo(ctx, schemaDefinition); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), db.Close())
	}
	if _, err = db.ReadWrite.ExecContext(ctx, fixtures); err != nil {
		return nil, errors.Join(fmt.Errorf("apply fixtures: %w", err), db.Close())
	}
	return db, nil
}

//nolint:gochecknoglobals // the driver may only be registered once per process.
var once sync.Once

const optimizedDriver = "sqlite3optimized"

// connectionPragmas run on every new connection.
const connectionPragmas = "PRAGMA temp_store = memory;" +
	"PRAGMA mmap_size = 30000000000;"

func registerOptimizedDriver() {
	sql.Register(optimizedDriver, &sqlite3.SQLiteDriver{
		Extensions: nil,
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec(connectionPragmas, nil); err != nil {
				return fmt.Errorf("exec connection pragmas: %w", err)
			}
			return nil
		},
	})
}

// dsnOptions are shared by the reader and the writer. The underscore options are documented at
// https://pkg.go.dev/github.com/mattn/go-sqlite3#SQLiteDriver.Open.
//
//nolint:gochecknoglobals // constant option list.
var dsnOptions = []string{
	"_loc=UTC",
	"_defer_foreign_keys=1",
	"_journal_mode=wal",
	"_busy_timeout=5000",
	"_synchronous=normal",
	"_foreign_keys=on",
}

func dsn(path string, inMemory bool, mode string) string {
	opts := []string{"mode=" + mode}
	if mode == "ro" {
		opts = append(opts, "_txlock=deferred", "_query_only=true")
	} else {
		opts = append(opts, "_txlock=immediate")
	}
	opts = append(opts, dsnOptions...)
	if inMemory {
		// Shared cache lets the reader and the writer see the same in-memory database.
		opts[0] = "mode=memory"
		opts = append(opts, "cache=shared")
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(opts, "&"))
}

func connect(ctx context.Context, url string, logger *slog.Logger) (*Database, error) {
	inMemory := strings.Contains(url, ":memory:")
	if inMemory {
		// A random name keeps parallel tests apart.
		url = rand.Text()
	}
	once.Do(registerOptimizedDriver)

	writer, err := sql.Open(optimizedDriver, dsn(url, inMemory, "rwc"))
	if err != nil {
		return nil, fmt.Errorf("open read-write database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)
	writer.SetConnMaxIdleTime(time.Hour)
	// sql.DB is lazy, the ping creates the file and applies the options.
	if err = writer.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping read-write database: %w", err), writer.Close())
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "opened database", slog.String("url", url), slog.Bool("inMemory", inMemory))

	reader, err := sql.Open(optimizedDriver, dsn(url, inMemory, "ro"))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open read-only database: %w", err), writer.Close())
	}
	const maxReaders = 10
	reader.SetMaxOpenConns(maxReaders)
	reader.SetMaxIdleConns(maxReaders)
	reader.SetConnMaxLifetime(time.Hour)
	reader.SetConnMaxIdleTime(time.Hour)

	return &Database{ReadWrite: writer, ReadOnly: reader, logger: logger, optimized: atomic.Bool{}}, nil
}

// Close closes both connection pools.
func (db *Database) Close() error {
	return errors.Join(db.ReadOnly.Close(), db.ReadWrite.Close())
}

// WithTx runs fn in a write transaction and commits when fn succeeds.
func (db *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
