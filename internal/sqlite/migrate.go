package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myrjola/formcoach/internal/errors"
)

// migrateTo brings the live schema in line with target.
//
// The migration is declarative: target is applied to a scratch in-memory database that is attached as
// schemaTarget, and the two sqlite_schema tables are diffed. Removed tables are dropped, new tables created and
// changed tables rebuilt following https://www.sqlite.org/lang_altertable.html#otheralter, keeping the columns
// both versions share. Indexes and triggers are then synchronised by name and definition.
func (db *Database) migrateTo(ctx context.Context, target string) error {
	start := time.Now()

	detach, err := db.attachTarget(ctx, target)
	if err != nil {
		return fmt.Errorf("attach target schema: %w", err)
	}
	defer detach()

	// Rebuilding a table drops it, which would cascade without this.
	if _, err = db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = ON"); fkErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to re-enable foreign keys", slog.Any("error", fkErr))
		}
	}()

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		m := migration{tx: tx, logger: db.logger}
		if err := m.tables(ctx); err != nil {
			return fmt.Errorf("migrate tables: %w", err)
		}
		for _, kind := range []string{"trigger", "index"} {
			if err := m.entities(ctx, kind); err != nil {
				return fmt.Errorf("migrate %s: %w", kind, err)
			}
		}
		rows, err := m.strings(ctx, `SELECT "table" FROM pragma_foreign_key_check`)
		if err != nil {
			return fmt.Errorf("foreign key check: %w", err)
		}
		if len(rows) > 0 {
			return fmt.Errorf("foreign key violations in %s", strings.Join(rows, ", "))
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.logger.LogAttrs(ctx, slog.LevelInfo, "migrated database", slog.Duration("duration", time.Since(start)))
	return nil
}

// attachTarget creates the target schema in a scratch database and attaches it to the writer.
func (db *Database) attachTarget(ctx context.Context, target string) (func(), error) {
	name := fmt.Sprintf("file:%s?mode=memory&cache=shared", rand.Text())
	scratch, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, fmt.Errorf("open scratch database: %w", err)
	}
	// The shared cache keeps the in-memory database alive while the writer has it attached.
	defer func() {
		if closeErr := scratch.Close(); closeErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to close scratch database", slog.Any("error", closeErr))
		}
	}()
	if _, err = scratch.ExecContext(ctx, target); err != nil {
		return nil, fmt.Errorf("apply target schema: %w", err)
	}
	if _, err = db.ReadWrite.ExecContext(ctx, "ATTACH DATABASE ? AS schemaTarget", name); err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	return func() {
		if _, detachErr := db.ReadWrite.ExecContext(ctx, "DETACH DATABASE schemaTarget"); detachErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to detach target schema", slog.Any("error", detachErr))
		}
	}, nil
}

// migration runs the schema diff inside one transaction.
type migration struct {
	tx     *sql.Tx
	logger *slog.Logger
}

type entity struct {
	name    string
	liveSQL string
	newSQL  string
}

const (
	// userEntities filters out SQLite's own entries and those of replication tools.
	userEntities = "name NOT LIKE 'sqlite_%' AND name NOT LIKE '_litestream_%'"

	removedQuery = `SELECT name FROM main.sqlite_schema
WHERE type = :kind AND ` + userEntities + `
  AND name NOT IN (SELECT name FROM schemaTarget.sqlite_schema WHERE type = :kind)`

	addedQuery = `SELECT sql FROM schemaTarget.sqlite_schema
WHERE type = :kind AND ` + userEntities + ` AND sql IS NOT NULL
  AND name NOT IN (SELECT name FROM main.sqlite_schema WHERE type = :kind)`

	// Renaming a table quotes its name in the stored SQL, so quotes are ignored in the comparison.
	changedQuery = `SELECT live.name, live.sql, target.sql
FROM main.sqlite_schema AS live
JOIN schemaTarget.sqlite_schema AS target ON target.name = live.name AND target.type = live.type
WHERE live.type = :kind AND live.name NOT LIKE 'sqlite_%' AND live.name NOT LIKE '_litestream_%'
  AND REPLACE(live.sql, '"', '') <> REPLACE(target.sql, '"', '')`
)

func (m migration) tables(ctx context.Context) error {
	kind := sql.Named("kind", "table")

	removed, err := m.strings(ctx, removedQuery, kind)
	if err != nil {
		return fmt.Errorf("query removed tables: %w", err)
	}
	for _, name := range removed {
		if err = m.exec(ctx, "dropping table", fmt.Sprintf("DROP TABLE %q", name)); err != nil {
			return err
		}
	}

	added, err := m.strings(ctx, addedQuery, kind)
	if err != nil {
		return fmt.Errorf("query added tables: %w", err)
	}
	for _, stmt := range added {
		if err = m.exec(ctx, "creating table", stmt); err != nil {
			return err
		}
	}

	changed, err := m.changed(ctx, kind)
	if err != nil {
		return fmt.Errorf("query changed tables: %w", err)
	}
	for _, t := range changed {
		if err = m.rebuild(ctx, t); err != nil {
			return fmt.Errorf("rebuild %s: %w", t.name, err)
		}
	}
	return nil
}

// rebuild recreates table t with its new definition and copies the shared columns.
func (m migration) rebuild(ctx context.Context, t entity) error {
	temp := t.name + "_migration_temp"
	if err := m.exec(ctx, "creating rebuilt table", strings.Replace(t.newSQL, t.name, temp, 1)); err != nil {
		return err
	}
	shared, err := m.strings(ctx, `SELECT '"' || target.name || '"'
FROM pragma_table_info(:table) AS live
JOIN pragma_table_info(:table, 'schemaTarget') AS target ON target.name = live.name`, sql.Named("table", t.name))
	if err != nil {
		return fmt.Errorf("query shared columns: %w", err)
	}
	columns := strings.Join(shared, ", ")
	steps := []string{
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", temp, columns, columns, t.name),
		fmt.Sprintf("DROP TABLE %s", t.name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", temp, t.name),
	}
	for _, stmt := range steps {
		if err = m.exec(ctx, "rebuilding table", stmt); err != nil {
			return err
		}
	}
	return nil
}

// entities synchronises indexes or triggers. Changed ones are dropped and recreated.
func (m migration) entities(ctx context.Context, kind string) error {
	named := sql.Named("kind", kind)
	keyword := strings.ToUpper(kind)

	removed, err := m.strings(ctx, removedQuery, named)
	if err != nil {
		return fmt.Errorf("query removed: %w", err)
	}
	for _, name := range removed {
		if err = m.exec(ctx, "dropping "+kind, fmt.Sprintf("DROP %s IF EXISTS %q", keyword, name)); err != nil {
			return err
		}
	}

	changed, err := m.changed(ctx, named)
	if err != nil {
		return fmt.Errorf("query changed: %w", err)
	}
	for _, e := range changed {
		if err = m.exec(ctx, "dropping changed "+kind, fmt.Sprintf("DROP %s %q", keyword, e.name)); err != nil {
			return err
		}
		if err = m.exec(ctx, "creating changed "+kind, e.newSQL); err != nil {
			return err
		}
	}

	// Rebuilt tables lose their indexes and triggers, so the added set is computed last.
	added, err := m.strings(ctx, addedQuery, named)
	if err != nil {
		return fmt.Errorf("query added: %w", err)
	}
	for _, stmt := range added {
		if err = m.exec(ctx, "creating "+kind, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m migration) exec(ctx context.Context, msg, stmt string) error {
	m.logger.LogAttrs(ctx, slog.LevelInfo, msg, slog.String("query", stmt))
	if _, err := m.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

func (m migration) changed(ctx context.Context, args ...any) (_ []entity, err error) {
	rows, err := m.tx.QueryContext(ctx, changedQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var out []entity
	for rows.Next() {
		var e entity
		if err = rows.Scan(&e.name, &e.liveSQL, &e.newSQL); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		m.logger.LogAttrs(ctx, slog.LevelInfo, "schema changed", slog.String("name", e.name),
			slog.String("liveSQL", e.liveSQL), slog.String("newSQL", e.newSQL))
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// strings returns the single column result of query.
func (m migration) strings(ctx context.Context, query string, args ...any) (_ []string, err error) {
	rows, err := m.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var out []string
	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
