package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/myrjola/formcoach/internal/errors"
)

const athletesTable = "athletes"

// scopedTable is a table whose rows belong to one athlete. filter selects them given the athlete id.
type scopedTable struct {
	name   string
	filter string
}

// ExportAthlete copies everything stored about athleteID into a standalone SQLite file in dir and returns its
// path. Tables the athlete's rows reference, such as the workout catalog, are copied whole so that the export
// keeps its foreign keys intact.
func (db *Database) ExportAthlete(ctx context.Context, athleteID, dir string) (_ string, err error) {
	path := filepath.Join(dir, fmt.Sprintf("athlete-%s.sqlite3", athleteID))

	conn, err := db.ReadOnly.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("get connection: %w", err)
	}
	defer func() {
		// The connection returns to the read-only pool.
		_, restoreErr := conn.ExecContext(ctx, "PRAGMA query_only = TRUE")
		err = errors.Join(err, restoreErr, conn.Close())
	}()
	if _, err = conn.ExecContext(ctx, "PRAGMA query_only = FALSE"); err != nil {
		return "", fmt.Errorf("leave query only mode: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if _, err = tx.ExecContext(ctx, "ATTACH DATABASE ? AS export", fmt.Sprintf("file:%s?mode=rwc", path)); err != nil {
		return "", fmt.Errorf("attach export database: %w", err)
	}
	scoped, referenced, err := discoverAthleteTables(ctx, tx)
	if err != nil {
		return "", err
	}
	for _, table := range referenced {
		if err = copyTable(ctx, tx, table, "", nil); err != nil {
			return "", err
		}
	}
	for _, table := range scoped {
		if err = copyTable(ctx, tx, table.name, table.filter, []any{athleteID}); err != nil {
			return "", err
		}
	}
	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit export: %w", err)
	}
	return path, nil
}

// discoverAthleteTables follows foreign keys from the athletes table outwards. It returns the athlete scoped
// tables in dependency order and the other tables they reference.
func discoverAthleteTables(ctx context.Context, tx *sql.Tx) ([]scopedTable, []string, error) {
	tables, err := queryColumn(ctx, tx, `SELECT name FROM sqlite_schema
WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("list tables: %w", err)
	}

	scoped := []scopedTable{{name: athletesTable, filter: "id = ?"}}
	known := map[string]string{athletesTable: "id = ?"}
	for changed := true; changed; {
		changed = false
		for _, t := range tables {
			if _, ok := known[t]; ok {
				continue
			}
			filter, found, err := athleteFilter(ctx, tx, t, known)
			if err != nil {
				return nil, nil, err
			}
			if found {
				known[t] = filter
				scoped = append(scoped, scopedTable{name: t, filter: filter})
				changed = true
			}
		}
	}

	var referenced []string
	for _, s := range scoped {
		refs, err := queryColumn(ctx, tx, `SELECT DISTINCT "table" FROM pragma_foreign_key_list(?)`, s.name)
		if err != nil {
			return nil, nil, fmt.Errorf("foreign keys of %s: %w", s.name, err)
		}
		for _, r := range refs {
			if _, ok := known[r]; !ok && !slices.Contains(referenced, r) {
				referenced = append(referenced, r)
			}
		}
	}
	return scoped, referenced, nil
}

// athleteFilter builds the WHERE clause that selects an athlete's rows of table. A direct reference to the
// athletes table wins over a reference through another scoped table.
func athleteFilter(ctx context.Context, tx *sql.Tx, table string, known map[string]string) (_ string, _ bool, err error) {
	rows, err := tx.QueryContext(ctx, `SELECT "table", "from", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return "", false, fmt.Errorf("foreign keys of %s: %w", table, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var indirect string
	for rows.Next() {
		var parent, from, to string
		if err = rows.Scan(&parent, &from, &to); err != nil {
			return "", false, fmt.Errorf("scan foreign key: %w", err)
		}
		if parent == athletesTable {
			return from + " = ?", true, nil
		}
		if parentFilter, ok := known[parent]; ok && indirect == "" {
			indirect = fmt.Sprintf("%s IN (SELECT %s FROM main.%s WHERE %s)", from, to, parent, parentFilter)
		}
	}
	if err = rows.Err(); err != nil {
		return "", false, fmt.Errorf("foreign key rows: %w", err)
	}
	return indirect, indirect != "", nil
}

func copyTable(ctx context.Context, tx *sql.Tx, table, filter string, args []any) error {
	var createSQL string
	if err := tx.QueryRowContext(ctx, `SELECT sql FROM main.sqlite_schema WHERE type = 'table' AND name = ?`,
		table).Scan(&createSQL); err != nil {
		return fmt.Errorf("schema of %s: %w", table, err)
	}
	createSQL = "CREATE TABLE export." + createSQL[len("CREATE TABLE "):]
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create export.%s: %w", table, err)
	}
	query := fmt.Sprintf("INSERT INTO export.%s SELECT * FROM main.%s", table, table)
	if filter != "" {
		query += " WHERE " + filter
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	return nil
}

func queryColumn(ctx context.Context, tx *sql.Tx, query string, args ...any) (_ []string, err error) {
	rows, err := tx.QueryContext(ctx, query, args...)
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
