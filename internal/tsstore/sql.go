package tsstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
)

// Drivers whose placeholders are $1, $2, ... instead of ?.
var dollarDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
}

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS variants (
		station INTEGER NOT NULL,
		grp     INTEGER NOT NULL,
		id      INTEGER NOT NULL,
		kind    TEXT NOT NULL,
		PRIMARY KEY (station, grp, id)
	)`,
	`CREATE TABLE IF NOT EXISTS points (
		station INTEGER NOT NULL,
		grp     INTEGER NOT NULL,
		variant INTEGER NOT NULL,
		ts      TEXT NOT NULL,
		value   DOUBLE PRECISION,
		flags   TEXT NOT NULL,
		PRIMARY KEY (station, grp, variant, ts)
	)`,
}

// SQL is a time series store in a SQL database (PostgreSQL through lib/pq
// or pgx, or SQLite).
type SQL struct {
	db     *sql.DB
	driver string
}

// NewSQL opens the database and creates its tables if needed.
func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	s, err := NewSQLFromDB(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLFromDB returns a store using an already opened database.
func NewSQLFromDB(ctx context.Context, db *sql.DB, driver string) (*SQL, error) {
	s := &SQL{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range sqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to create tables: %v", ErrStore, err)
		}
	}
	return nil
}

// rebind replaces the ? placeholders of a query with the placeholders of
// the store's driver.
func (s *SQL) rebind(query string) string {
	if !dollarDrivers[s.driver] {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteString("$" + strconv.Itoa(n))
	}
	return b.String()
}

// ListVariants implements Store.
func (s *SQL) ListVariants(ctx context.Context, station, group int) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT id, kind FROM variants WHERE station = ? AND grp = ? ORDER BY id"), station, group)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()
	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.Kind); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return variants, nil
}

// CreateVariant implements Store.
func (s *SQL) CreateVariant(ctx context.Context, station, group int, kind string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck
	var id int
	row := tx.QueryRowContext(ctx, s.rebind("SELECT COALESCE(MAX(id), 0) + 1 FROM variants WHERE station = ? AND grp = ?"), station, group)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO variants (station, grp, id, kind) VALUES (?, ?, ?, ?)"), station, group, id, kind); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	verbose("created %v time series %d/%d/%d", kind, station, group, id)
	return id, nil
}

// LatestTimestamp implements Store.
func (s *SQL) LatestTimestamp(ctx context.Context, station, group, variant int) (time.Time, error) {
	var latest sql.NullString
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT MAX(ts) FROM points WHERE station = ? AND grp = ? AND variant = ?"), station, group, variant)
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	t, err := parseISO(latest.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return t, nil
}

// PostNewData implements Store.  The points are inserted in one
// transaction.
func (s *SQL) PostNewData(ctx context.Context, station, group, variant int, series loggerstorage.Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck
	stmt, err := tx.PrepareContext(ctx, s.rebind("INSERT INTO points (station, grp, variant, ts, value, flags) VALUES (?, ?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer stmt.Close()
	for _, p := range series {
		value := sql.NullFloat64{Float64: p.Value, Valid: !math.IsNaN(p.Value)}
		if !value.Valid {
			value.Float64 = 0
		}
		if _, err := stmt.ExecContext(ctx, station, group, variant, isoformat(p.Timestamp), value, p.Flags); err != nil {
			return fmt.Errorf("%w: %v: %v", ErrStore, isoformat(p.Timestamp), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	verbose("posted %d points to %d/%d/%d", len(series), station, group, variant)
	return nil
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close() //nolint:wrapcheck
}
