package loggerstorage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

// The odbc format reads a database table through database/sql.  A query
// joins the configured date expression and data columns into one
// semicolon delimited string per row, which is then parsed like a line
// of the simple format.  Rows are read in descending id order so that
// reading stops at the watermark.

const (
	odbcDelimiter     = ";"
	defaultODBCDriver = "postgres"
)

// Drivers whose SQL dialect concatenates strings with || instead of +.
var pipeConcatDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
	"sqlite":   true,
	"sqlite3":  true,
}

type odbcFormat struct {
	*textFormat
	driver  string
	table   string
	dateSQL string
	columns []string
}

func init() {
	formats.register("odbc", factory{
		required: append([]string{"table", "date_sql", "data_columns"}, textRequired...),
		optional: append(append(append([]string{}, textOptional...), simpleOptional...), "decimal_separator", "driver"),
		create:   newODBC,
	})
}

func newODBC(s *settings) (format, error) {
	p, err := newSimple(s.cfg, odbcDelimiter)
	if err != nil {
		return nil, err
	}
	t, err := newTextFormat(s, p)
	if err != nil {
		return nil, err
	}
	t.decimal = s.cfg["decimal_separator"]
	o := &odbcFormat{
		textFormat: t,
		driver:     s.cfg["driver"],
		table:      s.cfg["table"],
		dateSQL:    s.cfg["date_sql"],
	}
	if o.driver == "" {
		o.driver = defaultODBCDriver
	}
	for _, c := range strings.Split(s.cfg["data_columns"], ",") {
		o.columns = append(o.columns, strings.TrimSpace(c))
	}
	return o, nil
}

// query returns the SQL statement that reads the table newest first.
func (o *odbcFormat) query() string {
	concat := " + "
	if pipeConcatDrivers[o.driver] {
		concat = " || "
	}
	parts := []string{o.dateSQL}
	for _, c := range o.columns {
		parts = append(parts, `'`+odbcDelimiter+`'`, `"`+c+`"`)
	}
	return fmt.Sprintf(`SELECT %v FROM "%v" ORDER BY -id`, strings.Join(parts, concat), o.table)
}

// Checking chronology concerns files only.
func (o *odbcFormat) checkChronology() error {
	return nil
}

func (o *odbcFormat) extractTail(ctx context.Context, after time.Time) ([]Record, error) {
	db, err := o.s.openDB(o.driver, o.s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: table %v: %v", ErrRead, o.table, err)
	}
	defer db.Close()
	q := o.query()
	verbose("%v", q)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: table %v: %v", ErrRead, o.table, err)
	}
	defer rows.Close()
	next := func() (string, error) {
		for rows.Next() {
			var line sql.NullString
			if err := rows.Scan(&line); err != nil {
				return "", err //nolint:wrapcheck
			}
			if !line.Valid {
				log.Printf("WARNING: table %v: skipping row with NULL date or values\n", o.table)
				continue
			}
			return line.String, nil
		}
		if err := rows.Err(); err != nil {
			return "", err //nolint:wrapcheck
		}
		return "", io.EOF
	}
	records, _, err := o.collect(ctx, o.s.path, next, after)
	return records, err
}
