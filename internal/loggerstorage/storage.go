// Package loggerstorage reads the storages of meteorological data
// loggers (text files, sets of text files, binary archives and database
// tables) and extracts the records that are newer than a watermark as
// per-variable time series.
//
// A Storage is created from the parameters of one configuration section
// (see Config).  Its RecentData() method returns the series of one
// variable after a given timestamp.  Because every format produces all
// variables of a record from a single parse, a Storage extracts all its
// variables at once and caches the result; subsequent calls for other
// variables at the same or a later watermark are served from the cache.
//
// Timestamps are naive: they are the wall clock readings of the
// storage's time zone with any daylight saving time removed, returned
// as time.Time values in the UTC location.  Watermarks passed to
// RecentData() are interpreted the same way.
//
// A Storage is not safe for concurrent use.
package loggerstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/m-lab/loggertodb/internal/dst"
)

// Record is a single raw measurement event.  Text formats set Line,
// binary formats set Values.
type Record struct {
	Timestamp time.Time
	Line      string
	Values    map[string]float64
}

// Point is a single value of a variable.  A NaN value means the logger
// explicitly recorded a missing value.  Flags holds logger warnings.
type Point struct {
	Timestamp time.Time
	Value     float64
	Flags     string
}

// Series is a sequence of points ordered by timestamp.
type Series []Point

// DBOpener opens a database connection for the database backed format.
type DBOpener func(driver, dsn string) (*sql.DB, error)

// Option configures a Storage.
type Option func(*options)

type options struct {
	clock  dst.Clock
	openDB DBOpener
}

// Storage is a logger storage.
type Storage struct {
	settings *settings
	impl     format
	cache    *tailCache
}

// tailCache holds the result of the most recent full extraction.
type tailCache struct {
	after  time.Time
	series map[int]Series
}

var (
	ErrConfig            = errors.New("invalid configuration")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrRead              = errors.New("failed to read storage")
	ErrOrdering          = errors.New("ordering error")
	ErrUnknownVariable   = errors.New("unknown variable")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// WithClock sets the function that provides the current time to the
// daylight saving time heuristics.
func WithClock(clock dst.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithDBOpener sets the function that opens database connections for
// the database backed format.  The default is sql.Open.
func WithDBOpener(openDB DBOpener) Option {
	return func(o *options) {
		o.openDB = openDB
	}
}

// New validates the given configuration and returns a Storage of the
// configured format.
func New(cfg Config, opts ...Option) (*Storage, error) {
	o := &options{openDB: sql.Open}
	for _, opt := range opts {
		opt(o)
	}
	name, ok := cfg["storage_format"]
	if !ok {
		return nil, fmt.Errorf("%w: Parameter %q is required", ErrConfig, "storage_format")
	}
	f, err := formats.get(name)
	if err != nil {
		return nil, err
	}
	required := append(append([]string{}, commonRequired...), f.required...)
	optional := append(append([]string{}, commonOptional...), f.optional...)
	if err := checkParameters(cfg, required, optional); err != nil {
		return nil, err
	}
	s, err := newSettings(cfg, o)
	if err != nil {
		return nil, err
	}
	impl, err := f.create(s)
	if err != nil {
		return nil, err
	}
	return &Storage{settings: s, impl: impl}, nil
}

// Path returns the configured storage location.
func (s *Storage) Path() string {
	return s.settings.path
}

// Format returns the name of the storage format.
func (s *Storage) Format() string {
	return s.settings.format
}

// StationID returns the id of the station the storage belongs to.
func (s *Storage) StationID() int {
	return s.settings.stationID
}

// VariableIDs returns the ids of the variables the storage produces.
func (s *Storage) VariableIDs() []int {
	return append([]int{}, s.impl.variableIDs()...)
}

// Normalizer returns the daylight saving time normalizer of the
// storage's time zone.
func (s *Storage) Normalizer() *dst.Normalizer {
	return s.settings.normalizer
}

// ResetCache discards the cached extraction so that the next call to
// RecentData() reads the storage again.  Callers reset the cache at the
// start of every upload cycle to see records appended since the last one.
func (s *Storage) ResetCache() {
	s.cache = nil
}

// RecentData returns the points of the given variable that are later
// than after.  If the cached extraction does not reach back to after,
// all variables are extracted again.
func (s *Storage) RecentData(ctx context.Context, id int, after time.Time) (Series, error) {
	after = naiveTime(after)
	if s.cache == nil || after.Before(s.cache.after) {
		if err := s.extract(ctx, after); err != nil {
			return nil, err
		}
	}
	series, ok := s.cache.series[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no variable %d", ErrUnknownVariable, s.settings.path, id)
	}
	result := series.After(after)
	if err := result.checkOrder(); err != nil {
		if cc, ok := s.impl.(chronologyChecker); ok {
			if cerr := cc.checkChronology(); cerr != nil {
				return nil, cerr
			}
		}
		return nil, err
	}
	return result, nil
}

// extract reads the storage tail after the given timestamp and replaces
// the cache with the series of all variables.
func (s *Storage) extract(ctx context.Context, after time.Time) error {
	verbose("reading %v newer than %v", s.settings.path, isoformat(after))
	records, err := s.impl.extractTail(ctx, after)
	if err != nil {
		return err
	}
	verbose("%v: %d new records", s.settings.path, len(records))
	if len(records) > 0 {
		verbose("%v: first new date: %v", s.settings.path, isoformat(records[0].Timestamp))
	}
	ids := s.impl.variableIDs()
	series := make(map[int]Series, len(ids))
	for _, id := range ids {
		series[id] = make(Series, 0, len(records))
	}
	for _, rec := range records {
		for _, id := range ids {
			v, flags, err := s.impl.value(id, rec)
			if err != nil {
				return s.readError(describe(rec), "parsing error while trying to read values: "+err.Error())
			}
			series[id] = append(series[id], Point{Timestamp: rec.Timestamp, Value: v, Flags: flags})
		}
	}
	s.cache = &tailCache{after: after, series: series}
	return nil
}

func (s *Storage) readError(line, msg string) error {
	return readError(s.settings.path, line, msg)
}

// After returns the points later than the given timestamp.
func (series Series) After(after time.Time) Series {
	result := Series{}
	for _, p := range series {
		if p.Timestamp.After(after) {
			result = append(result, p)
		}
	}
	return result
}

// checkOrder verifies the series is strictly increasing.  The error
// names the timestamp after which the order breaks.
func (series Series) checkOrder() error {
	for i := 1; i < len(series); i++ {
		if !series[i].Timestamp.After(series[i-1].Timestamp) {
			return fmt.Errorf("%w: Data is incorrectly ordered after %v", ErrOrdering, isoformat(series[i-1].Timestamp))
		}
	}
	return nil
}

// readError returns an ErrRead error identifying the storage and the
// offending line.
func readError(path, line, msg string) error {
	return fmt.Errorf("%w: %v: \"%v\": %v", ErrRead, path, strings.TrimSpace(line), msg)
}

// describe returns a description of a record for error messages.
func describe(rec Record) string {
	if rec.Line != "" {
		return rec.Line
	}
	return "record of " + isoformat(rec.Timestamp)
}

func isoformat(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

// naiveTime returns the wall clock reading of t as a time in UTC.
func naiveTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// minute truncates a naive time to the minute.
func minute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

var nan = math.NaN()
