// Package tsstore implements the time series stores that extracted
// logger data is uploaded to.
//
// A station has time series groups (one per logger variable) and each
// group has one or more time series (variants), e.g. the "initial" data
// as recorded by the logger and its checked or aggregated versions.
// Loggers only ever feed the "initial" variant.
//
// Timestamps are naive: they are in the station's standard time and
// carried in the UTC location.
package tsstore

import (
	"context"
	"errors"
	"time"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
)

// KindInitial is the kind of the time series that loggers feed.
const KindInitial = "initial"

// Variant is a time series of a time series group.
type Variant struct {
	ID   int
	Kind string
}

// Store is the interface of a time series store.
type Store interface {
	// ListVariants returns the time series of a group.
	ListVariants(ctx context.Context, station, group int) ([]Variant, error)
	// CreateVariant creates a time series of the given kind and
	// returns its id.
	CreateVariant(ctx context.Context, station, group int, kind string) (int, error)
	// LatestTimestamp returns the timestamp of the last point of a
	// time series, or the zero time if it has no points.
	LatestTimestamp(ctx context.Context, station, group, variant int) (time.Time, error)
	// PostNewData appends points to a time series.
	PostNewData(ctx context.Context, station, group, variant int, series loggerstorage.Series) error
	Close() error
}

var (
	ErrStore = errors.New("time series store error")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

const isoLayout = "2006-01-02T15:04:05"

func isoformat(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func parseISO(s string) (time.Time, error) {
	return time.ParseInLocation(isoLayout, s, time.UTC) //nolint:wrapcheck
}
