// Package upload implements the upload cycle: it extracts the data that
// logger storages recorded after the latest point of each time series
// in the store and posts it to the store.
//
// Within a storage, variables are processed in order of increasing
// latest timestamp.  The first variable therefore makes the storage
// extract its whole needed tail once, and the remaining variables are
// served from the storage's cache.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
	"github.com/m-lab/loggertodb/internal/metrics"
	"github.com/m-lab/loggertodb/internal/tsstore"
)

// Storage is the part of a logger storage the uploader uses.
// *loggerstorage.Storage implements it.
type Storage interface {
	StationID() int
	VariableIDs() []int
	Path() string
	RecentData(ctx context.Context, id int, after time.Time) (loggerstorage.Series, error)
}

// Item is a named logger storage (the name is its configuration section).
type Item struct {
	Name    string
	Storage Storage
}

// Config defines the uploader's circuit breaker settings.
type Config struct {
	MaxFailures uint32        // consecutive store failures that open the breaker
	Timeout     time.Duration // how long the breaker stays open
}

// Uploader posts new logger data to a time series store.
type Uploader struct {
	store   tsstore.Store
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

type storagePathSetter interface {
	SetStoragePath(station int, path string)
}

// cacheResetter is implemented by storages that cache extractions
// between calls.
type cacheResetter interface {
	ResetCache()
}

var (
	ErrStorage = errors.New("failed to read logger storage")
	ErrFailed  = errors.New("some items failed")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new Uploader.
func New(store tsstore.Store, m *metrics.Metrics, conf Config) *Uploader {
	if conf.MaxFailures == 0 {
		conf.MaxFailures = 3
	}
	if conf.Timeout == 0 {
		conf.Timeout = time.Minute
	}
	maxFailures := conf.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tsstore",
		MaxRequests: 1,
		Timeout:     conf.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARNING: %v circuit breaker changed from %v to %v\n", name, from, to)
		},
	})
	return &Uploader{store: store, cb: cb, metrics: m}
}

// call runs a store operation through the circuit breaker.
func (u *Uploader) call(op func() (interface{}, error)) (interface{}, error) {
	v, err := u.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		u.metrics.ErrorsTotal.WithLabelValues("breaker").Inc()
		return nil, fmt.Errorf("%w: %v", tsstore.ErrStore, err)
	}
	return v, err //nolint:wrapcheck
}

// Run uploads the new data of all items.  A failed item is logged and
// does not stop the others; Run returns ErrFailed if any item failed.
func (u *Uploader) Run(ctx context.Context, trigger string, items []Item) error {
	start := time.Now()
	u.metrics.CyclesTotal.WithLabelValues(trigger).Inc()
	defer func() {
		u.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()
	failed := 0
	for _, item := range items {
		if err := u.Upload(ctx, item.Storage); err != nil {
			log.Printf("ERROR: Error while processing item %v: %v\n", item.Name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrFailed, failed, len(items))
	}
	return nil
}

// Upload posts the new data of one logger storage.
func (u *Uploader) Upload(ctx context.Context, s Storage) error {
	if cr, ok := s.(cacheResetter); ok {
		cr.ResetCache()
	}
	station := s.StationID()
	if ps, ok := u.store.(storagePathSetter); ok {
		ps.SetStoragePath(station, s.Path())
	}
	type target struct {
		group   int
		variant int
		latest  time.Time
	}
	targets := make([]target, 0, len(s.VariableIDs()))
	for _, group := range s.VariableIDs() {
		variant, err := u.initialVariant(ctx, station, group)
		if err != nil {
			u.metrics.ErrorsTotal.WithLabelValues("store").Inc()
			return err
		}
		v, err := u.call(func() (interface{}, error) {
			return u.store.LatestTimestamp(ctx, station, group, variant)
		})
		if err != nil {
			u.metrics.ErrorsTotal.WithLabelValues("store").Inc()
			return err
		}
		targets = append(targets, target{group: group, variant: variant, latest: v.(time.Time)})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].latest.Before(targets[j].latest)
	})
	for _, t := range targets {
		series, err := s.RecentData(ctx, t.group, t.latest)
		if err != nil {
			u.metrics.ErrorsTotal.WithLabelValues("storage").Inc()
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if len(series) == 0 {
			verbose("%v: nothing new for %d/%d", s.Path(), station, t.group)
			continue
		}
		_, err = u.call(func() (interface{}, error) {
			return nil, u.store.PostNewData(ctx, station, t.group, t.variant, series)
		})
		if err != nil {
			u.metrics.ErrorsTotal.WithLabelValues("store").Inc()
			return err
		}
		u.metrics.PointsTotal.WithLabelValues(strconv.Itoa(station)).Add(float64(len(series)))
		u.metrics.Latest.WithLabelValues(strconv.Itoa(station), strconv.Itoa(t.group)).Set(float64(series[len(series)-1].Timestamp.Unix()))
		verbose("%v: posted %d points to %d/%d/%d", s.Path(), len(series), station, t.group, t.variant)
	}
	return nil
}

// initialVariant returns the id of the "initial" time series of a group,
// creating it if the group has none.
func (u *Uploader) initialVariant(ctx context.Context, station, group int) (int, error) {
	v, err := u.call(func() (interface{}, error) {
		return u.store.ListVariants(ctx, station, group)
	})
	if err != nil {
		return 0, err
	}
	for _, variant := range v.([]tsstore.Variant) {
		if variant.Kind == tsstore.KindInitial {
			return variant.ID, nil
		}
	}
	v, err = u.call(func() (interface{}, error) {
		return u.store.CreateVariant(ctx, station, group, tsstore.KindInitial)
	})
	if err != nil {
		return 0, err
	}
	log.Printf("INFO: created initial time series %d/%d/%d\n", station, group, v.(int))
	return v.(int), nil
}
