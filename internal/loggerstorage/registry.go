package loggerstorage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// format is implemented by every storage format.
type format interface {
	// variableIDs returns the ids of the variables the storage
	// produces, sorted.
	variableIDs() []int
	// extractTail returns the records whose normalized timestamp is
	// later than after, oldest first.
	extractTail(ctx context.Context, after time.Time) ([]Record, error)
	// value returns the value and flags of the given variable in the
	// given record.
	value(id int, rec Record) (float64, string, error)
}

// chronologyChecker is implemented by formats that stitch several files
// together and can explain an ordering violation in terms of the files.
type chronologyChecker interface {
	checkChronology() error
}

// factory describes a storage format: the parameters it accepts in
// addition to the common ones and how to construct it.
type factory struct {
	required []string
	optional []string
	create   func(s *settings) (format, error)
}

// registry maps storage_format names to formats.
type registry struct {
	factories map[string]factory
	mu        sync.RWMutex
}

var formats = &registry{factories: make(map[string]factory)}

// register adds a format.  It panics if the name is already taken,
// which can only happen through a programming error.
func (r *registry) register(name string, f factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		log.Panicf("storage format %v registered twice", name)
	}
	r.factories[name] = f
}

func (r *registry) get(name string) (factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return factory{}, fmt.Errorf("%w: Unsupported format '%v'", ErrUnsupportedFormat, name)
	}
	return f, nil
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Formats returns the names of all supported storage formats.
func Formats() []string {
	return formats.names()
}

// Parameters returns the required and optional parameters of the given
// storage format, including the common ones.
func Parameters(name string) (required, optional []string, err error) {
	f, err := formats.get(name)
	if err != nil {
		return nil, nil, err
	}
	required = append(append([]string{}, commonRequired...), f.required...)
	optional = append(append([]string{}, commonOptional...), f.optional...)
	return required, optional, nil
}
