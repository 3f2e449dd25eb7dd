// Package dst removes daylight saving time from the naive local
// timestamps recorded by data loggers.
//
// Loggers typically follow the local clock, so twice a year their
// timestamps either skip an hour (spring forward) or repeat one (fall
// back, the "fold").  A Normalizer converts such timestamps into the
// zone's standard time, which has neither gaps nor folds.  Normalized
// timestamps are still naive: they are returned as time.Time values in
// the UTC location and denote wall clock readings of standard time.
//
// Inside the fold a naive timestamp is ambiguous.  Normalize() resolves
// it with a heuristic that assumes recent data: the DST occurrence is
// chosen only if "now" observes DST and is within 24 hours of the
// timestamp.  This does not resolve historical backfills across an old
// transition; Scan() returns a resolver that infers the occurrence from
// the order of the records instead, falling back to the heuristic only
// when the records carry no evidence.
package dst

import (
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Option configures a Normalizer.
type Option func(*Normalizer)

// Normalizer converts naive local timestamps of one time zone into
// naive standard time.
type Normalizer struct {
	loc *time.Location
	now Clock
}

// kind classifies a naive local timestamp.
type kind int

const (
	regular   kind = iota // exactly one instant has this wall clock reading
	ambiguous             // two instants have it (fold)
	skipped               // no instant has it (gap)
)

// candidate is an instant that a naive timestamp may denote.
type candidate struct {
	instant time.Time
	isDST   bool
}

const (
	nearby       = 24 * time.Hour
	searchWindow = 26 * time.Hour
)

// WithClock sets the function that provides "now" to the fold
// resolution heuristic.
func WithClock(clock Clock) Option {
	return func(n *Normalizer) {
		n.now = clock
	}
}

// New returns a Normalizer for the given location.  A nil location
// means UTC.
func New(loc *time.Location, opts ...Option) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	n := &Normalizer{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Location returns the normalizer's location.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize returns the naive standard time of the given naive local
// timestamp, resolving folds and gaps with the "now" heuristic.
func (n *Normalizer) Normalize(naive time.Time) time.Time {
	naive = asNaive(naive)
	if n.loc == time.UTC {
		return naive
	}
	k, cands := n.classify(naive)
	switch k {
	case regular:
		return n.standard(cands[0].instant)
	case ambiguous:
		return n.standard(pick(cands, n.recentDST(naive)))
	default:
		return n.gap(naive, n.recentDST(naive))
	}
}

// Instant returns the instant denoted by a naive standard time that
// was previously returned by Normalize() or a Scan.
func (n *Normalizer) Instant(standard time.Time) time.Time {
	standard = asNaive(standard)
	guess := standard.Add(-n.standardOffset(standard))
	return standard.Add(-n.standardOffset(guess)).UTC()
}

// recentDST implements the "now" heuristic: the DST reading is assumed
// if the zone currently observes DST and the timestamp is within 24
// hours of the current wall clock time.
func (n *Normalizer) recentDST(naive time.Time) bool {
	now := n.now().In(n.loc)
	if !now.IsDST() {
		return false
	}
	diff := naive.Sub(asNaive(now))
	if diff < 0 {
		diff = -diff
	}
	return diff < nearby
}

// classify returns the kind of the naive timestamp and the instants it
// may denote.
func (n *Normalizer) classify(naive time.Time) (kind, []candidate) {
	offsets := map[int]struct{}{}
	for _, probe := range []time.Time{naive.Add(-searchWindow), naive, naive.Add(searchWindow)} {
		_, offset := probe.In(n.loc).Zone()
		offsets[offset] = struct{}{}
	}
	var cands []candidate
	for offset := range offsets {
		instant := naive.Add(-time.Duration(offset) * time.Second)
		local := instant.In(n.loc)
		if _, o := local.Zone(); o == offset {
			cands = append(cands, candidate{instant: instant, isDST: local.IsDST()})
		}
	}
	switch len(cands) {
	case 0:
		return skipped, nil
	case 1:
		return regular, cands
	default:
		if cands[0].instant.After(cands[1].instant) {
			cands[0], cands[1] = cands[1], cands[0]
		}
		return ambiguous, cands[:2]
	}
}

// pick returns the DST candidate if dst is true and the standard time
// candidate otherwise.
func pick(cands []candidate, dst bool) time.Time {
	for _, c := range cands {
		if c.isDST == dst {
			return c.instant
		}
	}
	// Both readings have the same DST status (e.g., a change of the
	// zone's standard offset); the earlier one is the pre-transition.
	if dst {
		return cands[0].instant
	}
	return cands[len(cands)-1].instant
}

// gap handles a timestamp that the local clock skipped.  If the logger
// is assumed to have been on DST, the DST amount is removed; otherwise
// the timestamp already is standard time.
func (n *Normalizer) gap(naive time.Time, dst bool) time.Time {
	if !dst {
		return naive
	}
	_, before := naive.Add(-searchWindow).In(n.loc).Zone()
	_, after := naive.Add(searchWindow).In(n.loc).Zone()
	amount := after - before
	if amount < 0 {
		amount = -amount
	}
	return naive.Add(-time.Duration(amount) * time.Second)
}

// standard returns the naive standard time of an instant.
func (n *Normalizer) standard(instant time.Time) time.Time {
	return instant.Add(n.standardOffset(instant)).UTC()
}

// standardOffset returns the offset of the zone's standard time in
// effect around the given instant.
func (n *Normalizer) standardOffset(instant time.Time) time.Duration {
	local := instant.In(n.loc)
	_, offset := local.Zone()
	if !local.IsDST() {
		return time.Duration(offset) * time.Second
	}
	year := instant.UTC().Year()
	for _, probe := range []time.Time{
		time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC),
	} {
		if l := probe.In(n.loc); !l.IsDST() {
			_, o := l.Zone()
			return time.Duration(o) * time.Second
		}
	}
	return time.Duration(offset) * time.Second
}

// asNaive returns the wall clock reading of t as a time in UTC.
func asNaive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
