package dst

import "time"

// phase is what a Scan knows about the occurrence of the fold it is in.
type phase int

const (
	unknown  phase = iota // no evidence; use the "now" heuristic
	second                // standard time occurrence (after the transition)
	first                 // DST occurrence (before the transition)
)

// Scan normalizes the timestamps of a sequence of records that is read
// backwards, i.e., newest record first.  It resolves the fold from the
// sequence itself:
//
//   - Ambiguous timestamps that follow (in file order) a regular
//     standard time record of less than a day later belong to the
//     second occurrence of the repeated hour.
//   - While moving backwards through ambiguous timestamps, a rise of
//     the wall clock reading means the transition was crossed and the
//     remaining ambiguous timestamps belong to the first occurrence.
//
// Only without such evidence does it fall back to the "now" heuristic.
// A Scan is meant for a single pass over a single file.
type Scan struct {
	n         *Normalizer
	phase     phase
	inFold    bool      // the previous timestamp was ambiguous
	prev      time.Time // previous ambiguous timestamp
	haveAfter bool      // a regular timestamp has been seen
	after     time.Time // most recent regular timestamp seen
	afterStd  bool      // the most recent regular timestamp is standard time
}

// Scan returns a new sequence-aware resolver.
func (n *Normalizer) Scan() *Scan {
	return &Scan{n: n}
}

// Normalize returns the naive standard time of the given naive local
// timestamp.  Timestamps must be passed newest first.
func (s *Scan) Normalize(naive time.Time) time.Time {
	naive = asNaive(naive)
	if s.n.loc == time.UTC {
		return naive
	}
	k, cands := s.n.classify(naive)
	switch k {
	case regular:
		s.inFold = false
		s.haveAfter, s.after, s.afterStd = true, naive, !cands[0].isDST
		return s.n.standard(cands[0].instant)
	case skipped:
		s.inFold = false
		return s.n.gap(naive, s.n.recentDST(naive))
	}

	if !s.inFold {
		s.phase = unknown
		if s.haveAfter && s.afterStd && s.after.Sub(naive) < nearby {
			s.phase = second
		}
	} else if naive.After(s.prev) {
		s.phase = first
	}
	s.inFold, s.prev = true, naive

	isDST := false
	switch s.phase {
	case first:
		isDST = true
	case unknown:
		isDST = s.n.recentDST(naive)
	}
	return s.n.standard(pick(cands, isDST))
}
