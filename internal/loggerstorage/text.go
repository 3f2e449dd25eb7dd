package loggerstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/loggertodb/internal/dst"
	"github.com/m-lab/loggertodb/internal/linereader"
)

// Parameters of all text formats.
var (
	textRequired = []string{"fields"}
	textOptional = []string{"null", "nullstr", "ignore_lines", "encoding"}
)

// How often a scan checks for cancellation.
const ctxCheckLines = 4096

// lineParser holds what differs between the text formats: how to find
// the timestamp and the items of a line, and which lines belong to the
// storage at all.
type lineParser interface {
	// timestamp returns the naive timestamp of the line, truncated to
	// the minute.  The error message becomes part of a read error.
	timestamp(line string) (time.Time, error)
	// item returns the raw value of the seq-th (1-based) data item of
	// the line and the flags attached to it.
	item(line string, seq int) (string, string, error)
	// belongs reports whether the line matches the configured subset
	// identifiers.  Lines that don't belong are skipped.
	belongs(line string) bool
}

// textFormat is a storage consisting of one text file, or of a set of
// text files if the path is a glob pattern.
type textFormat struct {
	s        *settings
	parser   lineParser
	ids      []int
	seqs     map[int]int
	null     string
	decimal  string
	ignore   *regexp.Regexp
	encoding string

	// Chronology of the files of the most recent multi-file scan.
	files []fileChronology
}

// newTextFormat validates the parameters common to all text formats.
func newTextFormat(s *settings, parser lineParser) (*textFormat, error) {
	fields, err := idList(s.cfg, "fields")
	if err != nil {
		return nil, err
	}
	t := &textFormat{
		s:        s,
		parser:   parser,
		seqs:     make(map[int]int),
		null:     s.cfg["null"],
		encoding: s.cfg["encoding"],
	}
	if t.null == "" {
		t.null = s.cfg["nullstr"]
	}
	for i, id := range fields {
		if id == 0 {
			continue
		}
		if _, ok := t.seqs[id]; ok {
			continue
		}
		t.seqs[id] = i + 1
		t.ids = append(t.ids, id)
	}
	sort.Ints(t.ids)
	if expr := s.cfg["ignore_lines"]; expr != "" {
		if t.ignore, err = regexp.Compile(expr); err != nil {
			return nil, fmt.Errorf("%w: invalid ignore_lines: %v", ErrConfig, err)
		}
	}
	if _, err := linereader.LookupEncoding(t.encoding); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if isGlob(s.path) {
		if _, err := globFiles(s.path); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern %q: %v", ErrConfig, s.path, err)
		}
	}
	return t, nil
}

func (t *textFormat) variableIDs() []int {
	return t.ids
}

func (t *textFormat) value(id int, rec Record) (float64, string, error) {
	seq, ok := t.seqs[id]
	if !ok {
		return 0, "", fmt.Errorf("%w: %d", ErrUnknownVariable, id)
	}
	item, flags, err := t.parser.item(rec.Line, seq)
	if err != nil {
		return 0, "", err
	}
	item = strings.TrimSpace(item)
	if t.null != "" && item == t.null {
		return nan, flags, nil
	}
	if t.decimal != "" && t.decimal != "." {
		item = strings.ReplaceAll(item, t.decimal, ".")
	}
	v, err := strconv.ParseFloat(item, 64)
	if err != nil {
		return 0, "", err //nolint:wrapcheck
	}
	return v, flags, nil
}

func (t *textFormat) extractTail(ctx context.Context, after time.Time) ([]Record, error) {
	if isGlob(t.s.path) {
		return t.tailOfFiles(ctx, after)
	}
	records, _, err := t.tailOfFile(ctx, t.s.path, after)
	return records, err
}

// skip reports whether a line carries no record of the storage.
func (t *textFormat) skip(line string) bool {
	if strings.TrimSpace(line) == "" || !t.parser.belongs(line) {
		return true
	}
	return t.ignore != nil && t.ignore.MatchString(line)
}

// timestamp returns the parsed (but not normalized) timestamp of a line.
func (t *textFormat) timestamp(path, line string) (time.Time, error) {
	ts, err := t.parser.timestamp(line)
	if err != nil {
		return time.Time{}, readError(path, line, err.Error())
	}
	return ts, nil
}

// tailOfFile reads the given file backwards and returns the records
// later than after, oldest first.  It also reports whether it met a
// record at or before after, i.e., whether older files can be skipped.
func (t *textFormat) tailOfFile(ctx context.Context, path string, after time.Time) ([]Record, bool, error) {
	r, err := linereader.Reverse(path, t.encoding)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v: %v", ErrRead, path, err)
	}
	defer r.Close()
	return t.collect(ctx, path, r.Next, after)
}

// collect consumes lines newest first until it meets a record at or
// before after.  Lines with the same timestamp as the previous record
// are duplicates; the oldest of them is kept.
func (t *textFormat) collect(ctx context.Context, path string, next func() (string, error), after time.Time) ([]Record, bool, error) {
	scan := t.s.normalizer.Scan()
	var records []Record
	reached := false
	for n := 0; ; n++ {
		if n%ctxCheckLines == 0 && ctx.Err() != nil {
			return nil, false, ctx.Err() //nolint:wrapcheck
		}
		line, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v: %v", ErrRead, path, err)
		}
		if t.skip(line) {
			verbose("ignoring line %q", line)
			continue
		}
		naive, err := t.timestamp(path, line)
		if err != nil {
			return nil, false, err
		}
		ts := scan.Normalize(naive)
		if last := len(records) - 1; last >= 0 && ts.Equal(records[last].Timestamp) {
			log.Printf("WARNING: %v: omitting line with repeated timestamp %v\n", path, isoformat(ts))
			records[last].Line = line
			continue
		}
		if !ts.After(after) {
			reached = true
			break
		}
		records = append(records, Record{Timestamp: ts, Line: line})
	}
	reverse(records)
	return records, reached, nil
}

// firstTimestamp returns the normalized timestamp of the first record of
// a file, or false if the file has no records.
func (t *textFormat) firstTimestamp(path string) (time.Time, bool, error) {
	f, err := linereader.Forward(path, t.encoding)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v: %v", ErrRead, path, err)
	}
	defer f.Close()
	return t.firstRecord(path, f.Next, t.s.normalizer)
}

// lastTimestamp returns the normalized timestamp of the last record of
// a file, or false if the file has no records.
func (t *textFormat) lastTimestamp(path string) (time.Time, bool, error) {
	r, err := linereader.Reverse(path, t.encoding)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v: %v", ErrRead, path, err)
	}
	defer r.Close()
	return t.firstRecord(path, r.Next, t.s.normalizer)
}

func (t *textFormat) firstRecord(path string, next func() (string, error), n *dst.Normalizer) (time.Time, bool, error) {
	for {
		line, err := next()
		if errors.Is(err, io.EOF) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v: %v", ErrRead, path, err)
		}
		if t.skip(line) {
			continue
		}
		naive, err := t.timestamp(path, line)
		if err != nil {
			return time.Time{}, false, err
		}
		return n.Normalize(naive), true, nil
	}
}

func reverse(records []Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

// splitFields splits a line on delimiter, or on runs of white space if
// delimiter is empty.
func splitFields(line, delimiter string) []string {
	if delimiter == "" {
		return strings.Fields(line)
	}
	return strings.Split(line, delimiter)
}

// field returns the i-th (0-based) item of items.
func field(items []string, i int) (string, error) {
	if i < 0 || i >= len(items) {
		return "", fmt.Errorf("line has no field %d", i+1)
	}
	return items[i], nil
}

// unquote strips surrounding white space and double quotes.
func unquote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

var errInvalidDate = errors.New("parse error or invalid date")
