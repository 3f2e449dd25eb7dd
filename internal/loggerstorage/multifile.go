package loggerstorage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fileChronology holds the timestamps of the first and last records of
// one of the files matched by a glob pattern.
type fileChronology struct {
	path     string
	first    time.Time
	last     time.Time
	hasFirst bool
	hasLast  bool
}

// Files without records sort as if their last record were this old.
var noRecords = time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)

func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[]")
}

func globFiles(pattern string) ([]string, error) {
	return filepath.Glob(pattern) //nolint:wrapcheck
}

// sortedFiles determines the chronology of every file matched by the
// storage's path and returns the files sorted by their last record.
func (t *textFormat) sortedFiles() ([]fileChronology, error) {
	paths, err := globFiles(t.s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrRead, t.s.path, err)
	}
	files := make([]fileChronology, 0, len(paths))
	for _, path := range paths {
		fc := fileChronology{path: path}
		if fc.first, fc.hasFirst, err = t.firstTimestamp(path); err != nil {
			return nil, err
		}
		if fc.last, fc.hasLast, err = t.lastTimestamp(path); err != nil {
			return nil, err
		}
		files = append(files, fc)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].sortKey().Before(files[j].sortKey())
	})
	return files, nil
}

func (fc fileChronology) sortKey() time.Time {
	if !fc.hasLast {
		return noRecords
	}
	return fc.last
}

// tailOfFiles extracts the tail of a multi-file storage: files are read
// newest first until one of them reaches the watermark.
func (t *textFormat) tailOfFiles(ctx context.Context, after time.Time) ([]Record, error) {
	files, err := t.sortedFiles()
	if err != nil {
		return nil, err
	}
	t.files = files
	var result []Record
	for i := len(files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		records, reached, err := t.tailOfFile(ctx, files[i].path, after)
		if err != nil {
			return nil, err
		}
		verbose("%v: %d new records", files[i].path, len(records))
		result = append(records, result...)
		if reached {
			break
		}
	}
	return result, nil
}

// checkChronology verifies that the records of each file are in order
// and that the files don't overlap.
func (t *textFormat) checkChronology() error {
	var prev *fileChronology
	for i := range t.files {
		file := &t.files[i]
		if file.hasFirst && file.hasLast && file.first.After(file.last) {
			return fmt.Errorf("%w: The order of timestamps in file %v is mixed up.", ErrOrdering, file.path)
		}
		if prev != nil && prev.hasLast && file.hasFirst && !prev.last.Before(file.first) {
			return fmt.Errorf("%w: The timestamps in files %v and %v overlap.", ErrOrdering, prev.path, file.path)
		}
		prev = file
	}
	return nil
}
