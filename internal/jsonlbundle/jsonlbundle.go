// Package jsonlbundle implements logic to build a single JSONL bundle
// (chunk) of time series points for archiving in GCS.  Each line of a
// bundle is an api.SeriesRowV1.
package jsonlbundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/m-lab/loggertodb/api"
)

// Series identifies the time series that a bundle belongs to.
type Series struct {
	Station int
	Group   int
	Variant int
}

// JSONLBundle defines a collection of points of one time series bundled
// together in JSONL format for archiving.
type JSONLBundle struct {
	Lines     []string
	Timestamp string    // bundle's in-memory creation time that serves as its identifier
	Series    Series    // time series of the points in this bundle
	ObjDir    string    // GCS directory to upload this bundle to
	ObjName   string    // GCS object name of this bundle
	Latest    time.Time // naive timestamp of the last point added
	Size      uint      // size of this bundle
	bucket    string
	archiver  api.ArchiverV1
}

var (
	ErrOutOfOrder = errors.New("point is not after the previous point")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
	timeNow = time.Now
	newUUID = uuid.NewString
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new instance of JSONLBundle.  The archiver details
// (version, git commit and logger storage path) are stamped on every
// line; ArchiveURL is filled in from the bundle's object name.
func New(bucket, gcsDataDir string, series Series, archiver api.ArchiverV1) *JSONLBundle {
	nowUTC := timeNow().UTC()
	jb := &JSONLBundle{
		Lines:     []string{},
		Timestamp: nowUTC.Format("2006/01/02T150405.000000Z"),
		Series:    series,
		ObjDir:    dirName(gcsDataDir, series, nowUTC), // e.g., loggertodb/v1/1334/5/1/2019/02/28
		ObjName:   objectName(nowUTC, newUUID()),
		bucket:    bucket,
		archiver:  archiver,
	}
	jb.archiver.ArchiveURL = fmt.Sprintf("gs://%s/%s", bucket, jb.ObjPath())
	return jb
}

// SeriesDir returns the GCS directory of the given time series.
func SeriesDir(gcsDataDir string, series Series) string {
	return fmt.Sprintf("%s/%d/%d/%d", strings.TrimSuffix(gcsDataDir, "/"), series.Station, series.Group, series.Variant)
}

func dirName(gcsDataDir string, series Series, t time.Time) string {
	return path.Join(SeriesDir(gcsDataDir, series), t.Format("2006/01/02"))
}

func objectName(t time.Time, id string) string {
	return fmt.Sprintf("%s-%s.jsonl", t.Format("20060102T150405.000000Z"), id)
}

// ObjPath returns the full GCS object path of this bundle.
func (jb *JSONLBundle) ObjPath() string {
	return path.Join(jb.ObjDir, jb.ObjName)
}

// Description returns a string describing the bundle for log messages.
func (jb *JSONLBundle) Description() string {
	return fmt.Sprintf("bundle <%v %d/%d/%d>", jb.Timestamp, jb.Series.Station, jb.Series.Group, jb.Series.Variant)
}

// Empty returns true if no points have been added to the bundle.
func (jb *JSONLBundle) Empty() bool {
	return len(jb.Lines) == 0
}

// AddPoint adds a point to the bundle.  Points must be added in
// strictly increasing timestamp order; a NaN value is archived as null.
func (jb *JSONLBundle) AddPoint(timestamp time.Time, value float64, flags string) error {
	if !jb.Latest.IsZero() && !timestamp.After(jb.Latest) {
		return fmt.Errorf("%v: %w", timestamp.Format("2006-01-02T15:04"), ErrOutOfOrder)
	}
	row := api.SeriesRowV1{
		Station:   jb.Series.Station,
		Group:     jb.Series.Group,
		Variant:   jb.Series.Variant,
		Timestamp: civil.DateTimeOf(timestamp),
		Value:     bigquery.NullFloat64{Float64: value, Valid: !math.IsNaN(value)},
		Flags:     flags,
		Archiver:  jb.archiver,
	}
	if !row.Value.Valid {
		row.Value.Float64 = 0
	}
	line, err := json.Marshal(row)
	if err != nil {
		log.Panicf("failed to marshal series row: %v", err)
	}
	jb.Lines = append(jb.Lines, string(line))
	jb.Latest = timestamp
	jb.Size += uint(len(line))
	return nil
}

// Contents returns the bundle in JSONL format.
func (jb *JSONLBundle) Contents() []byte {
	if len(jb.Lines) == 0 {
		return nil
	}
	verbose("%v has %d lines, %d bytes", jb.Description(), len(jb.Lines), jb.Size)
	return []byte(strings.Join(jb.Lines, "\n") + "\n")
}

// ParseLine parses a line of a bundle.
func ParseLine(line string) (api.SeriesRowV1, error) {
	var row api.SeriesRowV1
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		return row, fmt.Errorf("failed to parse bundle line: %w", err)
	}
	return row, nil
}
