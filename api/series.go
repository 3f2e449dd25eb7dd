// Package api defines the data structures that loggertodb writes to
// object storage for archived time series.
package api

import (
	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// SeriesRowV1 defines version 1 of a row of an archived time series.
// Each line (row) of a JSONL chunk holds one point of one variant of a
// time series group of a station.
//
// Timestamps are naive: they are in the station's time zone with any
// daylight saving time removed, hence civil.DateTime.
type SeriesRowV1 struct {
	Station   int                  `bigquery:"station"`   // station id
	Group     int                  `bigquery:"group"`     // time series group (variable) id
	Variant   int                  `bigquery:"variant"`   // time series id within the group
	Timestamp civil.DateTime       `bigquery:"timestamp"` // naive timestamp of the point
	Value     bigquery.NullFloat64 `bigquery:"value"`     // null for values the logger recorded as missing
	Flags     string               `bigquery:"flags"`     // space separated logger flags
	Archiver  ArchiverV1           `bigquery:"archiver"`  // archiver details
}

// ArchiverV1 defines version 1 of archiver details that includes:
// 1- The exact version of the running instance of the program.
// 2- Where the chunk is archived and which logger storage it came from.
type ArchiverV1 struct {
	Version    string `bigquery:"Version"`    // running version of this program
	GitCommit  string `bigquery:"GitCommit"`  // git commit sha1 of this program
	ArchiveURL string `bigquery:"ArchiveURL"` // GCS object name of the chunk
	Storage    string `bigquery:"Storage"`    // path of the logger storage
}

// VariantV1 describes a time series of a time series group.  The
// variants of a group are stored as a JSON array.
type VariantV1 struct {
	ID   int    `json:"id"`
	Kind string `json:"kind"` // e.g., "initial"
}

// CursorV1 is the state of a time series: the timestamp of its latest
// point and the number of chunks archived so far.
type CursorV1 struct {
	Latest civil.DateTime `json:"latest"`
	Chunks int            `json:"chunks"`
}
