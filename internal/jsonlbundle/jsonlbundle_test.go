package jsonlbundle //nolint:testpackage

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/loggertodb/api"
	"github.com/m-lab/loggertodb/internal/testhelper"
)

func TestVerbose(t *testing.T) { //nolint:paralleltest
	Verbose(func(fmt string, args ...interface{}) {})
}

func newTestJb(t *testing.T) *JSONLBundle {
	t.Helper()
	saveTimeNow, saveNewUUID := timeNow, newUUID
	defer func() {
		timeNow, newUUID = saveTimeNow, saveNewUUID
	}()
	timeNow = func() time.Time { return time.Date(2019, 2, 28, 13, 47, 5, 0, time.UTC) }
	newUUID = func() string { return "cafebabe" }
	archiver := api.ArchiverV1{Version: "v0.1.0", GitCommit: "3ac4528", Storage: "/var/lib/loggers/station1.dat"}
	return New("loggertodb-archive", "loggertodb/v1/", Series{Station: 1334, Group: 5, Variant: 1}, archiver)
}

func TestNew(t *testing.T) { //nolint:paralleltest
	jb := newTestJb(t)
	if jb.ObjDir != "loggertodb/v1/1334/5/1/2019/02/28" {
		t.Fatalf("ObjDir = %v", jb.ObjDir)
	}
	if jb.ObjName != "20190228T134705.000000Z-cafebabe.jsonl" {
		t.Fatalf("ObjName = %v", jb.ObjName)
	}
	wantURL := "gs://loggertodb-archive/loggertodb/v1/1334/5/1/2019/02/28/20190228T134705.000000Z-cafebabe.jsonl"
	if jb.archiver.ArchiveURL != wantURL {
		t.Fatalf("ArchiveURL = %v, want %v", jb.archiver.ArchiveURL, wantURL)
	}
	if jb.Description() != "bundle <2019/02/28T134705.000000Z 1334/5/1>" {
		t.Fatalf("Description() = %v", jb.Description())
	}
	if !jb.Empty() || jb.Contents() != nil {
		t.Fatalf("new bundle is not empty")
	}
	if got := SeriesDir("loggertodb/v1", jb.Series); got != "loggertodb/v1/1334/5/1" {
		t.Fatalf("SeriesDir() = %v", got)
	}
}

func TestAddPoint(t *testing.T) { //nolint:paralleltest
	base := time.Date(2019, 2, 28, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		timestamp time.Time
		value     float64
		flags     string
		wantErr   error
	}{
		{name: "first point", timestamp: base, value: 12.5},
		{name: "flags", timestamp: base.Add(10 * time.Minute), value: 12.6, flags: "RANGE"},
		{name: "null", timestamp: base.Add(20 * time.Minute), value: math.NaN()},
		{name: "same timestamp", timestamp: base.Add(20 * time.Minute), value: 1, wantErr: ErrOutOfOrder},
		{name: "earlier timestamp", timestamp: base, value: 1, wantErr: ErrOutOfOrder},
	}
	jb := newTestJb(t)
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		if err := jb.AddPoint(test.timestamp, test.value, test.flags); !errors.Is(err, test.wantErr) {
			t.Fatalf("AddPoint() = %v, want %v", err, test.wantErr)
		}
	}
	if len(jb.Lines) != 3 {
		t.Fatalf("len(Lines) = %d, want 3", len(jb.Lines))
	}
	if !jb.Latest.Equal(base.Add(20 * time.Minute)) {
		t.Fatalf("Latest = %v", jb.Latest)
	}
	contents := string(jb.Contents())
	if strings.Count(contents, "\n") != 3 {
		t.Fatalf("Contents() = %q, want 3 lines", contents)
	}
	if !strings.Contains(jb.Lines[2], `"Value":null`) {
		t.Fatalf("null line = %v", jb.Lines[2])
	}

	row, err := ParseLine(jb.Lines[1])
	if err != nil {
		t.Fatalf("ParseLine() = %v", err)
	}
	if row.Station != 1334 || row.Group != 5 || row.Variant != 1 {
		t.Fatalf("ParseLine() = %+v", row)
	}
	if row.Timestamp.String() != "2019-02-28T13:10:00" {
		t.Fatalf("Timestamp = %v", row.Timestamp)
	}
	if !row.Value.Valid || row.Value.Float64 != 12.6 || row.Flags != "RANGE" {
		t.Fatalf("ParseLine() = %+v", row)
	}
	if row.Archiver.Storage != "/var/lib/loggers/station1.dat" || row.Archiver.ArchiveURL == "" {
		t.Fatalf("Archiver = %+v", row.Archiver)
	}
	if _, err := ParseLine("{"); err == nil {
		t.Fatalf("ParseLine() = nil, want error")
	}
}
