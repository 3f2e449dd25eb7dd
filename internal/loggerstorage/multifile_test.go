package loggerstorage //nolint:testpackage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/loggertodb/internal/testhelper"
)

func yearFile(year int, header bool) string {
	contents := fmt.Sprintf("%d-02-28 17:20,42.1,24.2\n%d-02-28 17:30,42.2,24.3\n", year, year)
	if header {
		return "Date,value1,value2\n" + contents
	}
	return "\n" + contents
}

func yearRecords(years ...int) []Record {
	var records []Record
	for _, year := range years {
		records = append(records,
			Record{Timestamp: naive(year, 2, 28, 17, 20), Line: fmt.Sprintf("%d-02-28 17:20,42.1,24.2", year)},
			Record{Timestamp: naive(year, 2, 28, 17, 30), Line: fmt.Sprintf("%d-02-28 17:30,42.2,24.3", year)},
		)
	}
	return records
}

func TestMultiFileTail(t *testing.T) {
	tests := []struct {
		name  string
		after time.Time
		want  []Record
	}{
		{
			name:  "from last file",
			after: naive(2019, 2, 28, 17, 20),
			want:  yearRecords(2019)[1:],
		},
		{
			name:  "from last but one file",
			after: naive(2018, 2, 28, 17, 20),
			want:  append(yearRecords(2018)[1:], yearRecords(2019)...),
		},
		{
			name:  "from all files",
			after: naive(2016, 2, 28, 17, 20),
			want:  yearRecords(2017, 2018, 2019),
		},
	}
	for _, header := range []bool{false, true} {
		dir := t.TempDir()
		writeFile(t, dir, "bar1", yearFile(2018, header))
		writeFile(t, dir, "bar2", yearFile(2019, header))
		writeFile(t, dir, "bar3", yearFile(2017, header))
		extra := Config{}
		if header {
			extra["ignore_lines"] = "Date"
		}
		s := mustNew(t, simpleConfig(filepath.Join(dir, "bar?"), extra))
		for i, test := range tests {
			t.Logf("%s>>> test %02d %s (headers %v)%s", testhelper.ANSIPurple, i, test.name, header, testhelper.ANSIEnd)
			assertRecords(t, extractTail(t, s, test.after), test.want)
		}
	}
}

// TestMultiFileEqualsSingleFile checks that stitching files gives the
// same result as reading their concatenation.
func TestMultiFileEqualsSingleFile(t *testing.T) {
	dir := t.TempDir()
	var all strings.Builder
	for i, year := range []int{2015, 2016, 2017, 2018} {
		contents := yearFile(year, false)
		writeFile(t, dir, fmt.Sprintf("part%d.txt", 4-i), contents)
		all.WriteString(contents)
	}
	single := writeFile(t, t.TempDir(), "all.txt", all.String())
	multi := mustNew(t, simpleConfig(filepath.Join(dir, "part*.txt"), nil))
	one := mustNew(t, simpleConfig(single, nil))
	for _, after := range []time.Time{naive(1700, 1, 1, 0, 0), naive(2016, 2, 28, 17, 20), naive(2018, 2, 28, 17, 30)} {
		assertRecords(t, extractTail(t, multi, after), extractTail(t, one, after))
	}
}

func TestMultiFileEdgeCases(t *testing.T) {
	// No files at all.
	s := mustNew(t, simpleConfig(filepath.Join(t.TempDir(), "bar?"), nil))
	if got := extractTail(t, s, naive(2016, 2, 28, 17, 20)); len(got) != 0 {
		t.Fatalf("extractTail() = %v, want nothing", got)
	}

	// A file with a header only.
	dir := t.TempDir()
	writeFile(t, dir, "bar1", yearFile(2018, true))
	writeFile(t, dir, "bar2", yearFile(2019, true))
	writeFile(t, dir, "bar3", "Date,value1,value2\n")
	s = mustNew(t, simpleConfig(filepath.Join(dir, "bar?"), Config{"ignore_lines": "Date"}))
	if got := extractTail(t, s, naive(1700, 1, 1, 0, 0)); len(got) != 4 {
		t.Fatalf("extractTail() = %v, want four records", got)
	}
}

func TestMultiFileChronology(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantMsg string
	}{
		{
			name: "mixed up file",
			files: map[string]string{
				"bar1": "Date,value1,value2\n2019-02-28 17:20,42.1,24.2\n2018-02-28 17:30,42.2,24.3\n",
			},
			wantMsg: "The order of timestamps in file {dir}/bar1 is mixed up.",
		},
		{
			name: "overlapping files",
			files: map[string]string{
				"bar1": "Date,value1,value2\n2018-02-28 17:20,42.1,24.2\n2019-02-28 17:30,42.2,24.3\n",
				"bar2": "Date,value1,value2\n2019-02-28 17:20,42.1,24.2\n2020-02-28 17:30,42.2,24.3\n",
			},
			wantMsg: "The timestamps in files {dir}/bar1 and {dir}/bar2 overlap.",
		},
		{
			name: "disordered single file",
			files: map[string]string{
				"bar": "2019-02-28 17:20,42.1,24.2\n2018-02-28 17:30,42.2,24.3\n",
			},
			wantMsg: "Data is incorrectly ordered after 2019-02-28T17:20:00",
		},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		dir := t.TempDir()
		for name, contents := range test.files {
			writeFile(t, dir, name, contents)
		}
		path := filepath.Join(dir, "bar?")
		if len(test.files) == 1 && test.files["bar"] != "" {
			path = filepath.Join(dir, "bar")
		}
		s := mustNew(t, simpleConfig(path, Config{"ignore_lines": "Date"}))
		_, err := s.RecentData(context.Background(), 5, naive(1700, 1, 1, 0, 0))
		if !errors.Is(err, ErrOrdering) {
			t.Fatalf("RecentData() = %v, want %v", err, ErrOrdering)
		}
		if want := strings.ReplaceAll(test.wantMsg, "{dir}", dir); !strings.Contains(err.Error(), want) {
			t.Fatalf("RecentData() = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestGlobAllTextFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dat", "2019-02-28T13:47 25.2 42.3\n")
	writeFile(t, dir, "b.dat", "2019-02-28T13:57 25.3 42.4\n")
	s := mustNew(t, Config{
		"station_id":     "1334",
		"path":           filepath.Join(dir, "*.dat"),
		"storage_format": "deltacom",
		"fields":         "5, 6",
	})
	got, err := s.RecentData(context.Background(), 6, naive(2019, 1, 1, 0, 0))
	if err != nil {
		t.Fatalf("RecentData() = %v, want nil", err)
	}
	assertSeries(t, got, Series{
		{Timestamp: naive(2019, 2, 28, 13, 47), Value: 42.3},
		{Timestamp: naive(2019, 2, 28, 13, 57), Value: 42.4},
	})
}
