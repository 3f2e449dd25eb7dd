package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
	"github.com/m-lab/loggertodb/internal/testhelper"
	"github.com/m-lab/loggertodb/internal/tsstore"
	"github.com/m-lab/loggertodb/internal/upload"
)

const testData = "2019-02-28 13:47,25.2,42.3\n2019-02-28 13:57,25.3,42.1\n"

// writeConfig writes a configuration file with the given [General]
// section and one logger storage section per given path, and returns
// its pathname.  An empty general omits the [General] section.
func writeConfig(t *testing.T, dir, general string, paths ...string) string {
	t.Helper()
	var b strings.Builder
	if general != "" {
		b.WriteString("[General]\n" + general + "\n")
	}
	for i, p := range paths {
		b.WriteString("\n[station" + string(rune('1'+i)) + "]\n")
		b.WriteString("path = " + p + "\n")
		b.WriteString("storage_format = simple\nstation_id = 1334\nfields = 5, 6\ndelimiter = ,\n")
	}
	configFile := filepath.Join(dir, "loggertodb.conf")
	if err := os.WriteFile(configFile, []byte(b.String()), 0o666); err != nil {
		t.Fatalf("os.WriteFile() = %v", err)
	}
	return configFile
}

// TestCLI tests command line and configuration errors.
//
// The comment nolint:funlen,paralleltest tells golangci-lint
// not to run funlen and paralleltest linters because it's OK
// that the function length is more then 120 lines and also
// because we should not run these tests in parallel.
func TestCLI(t *testing.T) { //nolint:funlen,paralleltest
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "station1.dat")
	if err := os.WriteFile(dataFile, []byte(testData), 0o666); err != nil {
		t.Fatal(err)
	}
	boltGeneral := "store = bolt\nbolt_path = " + filepath.Join(dir, "store.bolt")
	unsupported := filepath.Join(dir, "unsupported.conf")
	if err := os.WriteFile(unsupported, []byte("[General]\n"+boltGeneral+"\n[a]\npath = x\nstorage_format = foo\nstation_id = 1\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name       string   // name of the test
		wantErrStr string   // error message
		args       []string // flags and arguments
	}{
		// Command line usage.
		{"help", flag.ErrHelp.Error(), []string{"-h"}},
		// Invalid command lines.
		{"no config file", errNoConfigFile.Error(), []string{}},
		{"extra args", errExtraArgs.Error(), []string{"a.conf", "b.conf"}},
		{"undefined flag", "provided but not defined", []string{"-undefined-flag"}},
		{"watch without daemon", errWatchDaemon.Error(), []string{"-watch", "a.conf"}},
		{"short interval", errInterval.Error(), []string{"-daemon", "-interval", "10s", "a.conf"}},
		// Invalid configuration files.
		{"non-existent config file", errConfigFile.Error(), []string{filepath.Join(dir, "non-existent.conf")}},
		{"no general section", errNoSection.Error(), []string{writeConfig(t, t.TempDir(), "", dataFile)}},
		{
			"bad loglevel", "loglevel must be one of ERROR, WARNING, INFO, DEBUG",
			[]string{writeConfig(t, t.TempDir(), boltGeneral+"\nloglevel = verbose", dataFile)},
		},
		{"no store", "missing option: store", []string{writeConfig(t, t.TempDir(), "loglevel = info", dataFile)}},
		{"bad store", "store must be one of", []string{writeConfig(t, t.TempDir(), "store = redis", dataFile)}},
		{"no dsn", "missing option: dsn", []string{writeConfig(t, t.TempDir(), "store = sql", dataFile)}},
		{"no stations", "No stations have been specified", []string{writeConfig(t, t.TempDir(), boltGeneral)}},
		{"unsupported format", "Unsupported format 'foo'", []string{unsupported}},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		callMain(t, test.args, test.wantErrStr)
	}
}

func TestOneShot(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "station1.dat")
	if err := os.WriteFile(dataFile, []byte(testData), 0o666); err != nil {
		t.Fatal(err)
	}
	boltPath := filepath.Join(dir, "store.bolt")
	logFile := filepath.Join(dir, "loggertodb.log")
	general := "store = bolt\nbolt_path = " + boltPath + "\nlogfile = " + logFile + "\nloglevel = info"

	callMain(t, []string{writeConfig(t, dir, general, dataFile)}, "")
	s, err := tsstore.NewBolt(boltPath)
	if err != nil {
		t.Fatalf("NewBolt() = %v", err)
	}
	for _, group := range []int{5, 6} {
		points, err := s.Points(1334, group, 1)
		if err != nil || len(points) != 2 {
			t.Fatalf("Points(%d) = %v, %v, want 2 points", group, points, err)
		}
	}
	s.Close()
	contents, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("os.ReadFile() = %v", err)
	}
	if !strings.Contains(string(contents), "INFO: Starting loggertodb") {
		t.Fatalf("log file = %q", contents)
	}

	// A failing storage does not stop the others but fails the run.
	missing := filepath.Join(dir, "missing.dat")
	callMain(t, []string{writeConfig(t, dir, general, missing, dataFile)}, upload.ErrFailed.Error())
	contents, err = os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("os.ReadFile() = %v", err)
	}
	if !strings.Contains(string(contents), "ERROR: Error while processing item station1: ") {
		t.Fatalf("log file = %q", contents)
	}
}

// TestBadSection checks that a section whose storage cannot be set up
// is skipped while the other sections are still uploaded.
func TestBadSection(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "station1.dat")
	if err := os.WriteFile(dataFile, []byte(testData), 0o666); err != nil {
		t.Fatal(err)
	}
	boltPath := filepath.Join(dir, "store.bolt")
	logFile := filepath.Join(dir, "loggertodb.log")
	configFile := writeConfig(t, dir, "store = bolt\nbolt_path = "+boltPath+"\nlogfile = "+logFile, dataFile)
	f, err := os.OpenFile(configFile, os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("\n[bad]\npath = " + dataFile + "\nstorage_format = simple\nstation_id = 1335\n") //nolint:errcheck
	f.Close()

	callMain(t, []string{configFile}, `Parameter "fields" is required`)
	s, err := tsstore.NewBolt(boltPath)
	if err != nil {
		t.Fatalf("NewBolt() = %v", err)
	}
	defer s.Close()
	points, err := s.Points(1334, 5, 1)
	if err != nil || len(points) != 2 {
		t.Fatalf("Points() = %v, %v, want 2 points", points, err)
	}
	contents, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("os.ReadFile() = %v", err)
	}
	if !strings.Contains(string(contents), "ERROR: Error while processing item bad: ") {
		t.Fatalf("log file = %q", contents)
	}
}

func TestLevelWriter(t *testing.T) { //nolint:paralleltest
	defer func(l int) { logLevel = l }(logLevel)
	tests := []struct {
		level string
		line  string
		want  bool
	}{
		{level: "ERROR", line: "13:47:00 ERROR: Error while processing item a: x\n", want: true},
		{level: "ERROR", line: "13:47:00 WARNING: omitting line with repeated timestamp\n", want: false},
		{level: "WARNING", line: "13:47:00 WARNING: omitting line with repeated timestamp\n", want: true},
		{level: "WARNING", line: "13:47:00 INFO: Starting loggertodb\n", want: false},
		{level: "DEBUG", line: "13:47:00 DEBUG: reading /var/lib/loggers/a.dat\n", want: true},
		{level: "ERROR", line: "13:47:00 failed to open /var/lib/loggers/a.dat: no such file\n", want: true},
		{level: "ERROR", line: "no prefix at all\n", want: true},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.line, testhelper.ANSIEnd)
		logLevel = levelIndex(test.level)
		var b strings.Builder
		n, err := levelWriter{w: &b}.Write([]byte(test.line))
		if err != nil || n != len(test.line) {
			t.Fatalf("Write() = %d, %v", n, err)
		}
		if got := b.Len() > 0; got != test.want {
			t.Fatalf("loglevel %v wrote %q: %v, want %v", test.level, test.line, got, test.want)
		}
	}
}

func TestGCSLocalDisk(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "station1.dat")
	if err := os.WriteFile(dataFile, []byte(testData), 0o666); err != nil {
		t.Fatal(err)
	}
	bucket := filepath.Join(dir, "bucket")
	general := "store = gcs\ngcs_bucket = " + bucket + "\ngcs_data_dir = loggertodb/v1"
	callMain(t, []string{"-gcs-local-disk", writeConfig(t, dir, general, dataFile)}, "")
	client := testhelper.NewDiskClient(bucket)
	for _, objPath := range []string{
		"loggertodb/v1/tables/series.table.json",
		"loggertodb/v1/1334/5/variants.json",
		"loggertodb/v1/1334/5/1/cursor.json",
		"loggertodb/v1/1334/6/1/cursor.json",
	} {
		if _, err := client.Download(context.Background(), objPath); err != nil {
			t.Fatalf("Download(%v) = %v", objPath, err)
		}
	}
}

func TestDaemon(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "station1.dat")
	if err := os.WriteFile(dataFile, []byte(testData), 0o666); err != nil {
		t.Fatal(err)
	}
	boltPath := filepath.Join(dir, "store.bolt")
	general := "store = bolt\nbolt_path = " + boltPath
	configFile := writeConfig(t, dir, general, dataFile)
	go func() {
		// Append a record while the daemon is watching.
		time.Sleep(2 * time.Second)
		f, err := os.OpenFile(dataFile, os.O_APPEND|os.O_WRONLY, 0o666)
		if err != nil {
			return
		}
		f.WriteString("2019-02-28 14:07,25.4,42.0\n") //nolint:errcheck
		f.Close()
	}()
	callMain(t, []string{"-daemon", "-watch", "-test-interval", "5s", configFile}, "")
	s, err := tsstore.NewBolt(boltPath)
	if err != nil {
		t.Fatalf("NewBolt() = %v", err)
	}
	defer s.Close()
	latest, err := s.LatestTimestamp(context.Background(), 1334, 5, 1)
	if err != nil {
		t.Fatalf("LatestTimestamp() = %v", err)
	}
	if want := time.Date(2019, 2, 28, 14, 7, 0, 0, time.UTC); !latest.Equal(want) {
		t.Fatalf("LatestTimestamp() = %v, want %v", latest, want)
	}
}

func TestWatchedItems(t *testing.T) { //nolint:paralleltest
	items := []upload.Item{
		{Name: "a", Storage: fakeStorage("/var/lib/loggers/station1.dat")},
		{Name: "b", Storage: fakeStorage("/var/lib/loggers/bar?")},
		{Name: "c", Storage: fakeStorage("/var/lib/weatherlink")},
	}
	tests := []struct {
		path string
		want string
	}{
		{path: "/var/lib/loggers/station1.dat", want: "a"},
		{path: "/var/lib/loggers/bar2", want: "b"},
		{path: "/var/lib/weatherlink/2014-01.wlk", want: "c"},
		{path: "/var/lib/loggers/other.dat", want: ""},
	}
	for _, test := range tests {
		var names []string
		for _, item := range watchedItems(items, test.path) {
			names = append(names, item.Name)
		}
		if strings.Join(names, ",") != test.want {
			t.Fatalf("watchedItems(%v) = %v, want %v", test.path, names, test.want)
		}
	}
}

type fakeStorage string

func (f fakeStorage) StationID() int     { return 1334 }
func (f fakeStorage) VariableIDs() []int { return nil }
func (f fakeStorage) Path() string       { return string(f) }

func (f fakeStorage) RecentData(ctx context.Context, id int, after time.Time) (loggerstorage.Series, error) {
	return nil, nil
}

// callMain calls main() with the given command line in osArgs, expecting
// an error that will include the given string in wantErrStr (which could
// be the empty string "").
//
// Since flags are global variables, we need to create a new flag set before
// calling main().  Also, we need to change the behavior of fatal to panic
// instead of exiting in order to recover from fatal errors.
func callMain(t *testing.T, osArgs []string, wantErrStr string) {
	t.Helper()
	saveOSArgs := os.Args
	saveFatal := fatal
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	defer func() {
		gotErr := recoverError(recover())
		if gotErr == nil {
			if wantErrStr != "" {
				t.Fatalf("main() = nil, wanted %v", wantErrStr)
			}
		} else {
			if wantErrStr == "" {
				t.Fatalf("main() = %v, wanted \"\"", gotErr)
			} else if !strings.Contains(gotErr.Error(), wantErrStr) {
				t.Fatalf("main() = %v, wanted %v", gotErr, wantErrStr)
			}
		}
		os.Args = saveOSArgs
		fatal = saveFatal
	}()
	os.Args = []string{"loggertodb-test", "-test-interval", "2s"}
	os.Args = append(os.Args, osArgs...)
	fatal = log.Panic
	t.Logf(">>> %v", strings.Join(os.Args, " "))
	main()
}

// recoverError returns the error that caused the panic.
func recoverError(r any) error {
	if r == nil {
		return nil
	}
	var err error
	switch x := r.(type) {
	case string:
		err = errors.New(x) //nolint
	case error:
		err = x
	default:
		err = errors.New("unknown panic") //nolint
	}
	return err
}
