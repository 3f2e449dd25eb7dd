// This tool is a part of e2e helper programs and plays the role of a
// meteorological logger: it appends records in the "simple" storage
// format to a logger file, backfilling the given number of days first.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var (
	loggerFile = flag.String("logger-file", "../e2e/local/var/lib/loggers/station.dat", "pathname of the logger storage file to append records to")
	nDays      = flag.Int("days", 7, "number of days of records to backfill")
	step       = flag.Duration("step", 10*time.Minute, "time step of the records")
	nFields    = flag.Int("fields", 2, "number of values per record")
	sleep      = flag.Duration("sleep", 10*time.Second, "sleep time between appending new records")
	verbose    = flag.Bool("verbose", false, "enable verbose mode")
)

func main() {
	flag.Parse()
	if *loggerFile == "" {
		*loggerFile = os.Getenv("LOGGER_FILE")
	}
	if *loggerFile == "" || *step <= 0 || *nFields < 1 {
		fmt.Println("must specify a logger file, a positive step, and at least one field") //nolint
		os.Exit(1)
	}
	rng := rand.New(rand.NewSource(int64(os.Getpid()))) //nolint:gosec
	t := time.Now().Truncate(*step).AddDate(0, 0, -*nDays)
	for n := 0; ; n++ {
		appendRecord(rng, t)
		t = t.Add(*step)
		if t.After(time.Now()) {
			time.Sleep(*sleep)
		}
		fmt.Printf("%v\r", n) //nolint
	}
}

func appendRecord(rng *rand.Rand, t time.Time) {
	record := t.Format("2006-01-02 15:04")
	for i := 0; i < *nFields; i++ {
		// Occasionally record a missing value like real loggers do.
		if rng.Intn(50) == 0 { //nolint:gomnd
			record += ",NaN"
			continue
		}
		record += fmt.Sprintf(",%.1f", 10+20*rng.Float64()) //nolint:gomnd
	}
	if *verbose {
		fmt.Printf("appending %v\n", record) //nolint
	}
	f, err := os.OpenFile(*loggerFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	if _, err := f.WriteString(record + "\n"); err != nil {
		panic(err)
	}
}
