// Package main implements loggertodb.
package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/loggertodb/internal/gcs"
	"github.com/m-lab/loggertodb/internal/jsonlbundle"
	"github.com/m-lab/loggertodb/internal/loggerstorage"
	"github.com/m-lab/loggertodb/internal/schema"
	"github.com/m-lab/loggertodb/internal/testhelper"
	"github.com/m-lab/loggertodb/internal/tsstore"
	"github.com/m-lab/loggertodb/internal/upload"
	"github.com/m-lab/loggertodb/internal/watchdir"
)

var (
	// Flags related to daemon mode.
	daemon         bool
	interval       time.Duration
	watch          bool
	missedAge      time.Duration
	missedInterval time.Duration

	// Flags related to program's execution.
	verbose      bool
	gcsLocalDisk bool
	testInterval time.Duration

	configFile string

	// Errors related to command line parsing and validation.
	errNoConfigFile = errors.New("must specify a configuration file")
	errExtraArgs    = errors.New("extra arguments on the command line")
	errInterval     = errors.New("interval must be at least one minute")
	errWatchDaemon  = errors.New("watch requires daemon mode")
)

func initFlags() {
	flag.BoolVar(&daemon, "daemon", false, "keep running and upload new data every interval")
	flag.DurationVar(&interval, "interval", 10*time.Minute, "time interval between upload cycles in daemon mode")
	flag.BoolVar(&watch, "watch", false, "also start an upload cycle when a logger storage file changes (daemon mode)")
	flag.DurationVar(&missedAge, "missed-age", 1*time.Minute, "minimum duration since a file's last modification time before a missed change is notified")
	flag.DurationVar(&missedInterval, "missed-interval", 5*time.Minute, "time interval between scans of logger storages for missed changes")

	flag.BoolVar(&verbose, "verbose", false, "enable verbose mode")
	flag.BoolVar(&gcsLocalDisk, "gcs-local-disk", false, "use local disk storage instead of cloud storage (for test purposes only)")
	flag.DurationVar(&testInterval, "test-interval", 0, "time interval to stop running (for test purposes only)")
}

// parseAndValidateCLI parses and validates the command line.
func parseAndValidateCLI() error {
	initFlags()
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: loggertodb [flags] <configfile>\n") //nolint:errcheck
		flag.PrintDefaults()
	}
	flag.Parse()

	// Now, check if some flags were set in the environment instead
	// of on the command line.
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to get args from the environment: %w", err)
	}

	// Enable verbose mode in all packages as soon as the flags are
	// parsed.
	if verbose {
		enableVerbose(testhelper.VLogf)
	}

	switch flag.NArg() {
	case 0:
		return errNoConfigFile
	case 1:
		configFile = flag.Arg(0)
	default:
		return errExtraArgs
	}
	if daemon && interval < time.Minute {
		return errInterval
	}
	if watch && !daemon {
		return errWatchDaemon
	}
	return nil
}

func enableVerbose(v func(string, ...interface{})) {
	gcs.Verbose(v)
	schema.Verbose(v)
	jsonlbundle.Verbose(v)
	loggerstorage.Verbose(v)
	tsstore.Verbose(v)
	upload.Verbose(v)
	watchdir.Verbose(v)
}
