// Package main implements loggertodb, which reads the data that
// meteorological loggers recorded since the last run and uploads it to a
// time series store.
//
// We use fatal() instead of calling log.Fatal() directly because
// log.Fatal() calls os.Exit() which will not run deferred calls and also
// makes testing harder (for testing, fatal is log.Panic and we can
// recover from it).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/m-lab/go/prometheusx"
	"github.com/prometheus/client_golang/prometheus"

	// Database drivers of the odbc storage format and the sql store.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	// Time zones of logger storages on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/m-lab/loggertodb/api"
	"github.com/m-lab/loggertodb/internal/gcs"
	"github.com/m-lab/loggertodb/internal/metrics"
	"github.com/m-lab/loggertodb/internal/testhelper"
	"github.com/m-lab/loggertodb/internal/tsstore"
	"github.com/m-lab/loggertodb/internal/upload"
	"github.com/m-lab/loggertodb/internal/watchdir"
)

var (
	// Set at build time with -ldflags "-X main.version=... -X main.gitCommit=...".
	version   = "v0.0.0"
	gitCommit = "unknown"

	fatal      = log.Fatal
	appMetrics = sync.OnceValue(func() *metrics.Metrics {
		return metrics.New(prometheus.DefaultRegisterer)
	})
)

// main supports two modes of operation:
//   - A one-shot mode (the default) that runs one upload cycle and exits
//     nonzero if any logger storage failed to set up or to upload.
//   - A daemon mode that runs an upload cycle every interval and,
//     optionally, whenever a logger storage file changes.
func main() {
	log.SetFlags(log.Ltime)
	if err := parseAndValidateCLI(); err != nil {
		fatal(err)
	}
	conf, err := readConfiguration(configFile)
	if err != nil {
		fatal(err)
	}
	if err := setupLogging(conf.general); err != nil {
		fatal(err)
	}
	defer closeLogging()
	if conf.general.loglevel == "DEBUG" && !verbose {
		enableVerbose(debugf)
	}
	infof("Starting loggertodb, %v", time.Now().Format(time.RFC3339))

	// Sections that fail to set up are skipped but still fail the run.
	items, setupErr := conf.storages()

	mainCtx, mainCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer mainCancel()
	if testInterval > 0 {
		var cancel context.CancelFunc
		mainCtx, cancel = context.WithTimeout(mainCtx, testInterval)
		defer cancel()
	}
	store, err := openStore(mainCtx, conf.general)
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	uploader := upload.New(store, appMetrics(), upload.Config{})

	if daemon {
		err = runDaemon(mainCtx, uploader, items)
	} else {
		err = uploader.Run(mainCtx, "startup", items)
	}
	infof("Finished loggertodb, %v", time.Now().Format(time.RFC3339))
	if err = errors.Join(setupErr, err); err != nil {
		fatal(err)
	}
}

// openStore opens the time series store of the configuration.
func openStore(ctx context.Context, g general) (tsstore.Store, error) { //nolint:ireturn
	switch g.store {
	case "sql":
		return tsstore.NewSQL(ctx, g.driver, g.dsn) //nolint:wrapcheck
	case "bolt":
		return tsstore.NewBolt(g.boltPath) //nolint:wrapcheck
	}
	client, err := newGCSClient(ctx, g.gcsBucket)
	if err != nil {
		return nil, err
	}
	return tsstore.NewGCS(client, tsstore.GCSConfig{
		Bucket:   g.gcsBucket,
		DataDir:  g.gcsDataDir,
		Archiver: api.ArchiverV1{Version: "loggertodb@" + version, GitCommit: gitCommit},
	}), nil
}

// newGCSClient returns a GCS client, or a local disk client whose root
// directory is the bucket name if -gcs-local-disk was specified.
func newGCSClient(ctx context.Context, bucket string) (gcs.Client, error) { //nolint:ireturn
	if gcsLocalDisk {
		return testhelper.DiskNewClient(ctx, bucket) //nolint:wrapcheck
	}
	client, err := gcs.NewClient(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return client, nil
}

// runDaemon runs upload cycles until the context is canceled.  Cycles
// are serialized: a watch triggered cycle waits for a scheduled one and
// vice versa.
func runDaemon(ctx context.Context, uploader *upload.Uploader, items []upload.Item) error {
	srv := prometheusx.MustServeMetrics()
	defer srv.Close()

	var mu sync.Mutex
	cycle := func(trigger string, items []upload.Item) {
		mu.Lock()
		defer mu.Unlock()
		if err := uploader.Run(ctx, trigger, items); err != nil {
			log.Printf("WARNING: %v cycle: %v\n", trigger, err)
		}
	}
	cycle("startup", items)

	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(interval).WaitForSchedule().Do(cycle, "schedule", items); err != nil {
		return fmt.Errorf("failed to schedule upload cycles: %w", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	if !watch {
		<-ctx.Done()
		return nil
	}
	wdClient, err := startWatcher(ctx, items)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case we, chOpen := <-wdClient.WatchChan():
			if !chOpen {
				return nil
			}
			matched := watchedItems(items, we.Path)
			debugf("%v changed (missed: %v), %d storage(s)", we.Path, we.Missed, len(matched))
			cycle("watch", matched)
			wdClient.WatchAckChan() <- []string{we.Path}
		}
	}
}

// startWatcher starts a directory watcher goroutine that notifies us of
// changes of the file based logger storages.
func startWatcher(ctx context.Context, items []upload.Item) (watchdir.WatchDirClient, error) { //nolint:ireturn
	var patterns []string
	for _, item := range items {
		if s, ok := item.Storage.(interface{ Format() string }); ok && s.Format() == "odbc" {
			continue
		}
		patterns = append(patterns, item.Storage.Path())
	}
	wdClient, err := watchdir.New(patterns, nil, missedAge, missedInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate watcher: %w", err)
	}
	go func() {
		if err := wdClient.WatchAndNotify(ctx); err != nil {
			log.Printf("ERROR: directory watcher: %v\n", err)
		}
	}()
	return wdClient, nil
}

// watchedItems returns the items whose storage the given file belongs to.
func watchedItems(items []upload.Item, path string) []upload.Item {
	var matched []upload.Item
	for _, item := range items {
		if watchdir.MatchesPattern(item.Storage.Path(), path) {
			matched = append(matched, item)
		}
	}
	return matched
}
