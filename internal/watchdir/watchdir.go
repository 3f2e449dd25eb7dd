// Package watchdir watches the directories of logger storages and sends
// notifications to its client when a storage file changes, so that the
// client can extract the new data without waiting for its next
// scheduled cycle.
//
// A notification for a file is sent once and then suppressed until the
// client acknowledges it; a logger appending a record in many small
// writes therefore triggers one notification instead of a flurry.
package watchdir

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

// WatchEvent is the message that is passed through the watch channel.
type WatchEvent struct {
	Path   string // file pathname
	Missed bool   // true if the change was found by scanning, not by an event
}

// WatchDirClient is the interface of a watcher as seen by its client.
type WatchDirClient interface { //nolint:revive
	WatchChan() chan WatchEvent
	WatchAckChan() chan<- []string
	WatchAndNotify(ctx context.Context) error
}

// WatchDir defines the logger storage paths to watch.
type WatchDir struct {
	patterns       []string            // storage paths, glob patterns, or directories
	watchDirs      []string            // directories to watch (deduplicated)
	watchEvents    []notify.Event      // events to watch for
	watchChan      chan WatchEvent     // channel to send watch events through
	watchAckChan   chan []string       // channel for client to acknowledge events received
	missedAge      time.Duration       // a change's minimum age before it's considered missed
	missedInterval time.Duration       // interval for scanning storage paths for missed changes
	notifiedFiles  map[string]struct{} // files for which notification is pending
	notifiedAt     map[string]time.Time
	notifiedLock   sync.Mutex // lock for notifiedFiles and notifiedAt
}

const (
	watchChanSize  = 1000
	notifyChanSize = 1000
)

var (
	// DefaultWatchEvents are the events that mean a logger wrote data.
	DefaultWatchEvents = []notify.Event{
		notify.InCloseWrite,
		notify.InMovedTo,
		notify.InCreate,
	}

	eventNames = map[notify.Event]string{
		notify.InAccess:       "File was accessed",
		notify.InModify:       "File was modified",
		notify.InAttrib:       "Metadata changed",
		notify.InCloseWrite:   "Writable file was closed",
		notify.InCloseNowrite: "Unwritable file closed",
		notify.InOpen:         "File was opened",
		notify.InMovedFrom:    "File was moved from X",
		notify.InMovedTo:      "File was moved to Y",
		notify.InCreate:       "Subfile was created",
		notify.InDelete:       "Subfile was deleted",
		notify.InDeleteSelf:   "Self was deleted",
		notify.InMoveSelf:     "Self was moved",
	}

	ErrNoPatterns        = errors.New("no storage paths to watch")
	errUnrecognizedEvent = errors.New("unrecognized event")
	errNotifyWatch       = errors.New("failed to start notify.Watch")

	// Testing and debugging support.
	vFunc     = func(fmt string, args ...interface{}) {}
	vFuncLock sync.Mutex
)

// Verbose prints verbose messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	vFuncLock.Lock()
	vFunc = v
	vFuncLock.Unlock()
}

func verbose(fmt string, args ...interface{}) {
	vFuncLock.Lock()
	vFunc(fmt, args...)
	vFuncLock.Unlock()
}

// New returns a new instance of WatchDir.  Each pattern is the path of a
// logger storage: a file, a glob pattern of files (multi-file storages),
// or a directory (storages that keep one file per month).
func New(patterns []string, watchEvents []notify.Event, missedAge, missedInterval time.Duration) (*WatchDir, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}
	if len(watchEvents) == 0 {
		watchEvents = DefaultWatchEvents
	} else if err := validateWatchEvents(watchEvents); err != nil {
		return nil, err
	}
	wd := &WatchDir{
		watchEvents:    watchEvents,
		watchChan:      make(chan WatchEvent, watchChanSize),
		watchAckChan:   make(chan []string, watchChanSize),
		missedAge:      missedAge,
		missedInterval: missedInterval,
		notifiedFiles:  make(map[string]struct{}),
		notifiedAt:     make(map[string]time.Time),
	}
	dirs := map[string]struct{}{}
	for _, p := range patterns {
		p = filepath.Clean(p)
		wd.patterns = append(wd.patterns, p)
		dirs[watchDirOf(p)] = struct{}{}
	}
	for d := range dirs {
		wd.watchDirs = append(wd.watchDirs, d)
	}
	sort.Strings(wd.watchDirs)
	return wd, nil
}

// watchDirOf returns the directory to watch for the given pattern.
func watchDirOf(pattern string) string {
	if fi, err := os.Stat(pattern); err == nil && fi.IsDir() {
		return pattern
	}
	return filepath.Dir(pattern)
}

// WatchChan returns the channel through which watch events (paths)
// are sent to the client.
func (wd *WatchDir) WatchChan() chan WatchEvent {
	return wd.watchChan
}

// WatchAckChan returns the channel through which client acknowledges
// the watch events it has received and processed, so that further
// changes of these files are notified again.
func (wd *WatchDir) WatchAckChan() chan<- []string {
	return wd.watchAckChan
}

// WatchAndNotify watches the storage directories for the configured
// events and sends the pathnames of the storage files that changed
// through the watch channel.
func (wd *WatchDir) WatchAndNotify(ctx context.Context) error {
	eiChan := make(chan notify.EventInfo, notifyChanSize)
	for _, dir := range wd.watchDirs {
		if _, err := os.Stat(dir); err != nil {
			// Changes there will be found by scanning.
			log.Printf("WARNING: not watching %v: %v\n", dir, err)
			continue
		}
		verbose("watching directory %v and notifying", dir)
		if err := notify.Watch(dir, eiChan, wd.watchEvents...); err != nil {
			notify.Stop(eiChan)
			return fmt.Errorf("%v: %w", errNotifyWatch, err)
		}
	}
	defer notify.Stop(eiChan)
	go wd.findMissedAndNotify(ctx)

	for {
		select {
		case <-ctx.Done():
			verbose("'watch and notify' context canceled for %v", wd.watchDirs)
			return nil
		case ei, chOpen := <-eiChan:
			if !chOpen {
				verbose("event info channel closed")
				return nil
			}
			if err := validateWatchEvents([]notify.Event{ei.Event()}); err != nil {
				log.Printf("WARNING: ignoring unrecognized event %v for %v\n", ei, ei.Path())
				continue
			}
			if !wd.Matches(ei.Path()) {
				verbose("ignoring %v", ei.Path())
				continue
			}
			wd.checkAndNotify(WatchEvent{Path: ei.Path(), Missed: false})
		case fullPaths, chOpen := <-wd.watchAckChan:
			if !chOpen {
				verbose("watch acknowledgement channel closed")
				return nil
			}
			wd.ackNotifications(fullPaths)
		}
	}
}

// Matches returns true if the given path belongs to one of the watched
// logger storages.
func (wd *WatchDir) Matches(path string) bool {
	for _, p := range wd.patterns {
		if MatchesPattern(p, path) {
			return true
		}
	}
	return false
}

// MatchesPattern returns true if the given path belongs to the logger
// storage with the given path: the path itself, a file matching it as a
// glob pattern, or a file directly in it as a directory.
func MatchesPattern(pattern, path string) bool {
	pattern, path = filepath.Clean(pattern), filepath.Clean(path)
	if path == pattern || filepath.Dir(path) == pattern {
		return true
	}
	ok, err := filepath.Match(pattern, path)
	return err == nil && ok
}

// validateWatchEvents validates that all watch events in the specified
// list are valid.
func validateWatchEvents(watchEvents []notify.Event) error {
	for _, we := range watchEvents {
		if _, ok := eventNames[we]; !ok {
			return fmt.Errorf("%v: %w", we, errUnrecognizedEvent)
		}
	}
	return nil
}

// ackNotifications gets a list of files that the client acknowledges
// was notified about.
func (wd *WatchDir) ackNotifications(fullPaths []string) {
	wd.notifiedLock.Lock()
	defer wd.notifiedLock.Unlock()
	for _, fullPath := range fullPaths {
		if _, ok := wd.notifiedFiles[fullPath]; !ok {
			log.Panicf("%v not in notifiedFiles", fullPath)
		}
		delete(wd.notifiedFiles, fullPath)
	}
}

// findMissedAndNotify periodically looks for storage files that were
// modified since their last notification but whose events were lost
// (e.g., because the storage directory did not exist when watching
// started) and sends their pathnames through the watch channel.
func (wd *WatchDir) findMissedAndNotify(ctx context.Context) {
	verbose("scanning %v every %v to find missed changes", wd.patterns, wd.missedInterval)
	for {
		select {
		case <-ctx.Done():
			verbose("'find missed and notify' context canceled for %v", wd.watchDirs)
			return
		case <-time.After(wd.missedInterval):
		}
		for _, path := range wd.storageFiles() {
			fi, err := os.Stat(path)
			if err != nil {
				// The file may have been rotated away.
				log.Printf("WARNING: failed to stat: %v\n", err)
				continue
			}
			if !fi.Mode().IsRegular() || time.Since(fi.ModTime()) < wd.missedAge {
				continue
			}
			wd.notifiedLock.Lock()
			last, ok := wd.notifiedAt[path]
			wd.notifiedLock.Unlock()
			if ok && !fi.ModTime().After(last) {
				continue
			}
			wd.checkAndNotify(WatchEvent{Path: path, Missed: true})
		}
	}
}

// storageFiles returns the files that currently belong to the watched
// logger storages.
func (wd *WatchDir) storageFiles() []string {
	var files []string
	for _, p := range wd.patterns {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			p = filepath.Join(p, "*")
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			log.Printf("WARNING: bad pattern %v: %v\n", p, err)
			continue
		}
		files = append(files, matches...)
	}
	return files
}

// checkAndNotify sends a notification unless one is already pending for
// the same file.
func (wd *WatchDir) checkAndNotify(we WatchEvent) {
	wd.notifiedLock.Lock()
	wd.notifiedAt[we.Path] = time.Now()
	if _, ok := wd.notifiedFiles[we.Path]; ok {
		wd.notifiedLock.Unlock()
		verbose("notification pending for %v", we)
		return
	}
	wd.notifiedFiles[we.Path] = struct{}{}
	wd.notifiedLock.Unlock()
	wd.watchChan <- we
	verbose("notification sent for %v", we)
}
