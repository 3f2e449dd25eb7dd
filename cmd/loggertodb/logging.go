package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
)

// Messages above the configured log level are dropped.  The level of a
// message is its "LEVEL: " prefix, which is how every package of this
// program logs, so the gate applies to all of them.  Messages without a
// level prefix (e.g., fatal errors) are always written.
var (
	logLevel = 1 // index in logLevels

	logOutput *os.File
)

func levelIndex(level string) int {
	for i, l := range logLevels {
		if l == level {
			return i
		}
	}
	return len(logLevels)
}

// levelWriter writes the log lines whose level is enabled to w.
type levelWriter struct {
	w io.Writer
}

func (lw levelWriter) Write(p []byte) (int, error) {
	if !enabled(p) {
		return len(p), nil
	}
	return lw.w.Write(p) //nolint:wrapcheck
}

// enabled reports whether a log line is at or below the log level.  The
// level is the last word before the first ": " of the line, after the
// time of day written by the log package.
func enabled(line []byte) bool {
	i := bytes.Index(line, []byte(": "))
	if i < 0 {
		return true
	}
	prefix := line[:i]
	if j := bytes.LastIndexByte(prefix, ' '); j >= 0 {
		prefix = prefix[j+1:]
	}
	index := levelIndex(string(prefix))
	return index == len(logLevels) || index <= logLevel
}

// setupLogging applies the logfile and loglevel of the configuration.
func setupLogging(g general) error {
	logLevel = levelIndex(g.loglevel)
	var out io.Writer = os.Stderr
	if g.logfile != "" {
		f, err := os.OpenFile(g.logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open logfile: %w", err)
		}
		logOutput = f
		out = f
	}
	log.SetOutput(levelWriter{w: out})
	return nil
}

// closeLogging restores logging to stderr.
func closeLogging() {
	log.SetOutput(os.Stderr)
	if logOutput == nil {
		return
	}
	logOutput.Close()
	logOutput = nil
}

func logf(level, format string, args ...interface{}) {
	if levelIndex(level) > logLevel {
		return
	}
	log.Printf(level+": "+format+"\n", args...)
}

func infof(format string, args ...interface{}) {
	logf("INFO", format, args...)
}

func debugf(format string, args ...interface{}) {
	logf("DEBUG", format, args...)
}
