// This tool is a part of e2e helper programs and verifies that for
// every time series archived under a local disk bucket:
//
//  1. Every row of every chunk belongs to the series of its directory.
//  2. The points of the chunks, in chunk name order, have strictly
//     increasing timestamps.
//  3. The cursor agrees with the chunks on the latest timestamp and on
//     the number of chunks.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/m-lab/loggertodb/api"
	"github.com/m-lab/loggertodb/internal/jsonlbundle"
)

var verbose = flag.Bool("verbose", false, "enable verbose mode")

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		walkDir(".")
	} else {
		for _, arg := range flag.Args() {
			walkDir(arg)
		}
	}
}

func walkDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Panicf("failed to access path: %v", err)
		}
		if !d.IsDir() && d.Name() == "cursor.json" {
			checkSeries(filepath.Dir(path))
		}
		return nil
	})
	if err != nil {
		log.Panicf("failed to walk directory %v: %v", dir, err)
	}
}

// seriesOf returns the series of a <station>/<group>/<variant> directory.
func seriesOf(seriesDir string) jsonlbundle.Series {
	parts := strings.Split(filepath.ToSlash(seriesDir), "/")
	if len(parts) < 3 {
		log.Panicf("invalid series directory %v", seriesDir)
	}
	var ids [3]int
	for i, p := range parts[len(parts)-3:] {
		id, err := strconv.Atoi(p)
		if err != nil {
			log.Panicf("invalid series directory %v: %v", seriesDir, err)
		}
		ids[i] = id
	}
	return jsonlbundle.Series{Station: ids[0], Group: ids[1], Variant: ids[2]}
}

func checkSeries(seriesDir string) { //nolint:funlen,cyclop
	if *verbose {
		fmt.Printf("\nchecking series %v\n", seriesDir) //nolint:forbidigo
	}
	series := seriesOf(seriesDir)

	// 1. Verify we can read the cursor.
	contents, err := os.ReadFile(filepath.Join(seriesDir, "cursor.json"))
	if err != nil {
		log.Panicf("failed to read cursor of %v: %v", seriesDir, err)
	}
	var cursor api.CursorV1
	if err := json.Unmarshal(contents, &cursor); err != nil {
		log.Panicf("failed to unmarshal cursor of %v: %v", seriesDir, err)
	}

	// 2. Collect the chunks in name order, which is their upload order.
	var chunks []string
	err = filepath.WalkDir(seriesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			chunks = append(chunks, path)
		}
		return nil
	})
	if err != nil {
		log.Panicf("failed to walk series %v: %v", seriesDir, err)
	}
	sort.Slice(chunks, func(i, j int) bool { return filepath.Base(chunks[i]) < filepath.Base(chunks[j]) })
	if len(chunks) != cursor.Chunks {
		log.Panicf("series %v: cursor has %d chunks, found %d", seriesDir, cursor.Chunks, len(chunks))
	}

	// 3. Verify every row and the ordering of all points.
	var latest civil.DateTime
	n := 0
	for _, chunk := range chunks {
		f, err := os.Open(chunk)
		if err != nil {
			log.Panicf("failed to open %v: %v", chunk, err)
		}
		s := bufio.NewScanner(f)
		for s.Scan() {
			row, err := jsonlbundle.ParseLine(s.Text())
			if err != nil {
				log.Panicf("%v: %v", chunk, err)
			}
			if row.Station != series.Station || row.Group != series.Group || row.Variant != series.Variant {
				log.Panicf("%v: row of %d/%d/%d in series %v", chunk, row.Station, row.Group, row.Variant, seriesDir)
			}
			if n > 0 && !latest.Before(row.Timestamp) {
				log.Panicf("%v: %v does not follow %v", chunk, row.Timestamp, latest)
			}
			latest = row.Timestamp
			n++
		}
		if err := s.Err(); err != nil {
			log.Panicf("failed to read %v: %v", chunk, err)
		}
		f.Close()
	}
	if n > 0 && latest != cursor.Latest {
		log.Panicf("series %v: cursor latest %v, chunks latest %v", seriesDir, cursor.Latest, latest)
	}
	if *verbose {
		fmt.Printf("%d points in %d chunks, latest %v\n", n, len(chunks), latest) //nolint:forbidigo
	}
}
