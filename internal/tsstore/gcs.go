package tsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/m-lab/loggertodb/api"
	"github.com/m-lab/loggertodb/internal/gcs"
	"github.com/m-lab/loggertodb/internal/jsonlbundle"
	"github.com/m-lab/loggertodb/internal/loggerstorage"
	"github.com/m-lab/loggertodb/internal/schema"
)

// GCSConfig defines the GCS store configuration.
type GCSConfig struct {
	Bucket   string
	DataDir  string         // directory in the bucket under which series are archived
	Archiver api.ArchiverV1 // version and git commit stamped on archived rows
}

// GCS is an append-only time series archive in a GCS bucket.  Each
// PostNewData call uploads one JSONL chunk and then advances the time
// series cursor; the BigQuery table schema of the chunks is validated
// and uploaded on first use.
//
// Layout under DataDir:
//
//	tables/series.table.json
//	<station>/<group>/variants.json
//	<station>/<group>/<variant>/cursor.json
//	<station>/<group>/<variant>/yyyy/mm/dd/<timestamp>-<uuid>.jsonl
type GCS struct {
	client     gcs.Client
	conf       GCSConfig
	schemaOnce sync.Once
	schemaErr  error
	storages   map[int]string // station id -> logger storage path
}

// NewGCS returns a GCS store.
func NewGCS(client gcs.Client, conf GCSConfig) *GCS {
	return &GCS{client: client, conf: conf, storages: map[int]string{}}
}

// SetStoragePath records the logger storage path of a station so that it
// is stamped on the archived rows.
func (g *GCS) SetStoragePath(station int, path string) {
	g.storages[station] = path
}

func (g *GCS) groupDir(station, group int) string {
	return fmt.Sprintf("%s/%d/%d", g.conf.DataDir, station, group)
}

func (g *GCS) cursorPath(station, group, variant int) string {
	return jsonlbundle.SeriesDir(g.conf.DataDir, jsonlbundle.Series{Station: station, Group: group, Variant: variant}) + "/cursor.json"
}

// downloadJSON downloads and unmarshals an object.  It returns false if
// the object does not exist.
func (g *GCS) downloadJSON(ctx context.Context, objPath string, v interface{}) (bool, error) {
	contents, err := g.client.Download(ctx, objPath)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := json.Unmarshal(contents, v); err != nil {
		return false, fmt.Errorf("%w: %v: %v", ErrStore, objPath, err)
	}
	return true, nil
}

func (g *GCS) uploadJSON(ctx context.Context, objPath string, v interface{}) error {
	contents, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := g.client.Upload(ctx, objPath, contents); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// ListVariants implements Store.
func (g *GCS) ListVariants(ctx context.Context, station, group int) ([]Variant, error) {
	var stored []api.VariantV1
	if _, err := g.downloadJSON(ctx, g.groupDir(station, group)+"/variants.json", &stored); err != nil {
		return nil, err
	}
	variants := make([]Variant, 0, len(stored))
	for _, v := range stored {
		variants = append(variants, Variant{ID: v.ID, Kind: v.Kind})
	}
	return variants, nil
}

// CreateVariant implements Store.
func (g *GCS) CreateVariant(ctx context.Context, station, group int, kind string) (int, error) {
	objPath := g.groupDir(station, group) + "/variants.json"
	var stored []api.VariantV1
	if _, err := g.downloadJSON(ctx, objPath, &stored); err != nil {
		return 0, err
	}
	id := 1
	for _, v := range stored {
		if v.ID >= id {
			id = v.ID + 1
		}
	}
	stored = append(stored, api.VariantV1{ID: id, Kind: kind})
	if err := g.uploadJSON(ctx, objPath, stored); err != nil {
		return 0, err
	}
	verbose("created %v time series %d/%d/%d", kind, station, group, id)
	return id, nil
}

// LatestTimestamp implements Store.
func (g *GCS) LatestTimestamp(ctx context.Context, station, group, variant int) (time.Time, error) {
	var cursor api.CursorV1
	found, err := g.downloadJSON(ctx, g.cursorPath(station, group, variant), &cursor)
	if err != nil || !found || cursor.Chunks == 0 {
		return time.Time{}, err
	}
	return cursor.Latest.In(time.UTC), nil
}

// PostNewData implements Store.  Points not after the cursor are
// skipped, so posting the same data twice archives it once.
func (g *GCS) PostNewData(ctx context.Context, station, group, variant int, series loggerstorage.Series) error {
	g.schemaOnce.Do(func() {
		g.schemaErr = schema.ValidateAndUpload(ctx, g.client, g.conf.DataDir)
	})
	if g.schemaErr != nil {
		return fmt.Errorf("%w: %v", ErrStore, g.schemaErr)
	}
	latest, err := g.LatestTimestamp(ctx, station, group, variant)
	if err != nil {
		return err
	}
	archiver := g.conf.Archiver
	archiver.Storage = g.storages[station]
	jb := jsonlbundle.New(g.conf.Bucket, g.conf.DataDir, jsonlbundle.Series{Station: station, Group: group, Variant: variant}, archiver)
	for _, p := range series.After(latest) {
		if err := jb.AddPoint(p.Timestamp, p.Value, p.Flags); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	if jb.Empty() {
		verbose("nothing new for %d/%d/%d", station, group, variant)
		return nil
	}
	if err := g.client.Upload(ctx, jb.ObjPath(), jb.Contents()); err != nil {
		return fmt.Errorf("%w: failed to upload %v: %v", ErrStore, jb.Description(), err)
	}
	var cursor api.CursorV1
	if _, err := g.downloadJSON(ctx, g.cursorPath(station, group, variant), &cursor); err != nil {
		return err
	}
	cursor.Latest = civil.DateTimeOf(jb.Latest)
	cursor.Chunks++
	if err := g.uploadJSON(ctx, g.cursorPath(station, group, variant), cursor); err != nil {
		return err
	}
	verbose("posted %d points to %d/%d/%d in %v", len(jb.Lines), station, group, variant, jb.ObjPath())
	return nil
}

// Close implements Store.
func (g *GCS) Close() error {
	return nil
}
