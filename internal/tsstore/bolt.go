package tsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
)

// The bolt store keeps one bucket per time series group, named
// "<station>/<group>", holding a "variants" bucket (id -> kind) and one
// bucket per variant whose keys are ISO timestamps, so that the last key
// of a variant bucket is its latest point.
const variantsBucket = "variants"

type boltPoint struct {
	Value *float64 `json:"value"`
	Flags string   `json:"flags"`
}

// Bolt is a time series store in a local bbolt file.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (creating if needed) the bolt database at the given path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrStore, path, err)
	}
	return &Bolt{db: db}, nil
}

func groupKey(station, group int) []byte {
	return []byte(fmt.Sprintf("%d/%d", station, group))
}

func variantKey(id int) []byte {
	return []byte(fmt.Sprintf("%010d", id))
}

// ListVariants implements Store.
func (b *Bolt) ListVariants(ctx context.Context, station, group int) ([]Variant, error) {
	var variants []Variant
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket(groupKey(station, group))
		if gb == nil {
			return nil
		}
		vb := gb.Bucket([]byte(variantsBucket))
		if vb == nil {
			return nil
		}
		return vb.ForEach(func(k, v []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("bad variant key %q: %w", k, err)
			}
			variants = append(variants, Variant{ID: id, Kind: string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return variants, nil
}

// CreateVariant implements Store.
func (b *Bolt) CreateVariant(ctx context.Context, station, group int, kind string) (int, error) {
	var id int
	err := b.db.Update(func(tx *bolt.Tx) error {
		gb, err := tx.CreateBucketIfNotExists(groupKey(station, group))
		if err != nil {
			return fmt.Errorf("could not create group bucket: %w", err)
		}
		vb, err := gb.CreateBucketIfNotExists([]byte(variantsBucket))
		if err != nil {
			return fmt.Errorf("could not create variants bucket: %w", err)
		}
		id = 1
		if k, _ := vb.Cursor().Last(); k != nil {
			last, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("bad variant key %q: %w", k, err)
			}
			id = last + 1
		}
		if _, err := gb.CreateBucketIfNotExists(variantKey(id)); err != nil {
			return fmt.Errorf("could not create variant bucket: %w", err)
		}
		return vb.Put(variantKey(id), []byte(kind))
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	verbose("created %v time series %d/%d/%d", kind, station, group, id)
	return id, nil
}

// LatestTimestamp implements Store.
func (b *Bolt) LatestTimestamp(ctx context.Context, station, group, variant int) (time.Time, error) {
	var latest time.Time
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket(groupKey(station, group))
		if gb == nil {
			return nil
		}
		pb := gb.Bucket(variantKey(variant))
		if pb == nil {
			return nil
		}
		k, _ := pb.Cursor().Last()
		if k == nil {
			return nil
		}
		var err error
		latest, err = parseISO(string(k))
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return latest, nil
}

// PostNewData implements Store.  Points whose timestamps already exist
// are overwritten.
func (b *Bolt) PostNewData(ctx context.Context, station, group, variant int, series loggerstorage.Series) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		gb := tx.Bucket(groupKey(station, group))
		if gb == nil {
			return fmt.Errorf("no time series group %d/%d", station, group)
		}
		pb := gb.Bucket(variantKey(variant))
		if pb == nil {
			return fmt.Errorf("no time series %d/%d/%d", station, group, variant)
		}
		for _, p := range series {
			bp := boltPoint{Flags: p.Flags}
			if !math.IsNaN(p.Value) {
				v := p.Value
				bp.Value = &v
			}
			buf, err := json.Marshal(bp)
			if err != nil {
				return fmt.Errorf("failed to marshal point: %w", err)
			}
			if err := pb.Put([]byte(isoformat(p.Timestamp)), buf); err != nil {
				return err //nolint:wrapcheck
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	verbose("posted %d points to %d/%d/%d", len(series), station, group, variant)
	return nil
}

// Points returns all points of a time series.
func (b *Bolt) Points(station, group, variant int) (loggerstorage.Series, error) {
	var series loggerstorage.Series
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket(groupKey(station, group))
		if gb == nil {
			return nil
		}
		pb := gb.Bucket(variantKey(variant))
		if pb == nil {
			return nil
		}
		return pb.ForEach(func(k, v []byte) error {
			t, err := parseISO(string(k))
			if err != nil {
				return err
			}
			var bp boltPoint
			if err := json.Unmarshal(v, &bp); err != nil {
				return fmt.Errorf("failed to unmarshal point: %w", err)
			}
			p := loggerstorage.Point{Timestamp: t, Value: math.NaN(), Flags: bp.Flags}
			if bp.Value != nil {
				p.Value = *bp.Value
			}
			series = append(series, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return series, nil
}

// Close closes the bolt database.
func (b *Bolt) Close() error {
	return b.db.Close() //nolint:wrapcheck
}
