// Package schema implements code that handles the BigQuery table schema
// of archived time series rows.
//
// The table schema is inferred from api.SeriesRowV1 and uploaded next to
// the archived chunks so that a loader can create the table.  A schema
// already in the bucket may only be extended: removing a field or
// changing its type would break the rows archived so far.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/m-lab/loggertodb/api"
	"github.com/m-lab/loggertodb/internal/gcs"
)

type (
	bqField   map[string]interface{}
	visitFunc func([]string, bqField) error
	mapDiff   struct {
		nInOld int
		nInNew int
		nType  int
	}
)

var (
	tblSchemaPathTemplate = "<datadir>/tables/series.table.json"

	ErrInferSchema  = errors.New("failed to infer schema")
	ErrEmptySchema  = errors.New("empty schema file")
	ErrMarshal      = errors.New("failed to marshal schema")
	ErrUnmarshal    = errors.New("failed to unmarshal schema")
	ErrOnlyInOld    = errors.New("field(s) only in old schema")
	ErrTypeMismatch = errors.New("difference(s) in schema field types")
	ErrType         = errors.New("unexpected type")
	ErrDownload     = errors.New("failed to download schema")
	ErrUpload       = errors.New("failed to upload schema")

	// Testing and debugging support.
	verbosef = func(fmt string, args ...interface{}) {}
)

// Verbose prints verbosef messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	verbosef = v
}

// TablePath returns the object name of the table schema for the given
// GCS data directory.
func TablePath(dataDir string) string {
	return strings.Replace(tblSchemaPathTemplate, "<datadir>", strings.TrimSuffix(dataDir, "/"), 1)
}

// TableSchema returns the table schema of archived rows.
func TableSchema() (bigquery.Schema, error) {
	tblSchema, err := bigquery.InferSchema(api.SeriesRowV1{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferSchema, err)
	}
	return tblSchema, nil
}

// TableSchemaJSON returns the table schema of archived rows in the JSON
// format of the bq command.
func TableSchemaJSON() ([]byte, error) {
	tblSchema, err := TableSchema()
	if err != nil {
		return nil, err
	}
	tblSchemaJSON, err := tblSchema.ToJSONFields()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarshal, err)
	}
	return tblSchemaJSON, nil
}

// ValidateAndUpload compares the current table schema against the
// previous table schema in the bucket and returns an error if they are
// not compatible.  If there is no previous schema, or if the current
// schema is a superset of it, the current schema is uploaded.
func ValidateAndUpload(ctx context.Context, gcsClient gcs.Client, dataDir string) error {
	objPath := TablePath(dataDir)
	newTblSchemaJSON, err := TableSchemaJSON()
	if err != nil {
		return err
	}
	verbosef("downloading %v", objPath)
	oldTblSchemaJSON, err := gcsClient.Download(ctx, objPath)
	if err != nil {
		if !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("%w: %v", ErrDownload, err)
		}
		verbosef("no old table schema")
		return upload(ctx, gcsClient, objPath, newTblSchemaJSON)
	}
	diff, err := diffTableSchemas(oldTblSchemaJSON, newTblSchemaJSON)
	if err != nil {
		return err
	}
	if diff.nInOld != 0 {
		return fmt.Errorf("incompatible schema: %2d %w", diff.nInOld, ErrOnlyInOld)
	}
	if diff.nType != 0 {
		return fmt.Errorf("incompatible schema: %2d %w", diff.nType, ErrTypeMismatch)
	}
	if diff.nInNew != 0 {
		verbosef("%2d field(s) only in new schema", diff.nInNew)
		return upload(ctx, gcsClient, objPath, newTblSchemaJSON)
	}
	return nil
}

func upload(ctx context.Context, gcsClient gcs.Client, objPath string, tblSchemaJSON []byte) error {
	verbosef("uploading %v", objPath)
	if err := gcsClient.Upload(ctx, objPath, tblSchemaJSON); err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return nil
}

// diffTableSchemas compares two table schemas in JSON format.  Deleting
// old fields or changing their types is a breaking change.
func diffTableSchemas(oldTblSchemaJSON, newTblSchemaJSON []byte) (*mapDiff, error) {
	oldFieldsMap, err := allFields(oldTblSchemaJSON)
	if err != nil {
		return nil, err
	}
	if len(oldFieldsMap) == 0 {
		return nil, ErrEmptySchema
	}
	newFieldsMap, err := allFields(newTblSchemaJSON)
	if err != nil {
		return nil, err
	}
	return compareMaps(oldFieldsMap, newFieldsMap), nil
}

// allFields returns a map of all fields in the given schema.  The key
// of each map entry is the full field name and its value is the field
// type (e.g., ["archiver.Version"]: "STRING").
func allFields(schemaJSON []byte) (map[string]string, error) {
	var schema []interface{}
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmarshal, err)
	}
	fields := make(map[string]string)
	err := visitAllFields(schema, func(fullFieldName []string, field bqField) error {
		if key := strings.Join(fullFieldName, "."); key != "" {
			fields[key] = fmt.Sprintf("%v", field["type"])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// visitAllFields calls the given visit function for each field in the
// given schema, descending into RECORD fields.
func visitAllFields(schema []interface{}, visit visitFunc) error {
	return visitAllFieldsRecursive(schema, visit, []string{})
}

func visitAllFieldsRecursive(schema []interface{}, visit visitFunc, fullFieldName []string) error {
	for _, field := range schema {
		f, ok := field.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", field, ErrType)
		}
		ffn := append(append([]string{}, fullFieldName...), fmt.Sprintf("%v", f["name"]))
		if err := visit(ffn, f); err != nil {
			return err
		}
		if f["type"] != "RECORD" {
			continue
		}
		record, ok := f["fields"].([]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", f["fields"], ErrType)
		}
		if err := visitAllFieldsRecursive(record, visit, ffn); err != nil {
			return err
		}
	}
	return nil
}

// compareMaps compares the given maps and returns their differences
// as three integers that are the number of (1) keys only in the new map,
// (2) keys only in the old map, and (3) different values.
func compareMaps(oldMap, newMap map[string]string) *mapDiff {
	diff := &mapDiff{}
	for _, n := range sortMapKeys(newMap) {
		if _, ok := oldMap[n]; !ok {
			verbosef("%-12s %v:%v", "only in new:", n, newMap[n])
			diff.nInNew++
			continue
		}
		if newMap[n] != oldMap[n] {
			verbosef("%-12s %v:%v in new, %v:%v in old", "mismatch:", n, newMap[n], n, oldMap[n])
			diff.nType++
		}
	}
	for _, o := range sortMapKeys(oldMap) {
		if _, ok := newMap[o]; !ok {
			verbosef("%-12s %v:%v", "only in old:", o, oldMap[o])
			diff.nInOld++
		}
	}
	return diff
}

// sortMapKeys returns a sorted slice of all keys in the given map.
func sortMapKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
