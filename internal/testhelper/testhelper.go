// Package testhelper implements code that helps in unit and integration
// testing.  The helpers in this package include verbose logging (with
// colored details) and a local disk storage implementation that mimics
// downloads from and uploads to cloud storage (GCS).
package testhelper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m-lab/loggertodb/internal/gcs"
)

const (
	ANSIGreen  = "\033[00;32m"
	ANSIBlue   = "\033[00;34m"
	ANSIPurple = "\033[00;35m"
	ANSIEnd    = "\033[0m"
)

var (
	ErrDownload = errors.New("forced download failure")
	ErrUpload   = errors.New("forced upload failure")
)

// VLogf logs messages in verbose mode (mostly for debugging).  Messages
// are prefixed by "filename:line-number function()" printed in green and
// the message printed in blue for easier visual inspection.
func VLogf(format string, args ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		log.Printf(format, args...)
		return
	}
	details := runtime.FuncForPC(pc)
	if details == nil {
		log.Printf(format, args...)
		return
	}
	file = filepath.Base(file)
	idx := strings.LastIndex(details.Name(), "/")
	if idx == -1 {
		idx = 0
	} else {
		idx++
	}
	a := []interface{}{ANSIGreen, file, line, details.Name()[idx:], ANSIBlue}
	a = append(a, args...)
	log.Printf("%s%s:%d: %s(): %s"+format+"%s", append(a, ANSIEnd)...)
}

// DiskClient implements a local disk storage that mimics downloads from
// and uploads to GCS.  Objects are files under Root.
//
// To force failures, set FailDownload or FailUpload.  Downloads and
// Uploads count the successful operations.
type DiskClient struct {
	Root         string
	FailDownload bool
	FailUpload   bool

	mu        sync.Mutex
	Downloads int
	Uploads   int
}

// NewDiskClient returns a disk storage client rooted at the given
// directory.
func NewDiskClient(root string) *DiskClient {
	return &DiskClient{Root: root}
}

// DiskNewClient has the signature of gcs.NewClient and returns a disk
// storage client whose root directory is the bucket name.
func DiskNewClient(ctx context.Context, bucket string) (gcs.Client, error) { //nolint:ireturn
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", ErrDownload)
	}
	return NewDiskClient(bucket), nil
}

// Download mimics downloading from GCS.
func (d *DiskClient) Download(ctx context.Context, objPath string) ([]byte, error) {
	if d.FailDownload {
		return nil, ErrDownload
	}
	contents, err := os.ReadFile(filepath.Join(d.Root, objPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%v: %w", objPath, gcs.ErrObjectNotExist)
		}
		return nil, err //nolint:wrapcheck
	}
	d.mu.Lock()
	d.Downloads++
	d.mu.Unlock()
	return contents, nil
}

// Upload mimics uploading to GCS.
func (d *DiskClient) Upload(ctx context.Context, objPath string, contents []byte) error {
	if d.FailUpload {
		return ErrUpload
	}
	file := filepath.Join(d.Root, objPath)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err //nolint:wrapcheck
	}
	if err := os.WriteFile(file, contents, 0o666); err != nil {
		return err //nolint:wrapcheck
	}
	d.mu.Lock()
	d.Uploads++
	d.mu.Unlock()
	return nil
}
