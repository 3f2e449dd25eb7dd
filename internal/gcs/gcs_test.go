package gcs //nolint:testpackage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"google.golang.org/api/option"
)

func TestVerbose(t *testing.T) { //nolint:paralleltest
	Verbose(func(fmt string, args ...interface{}) {})
}

func TestNewClient(t *testing.T) { //nolint:paralleltest
	saveStorageNewClient := storageNewClient
	defer func() {
		storageNewClient = saveStorageNewClient
	}()
	storageNewClient = testNewClient
	c := context.Background()
	// Should fail because context does not have deadline.
	if _, err := NewClient(c, "loggertodb-archive"); !errors.Is(err, errCreateClient) {
		t.Fatalf("NewClient() = %v, want %v", err, errCreateClient)
	}
	ctx, cancel := context.WithTimeout(c, time.Second)
	defer cancel()
	client, err := NewClient(ctx, "loggertodb-archive")
	if err != nil {
		t.Fatalf("NewClient() = %v, want nil", err)
	}
	if client.Bucket() != "loggertodb-archive" {
		t.Fatalf("Bucket() = %v, want loggertodb-archive", client.Bucket())
	}
}

func testNewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("forced failure") //nolint:goerr113
	}
	return &storage.Client{}, nil
}

func TestDownload(t *testing.T) { //nolint:paralleltest
	tests := []struct {
		objPath string
		wantErr error
	}{
		{objPath: "series/1334/5/cursor.json", wantErr: nil},
		{objPath: "should-fail-new-reader", wantErr: io.EOF},
		{objPath: "should-not-exist", wantErr: ErrObjectNotExist},
		{objPath: "should-fail", wantErr: errDownloadObject},
	}
	for _, test := range tests {
		contents, err := fakeGCSClient().Download(context.Background(), test.objPath)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("Download(%v) = %v, want %v", test.objPath, err, test.wantErr)
		}
		if err == nil && string(contents) != test.objPath {
			t.Fatalf("Download(%v) = %q, want %q", test.objPath, contents, test.objPath)
		}
	}
}

func TestUpload(t *testing.T) { //nolint:paralleltest
	tests := []struct {
		contents string
		wantErr  error
	}{
		{contents: `{"latest":"2019-02-28T13:47:00","chunks":1}`, wantErr: nil},
		{contents: "should-fail-write", wantErr: errUploadObject},
		{contents: "should-fail-close", wantErr: errCloseObject},
	}
	for _, test := range tests {
		err := fakeGCSClient().Upload(context.Background(), "series/1334/5/cursor.json", []byte(test.contents))
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("Upload(%q) = %v, want %v", test.contents, err, test.wantErr)
		}
	}
}

type fakeClient struct {
	stiface.Client
}

func fakeGCSClient() *StorageClient {
	f := fakeClient{}
	return newStorageClient("loggertodb-archive", &f, f.Bucket("loggertodb-archive"))
}

func (f fakeClient) Bucket(name string) stiface.BucketHandle { //nolint:ireturn
	return &fakeBucketHandle{}
}

type fakeBucketHandle struct {
	stiface.BucketHandle
}

func (f fakeBucketHandle) Object(name string) stiface.ObjectHandle { //nolint:ireturn
	return fakeObjectHandle{name: name}
}

type fakeObjectHandle struct {
	stiface.ObjectHandle
	name string
}

func (f fakeObjectHandle) NewReader(ctx context.Context) (stiface.Reader, error) { //nolint:ireturn
	switch f.name {
	case "should-fail-new-reader":
		return nil, io.EOF
	case "should-not-exist":
		return nil, storage.ErrObjectNotExist
	}
	return &fakeReader{data: []byte(f.name)}, nil
}

func (f fakeObjectHandle) NewWriter(ctx context.Context) stiface.Writer { //nolint:ireturn
	return &fakeWriter{}
}

// Fake reader implementation.
type fakeReader struct {
	stiface.Reader
	data  []byte
	index int
}

func (f *fakeReader) Close() error {
	return nil
}

func (f *fakeReader) Read(p []byte) (int, error) {
	if string(f.data) == "should-fail" {
		return 0, io.ErrUnexpectedEOF
	}
	if f.index >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.index:])
	f.index += n
	return n, nil
}

// Fake writer implementation.
type fakeWriter struct {
	stiface.Writer
	data []byte
}

func (f *fakeWriter) Close() error {
	if string(f.data) == "should-fail-close" {
		return io.EOF
	}
	return nil
}

func (f *fakeWriter) Write(p []byte) (int, error) {
	if string(p) == "should-fail-write" {
		return 0, io.ErrUnexpectedEOF
	}
	f.data = append(f.data, p...)
	return len(p), nil
}
