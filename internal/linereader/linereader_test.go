package linereader //nolint:testpackage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/m-lab/loggertodb/internal/testhelper"
)

func writeFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(path, contents, 0o666); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	return path
}

func readAllReverse(t *testing.T, path, enc string) []string {
	t.Helper()
	r, err := Reverse(path, enc)
	if err != nil {
		t.Fatalf("Reverse() = %v, want nil", err)
	}
	defer r.Close()
	lines := []string{}
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("Next() = %v, want nil", err)
		}
		lines = append(lines, line)
	}
}

func readAllForward(t *testing.T, path, enc string) []string {
	t.Helper()
	f, err := Forward(path, enc)
	if err != nil {
		t.Fatalf("Forward() = %v, want nil", err)
	}
	defer f.Close()
	lines := []string{}
	for {
		line, err := f.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("Next() = %v, want nil", err)
		}
		lines = append(lines, line)
	}
}

func TestReverse(t *testing.T) { //nolint:paralleltest
	saveBlockSize := blockSize
	defer func() {
		blockSize = saveBlockSize
	}()
	tests := []struct {
		name      string
		blockSize int
		contents  string
		want      []string
	}{
		{"empty file", 64, "", []string{}},
		{"single line without terminator", 64, "one", []string{"one"}},
		{"single line with terminator", 64, "one\n", []string{"one"}},
		{"three lines", 64, "one\ntwo\nthree\n", []string{"three", "two", "one"}},
		{"blank line in the middle", 64, "one\n\nthree\n", []string{"three", "", "one"}},
		{"crlf terminators", 64, "one\r\ntwo\r\n", []string{"two", "one"}},
		{"lines span blocks", 3, "first line\nsecond line\nthird\n", []string{"third", "second line", "first line"}},
		{"one byte blocks", 1, "ab\ncd\n", []string{"cd", "ab"}},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		blockSize = test.blockSize
		path := writeFile(t, []byte(test.contents))
		if got := readAllReverse(t, path, ""); !reflect.DeepEqual(got, test.want) {
			t.Fatalf("reverse lines = %q, want %q", got, test.want)
		}
	}
}

func TestReverseIsRestartable(t *testing.T) { //nolint:paralleltest
	path := writeFile(t, []byte("a\nb\n"))
	first := readAllReverse(t, path, "utf8")
	second := readAllReverse(t, path, "utf8")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second scan = %q, want %q", second, first)
	}
}

func TestForward(t *testing.T) { //nolint:paralleltest
	path := writeFile(t, []byte("one\r\ntwo\nthree"))
	want := []string{"one", "two", "three"}
	if got := readAllForward(t, path, ""); !reflect.DeepEqual(got, want) {
		t.Fatalf("forward lines = %q, want %q", got, want)
	}
}

func TestEncodings(t *testing.T) { //nolint:paralleltest
	tests := []struct {
		name     string
		encoding string
		contents []byte
		want     string
	}{
		{"greek code page", "iso-8859-7", []byte{0xe1, 0xe2, 0xe3}, "αβγ"},
		{"windows greek", "windows-1253", []byte{0xe1, 'x'}, "αx"},
		{"invalid utf-8 is replaced", "utf-8", []byte{'a', 0xff, 'b'}, "a�b"},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		path := writeFile(t, append(test.contents, '\n'))
		got := readAllReverse(t, path, test.encoding)
		if len(got) != 1 || got[0] != test.want {
			t.Fatalf("reverse lines = %q, want [%q]", got, test.want)
		}
		got = readAllForward(t, path, test.encoding)
		if len(got) != 1 || got[0] != test.want {
			t.Fatalf("forward lines = %q, want [%q]", got, test.want)
		}
	}
}

func TestErrors(t *testing.T) { //nolint:paralleltest
	if _, err := Reverse("testdata/nonexistent", ""); !errors.Is(err, ErrOpen) {
		t.Fatalf("Reverse() = %v, want %v", err, ErrOpen)
	}
	if _, err := Forward("testdata/nonexistent", ""); !errors.Is(err, ErrOpen) {
		t.Fatalf("Forward() = %v, want %v", err, ErrOpen)
	}
	path := writeFile(t, []byte("x\n"))
	if _, err := Reverse(path, "no-such-encoding"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Reverse() = %v, want %v", err, ErrEncoding)
	}
}
