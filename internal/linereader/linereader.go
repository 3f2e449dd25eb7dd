// Package linereader reads text lines of logger files either from the
// end of the file backwards or from its start forwards, decoding them
// from the file's character encoding into UTF-8.
//
// Reading backwards is what makes tail extraction cheap: the cost of
// finding the records that are newer than a watermark is proportional
// to the number of new records and not to the size of the file, which
// for some loggers holds years of data.
//
// Line splitting happens on the raw '\n' byte before decoding, so only
// ASCII-compatible encodings (UTF-8 and the single byte code pages)
// are supported.  Bytes that are invalid in the configured encoding are
// replaced by U+FFFD instead of failing the read.
package linereader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncoding is used when no encoding name is given.
const DefaultEncoding = "utf-8"

var (
	blockSize = 64 * 1024

	ErrEncoding = errors.New("unsupported encoding")
	ErrOpen     = errors.New("failed to open file")
	ErrRead     = errors.New("failed to read file")
)

// ReverseReader yields the lines of a file last line first.
type ReverseReader struct {
	file    *os.File
	decoder *encoding.Decoder
	pos     int64  // file offset up to which bytes have not been read yet
	buf     []byte // read bytes that have not been returned as lines yet
	started bool   // true after the first block has been read
	done    bool   // true after the first line of the file was returned
}

// ForwardReader yields the lines of a file in physical order.
type ForwardReader struct {
	file    *os.File
	reader  *bufio.Reader
	decoder *encoding.Decoder
}

// LookupEncoding returns the encoding with the given name.  Both WHATWG
// labels (e.g., "utf8", "windows-1253", "iso-8859-7") and IANA names are
// recognized.
func LookupEncoding(name string) (encoding.Encoding, error) { //nolint:ireturn
	if name == "" {
		name = DefaultEncoding
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrEncoding, name)
	}
	return enc, nil
}

// Reverse opens the given file for reading backwards.  Every call
// starts a fresh scan from the end of the file.  The caller must call
// Close() when done.
func Reverse(path, encodingName string) (*ReverseReader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", ErrOpen, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%v: %w", ErrOpen, err)
	}
	return &ReverseReader{
		file:    file,
		decoder: enc.NewDecoder(),
		pos:     fi.Size(),
		done:    fi.Size() == 0,
	}, nil
}

// Next returns the line preceding the previously returned one, without
// its line terminator.  It returns io.EOF after the first line of the
// file has been returned.
func (r *ReverseReader) Next() (string, error) {
	for {
		if i := bytes.LastIndexByte(r.buf, '\n'); i >= 0 {
			line := r.buf[i+1:]
			r.buf = r.buf[:i]
			return r.decode(line)
		}
		if r.pos == 0 {
			if r.done {
				return "", io.EOF
			}
			r.done = true
			line := r.buf
			r.buf = nil
			return r.decode(line)
		}
		if err := r.readBlock(); err != nil {
			return "", err
		}
	}
}

// Close closes the underlying file.
func (r *ReverseReader) Close() error {
	return r.file.Close() //nolint:wrapcheck
}

// readBlock prepends the block of bytes preceding the unread region
// to the buffer.
func (r *ReverseReader) readBlock() error {
	n := int64(blockSize)
	if n > r.pos {
		n = r.pos
	}
	r.pos -= n
	block := make([]byte, int(n)+len(r.buf))
	if _, err := r.file.ReadAt(block[:n], r.pos); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%v: %w", ErrRead, err)
	}
	copy(block[n:], r.buf)
	r.buf = block
	if !r.started {
		// The terminator of the last line does not start a new line.
		r.started = true
		r.buf = bytes.TrimSuffix(r.buf, []byte("\n"))
	}
	return nil
}

func (r *ReverseReader) decode(line []byte) (string, error) {
	return decode(r.decoder, line)
}

// Forward opens the given file for reading in physical order.  The
// caller must call Close() when done.
func Forward(path, encodingName string) (*ForwardReader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", ErrOpen, err)
	}
	return &ForwardReader{
		file:    file,
		reader:  bufio.NewReader(file),
		decoder: enc.NewDecoder(),
	}, nil
}

// Next returns the next line without its line terminator.  It returns
// io.EOF after the last line has been returned.
func (f *ForwardReader) Next() (string, error) {
	line, err := f.reader.ReadBytes('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%v: %w", ErrRead, err)
		}
		if len(line) == 0 {
			return "", io.EOF
		}
	}
	return decode(f.decoder, bytes.TrimSuffix(line, []byte("\n")))
}

// Close closes the underlying file.
func (f *ForwardReader) Close() error {
	return f.file.Close() //nolint:wrapcheck
}

func decode(decoder *encoding.Decoder, line []byte) (string, error) {
	decoded, err := decoder.Bytes(line)
	if err != nil {
		return "", fmt.Errorf("%v: %w", ErrRead, err)
	}
	return strings.TrimSuffix(string(decoded), "\r"), nil
}
