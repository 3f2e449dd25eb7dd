package loggerstorage //nolint:testpackage

import (
	"errors"
	"testing"
	"time"

	"github.com/m-lab/loggertodb/internal/testhelper"
)

func TestDateLayout(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		input   string
		want    time.Time
		wantErr error
	}{
		{
			name:   "day first",
			format: "%d/%m/%Y %H:%M",
			input:  "28/2/2019 13:47",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:   "two digit year and seconds",
			format: "%y%m%d %H%M%S",
			input:  "190228 134759",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:   "adjacent directives",
			format: "%Y%m%d%H%M",
			input:  "201902281347",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:   "month next to seconds",
			format: "%Y-%m%S %H:%M",
			input:  "2019-0233 13:47",
			want:   naive(2019, 2, 1, 13, 47),
		},
		{
			name:   "twelve hour clock",
			format: "%Y-%m-%d %I:%M %p",
			input:  "2019-02-28 01:47 PM",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:   "month names",
			format: "%d %b %Y %H:%M",
			input:  "28 Feb 2019 13:47",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:   "percent literal",
			format: "%Y-%m-%d %H:%M%%",
			input:  "2019-02-28 13:47%",
			want:   naive(2019, 2, 28, 13, 47),
		},
		{
			name:    "unsupported directive",
			format:  "%Y-%m-%d %H:%M %Q",
			wantErr: ErrConfig,
		},
		{
			name:    "lone percent",
			format:  "%Y-%m-%d %",
			wantErr: ErrConfig,
		},
		{
			name:    "digits in literal",
			format:  "%Y-%m-%d 1%H",
			wantErr: ErrConfig,
		},
		{
			name:    "layout token in literal",
			format:  "Mon %Y-%m-%d",
			wantErr: ErrConfig,
		},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		layout, err := dateLayout(test.format)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("dateLayout(%q) = %v, want %v", test.format, err, test.wantErr)
		}
		if err != nil {
			continue
		}
		got, err := parseLayout(layout, test.input)
		if err != nil {
			t.Fatalf("parseLayout(%q, %q) = %v, want nil", layout, test.input, err)
		}
		if !got.Equal(test.want) {
			t.Fatalf("parseLayout(%q, %q) = %v, want %v", layout, test.input, got, test.want)
		}
	}
}

func TestDateLayoutAdjacent(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{format: "%m%S", want: "0105"},
		{format: "%d/%m/%Y %H:%M", want: "2/1/2006 15:4"},
		{format: "%y%m%d %H%M%S", want: "060102 150405"},
		{format: "%I%M %p", want: "0304 PM"},
	}
	for _, test := range tests {
		got, err := dateLayout(test.format)
		if err != nil || got != test.want {
			t.Fatalf("dateLayout(%q) = %q, %v, want %q", test.format, got, err, test.want)
		}
	}
}

func TestParseISO(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "2019-02-28T13:47", want: naive(2019, 2, 28, 13, 47)},
		{input: " 2019-02-28 13:47 ", want: naive(2019, 2, 28, 13, 47)},
		{input: "2019-02-28 13:47:33", want: naive(2019, 2, 28, 13, 47)},
		{input: "2019-02-28T13:47:33+02:00", want: naive(2019, 2, 28, 13, 47)},
		{input: "2019-02-29T13:47", wantErr: true},
		{input: "hello", wantErr: true},
		{input: "1551361620", wantErr: true},
		{input: "02/03/2019 13:47", wantErr: true},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %q%s", testhelper.ANSIPurple, i, test.input, testhelper.ANSIEnd)
		got, err := parseISO(test.input)
		if (err != nil) != test.wantErr {
			t.Fatalf("parseISO(%q) = %v, want error %v", test.input, err, test.wantErr)
		}
		if err == nil && !got.Equal(test.want) {
			t.Fatalf("parseISO(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}
