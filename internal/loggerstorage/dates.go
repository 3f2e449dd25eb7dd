package loggerstorage

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// strftimeLayouts maps the supported strftime directives to Go layout
// elements.  The numeric elements accept one or two digits, like
// strptime does.
var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'H': "15",
	'I': "3",
	'M': "4",
	'S': "5",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'z': "-0700",
	'Z': "MST",
}

// paddedLayouts are the fixed width forms of the numeric elements,
// used for directives adjacent to another numeric directive.  Unpadded
// elements could otherwise fuse into a different layout element (e.g.,
// "%m%S" would give "15", the hour).
var paddedLayouts = map[byte]string{
	'm': "01",
	'd': "02",
	'I': "03",
	'M': "04",
	'S': "05",
}

func numericDirective(c byte) bool {
	return strings.IndexByte("YymdHIMSj", c) >= 0
}

// Literal text that time.Parse would take for a layout element.
var layoutTokens = []string{"Jan", "Mon", "MST", "PM", "pm"}

// dateItem is a directive or, if directive is zero, literal text of a
// date format.
type dateItem struct {
	directive byte
	literal   string
}

// dateLayout translates a strftime format such as "%d/%m/%Y %H:%M" into
// the equivalent Go layout.
func dateLayout(format string) (string, error) {
	items, err := splitDateFormat(format)
	if err != nil {
		return "", err
	}
	var layout strings.Builder
	for i, item := range items {
		if item.directive == 0 {
			if strings.ContainsAny(item.literal, "0123456789") {
				return "", fmt.Errorf("%w: date_format %q: digits are not supported outside directives", ErrConfig, format)
			}
			for _, token := range layoutTokens {
				if strings.Contains(item.literal, token) {
					return "", fmt.Errorf("%w: date_format %q: literal %q is not supported", ErrConfig, format, token)
				}
			}
			layout.WriteString(item.literal)
			continue
		}
		elem := strftimeLayouts[item.directive]
		adjacent := (i > 0 && numericDirective(items[i-1].directive)) ||
			(i+1 < len(items) && numericDirective(items[i+1].directive))
		if padded, ok := paddedLayouts[item.directive]; ok && adjacent {
			elem = padded
		}
		layout.WriteString(elem)
	}
	return layout.String(), nil
}

// splitDateFormat splits a strftime format into directives and literal
// text.  "%%" is literal text.
func splitDateFormat(format string) ([]dateItem, error) {
	var items []dateItem
	var literal strings.Builder
	flush := func() {
		if literal.Len() > 0 {
			items = append(items, dateItem{literal: literal.String()})
			literal.Reset()
		}
	}
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			literal.WriteByte(format[i])
			continue
		}
		i++
		if i == len(format) {
			return nil, fmt.Errorf("%w: date_format %q ends with a lone %%", ErrConfig, format)
		}
		if format[i] == '%' {
			literal.WriteByte('%')
			continue
		}
		if _, ok := strftimeLayouts[format[i]]; !ok {
			return nil, fmt.Errorf("%w: date_format %q: unsupported directive %%%c", ErrConfig, format, format[i])
		}
		flush()
		items = append(items, dateItem{directive: format[i]})
	}
	flush()
	return items, nil
}

// parseLayout parses s with a layout returned by dateLayout and returns
// the naive time truncated to the minute.
func parseLayout(layout, s string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck
	}
	return minute(naiveTime(t)), nil
}

// Layouts tried before falling back to dateparse; they cover the
// timestamps of nearly all loggers and are much cheaper.
var isoLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04"}

// isoDate is the date part every ISO 8601 timestamp starts with.
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// parseISO parses an ISO 8601 date and time and returns the naive time
// truncated to the minute.  A zone designator, if any, is ignored.
func parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if !isoDate.MatchString(s) {
		return time.Time{}, fmt.Errorf("%q is not an ISO 8601 date", s)
	}
	t, err := dateparse.ParseStrict(s)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck
	}
	return minute(naiveTime(t)), nil
}
