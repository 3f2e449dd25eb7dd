package loggerstorage

import (
	"fmt"
	"time"
)

// simple lines consist of delimited items: optionally some items to
// ignore, then the date and time, either as one item or as two
// consecutive ones, then the values.  Items may be quoted.
type simple struct {
	delimiter string
	ignore    int
	layout    string
}

// simpleOptional are the parameters that simple adds to the text ones.
var simpleOptional = []string{"nfields_to_ignore", "delimiter", "date_format"}

func init() {
	formats.register("simple", factory{
		required: textRequired,
		optional: append(append([]string{}, textOptional...), simpleOptional...),
		create: func(s *settings) (format, error) {
			p, err := newSimple(s.cfg, s.cfg["delimiter"])
			if err != nil {
				return nil, err
			}
			return newTextFormat(s, p)
		},
	})
}

func newSimple(cfg Config, delimiter string) (*simple, error) {
	ignore, err := intParameter(cfg, "nfields_to_ignore", 0)
	if err != nil {
		return nil, err
	}
	if ignore < 0 {
		return nil, fmt.Errorf("%w: nfields_to_ignore must not be negative", ErrConfig)
	}
	p := &simple{delimiter: delimiter, ignore: ignore}
	if f := cfg["date_format"]; f != "" {
		if p.layout, err = dateLayout(f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// separateTime reports whether date and time are separate items, which
// is assumed when the date item is too short to also hold the time.
func (p *simple) separateTime(items []string) bool {
	return p.ignore < len(items) && len(unquote(items[p.ignore])) <= 10
}

func (p *simple) timestamp(line string) (time.Time, error) {
	items := splitFields(line, p.delimiter)
	datestr, err := field(items, p.ignore)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '': %v", err)
	}
	datestr = unquote(datestr)
	if p.separateTime(items) {
		timestr, err := field(items, p.ignore+1)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date '%v': %v", datestr, err)
		}
		datestr += " " + unquote(timestr)
	}
	var ts time.Time
	if p.layout != "" {
		ts, err = parseLayout(p.layout, datestr)
	} else {
		iso := datestr
		if len(iso) > 16 {
			iso = iso[:16]
		}
		ts, err = parseISO(iso)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%v': %v", datestr, err)
	}
	return ts, nil
}

func (p *simple) item(line string, seq int) (string, string, error) {
	items := splitFields(line, p.delimiter)
	i := p.ignore + seq
	if p.separateTime(items) {
		i++
	}
	item, err := field(items, i)
	return unquote(item), "", err
}

func (*simple) belongs(string) bool {
	return true
}
