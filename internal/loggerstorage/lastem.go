package loggerstorage

import (
	"fmt"
	"strings"
	"time"
)

// Defaults of the lastem parameters.
const (
	lastemDelimiter  = ";"
	lastemDateFormat = "%d/%m/%Y %H:%M"
)

// lastem lines are delimited; the first three items identify the
// subset, the fourth is the date and the rest are values.
type lastem struct {
	delimiter string
	layout    string
	subset    []string
}

func init() {
	formats.register("lastem", factory{
		required: append([]string{"subset_identifiers"}, textRequired...),
		optional: append(append([]string{}, textOptional...), "decimal_separator", "delimiter", "date_format"),
		create:   newLastem,
	})
}

func newLastem(s *settings) (format, error) {
	p := &lastem{delimiter: lastemDelimiter}
	if d, ok := s.cfg["delimiter"]; ok {
		p.delimiter = d
	}
	dateFormat := s.cfg["date_format"]
	if dateFormat == "" {
		dateFormat = lastemDateFormat
	}
	var err error
	if p.layout, err = dateLayout(dateFormat); err != nil {
		return nil, err
	}
	for _, si := range strings.Split(s.cfg["subset_identifiers"], ",") {
		p.subset = append(p.subset, strings.TrimSpace(si))
	}
	if len(p.subset) != 3 {
		return nil, fmt.Errorf("%w: subset_identifiers must have three comma separated items", ErrConfig)
	}
	t, err := newTextFormat(s, p)
	if err != nil {
		return nil, err
	}
	t.decimal = s.cfg["decimal_separator"]
	return t, nil
}

func (p *lastem) timestamp(line string) (time.Time, error) {
	date, err := field(splitFields(line, p.delimiter), 3)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	ts, err := parseLayout(p.layout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errInvalidDate, err)
	}
	return ts, nil
}

func (p *lastem) item(line string, seq int) (string, string, error) {
	item, err := field(splitFields(line, p.delimiter), seq+3)
	return item, "", err
}

func (p *lastem) belongs(line string) bool {
	items := splitFields(line, p.delimiter)
	if len(items) < len(p.subset) {
		return false
	}
	for i, si := range p.subset {
		if strings.TrimSpace(items[i]) != si {
			return false
		}
	}
	return true
}
