package loggerstorage

import (
	"strings"
	"time"
)

// CR1000 lines are comma delimited:
//
//	"2019-02-28 13:47:00",record,?,subset,value1,value2,...
type cr1000 struct {
	subset string
}

func init() {
	formats.register("CR1000", factory{
		required: append([]string{"subset_identifiers"}, textRequired...),
		optional: textOptional,
		create: func(s *settings) (format, error) {
			return newTextFormat(s, cr1000{subset: s.cfg["subset_identifiers"]})
		},
	})
}

func (cr1000) timestamp(line string) (time.Time, error) {
	datestr, _, _ := strings.Cut(line, ",")
	datestr = strings.Trim(datestr, `"`)
	if len(datestr) > 16 {
		datestr = datestr[:16]
	}
	ts, err := parseISO(datestr)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return ts, nil
}

func (cr1000) item(line string, seq int) (string, string, error) {
	item, err := field(strings.Split(line, ","), seq+3)
	return item, "", err
}

// belongs is false for lines too short to have a subset identifier.
func (c cr1000) belongs(line string) bool {
	items := strings.Split(line, ",")
	return len(items) > 3 && strings.TrimSpace(items[3]) == c.subset
}
