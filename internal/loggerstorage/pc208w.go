package loggerstorage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// pc208w lines are comma delimited:
//
//	subset,?,year,day-of-year,HHMM,value1,value2,...
//
// HHMM 2400 means midnight of the next day.
type pc208w struct {
	subset string
}

func init() {
	formats.register("pc208w", factory{
		required: append([]string{"subset_identifiers"}, textRequired...),
		optional: textOptional,
		create: func(s *settings) (format, error) {
			return newTextFormat(s, pc208w{subset: s.cfg["subset_identifiers"]})
		},
	})
}

func (pc208w) timestamp(line string) (time.Time, error) {
	items := strings.Split(line, ",")
	if len(items) < 5 {
		return time.Time{}, errInvalidDate
	}
	var n [3]int
	for i := range n {
		v, err := strconv.Atoi(strings.TrimSpace(items[i+2]))
		if err != nil {
			return time.Time{}, errInvalidDate
		}
		n[i] = v
	}
	year, yday, hour, min := n[0], n[1], n[2]/100, n[2]%100
	if hour == 24 {
		hour = 0
		yday++
	}
	if yday < 1 || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return time.Time{}, fmt.Errorf("%w: day %d, time %04d", errInvalidDate, n[1], n[2])
	}
	return time.Date(year, time.January, yday, hour, min, 0, 0, time.UTC), nil
}

func (pc208w) item(line string, seq int) (string, string, error) {
	item, err := field(strings.Split(line, ","), seq+4)
	return item, "", err
}

func (p pc208w) belongs(line string) bool {
	si, _, _ := strings.Cut(line, ",")
	return strings.TrimSpace(si) == p.subset
}
