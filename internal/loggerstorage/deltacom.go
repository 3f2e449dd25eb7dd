package loggerstorage

import (
	"strings"
	"time"
)

// Flags of deltacom values, indicated by a trailing character.
var deltacomFlags = map[byte]string{
	'#': "LOGOVERRUN",
	'$': "LOGNOISY",
	'%': "LOGOUTSIDE",
	'&': "LOGRANGE",
}

// deltacom lines are white space delimited; the first item is an ISO
// 8601 timestamp and the rest are values.
type deltacom struct{}

func init() {
	formats.register("deltacom", factory{
		required: textRequired,
		optional: textOptional,
		create: func(s *settings) (format, error) {
			return newTextFormat(s, deltacom{})
		},
	})
}

func (deltacom) timestamp(line string) (time.Time, error) {
	items := strings.Fields(line)
	if len(items) == 0 {
		return time.Time{}, errInvalidDate
	}
	ts, err := parseISO(items[0])
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return ts, nil
}

func (deltacom) item(line string, seq int) (string, string, error) {
	item, err := field(strings.Fields(line), seq)
	if err != nil {
		return "", "", err
	}
	item = strings.TrimSpace(item)
	if item == "" {
		return item, "", nil
	}
	if flags, ok := deltacomFlags[item[len(item)-1]]; ok {
		return item[:len(item)-1], flags, nil
	}
	return item, "", nil
}

func (deltacom) belongs(string) bool {
	return true
}
