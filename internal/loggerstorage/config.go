package loggerstorage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/loggertodb/internal/dst"
)

// Config is the configuration of a single logger storage, i.e., the
// parameters of one station section of the configuration file.
type Config map[string]string

// Parameters common to all formats.
var (
	commonRequired = []string{"path", "storage_format", "station_id"}
	commonOptional = []string{"timezone"}
)

// settings holds what every format needs after the common parameters
// have been validated.
type settings struct {
	cfg        Config
	format     string
	path       string
	stationID  int
	normalizer *dst.Normalizer
	openDB     DBOpener
}

// checkParameters verifies that all required parameters are present and
// that no unknown parameter is present.
func checkParameters(cfg Config, required, optional []string) error {
	for _, p := range required {
		if _, ok := cfg[p]; !ok {
			return fmt.Errorf("%w: Parameter %q is required", ErrConfig, p)
		}
	}
	known := make(map[string]struct{}, len(required)+len(optional))
	for _, p := range append(append([]string{}, required...), optional...) {
		known[p] = struct{}{}
	}
	names := make([]string, 0, len(cfg))
	for p := range cfg {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		if _, ok := known[p]; !ok {
			return fmt.Errorf("%w: Unknown parameter %q", ErrConfig, p)
		}
	}
	return nil
}

// newSettings validates the common parameters.
func newSettings(cfg Config, opts *options) (*settings, error) {
	stationID, err := intParameter(cfg, "station_id", 0)
	if err != nil {
		return nil, err
	}
	tzName := cfg["timezone"]
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrConfig, tzName, err)
	}
	var dstOpts []dst.Option
	if opts.clock != nil {
		dstOpts = append(dstOpts, dst.WithClock(opts.clock))
	}
	return &settings{
		cfg:        cfg,
		format:     cfg["storage_format"],
		path:       cfg["path"],
		stationID:  stationID,
		normalizer: dst.New(loc, dstOpts...),
		openDB:     opts.openDB,
	}, nil
}

// intParameter returns the value of an integer parameter, or def if
// the parameter is absent or empty.
func intParameter(cfg Config, name string, def int) (int, error) {
	value := strings.TrimSpace(cfg[name])
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: Parameter %q must be an integer: %q", ErrConfig, name, value)
	}
	return n, nil
}

// choiceParameter returns the value of a parameter that must be one of
// the given choices.  The first choice is the default.
func choiceParameter(cfg Config, name string, choices []string) (string, error) {
	value, ok := cfg[name]
	if !ok {
		return choices[0], nil
	}
	for _, c := range choices {
		if value == c {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %v must be one of %v", ErrConfig, name, strings.Join(choices, ", "))
}

// idList parses a comma separated list of variable ids such as the
// value of the "fields" parameter.
func idList(cfg Config, name string) ([]int, error) {
	var ids []int
	for _, s := range strings.Split(cfg[name], ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: Parameter %q must be a comma separated list of integers: %q", ErrConfig, name, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
