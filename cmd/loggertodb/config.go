package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/m-lab/loggertodb/internal/loggerstorage"
	"github.com/m-lab/loggertodb/internal/upload"
)

const generalSection = "General"

// general holds the [General] section of the configuration file.
type general struct {
	store      string // sql, bolt, or gcs
	dsn        string
	driver     string
	boltPath   string
	gcsBucket  string
	gcsDataDir string
	logfile    string
	loglevel   string
}

// secrets are read from the environment (and .env files) and override
// the configuration file so that credentials need not be stored in it.
type secrets struct {
	DSN       string `env:"LOGGERTODB_DSN"`
	GCSBucket string `env:"LOGGERTODB_GCS_BUCKET"`
}

// section is a logger storage section of the configuration file.
type section struct {
	name string
	cfg  loggerstorage.Config
}

type configuration struct {
	general  general
	sections []section
}

var (
	logLevels = []string{"ERROR", "WARNING", "INFO", "DEBUG"}
	stores    = []string{"sql", "bolt", "gcs"}

	errConfigFile = errors.New("failed to read configuration file")
	errNoSection  = errors.New("missing section")
	errNoOption   = errors.New("missing option")
	errWrongValue = errors.New("wrong value")
	errNoStations = errors.New("No stations have been specified") //nolint:stylecheck
	errSetup      = errors.New("failed to set up logger storages")
)

// readConfiguration reads and validates the configuration file.
func readConfiguration(path string) (*configuration, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:     true,
		IgnoreInlineComment: true, // ";" is a valid delimiter value
	}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfigFile, err)
	}
	conf := &configuration{}
	if err := conf.readGeneral(f); err != nil {
		return nil, err
	}
	if err := conf.readSecrets(); err != nil {
		return nil, err
	}
	if err := conf.validateStore(); err != nil {
		return nil, err
	}
	for _, s := range f.Sections() {
		name := s.Name()
		if name == ini.DefaultSection || name == generalSection {
			continue
		}
		cfg := loggerstorage.Config{}
		for _, k := range s.Keys() {
			cfg[k.Name()] = k.Value()
		}
		conf.sections = append(conf.sections, section{name: name, cfg: cfg})
	}
	if len(conf.sections) == 0 {
		return nil, errNoStations
	}
	return conf, nil
}

func (conf *configuration) readGeneral(f *ini.File) error {
	s, err := f.GetSection(generalSection)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoSection, generalSection)
	}
	value := func(key, fallback string) string {
		if !s.HasKey(key) {
			return fallback
		}
		return strings.TrimSpace(s.Key(key).Value())
	}
	conf.general = general{
		store:      value("store", ""),
		dsn:        value("dsn", ""),
		driver:     value("driver", "postgres"),
		boltPath:   value("bolt_path", ""),
		gcsBucket:  value("gcs_bucket", ""),
		gcsDataDir: value("gcs_data_dir", "loggertodb/v1"),
		logfile:    value("logfile", ""),
		loglevel:   strings.ToUpper(value("loglevel", "WARNING")),
	}
	if !contains(logLevels, conf.general.loglevel) {
		return fmt.Errorf("%w: loglevel must be one of %v", errWrongValue, strings.Join(logLevels, ", "))
	}
	return nil
}

// readSecrets overrides the configuration with secrets from the
// environment.  A missing .env file is not an error.
func (conf *configuration) readSecrets() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: failed to load .env file: %v\n", err)
	}
	var sec secrets
	if err := env.Parse(&sec); err != nil {
		return fmt.Errorf("%w: %v", errWrongValue, err)
	}
	if sec.DSN != "" {
		conf.general.dsn = sec.DSN
	}
	if sec.GCSBucket != "" {
		conf.general.gcsBucket = sec.GCSBucket
	}
	return nil
}

func (conf *configuration) validateStore() error {
	g := conf.general
	var missing string
	switch g.store {
	case "":
		missing = "store"
	case "sql":
		if g.dsn == "" {
			missing = "dsn"
		}
	case "bolt":
		if g.boltPath == "" {
			missing = "bolt_path"
		}
	case "gcs":
		if g.gcsBucket == "" {
			missing = "gcs_bucket"
		}
	default:
		return fmt.Errorf("%w: store must be one of %v", errWrongValue, strings.Join(stores, ", "))
	}
	if missing != "" {
		return fmt.Errorf("%w: %v in section %v", errNoOption, missing, generalSection)
	}
	return nil
}

// storages creates the logger storages of all sections.  A section whose
// storage cannot be created is logged and skipped; the items of the other
// sections are returned along with an error wrapping errSetup.
func (conf *configuration) storages() ([]upload.Item, error) {
	items := make([]upload.Item, 0, len(conf.sections))
	var errs []error
	for _, s := range conf.sections {
		storage, err := loggerstorage.New(s.cfg)
		if err != nil {
			log.Printf("ERROR: Error while processing item %v: %v\n", s.name, err)
			errs = append(errs, fmt.Errorf("%v: %w", s.name, err))
			continue
		}
		items = append(items, upload.Item{Name: s.name, Storage: storage})
	}
	if len(errs) > 0 {
		return items, fmt.Errorf("%w: %w", errSetup, errors.Join(errs...))
	}
	return items, nil
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}
