package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/sender"
)

const (
	DefaultSubjectPrefix = "*** ATTACHMENTS REMOVED *** "
	DefaultSummaryHeader = "========================================\n" +
		" R E M O V E D    A T T A C H M E N T S \n" +
		"========================================\n"
	DefaultSummaryFooter = "========================================\n"

	envPrefix = "ARCHIVE_IMPORT"
)

// Settings are the importer tunables read from the optional settings file.
// Environment variables such as ARCHIVE_IMPORT_IMPORT_BATCH_SIZE override
// file values.
type Settings struct {
	IgnoredFolders []string
	NoLabelFolders []string
	Resolver       []sender.Mapping

	BatchEnabled   bool
	BatchSize      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	RetryCount     int
	RetryBackoff   time.Duration
	DetailedErrors bool

	MarkerLabel   string
	SubjectPrefix string
	SummaryHeader string
	SummaryFooter string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("folders.ignored", filter.DefaultIgnoredFolders)
	v.SetDefault("folders.no_label", filter.DefaultNoLabelFolders)
	v.SetDefault("sender.resolver.map", "")
	v.SetDefault("import.batch.enable", false)
	v.SetDefault("import.batch.size", 100)
	v.SetDefault("import.batch.connect_timeout", 30*time.Second)
	v.SetDefault("import.batch.read_timeout", 60*time.Second)
	v.SetDefault("import.retry.count", 3)
	v.SetDefault("import.retry.backoff", time.Second)
	v.SetDefault("import.error.subject_and_date", false)
	v.SetDefault("import.label.marker", destination.DefaultMarkerLabel)
	v.SetDefault("attachment.subject.prefix", DefaultSubjectPrefix)
	v.SetDefault("attachment.summary.body.header", DefaultSummaryHeader)
	v.SetDefault("attachment.summary.body.footer", DefaultSummaryFooter)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads path, which may be empty, on top of the defaults.
func LoadSettings(path string) (Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				return Settings{}, fmt.Errorf("settings file %s: %w", path, err)
			}
			return Settings{}, fmt.Errorf("reading settings %s: %w", path, err)
		}
	}

	mappings, err := sender.ParseMap(v.GetString("sender.resolver.map"))
	if err != nil {
		return Settings{}, fmt.Errorf("sender.resolver.map: %w", err)
	}

	s := Settings{
		IgnoredFolders: v.GetStringSlice("folders.ignored"),
		NoLabelFolders: v.GetStringSlice("folders.no_label"),
		Resolver:       mappings,
		BatchEnabled:   v.GetBool("import.batch.enable"),
		BatchSize:      v.GetInt("import.batch.size"),
		ConnectTimeout: v.GetDuration("import.batch.connect_timeout"),
		ReadTimeout:    v.GetDuration("import.batch.read_timeout"),
		RetryCount:     v.GetInt("import.retry.count"),
		RetryBackoff:   v.GetDuration("import.retry.backoff"),
		DetailedErrors: v.GetBool("import.error.subject_and_date"),
		MarkerLabel:    v.GetString("import.label.marker"),
		SubjectPrefix:  v.GetString("attachment.subject.prefix"),
		SummaryHeader:  v.GetString("attachment.summary.body.header"),
		SummaryFooter:  v.GetString("attachment.summary.body.footer"),
	}
	if err := validateSettings(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validateSettings(s Settings) error {
	if s.BatchEnabled && s.BatchSize < 1 {
		return fmt.Errorf("import.batch.size must be positive")
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("import.retry.count must not be negative")
	}
	if s.RetryBackoff < 0 {
		return fmt.Errorf("import.retry.backoff must not be negative")
	}
	if s.MarkerLabel == "" {
		return fmt.Errorf("import.label.marker is empty")
	}
	return nil
}
