package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	DestinationIMAP  = "imap"
	DestinationGmail = "gmail"
)

// PasswordLookup returns the stored password for a user, or "" when none is
// stored.
type PasswordLookup func(user string) (string, error)

// Config captures all command-line options required to run the importer.
type Config struct {
	ArchivePath        string
	OutputDir          string
	Destination        string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	GmailAccount       string
	GmailCredentials   string
	SettingsFile       string
	DryRun             bool
	LogLevel           string
	LogDir             string
	MetricsAddr        string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string

	Settings Settings
}

// Account names the destination account the run imports into.
func (c Config) Account() string {
	if c.Destination == DestinationGmail {
		return c.GmailAccount
	}
	return c.IMAPUser
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("archive", "", "Path to the archive directory to import")
	flags.String("output-dir", "", "Directory for extracted attachments, logs and the journal")
	flags.String("destination", DestinationIMAP, "Destination type: imap or gmail")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the system keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("gmail-account", "", "Gmail address to import into")
	flags.String("gmail-credentials", "", "Service account key file with domain-wide delegation")
	flags.String("config", "", "Settings file (yaml, toml or json)")
	flags.Bool("dry-run", false, "Convert and resolve labels against an in-memory destination")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs are also written to stdout)")
	flags.String("metrics-addr", "", "Listen address for the Prometheus /metrics endpoint, e.g. :9090")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	if err := cmd.MarkFlagRequired("archive"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("output-dir"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. lookup is consulted for the IMAP password when neither the
// flag nor IMAP_PASS provide one; it may be nil.
func LoadConfig(cmd *cobra.Command, lookup PasswordLookup) (Config, error) {
	flags := cmd.Flags()

	var (
		cfg Config
		err error
	)

	strs := []struct {
		name string
		dst  *string
	}{
		{"archive", &cfg.ArchivePath},
		{"output-dir", &cfg.OutputDir},
		{"destination", &cfg.Destination},
		{"imap-host", &cfg.IMAPHost},
		{"imap-user", &cfg.IMAPUser},
		{"imap-pass", &cfg.IMAPPass},
		{"gmail-account", &cfg.GmailAccount},
		{"gmail-credentials", &cfg.GmailCredentials},
		{"config", &cfg.SettingsFile},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
		{"metrics-addr", &cfg.MetricsAddr},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"use-tls", &cfg.UseTLS},
		{"insecure-skip-verify", &cfg.InsecureSkipVerify},
		{"dry-run", &cfg.DryRun},
	}
	for _, b := range bools {
		if *b.dst, err = flags.GetBool(b.name); err != nil {
			return Config{}, err
		}
	}

	arrays := []struct {
		name string
		dst  *[]string
	}{
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, a := range arrays {
		if *a.dst, err = flags.GetStringArray(a.name); err != nil {
			return Config{}, err
		}
	}

	if cfg.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return Config{}, err
	}

	cfg.Destination = strings.ToLower(cfg.Destination)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.OutputDir != "" {
		cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	}

	if cfg.Destination == DestinationIMAP && cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
		if cfg.IMAPPass == "" && lookup != nil && cfg.IMAPUser != "" && !cfg.DryRun {
			if cfg.IMAPPass, err = lookup(cfg.IMAPUser); err != nil {
				return Config{}, fmt.Errorf("look up IMAP password: %w", err)
			}
		}
	}

	if cfg.Settings, err = LoadSettings(cfg.SettingsFile); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ArchivePath == "" {
		return fmt.Errorf("--archive is required")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("--output-dir is required")
	}

	switch cfg.Destination {
	case DestinationIMAP:
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if !cfg.DryRun {
			if cfg.IMAPHost == "" {
				return fmt.Errorf("--imap-host is required")
			}
			if cfg.IMAPPass == "" {
				return fmt.Errorf("IMAP password must be provided via --imap-pass, IMAP_PASS env var or the system keyring")
			}
			if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
				return fmt.Errorf("--imap-port must be between 1 and 65535")
			}
		}
	case DestinationGmail:
		if cfg.GmailAccount == "" {
			return fmt.Errorf("--gmail-account is required")
		}
		if cfg.GmailCredentials == "" && !cfg.DryRun {
			return fmt.Errorf("--gmail-credentials is required")
		}
	default:
		return fmt.Errorf("invalid --destination: %s", cfg.Destination)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
