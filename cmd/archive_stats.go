package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/config"
	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/stats"
	"github.com/dhcgn/archive-import/walker"
)

const (
	trackFolder  = "Folder"
	trackFrom    = "From"
	trackTo      = "To"
	trackSubject = "Subject"
)

var trackedFields = []string{trackFolder, trackFrom, trackTo, trackSubject}

type statsOptions struct {
	reportDir    string
	settingsFile string
	topN         int
	filter       filter.Options
}

// NewArchiveStatsCommand returns the archive-stats subcommand.
func NewArchiveStatsCommand() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "archive-stats [archive directory]",
		Short: "Analyse an archive and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveStats(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.StringVar(&opts.settingsFile, "config", "", "Settings file with the folder lists to apply")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&opts.filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return cmd
}

// archiveStats counts mail items per folder label and per tracked field.
type archiveStats struct {
	filter   *filter.Filter
	counter  map[string]map[string]int
	mail     int
	filtered int
	other    int
}

func newArchiveStats(f *filter.Filter) *archiveStats {
	counter := make(map[string]map[string]int, len(trackedFields))
	for _, field := range trackedFields {
		counter[field] = make(map[string]int)
	}
	return &archiveStats{filter: f, counter: counter}
}

func (s *archiveStats) HandleFolder(ctx context.Context, folder archive.Folder, _ bool, path *walker.Path) error {
	if folder.ContentCount() == 0 {
		return nil
	}
	label := path.String()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := folder.NextItem()
		if err != nil {
			slog.Default().Error("failed to read item", "folder", folder.Name(), "err", err)
			return nil
		}
		if item == nil {
			return nil
		}
		if item.Kind != model.KindMail || item.Mail == nil {
			s.other++
			continue
		}
		if !s.filter.AllowsItem(item.Mail) {
			s.filtered++
			continue
		}
		s.add(label, item.Mail)
	}
}

func (s *archiveStats) add(label string, m *model.MailItem) {
	s.mail++
	s.counter[trackFolder][label]++
	if m.Sender != "" {
		s.counter[trackFrom][m.Sender]++
	}
	for _, r := range m.Recipients {
		if r.Kind == model.RecipientTo {
			s.counter[trackTo][r.Address]++
		}
	}
	if m.Subject != "" {
		s.counter[trackSubject][m.Subject]++
	}
}

func runArchiveStats(ctx context.Context, path string, opts statsOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(out, "Analyzing archive:", path)

	if opts.filter.Active() {
		includeActive := len(opts.filter.IncludeHeader) > 0 || len(opts.filter.IncludeBody) > 0
		excludeActive := len(opts.filter.ExcludeHeader) > 0 || len(opts.filter.ExcludeBody) > 0
		if includeActive && excludeActive {
			return fmt.Errorf("include and exclude flags are mutually exclusive")
		}
	}
	f, err := filter.New(opts.filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	settings, err := config.LoadSettings(opts.settingsFile)
	if err != nil {
		return err
	}
	w := walker.New(walker.Options{Ignored: settings.IgnoredFolders, NoLabel: settings.NoLabelFolders}, nil)

	root, err := archive.NewReader(nil).Open(path)
	if err != nil {
		return err
	}
	total, err := walker.CountItems(ctx, w, root)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}

	s := newArchiveStats(f)
	if err := w.Walk(ctx, root, s, true, walker.NewPath()); err != nil {
		return fmt.Errorf("walk archive: %w", err)
	}

	printArchiveStats(out, s, total, f, opts.topN)

	if err := saveCSVReports(s.counter, trackedFields, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(out, "\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

func printArchiveStats(out io.Writer, s *archiveStats, total int, f *filter.Filter, topN int) {
	var filterPercent float64
	if seen := s.mail + s.filtered; seen > 0 {
		filterPercent = float64(s.filtered) / float64(seen) * 100
	}
	fmt.Fprintf(out, "Counted %d items; %d mail items (skipped %d by filters, %.2f%%), %d other items.\n\n",
		total, s.mail, s.filtered, filterPercent, s.other)

	fs := f.GetStats()
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters", fs.IncludeHeaderPatterns, fs.IncludeHeaderHits},
		{"Include Body Filters", fs.IncludeBodyPatterns, fs.IncludeBodyHits},
		{"Exclude Header Filters", fs.ExcludeHeaderPatterns, fs.ExcludeHeaderHits},
		{"Exclude Body Filters", fs.ExcludeBodyPatterns, fs.ExcludeBodyHits},
	}
	hasFilterStats := false
	for _, sec := range sections {
		if len(sec.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintf(out, "%s:\n", sec.title)
		printFilterHits(out, sec.patterns, sec.hits)
		fmt.Fprintln(out)
	}
	if hasFilterStats {
		fmt.Fprintln(out, "---")
		fmt.Fprintln(out)
	}

	for _, field := range trackedFields {
		fmt.Fprintf(out, "Top %d %s:\n", topN, field)
		for i, p := range stats.Top(s.counter[field], topN) {
			fmt.Fprintf(out, "%d. %s (%d)\n", i+1, p.Key, p.Value)
		}
		fmt.Fprintln(out)
	}
}

func saveCSVReports(counter map[string]map[string]int, fields []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range fields {
		filename := fmt.Sprintf("report_%s.csv", normalizeFieldName(field))
		file, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}
		for _, p := range stats.Top(counter[field], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeFieldName(field string) string {
	name := strings.ToLower(field)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(out io.Writer, patterns []string, hits map[string]int) {
	sorted := append([]string(nil), patterns...)
	sort.Slice(sorted, func(i, j int) bool {
		if hits[sorted[i]] != hits[sorted[j]] {
			return hits[sorted[i]] > hits[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})

	for _, p := range sorted {
		if hits[p] > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", p, hits[p])
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", p)
		}
	}
}
