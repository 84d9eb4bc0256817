package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/archive-import/stats"
)

// Bar shows import progress as a percentage of the mail items found by the
// count pass. It implements importer.ProgressReporter.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	percent int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(100).
			WithTitle("Importing mail items").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Mail items in archive: %d\n", total)
		pterm.Println()
	}

	return bar
}

// UpdateProgress moves the bar to units out of the counted total. The
// percentage never exceeds 100.
func (b *Bar) UpdateProgress(units int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Percent(units, b.total)
	if p <= b.percent {
		return
	}
	delta := p - b.percent
	b.percent = p
	if b.enabled && b.pb != nil {
		b.pb.Add(delta)
	}
}

// Percent returns units/total as a whole percentage capped at 100. An empty
// total counts as done.
func Percent(units, total int) int {
	if total <= 0 {
		return 100
	}
	p := units * 100 / total
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Current reports the displayed percentage.
func (b *Bar) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// Update prints failures above the bar and shows the current subject.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeImported, stats.EventTypeDryRunImported:
		if evt.Detail != "" {
			title := evt.Detail
			if len(title) > 40 {
				title = title[:37] + "..."
			}
			b.pb.UpdateTitle("Imported: " + title)
		}
	case stats.EventTypeAbandoned:
		pterm.Warning.Printf("Gave up on item %d\n", evt.ItemID)
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Import complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter prints a summary table once the event stream ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary collector when the bar is
// shown.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	pr.bar.Stop()

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started).Round(time.Second)

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Skipped (not mail): %d\n", summary.Skipped)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Imported: %d\n", summary.Imported)
	pterm.Info.Printf("Dry-run imported: %d\n", summary.DryRunImported)
	pterm.Info.Printf("Retries: %d\n", summary.Retries)
	pterm.Info.Printf("Abandoned: %d\n", summary.Abandoned)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
