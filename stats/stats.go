package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageArchive Stage = "archive"
	StageImport  Stage = "import"
)

type EventType string

const (
	EventTypeScanned        EventType = "scanned"
	EventTypeSkipped        EventType = "skipped"
	EventTypeFiltered       EventType = "filtered"
	EventTypeImported       EventType = "imported"
	EventTypeDryRunImported EventType = "dry_run_imported"
	EventTypeRetried        EventType = "retried"
	EventTypeAbandoned      EventType = "abandoned"
	EventTypeError          EventType = "error"
)

type Event struct {
	Stage         Stage
	Type          EventType
	ItemID        int64
	Account       string
	Labels        []string
	DestinationID string
	Err           error
	Detail        string
}

// Emitter accepts events from the import worker.
type Emitter interface {
	EmitEvent(evt Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) EmitEvent(Event) {}

type Summary struct {
	Scanned        int
	Skipped        int
	Filtered       int
	Imported       int
	DryRunImported int
	Retries        int
	Abandoned      int
	Errors         int
	LastError      error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"skipped", s.Skipped,
		"filtered", s.Filtered,
		"imported", s.Imported,
		"dryRunImported", s.DryRunImported,
		"retries", s.Retries,
		"abandoned", s.Abandoned,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the summary and the exported counters.
func (c *Collector) Apply(evt Event) {
	EventsTotal.WithLabelValues(string(evt.Stage), string(evt.Type)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeImported:
		c.summary.Imported++
	case EventTypeDryRunImported:
		c.summary.DryRunImported++
	case EventTypeRetried:
		c.summary.Retries++
	case EventTypeAbandoned:
		c.summary.Abandoned++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

type Pair struct {
	Key   string
	Value int
}

// Top returns up to limit entries of m ordered by count, then key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
