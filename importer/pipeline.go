package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/archive-import/attachment"
	"github.com/dhcgn/archive-import/convert"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/sender"
	"github.com/dhcgn/archive-import/stats"
)

const errorDateLayout = "2006-01-02 15:04"

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the Sleeper used outside of tests.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type PipelineOptions struct {
	OutputRoot     string
	MaxRetries     int
	Backoff        time.Duration
	DetailedErrors bool
}

// Pipeline turns one mail item into an import call and retries the whole
// sequence on failure.
type Pipeline struct {
	opts      PipelineOptions
	extractor *attachment.Extractor
	converter *convert.Converter
	sleep     Sleeper
	events    stats.Emitter
	logger    *slog.Logger
}

func NewPipeline(opts PipelineOptions, extractor *attachment.Extractor, converter *convert.Converter, sleep Sleeper, events stats.Emitter, logger *slog.Logger) *Pipeline {
	if sleep == nil {
		sleep = Sleep
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Pipeline{
		opts:      opts,
		extractor: extractor,
		converter: converter,
		sleep:     sleep,
		events:    events,
		logger:    logger,
	}
}

// Process runs the pipeline for item, attempting it at most MaxRetries+1
// times. A message that keeps failing is abandoned. The returned error is
// non-nil only for cancellation and configuration errors, which must stop
// the run.
func (p *Pipeline) Process(ctx context.Context, acct *Account, item *model.MailItem, path []string) error {
	start := time.Now()
	defer func() {
		stats.ItemDuration.Observe(time.Since(start).Seconds())
	}()

	for retry := 0; ; retry++ {
		err := p.run(ctx, acct, item, path)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, sender.ErrNotConfigured) {
			return err
		}

		p.logFailure(acct, item, retry, err)
		p.events.EmitEvent(stats.Event{Stage: stats.StageImport, Type: stats.EventTypeError, ItemID: item.ID, Account: acct.Name(), Err: err})

		if retry >= p.opts.MaxRetries {
			p.logger.Error("max retries reached, will not try again", "itemID", item.ID, "account", acct.Name())
			p.events.EmitEvent(stats.Event{Stage: stats.StageImport, Type: stats.EventTypeAbandoned, ItemID: item.ID, Account: acct.Name(), Err: err})
			return nil
		}

		if err := p.sleep(ctx, p.opts.Backoff); err != nil {
			return err
		}
		p.events.EmitEvent(stats.Event{Stage: stats.StageImport, Type: stats.EventTypeRetried, ItemID: item.ID, Account: acct.Name()})
	}
}

func (p *Pipeline) run(ctx context.Context, acct *Account, item *model.MailItem, path []string) error {
	stripped := p.extractor.Extract(item, p.opts.OutputRoot)

	msg, err := p.converter.Convert(item, p.opts.OutputRoot, stripped)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	label, err := acct.Labels.Resolve(ctx, path)
	if err != nil {
		return fmt.Errorf("resolve label: %w", err)
	}

	labelIDs := []string{label.ID}
	if marker, ok := acct.Labels.Marker(); ok && marker.ID != label.ID {
		labelIDs = append(labelIDs, marker.ID)
	}

	return acct.Executor.Submit(ctx, msg, labelIDs)
}

func (p *Pipeline) logFailure(acct *Account, item *model.MailItem, retry int, err error) {
	attrs := []any{"itemID", item.ID, "account", acct.Name(), "retry", retry}
	if p.opts.DetailedErrors {
		attrs = append(attrs, "subject", item.Subject, "date", item.SentAt.Format(errorDateLayout))
	}
	attrs = append(attrs, "err", err)
	p.logger.Error("caught error while processing message", attrs...)
}
