package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/stats"
)

type ExecutorOptions struct {
	BatchEnabled   bool
	BatchSize      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// DryRun only changes how successful imports are reported.
	DryRun bool
}

// Executor submits converted messages to a session, either directly or
// through a batch that is executed once it reaches BatchSize.
type Executor struct {
	session destination.Session
	opts    ExecutorOptions
	events  stats.Emitter
	logger  *slog.Logger

	batch   destination.Batch
	flushes int
}

func NewExecutor(session destination.Session, opts ExecutorOptions, events stats.Emitter, logger *slog.Logger) *Executor {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if events == nil {
		events = stats.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{session: session, opts: opts, events: events, logger: logger}
}

// Submit imports msg with the given labels. With batching enabled the call
// is queued and only a failing batch execution is returned; per-message
// failures inside a batch are logged by the callback.
func (e *Executor) Submit(ctx context.Context, msg *model.Message, labelIDs []string) error {
	if !e.opts.BatchEnabled {
		id, err := e.session.Import(ctx, msg, labelIDs)
		if err != nil {
			return fmt.Errorf("import message %d: %w", msg.ItemID, err)
		}
		e.imported(msg, id, labelIDs)
		return nil
	}

	if e.batch == nil {
		e.batch = e.newBatch()
	}
	e.batch.Queue(msg, labelIDs, func(m *model.Message, id string, err error) {
		if err != nil {
			e.logger.Error("caught error while importing batched message", "itemID", m.ItemID, "err", err)
			e.events.EmitEvent(stats.Event{Stage: stats.StageImport, Type: stats.EventTypeError, ItemID: m.ItemID, Account: e.session.Account(), Err: err})
			return
		}
		e.imported(m, id, labelIDs)
	})

	if e.batch.Len() >= e.opts.BatchSize {
		return e.execute(ctx)
	}
	return nil
}

// Flush executes whatever is still queued.
func (e *Executor) Flush(ctx context.Context) error {
	if e.batch == nil || e.batch.Len() == 0 {
		return nil
	}
	return e.execute(ctx)
}

// Flushes reports how many batches were executed.
func (e *Executor) Flushes() int {
	return e.flushes
}

// Pending reports the number of queued, not yet executed imports.
func (e *Executor) Pending() int {
	if e.batch == nil {
		return 0
	}
	return e.batch.Len()
}

func (e *Executor) execute(ctx context.Context) error {
	batch := e.batch
	e.batch = e.newBatch()
	e.flushes++
	stats.BatchFlushesTotal.WithLabelValues(e.session.Account()).Inc()

	size := batch.Len()
	if err := batch.Execute(ctx); err != nil {
		return fmt.Errorf("execute batch of %d: %w", size, err)
	}
	e.logger.Debug("batch executed", "size", size)
	return nil
}

func (e *Executor) newBatch() destination.Batch {
	return e.session.NewBatch(destination.BatchOptions{
		ConnectTimeout: e.opts.ConnectTimeout,
		ReadTimeout:    e.opts.ReadTimeout,
	})
}

func (e *Executor) imported(msg *model.Message, id string, labelIDs []string) {
	evtType := stats.EventTypeImported
	if e.opts.DryRun {
		evtType = stats.EventTypeDryRunImported
	}
	e.events.EmitEvent(stats.Event{
		Stage:         stats.StageImport,
		Type:          evtType,
		ItemID:        msg.ItemID,
		Account:       e.session.Account(),
		Labels:        labelIDs,
		DestinationID: id,
		Detail:        msg.Subject,
	})
	e.logger.Debug("message imported", "itemID", msg.ItemID, "id", id)
}
