package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/walker"
)

// Job imports one archive into one account.
type Job struct {
	Root     archive.Folder
	Walker   *walker.Walker
	Account  *Account
	Pipeline *Pipeline
	Filter   *filter.Filter
	Progress ProgressReporter
	Logger   *slog.Logger
}

// Run walks the archive and flushes the pending batch. The flush also runs
// after a failed walk so that queued imports are not dropped.
func (j *Job) Run(ctx context.Context) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := NewFolderHandler(j.Account, j.Pipeline, j.Progress, logger).WithFilter(j.Filter)
	walkErr := j.Walker.Walk(ctx, j.Root, handler, true, walker.NewPath())
	if walkErr != nil {
		walkErr = fmt.Errorf("walk archive: %w", walkErr)
	}

	var flushErr error
	if ctx.Err() == nil {
		if err := j.Account.Executor.Flush(ctx); err != nil {
			flushErr = fmt.Errorf("flush pending imports: %w", err)
		}
	} else if pending := j.Account.Executor.Pending(); pending > 0 {
		logger.Warn("run cancelled, queued imports not sent", "account", j.Account.Name(), "pending", pending)
	}

	logger.Info("archive walked",
		"account", j.Account.Name(),
		"mailItems", handler.Count(),
		"labels", j.Account.Labels.Len(),
		"batches", j.Account.Executor.Flushes(),
	)
	return errors.Join(walkErr, flushErr)
}
