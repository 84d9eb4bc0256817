package importer

import (
	"context"
	"log/slog"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/stats"
	"github.com/dhcgn/archive-import/walker"
)

// FolderHandler imports the mail items held directly by a folder. It keeps
// a running count of handled mail items across folders for progress
// reporting.
type FolderHandler struct {
	account  *Account
	pipeline *Pipeline
	filter   *filter.Filter
	progress ProgressReporter
	events   stats.Emitter
	logger   *slog.Logger

	count int
}

func NewFolderHandler(acct *Account, pipeline *Pipeline, progress ProgressReporter, logger *slog.Logger) *FolderHandler {
	if progress == nil {
		progress = nopProgress{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderHandler{
		account:  acct,
		pipeline: pipeline,
		progress: progress,
		events:   pipeline.events,
		logger:   logger,
	}
}

// WithFilter restricts the import to items the filter allows.
func (h *FolderHandler) WithFilter(f *filter.Filter) *FolderHandler {
	h.filter = f
	return h
}

// Count reports the number of mail items handled so far.
func (h *FolderHandler) Count() int {
	return h.count
}

// HandleFolder processes every item of folder in order. A failure to read
// the next item ends the folder without failing the walk.
func (h *FolderHandler) HandleFolder(ctx context.Context, folder archive.Folder, _ bool, path *walker.Path) error {
	if folder.ContentCount() == 0 {
		return nil
	}

	names := path.Names()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := folder.NextItem()
		if err != nil {
			h.logger.Error("caught error while processing folder", "folder", folder.Name(), "path", path.String(), "err", err)
			h.events.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, Account: h.account.Name(), Err: err, Detail: folder.Name()})
			return nil
		}
		if item == nil {
			return nil
		}

		if err := h.handleItem(ctx, item, names); err != nil {
			return err
		}
	}
}

func (h *FolderHandler) handleItem(ctx context.Context, item *model.Item, names []string) error {
	h.events.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeScanned, ItemID: item.ID, Account: h.account.Name()})

	if item.Kind != model.KindMail || item.Mail == nil {
		h.logger.Info("found non-message item", "kind", item.Kind, "itemID", item.ID, "name", item.Name)
		h.events.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeSkipped, ItemID: item.ID, Account: h.account.Name(), Detail: item.Kind.String()})
		return nil
	}

	h.count++
	if h.filter.AllowsItem(item.Mail) {
		if err := h.pipeline.Process(ctx, h.account, item.Mail, names); err != nil {
			return err
		}
	} else {
		h.logger.Debug("message filtered", "itemID", item.ID)
		h.events.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeFiltered, ItemID: item.ID, Account: h.account.Name()})
	}
	h.progress.UpdateProgress(h.count)
	return nil
}
