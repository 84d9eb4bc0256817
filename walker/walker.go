// Package walker traverses an archive folder tree depth first and hands each
// folder to a pluggable handler after its subfolders have been handled.
package walker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/filter"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Handler processes the items held directly by a folder.
type Handler interface {
	HandleFolder(ctx context.Context, folder archive.Folder, isRoot bool, path *Path) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, folder archive.Folder, isRoot bool, path *Path) error

func (f HandlerFunc) HandleFolder(ctx context.Context, folder archive.Folder, isRoot bool, path *Path) error {
	return f(ctx, folder, isRoot, path)
}

type Options struct {
	// Ignored folders are skipped together with their subtree.
	Ignored []string
	// NoLabel folders are visited but never pushed onto the path.
	NoLabel []string
}

type Walker struct {
	ignored filter.NameSet
	noLabel filter.NameSet
	logger  *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		ignored: filter.NewNameSet(opts.Ignored...),
		noLabel: filter.NewNameSet(opts.NoLabel...),
		logger:  logger,
	}
}

// Ignored reports whether a folder name is skipped by the walk.
func (w *Walker) Ignored(name string) bool {
	return w.ignored.Has(name)
}

// Walk visits folder and its subtree in post-order. A handler error stops the
// walk; so does context cancellation. A folder whose subfolders cannot be
// listed is handled as a leaf.
func (w *Walker) Walk(ctx context.Context, folder archive.Folder, handler Handler, isRoot bool, path *Path) error {
	if folder == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.Ignored(folder.Name()) {
		w.logger.Debug("skipping ignored folder", "folder", folder.Name())
		return nil
	}

	if pushed := w.push(folder.Name(), path); pushed {
		defer path.Pop()
	}

	if folder.HasSubfolders() {
		children, err := folder.Subfolders()
		if err != nil {
			w.logger.Error("failed to list subfolders", "folder", folder.Name(), "path", path.String(), "err", err)
		}
		for _, child := range children {
			if err := w.Walk(ctx, child, handler, false, path); err != nil {
				return err
			}
		}
	}

	return handler.HandleFolder(ctx, folder, isRoot, path)
}

func (w *Walker) push(name string, path *Path) bool {
	if name == "" || w.noLabel.Has(name) {
		return false
	}
	path.Push(name)
	return true
}
