package walker

import (
	"context"
	"fmt"

	"github.com/dhcgn/archive-import/archive"
)

// Counter sums the items held directly by each visited folder. The root's
// own items are left out when the root has subfolders.
type Counter struct {
	total int
}

func (c *Counter) HandleFolder(_ context.Context, folder archive.Folder, isRoot bool, _ *Path) error {
	if folder == nil {
		return fmt.Errorf("folder cannot be nil: %w", ErrInvalidArgument)
	}
	if isRoot && folder.HasSubfolders() {
		return nil
	}
	c.total += folder.ContentCount()
	return nil
}

func (c *Counter) Count() int {
	return c.total
}

// CountItems walks root and returns the number of items the import will see.
func CountItems(ctx context.Context, w *Walker, root archive.Folder) (int, error) {
	var c Counter
	if err := w.Walk(ctx, root, &c, true, NewPath()); err != nil {
		return 0, err
	}
	return c.Count(), nil
}
