package archive

import "github.com/dhcgn/archive-import/model"

// MemFolder is an in-memory Folder.
type MemFolder struct {
	FolderName string
	Items      []*model.Item
	Children   []*MemFolder

	// SubfoldersErr is returned by Subfolders when set.
	SubfoldersErr error
	// ItemErr is returned by NextItem once ErrAfter items have been read.
	ItemErr  error
	ErrAfter int

	pos int
}

func (f *MemFolder) Name() string      { return f.FolderName }
func (f *MemFolder) ContentCount() int { return len(f.Items) }

func (f *MemFolder) HasSubfolders() bool {
	return len(f.Children) > 0 || f.SubfoldersErr != nil
}

func (f *MemFolder) Subfolders() ([]Folder, error) {
	if f.SubfoldersErr != nil {
		return nil, f.SubfoldersErr
	}
	out := make([]Folder, 0, len(f.Children))
	for _, c := range f.Children {
		out = append(out, c)
	}
	return out, nil
}

func (f *MemFolder) NextItem() (*model.Item, error) {
	if f.ItemErr != nil && f.pos >= f.ErrAfter {
		return nil, f.ItemErr
	}
	if f.pos >= len(f.Items) {
		return nil, nil
	}
	item := f.Items[f.pos]
	f.pos++
	return item, nil
}
