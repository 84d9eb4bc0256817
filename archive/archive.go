// Package archive reads a mailbox archive laid out as a directory tree.
//
// Every directory is a folder. Inside a folder, .eml files and the messages
// of .mbox files are mail items, .vcf files are contacts and .ics files are
// appointments. Other files are ignored.
package archive

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/dhcgn/archive-import/model"
)

var ErrNotDirectory = errors.New("archive path is not a directory")

// Folder is a node of the archive tree.
type Folder interface {
	Name() string
	// ContentCount is the number of items held directly by the folder.
	ContentCount() int
	HasSubfolders() bool
	Subfolders() ([]Folder, error)
	// NextItem returns the next directly held item, or nil when the folder
	// is exhausted.
	NextItem() (*model.Item, error)
}

type Reader interface {
	Open(path string) (Folder, error)
}

// DirReader opens directory-tree archives.
type DirReader struct {
	logger *slog.Logger
}

func NewReader(logger *slog.Logger) *DirReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirReader{logger: logger}
}

// Open returns the root folder of the archive at path. The root has an
// empty name.
func (r *DirReader) Open(path string) (Folder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open archive %s: %w", path, ErrNotDirectory)
	}

	return newDirFolder(path, "", "", r.logger)
}

// ItemID derives a stable identifier from the item's location in the archive.
func ItemID(relPath string, index int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s#%d", relPath, index)
	return int64(h.Sum64() & math.MaxInt64)
}
