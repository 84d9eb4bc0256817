package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/archive-import/model"
)

type entryKind int

const (
	entryEML entryKind = iota
	entryMbox
	entryContact
	entryAppointment
)

type entry struct {
	name  string
	kind  entryKind
	count int
}

type dirFolder struct {
	root    string
	rel     string
	name    string
	logger  *slog.Logger
	subdirs []string
	entries []entry
	total   int

	// iteration state
	pos       int
	mboxFile  *os.File
	mboxRd    *mboxlib.Reader
	mboxIndex int
}

func newDirFolder(root, rel, name string, logger *slog.Logger) (*dirFolder, error) {
	f := &dirFolder{root: root, rel: rel, name: name, logger: logger}

	dirEntries, err := os.ReadDir(f.dir())
	if err != nil {
		return nil, fmt.Errorf("read folder %q: %w", f.rel, err)
	}

	for _, de := range dirEntries {
		if de.IsDir() {
			f.subdirs = append(f.subdirs, de.Name())
			continue
		}
		kind, ok := classify(de.Name())
		if !ok {
			continue
		}
		e := entry{name: de.Name(), kind: kind, count: 1}
		if kind == entryMbox {
			n, err := CountMessages(filepath.Join(f.dir(), de.Name()))
			if err != nil {
				logger.Warn("failed to count mbox messages", "folder", f.rel, "file", de.Name(), "err", err)
			}
			e.count = n
		}
		f.entries = append(f.entries, e)
		f.total += e.count
	}
	sort.Strings(f.subdirs)
	sort.Slice(f.entries, func(i, j int) bool { return f.entries[i].name < f.entries[j].name })

	return f, nil
}

func classify(name string) (entryKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".eml":
		return entryEML, true
	case ".mbox":
		return entryMbox, true
	case ".vcf":
		return entryContact, true
	case ".ics":
		return entryAppointment, true
	default:
		return 0, false
	}
}

func (f *dirFolder) dir() string {
	return filepath.Join(f.root, filepath.FromSlash(f.rel))
}

func (f *dirFolder) Name() string        { return f.name }
func (f *dirFolder) ContentCount() int   { return f.total }
func (f *dirFolder) HasSubfolders() bool { return len(f.subdirs) > 0 }

func (f *dirFolder) Subfolders() ([]Folder, error) {
	children := make([]Folder, 0, len(f.subdirs))
	for _, name := range f.subdirs {
		child, err := newDirFolder(f.root, joinRel(f.rel, name), name, f.logger)
		if err != nil {
			f.logger.Error("skipping unreadable folder", "folder", joinRel(f.rel, name), "err", err)
			continue
		}
		children = append(children, child)
	}
	return children, nil
}

func (f *dirFolder) NextItem() (*model.Item, error) {
	for f.pos < len(f.entries) {
		e := f.entries[f.pos]
		rel := joinRel(f.rel, e.name)

		switch e.kind {
		case entryMbox:
			item, err := f.nextMboxItem(rel)
			if err != nil || item != nil {
				return item, err
			}
			f.pos++
			continue
		case entryContact:
			f.pos++
			return &model.Item{Kind: model.KindContact, ID: ItemID(rel, 0), Name: e.name}, nil
		case entryAppointment:
			f.pos++
			return &model.Item{Kind: model.KindAppointment, ID: ItemID(rel, 0), Name: e.name}, nil
		default:
			f.pos++
			raw, err := os.ReadFile(filepath.Join(f.dir(), e.name))
			if err != nil {
				return nil, fmt.Errorf("read %q: %w", rel, err)
			}
			mail, err := ParseMail(ItemID(rel, 0), raw)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", rel, err)
			}
			return &model.Item{Kind: model.KindMail, ID: mail.ID, Name: e.name, Mail: mail}, nil
		}
	}
	return nil, nil
}

// nextMboxItem returns nil, nil once the current mbox file is exhausted and
// closes it. Any error also closes the file and moves past it.
func (f *dirFolder) nextMboxItem(rel string) (*model.Item, error) {
	if f.mboxRd == nil {
		file, err := os.Open(filepath.Join(f.root, filepath.FromSlash(rel)))
		if err != nil {
			f.pos++
			return nil, fmt.Errorf("open mbox %q: %w", rel, err)
		}
		f.mboxFile = file
		f.mboxRd = mboxlib.NewReader(file)
		f.mboxIndex = 0
	}

	msgReader, err := f.mboxRd.NextMessage()
	if err != nil {
		f.closeMbox()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		f.pos++
		return nil, fmt.Errorf("mbox %q message %d: %w", rel, f.mboxIndex, err)
	}

	idx := f.mboxIndex
	f.mboxIndex++

	raw, err := io.ReadAll(msgReader)
	if err != nil {
		f.closeMbox()
		f.pos++
		return nil, fmt.Errorf("mbox %q message %d read: %w", rel, idx, err)
	}
	mail, err := ParseMail(ItemID(rel, idx), raw)
	if err != nil {
		f.closeMbox()
		f.pos++
		return nil, fmt.Errorf("mbox %q message %d parse: %w", rel, idx, err)
	}
	return &model.Item{Kind: model.KindMail, ID: mail.ID, Name: fmt.Sprintf("%s#%d", path.Base(rel), idx), Mail: mail}, nil
}

func (f *dirFolder) closeMbox() {
	if f.mboxFile != nil {
		f.mboxFile.Close()
	}
	f.mboxFile = nil
	f.mboxRd = nil
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

// CountMessages counts the messages in an mbox file without parsing them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		// consume without parsing; an unreadable body still counts
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
