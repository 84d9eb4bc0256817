package destination

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhcgn/archive-import/model"
)

// Imported records a message accepted by a MemorySession.
type Imported struct {
	ID       string
	Message  *model.Message
	LabelIDs []string
}

// MemorySession keeps labels and messages in memory. It backs --dry-run.
type MemorySession struct {
	account string

	mu       sync.Mutex
	labels   []model.Label
	imported []Imported
	nextID   int

	// Calls counts operations by name: list, create, import, execute.
	Calls map[string]int
}

func NewMemorySession(account string, existing ...model.Label) *MemorySession {
	return &MemorySession{
		account: account,
		labels:  append([]model.Label(nil), existing...),
		Calls:   map[string]int{},
	}
}

func (s *MemorySession) Account() string {
	return s.account
}

func (s *MemorySession) ListLabels(ctx context.Context) ([]model.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["list"]++
	return append([]model.Label(nil), s.labels...), nil
}

func (s *MemorySession) CreateLabel(ctx context.Context, label model.Label) (model.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["create"]++
	for _, l := range s.labels {
		if l.Name == label.Name {
			return l, nil
		}
	}
	s.nextID++
	label.ID = fmt.Sprintf("Label_%d", s.nextID)
	s.labels = append(s.labels, label)
	return label, nil
}

func (s *MemorySession) Import(ctx context.Context, msg *model.Message, labelIDs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["import"]++
	s.nextID++
	id := fmt.Sprintf("msg-%d", s.nextID)
	s.imported = append(s.imported, Imported{ID: id, Message: msg, LabelIDs: append([]string(nil), labelIDs...)})
	return id, nil
}

func (s *MemorySession) NewBatch(opts BatchOptions) Batch {
	return &memoryBatch{session: s}
}

// Labels returns a copy of the labels known to the session.
func (s *MemorySession) Labels() []model.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Label(nil), s.labels...)
}

// Imported returns a copy of the accepted messages in import order.
func (s *MemorySession) Imported() []Imported {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Imported(nil), s.imported...)
}

type queuedImport struct {
	msg      *model.Message
	labelIDs []string
	cb       Callback
}

type memoryBatch struct {
	session *MemorySession
	queued  []queuedImport
}

func (b *memoryBatch) Queue(msg *model.Message, labelIDs []string, cb Callback) {
	b.queued = append(b.queued, queuedImport{msg: msg, labelIDs: labelIDs, cb: cb})
}

func (b *memoryBatch) Len() int {
	return len(b.queued)
}

func (b *memoryBatch) Execute(ctx context.Context) error {
	b.session.mu.Lock()
	b.session.Calls["execute"]++
	b.session.mu.Unlock()

	queued := b.queued
	b.queued = nil
	for _, q := range queued {
		id, err := b.session.Import(ctx, q.msg, q.labelIDs)
		if q.cb != nil {
			q.cb(q.msg, id, err)
		}
	}
	return nil
}
