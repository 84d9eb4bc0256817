// Package destination describes the remote mailbox service the importer
// writes into.
package destination

import (
	"context"
	"time"

	"github.com/dhcgn/archive-import/model"
)

const (
	LabelListShow      = "labelShow"
	MessageListHide    = "hide"
	DefaultMarkerLabel = "PST Import"
)

// Session is an authenticated connection to one destination account.
type Session interface {
	Account() string
	ListLabels(ctx context.Context) ([]model.Label, error)
	// CreateLabel creates a label, returning the existing one when the
	// destination already has it.
	CreateLabel(ctx context.Context, label model.Label) (model.Label, error)
	Import(ctx context.Context, msg *model.Message, labelIDs []string) (string, error)
	NewBatch(opts BatchOptions) Batch
}

type BatchOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Callback receives the outcome of one queued import.
type Callback func(msg *model.Message, id string, err error)

// Batch accumulates import calls and runs them on Execute. A failed call is
// reported through its callback and does not fail its siblings.
type Batch interface {
	Queue(msg *model.Message, labelIDs []string, cb Callback)
	Len() int
	Execute(ctx context.Context) error
}
