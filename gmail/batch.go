package gmail

import (
	"context"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
)

type queued struct {
	msg      *model.Message
	labelIDs []string
	cb       destination.Callback
}

// batch runs its queued imports one after another, each bounded by the read
// timeout.
type batch struct {
	session *Session
	opts    destination.BatchOptions
	queued  []queued
}

func (b *batch) Queue(msg *model.Message, labelIDs []string, cb destination.Callback) {
	b.queued = append(b.queued, queued{msg: msg, labelIDs: labelIDs, cb: cb})
}

func (b *batch) Len() int {
	return len(b.queued)
}

// Execute fails as a whole only when ctx is already done. The error then
// reaches every queued callback too.
func (b *batch) Execute(ctx context.Context) error {
	items := b.queued
	b.queued = nil
	if err := ctx.Err(); err != nil {
		for _, q := range items {
			if q.cb != nil {
				q.cb(q.msg, "", err)
			}
		}
		return err
	}
	for _, q := range items {
		id, err := b.importOne(ctx, q)
		if q.cb != nil {
			q.cb(q.msg, id, err)
		}
	}
	return nil
}

func (b *batch) importOne(ctx context.Context, q queued) (string, error) {
	if b.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.ReadTimeout)
		defer cancel()
	}
	return b.session.Import(ctx, q.msg, q.labelIDs)
}
