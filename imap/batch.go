package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
)

type queued struct {
	msg      *model.Message
	labelIDs []string
	cb       destination.Callback
}

// batch pipelines its APPEND commands on the session connection and waits
// for all of them afterwards.
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

// Execute returns an error only when no connection could be obtained; that
// error is also passed to every queued callback. Every other failure is
// passed to the callback of the affected message.
func (b *batch) Execute(ctx context.Context) error {
	items := b.queued
	b.queued = nil
	if len(items) == 0 {
		return nil
	}

	client, err := b.session.conn(ctx, b.opts.ConnectTimeout)
	if err != nil {
		err = fmt.Errorf("connect for batch: %w", err)
		for _, q := range items {
			if q.cb != nil {
				q.cb(q.msg, "", err)
			}
		}
		return err
	}

	if b.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.ReadTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	cmds := make([]*imapclient.AppendCommand, len(items))
	errs := make([]error, len(items))
	for i, q := range items {
		if len(q.labelIDs) == 0 {
			errs[i] = ErrNoLabel
			continue
		}
		cmds[i], errs[i] = startAppend(client, q.labelIDs[0], q.msg)
		if errs[i] != nil {
			b.session.drop(client, errs[i])
		}
	}

	for i, q := range items {
		var id string
		if cmds[i] != nil {
			id, errs[i] = waitAppend(cmds[i], q.labelIDs[0])
			if errs[i] != nil {
				b.session.dropIfTransport(client, errs[i])
			}
		}
		if q.cb != nil {
			q.cb(q.msg, id, errs[i])
		}
	}
	return nil
}
