// Package importer runs the per-item import pipeline: attachment
// extraction, conversion, label resolution and submission with retry.
package importer

import (
	"log/slog"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/labels"
	"github.com/dhcgn/archive-import/stats"
)

// ProgressReporter receives the number of mail items handled so far.
type ProgressReporter interface {
	UpdateProgress(units int)
}

type nopProgress struct{}

func (nopProgress) UpdateProgress(int) {}

// Account holds the per-account state of one run. Nothing in it is shared
// between accounts.
type Account struct {
	Session  destination.Session
	Labels   *labels.Cache
	Executor *Executor
}

type AccountOptions struct {
	MarkerLabel string
	Executor    ExecutorOptions
}

func NewAccount(session destination.Session, opts AccountOptions, events stats.Emitter, logger *slog.Logger) *Account {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("account", session.Account())
	return &Account{
		Session:  session,
		Labels:   labels.NewCache(session, opts.MarkerLabel, logger),
		Executor: NewExecutor(session, opts.Executor, events, logger),
	}
}

func (a *Account) Name() string {
	return a.Session.Account()
}
