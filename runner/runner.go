// Package runner runs the import stages and fans their events out to the
// stats subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/archive-import/stats"
)

const subscriberBuffer = 128

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type Runner struct {
	logger *slog.Logger

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	events chan stats.Event

	subMu       sync.Mutex
	subscribers []chan stats.Event
	stages      []stage

	workWG     sync.WaitGroup
	statsWG    sync.WaitGroup
	dispatchWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

var _ stats.Emitter = (*Runner)(nil)
var _ stats.EventStream = (*Runner)(nil)

func New(parent context.Context, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		logger: logger,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan stats.Event, subscriberBuffer),
	}
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// EmitEvent queues evt for every subscriber. Events emitted after the run
// was cancelled are dropped.
func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats starts fn with its own copy of the event stream. Register
// subscribers before calling Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, subscriberBuffer)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		for range ch {
		}
	}()
}

// AddStage registers a stage. Stages run concurrently once Start is called.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start runs all stages, waits for them and for the subscribers, and logs
// the run duration. A run cancelled from outside returns the cancellation
// cause.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.dispatchWG.Add(1)
	go r.dispatch()

	for _, s := range r.stages {
		r.workWG.Add(1)
		go func(s stage) {
			defer r.workWG.Done()
			if err := s.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", s.name, err))
			}
		}(s)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.dispatchWG.Wait()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if err == nil && r.parent.Err() != nil {
		err = fmt.Errorf("run interrupted: %w", r.parent.Err())
	}

	duration := time.Since(r.since).Round(time.Second)
	if err != nil {
		r.logger.Error("import failed", "duration", duration.String(), "err", err)
		return err
	}

	r.logger.Info("Duration: " + duration.String())
	return nil
}

func (r *Runner) dispatch() {
	defer r.dispatchWG.Done()

	r.subMu.Lock()
	subs := append([]chan stats.Event(nil), r.subscribers...)
	r.subMu.Unlock()

	for evt := range r.events {
		for _, ch := range subs {
			ch <- evt
		}
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
