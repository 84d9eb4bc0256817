package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/archive-import/attachment"
	"github.com/dhcgn/archive-import/convert"
	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/sender"
	"github.com/dhcgn/archive-import/stats"
)

// flakySession fails Import for an item until its remaining failure budget
// is used up. A negative budget fails forever.
type flakySession struct {
	*destination.MemorySession
	mu       sync.Mutex
	failures map[int64]int
	attempts map[int64]int
}

func newFlakySession(failures map[int64]int) *flakySession {
	if failures == nil {
		failures = map[int64]int{}
	}
	return &flakySession{
		MemorySession: destination.NewMemorySession("user@example.com"),
		failures:      failures,
		attempts:      map[int64]int{},
	}
}

func (s *flakySession) Import(ctx context.Context, msg *model.Message, labelIDs []string) (string, error) {
	s.mu.Lock()
	s.attempts[msg.ItemID]++
	left, ok := s.failures[msg.ItemID]
	if ok && left != 0 {
		if left > 0 {
			s.failures[msg.ItemID] = left - 1
		}
		s.mu.Unlock()
		return "", fmt.Errorf("import of %d refused", msg.ItemID)
	}
	s.mu.Unlock()
	return s.MemorySession.Import(ctx, msg, labelIDs)
}

func (s *flakySession) NewBatch(destination.BatchOptions) destination.Batch {
	return &flakyBatch{session: s}
}

func (s *flakySession) Attempts(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

type flakyBatch struct {
	session *flakySession
	queued  []func(context.Context)
}

func (b *flakyBatch) Queue(msg *model.Message, labelIDs []string, cb destination.Callback) {
	b.queued = append(b.queued, func(ctx context.Context) {
		id, err := b.session.Import(ctx, msg, labelIDs)
		cb(msg, id, err)
	})
}

func (b *flakyBatch) Len() int { return len(b.queued) }

func (b *flakyBatch) Execute(ctx context.Context) error {
	for _, q := range b.queued {
		q(ctx)
	}
	b.queued = nil
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []stats.Event
}

func (r *recordingEmitter) EmitEvent(evt stats.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) count(t stats.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type recordingSleeper struct {
	calls []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return s.err
}

type recordingProgress struct {
	units []int
}

func (p *recordingProgress) UpdateProgress(units int) {
	p.units = append(p.units, units)
}

type fixture struct {
	session  *flakySession
	account  *Account
	pipeline *Pipeline
	sleeper  *recordingSleeper
	events   *recordingEmitter
}

func newFixture(t *testing.T, session *flakySession, maxRetries int, exec ExecutorOptions, mappings []sender.Mapping) *fixture {
	t.Helper()
	events := &recordingEmitter{}
	sleeper := &recordingSleeper{}

	logs := attachment.NewLogs(nil)
	converter := convert.New(convert.Options{SubjectPrefix: "*** ATTACHMENTS REMOVED *** "}, sender.NewResolver(mappings), logs, nil)
	pipeline := NewPipeline(PipelineOptions{
		OutputRoot: t.TempDir(),
		MaxRetries: maxRetries,
		Backoff:    250 * time.Millisecond,
	}, attachment.NewExtractor(logs, nil), converter, sleeper.Sleep, events, nil)

	return &fixture{
		session:  session,
		account:  NewAccount(session, AccountOptions{Executor: exec}, events, nil),
		pipeline: pipeline,
		sleeper:  sleeper,
		events:   events,
	}
}

func mailItem(id int64) *model.MailItem {
	return &model.MailItem{
		ID:      id,
		Sender:  "alice@example.com",
		Subject: fmt.Sprintf("message %d", id),
		Body:    "body",
		SentAt:  time.Date(2015, 3, 4, 10, 30, 0, 0, time.UTC),
	}
}

func TestProcessImportsWithFolderAndMarkerLabels(t *testing.T) {
	f := newFixture(t, newFlakySession(nil), 3, ExecutorOptions{}, []sender.Mapping{})

	err := f.pipeline.Process(context.Background(), f.account, mailItem(1), []string{"Inbox"})
	require.NoError(t, err)

	imported := f.session.Imported()
	require.Len(t, imported, 1)
	labels := f.session.Labels()
	require.Len(t, labels, 2)
	assert.Equal(t, "INBOX", labels[0].Name)
	assert.Equal(t, destination.DefaultMarkerLabel, labels[1].Name)
	assert.Equal(t, []string{labels[0].ID, labels[1].ID}, imported[0].LabelIDs)
	assert.Equal(t, 1, f.events.count(stats.EventTypeImported))
	assert.Empty(t, f.sleeper.calls)
}

func TestProcessEmptyPathUsesMarkerOnly(t *testing.T) {
	f := newFixture(t, newFlakySession(nil), 0, ExecutorOptions{}, []sender.Mapping{})

	require.NoError(t, f.pipeline.Process(context.Background(), f.account, mailItem(1), nil))

	imported := f.session.Imported()
	require.Len(t, imported, 1)
	marker, ok := f.account.Labels.Marker()
	require.True(t, ok)
	assert.Equal(t, []string{marker.ID}, imported[0].LabelIDs)
}

func TestProcessAlwaysFailingIsAbandonedAfterMaxRetries(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max=%d", maxRetries), func(t *testing.T) {
			session := newFlakySession(map[int64]int{7: -1})
			f := newFixture(t, session, maxRetries, ExecutorOptions{}, []sender.Mapping{})

			err := f.pipeline.Process(context.Background(), f.account, mailItem(7), []string{"Inbox"})
			require.NoError(t, err)

			assert.Equal(t, maxRetries+1, session.Attempts(7))
			assert.Len(t, f.sleeper.calls, maxRetries)
			for _, d := range f.sleeper.calls {
				assert.Equal(t, 250*time.Millisecond, d)
			}
			assert.Empty(t, session.Imported())
			assert.Equal(t, 1, f.events.count(stats.EventTypeAbandoned))
			assert.Equal(t, maxRetries, f.events.count(stats.EventTypeRetried))
		})
	}
}

func TestProcessRecoversFromTransientFailure(t *testing.T) {
	session := newFlakySession(map[int64]int{3: 2})
	f := newFixture(t, session, 5, ExecutorOptions{}, []sender.Mapping{})

	require.NoError(t, f.pipeline.Process(context.Background(), f.account, mailItem(3), []string{"Inbox"}))

	assert.Equal(t, 3, session.Attempts(3))
	assert.Len(t, f.sleeper.calls, 2)
	assert.Len(t, session.Imported(), 1)
	assert.Equal(t, 0, f.events.count(stats.EventTypeAbandoned))
}

func TestProcessStopsWhenBackoffIsCancelled(t *testing.T) {
	session := newFlakySession(map[int64]int{3: -1})
	f := newFixture(t, session, 5, ExecutorOptions{}, []sender.Mapping{})
	f.sleeper.err = context.Canceled

	err := f.pipeline.Process(context.Background(), f.account, mailItem(3), []string{"Inbox"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, session.Attempts(3))
}

func TestProcessUnconfiguredResolverIsFatal(t *testing.T) {
	session := newFlakySession(nil)
	f := newFixture(t, session, 5, ExecutorOptions{}, nil)

	item := mailItem(4)
	item.SenderKind = model.SenderDirectory
	item.Sender = "/O=ACME/CN=JDOE"

	err := f.pipeline.Process(context.Background(), f.account, item, []string{"Inbox"})
	assert.ErrorIs(t, err, sender.ErrNotConfigured)
	assert.ErrorIs(t, err, sender.ErrInvalidState)
	assert.Empty(t, f.sleeper.calls)
}

func TestExecutorBatchFlushCount(t *testing.T) {
	tests := []struct {
		n, threshold int
	}{
		{10, 3},
		{9, 3},
		{2, 5},
		{4, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,t=%d", tt.n, tt.threshold), func(t *testing.T) {
			session := newFlakySession(nil)
			exec := NewExecutor(session, ExecutorOptions{BatchEnabled: true, BatchSize: tt.threshold}, nil, nil)

			for i := 0; i < tt.n; i++ {
				require.NoError(t, exec.Submit(context.Background(), &model.Message{ItemID: int64(i)}, []string{"L"}))
			}
			assert.Equal(t, tt.n/tt.threshold, exec.Flushes())
			assert.Equal(t, tt.n%tt.threshold, exec.Pending())
			assert.Len(t, session.Imported(), tt.n-tt.n%tt.threshold)

			require.NoError(t, exec.Flush(context.Background()))
			assert.Len(t, session.Imported(), tt.n)
			assert.Equal(t, 0, exec.Pending())
		})
	}
}

func TestExecutorBatchFailureDoesNotFailSiblings(t *testing.T) {
	session := newFlakySession(map[int64]int{1: -1})
	events := &recordingEmitter{}
	exec := NewExecutor(session, ExecutorOptions{BatchEnabled: true, BatchSize: 3}, events, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Submit(context.Background(), &model.Message{ItemID: int64(i)}, []string{"L"}))
	}

	imported := session.Imported()
	require.Len(t, imported, 2)
	assert.Equal(t, int64(0), imported[0].Message.ItemID)
	assert.Equal(t, int64(2), imported[1].Message.ItemID)
	assert.Equal(t, 1, events.count(stats.EventTypeError))
	assert.Equal(t, 2, events.count(stats.EventTypeImported))
}

func TestExecutorDirectImport(t *testing.T) {
	session := newFlakySession(map[int64]int{2: -1})
	events := &recordingEmitter{}
	exec := NewExecutor(session, ExecutorOptions{DryRun: true}, events, nil)

	require.NoError(t, exec.Submit(context.Background(), &model.Message{ItemID: 1}, []string{"L"}))
	err := exec.Submit(context.Background(), &model.Message{ItemID: 2}, []string{"L"})
	assert.Error(t, err)

	assert.Equal(t, 0, exec.Flushes())
	assert.Equal(t, 1, events.count(stats.EventTypeDryRunImported))
	require.NoError(t, exec.Flush(context.Background()))
}

func TestExecutorFlushWithoutBatch(t *testing.T) {
	exec := NewExecutor(newFlakySession(nil), ExecutorOptions{BatchEnabled: true, BatchSize: 10}, nil, nil)
	require.NoError(t, exec.Flush(context.Background()))
	assert.Equal(t, 0, exec.Flushes())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(Sleep(ctx, time.Hour), context.Canceled))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
