// Package journal appends the outcome of every imported, abandoned or failed
// item to a JSON lines file in the output root.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/archive-import/stats"
)

const FileName = "journal.jsonl"

type Record struct {
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
	ItemID        int64     `json:"item_id"`
	Account       string    `json:"account,omitempty"`
	DestinationID string    `json:"destination_id,omitempty"`
	Labels        []string  `json:"labels,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Journal is safe for concurrent use.
type Journal struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex
	written int
	now     func() time.Time
}

func Open(dir string) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}
	return &Journal{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		now:    time.Now,
	}, nil
}

func (j *Journal) Path() string {
	return j.path
}

// Written reports how many records this Journal appended.
func (j *Journal) Written() int {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.written
}

// Record appends evt when it is an import outcome. Other events are ignored.
func (j *Journal) Record(evt stats.Event) error {
	if !journaled(evt) {
		return nil
	}

	rec := Record{
		Time:          j.now().UTC(),
		Type:          string(evt.Type),
		ItemID:        evt.ItemID,
		Account:       evt.Account,
		DestinationID: evt.DestinationID,
		Labels:        evt.Labels,
		Subject:       evt.Detail,
	}
	if evt.Err != nil {
		rec.Error = evt.Err.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	j.written++
	return nil
}

// Subscriber records events until the stream is closed and then flushes.
// Cancellation does not stop it early, so the outcomes of the last items
// still reach the file.
func (j *Journal) Subscriber(_ context.Context, events <-chan stats.Event) error {
	defer func() { _ = j.Flush() }()
	for evt := range events {
		if err := j.Record(evt); err != nil {
			return err
		}
	}
	return j.Flush()
}

// Flush writes any buffered data to the underlying file.
func (j *Journal) Flush() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if err := j.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	return firstErr
}

func journaled(evt stats.Event) bool {
	switch evt.Type {
	case stats.EventTypeImported, stats.EventTypeDryRunImported, stats.EventTypeAbandoned:
		return true
	case stats.EventTypeError:
		return evt.Stage == stats.StageImport
	}
	return false
}
