package attachment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	AttachmentLogName = "attachments.log"
	ErrorLogName      = "error.log"
)

// Logs appends human-readable lines to the attachment and error logs kept in
// an output directory.
type Logs struct {
	logger *slog.Logger
	mu     sync.Mutex
}

func NewLogs(logger *slog.Logger) *Logs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logs{logger: logger}
}

func (l *Logs) AttachmentRemoved(outputRoot string, itemID int64, fileName, displayName string) {
	line := fmt.Sprintf("Extracted attachment %s (%s) from email %d\n", fileName, displayName, itemID)
	if err := l.append(filepath.Join(outputRoot, AttachmentLogName), line); err != nil {
		l.logger.Error("could not log attachment extraction", "itemID", itemID, "err", err)
	}
}

func (l *Logs) AttachmentError(outputRoot string, itemID int64, fileName, displayName string, cause error) {
	line := fmt.Sprintf("Error extracting attachment %s (%s) from email %d with error %v\n", fileName, displayName, itemID, cause)
	if err := l.append(filepath.Join(outputRoot, ErrorLogName), line); err != nil {
		l.logger.Error("could not log attachment error", "itemID", itemID, "err", err)
	}
}

func (l *Logs) SenderError(outputRoot string, itemID int64, sender string, cause error) {
	line := fmt.Sprintf("Could not resolve sender %s to proper email address in email with id %d: %v\n", sender, itemID, cause)
	if err := l.append(filepath.Join(outputRoot, ErrorLogName), line); err != nil {
		l.logger.Error("could not log sender error", "itemID", itemID, "err", err)
	}
}

func (l *Logs) append(path, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
