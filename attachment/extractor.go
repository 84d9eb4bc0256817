// Package attachment strips attachment payloads out of mail items onto local
// disk and keeps the extraction and error logs.
package attachment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhcgn/archive-import/model"
)

type Extractor struct {
	logs   *Logs
	logger *slog.Logger
}

func NewExtractor(logs *Logs, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if logs == nil {
		logs = NewLogs(logger)
	}
	return &Extractor{logs: logs, logger: logger}
}

// Extract writes every attachment of item to outputRoot/<itemID>/<filename>
// and returns the keys of the ones that were written, in attachment order.
// Failures are logged per attachment and never stop the extraction.
func (e *Extractor) Extract(item *model.MailItem, outputRoot string) []string {
	removed := []string{}
	if item == nil || len(item.Attachments) == 0 {
		return removed
	}

	for i, att := range item.Attachments {
		fileName := SanitizeFilename(att.LongFilename, i)

		if err := e.write(att, outputRoot, item.ID, fileName); err != nil {
			e.logger.Error("attachment extraction failed", "itemID", item.ID, "file", att.LongFilename, "name", att.DisplayName, "err", err)
			e.logs.AttachmentError(outputRoot, item.ID, att.LongFilename, att.DisplayName, err)
			continue
		}

		e.logger.Debug("attachment extracted", "itemID", item.ID, "file", fileName, "name", att.DisplayName)
		e.logs.AttachmentRemoved(outputRoot, item.ID, fileName, att.DisplayName)
		removed = append(removed, Key(item.ID, fileName))
	}

	return removed
}

func (e *Extractor) write(att model.Attachment, outputRoot string, itemID int64, fileName string) error {
	if att.Open == nil {
		return fmt.Errorf("attachment %q has no content", fileName)
	}
	stream, err := att.Open()
	if err != nil {
		return fmt.Errorf("open attachment stream: %w", err)
	}
	defer stream.Close()

	dir := filepath.Join(outputRoot, strconv.FormatInt(itemID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create attachment directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, fileName))
	if err != nil {
		return fmt.Errorf("create attachment file: %w", err)
	}
	if _, err := io.Copy(file, stream); err != nil {
		file.Close()
		_ = os.Remove(file.Name())
		return fmt.Errorf("write attachment: %w", err)
	}
	return file.Close()
}

// Key is the storage key of an attachment, relative to the output root.
func Key(itemID int64, fileName string) string {
	return strconv.FormatInt(itemID, 10) + "/" + fileName
}

// SanitizeFilename keeps name a single path element.
func SanitizeFilename(name string, index int) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("attachment-%d", index+1)
	}
	return name
}
