// Package convert turns archive mail items into RFC 5322 messages ready for
// import.
package convert

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/archive-import/attachment"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/sender"
)

const fromPrefixLen = len("From: ")

// Options holds the text used to mark messages whose attachments were removed.
type Options struct {
	SubjectPrefix string
	SummaryHeader string
	SummaryFooter string
}

type Converter struct {
	opts     Options
	resolver *sender.Resolver
	logs     *attachment.Logs
	logger   *slog.Logger
}

func New(opts Options, resolver *sender.Resolver, logs *attachment.Logs, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	if logs == nil {
		logs = attachment.NewLogs(logger)
	}
	return &Converter{opts: opts, resolver: resolver, logs: logs, logger: logger}
}

// Draft is a message assembled from a mail item but not yet serialized.
type Draft struct {
	ItemID     int64
	From       *mail.Address
	To         []*mail.Address
	Cc         []*mail.Address
	Bcc        []*mail.Address
	RawHeaders []string
	Subject    string
	Text       string
	HTML       string
	SentAt     time.Time
	Answered   bool
	Flagged    bool
	Seen       bool
}

// Convert builds and serializes item. strippedKeys lists the attachments
// that were moved to disk and is announced in the subject and body.
func (c *Converter) Convert(item *model.MailItem, outputRoot string, strippedKeys []string) (*model.Message, error) {
	draft, err := c.Build(item, outputRoot, strippedKeys)
	if err != nil {
		return nil, err
	}

	raw, err := draft.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize message %d: %w", item.ID, err)
	}

	return &model.Message{
		ItemID:       item.ID,
		Subject:      draft.Subject,
		Raw:          raw,
		InternalDate: item.SentAt,
		Answered:     draft.Answered,
		Flagged:      draft.Flagged,
		Seen:         draft.Seen,
	}, nil
}

// Build assembles the draft. The order of the steps matters: a directory
// sender resolved through the resolver replaces a From taken from the
// transport headers.
func (c *Converter) Build(item *model.MailItem, outputRoot string, strippedKeys []string) (*Draft, error) {
	if item == nil {
		return nil, fmt.Errorf("mail item cannot be nil")
	}

	d := &Draft{ItemID: item.ID}
	c.copyContent(item, strippedKeys, d)
	c.copyRecipients(item, d)
	c.copyHeaders(item, outputRoot, d)

	if item.SenderKind == model.SenderDirectory {
		if err := c.setFromDirectory(item, outputRoot, d); err != nil {
			return nil, err
		}
	}

	d.Subject = item.Subject
	if len(strippedKeys) > 0 {
		d.Subject = c.opts.SubjectPrefix + item.Subject
	}
	d.SentAt = item.SentAt
	d.Answered = item.Replied
	d.Flagged = item.Flagged
	d.Seen = item.Read

	return d, nil
}

func (c *Converter) copyContent(item *model.MailItem, strippedKeys []string, d *Draft) {
	if len(strippedKeys) == 0 {
		d.Text = item.Body
		d.HTML = item.HTMLBody
		return
	}

	summary := c.summary(strippedKeys)
	d.Text = summary + item.Body
	if item.HTMLBody != "" {
		d.HTML = "<pre>" + summary + "</pre>" + item.HTMLBody
	}
}

func (c *Converter) summary(strippedKeys []string) string {
	var sb strings.Builder
	sb.WriteString(c.opts.SummaryHeader)
	for _, key := range strippedKeys {
		sb.WriteString(key)
		sb.WriteString("\n")
	}
	sb.WriteString(c.opts.SummaryFooter)
	return sb.String()
}

func (c *Converter) copyRecipients(item *model.MailItem, d *Draft) {
	for _, r := range item.Recipients {
		addr, err := mail.ParseAddress(r.Address)
		if err != nil {
			c.logger.Warn("skipping unparsable recipient", "itemID", item.ID, "recipient", r.Address, "err", err)
			continue
		}
		switch r.Kind {
		case model.RecipientTo:
			d.To = append(d.To, addr)
		case model.RecipientCc:
			d.Cc = append(d.Cc, addr)
		case model.RecipientBcc:
			d.Bcc = append(d.Bcc, addr)
		}
	}
}

func (c *Converter) copyHeaders(item *model.MailItem, outputRoot string, d *Draft) {
	for _, header := range LogicalHeaders(item.TransportHeaders) {
		switch {
		case hasPrefixFold(header, "from:"):
			c.setFromHeader(item, outputRoot, header, d)
		case isRecipientHeader(header):
		default:
			d.RawHeaders = append(d.RawHeaders, header)
		}
	}
}

func (c *Converter) setFromHeader(item *model.MailItem, outputRoot, header string, d *Draft) {
	var from string
	if item.SenderKind != model.SenderRoutable {
		if len(header) > fromPrefixLen {
			from = header[fromPrefixLen:]
		}
	} else {
		from = item.Sender
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(from))
	if err != nil {
		c.logger.Error("error parsing sender", "itemID", item.ID, "sender", from, "output", outputRoot, "err", err)
		c.logs.SenderError(outputRoot, item.ID, from, err)
		return
	}
	d.From = addr
}

func (c *Converter) setFromDirectory(item *model.MailItem, outputRoot string, d *Draft) error {
	resolved, err := c.resolver.Resolve(item)
	if err != nil {
		return fmt.Errorf("resolve sender of message %d: %w", item.ID, err)
	}
	if resolved == "" {
		c.logger.Error("could not find sender email address", "itemID", item.ID, "sender", item.Sender)
		return nil
	}

	addr, err := mail.ParseAddress(resolved)
	if err != nil {
		c.logger.Error("error parsing resolved sender", "itemID", item.ID, "sender", resolved, "output", outputRoot, "err", err)
		c.logs.SenderError(outputRoot, item.ID, resolved, err)
		return nil
	}
	d.From = addr
	return nil
}

// LogicalHeaders splits a raw header block into logical header fields. A
// line starting with whitespace continues the previous field and is joined
// to it with a newline. Blank lines are dropped.
func LogicalHeaders(block string) []string {
	var (
		headers []string
		current string
	)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if current != "" {
				current += "\n" + line
			}
			continue
		}
		if current != "" {
			headers = append(headers, current)
		}
		current = line
	}
	if current != "" {
		headers = append(headers, current)
	}
	return headers
}

func isRecipientHeader(header string) bool {
	return hasPrefixFold(header, "to:") || hasPrefixFold(header, "cc:") || hasPrefixFold(header, "bcc:")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
