package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/model"
)

// ParseMail turns a raw RFC 5322 message into a mail item. The raw header
// block becomes the item's transport headers.
func ParseMail(id int64, raw []byte) (*model.MailItem, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer r.Close()

	header, _ := filter.SplitRawMessage(raw)
	item := &model.MailItem{
		ID:               id,
		TransportHeaders: string(header),
	}

	setSender(item, r.Header)
	item.Recipients = append(item.Recipients, recipients(r.Header, "To", model.RecipientTo)...)
	item.Recipients = append(item.Recipients, recipients(r.Header, "Cc", model.RecipientCc)...)
	item.Recipients = append(item.Recipients, recipients(r.Header, "Bcc", model.RecipientBcc)...)

	if subject, err := r.Header.Subject(); err == nil {
		item.Subject = subject
	} else {
		item.Subject = r.Header.Get("Subject")
	}
	if date, err := r.Header.Date(); err == nil {
		item.SentAt = date
	}
	setFlags(item, r.Header)

	for idx := 0; ; idx++ {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("part %d: %w", idx, err)
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("part %d read: %w", idx, err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			t, _, _ := h.ContentType()
			switch {
			case t == "text/html" && item.HTMLBody == "":
				item.HTMLBody = string(body)
			case t != "text/html" && item.Body == "":
				item.Body = string(body)
			}
		case *mail.AttachmentHeader:
			item.Attachments = append(item.Attachments, attachment(h, body))
		}
	}

	return item, nil
}

func setSender(item *model.MailItem, h mail.Header) {
	if strings.EqualFold(strings.TrimSpace(h.Get("X-Sender-Address-Type")), "EX") {
		item.SenderKind = model.SenderDirectory
		item.Sender = strings.TrimSpace(h.Get("X-Sender-Address"))
		return
	}

	item.SenderKind = model.SenderRoutable
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		item.Sender = from[0].Address
	}
}

func recipients(h mail.Header, key string, kind model.RecipientKind) []model.Recipient {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]model.Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Recipient{Kind: kind, Address: a.String()})
	}
	return out
}

// setFlags reads the mbox Status and X-Status headers.
func setFlags(item *model.MailItem, h mail.Header) {
	status := h.Get("Status")
	xstatus := h.Get("X-Status")
	item.Read = strings.ContainsRune(status, 'R')
	item.Replied = strings.ContainsRune(xstatus, 'A')
	item.Flagged = strings.ContainsRune(xstatus, 'F')
}

func attachment(h *mail.AttachmentHeader, body []byte) model.Attachment {
	filename, _ := h.Filename()
	display := filename
	if _, params, err := h.ContentType(); err == nil && params["name"] != "" {
		display = params["name"]
	}
	if desc := h.Get("Content-Description"); desc != "" {
		display = desc
	}

	return model.Attachment{
		LongFilename: filename,
		DisplayName:  display,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	}
}
