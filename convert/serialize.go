package convert

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Headers owned by the writer. Copies coming from the transport headers
// would describe the original MIME layout, not the one written here.
var contentHeaders = []string{
	"Content-Type",
	"Content-Transfer-Encoding",
	"Content-Disposition",
	"Mime-Version",
}

// Header returns the top-level header of the message.
func (d *Draft) Header() mail.Header {
	var h mail.Header
	for _, raw := range d.RawHeaders {
		if !strings.Contains(raw, ":") {
			continue
		}
		h.AddRaw([]byte(strings.ReplaceAll(raw, "\n", "\r\n") + "\r\n"))
	}
	for _, k := range contentHeaders {
		h.Del(k)
	}

	h.Set("MIME-Version", "1.0")
	if d.From != nil {
		h.SetAddressList("From", []*mail.Address{d.From})
	}
	if len(d.To) > 0 {
		h.SetAddressList("To", d.To)
	}
	if len(d.Cc) > 0 {
		h.SetAddressList("Cc", d.Cc)
	}
	if len(d.Bcc) > 0 {
		h.SetAddressList("Bcc", d.Bcc)
	}
	h.SetSubject(d.Subject)
	if !d.SentAt.IsZero() {
		h.SetDate(d.SentAt)
	}
	return h
}

// Serialize writes the draft as an RFC 5322 message. A draft with an HTML
// body becomes multipart/alternative, otherwise a single text/plain part.
func (d *Draft) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	h := d.Header()

	if d.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, d.Text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	iw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if err := writePart(iw, "text/plain", d.Text); err != nil {
		return nil, err
	}
	if err := writePart(iw, "text/html", d.HTML); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}
