// Package imap implements a destination session on top of an IMAP account.
// Labels are mailboxes and importing a message is an APPEND into the
// mailbox of its folder label.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
)

const (
	inboxLabel = "INBOX"
	sentLabel  = "SENT"

	defaultConnectTimeout = 30 * time.Second
)

var (
	ErrNoLabel = errors.New("message has no label to append to")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Session is a destination.Session backed by one IMAP connection. The
// connection is re-established on the next call after a transport failure.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	client  *imapclient.Client
	delim   rune
	aliases map[string]string
}

var _ destination.Session = (*Session)(nil)

// Dial connects and logs in.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		opts:    opts,
		logger:  logger,
		delim:   '/',
		aliases: map[string]string{inboxLabel: inboxLabel},
	}
	if _, err := s.conn(ctx, opts.ConnectTimeout); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Account() string {
	return s.opts.Username
}

// Close logs out and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	if err := client.Logout().Wait(); err != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	return client.Close()
}

// ListLabels lists every mailbox. INBOX is always present and the mailbox
// flagged \Sent is also reported under the SENT label name.
func (s *Session) ListLabels(ctx context.Context) ([]model.Label, error) {
	client, err := s.conn(ctx, s.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	data, err := client.List("", "*", nil).Collect()
	stop()
	if err != nil {
		s.drop(client, err)
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	labels := make([]model.Label, 0, len(data)+1)
	seenInbox := false
	for _, d := range data {
		if d.Delim != 0 {
			s.delim = d.Delim
		}
		if hasAttr(d.Attrs, imapv2.MailboxAttrNoSelect) {
			continue
		}
		name := LabelName(d.Mailbox, d.Delim)
		if strings.EqualFold(d.Mailbox, inboxLabel) {
			seenInbox = true
			name = inboxLabel
		}
		labels = append(labels, model.Label{ID: d.Mailbox, Name: name})
		if hasAttr(d.Attrs, imapv2.MailboxAttrSent) {
			s.aliases[sentLabel] = d.Mailbox
			labels = append(labels, model.Label{ID: d.Mailbox, Name: sentLabel})
		}
	}
	if !seenInbox {
		labels = append(labels, model.Label{ID: inboxLabel, Name: inboxLabel})
	}
	return labels, nil
}

// CreateLabel creates the mailbox for label.Name. A mailbox that already
// exists is returned as is.
func (s *Session) CreateLabel(ctx context.Context, label model.Label) (model.Label, error) {
	client, err := s.conn(ctx, s.opts.ConnectTimeout)
	if err != nil {
		return model.Label{}, err
	}

	s.mu.Lock()
	mailbox, ok := s.aliases[label.Name]
	if !ok {
		mailbox = MailboxName(label.Name, s.delim)
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	err = client.Create(mailbox, nil).Wait()
	stop()
	if err != nil {
		var respErr *imapv2.Error
		if !errors.As(err, &respErr) {
			s.drop(client, err)
			return model.Label{}, fmt.Errorf("create mailbox %s: %w", mailbox, err)
		}
		if respErr.Code != imapv2.ResponseCodeAlreadyExists {
			return model.Label{}, fmt.Errorf("create mailbox %s: %w", mailbox, err)
		}
		s.logger.Debug("imap mailbox already exists", "mailbox", mailbox)
	} else {
		s.logger.Info("imap mailbox created", "mailbox", mailbox)
	}

	label.ID = mailbox
	return label, nil
}

// Import appends msg to the mailbox of the first label id. IMAP keeps one
// mailbox per message, so further label ids are not applied.
func (s *Session) Import(ctx context.Context, msg *model.Message, labelIDs []string) (string, error) {
	if len(labelIDs) == 0 {
		return "", ErrNoLabel
	}
	client, err := s.conn(ctx, s.opts.ConnectTimeout)
	if err != nil {
		return "", err
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	cmd, err := startAppend(client, labelIDs[0], msg)
	if err != nil {
		s.drop(client, err)
		return "", err
	}
	id, err := waitAppend(cmd, labelIDs[0])
	if err != nil {
		s.dropIfTransport(client, err)
		return "", err
	}
	return id, nil
}

func (s *Session) NewBatch(opts destination.BatchOptions) destination.Batch {
	return &batch{session: s, opts: opts}
}

func (s *Session) conn(ctx context.Context, timeout time.Duration) (*imapclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := s.dial(timeout)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

func (s *Session) dial(timeout time.Duration) (*imapclient.Client, error) {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: timeout},
	}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)
	return client, nil
}

// drop forgets client so that the next call reconnects.
func (s *Session) drop(client *imapclient.Client, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	s.client = nil
	_ = client.Close()
	s.logger.Warn("imap connection dropped", "err", cause)
}

// dropIfTransport drops the connection unless err is a server response.
func (s *Session) dropIfTransport(client *imapclient.Client, err error) {
	var respErr *imapv2.Error
	if errors.As(err, &respErr) {
		return
	}
	s.drop(client, err)
}

func startAppend(client *imapclient.Client, mailbox string, msg *model.Message) (*imapclient.AppendCommand, error) {
	size := int64(len(msg.Raw))
	cmd := client.Append(mailbox, size, AppendOptions(msg))

	remaining := msg.Raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return nil, fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return nil, fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("append close: %w", err)
	}
	return cmd, nil
}

func waitAppend(cmd *imapclient.AppendCommand, mailbox string) (string, error) {
	data, err := cmd.Wait()
	if err != nil {
		return "", fmt.Errorf("append wait: %w", err)
	}
	return MessageID(mailbox, data), nil
}

// AppendOptions maps the message state to APPEND flags and internal date.
func AppendOptions(msg *model.Message) *imapv2.AppendOptions {
	opts := &imapv2.AppendOptions{Time: msg.InternalDate}
	if msg.Answered {
		opts.Flags = append(opts.Flags, imapv2.FlagAnswered)
	}
	if msg.Flagged {
		opts.Flags = append(opts.Flags, imapv2.FlagFlagged)
	}
	if msg.Seen {
		opts.Flags = append(opts.Flags, imapv2.FlagSeen)
	}
	return opts
}

// MessageID names an appended message. Servers without UIDPLUS do not
// report a UID, in which case only the mailbox is returned.
func MessageID(mailbox string, data *imapv2.AppendData) string {
	if data == nil || data.UID == 0 {
		return mailbox
	}
	return fmt.Sprintf("%s;UIDVALIDITY=%d;UID=%d", mailbox, data.UIDValidity, data.UID)
}

// LabelName converts a mailbox name to a label name using / as hierarchy
// separator.
func LabelName(mailbox string, delim rune) string {
	if delim == 0 || delim == '/' {
		return mailbox
	}
	return strings.ReplaceAll(mailbox, string(delim), "/")
}

// MailboxName converts a label name to a mailbox name.
func MailboxName(label string, delim rune) string {
	if delim == 0 || delim == '/' {
		return label
	}
	return strings.ReplaceAll(label, "/", string(delim))
}

func hasAttr(attrs []imapv2.MailboxAttr, want imapv2.MailboxAttr) bool {
	for _, a := range attrs {
		if strings.EqualFold(string(a), string(want)) {
			return true
		}
	}
	return false
}
