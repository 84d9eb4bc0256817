// Package gmail implements a destination session on top of the Gmail API.
// Folder labels and the import marker are Gmail labels and messages are
// added with users.messages.import.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
)

const (
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"

	internalDateSource = "dateHeader"

	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 60 * time.Second
)

var (
	ErrMissingAccount     = errors.New("gmail account is empty")
	ErrMissingCredentials = errors.New("gmail credentials file is empty")
)

type Options struct {
	Account string
	// CredentialsFile is a service account key with domain-wide delegation.
	CredentialsFile string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
}

// Session is a destination.Session for one Gmail account.
type Session struct {
	account string
	svc     *gmailv1.Service
	logger  *slog.Logger
}

var _ destination.Session = (*Session)(nil)

// New builds an authorized service that acts as opts.Account.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Account == "" {
		return nil, ErrMissingAccount
	}
	if opts.CredentialsFile == "" {
		return nil, ErrMissingCredentials
	}
	data, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	client, err := NewHTTPClient(ctx, data, opts.Account, opts.ConnectTimeout, opts.ReadTimeout)
	if err != nil {
		return nil, err
	}
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewWithService(opts.Account, svc, logger), nil
}

func NewWithService(account string, svc *gmailv1.Service, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{account: account, svc: svc, logger: logger}
}

// NewHTTPClient returns a client authorized with the service account key
// in credentialsJSON, impersonating account.
func NewHTTPClient(ctx context.Context, credentialsJSON []byte, account string, connectTimeout, readTimeout time.Duration) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, gmailv1.GmailInsertScope, gmailv1.GmailLabelsScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	conf.Subject = account

	base := newTransport(connectTimeout, readTimeout)
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base})
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: conf.TokenSource(tokenCtx),
			Base:   base,
		},
	}, nil
}

func newTransport(connectTimeout, readTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
}

func (s *Session) Account() string {
	return s.account
}

func (s *Session) ListLabels(ctx context.Context) ([]model.Label, error) {
	resp, err := s.svc.Users.Labels.List(s.account).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list gmail labels: %w", err)
	}
	labels := make([]model.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, fromAPI(l))
	}
	return labels, nil
}

// CreateLabel creates the label. When Gmail reports a conflict the
// existing label with the same name is returned.
func (s *Session) CreateLabel(ctx context.Context, label model.Label) (model.Label, error) {
	created, err := s.svc.Users.Labels.Create(s.account, &gmailv1.Label{
		Name:                  label.Name,
		LabelListVisibility:   label.LabelListVisibility,
		MessageListVisibility: label.MessageListVisibility,
	}).Context(ctx).Do()
	if err == nil {
		return fromAPI(created), nil
	}
	if !IsConflict(err) {
		return model.Label{}, fmt.Errorf("create gmail label %q: %w", label.Name, err)
	}

	s.logger.Debug("gmail label already exists", "account", s.account, "label", label.Name)
	existing, listErr := s.ListLabels(ctx)
	if listErr != nil {
		return model.Label{}, listErr
	}
	for _, l := range existing {
		if l.Name == label.Name {
			return l, nil
		}
	}
	return model.Label{}, fmt.Errorf("create gmail label %q: %w", label.Name, err)
}

func (s *Session) Import(ctx context.Context, msg *model.Message, labelIDs []string) (string, error) {
	imported, err := s.svc.Users.Messages.Import(s.account, APIMessage(msg, labelIDs)).
		InternalDateSource(internalDateSource).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gmail import: %w", err)
	}
	return imported.Id, nil
}

func (s *Session) NewBatch(opts destination.BatchOptions) destination.Batch {
	return &batch{session: s, opts: opts}
}

// APIMessage builds the import payload. Unread and flagged messages get the
// UNREAD and STARRED system labels.
func APIMessage(msg *model.Message, labelIDs []string) *gmailv1.Message {
	ids := append([]string(nil), labelIDs...)
	if !msg.Seen {
		ids = append(ids, LabelUnread)
	}
	if msg.Flagged {
		ids = append(ids, LabelStarred)
	}
	return &gmailv1.Message{
		Raw:      base64.URLEncoding.EncodeToString(msg.Raw),
		LabelIds: ids,
	}
}

// IsConflict reports whether err is an HTTP 409 from the API.
func IsConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

func fromAPI(l *gmailv1.Label) model.Label {
	return model.Label{
		ID:                    l.Id,
		Name:                  l.Name,
		LabelListVisibility:   l.LabelListVisibility,
		MessageListVisibility: l.MessageListVisibility,
	}
}
