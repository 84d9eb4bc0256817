package model

import (
	"io"
	"time"
)

// ItemKind discriminates the archive items a folder can hold.
type ItemKind int

const (
	KindMail ItemKind = iota
	KindContact
	KindAppointment
)

func (k ItemKind) String() string {
	switch k {
	case KindMail:
		return "mail"
	case KindContact:
		return "contact"
	case KindAppointment:
		return "appointment"
	default:
		return "unknown"
	}
}

// Item is a single entry read from an archive folder. Mail is only set for KindMail.
type Item struct {
	Kind ItemKind
	ID   int64
	Name string
	Mail *MailItem
}

// SenderKind tells whether a sender is a directory identity or a routable address.
type SenderKind int

const (
	SenderRoutable SenderKind = iota
	SenderDirectory
)

func (k SenderKind) String() string {
	if k == SenderDirectory {
		return "EX"
	}
	return "SMTP"
}

type RecipientKind int

const (
	RecipientTo RecipientKind = iota
	RecipientCc
	RecipientBcc
)

type Recipient struct {
	Kind    RecipientKind
	Address string
}

// Attachment is a payload carried by a mail item. Open may fail when the
// underlying archive data is unreadable.
type Attachment struct {
	LongFilename string
	DisplayName  string
	Open         func() (io.ReadCloser, error)
}

// MailItem represents a single email message extracted from an archive.
type MailItem struct {
	ID               int64
	SenderKind       SenderKind
	Sender           string
	Recipients       []Recipient
	Subject          string
	Body             string
	HTMLBody         string
	TransportHeaders string
	SentAt           time.Time
	Replied          bool
	Flagged          bool
	Read             bool
	Attachments      []Attachment
}

// Message is the converted, wire-ready form of a mail item.
type Message struct {
	ItemID       int64
	Subject      string
	Raw          []byte
	InternalDate time.Time
	Answered     bool
	Flagged      bool
	Seen         bool
}

// Label is a destination folder-equivalent tag.
type Label struct {
	ID                    string
	Name                  string
	LabelListVisibility   string
	MessageListVisibility string
}
