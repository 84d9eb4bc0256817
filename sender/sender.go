// Package sender maps directory-style sender identities to routable addresses.
package sender

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dhcgn/archive-import/model"
)

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured is an ErrInvalidState raised before any mapping is set.
	ErrNotConfigured = fmt.Errorf("resolver map has not been configured: %w", ErrInvalidState)
)

// Mapping is a single prefix to domain-suffix rule.
type Mapping struct {
	Prefix string
	Suffix string
}

// Resolver rewrites directory senders using an ordered prefix table.
type Resolver struct {
	mappings []Mapping
}

// NewResolver returns a Resolver over mappings. A nil table leaves the
// resolver unconfigured and every Resolve call fails.
func NewResolver(mappings []Mapping) *Resolver {
	return &Resolver{mappings: mappings}
}

// Resolve returns the routable address for a directory sender, or "" when no
// prefix matches.
func (r *Resolver) Resolve(item *model.MailItem) (string, error) {
	if r == nil || r.mappings == nil {
		return "", ErrNotConfigured
	}
	if item == nil {
		return "", fmt.Errorf("mail item cannot be nil: %w", ErrInvalidArgument)
	}
	if item.SenderKind != model.SenderDirectory {
		return "", fmt.Errorf("cannot convert a %s sender address: %w", item.SenderKind, ErrInvalidState)
	}

	for _, m := range r.mappings {
		if strings.HasPrefix(item.Sender, m.Prefix) {
			user := item.Sender[strings.LastIndex(item.Sender, "=")+1:]
			return user + m.Suffix, nil
		}
	}

	return "", nil
}

// ParseMap parses "prefix:suffix,prefix:suffix" keeping declaration order.
func ParseMap(input string) ([]Mapping, error) {
	mappings := []Mapping{}
	if strings.TrimSpace(input) == "" {
		return mappings, nil
	}

	for _, entry := range strings.Split(input, ",") {
		items := strings.Split(entry, ":")
		if len(items) != 2 {
			return nil, fmt.Errorf("cannot parse key:value string for %q", entry)
		}
		mappings = append(mappings, Mapping{
			Prefix: strings.TrimSpace(items[0]),
			Suffix: strings.TrimSpace(items[1]),
		})
	}

	return mappings, nil
}
