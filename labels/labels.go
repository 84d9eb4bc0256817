// Package labels resolves archive folder paths to destination labels.
package labels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/model"
	"github.com/dhcgn/archive-import/stats"
)

var reserved = map[string]string{
	"Inbox":      "INBOX",
	"Sent Items": "SENT",
}

var sanitizer = strings.NewReplacer("/", "_", "-", "_")

// Cache maps label paths to destination labels for one account run. It is
// not safe for concurrent use.
type Cache struct {
	session destination.Session
	marker  string
	logger  *slog.Logger

	loaded    bool
	available map[string]model.Label
}

func NewCache(session destination.Session, marker string, logger *slog.Logger) *Cache {
	if marker == "" {
		marker = destination.DefaultMarkerLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		session:   session,
		marker:    marker,
		logger:    logger,
		available: make(map[string]model.Label),
	}
}

// Resolve returns the label for the folder path, creating every missing
// prefix of the path from left to right, and makes sure the marker label
// exists. An empty path resolves to the marker label.
func (c *Cache) Resolve(ctx context.Context, path []string) (model.Label, error) {
	if err := c.load(ctx); err != nil {
		return model.Label{}, err
	}

	name := ""
	for _, folder := range path {
		clean := Sanitize(convertIfReserved(folder))
		if name == "" {
			name = clean
		} else {
			name += "/" + clean
		}

		if err := c.ensure(ctx, name); err != nil {
			return model.Label{}, err
		}
	}

	if err := c.ensure(ctx, c.marker); err != nil {
		return model.Label{}, err
	}

	if name == "" {
		return c.available[c.marker], nil
	}
	return c.available[name], nil
}

// Marker returns the import marker label once it has been resolved.
func (c *Cache) Marker() (model.Label, bool) {
	l, ok := c.available[c.marker]
	return l, ok
}

// Len reports the number of labels known to the cache.
func (c *Cache) Len() int {
	return len(c.available)
}

func (c *Cache) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	existing, err := c.session.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels for %s: %w", c.session.Account(), err)
	}
	for _, l := range existing {
		c.available[l.Name] = l
	}
	c.loaded = true
	c.logger.Debug("labels loaded", "account", c.session.Account(), "count", len(existing))
	return nil
}

func (c *Cache) ensure(ctx context.Context, name string) error {
	if _, ok := c.available[name]; ok {
		return nil
	}

	created, err := c.session.CreateLabel(ctx, model.Label{
		Name:                  name,
		LabelListVisibility:   destination.LabelListShow,
		MessageListVisibility: destination.MessageListHide,
	})
	if err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}

	c.available[name] = created
	stats.LabelsCreatedTotal.WithLabelValues(c.session.Account()).Inc()
	c.logger.Info("label created", "account", c.session.Account(), "label", name, "id", created.ID)
	return nil
}

func convertIfReserved(name string) string {
	if r, ok := reserved[name]; ok {
		return r
	}
	return name
}

// Sanitize replaces characters the destination treats as hierarchy or
// separator characters.
func Sanitize(name string) string {
	return sanitizer.Replace(name)
}
