// Package filter decides which archive folders and mail items take part in
// an import.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/archive-import/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader) > 0 || len(o.IncludeBody) > 0 || len(o.ExcludeHeader) > 0 || len(o.ExcludeBody) > 0
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool

	mu   sync.Mutex
	hits map[*regexp.Regexp]int
}

// Stats reports how often each pattern matched.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	IncludeHeaderHits     map[string]int
	IncludeBodyHits       map[string]int
	ExcludeHeaderHits     map[string]int
	ExcludeBodyHits       map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
		hits:           make(map[*regexp.Regexp]int),
	}, nil
}

// AllowsItem matches header patterns against the item's transport headers
// and body patterns against its plain body.
func (f *Filter) AllowsItem(item *model.MailItem) bool {
	if f == nil || item == nil {
		return true
	}
	return f.Allows([]byte(item.TransportHeaders), []byte(item.Body))
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if f.includeMode {
		headerMatched := f.matchAny(f.includeHeader, headerText)
		bodyMatched := f.matchAny(f.includeBody, bodyText)
		return headerMatched || bodyMatched
	}

	if f.excludeMode {
		headerMatched := f.matchAny(f.excludeHeader, headerText)
		bodyMatched := f.matchAny(f.excludeBody, bodyText)
		if headerMatched || bodyMatched {
			return false
		}
	}

	return true
}

// GetStats returns a snapshot of the pattern hit counters.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Stats{
		IncludeHeaderPatterns: sources(f.includeHeader),
		IncludeBodyPatterns:   sources(f.includeBody),
		ExcludeHeaderPatterns: sources(f.excludeHeader),
		ExcludeBodyPatterns:   sources(f.excludeBody),
		IncludeHeaderHits:     f.hitsFor(f.includeHeader),
		IncludeBodyHits:       f.hitsFor(f.includeBody),
		ExcludeHeaderHits:     f.hitsFor(f.excludeHeader),
		ExcludeBodyHits:       f.hitsFor(f.excludeBody),
	}
	return s
}

func (f *Filter) hitsFor(patterns []*regexp.Regexp) map[string]int {
	out := make(map[string]int, len(patterns))
	for _, re := range patterns {
		out[re.String()] = f.hits[re]
	}
	return out
}

func sources(patterns []*regexp.Regexp) []string {
	out := make([]string, 0, len(patterns))
	for _, re := range patterns {
		out = append(out, re.String())
	}
	return out
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// matchAny counts a hit for every pattern that matches.
func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	matched := false
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re]++
			f.mu.Unlock()
			matched = true
		}
	}
	return matched
}
