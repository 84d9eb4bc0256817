package filter

// NameSet is a set of folder display names matched exactly.
type NameSet map[string]struct{}

func NewNameSet(names ...string) NameSet {
	set := make(NameSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// DefaultIgnoredFolders hold no mail worth importing.
var DefaultIgnoredFolders = []string{
	"Deleted Items",
	"Calendar",
	"Contacts",
	"Junk E-mail",
	"Drafts",
	"RSS Feeds",
	"Outbox",
	"Search Folders",
}

// DefaultNoLabelFolders are containers that never become part of a label.
var DefaultNoLabelFolders = []string{
	"",
	"Top of Information Store",
}
