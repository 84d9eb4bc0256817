package walker

import "strings"

// Path is the chain of folder names from the top of the walk down to the
// folder being handled. It is owned by a single walk.
type Path struct {
	names []string
}

func NewPath() *Path {
	return &Path{}
}

func (p *Path) Push(name string) {
	p.names = append(p.names, name)
}

func (p *Path) Pop() {
	if len(p.names) > 0 {
		p.names = p.names[:len(p.names)-1]
	}
}

// Names returns a copy of the current path.
func (p *Path) Names() []string {
	return append([]string(nil), p.names...)
}

func (p *Path) Len() int {
	return len(p.names)
}

func (p *Path) String() string {
	return strings.Join(p.names, "/")
}
