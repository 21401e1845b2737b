package crawler

import "fmt"

// Strategy selects the frontier discipline.
type Strategy string

// Supported strategies.
const (
	BreadthFirst Strategy = "bfs"
	DepthFirst   Strategy = "dfs"
)

// ParseStrategy maps a config string to a Strategy; "" means breadth-first.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", BreadthFirst:
		return BreadthFirst, nil
	case DepthFirst:
		return DepthFirst, nil
	default:
		return "", fmt.Errorf("unsupported crawl strategy %q", s)
	}
}

// Entry is one pending unit of crawl work.
type Entry struct {
	URL   string
	Depth int
}

// Frontier holds pending entries. It is owned by a single crawl loop.
type Frontier struct {
	strategy Strategy
	items    []Entry
	head     int
}

// NewFrontier builds an empty frontier.
func NewFrontier(strategy Strategy) *Frontier {
	return &Frontier{strategy: strategy}
}

// Push adds an entry at the back.
func (f *Frontier) Push(e Entry) {
	f.items = append(f.items, e)
}

// Pop removes the next entry: the oldest for bfs, the newest for dfs.
func (f *Frontier) Pop() (Entry, bool) {
	if f.Len() == 0 {
		return Entry{}, false
	}
	if f.strategy == DepthFirst {
		last := len(f.items) - 1
		e := f.items[last]
		f.items = f.items[:last]
		return e, true
	}
	e := f.items[f.head]
	f.items[f.head] = Entry{}
	f.head++
	if f.head > len(f.items)/2 {
		f.items = append([]Entry(nil), f.items[f.head:]...)
		f.head = 0
	}
	return e, true
}

// Len returns the number of pending entries.
func (f *Frontier) Len() int {
	return len(f.items) - f.head
}
