// internal/explorer/frontier.go
package explorer

// item is one frontier entry.
type item struct {
	URL   string
	Depth int
}

// frontier is the FIFO queue driving breadth-first order. It remembers what it
// holds so a URL is never queued twice.
type frontier struct {
	items  []item
	head   int
	queued map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{queued: make(map[string]struct{})}
}

// Push enqueues it unless its URL is already queued.
func (f *frontier) Push(it item) bool {
	if _, ok := f.queued[it.URL]; ok {
		return false
	}
	f.queued[it.URL] = struct{}{}
	f.items = append(f.items, it)
	return true
}

// Pop dequeues the front item.
func (f *frontier) Pop() (item, bool) {
	if f.head >= len(f.items) {
		return item{}, false
	}
	it := f.items[f.head]
	f.items[f.head] = item{}
	f.head++
	delete(f.queued, it.URL)

	// Reclaim the consumed prefix once it dominates the slice.
	if f.head > 64 && f.head*2 > len(f.items) {
		f.items = append([]item(nil), f.items[f.head:]...)
		f.head = 0
	}
	return it, true
}

// Contains reports whether url is waiting in the queue.
func (f *frontier) Contains(url string) bool {
	_, ok := f.queued[url]
	return ok
}

func (f *frontier) Len() int { return len(f.items) - f.head }
