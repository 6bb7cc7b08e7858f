package headless

import (
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// tabPool keeps idle tabs for reuse and remembers every tab it has handed
// out so shutdown can dispose of them all.
type tabPool struct {
	mu       sync.Mutex
	capacity int
	idle     []Tab
	open     map[Tab]struct{}
}

func newTabPool(capacity int) *tabPool {
	return &tabPool{
		capacity: capacity,
		open:     make(map[Tab]struct{}),
	}
}

// track registers a freshly opened tab as checked out.
func (p *tabPool) track(t Tab) {
	p.mu.Lock()
	p.open[t] = struct{}{}
	p.mu.Unlock()
}

// get pops the most recently used live tab. Dead tabs found on the way are
// forgotten and returned so the caller can dispose of them.
func (p *tabPool) get() (Tab, []Tab) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stale []Tab
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		t := p.idle[last]
		p.idle[last] = nil
		p.idle = p.idle[:last]
		metrics.AddPooledTabs(-1)
		if t.Alive() {
			return t, stale
		}
		delete(p.open, t)
		stale = append(stale, t)
	}
	return nil, stale
}

// put returns t to the pool. It reports false when the pool is full; the
// caller then owns disposal.
func (p *tabPool) put(t Tab) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.capacity {
		delete(p.open, t)
		return false
	}
	p.idle = append(p.idle, t)
	metrics.AddPooledTabs(1)
	return true
}

func (p *tabPool) forget(t Tab) {
	p.mu.Lock()
	delete(p.open, t)
	p.mu.Unlock()
}

// drain empties the pool and returns every tab it knows about, idle or not.
func (p *tabPool) drain() []Tab {
	p.mu.Lock()
	defer p.mu.Unlock()
	metrics.AddPooledTabs(-len(p.idle))
	tabs := make([]Tab, 0, len(p.open))
	for t := range p.open {
		tabs = append(tabs, t)
	}
	p.idle = nil
	p.open = make(map[Tab]struct{})
	return tabs
}

func (p *tabPool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
