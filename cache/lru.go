package cache

import (
	"container/list"
	"sync"
)

// lruTier is the bounded in-process cache tier. Least-recently-used
// entries are evicted when the tier is full. Safe for concurrent use.
//
// No LRU library ships with the rest of the stack, so this is the
// minimal list+map implementation.
type lruTier struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = most recently used
	items map[string]*list.Element
}

type lruItem struct {
	key   string
	entry *Entry
}

func newLRUTier(capacity int) *lruTier {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruTier{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// get returns the entry for key and marks it most recently used.
func (l *lruTier) get(key string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruItem).entry, true
}

// put inserts or refreshes key, evicting the least recently used entry
// when the tier is full.
func (l *lruTier) put(key string, entry *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		el.Value.(*lruItem).entry = entry
		l.order.MoveToFront(el)
		return
	}

	l.items[key] = l.order.PushFront(&lruItem{key: key, entry: entry})

	if l.order.Len() > l.cap {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(*lruItem).key)
		}
	}
}

// len returns the current number of entries.
func (l *lruTier) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
