package vectorindex

import (
	"container/list"
	"sync"
)

// handleCache 按 Key 缓存已加载句柄的 LRU
type handleCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[Key]*list.Element
}

type cacheEntry struct {
	key    Key
	handle *Handle
}

func newHandleCache(capacity int) *handleCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &handleCache{cap: capacity, ll: list.New(), items: make(map[Key]*list.Element)}
}

func (c *handleCache) get(key Key) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheEntry).handle, true
	}
	return nil, false
}

func (c *handleCache) add(key Key, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).handle = h
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, handle: h})
	for c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *handleCache) remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

func (c *handleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
