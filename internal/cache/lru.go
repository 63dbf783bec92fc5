package cache

import (
	"container/list"
	"time"
)

// lruIndex tracks entry sizes in recency order. It is not safe for concurrent
// use; FileCache guards it with its own mutex.
type lruIndex struct {
	capacity    int64
	maxEntries  int
	currentSize int64
	items       map[string]*list.Element
	evictList   *list.List
}

type indexEntry struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"stored_size"`
	AccessTime time.Time `json:"access_time"`
}

func newLRUIndex(capacity int64, maxEntries int) *lruIndex {
	return &lruIndex{
		capacity:   capacity,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
	}
}

// get returns the entry and marks it most recently used.
func (l *lruIndex) get(key string) (*indexEntry, bool) {
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.evictList.MoveToFront(el)
	e := el.Value.(*indexEntry)
	e.AccessTime = time.Now()
	return e, true
}

// add inserts or replaces an entry and returns the entries evicted to make room.
func (l *lruIndex) add(e *indexEntry) (replaced *indexEntry, evicted []*indexEntry) {
	if el, ok := l.items[e.Key]; ok {
		replaced = el.Value.(*indexEntry)
		l.currentSize -= replaced.StoredSize
		el.Value = e
		l.evictList.MoveToFront(el)
	} else {
		l.items[e.Key] = l.evictList.PushFront(e)
	}
	l.currentSize += e.StoredSize

	for l.overflow() {
		oldest := l.evictList.Back()
		if oldest == nil || oldest.Value.(*indexEntry) == e {
			break
		}
		evicted = append(evicted, l.removeElement(oldest))
	}
	return replaced, evicted
}

// pushBack restores an entry loaded from disk without touching its recency.
func (l *lruIndex) pushBack(e *indexEntry) {
	l.items[e.Key] = l.evictList.PushBack(e)
	l.currentSize += e.StoredSize
}

func (l *lruIndex) remove(key string) (*indexEntry, bool) {
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	return l.removeElement(el), true
}

func (l *lruIndex) removeElement(el *list.Element) *indexEntry {
	e := el.Value.(*indexEntry)
	l.evictList.Remove(el)
	delete(l.items, e.Key)
	l.currentSize -= e.StoredSize
	return e
}

func (l *lruIndex) overflow() bool {
	if l.capacity > 0 && l.currentSize > l.capacity {
		return true
	}
	return l.maxEntries > 0 && len(l.items) > l.maxEntries
}

func (l *lruIndex) len() int {
	return len(l.items)
}

// entries returns all entries from most to least recently used.
func (l *lruIndex) entries() []*indexEntry {
	out := make([]*indexEntry, 0, len(l.items))
	for el := l.evictList.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*indexEntry))
	}
	return out
}
