// Package dedupe remembers recently handled event ids so redelivered events are skipped.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type record struct {
	id   string
	seen time.Time
}

// Window is a bounded, time-limited set of event ids. The oldest ids are
// forgotten first when the window is full.
type Window struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	byAge    *list.List
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewWindow creates a window holding at most capacity ids for ttl each.
func NewWindow(capacity int, ttl time.Duration) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Window{
		index:    make(map[string]*list.Element, capacity),
		byAge:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Contains reports whether id was remembered within the ttl.
func (w *Window) Contains(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.index[id]
	if !ok {
		return false
	}
	return w.now().Sub(el.Value.(*record).seen) <= w.ttl
}

// Remember records id as handled. Remembering an id again renews it.
func (w *Window) Remember(id string) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[id]; ok {
		el.Value.(*record).seen = now
		w.byAge.MoveToBack(el)
	} else {
		w.index[id] = w.byAge.PushBack(&record{id: id, seen: now})
	}
	w.evict(now)
}

// Len returns the number of remembered ids, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.byAge.Len()
}

func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.ttl)
	for {
		front := w.byAge.Front()
		if front == nil {
			return
		}
		rec := front.Value.(*record)
		if w.byAge.Len() <= w.capacity && !rec.seen.Before(cutoff) {
			return
		}
		w.byAge.Remove(front)
		delete(w.index, rec.id)
	}
}
