package subprocess

import (
	"sort"
	"sync"
)

// arena counts the host handles referring to each chunk id in the child.
// An id whose count drops to zero is queued and freed in the child with the
// next request.
type arena struct {
	mu     sync.Mutex
	counts map[int64]int
	queue  map[int64]struct{}
}

func newArena() *arena {
	return &arena{counts: make(map[int64]int), queue: make(map[int64]struct{})}
}

// acquire adds a reference to id. An id queued for freeing is resurrected.
func (a *arena) acquire(id int64) {
	a.mu.Lock()
	a.counts[id]++
	delete(a.queue, id)
	a.mu.Unlock()
}

// release drops a reference to id and reports whether it was the last.
func (a *arena) release(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.counts[id]
	if !ok {
		return false
	}
	if n > 1 {
		a.counts[id] = n - 1
		return false
	}
	delete(a.counts, id)
	a.queue[id] = struct{}{}
	return true
}

// live reports whether any handle refers to id.
func (a *arena) live(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[id] > 0
}

func (a *arena) count(id int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[id]
}

// drain empties the free queue.
func (a *arena) drain() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(a.queue))
	for id := range a.queue {
		ids = append(ids, id)
	}
	clear(a.queue)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (a *arena) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
