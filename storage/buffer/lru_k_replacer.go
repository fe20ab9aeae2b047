package buffer

import (
	"container/list"
	"sync"
)

// lruKNode is a frame's access history: the timestamps it was referenced
// at (oldest first) and whether it currently counts as a candidate for
// eviction.
type lruKNode struct {
	frame      int
	history    []uint64
	evictable  bool
	historyElt *list.Element // position in history (fewer than k accesses), nil once promoted to cache
}

// LRUKReplacer implements the backward-k-distance replacement policy from
// spec.md §4.1: a frame with fewer than k accesses is tracked in history
// and evicted FIFO (oldest first access first); once it accumulates k
// accesses it moves to cache and is ranked by its kth-most-recent access
// timestamp, oldest first. Grounded on the original LRUKReplacer
// (buffer/lru_k_replacer.cpp) and generalized from the teacher's
// single-mutex LruReplacer (buffer/lru_replacer.go) idiom.
type LRUKReplacer struct {
	mu sync.Mutex

	k                int
	capacity         int
	currentTimestamp uint64

	nodes map[int]*lruKNode

	// history is FIFO by first access: frames with fewer than k records.
	history *list.List

	currSize  int // frames tracked, regardless of evictable
	evictSize int // of those, how many are evictable
}

var _ Replacer = (*LRUKReplacer)(nil)

// NewLRUKReplacer builds a replacer for a pool of the given capacity with
// backward-distance parameter k. k must be >= 1.
func NewLRUKReplacer(capacity int, k int) *LRUKReplacer {
	if k < 1 {
		panic("buffer: LRU-K replacer requires k >= 1")
	}
	return &LRUKReplacer{
		k:        k,
		capacity: capacity,
		nodes:    make(map[int]*lruKNode),
		history:  list.New(),
	}
}

// RecordAccess appends a timestamp to frame's history, tracking it for the
// first time if necessary and promoting it out of history once it
// accumulates k accesses.
func (r *LRUKReplacer) RecordAccess(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		n = &lruKNode{frame: frame}
		n.historyElt = r.history.PushBack(frame)
		r.nodes[frame] = n
		r.currSize++
	}

	n.history = append(n.history, r.currentTimestamp)
	r.currentTimestamp++

	if n.historyElt != nil && len(n.history) >= r.k {
		r.history.Remove(n.historyElt)
		n.historyElt = nil
	}
}

// SetEvictable flips frame's evictable flag, adjusting evictSize. Frames
// the replacer has never seen are ignored, matching the original's
// tolerance of a SetEvictable call before the first RecordAccess.
func (r *LRUKReplacer) SetEvictable(frame int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if evictable && !n.evictable {
		r.evictSize++
	} else if !evictable && n.evictable {
		r.evictSize--
	}
	n.evictable = evictable
}

// Evict prefers a history-partition frame (oldest first access among
// evictable frames), falling back to the cache partition's frame with the
// smallest kth-most-recent timestamp (the largest backward-k-distance).
func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictSize == 0 {
		return 0, false
	}

	for e := r.history.Front(); e != nil; e = e.Next() {
		frame := e.Value.(int)
		if r.nodes[frame].evictable {
			r.history.Remove(e)
			r.removeLocked(frame)
			return frame, true
		}
	}

	victim := -1
	var oldestKDistance uint64
	first := true
	for frame, n := range r.nodes {
		if n.historyElt != nil || !n.evictable {
			continue
		}
		kTime := n.history[len(n.history)-r.k]
		if first || kTime < oldestKDistance {
			oldestKDistance = kTime
			victim = frame
			first = false
		}
	}
	if victim == -1 {
		return 0, false
	}
	r.removeLocked(victim)
	return victim, true
}

// Remove hard-removes a tracked frame. Panics if it is not evictable — the
// caller is expected to have unpinned and marked it evictable first.
func (r *LRUKReplacer) Remove(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if !n.evictable {
		panic("buffer: Remove called on a non-evictable frame")
	}
	if n.historyElt != nil {
		r.history.Remove(n.historyElt)
	}
	r.removeLocked(frame)
}

// removeLocked drops all tracking for frame. Caller holds r.mu.
func (r *LRUKReplacer) removeLocked(frame int) {
	delete(r.nodes, frame)
	r.currSize--
	r.evictSize--
}

func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictSize
}
