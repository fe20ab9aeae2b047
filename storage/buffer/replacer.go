package buffer

// Replacer chooses which frame to evict when the buffer pool needs to
// reuse a frame for a page it does not already hold. Frames are
// identified by their index into the pool's frame array, not by page id.
type Replacer interface {
	// RecordAccess notes that frame was just referenced.
	RecordAccess(frame int)

	// SetEvictable flips whether frame is a candidate for eviction. A
	// frame with a non-zero pin count must never be marked evictable.
	SetEvictable(frame int, evictable bool)

	// Evict picks a victim among the evictable frames, removes it from
	// all tracking, and returns it. ok is false if nothing is evictable.
	Evict() (frame int, ok bool)

	// Remove hard-removes a tracked frame. Panics if the frame is
	// currently non-evictable — that is a precondition violation, not a
	// recoverable error (spec.md §7).
	Remove(frame int)

	// Size returns the number of currently evictable frames.
	Size() int
}
