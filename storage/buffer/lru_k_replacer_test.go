package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLRUKReplacer_BackwardKDistance exercises spec.md §8 scenario 1:
// k=2, pool=3, frames 1,2,3 each accessed once, then frame 1 accessed
// twice more. Evict should pick frame 2 (oldest first-access in history).
// Then frame 2 is accessed three times (promoting it to cache) and frame
// 3 once more; Evict should now pick frame 3.
func TestLRUKReplacer_BackwardKDistance(t *testing.T) {
	r := NewLRUKReplacer(3, 2)

	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(3)
	r.RecordAccess(1)
	r.RecordAccess(1)

	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	r.SetEvictable(3, true)

	require.Equal(t, 3, r.Size())

	frame, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 2, frame)

	r.RecordAccess(2) // re-track frame 2 as untracked after eviction
	r.RecordAccess(2)
	r.RecordAccess(2)
	r.RecordAccess(3)
	r.SetEvictable(2, true)

	frame, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, 3, frame)
}

func TestLRUKReplacer_SetEvictableIgnoresUntracked(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	r.SetEvictable(5, true) // frame never seen by RecordAccess
	require.Equal(t, 0, r.Size())
}

func TestLRUKReplacer_NonEvictableFrameIsNotChosen(t *testing.T) {
	r := NewLRUKReplacer(2, 1)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, false)
	r.SetEvictable(1, true)

	frame, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, frame)

	_, ok = r.Evict()
	require.False(t, ok)
}

func TestLRUKReplacer_RemovePanicsOnNonEvictable(t *testing.T) {
	r := NewLRUKReplacer(1, 1)
	r.RecordAccess(0)
	require.Panics(t, func() { r.Remove(0) })
}
