// Package buffer is the Buffer Pool Manager (BPM) from spec.md §4.2: a
// fixed array of pool_size page frames, materializing page_id <-> frame
// mappings, dispatching reads/writes to the disk device, and delegating
// victim selection to a Replacer.
package buffer

import (
	"sync"

	"github.com/thetarby/crabdb/metrics"
	"github.com/thetarby/crabdb/storage/disk"
	"github.com/thetarby/crabdb/storage/page"
)

// ErrNoFreeFrames is returned by NewPage/FetchPage when every frame is
// pinned and the replacer has nothing evictable. spec.md §7 classifies
// this as resource exhaustion: callers surface it as an operation
// failure, not a transaction abort.
var ErrNoFreeFrames = errNoFreeFrames{}

type errNoFreeFrames struct{}

func (errNoFreeFrames) Error() string { return "buffer: no free frames available" }

// Pool is the executor-facing contract spec.md §6 names.
type Pool interface {
	NewPage() (*page.Page, error)
	FetchPage(id page.ID) (*page.Page, error)
	UnpinPage(id page.ID, isDirty bool) bool
	FlushPage(id page.ID) bool
	DeletePage(id page.ID) bool
	FlushAllPages() error
}

// BufferPoolManager is the single-mutex BPM of spec.md §4.2, grounded on
// the teacher's buffer.BufferPool (buffer/buffer_pool.go): a frame array,
// a free list, a page table, a replacer, and a disk device, all guarded by
// one latch. Per-page reader/writer latches live on the Page object
// itself and are used by callers (the B+Tree), never taken here.
type BufferPoolManager struct {
	mu sync.Mutex

	frames   []*page.Page
	freeList []int
	pageMap  map[page.ID]int // logical page_id -> frame index

	replacer Replacer
	disk     disk.Manager

	metrics metrics.BufferPoolMetrics
}

var _ Pool = (*BufferPoolManager)(nil)

// New builds a BPM over poolSize frames backed by d, evicting via an
// LRU-K replacer parameterized by k. m may be the zero value; its counters
// are simply never incremented.
func New(poolSize int, d disk.Manager, k int, m metrics.BufferPoolMetrics) *BufferPoolManager {
	frames := make([]*page.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New()
		freeList[i] = i
	}

	return &BufferPoolManager{
		frames:   frames,
		freeList: freeList,
		pageMap:  make(map[page.ID]int),
		replacer: NewLRUKReplacer(poolSize, k),
		disk:     d,
		metrics:  m,
	}
}

// obtainFrame returns an index into b.frames ready to host a new logical
// page: taken from the free list, or evicted through the replacer
// (writing back a dirty victim first). Caller holds b.mu throughout;
// obtainFrame never releases it — disk writes happen while the BPM latch
// is held, matching spec.md §4.2's "no I/O under lock except the
// synchronous write that precedes frame reuse" trade-off.
func (b *BufferPoolManager) obtainFrame() (int, error) {
	if n := len(b.freeList); n > 0 {
		f := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return f, nil
	}

	f, ok := b.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrames
	}

	victim := b.frames[f]
	delete(b.pageMap, victim.PageID())

	if victim.IsDirty() {
		if err := b.disk.WritePage(victim.PageID(), &victim.Data); err != nil {
			return 0, err
		}
		if b.metrics.DirtyWritebacks != nil {
			b.metrics.DirtyWritebacks.Inc()
		}
	}
	if b.metrics.Evictions != nil {
		b.metrics.Evictions.Inc()
	}
	return f, nil
}

// NewPage allocates a fresh page_id, installs it in a frame, pins it, and
// returns it dirty (its on-disk image does not exist yet). Returns
// ErrNoFreeFrames if every frame is pinned.
func (b *BufferPoolManager) NewPage() (*page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.obtainFrame()
	if err != nil {
		return nil, err
	}

	id := b.disk.NewPageID()
	p := b.frames[f]
	p.Reset()
	p.SetPageID(id)
	p.IncrPinCount()
	p.MarkDirty()

	b.pageMap[id] = f
	b.replacer.RecordAccess(f)
	b.replacer.SetEvictable(f, false)

	return p, nil
}

// FetchPage returns the page for id, reading it from disk if it is not
// already resident. Returns ErrNoFreeFrames if it must evict but cannot.
func (b *BufferPoolManager) FetchPage(id page.ID) (*page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f, ok := b.pageMap[id]; ok {
		p := b.frames[f]
		p.IncrPinCount()
		b.replacer.RecordAccess(f)
		b.replacer.SetEvictable(f, false)
		if b.metrics.Hits != nil {
			b.metrics.Hits.Inc()
		}
		return p, nil
	}

	f, err := b.obtainFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[f]
	p.Reset()
	p.SetPageID(id)
	if err := b.disk.ReadPage(id, &p.Data); err != nil {
		// roll back: frame stays empty, not mapped to id.
		b.freeList = append(b.freeList, f)
		return nil, err
	}
	p.IncrPinCount()

	b.pageMap[id] = f
	b.replacer.RecordAccess(f)
	b.replacer.SetEvictable(f, false)
	if b.metrics.Misses != nil {
		b.metrics.Misses.Inc()
	}

	return p, nil
}

// UnpinPage decrements id's pin count, marking its frame evictable once
// the count reaches zero. isDirty ORs into the frame's dirty flag — it
// never clears it. Returns false if id is not resident.
func (b *BufferPoolManager) UnpinPage(id page.ID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.pageMap[id]
	if !ok {
		return false
	}

	p := b.frames[f]
	if p.PinCount() <= 0 {
		return false
	}
	if isDirty {
		p.MarkDirty()
	}
	p.DecrPinCount()
	if p.PinCount() == 0 {
		b.replacer.SetEvictable(f, true)
	}
	return true
}

// FlushPage writes id's bytes to disk and clears its dirty flag,
// regardless of pin state. Returns false if id is not resident.
func (b *BufferPoolManager) FlushPage(id page.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(id)
}

func (b *BufferPoolManager) flushLocked(id page.ID) bool {
	f, ok := b.pageMap[id]
	if !ok {
		return false
	}
	p := b.frames[f]
	if err := b.disk.WritePage(id, &p.Data); err != nil {
		return false
	}
	p.ClearDirty()
	return true
}

// FlushAllPages flushes every resident page.
func (b *BufferPoolManager) FlushAllPages() error {
	b.mu.Lock()
	ids := make([]page.ID, 0, len(b.pageMap))
	for id := range b.pageMap {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		b.flushLocked(id)
		b.mu.Unlock()
	}
	return nil
}

// DeletePage removes id from the pool, failing if it is pinned.
// Otherwise it flushes it if dirty, drops it from the page table and
// replacer, and returns its frame to the free list.
func (b *BufferPoolManager) DeletePage(id page.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.pageMap[id]
	if !ok {
		return true
	}
	p := b.frames[f]
	if p.PinCount() > 0 {
		return false
	}

	if p.IsDirty() {
		_ = b.disk.WritePage(id, &p.Data)
	}

	delete(b.pageMap, id)
	b.replacer.Remove(f)
	p.Reset()
	p.SetPageID(page.ID(page.InvalidID))
	b.freeList = append(b.freeList, f)
	return true
}
