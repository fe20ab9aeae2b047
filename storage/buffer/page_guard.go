package buffer

import "github.com/thetarby/crabdb/storage/page"

// Guard pairs a fetched/new page with the latch it was handed out under,
// the way spec.md §9 describes the language-binding for BPM's borrowed
// handle: its Release both unlatches and unpins, so callers cannot forget
// one half of the pair. Grounded on the teacher's PageReleaser
// (buffer/buffer_pool_releaser.go), generalized from PoolV2 to the BPM
// contract used throughout this module.
type Guard struct {
	pool  *BufferPoolManager
	p     *page.Page
	write bool
}

// FetchRead fetches id and takes its read latch.
func (b *BufferPoolManager) FetchRead(id page.ID) (*Guard, error) {
	p, err := b.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.RLatch()
	return &Guard{pool: b, p: p, write: false}, nil
}

// FetchWrite fetches id and takes its write latch.
func (b *BufferPoolManager) FetchWrite(id page.ID) (*Guard, error) {
	p, err := b.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.WLatch()
	return &Guard{pool: b, p: p, write: true}, nil
}

// NewWrite allocates a new page already held under its write latch.
func (b *BufferPoolManager) NewWrite() (*Guard, error) {
	p, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	p.WLatch()
	return &Guard{pool: b, p: p, write: true}, nil
}

func (g *Guard) Page() *page.Page { return g.p }

// Release unlatches and unpins, marking the page dirty if isDirty is true
// or it was already dirty.
func (g *Guard) Release(isDirty bool) {
	if g.write {
		g.p.WUnlatch()
	} else {
		g.p.RUnlatch()
	}
	g.pool.UnpinPage(g.p.PageID(), isDirty)
}
