package bptree

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/buffer"
	"github.com/thetarby/crabdb/storage/page"
	"github.com/thetarby/crabdb/txn"
)

// BPlusTree is the latch-crabbing concurrent index of spec.md §4.3:
// page-resident nodes fetched through a buffer pool, a root-entry latch
// guarding changes to the root page id, and write traversals that keep
// only the ancestors a split/merge might still touch latched. Grounded on
// the teacher's BTree (btree/btree.go), replacing its Pager/KeySerializer
// indirection with a direct buffer.BufferPoolManager and common.IntKey.
type BPlusTree struct {
	pool    *buffer.BufferPoolManager
	catalog *Catalog
	name    string

	// rootLock is the "root entry lock" spec.md §4.3.2 names: a single
	// RWMutex serializing changes to the root page id (a new root created
	// by a split, or a root collapsed by a merge) against readers who
	// need a stable root id to start their descent.
	rootLock sync.RWMutex
}

// Open attaches to (or creates) the named index. If the catalog has no
// entry for name, a fresh empty leaf root is allocated and registered.
func Open(pool *buffer.BufferPoolManager, catalog *Catalog, name string) (*BPlusTree, error) {
	t := &BPlusTree{pool: pool, catalog: catalog, name: name}

	if _, ok, err := catalog.RootPageID(name); err != nil {
		return nil, err
	} else if ok {
		return t, nil
	}

	g, err := pool.NewWrite()
	if err != nil {
		return nil, errors.Wrap(err, "bptree: allocating root")
	}
	initLeaf(g.Page(), page.ID(page.InvalidID))
	id := g.Page().PageID()
	g.Release(true)

	if err := catalog.SetRootPageID(name, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BPlusTree) rootPageID() (page.ID, error) {
	id, ok, err := t.catalog.RootPageID(t.name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return page.ID(page.InvalidID), nil
	}
	return id, nil
}

func (t *BPlusTree) setRoot(id page.ID) error {
	return t.catalog.SetRootPageID(t.name, id)
}

func (t *BPlusTree) fetchWrite(id page.ID) (*page.Page, error) {
	p, err := t.pool.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.WLatch()
	return p, nil
}

func (t *BPlusTree) fetchRead(id page.ID) (*page.Page, error) {
	p, err := t.pool.FetchPage(id)
	if err != nil {
		return nil, err
	}
	p.RLatch()
	return p, nil
}

func (t *BPlusTree) releaseWrite(p *page.Page, dirty bool) {
	p.WUnlatch()
	t.pool.UnpinPage(p.PageID(), dirty)
}

func (t *BPlusTree) releaseRead(p *page.Page) {
	p.RUnlatch()
	t.pool.UnpinPage(p.PageID(), false)
}

// drainStack releases every page recorded on tx's crabbing trail — the
// ancestors a traversal decided it no longer needs once a child proved
// safe. Grounded on the teacher's practice of unlatching/unpinning the
// whole accumulated stack once a safe descendant is found.
func (t *BPlusTree) drainStack(tx *txn.Transaction, dirty bool) {
	for _, p := range tx.PopAllPages() {
		t.releaseWrite(p, dirty)
	}
}

// setPageParent fetches id purely to update its parent pointer, used
// after a split/merge moves a child under a different internal node.
func (t *BPlusTree) setPageParent(id, parent page.ID) error {
	p, err := t.fetchWrite(id)
	if err != nil {
		return err
	}
	if isLeafPage(p) {
		asLeaf(p).setParent(parent)
	} else {
		asInternal(p).setParent(parent)
	}
	t.releaseWrite(p, true)
	return nil
}

// GetValue looks up key with read-only latch crabbing: at most one node
// latch is ever held at a time, released as soon as its child is latched.
func (t *BPlusTree) GetValue(key common.IntKey) (common.RID, bool, error) {
	t.rootLock.RLock()
	rootID, err := t.rootPageID()
	if err != nil {
		t.rootLock.RUnlock()
		return common.RID{}, false, err
	}
	if rootID == page.ID(page.InvalidID) {
		t.rootLock.RUnlock()
		return common.RID{}, false, nil
	}

	cur, err := t.fetchRead(rootID)
	t.rootLock.RUnlock()
	if err != nil {
		return common.RID{}, false, err
	}

	for !isLeafPage(cur) {
		in := asInternal(cur)
		childID := in.childAt(in.childFor(key))
		child, err := t.fetchRead(childID)
		t.releaseRead(cur)
		if err != nil {
			return common.RID{}, false, err
		}
		cur = child
	}

	l := asLeaf(cur)
	idx, found := l.find(key)
	if !found {
		t.releaseRead(cur)
		return common.RID{}, false, nil
	}
	rid := l.ridAt(idx)
	t.releaseRead(cur)
	return rid, true, nil
}

// Insert adds key/rid, splitting nodes bottom-up as needed. tx's page set
// is used as the crabbing stack: ancestors are pushed while descending
// and drained the moment a child proves safe for the operation, per
// spec.md §4.3.2's latch-crabbing invariant.
func (t *BPlusTree) Insert(tx *txn.Transaction, key common.IntKey, rid common.RID) error {
	t.rootLock.Lock()
	rootHeld := true
	releaseRoot := func() {
		if rootHeld {
			t.rootLock.Unlock()
			rootHeld = false
		}
	}
	defer releaseRoot()

	rootID, err := t.rootPageID()
	if err != nil {
		return err
	}
	if rootID == page.ID(page.InvalidID) {
		g, err := t.pool.NewWrite()
		if err != nil {
			return err
		}
		initLeaf(g.Page(), page.ID(page.InvalidID))
		l := asLeaf(g.Page())
		l.insertAt(0, key, rid)
		id := g.Page().PageID()
		g.Release(true)
		return t.setRoot(id)
	}

	cur, err := t.fetchWrite(rootID)
	if err != nil {
		return err
	}

	for !isLeafPage(cur) {
		in := asInternal(cur)
		idx := in.childFor(key)
		childID := in.childAt(idx)

		child, err := t.fetchWrite(childID)
		if err != nil {
			t.releaseWrite(cur, false)
			t.drainStack(tx, false)
			return err
		}

		if childSafeForInsert(child) {
			t.releaseWrite(cur, false)
			t.drainStack(tx, false)
			releaseRoot()
		} else {
			tx.PushPage(cur)
		}
		cur = child
	}

	l := asLeaf(cur)
	idx, found := l.find(key)
	if found {
		t.releaseWrite(cur, false)
		t.drainStack(tx, false)
		return ErrDuplicateKey
	}
	l.insertAt(idx, key, rid)

	if l.size() <= l.maxSize() {
		t.releaseWrite(cur, true)
		t.drainStack(tx, false)
		return nil
	}

	return t.splitLeafAndPropagate(tx, cur)
}

func childSafeForInsert(p *page.Page) bool {
	if isLeafPage(p) {
		return asLeaf(p).isSafeForSplit()
	}
	return asInternal(p).isSafeForSplit()
}

// splitLeafAndPropagate splits an overflowing leaf and walks the retained
// ancestor stack (root-to-parent order) from the immediate parent upward,
// splitting internal nodes as long as they too overflow, finally building
// a new root if the split reaches all the way past the old one. Grounded
// on the teacher's BTree.Insert/InsertInParent (btree/btree.go).
func (t *BPlusTree) splitLeafAndPropagate(tx *txn.Transaction, leafPage *page.Page) error {
	rg, err := t.pool.NewWrite()
	if err != nil {
		t.releaseWrite(leafPage, true)
		t.drainStack(tx, false)
		return err
	}
	right := initLeaf(rg.Page(), leafPage.PageID())
	left := asLeaf(leafPage)
	sep := left.splitOff(right)
	right.setNext(left.next())
	left.setNext(rg.Page().PageID())

	childID := leafPage.PageID()
	newChildID := rg.Page().PageID()
	t.releaseWrite(leafPage, true)
	t.releaseWrite(rg.Page(), true)

	ancestors := tx.PopAllPages()
	return t.propagateSplit(ancestors, childID, sep, newChildID)
}

// propagateSplit inserts (sep, newChildID) into childID's parent — the
// last entry of ancestors — splitting further internal nodes as needed.
// ancestors is consumed root-to-leaf order; processing walks it backward
// (immediate parent first). If ancestors is empty, childID was the root
// and a new root is built over childID/newChildID.
func (t *BPlusTree) propagateSplit(ancestors []*page.Page, childID page.ID, sep common.IntKey, newChildID page.ID) error {
	for i := len(ancestors) - 1; i >= 0; i-- {
		parentPage := ancestors[i]
		in := asInternal(parentPage)
		idx := in.indexOfChild(childID)
		in.insertAfter(idx, sep, newChildID)
		if err := t.setPageParent(newChildID, parentPage.PageID()); err != nil {
			return err
		}

		if in.size() <= in.maxSize() {
			t.releaseWrite(parentPage, true)
			for j := i - 1; j >= 0; j-- {
				t.releaseWrite(ancestors[j], false)
			}
			return nil
		}

		rg, err := t.pool.NewWrite()
		if err != nil {
			t.releaseWrite(parentPage, true)
			return err
		}
		rightInternal := initInternal(rg.Page(), parentPage.PageID())
		newSep := in.splitOff(rightInternal)
		for c := 0; c <= rightInternal.size(); c++ {
			if err := t.setPageParent(rightInternal.childAt(c), rg.Page().PageID()); err != nil {
				return err
			}
		}

		childID = parentPage.PageID()
		newChildID = rg.Page().PageID()
		sep = newSep
		t.releaseWrite(parentPage, true)
		t.releaseWrite(rg.Page(), true)
	}

	// ancestors exhausted: childID was the root.
	ng, err := t.pool.NewWrite()
	if err != nil {
		return err
	}
	newRoot := initInternal(ng.Page(), page.ID(page.InvalidID))
	newRoot.initRoot(childID, sep, newChildID)
	newRootID := ng.Page().PageID()
	t.releaseWrite(ng.Page(), true)

	if err := t.setPageParent(childID, newRootID); err != nil {
		return err
	}
	if err := t.setPageParent(newChildID, newRootID); err != nil {
		return err
	}
	return t.setRoot(newRootID)
}
