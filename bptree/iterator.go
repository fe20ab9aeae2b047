package bptree

import (
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
)

// Iterator walks leaf entries in key order, hopping across the leaf
// sibling chain. It holds at most one leaf's read latch at a time.
// Grounded on the teacher's TreeIterator (btree/iterator.go), generalized
// from its txn-scoped single-pass walk to an explicit Close so a caller
// that stops early still releases the held latch.
type Iterator struct {
	tree *BPlusTree
	cur  *page.Page
	idx  int
	done bool
}

// Begin starts an iterator at the first entry in the tree.
func (t *BPlusTree) Begin() (*Iterator, error) {
	t.rootLock.RLock()
	rootID, err := t.rootPageID()
	if err != nil {
		t.rootLock.RUnlock()
		return nil, err
	}
	if rootID == page.ID(page.InvalidID) {
		t.rootLock.RUnlock()
		return &Iterator{tree: t, done: true}, nil
	}

	cur, err := t.fetchRead(rootID)
	t.rootLock.RUnlock()
	if err != nil {
		return nil, err
	}
	for !isLeafPage(cur) {
		in := asInternal(cur)
		child, err := t.fetchRead(in.childAt(0))
		t.releaseRead(cur)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return &Iterator{tree: t, cur: cur, idx: 0, done: asLeaf(cur).size() == 0}, nil
}

// BeginAt starts an iterator at the first entry whose key is >= key.
func (t *BPlusTree) BeginAt(key common.IntKey) (*Iterator, error) {
	t.rootLock.RLock()
	rootID, err := t.rootPageID()
	if err != nil {
		t.rootLock.RUnlock()
		return nil, err
	}
	if rootID == page.ID(page.InvalidID) {
		t.rootLock.RUnlock()
		return &Iterator{tree: t, done: true}, nil
	}

	cur, err := t.fetchRead(rootID)
	t.rootLock.RUnlock()
	if err != nil {
		return nil, err
	}
	for !isLeafPage(cur) {
		in := asInternal(cur)
		child, err := t.fetchRead(in.childAt(in.childFor(key)))
		t.releaseRead(cur)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	idx, _ := asLeaf(cur).find(key)
	for idx >= asLeaf(cur).size() {
		nextID := asLeaf(cur).next()
		t.releaseRead(cur)
		if nextID == page.ID(page.InvalidID) {
			return &Iterator{tree: t, done: true}, nil
		}
		cur, err = t.fetchRead(nextID)
		if err != nil {
			return nil, err
		}
		idx = 0
	}
	return &Iterator{tree: t, cur: cur, idx: idx, done: false}, nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key/Value return the entry at the iterator's current position. Valid
// must be true.
func (it *Iterator) Key() common.IntKey  { return asLeaf(it.cur).keyAt(it.idx) }
func (it *Iterator) Value() common.RID   { return asLeaf(it.cur).ridAt(it.idx) }

// Next advances the iterator, hopping to the sibling leaf when the
// current one is exhausted.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.idx++
	l := asLeaf(it.cur)
	if it.idx < l.size() {
		return nil
	}

	nextID := l.next()
	it.tree.releaseRead(it.cur)
	it.cur = nil
	if nextID == page.ID(page.InvalidID) {
		it.done = true
		return nil
	}

	p, err := it.tree.fetchRead(nextID)
	if err != nil {
		return err
	}
	it.cur = p
	it.idx = 0
	it.done = asLeaf(p).size() == 0
	return nil
}

// Close releases the iterator's currently held leaf latch, if any. Safe
// to call on an already-exhausted or never-advanced iterator.
func (it *Iterator) Close() {
	if it.cur != nil {
		it.tree.releaseRead(it.cur)
		it.cur = nil
	}
	it.done = true
}
