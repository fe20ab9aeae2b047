package bptree

import (
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
	"github.com/thetarby/crabdb/txn"
)

func childSafeForDelete(p *page.Page) bool {
	if isLeafPage(p) {
		return asLeaf(p).isSafeForMerge()
	}
	return asInternal(p).isSafeForMerge()
}

// Delete removes key, redistributing from or merging with a sibling
// bottom-up whenever a node underflows, and collapsing the root if it is
// left with a single child. Grounded on the teacher's BTree.Delete
// (btree/btree.go) and LeafNode/InternalNode Redistribute/MergeNodes
// (btree/delete.go), adapted to the page-resident slot layout here.
//
// Pages freed by a merge are recorded on tx (AddDeletedPage) rather than
// deleted immediately, and only actually reclaimed from the buffer pool
// once every latch this call took is released — an ancestor still
// crabbing toward one of them must never have it recycled out from
// under it.
func (t *BPlusTree) Delete(tx *txn.Transaction, key common.IntKey) error {
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
		return ErrKeyNotFound
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

		if childSafeForDelete(child) {
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
	if !found {
		t.releaseWrite(cur, false)
		t.drainStack(tx, false)
		return nil
	}
	l.deleteAt(idx)

	ancestors := tx.PopAllPages()
	if len(ancestors) == 0 || l.size() >= minLeafSize(l.maxSize()) {
		t.releaseWrite(cur, true)
		for _, p := range ancestors {
			t.releaseWrite(p, false)
		}
		return t.reclaimDeletedPages(tx)
	}

	if err := t.fixLeafUnderflow(tx, cur, ancestors); err != nil {
		return err
	}
	return t.reclaimDeletedPages(tx)
}

func (t *BPlusTree) reclaimDeletedPages(tx *txn.Transaction) error {
	for _, id := range tx.DeletedPages() {
		t.pool.DeletePage(id)
	}
	return nil
}

// fixLeafUnderflow resolves an underflowing leaf by redistributing from a
// sibling if one has spare entries, or merging with one otherwise.
// ancestors[len-1] is the leaf's parent.
func (t *BPlusTree) fixLeafUnderflow(tx *txn.Transaction, leafPage *page.Page, ancestors []*page.Page) error {
	parentPage := ancestors[len(ancestors)-1]
	parent := asInternal(parentPage)
	leaf := asLeaf(leafPage)
	idx := parent.indexOfChild(leafPage.PageID())

	if idx+1 <= parent.size() {
		rightID := parent.childAt(idx + 1)
		rightPage, err := t.fetchWrite(rightID)
		if err != nil {
			t.releaseWrite(leafPage, true)
			t.releaseAll(ancestors)
			return err
		}
		right := asLeaf(rightPage)

		if right.size() > minLeafSize(right.maxSize()) {
			newSep := leaf.redistributeFromRight(right)
			parent.setKeyAt(idx+1, newSep)
			t.releaseWrite(leafPage, true)
			t.releaseWrite(rightPage, true)
			return t.finishAncestorsAfterRedistribute(parentPage, ancestors)
		}

		leaf.mergeFrom(right)
		parent.deleteAt(idx + 1)
		t.releaseWrite(leafPage, true)
		t.releaseWrite(rightPage, false)
		tx.AddDeletedPage(rightID)
		return t.propagateMerge(tx, parentPage, ancestors[:len(ancestors)-1])
	}

	leftID := parent.childAt(idx - 1)
	leftPage, err := t.fetchWrite(leftID)
	if err != nil {
		t.releaseWrite(leafPage, true)
		t.releaseAll(ancestors)
		return err
	}
	left := asLeaf(leftPage)

	if left.size() > minLeafSize(left.maxSize()) {
		newSep := leaf.redistributeFromLeft(left)
		parent.setKeyAt(idx, newSep)
		t.releaseWrite(leafPage, true)
		t.releaseWrite(leftPage, true)
		return t.finishAncestorsAfterRedistribute(parentPage, ancestors)
	}

	left.mergeFrom(leaf)
	parent.deleteAt(idx)
	t.releaseWrite(leftPage, true)
	t.releaseWrite(leafPage, false)
	tx.AddDeletedPage(leafPage.PageID())
	return t.propagateMerge(tx, parentPage, ancestors[:len(ancestors)-1])
}

// propagateMerge handles an internal node (nodePage) that just had a
// child removed by a merge below it, possibly underflowing in turn.
// ancestors is nodePage's own ancestor chain (not including nodePage).
func (t *BPlusTree) propagateMerge(tx *txn.Transaction, nodePage *page.Page, ancestors []*page.Page) error {
	in := asInternal(nodePage)

	if len(ancestors) == 0 {
		if in.size() == 0 {
			onlyChild := in.childAt(0)
			rootID := nodePage.PageID()
			t.releaseWrite(nodePage, true)
			if err := t.setPageParent(onlyChild, page.ID(page.InvalidID)); err != nil {
				return err
			}
			tx.AddDeletedPage(rootID)
			return t.setRoot(onlyChild)
		}
		t.releaseWrite(nodePage, true)
		return nil
	}

	if in.size() >= minInternalSize(in.maxSize()) {
		t.releaseWrite(nodePage, true)
		t.releaseAll(ancestors)
		return nil
	}

	parentPage := ancestors[len(ancestors)-1]
	parent := asInternal(parentPage)
	idx := parent.indexOfChild(nodePage.PageID())

	if idx+1 <= parent.size() {
		rightID := parent.childAt(idx + 1)
		rightPage, err := t.fetchWrite(rightID)
		if err != nil {
			t.releaseWrite(nodePage, true)
			t.releaseAll(ancestors)
			return err
		}
		right := asInternal(rightPage)
		sep := parent.keyAt(idx + 1)

		if right.size() > minInternalSize(right.maxSize()) {
			newSep := in.redistributeFromRight(sep, right)
			parent.setKeyAt(idx+1, newSep)
			if err := t.reparentChildren(in, nodePage.PageID()); err != nil {
				return err
			}
			t.releaseWrite(nodePage, true)
			t.releaseWrite(rightPage, true)
			return t.finishAncestorsAfterRedistribute(parentPage, ancestors)
		}

		in.mergeFrom(sep, right)
		parent.deleteAt(idx + 1)
		if err := t.reparentChildren(in, nodePage.PageID()); err != nil {
			return err
		}
		t.releaseWrite(nodePage, true)
		t.releaseWrite(rightPage, false)
		tx.AddDeletedPage(rightID)
		return t.propagateMerge(tx, parentPage, ancestors[:len(ancestors)-1])
	}

	leftID := parent.childAt(idx - 1)
	leftPage, err := t.fetchWrite(leftID)
	if err != nil {
		t.releaseWrite(nodePage, true)
		t.releaseAll(ancestors)
		return err
	}
	left := asInternal(leftPage)
	sep := parent.keyAt(idx)

	if left.size() > minInternalSize(left.maxSize()) {
		newSep := in.redistributeFromLeft(sep, left)
		parent.setKeyAt(idx, newSep)
		if err := t.reparentChildren(in, nodePage.PageID()); err != nil {
			return err
		}
		t.releaseWrite(nodePage, true)
		t.releaseWrite(leftPage, true)
		return t.finishAncestorsAfterRedistribute(parentPage, ancestors)
	}

	left.mergeFrom(sep, in)
	parent.deleteAt(idx)
	if err := t.reparentChildren(left, leftPage.PageID()); err != nil {
		return err
	}
	t.releaseWrite(leftPage, true)
	t.releaseWrite(nodePage, false)
	tx.AddDeletedPage(nodePage.PageID())
	return t.propagateMerge(tx, parentPage, ancestors[:len(ancestors)-1])
}

func (t *BPlusTree) finishAncestorsAfterRedistribute(parentPage *page.Page, ancestors []*page.Page) error {
	t.releaseWrite(parentPage, true)
	for i := len(ancestors) - 2; i >= 0; i-- {
		t.releaseWrite(ancestors[i], false)
	}
	return nil
}

func (t *BPlusTree) releaseAll(pages []*page.Page) {
	for _, p := range pages {
		t.releaseWrite(p, false)
	}
}

func (t *BPlusTree) reparentChildren(in internal, newParent page.ID) error {
	for c := 0; c <= in.size(); c++ {
		if err := t.setPageParent(in.childAt(c), newParent); err != nil {
			return err
		}
	}
	return nil
}
