package bptree

import (
	"encoding/binary"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
)

// internal node layout, right after the common header:
//
//	size+1 slots of (key int64, child page.ID int64), slot 0's key unused.
//
// slot i's key is the separator below which keys route to slot i-1's
// child and at/above which they route to slot i's child — the same
// "array[0] is a dummy key" convention bustub's B+Tree uses, adopted here
// in place of the teacher's separately-tracked first-pointer field
// (btree/persistent_nodes.go's PersistentInternalNode) because it lets
// every slot share one read/write helper.
const (
	internalDataOff  = headerSize
	internalSlotSize = 8 + 8
)

func internalMaxSize() int {
	capacity := (page.Size - internalDataOff) / internalSlotSize
	// size counts keys, which use size+1 slots; one more slot is kept free
	// for the entry an overflowing node holds before it splits.
	return capacity - 2
}

type internal struct {
	p *page.Page
}

func asInternal(p *page.Page) internal { return internal{p: p} }

func initInternal(p *page.Page, parent page.ID) internal {
	p.Reset()
	writeNodeType(p, internalNodeType)
	writeParentPageID(p, parent)
	writeSize(p, 0)
	writeMaxSize(p, internalMaxSize())
	return internal{p: p}
}

func (n internal) size() int           { return readSize(n.p) }
func (n internal) maxSize() int        { return readMaxSize(n.p) }
func (n internal) parent() page.ID     { return readParentPageID(n.p) }
func (n internal) setParent(id page.ID) { writeParentPageID(n.p, id) }

func (n internal) slotOff(i int) int { return internalDataOff + i*internalSlotSize }

func (n internal) keyAt(i int) common.IntKey {
	return readKeyAt(n.p.Data[:], n.slotOff(i))
}

func (n internal) setKeyAt(i int, k common.IntKey) {
	writeKeyAt(n.p.Data[:], n.slotOff(i), k)
}

func (n internal) childAt(i int) page.ID {
	off := n.slotOff(i) + 8
	return page.ID(int64(binary.LittleEndian.Uint64(n.p.Data[off : off+8])))
}

func (n internal) setChildAt(i int, id page.ID) {
	off := n.slotOff(i) + 8
	binary.LittleEndian.PutUint64(n.p.Data[off:off+8], uint64(int64(id)))
}

// childFor returns the index of the child slot key would route to.
func (n internal) childFor(key common.IntKey) int {
	sz := n.size()
	lo, hi := 1, sz
	for lo <= hi {
		mid := (lo + hi) / 2
		if mid <= sz && n.keyAt(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return lo - 1
}

// initRoot builds a fresh root with a single key and two children — the
// shape the tree takes right after its very first split, or right after
// collapsing a two-child root down to its surviving child never applies
// (collapse instead replaces the root page id itself).
func (n internal) initRoot(left page.ID, sep common.IntKey, right page.ID) {
	n.setChildAt(0, left)
	n.setKeyAt(1, sep)
	n.setChildAt(1, right)
	writeSize(n.p, 1)
}

// insertAfter inserts sep/child immediately after the child at index i,
// shifting later slots right by one.
func (n internal) insertAfter(i int, sep common.IntKey, child page.ID) {
	sz := n.size()
	for j := sz; j > i; j-- {
		n.setKeyAt(j+1, n.keyAt(j))
		n.setChildAt(j+1, n.childAt(j))
	}
	n.setKeyAt(i+1, sep)
	n.setChildAt(i+1, child)
	writeSize(n.p, sz+1)
}

// deleteAt removes the slot at index i (i must be >= 1; slot 0 has no
// key and is never individually deleted — merges replace the whole node).
func (n internal) deleteAt(i int) {
	sz := n.size()
	for j := i; j < sz; j++ {
		n.setKeyAt(j, n.keyAt(j+1))
		n.setChildAt(j, n.childAt(j+1))
	}
	writeSize(n.p, sz-1)
}

// indexOfChild returns the slot index whose child pointer is id.
func (n internal) indexOfChild(id page.ID) int {
	for i := 0; i <= n.size(); i++ {
		if n.childAt(i) == id {
			return i
		}
	}
	return -1
}

func (n internal) isSafeForSplit() bool { return n.size() < n.maxSize() }

func minInternalSize(maxSize int) int { return (maxSize + 1) / 2 }

func (n internal) isSafeForMerge() bool { return n.size() > minInternalSize(n.maxSize()) }

// splitOff moves the upper half of n's slots into dst and returns the key
// that is pulled up into the parent (it does not stay in either node,
// unlike a leaf split). Grounded on InternalNode split in btree/btree.go.
func (n internal) splitOff(dst internal) common.IntKey {
	sz := n.size()
	mid := (sz + 1) / 2
	pushUp := n.keyAt(mid)

	dst.setChildAt(0, n.childAt(mid))
	for i := mid + 1; i <= sz; i++ {
		dst.setKeyAt(i-mid, n.keyAt(i))
		dst.setChildAt(i-mid, n.childAt(i))
	}
	writeSize(dst.p, sz-mid)
	writeSize(n.p, mid-1)
	return pushUp
}

// mergeFrom absorbs src (n's right sibling) and the parent separator key
// that used to sit between them.
func (n internal) mergeFrom(sep common.IntKey, src internal) {
	base := n.size()
	n.setKeyAt(base+1, sep)
	n.setChildAt(base+1, src.childAt(0))
	for i := 1; i <= src.size(); i++ {
		n.setKeyAt(base+1+i, src.keyAt(i))
		n.setChildAt(base+1+i, src.childAt(i))
	}
	writeSize(n.p, base+1+src.size())
}

// redistributeFromRight pulls the first child of src (n's right sibling)
// across the parent separator into n, returning the new separator.
func (n internal) redistributeFromRight(sep common.IntKey, src internal) common.IntKey {
	sz := n.size()
	n.setKeyAt(sz+1, sep)
	n.setChildAt(sz+1, src.childAt(0))
	writeSize(n.p, sz+1)

	newSep := src.keyAt(1)
	srcSz := src.size()
	for i := 0; i < srcSz; i++ {
		src.setKeyAt(i, src.keyAt(i+1))
		src.setChildAt(i, src.childAt(i+1))
	}
	src.setChildAt(srcSz-1, src.childAt(srcSz))
	writeSize(src.p, srcSz-1)
	return newSep
}

// redistributeFromLeft pulls the last child of src (n's left sibling)
// across the parent separator into n, returning the new separator.
func (n internal) redistributeFromLeft(sep common.IntKey, src internal) common.IntKey {
	sz := n.size()
	for j := sz; j >= 1; j-- {
		n.setKeyAt(j+1, n.keyAt(j))
		n.setChildAt(j+1, n.childAt(j))
	}
	n.setChildAt(1, n.childAt(0))
	n.setKeyAt(1, sep)
	n.setChildAt(0, src.childAt(src.size()))
	writeSize(n.p, sz+1)

	newSep := src.keyAt(src.size())
	writeSize(src.p, src.size()-1)
	return newSep
}
