package bptree

import (
	"encoding/binary"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
)

// leaf-specific header field, right after the common header:
//
//	[17:25) nextLeaf page.ID (int64, page.InvalidID if none)
//
// followed by size slots of (key int64, rid.PageID int64, rid.Slot uint32).
// Grounded on the teacher's PersistentLeafNode (btree/persistent_nodes.go):
// same "header then packed fixed-width slots" layout, narrowed to the one
// concrete key/value pair this module needs.
const (
	leafNextOff  = headerSize
	leafDataOff  = leafNextOff + 8
	leafSlotSize = 8 + 8 + 4
)

// leafMaxSize keeps one slot of the page free: Insert writes the new entry
// before splitting, so an overflowing leaf briefly holds maxSize+1 entries.
func leafMaxSize() int { return (page.Size-leafDataOff)/leafSlotSize - 1 }

type leaf struct {
	p *page.Page
}

func asLeaf(p *page.Page) leaf { return leaf{p: p} }

func initLeaf(p *page.Page, parent page.ID) leaf {
	p.Reset()
	writeNodeType(p, leafNodeType)
	writeParentPageID(p, parent)
	writeSize(p, 0)
	writeMaxSize(p, leafMaxSize())
	writeNextLeaf(p, page.ID(page.InvalidID))
	return leaf{p: p}
}

func (n leaf) size() int          { return readSize(n.p) }
func (n leaf) maxSize() int       { return readMaxSize(n.p) }
func (n leaf) parent() page.ID    { return readParentPageID(n.p) }
func (n leaf) setParent(id page.ID) { writeParentPageID(n.p, id) }

func readNextLeaf(p *page.Page) page.ID {
	return page.ID(int64(binary.LittleEndian.Uint64(p.Data[leafNextOff : leafNextOff+8])))
}

func writeNextLeaf(p *page.Page, id page.ID) {
	binary.LittleEndian.PutUint64(p.Data[leafNextOff:leafNextOff+8], uint64(int64(id)))
}

func (n leaf) next() page.ID       { return readNextLeaf(n.p) }
func (n leaf) setNext(id page.ID)  { writeNextLeaf(n.p, id) }

func (n leaf) slotOff(i int) int { return leafDataOff + i*leafSlotSize }

func (n leaf) keyAt(i int) common.IntKey {
	return readKeyAt(n.p.Data[:], n.slotOff(i))
}

func (n leaf) ridAt(i int) common.RID {
	off := n.slotOff(i) + 8
	pid := int64(binary.LittleEndian.Uint64(n.p.Data[off : off+8]))
	slot := binary.LittleEndian.Uint32(n.p.Data[off+8 : off+12])
	return common.RID{PageID: pid, Slot: slot}
}

func (n leaf) setSlot(i int, k common.IntKey, rid common.RID) {
	off := n.slotOff(i)
	writeKeyAt(n.p.Data[:], off, k)
	binary.LittleEndian.PutUint64(n.p.Data[off+8:off+16], uint64(rid.PageID))
	binary.LittleEndian.PutUint32(n.p.Data[off+16:off+20], rid.Slot)
}

// find returns the index of key if present, and the index it would be
// inserted at otherwise (binary search over the sorted slot array).
func (n leaf) find(key common.IntKey) (idx int, found bool) {
	sz := n.size()
	lo, hi := 0, sz
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < sz && n.keyAt(lo) == key {
		return lo, true
	}
	return lo, false
}

// insertAt shifts slots [i, size) right by one and writes k/rid at i.
func (n leaf) insertAt(i int, k common.IntKey, rid common.RID) {
	sz := n.size()
	for j := sz; j > i; j-- {
		n.setSlot(j, n.keyAt(j-1), n.ridAt(j-1))
	}
	n.setSlot(i, k, rid)
	writeSize(n.p, sz+1)
}

// deleteAt shifts slots [i+1, size) left by one, shrinking size.
func (n leaf) deleteAt(i int) {
	sz := n.size()
	for j := i; j < sz-1; j++ {
		n.setSlot(j, n.keyAt(j+1), n.ridAt(j+1))
	}
	writeSize(n.p, sz-1)
}

func (n leaf) isSafeForSplit() bool { return n.size() < n.maxSize() }

func minLeafSize(maxSize int) int { return maxSize / 2 }

func (n leaf) isSafeForMerge() bool { return n.size() > minLeafSize(n.maxSize()) }

// splitOff moves the upper half of n's slots into dst (a freshly
// initialized sibling leaf) and returns the first key now in dst, which
// becomes the separator the parent internal node stores. Grounded on the
// teacher's LeafNode split halving in btree/btree.go's Insert.
func (n leaf) splitOff(dst leaf) common.IntKey {
	sz := n.size()
	mid := sz / 2
	for i := mid; i < sz; i++ {
		dst.setSlot(i-mid, n.keyAt(i), n.ridAt(i))
	}
	writeSize(dst.p, sz-mid)
	writeSize(n.p, mid)
	return dst.keyAt(0)
}

// mergeFrom appends every slot of src onto n (n absorbs its right
// sibling), grounded on the teacher's LeafNode.MergeNodes.
func (n leaf) mergeFrom(src leaf) {
	base := n.size()
	for i := 0; i < src.size(); i++ {
		n.setSlot(base+i, src.keyAt(i), src.ridAt(i))
	}
	writeSize(n.p, base+src.size())
	n.setNext(src.next())
}

// redistributeFromRight moves entries from src (n's right sibling) into n
// until both sides hold roughly half the combined total, returning the
// new separator key for the parent. Grounded on LeafNode.Redistribute.
func (n leaf) redistributeFromRight(src leaf) common.IntKey {
	total := n.size() + src.size()
	newLeftSize := total / 2
	move := newLeftSize - n.size()
	for i := 0; i < move; i++ {
		n.setSlot(n.size()+i, src.keyAt(i), src.ridAt(i))
	}
	writeSize(n.p, newLeftSize)
	for i := 0; i < src.size()-move; i++ {
		src.setSlot(i, src.keyAt(i+move), src.ridAt(i+move))
	}
	writeSize(src.p, src.size()-move)
	return src.keyAt(0)
}

// redistributeFromLeft moves entries from src (n's left sibling) into n,
// returning the new separator key for the parent.
func (n leaf) redistributeFromLeft(src leaf) common.IntKey {
	total := n.size() + src.size()
	newRightSize := total / 2
	move := newRightSize - n.size()
	for i := n.size() - 1; i >= 0; i-- {
		n.setSlot(i+move, n.keyAt(i), n.ridAt(i))
	}
	for i := 0; i < move; i++ {
		n.setSlot(i, src.keyAt(src.size()-move+i), src.ridAt(src.size()-move+i))
	}
	writeSize(n.p, newRightSize)
	writeSize(src.p, src.size()-move)
	return n.keyAt(0)
}
