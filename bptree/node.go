// Package bptree is the latch-crabbing concurrent B+Tree index of
// spec.md §4.3: page-resident leaf/internal nodes, latch crabbing during
// traversal, and splits/merges driven off a buffer-pool-backed disk
// device. Grounded on the teacher's btree package (btree/btree.go,
// btree/persistent_nodes.go): the same root-entry-lock + per-node-latch
// crabbing protocol and the same page header / key-value slot layout
// idiom, narrowed from the teacher's generic Key-interface-over-slotted-
// pages machinery to the single concrete key type spec.md actually names
// (common.IntKey), which lets every node live in one fixed-size
// buffer-pool page instead of the teacher's variable-length scheme.
package bptree

import (
	"encoding/binary"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
)

type nodeType byte

const (
	leafNodeType nodeType = iota + 1
	internalNodeType
)

// headerSize is the common prefix every node page starts with: type,
// parent page id, current size (key count), and max size (branching
// factor). Grounded on the teacher's PersistentNodeHeader
// (btree/persistent_nodes.go), generalized with an explicit maxSize field
// so a node can check IsSafeForSplit/IsSafeForMerge from its own page
// without consulting the tree.
const headerSize = 1 + 8 + 4 + 4

func readNodeType(p *page.Page) nodeType { return nodeType(p.Data[0]) }

func writeNodeType(p *page.Page, t nodeType) { p.Data[0] = byte(t) }

func readParentPageID(p *page.Page) page.ID {
	return page.ID(int64(binary.LittleEndian.Uint64(p.Data[1:9])))
}

func writeParentPageID(p *page.Page, id page.ID) {
	binary.LittleEndian.PutUint64(p.Data[1:9], uint64(int64(id)))
}

func readSize(p *page.Page) int {
	return int(int32(binary.LittleEndian.Uint32(p.Data[9:13])))
}

func writeSize(p *page.Page, n int) {
	binary.LittleEndian.PutUint32(p.Data[9:13], uint32(int32(n)))
}

func readMaxSize(p *page.Page) int {
	return int(int32(binary.LittleEndian.Uint32(p.Data[13:17])))
}

func writeMaxSize(p *page.Page, n int) {
	binary.LittleEndian.PutUint32(p.Data[13:17], uint32(int32(n)))
}

func isLeafPage(p *page.Page) bool { return readNodeType(p) == leafNodeType }

func readKeyAt(data []byte, off int) common.IntKey {
	return common.IntKey(int64(binary.LittleEndian.Uint64(data[off : off+8])))
}

func writeKeyAt(data []byte, off int, k common.IntKey) {
	binary.LittleEndian.PutUint64(data[off:off+8], uint64(int64(k)))
}
