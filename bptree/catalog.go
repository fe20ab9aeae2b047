package bptree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/buffer"
	"github.com/thetarby/crabdb/storage/page"
)

// headerPageID is the reserved page the disk device hands out first
// (storage/disk.Manager's NewPageID starts at 0); the catalog claims it
// before any tree page is allocated.
const headerPageID = page.ID(0)

// catalog entry layout on the header page:
//
//	[0:4)   count        uint32
//	then count entries:  nameLen uint16 | name []byte | rootPageID int64
//
// Grounded on the teacher's persistent_nodes.go byte-offset idiom (fixed
// header fields followed by packed variable-length records), narrowed to
// the one registry this module needs: index name -> root page id.
type Catalog struct {
	pool  *buffer.BufferPoolManager
	names common.KeyMutex[string]
}

// OpenCatalog attaches to the header page. fresh must be true the first
// time a database file is ever used (it claims page 0 and writes an
// empty registry); false reopens an existing one.
func OpenCatalog(pool *buffer.BufferPoolManager, fresh bool) (*Catalog, error) {
	c := &Catalog{pool: pool}
	if !fresh {
		g, err := pool.FetchRead(headerPageID)
		if err != nil {
			return nil, errors.Wrap(err, "bptree: opening catalog")
		}
		g.Release(false)
		return c, nil
	}

	g, err := pool.NewWrite()
	if err != nil {
		return nil, errors.Wrap(err, "bptree: allocating catalog page")
	}
	if g.Page().PageID() != headerPageID {
		g.Release(false)
		return nil, errors.Newf("bptree: catalog page must be page %d, got %d", headerPageID, g.Page().PageID())
	}
	binary.LittleEndian.PutUint32(g.Page().Data[0:4], 0)
	g.Release(true)
	return c, nil
}

func scanEntries(data []byte, visit func(name string, off int, root page.ID) bool) {
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		nameOff := off + 2
		name := string(data[nameOff : nameOff+nameLen])
		rootOff := nameOff + nameLen
		root := page.ID(int64(binary.LittleEndian.Uint64(data[rootOff : rootOff+8])))
		entryEnd := rootOff + 8
		if !visit(name, off, root) {
			return
		}
		off = entryEnd
	}
}

// RootPageID looks up the root page id registered under name.
func (c *Catalog) RootPageID(name string) (page.ID, bool, error) {
	release := c.names.Lock(name)
	defer release()

	g, err := c.pool.FetchRead(headerPageID)
	if err != nil {
		return 0, false, errors.Wrap(err, "bptree: reading catalog")
	}
	defer g.Release(false)

	var found page.ID
	var ok bool
	scanEntries(g.Page().Data[:], func(n string, _ int, root page.ID) bool {
		if n == name {
			found, ok = root, true
			return false
		}
		return true
	})
	return found, ok, nil
}

// SetRootPageID registers or updates name's root page id. Calls for the
// same name are serialized by the catalog's KeyMutex; calls for different
// names are serialized by the header page's write latch, so concurrent
// trees never corrupt each other's entries on the shared header page.
func (c *Catalog) SetRootPageID(name string, root page.ID) error {
	release := c.names.Lock(name)
	defer release()

	g, err := c.pool.FetchWrite(headerPageID)
	if err != nil {
		return errors.Wrap(err, "bptree: writing catalog")
	}
	defer g.Release(true)

	data := g.Page().Data[:]
	updated := false
	scanEntries(data, func(n string, off int, _ page.ID) bool {
		if n == name {
			nameLen := len(n)
			rootOff := off + 2 + nameLen
			binary.LittleEndian.PutUint64(data[rootOff:rootOff+8], uint64(int64(root)))
			updated = true
			return false
		}
		return true
	})
	if updated {
		return nil
	}

	count := binary.LittleEndian.Uint32(data[0:4])
	end := catalogEnd(data)

	entryLen := 2 + len(name) + 8
	if end+entryLen > page.Size {
		return ErrCatalogFull
	}

	binary.LittleEndian.PutUint16(data[end:end+2], uint16(len(name)))
	copy(data[end+2:end+2+len(name)], name)
	binary.LittleEndian.PutUint64(data[end+2+len(name):end+2+len(name)+8], uint64(int64(root)))
	binary.LittleEndian.PutUint32(data[0:4], count+1)
	return nil
}

func catalogEnd(data []byte) int {
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off = off + 2 + nameLen + 8
	}
	return off
}
