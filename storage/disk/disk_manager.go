// Package disk is the external collaborator spec.md §6 calls the "disk
// device": a synchronous, block-addressed read/write device the buffer
// pool treats as a black box. WAL ordering and crash recovery are out of
// scope here (spec.md Non-goals) — callers that need durable ordering
// layer that on top.
package disk

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/thetarby/crabdb/storage/page"
)

// Manager is the disk device contract consumed by the buffer pool.
type Manager interface {
	ReadPage(id page.ID, dst *[page.Size]byte) error
	WritePage(id page.ID, src *[page.Size]byte) error

	// NewPageID allocates and returns the next logical page id; it does
	// not write anything to disk.
	NewPageID() page.ID

	Close() error
}

// FileManager is an os.File-backed disk device, grounded on the teacher's
// disk/disk_manager.go Manager: page-aligned seeks, page.Size writes,
// a monotonic page-id allocator. The teacher's free-list/header/WAL
// coupling is dropped here — that belongs to the excluded recovery layer
// (spec.md §1 Non-goals) — leaving the plain block-device contract
// spec.md §6 asks for.
type FileManager struct {
	mu         sync.Mutex
	file       *os.File
	lastPageID page.ID

	// FlushInstantly forces an fsync after every write. The teacher keeps
	// this as a test-speed knob (disk/disk_manager.go); default false.
	FlushInstantly bool
}

var _ Manager = (*FileManager)(nil)

// NewFileManager opens (creating if needed) the backing file. Page 0 is
// reserved for the B+Tree header page (spec.md §6 persisted state layout).
func NewFileManager(path string) (*FileManager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: opening %s", path)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "disk: stat")
	}

	lastPageID := page.ID(stat.Size()/int64(page.Size)) - 1
	if lastPageID < 0 {
		lastPageID = -1
	}

	return &FileManager{file: f, lastPageID: lastPageID}, nil
}

func (d *FileManager) ReadPage(id page.ID, dst *[page.Size]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(id) * int64(page.Size)
	n, err := d.file.ReadAt(dst[:], off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "disk: reading page %d", id)
	}
	// a page that was allocated but never written reads as zeroes.
	for i := n; i < page.Size; i++ {
		dst[i] = 0
	}
	return nil
}

func (d *FileManager) WritePage(id page.ID, src *[page.Size]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(id) * int64(page.Size)
	if _, err := d.file.WriteAt(src[:], off); err != nil {
		return errors.Wrapf(err, "disk: writing page %d", id)
	}
	if d.FlushInstantly {
		if err := d.file.Sync(); err != nil {
			return errors.Wrap(err, "disk: fsync")
		}
	}
	return nil
}

func (d *FileManager) NewPageID() page.ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPageID++
	return d.lastPageID
}

func (d *FileManager) Close() error {
	return d.file.Close()
}

// MemoryManager is an in-memory device backing unit tests, grounded on the
// teacher's btree/mem_pager.go in-memory pager idiom.
type MemoryManager struct {
	mu         sync.Mutex
	pages      map[page.ID]*[page.Size]byte
	lastPageID page.ID
}

var _ Manager = (*MemoryManager)(nil)

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{pages: make(map[page.ID]*[page.Size]byte), lastPageID: -1}
}

func (m *MemoryManager) ReadPage(id page.ID, dst *[page.Size]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if buf, ok := m.pages[id]; ok {
		*dst = *buf
	} else {
		*dst = [page.Size]byte{}
	}
	return nil
}

func (m *MemoryManager) WritePage(id page.ID, src *[page.Size]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := new([page.Size]byte)
	*buf = *src
	m.pages[id] = buf
	return nil
}

func (m *MemoryManager) NewPageID() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPageID++
	return m.lastPageID
}

func (m *MemoryManager) Close() error { return nil }
