package disk

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thetarby/crabdb/storage/page"
)

// newTestFile returns a path under t.TempDir() named with a fresh uuid, the
// same per-test-file-collision-avoidance idiom the teacher's btree test
// suite uses (btree/concurrent_test.go's uuid.NewUUID() temp db names), so
// concurrently running tests never contend on the same backing file.
func newTestFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), uuid.NewString()+".db")
}

func TestFileManager_WriteReadRoundTrip(t *testing.T) {
	d, err := NewFileManager(newTestFile(t))
	require.NoError(t, err)
	defer d.Close()

	id := d.NewPageID()
	require.Equal(t, page.ID(0), id)

	var src [page.Size]byte
	copy(src[:], "hello page")
	require.NoError(t, d.WritePage(id, &src))

	var dst [page.Size]byte
	require.NoError(t, d.ReadPage(id, &dst))
	require.Equal(t, src, dst)
}

func TestFileManager_UnwrittenPageReadsZero(t *testing.T) {
	d, err := NewFileManager(newTestFile(t))
	require.NoError(t, err)
	defer d.Close()

	var dst [page.Size]byte
	for i := range dst {
		dst[i] = 0xFF
	}
	require.NoError(t, d.ReadPage(page.ID(5), &dst))
	require.Equal(t, [page.Size]byte{}, dst)
}

func TestFileManager_ReopenPreservesLastPageID(t *testing.T) {
	path := newTestFile(t)

	d1, err := NewFileManager(path)
	require.NoError(t, err)
	var buf [page.Size]byte
	for i := 0; i < 3; i++ {
		id := d1.NewPageID()
		require.NoError(t, d1.WritePage(id, &buf))
	}
	require.NoError(t, d1.Close())

	d2, err := NewFileManager(path)
	require.NoError(t, err)
	defer d2.Close()
	require.Equal(t, page.ID(3), d2.NewPageID())
}

func TestMemoryManager_WriteReadRoundTrip(t *testing.T) {
	m := NewMemoryManager()
	id := m.NewPageID()
	require.Equal(t, page.ID(0), id)

	var src [page.Size]byte
	copy(src[:], "in-memory")
	require.NoError(t, m.WritePage(id, &src))

	var dst [page.Size]byte
	require.NoError(t, m.ReadPage(id, &dst))
	require.Equal(t, src, dst)
}
