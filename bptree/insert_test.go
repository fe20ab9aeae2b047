package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/metrics"
	"github.com/thetarby/crabdb/storage/buffer"
	"github.com/thetarby/crabdb/storage/disk"
	"github.com/thetarby/crabdb/txn"
)

func newTestTree(t *testing.T, poolSize int) (*BPlusTree, *buffer.BufferPoolManager) {
	t.Helper()
	reg := metrics.NewRegistry()
	pool := buffer.New(poolSize, disk.NewMemoryManager(), 2, reg.BufferPool)
	catalog, err := OpenCatalog(pool, true)
	require.NoError(t, err)
	tree, err := Open(pool, catalog, "test_index")
	require.NoError(t, err)
	return tree, pool
}

func TestBPlusTree_InsertAndGetValue(t *testing.T) {
	tree, _ := newTestTree(t, 64)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	want := map[common.IntKey]common.RID{}
	for i := 0; i < 40; i++ {
		k := common.IntKey(i)
		rid := common.RID{PageID: int64(i), Slot: uint32(i % 7)}
		require.NoError(t, tree.Insert(tx, k, rid))
		want[k] = rid
	}

	for k, rid := range want {
		got, ok, err := tree.GetValue(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rid, got)
	}

	_, ok, err := tree.GetValue(common.IntKey(999))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBPlusTree_InsertDuplicateFails(t *testing.T) {
	tree, _ := newTestTree(t, 64)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	require.NoError(t, tree.Insert(tx, common.IntKey(1), common.RID{PageID: 1}))
	err := tree.Insert(tx, common.IntKey(1), common.RID{PageID: 2})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

// TestBPlusTree_SplitsAcrossLevels forces enough leaf splits that an
// internal node splits too, and checks every key still resolves and the
// iterator still walks the full set in order.
func TestBPlusTree_SplitsAcrossLevels(t *testing.T) {
	tree, pool := newTestTree(t, 512)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	const n = 60000
	for i := 0; i < n; i++ {
		// insert out of order to exercise mid-node splits, not just
		// always-append-at-the-end splits.
		k := common.IntKey((i * 7919) % n)
		if _, ok, _ := tree.GetValue(k); ok {
			continue
		}
		require.NoError(t, tree.Insert(tx, k, common.RID{PageID: int64(k)}))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	count := 0
	var prev common.IntKey = -1
	for it.Valid() {
		require.True(t, it.Key() > prev || count == 0)
		prev = it.Key()
		count++
		require.NoError(t, it.Next())
	}
	it.Close()
	require.Equal(t, n, count)
	_ = pool
}

func TestBPlusTree_BeginAtSeeksForward(t *testing.T) {
	tree, _ := newTestTree(t, 256)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	for i := 0; i < 200; i += 2 {
		require.NoError(t, tree.Insert(tx, common.IntKey(i), common.RID{PageID: int64(i)}))
	}

	it, err := tree.BeginAt(common.IntKey(101))
	require.NoError(t, err)
	require.True(t, it.Valid())
	require.Equal(t, common.IntKey(102), it.Key())
	it.Close()
}
