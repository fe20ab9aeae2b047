package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/txn"
)

func TestBPlusTree_DeleteMissingKeyIsNoop(t *testing.T) {
	tree, _ := newTestTree(t, 64)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	require.NoError(t, tree.Delete(tx, common.IntKey(1)))
}

func TestBPlusTree_InsertThenDeleteAllLeavesEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 64)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(tx, common.IntKey(i), common.RID{PageID: int64(i)}))
	}
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Delete(tx, common.IntKey(i)))
	}
	for i := 0; i < n; i++ {
		_, ok, err := tree.GetValue(common.IntKey(i))
		require.NoError(t, err)
		require.False(t, ok)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.False(t, it.Valid())
}

// TestBPlusTree_DeleteTriggersMergesAcrossLevels inserts enough keys to
// build a multi-level tree and then deletes most of them, which must
// repeatedly redistribute from and merge with siblings, and eventually
// collapse internal levels whose children all merged away.
func TestBPlusTree_DeleteTriggersMergesAcrossLevels(t *testing.T) {
	tree, _ := newTestTree(t, 512)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	const n = 20000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(tx, common.IntKey(i), common.RID{PageID: int64(i)}))
	}

	kept := map[common.IntKey]bool{}
	for i := 0; i < n; i++ {
		if i%10 == 0 {
			kept[common.IntKey(i)] = true
			continue
		}
		require.NoError(t, tree.Delete(tx, common.IntKey(i)))
	}

	for i := 0; i < n; i++ {
		k := common.IntKey(i)
		_, ok, err := tree.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, kept[k], ok, "key %d", i)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	count := 0
	for it.Valid() {
		require.True(t, kept[it.Key()])
		count++
		require.NoError(t, it.Next())
	}
	it.Close()
	require.Equal(t, len(kept), count)
}
