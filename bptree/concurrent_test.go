package bptree

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/txn"
)

// chunks splits perm into n roughly equal pieces, grounded on the
// teacher's common.ChunksInt helper (btree/concurrent_test.go) used the
// same way to fan a permutation out across goroutines.
func chunks(perm []int, n int) [][]int {
	out := make([][]int, n)
	for i, v := range perm {
		out[i%n] = append(out[i%n], v)
	}
	return out
}

// TestConcurrent_Inserts fans a random permutation of keys out across
// goroutines, each running its own transaction, and checks every key
// survives and the tree stays sorted afterward — grounded on the
// teacher's TestConcurrent_Inserts (btree/concurrent_test.go).
func TestConcurrent_Inserts(t *testing.T) {
	tree, _ := newTestTree(t, 1024)
	txns := txn.NewManager()

	rand.Seed(42)
	const n, workers = 20000, 8
	perm := rand.Perm(n)

	var wg sync.WaitGroup
	for _, chunk := range chunks(perm, workers) {
		wg.Add(1)
		go func(keys []int) {
			defer wg.Done()
			tx := txns.Begin(txn.RepeatableRead)
			for _, k := range keys {
				require.NoError(t, tree.Insert(tx, common.IntKey(k), common.RID{PageID: int64(k)}))
			}
		}(chunk)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		_, ok, err := tree.GetValue(common.IntKey(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d missing", i)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	count := 0
	var prev common.IntKey = -1
	for it.Valid() {
		require.True(t, count == 0 || it.Key() > prev)
		prev = it.Key()
		count++
		require.NoError(t, it.Next())
	}
	it.Close()
	require.Equal(t, n, count)
}

// TestConcurrent_InsertsAndReads interleaves concurrent inserts with
// concurrent GetValue lookups on the already-inserted prefix, exercising
// the read-latch crabbing path against writers splitting nodes.
func TestConcurrent_InsertsAndReads(t *testing.T) {
	tree, _ := newTestTree(t, 1024)
	txns := txn.NewManager()
	tx := txns.Begin(txn.RepeatableRead)

	const n = 5000
	for i := 0; i < n/2; i++ {
		require.NoError(t, tree.Insert(tx, common.IntKey(i), common.RID{PageID: int64(i)}))
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := n / 2; i < n; i++ {
			require.NoError(t, tree.Insert(tx, common.IntKey(i), common.RID{PageID: int64(i)}))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			k := common.IntKey(rand.Intn(n / 2))
			_, ok, err := tree.GetValue(k)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}()

	wg.Wait()
	for i := 0; i < n; i++ {
		_, ok, err := tree.GetValue(common.IntKey(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
}
