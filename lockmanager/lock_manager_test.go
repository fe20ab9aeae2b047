package lockmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/metrics"
	"github.com/thetarby/crabdb/txn"
)

func newTestManager(t *testing.T) (*LockManager, *txn.Manager) {
	t.Helper()
	reg := metrics.NewRegistry()
	txns := txn.NewManager()
	lm := NewWithInterval(txns, reg.LockMgr, 10*time.Millisecond)
	t.Cleanup(lm.Close)
	return lm, txns
}

func TestLockManager_BasicTableLockAndUnlock(t *testing.T) {
	lm, txns := newTestManager(t)

	t1 := txns.Begin(txn.ReadCommitted)
	require.NoError(t, lm.LockTable(t1, txn.LockShared, 1))
	require.NoError(t, lm.UnlockTable(t1, 1))
}

func TestLockManager_IncompatibleUpgradeAborts(t *testing.T) {
	// Scenario 5: SIX cannot be upgraded to IS (not in the legal-upgrade
	// table), so the attempt aborts the transaction.
	lm, txns := newTestManager(t)

	t1 := txns.Begin(txn.RepeatableRead)
	require.NoError(t, lm.LockTable(t1, txn.LockSharedIntentionExclusive, 1))

	err := lm.LockTable(t1, txn.LockIntentionShared, 1)
	require.Error(t, err)

	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, IncompatibleUpgrade, abortErr.Reason)
	assert.Equal(t, txn.Aborted, t1.State())
}

func TestLockManager_UpgradeConflictAbortsSecondUpgrader(t *testing.T) {
	lm, txns := newTestManager(t)

	t1 := txns.Begin(txn.RepeatableRead)
	t2 := txns.Begin(txn.RepeatableRead)

	require.NoError(t, lm.LockTable(t1, txn.LockShared, 1))
	require.NoError(t, lm.LockTable(t2, txn.LockShared, 1))

	done := make(chan error, 1)
	go func() {
		done <- lm.LockTable(t1, txn.LockExclusive, 1)
	}()

	// give t1's upgrade a moment to register itself as the queue's
	// upgrading slot before t2 attempts to upgrade too.
	time.Sleep(20 * time.Millisecond)

	err := lm.LockTable(t2, txn.LockExclusive, 1)
	require.Error(t, err)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, UpgradeConflict, abortErr.Reason)

	// t2's own S(1) is the only thing t1's pending upgrade is waiting on;
	// releasing it (t2 is already aborted, simulating its unwind) lets
	// t1's upgrade complete.
	require.NoError(t, lm.UnlockTable(t2, 1))
	require.NoError(t, <-done)
	require.NoError(t, lm.UnlockTable(t1, 1))
}

func TestLockManager_LockUpgradeUnderRepeatableRead(t *testing.T) {
	// Scenario 4: T1 holds S(A); T1 requests X(A); while T2 holds S(A),
	// T1 blocks. T2 unlocks; T1's X is granted; T1 remains GROWING.
	lm, txns := newTestManager(t)

	t1 := txns.Begin(txn.RepeatableRead)
	t2 := txns.Begin(txn.RepeatableRead)

	require.NoError(t, lm.LockTable(t1, txn.LockShared, 1))
	require.NoError(t, lm.LockTable(t2, txn.LockShared, 1))

	upgraded := make(chan error, 1)
	go func() {
		upgraded <- lm.LockTable(t1, txn.LockExclusive, 1)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-upgraded:
		t.Fatal("upgrade granted while T2 still holds S(A)")
	default:
	}

	require.NoError(t, lm.UnlockTable(t2, 1))

	require.NoError(t, <-upgraded)
	assert.Equal(t, txn.Growing, t1.State())
	require.NoError(t, lm.UnlockTable(t1, 1))
}

func TestLockManager_RowLockRequiresTableIntentionLock(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(txn.ReadCommitted)

	err := lm.LockRow(t1, txn.LockShared, 1, common.RID{PageID: 1, Slot: 0})
	require.Error(t, err)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, TableLockNotPresent, abortErr.Reason)
}

func TestLockManager_UnlockTableBeforeRowsAborts(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(txn.ReadCommitted)

	require.NoError(t, lm.LockTable(t1, txn.LockIntentionExclusive, 1))
	rid := common.RID{PageID: 1, Slot: 0}
	require.NoError(t, lm.LockRow(t1, txn.LockExclusive, 1, rid))

	err := lm.UnlockTable(t1, 1)
	require.Error(t, err)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, TableUnlockedBeforeUnlockingRows, abortErr.Reason)
}

func TestLockManager_ReadUncommittedRejectsSharedModes(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(txn.ReadUncommitted)

	err := lm.LockTable(t1, txn.LockShared, 1)
	require.Error(t, err)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, LockSharedOnReadUncommitted, abortErr.Reason)
}

func TestLockManager_DeadlockDetectionAbortsYoungest(t *testing.T) {
	// Scenario 6: T1 holds X(A), waits for X(B); T2 holds X(B), waits for
	// X(A). The cycle is {T1, T2}; the detector must abort T2 (younger).
	lm, txns := newTestManager(t)

	t1 := txns.Begin(txn.RepeatableRead)
	t2 := txns.Begin(txn.RepeatableRead)
	require.True(t, t2.ID() > t1.ID())

	require.NoError(t, lm.LockTable(t1, txn.LockExclusive, 1))
	require.NoError(t, lm.LockTable(t2, txn.LockExclusive, 2))

	err1c := make(chan error, 1)
	err2c := make(chan error, 1)
	go func() { err1c <- lm.LockTable(t1, txn.LockExclusive, 2) }()
	go func() { err2c <- lm.LockTable(t2, txn.LockExclusive, 1) }()

	// t2 is younger and must be the one the detector aborts.
	err2 := <-err2c
	require.Error(t, err2)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err2, &abortErr)
	assert.Equal(t, Deadlock, abortErr.Reason)
	assert.Equal(t, txn.Aborted, t2.State())

	// simulate the executor's abort unwind: release every lock t2 still
	// holds so t1's wait on table 2 can complete.
	require.NoError(t, lm.UnlockTable(t2, 2))

	require.NoError(t, <-err1c)
	require.NoError(t, lm.UnlockTable(t1, 1))
	require.NoError(t, lm.UnlockTable(t1, 2))
}
