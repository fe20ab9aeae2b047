package lockmanager

import (
	"fmt"

	"github.com/thetarby/crabdb/txn"
)

// AbortReason names why the lock manager forced a transaction into the
// ABORTED state (spec.md §4.4.3/§4.4.4/§7). Grounded on the teacher's
// locker.ErrDeadLock sentinel (locker/lock_manager.go), generalized from a
// single error value into a typed reason so callers can branch on it.
type AbortReason int

const (
	LockSharedOnReadUncommitted AbortReason = iota
	LockOnShrinking
	UpgradeConflict
	IncompatibleUpgrade
	TableLockNotPresent
	AttemptedUnlockButNoLockHeld
	TableUnlockedBeforeUnlockingRows
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockSharedOnReadUncommitted:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	case IncompatibleUpgrade:
		return "INCOMPATIBLE_UPGRADE"
	case TableLockNotPresent:
		return "TABLE_LOCK_NOT_PRESENT"
	case AttemptedUnlockButNoLockHeld:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case TableUnlockedBeforeUnlockingRows:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case Deadlock:
		return "DEADLOCK"
	default:
		return "UNKNOWN_ABORT_REASON"
	}
}

// TransactionAbortError is returned whenever the lock manager aborts a
// transaction in response to a rule violation or a broken deadlock cycle.
// The caller (executor) is expected to unwind; the transaction's state has
// already been flipped to txn.Aborted by the time this error is returned.
type TransactionAbortError struct {
	TxnID  txn.ID
	Reason AbortReason
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

func abortErr(t *txn.Transaction, reason AbortReason) error {
	t.SetState(txn.Aborted)
	return &TransactionAbortError{TxnID: t.ID(), Reason: reason}
}
