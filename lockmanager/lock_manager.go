// Package lockmanager is the hierarchical multi-granularity 2PL lock
// manager of spec.md §4.4: five lock modes over a table/row hierarchy,
// isolation-level-specific GROWING/SHRINKING enforcement, and a background
// deadlock detector. Grounded on the teacher's locker.LockManager
// (locker/lock_manager.go) — its channel-free, mutex-guarded per-object
// state and periodic wait-for-graph detector are generalized here from a
// single shared/exclusive page latch into the full IS/IX/S/SIX/X table and
// row protocol.
package lockmanager

import (
	"sync"
	"time"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/metrics"
	"github.com/thetarby/crabdb/txn"
)

type rowKey struct {
	OID txn.OID
	RID common.RID
}

// LockManager owns every table- and row-level lock request queue in the
// system plus the background goroutine that periodically looks for
// deadlocks among them.
type LockManager struct {
	tableMu     sync.Mutex
	tableQueues map[txn.OID]*LockRequestQueue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*LockRequestQueue

	txns    *txn.Manager
	metrics metrics.LockManagerMetrics

	detectInterval time.Duration
	stop           chan struct{}
	stopped        chan struct{}
}

// New builds a LockManager and starts its deadlock detector goroutine at
// the default detection interval. txns is consulted by the detector to
// turn an aborted txn_id back into the Transaction object it must flip to
// txn.Aborted. m may be the zero value.
func New(txns *txn.Manager, m metrics.LockManagerMetrics) *LockManager {
	return NewWithInterval(txns, m, common.DefaultCycleDetectionInterval)
}

// NewWithInterval is New with an explicit detection interval, mainly so
// tests don't wait the full default interval for a detector pass.
func NewWithInterval(txns *txn.Manager, m metrics.LockManagerMetrics, interval time.Duration) *LockManager {
	lm := &LockManager{
		tableQueues:    make(map[txn.OID]*LockRequestQueue),
		rowQueues:      make(map[rowKey]*LockRequestQueue),
		txns:           txns,
		metrics:        m,
		detectInterval: interval,
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	go lm.runCycleDetection()
	return lm
}

// Close stops the deadlock detector and waits for it to exit.
func (lm *LockManager) Close() {
	close(lm.stop)
	<-lm.stopped
}

func (lm *LockManager) getTableQueue(oid txn.OID) *LockRequestQueue {
	lm.tableMu.Lock()
	defer lm.tableMu.Unlock()
	q, ok := lm.tableQueues[oid]
	if !ok {
		q = newLockRequestQueue()
		lm.tableQueues[oid] = q
	}
	return q
}

func (lm *LockManager) getRowQueue(key rowKey) *LockRequestQueue {
	lm.rowMu.Lock()
	defer lm.rowMu.Unlock()
	q, ok := lm.rowQueues[key]
	if !ok {
		q = newLockRequestQueue()
		lm.rowQueues[key] = q
	}
	return q
}

func (lm *LockManager) pruneTableQueue(oid txn.OID, q *LockRequestQueue) {
	lm.tableMu.Lock()
	defer lm.tableMu.Unlock()
	q.event.Lock()
	defer q.event.Unlock()
	if q.empty() {
		delete(lm.tableQueues, oid)
	}
}

func (lm *LockManager) pruneRowQueue(key rowKey, q *LockRequestQueue) {
	lm.rowMu.Lock()
	defer lm.rowMu.Unlock()
	q.event.Lock()
	defer q.event.Unlock()
	if q.empty() {
		delete(lm.rowQueues, key)
	}
}

// checkCanRequest enforces spec.md §4.4.3's 2PL-by-isolation-level table,
// aborting t and returning a TransactionAbortError on violation.
func (lm *LockManager) checkCanRequest(t *txn.Transaction, mode txn.LockMode) error {
	switch t.IsolationLevel() {
	case txn.ReadUncommitted:
		if mode == txn.LockShared || mode == txn.LockIntentionShared || mode == txn.LockSharedIntentionExclusive {
			return abortErr(t, LockSharedOnReadUncommitted)
		}
		if t.State() == txn.Shrinking {
			return abortErr(t, LockOnShrinking)
		}
	case txn.ReadCommitted:
		if t.State() == txn.Shrinking && mode != txn.LockIntentionShared && mode != txn.LockShared {
			return abortErr(t, LockOnShrinking)
		}
	case txn.RepeatableRead:
		if t.State() == txn.Shrinking {
			return abortErr(t, LockOnShrinking)
		}
	}
	return nil
}

// transitionOnUnlock flips t to SHRINKING on its first unlock, except
// spec.md §9.1's refinement: under READ_COMMITTED, releasing S or IS does
// not end the growing phase.
func (lm *LockManager) transitionOnUnlock(t *txn.Transaction, mode txn.LockMode) {
	if t.State() != txn.Growing {
		return
	}
	if t.IsolationLevel() == txn.ReadCommitted && (mode == txn.LockShared || mode == txn.LockIntentionShared) {
		return
	}
	t.SetState(txn.Shrinking)
}

// LockTable acquires oid under mode for t, blocking until compatible or
// aborting t if a rule is violated or the deadlock detector selects it as
// a victim while waiting.
func (lm *LockManager) LockTable(t *txn.Transaction, mode txn.LockMode, oid txn.OID) error {
	if err := lm.checkCanRequest(t, mode); err != nil {
		return err
	}

	q := lm.getTableQueue(oid)
	q.event.Lock()
	defer q.event.Unlock()

	if held, ok := t.AnyTableLock(oid); ok {
		if held == mode {
			return nil
		}
		return lm.upgradeTableLocked(t, q, oid, held, mode)
	}

	req := &LockRequest{TxnID: t.ID(), Mode: mode, OID: oid}
	elem := q.requests.PushBack(req)

	waited := false
	for {
		if t.State() == txn.Aborted {
			q.remove(elem)
			q.event.Broadcast()
			return &TransactionAbortError{TxnID: t.ID(), Reason: Deadlock}
		}
		if !q.aheadUngrantedBlocks(req) && q.grantedCompatibleWith(mode, invalidTxnID) &&
			(q.upgrading == invalidTxnID || q.upgrading == t.ID()) {
			req.Granted = true
			t.AddTableLock(oid, mode)
			if lm.metrics.Grants != nil {
				lm.metrics.Grants.Inc()
			}
			q.event.Broadcast()
			return nil
		}
		if !waited {
			if lm.metrics.Waits != nil {
				lm.metrics.Waits.Inc()
			}
			waited = true
		}
		q.event.Wait()
	}
}

// upgradeTableLocked handles LockTable's in-place upgrade path. Caller
// holds q.event locked.
func (lm *LockManager) upgradeTableLocked(t *txn.Transaction, q *LockRequestQueue, oid txn.OID, from, to txn.LockMode) error {
	if !isLegalUpgrade(from, to) {
		return abortErr(t, IncompatibleUpgrade)
	}
	if q.upgrading != invalidTxnID && q.upgrading != t.ID() {
		return abortErr(t, UpgradeConflict)
	}
	q.upgrading = t.ID()

	_, req := q.find(t.ID())

	waited := false
	for {
		if t.State() == txn.Aborted {
			q.upgrading = invalidTxnID
			q.event.Broadcast()
			return &TransactionAbortError{TxnID: t.ID(), Reason: Deadlock}
		}
		if q.grantedCompatibleWith(to, t.ID()) {
			req.Mode = to
			q.upgrading = invalidTxnID
			t.RemoveTableLock(oid, from)
			t.AddTableLock(oid, to)
			if lm.metrics.Grants != nil {
				lm.metrics.Grants.Inc()
			}
			q.event.Broadcast()
			return nil
		}
		if !waited {
			if lm.metrics.Waits != nil {
				lm.metrics.Waits.Inc()
			}
			waited = true
		}
		q.event.Wait()
	}
}

// UnlockTable releases t's lock on oid. Fails (aborting t) if t holds no
// lock on oid, or if t still holds any row lock under oid.
func (lm *LockManager) UnlockTable(t *txn.Transaction, oid txn.OID) error {
	if t.RowLockedTables(oid) {
		return abortErr(t, TableUnlockedBeforeUnlockingRows)
	}
	mode, ok := t.AnyTableLock(oid)
	if !ok {
		return abortErr(t, AttemptedUnlockButNoLockHeld)
	}

	q := lm.getTableQueue(oid)
	q.event.Lock()
	if e, _ := q.find(t.ID()); e != nil {
		q.remove(e)
	}
	q.event.Broadcast()
	q.event.Unlock()

	t.RemoveTableLock(oid, mode)
	lm.transitionOnUnlock(t, mode)
	lm.pruneTableQueue(oid, q)
	return nil
}

// checkTableIntentionHeld enforces spec.md §4.4.3's row/table coupling:
// S-row needs any table lock; X-row needs IX, SIX, or X on the table.
func (lm *LockManager) checkTableIntentionHeld(t *txn.Transaction, oid txn.OID, mode txn.LockMode) error {
	held, ok := t.AnyTableLock(oid)
	if !ok {
		return abortErr(t, TableLockNotPresent)
	}
	if mode == txn.LockExclusive {
		if held != txn.LockIntentionExclusive && held != txn.LockSharedIntentionExclusive && held != txn.LockExclusive {
			return abortErr(t, TableLockNotPresent)
		}
	}
	return nil
}

// LockRow acquires (oid, rid) under mode (Shared or Exclusive only) for t.
func (lm *LockManager) LockRow(t *txn.Transaction, mode txn.LockMode, oid txn.OID, rid common.RID) error {
	if mode != txn.LockShared && mode != txn.LockExclusive {
		panic("lockmanager: row locks only support Shared/Exclusive")
	}
	if err := lm.checkCanRequest(t, mode); err != nil {
		return err
	}
	if err := lm.checkTableIntentionHeld(t, oid, mode); err != nil {
		return err
	}

	key := rowKey{OID: oid, RID: rid}
	q := lm.getRowQueue(key)
	q.event.Lock()
	defer q.event.Unlock()

	if held, ok := t.AnyRowLock(oid, rid); ok {
		if held == mode {
			return nil
		}
		return lm.upgradeRowLocked(t, q, oid, rid, held, mode)
	}

	req := &LockRequest{TxnID: t.ID(), Mode: mode, OID: oid, RID: &rid}
	elem := q.requests.PushBack(req)

	waited := false
	for {
		if t.State() == txn.Aborted {
			q.remove(elem)
			q.event.Broadcast()
			return &TransactionAbortError{TxnID: t.ID(), Reason: Deadlock}
		}
		if !q.aheadUngrantedBlocks(req) && q.grantedCompatibleWith(mode, invalidTxnID) &&
			(q.upgrading == invalidTxnID || q.upgrading == t.ID()) {
			req.Granted = true
			t.AddRowLock(oid, rid, mode)
			if lm.metrics.Grants != nil {
				lm.metrics.Grants.Inc()
			}
			q.event.Broadcast()
			return nil
		}
		if !waited {
			if lm.metrics.Waits != nil {
				lm.metrics.Waits.Inc()
			}
			waited = true
		}
		q.event.Wait()
	}
}

func (lm *LockManager) upgradeRowLocked(t *txn.Transaction, q *LockRequestQueue, oid txn.OID, rid common.RID, from, to txn.LockMode) error {
	if !isLegalUpgrade(from, to) {
		return abortErr(t, IncompatibleUpgrade)
	}
	if q.upgrading != invalidTxnID && q.upgrading != t.ID() {
		return abortErr(t, UpgradeConflict)
	}
	q.upgrading = t.ID()

	_, req := q.find(t.ID())

	waited := false
	for {
		if t.State() == txn.Aborted {
			q.upgrading = invalidTxnID
			q.event.Broadcast()
			return &TransactionAbortError{TxnID: t.ID(), Reason: Deadlock}
		}
		if q.grantedCompatibleWith(to, t.ID()) {
			req.Mode = to
			q.upgrading = invalidTxnID
			t.RemoveRowLock(oid, rid, from)
			t.AddRowLock(oid, rid, to)
			if lm.metrics.Grants != nil {
				lm.metrics.Grants.Inc()
			}
			q.event.Broadcast()
			return nil
		}
		if !waited {
			if lm.metrics.Waits != nil {
				lm.metrics.Waits.Inc()
			}
			waited = true
		}
		q.event.Wait()
	}
}

// UnlockRow releases t's lock on (oid, rid).
func (lm *LockManager) UnlockRow(t *txn.Transaction, oid txn.OID, rid common.RID) error {
	mode, ok := t.AnyRowLock(oid, rid)
	if !ok {
		return abortErr(t, AttemptedUnlockButNoLockHeld)
	}

	key := rowKey{OID: oid, RID: rid}
	q := lm.getRowQueue(key)
	q.event.Lock()
	if e, _ := q.find(t.ID()); e != nil {
		q.remove(e)
	}
	q.event.Broadcast()
	q.event.Unlock()

	t.RemoveRowLock(oid, rid, mode)
	lm.transitionOnUnlock(t, mode)
	lm.pruneRowQueue(key, q)
	return nil
}
