// Package txn is the Transaction (external) collaborator of spec.md §3/§6:
// the per-session object the lock manager validates 2PL against and the
// B+Tree threads its latch/page bookkeeping through.
package txn

import (
	"container/list"
	"sync"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/storage/page"
)

// ID identifies a transaction. Monotonically increasing; a higher ID means
// a younger transaction, which is the tie-breaker the deadlock detector
// uses (spec.md §4.4.4: abort the youngest txn in a cycle).
type ID int64

// IsolationLevel gates which lock modes are legal in which state, per
// spec.md §4.4.3.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return "UNKNOWN_ISOLATION_LEVEL"
	}
}

// State is the transaction's 2PL phase.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN_STATE"
	}
}

// OID identifies a lockable table (or other top-level object) within the
// lock manager's hierarchy.
type OID int64

// lockSet is a set of OIDs a transaction holds a given table-level mode
// over.
type lockSet map[OID]struct{}

// rowLockSet is a set of RIDs held, per table, under a given row-level
// mode.
type rowLockSet map[OID]map[common.RID]struct{}

// Transaction is the lock manager's external collaborator (spec.md §4.4.6):
// id, isolation level, 2PL state, five table lock sets, two row lock sets,
// the B+Tree's latched-page crabbing trail, and a deleted-page set drained
// on release. Grounded on the teacher's transaction.Transaction
// (transaction/transaction.go), replacing its WAL/undo-log fields (out of
// scope per spec.md Non-goals) with the 2PL bookkeeping spec.md §3 names.
//
// mu guards every field below: a transaction's own goroutine mutates its
// lock sets while acquiring/releasing locks, but the lock manager's
// background deadlock detector can concurrently flip State to Aborted from
// a different goroutine. Adapted from the teacher's common.KeyMutex
// idiom — here a single per-transaction mutex plays the same "don't let
// two goroutines race on one key's state" role that KeyMutex[T] plays for
// a keyed collection.
type Transaction struct {
	mu sync.Mutex

	id             ID
	isolationLevel IsolationLevel
	state          State

	sharedTableLockSet    lockSet
	exclusiveTableLockSet lockSet
	isTableLockSet        lockSet
	ixTableLockSet        lockSet
	sixTableLockSet       lockSet

	sharedRowLockSet    rowLockSet
	exclusiveRowLockSet rowLockSet

	// pageSet is the B+Tree's latch-crabbing trail: pages latched on the
	// way down whose ancestor latches have not yet been released because
	// the child below might still be unsafe.
	pageSet *list.List

	// deletedPageSet collects pages freed mid-operation; the B+Tree
	// caller drains it (via DeletedPages) once the Transaction releases
	// every latch, since a page must not be recycled by the buffer pool
	// while an ancestor still holds a latch that could retry into it.
	deletedPageSet map[page.ID]struct{}
}

// New creates a transaction in the GROWING state with empty lock sets.
func New(id ID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolationLevel: isolation,
		state:          Growing,

		sharedTableLockSet:    make(lockSet),
		exclusiveTableLockSet: make(lockSet),
		isTableLockSet:        make(lockSet),
		ixTableLockSet:        make(lockSet),
		sixTableLockSet:       make(lockSet),

		sharedRowLockSet:    make(rowLockSet),
		exclusiveRowLockSet: make(rowLockSet),

		pageSet:        list.New(),
		deletedPageSet: make(map[page.ID]struct{}),
	}
}

func (t *Transaction) ID() ID { return t.id }

func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolationLevel }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// tableSet returns the lock set backing mode, for lock manager use.
func (t *Transaction) tableSet(mode LockMode) lockSet {
	switch mode {
	case LockShared:
		return t.sharedTableLockSet
	case LockExclusive:
		return t.exclusiveTableLockSet
	case LockIntentionShared:
		return t.isTableLockSet
	case LockIntentionExclusive:
		return t.ixTableLockSet
	case LockSharedIntentionExclusive:
		return t.sixTableLockSet
	default:
		panic("txn: unknown table lock mode")
	}
}

// HasTableLock reports whether the transaction holds oid under mode.
func (t *Transaction) HasTableLock(oid OID, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tableSet(mode)[oid]
	return ok
}

// AnyTableLock reports whether the transaction holds oid under any mode,
// and which.
func (t *Transaction) AnyTableLock(oid OID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, mode := range allLockModes {
		if _, ok := t.tableSet(mode)[oid]; ok {
			return mode, true
		}
	}
	return 0, false
}

func (t *Transaction) AddTableLock(oid OID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableSet(mode)[oid] = struct{}{}
}

func (t *Transaction) RemoveTableLock(oid OID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableSet(mode), oid)
}

// rowSet returns the row lock set backing mode (Shared or Exclusive only).
func (t *Transaction) rowSet(mode LockMode) rowLockSet {
	switch mode {
	case LockShared:
		return t.sharedRowLockSet
	case LockExclusive:
		return t.exclusiveRowLockSet
	default:
		panic("txn: row locks only support Shared/Exclusive")
	}
}

func (t *Transaction) HasRowLock(oid OID, rid common.RID, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rids, ok := t.rowSet(mode)[oid]
	if !ok {
		return false
	}
	_, ok = rids[rid]
	return ok
}

func (t *Transaction) AnyRowLock(oid OID, rid common.RID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, mode := range [...]LockMode{LockShared, LockExclusive} {
		if rids, ok := t.rowSet(mode)[oid]; ok {
			if _, ok := rids[rid]; ok {
				return mode, true
			}
		}
	}
	return 0, false
}

func (t *Transaction) AddRowLock(oid OID, rid common.RID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.rowSet(mode)
	if set[oid] == nil {
		set[oid] = make(map[common.RID]struct{})
	}
	set[oid][rid] = struct{}{}
}

func (t *Transaction) RemoveRowLock(oid OID, rid common.RID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowSet(mode)[oid], rid)
}

// RowLockedTables reports whether the transaction still holds a row lock
// under oid, in any mode — UnlockTable uses this to enforce
// TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS.
func (t *Transaction) RowLockedTables(oid OID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rids, ok := t.sharedRowLockSet[oid]; ok && len(rids) > 0 {
		return true
	}
	if rids, ok := t.exclusiveRowLockSet[oid]; ok && len(rids) > 0 {
		return true
	}
	return false
}

// PushPage records p as latched on the current crabbing descent.
func (t *Transaction) PushPage(p *page.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pageSet.PushBack(p)
}

// PopAllPages drains and returns every page latched on the current descent,
// in root-to-leaf order, so the caller can release them.
func (t *Transaction) PopAllPages() []*page.Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*page.Page, 0, t.pageSet.Len())
	for e := t.pageSet.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*page.Page))
	}
	t.pageSet.Init()
	return out
}

func (t *Transaction) AddDeletedPage(id page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPageSet[id] = struct{}{}
}

// DeletedPages drains and returns the set of pages this transaction freed.
func (t *Transaction) DeletedPages() []page.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]page.ID, 0, len(t.deletedPageSet))
	for id := range t.deletedPageSet {
		out = append(out, id)
	}
	t.deletedPageSet = make(map[page.ID]struct{})
	return out
}
