package lockmanager

import (
	"container/list"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/txn"
)

// invalidTxnID marks an empty "upgrading" slot (spec.md §4.4.2).
const invalidTxnID txn.ID = -1

// LockRequest is one entry in a LockRequestQueue (spec.md §3).
type LockRequest struct {
	TxnID   txn.ID
	Mode    txn.LockMode
	OID     txn.OID
	RID     *common.RID // nil for a table-level request
	Granted bool
}

// LockRequestQueue is the per-object (table oid, or (oid, rid)) structure
// spec.md §4.4.2 names: a FIFO list of requests behind a single-writer
// latch, a condition variable woken on every state change, and an
// upgrading slot. Grounded on the teacher's lockState (locker/lock_manager.go)
// generalized from a single owners-map to the ordered request list the
// hierarchical protocol needs, and on common.Event for the latch+condvar
// pairing.
type LockRequestQueue struct {
	event     *common.Event
	requests  *list.List // of *LockRequest
	upgrading txn.ID
}

func newLockRequestQueue() *LockRequestQueue {
	return &LockRequestQueue{
		event:     common.NewEvent(),
		requests:  list.New(),
		upgrading: invalidTxnID,
	}
}

// grantedCompatibleWith reports whether mode is compatible with every
// currently granted request in the queue other than skip (used so a
// transaction upgrading or re-requesting its own lock doesn't conflict
// with itself).
func (q *LockRequestQueue) grantedCompatibleWith(mode txn.LockMode, skip txn.ID) bool {
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*LockRequest)
		if !r.Granted || r.TxnID == skip {
			continue
		}
		if !compatible(r.Mode, mode) {
			return false
		}
	}
	return true
}

// aheadUngrantedBlocks reports whether any ungranted request ahead of req
// in FIFO order would be denied if req jumped the queue — the hierarchical
// protocol grants strictly in FIFO order among requests not already
// granted, to prevent starvation of early writers by a stream of later
// compatible readers.
func (q *LockRequestQueue) aheadUngrantedBlocks(req *LockRequest) bool {
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*LockRequest)
		if r == req {
			return false
		}
		if !r.Granted {
			return true
		}
	}
	return false
}

func (q *LockRequestQueue) find(txnID txn.ID) (*list.Element, *LockRequest) {
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*LockRequest)
		if r.TxnID == txnID {
			return e, r
		}
	}
	return nil, nil
}

func (q *LockRequestQueue) remove(e *list.Element) {
	q.requests.Remove(e)
}

// empty reports whether the queue has no requests left at all (neither
// granted nor waiting) — an empty queue can be pruned from the manager's
// map.
func (q *LockRequestQueue) empty() bool {
	return q.requests.Len() == 0
}
