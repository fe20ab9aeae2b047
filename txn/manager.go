package txn

import (
	"sync"
	"sync/atomic"
)

// Manager allocates transaction ids and tracks running transactions so the
// lock manager's deadlock detector can look a txn_id back up to abort it.
// Grounded on the teacher's noOpTxnCounter idiom (transaction/transaction.go),
// generalized from a bare atomic counter into a counter plus a registry.
// Concurrent access from a transaction's own goroutine and the deadlock
// detector is serialized by Transaction.mu itself (see SetState etc.);
// Manager's own latch only protects the registry map.
type Manager struct {
	mu       sync.RWMutex
	running  map[ID]*Transaction
	nextID   int64
}

func NewManager() *Manager {
	return &Manager{running: make(map[ID]*Transaction)}
}

// Begin allocates a new transaction id and registers it as running.
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	id := ID(atomic.AddInt64(&m.nextID, 1))
	t := New(id, isolation)

	m.mu.Lock()
	m.running[id] = t
	m.mu.Unlock()
	return t
}

// Get looks up a running transaction by id. ok is false once the
// transaction has been removed via Forget.
func (m *Manager) Get(id ID) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.running[id]
	return t, ok
}

// RunningIDs returns the ids of every registered transaction. The deadlock
// detector does not use it: it builds its wait-for graph from the lock
// request queues.
func (m *Manager) RunningIDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ID, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// Forget removes a committed or aborted transaction from the registry.
func (m *Manager) Forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}
