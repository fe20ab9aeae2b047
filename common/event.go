package common

import "sync"

// Event bundles a mutex and the condition variable guarded by it. Lock/
// Unlock expose the mutex itself so a caller can use an Event as both its
// single-writer latch and its wake-up signal — e.g. the lock manager's
// per-object request queue (lockmanager.LockRequestQueue) locks an Event
// to mutate its FIFO list, then calls Wait to block a requester under that
// same lock, exactly as sync.Cond requires.
type Event struct {
	mu *sync.Mutex
	c  *sync.Cond
}

func (e *Event) Lock()   { e.mu.Lock() }
func (e *Event) Unlock() { e.mu.Unlock() }

// Wait blocks on the condition variable. Caller must hold the Event
// locked; Wait atomically releases it for the duration of the wait.
func (e *Event) Wait() {
	e.c.Wait()
}

func (e *Event) Broadcast() {
	e.c.Broadcast()
}

func NewEvent() *Event {
	m := &sync.Mutex{}
	return &Event{
		mu: m,
		c:  sync.NewCond(m),
	}
}
