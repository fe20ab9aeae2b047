package txn

// LockMode is one of the five lock granularities of spec.md §4.4.1. It
// lives in package txn (not lockmanager) so Transaction's lock sets can
// name it without an import cycle back to the lock manager.
type LockMode int

const (
	LockIntentionShared LockMode = iota
	LockIntentionExclusive
	LockShared
	LockSharedIntentionExclusive
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockIntentionShared:
		return "IS"
	case LockIntentionExclusive:
		return "IX"
	case LockShared:
		return "S"
	case LockSharedIntentionExclusive:
		return "SIX"
	case LockExclusive:
		return "X"
	default:
		return "UNKNOWN_LOCK_MODE"
	}
}

var allLockModes = [...]LockMode{
	LockIntentionShared,
	LockIntentionExclusive,
	LockShared,
	LockSharedIntentionExclusive,
	LockExclusive,
}
