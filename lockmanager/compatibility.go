package lockmanager

import "github.com/thetarby/crabdb/txn"

// compatible implements spec.md §4.4.1's grant x request matrix: whether a
// lock already held in mode held can coexist with a concurrent request in
// mode requested. Indexed by txn.LockMode's iota order (IS, IX, S, SIX, X).
func compatible(held, requested txn.LockMode) bool {
	return compatibilityMatrix[held][requested]
}

var compatibilityMatrix = map[txn.LockMode][5]bool{
	// columns: IS, IX, S, SIX, X
	txn.LockIntentionShared:          {true, true, true, true, false},
	txn.LockIntentionExclusive:       {true, true, false, false, false},
	txn.LockShared:                   {true, false, true, false, false},
	txn.LockSharedIntentionExclusive: {true, false, false, false, false},
	txn.LockExclusive:                {false, false, false, false, false},
}

// legalUpgrades lists, for each currently-held mode, the modes it may be
// upgraded to in place (spec.md §4.4.2).
var legalUpgrades = map[txn.LockMode]map[txn.LockMode]bool{
	txn.LockIntentionShared: {
		txn.LockShared: true, txn.LockExclusive: true,
		txn.LockIntentionExclusive: true, txn.LockSharedIntentionExclusive: true,
	},
	txn.LockShared: {
		txn.LockExclusive: true, txn.LockSharedIntentionExclusive: true,
	},
	txn.LockIntentionExclusive: {
		txn.LockExclusive: true, txn.LockSharedIntentionExclusive: true,
	},
	txn.LockSharedIntentionExclusive: {
		txn.LockExclusive: true,
	},
}

func isLegalUpgrade(from, to txn.LockMode) bool {
	if from == to {
		return true
	}
	return legalUpgrades[from][to]
}
