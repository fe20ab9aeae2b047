package lockmanager

import (
	"sort"
	"time"

	"github.com/thetarby/crabdb/common"
	"github.com/thetarby/crabdb/txn"
)

// runCycleDetection is the background loop spec.md §4.4.4 describes:
// periodically build the wait-for graph and break any cycle found.
// Grounded on the teacher's deadlockDetectorRoutine (locker/lock_manager.go),
// generalized from its single owners-map scan to table+row queues and a
// deterministic (sorted) DFS instead of Go's randomized map iteration.
func (lm *LockManager) runCycleDetection() {
	defer close(lm.stopped)

	interval := lm.detectInterval
	if interval <= 0 {
		interval = common.DefaultCycleDetectionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stop:
			return
		case <-ticker.C:
			lm.runDetectionPass()
		}
	}
}

// runDetectionPass keeps breaking cycles until the wait-for graph is
// acyclic, matching spec.md §4.4.4 step 3 ("re-run until no cycle
// remains").
func (lm *LockManager) runDetectionPass() {
	for {
		graph := lm.buildWaitForGraph()
		victim, ok := findCycleVictim(graph)
		if !ok {
			return
		}

		t, ok := lm.txns.Get(victim)
		if !ok {
			return
		}
		t.SetState(txn.Aborted)
		if lm.metrics.DeadlocksDetected != nil {
			lm.metrics.DeadlocksDetected.Inc()
		}
		lm.broadcastAll()
	}
}

func (lm *LockManager) snapshotQueues() []*LockRequestQueue {
	lm.tableMu.Lock()
	qs := make([]*LockRequestQueue, 0, len(lm.tableQueues)+len(lm.rowQueues))
	for _, q := range lm.tableQueues {
		qs = append(qs, q)
	}
	lm.tableMu.Unlock()

	lm.rowMu.Lock()
	for _, q := range lm.rowQueues {
		qs = append(qs, q)
	}
	lm.rowMu.Unlock()

	return qs
}

// buildWaitForGraph scans every queue and adds an edge from each ungranted
// requester to every transaction currently granted an incompatible mode in
// that same queue (spec.md §4.4.4 step 1). Neighbor lists are returned
// sorted ascending so traversal is deterministic.
func (lm *LockManager) buildWaitForGraph() map[txn.ID][]txn.ID {
	edges := make(map[txn.ID]map[txn.ID]struct{})
	addEdge := func(from, to txn.ID) {
		if from == to {
			return
		}
		if edges[from] == nil {
			edges[from] = make(map[txn.ID]struct{})
		}
		edges[from][to] = struct{}{}
	}

	for _, q := range lm.snapshotQueues() {
		q.event.Lock()
		for e := q.requests.Front(); e != nil; e = e.Next() {
			waiter := e.Value.(*LockRequest)
			if waiter.Granted {
				continue
			}
			for g := q.requests.Front(); g != nil; g = g.Next() {
				holder := g.Value.(*LockRequest)
				if holder.Granted && !compatible(holder.Mode, waiter.Mode) {
					addEdge(waiter.TxnID, holder.TxnID)
				}
			}
		}
		q.event.Unlock()
	}

	graph := make(map[txn.ID][]txn.ID, len(edges))
	for from, tos := range edges {
		list := make([]txn.ID, 0, len(tos))
		for to := range tos {
			list = append(list, to)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		graph[from] = list
	}
	return graph
}

// findCycleVictim runs DFS from every node in ascending txn_id order,
// visiting neighbors in ascending order, so the first cycle found is
// reproducible (spec.md §4.4.4 step 2). The youngest (highest) txn_id on
// the discovered cycle is returned as the victim.
func findCycleVictim(graph map[txn.ID][]txn.ID) (txn.ID, bool) {
	const (
		white = iota
		gray
		black
	)

	nodes := make([]txn.ID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	color := make(map[txn.ID]int, len(nodes))
	var stack []txn.ID
	var cycle []txn.ID

	var dfs func(n txn.ID) bool
	dfs = func(n txn.ID) bool {
		color[n] = gray
		stack = append(stack, n)

		for _, next := range graph[n] {
			switch color[next] {
			case white:
				if dfs(next) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == next {
						cycle = append([]txn.ID{}, stack[i:]...)
						break
					}
				}
				return true
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white && dfs(n) {
			victim := cycle[0]
			for _, c := range cycle {
				if c > victim {
					victim = c
				}
			}
			return victim, true
		}
	}
	return 0, false
}

// broadcastAll wakes every blocked waiter so it can notice its transaction
// was aborted by the detector.
func (lm *LockManager) broadcastAll() {
	for _, q := range lm.snapshotQueues() {
		q.event.Lock()
		q.event.Broadcast()
		q.event.Unlock()
	}
}
