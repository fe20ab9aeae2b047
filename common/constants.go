package common

import "time"

// DefaultCycleDetectionInterval is how often the lock manager's background
// worker rebuilds the wait-for graph and looks for cycles.
const DefaultCycleDetectionInterval = 50 * time.Millisecond
