package common

// IntKey is the fixed-width integer key type the B+Tree orders entries by,
// compared directly with Go's built-in operators throughout bptree.
type IntKey int64
