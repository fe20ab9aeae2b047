package common

import "fmt"

// RID identifies a tuple's slot within a page: the record id the B+Tree
// leaf values and the lock manager's row locks are keyed by.
type RID struct {
	PageID int64
	Slot   uint32
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.Slot)
}
