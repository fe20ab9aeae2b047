package bptree

import "github.com/cockroachdb/errors"

// ErrKeyNotFound is returned by Delete when the tree has no root page
// registered. An absent key is not an error: Delete returns nil and
// GetValue reports ok=false.
var ErrKeyNotFound = errors.New("bptree: key not found")

// ErrDuplicateKey is returned by Insert when the key is already present;
// this index does not support duplicate keys.
var ErrDuplicateKey = errors.New("bptree: duplicate key")

// ErrIndexNotFound names a lookup of an index that is not registered.
// Open does not return it: when no tree is registered under the given
// name, Open creates and registers an empty one.
var ErrIndexNotFound = errors.New("bptree: index not found")

// ErrCatalogFull is returned when the header page has no room left for
// another index entry.
var ErrCatalogFull = errors.New("bptree: catalog page is full")
