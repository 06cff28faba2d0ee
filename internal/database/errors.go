package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookup helpers when no row matches.
var ErrNotFound = errors.New("not found")

// PersistenceError reports a batch write whose affected row count did not
// match the number of submitted rows. The enclosing transaction is rolled
// back, so none of the batch is visible.
type PersistenceError struct {
	Op        string
	Submitted int64
	Affected  int64
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: affected %d of %d rows, batch rolled back", e.Op, e.Affected, e.Submitted)
}
