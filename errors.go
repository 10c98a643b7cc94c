package querycache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("querycache: client closed")

	// ErrNoRealtime is returned when a realtime subscription is requested
	// but no ChannelFactory was configured.
	ErrNoRealtime = errors.New("querycache: no realtime channel factory configured")
)

// BulkError reports a failed insert/update chunk. Chunks before Chunk were
// applied and stay applied; there is no rollback. Applied counts the rows
// the backend returned before the failure.
type BulkError struct {
	Resource string
	Op       BulkOp
	Chunk    int // zero-based index of the failing chunk
	Applied  int
	Err      error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk %s on %q: chunk %d failed after %d rows applied: %v",
		e.Op, e.Resource, e.Chunk, e.Applied, e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }
