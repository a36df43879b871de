package pipeline

import "errors"

// Run-fatal conditions. Any of these aborts the current feed run; the
// feed status moves to an error code but the service keeps serving.
var (
	ErrLockUnavailable = errors.New("process lock unavailable")
	ErrNotOwner        = errors.New("caller does not own the process lock")
	ErrLockLost        = errors.New("process lock lost mid-run")
	ErrMissingMeta     = errors.New("run metadata missing")
	ErrQueueEmpty      = errors.New("batch queue empty")
)
