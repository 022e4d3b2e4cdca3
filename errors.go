package itemstore

import (
	"github.com/jpalmerr/itemstore/internal/queue"
	"github.com/jpalmerr/itemstore/internal/store"
)

var (
	// ErrSimulatedFailure is wrapped by every [OperationError].
	ErrSimulatedFailure = store.ErrSimulatedFailure

	// ErrDuplicateID is returned when an add would reuse an existing ID.
	ErrDuplicateID = store.ErrDuplicateID

	// ErrInvalidItem is returned for an empty item ID.
	ErrInvalidItem = store.ErrInvalidItem

	// ErrNotStarted is returned by operations called before [Store.Start].
	ErrNotStarted = queue.ErrNotStarted

	// ErrStopped is returned by operations called after [Store.Stop].
	ErrStopped = queue.ErrStopped
)

// failureMessages are the human readable messages recorded in
// [State.Error] when an operation fails.
var failureMessages = map[Op]string{
	OpLoad:    "failed to load items",
	OpRefresh: "failed to refresh items",
	OpAdd:     "failed to add item",
	OpRemove:  "failed to remove item",
	OpUpdate:  "failed to update item",
}

// OperationError reports a simulated operation failure.
//
// Its message is the same string recorded in [State.Error]. It unwraps to
// [ErrSimulatedFailure].
type OperationError struct {
	Op      Op
	Message string
}

func (e *OperationError) Error() string {
	return e.Message
}

// Unwrap returns [ErrSimulatedFailure].
func (e *OperationError) Unwrap() error {
	return ErrSimulatedFailure
}
