package querybus

import (
	"errors"
	"fmt"
)

// ErrNoHandler is returned when no subscription exists at all for the
// query's name and response shape.
var ErrNoHandler = errors.New("querybus: no handler registered for query")

// ErrNoSuitableHandler is returned when subscriptions exist but every
// candidate declined this specific query instance.
var ErrNoSuitableHandler = errors.New("querybus: no suitable handler for query")

// ErrDeclined signals that a handler cannot answer this particular query
// instance, as opposed to failing while answering it. Handlers return it
// (optionally wrapped) to make the bus fall back to the next candidate in
// registration order. It is absorbed by the bus and never surfaced to the
// caller of Query.
var ErrDeclined = errors.New("querybus: handler declined query")

// ErrBufferFull reports that an attached subscriber's update buffer was
// full under the OverflowError strategy.
var ErrBufferFull = errors.New("querybus: update buffer full")

// ExecutionError wraps a failure raised while resolving a handler's
// deferred result.
type ExecutionError struct {
	QueryName string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("querybus: executing %q: %v", e.QueryName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// DeliveryError reports a failure while pushing an update to one attached
// subscriber. It terminates that subscriber's stream only; it is never
// propagated back to the caller of Emit.
type DeliveryError struct {
	QueryName string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("querybus: delivering update for %q: %v", e.QueryName, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
