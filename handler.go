package querybus

import (
	"context"
	"fmt"
)

// Handler answers queries routed by the bus.
//
// Returning an error wrapping ErrDeclined tells the bus this handler cannot
// answer this particular query instance; direct dispatch then falls back to
// the next candidate in registration order. Any other error is a genuine
// failure and becomes the call's terminal result.
//
// A handler may return a Deferred to answer asynchronously; the bus awaits
// it before converting the result to the query's expected shape.
type Handler interface {
	Handle(ctx context.Context, q *Query) (any, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, q *Query) (any, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, q *Query) (any, error) {
	return f(ctx, q)
}

// Deferred is a handler result that completes asynchronously. When a
// handler returns a Deferred, the bus awaits it and applies response-shape
// conversion to the eventual value rather than to the wrapper. An Await
// failure surfaces as an ExecutionError.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// DeferredFunc is a function adapter for Deferred.
type DeferredFunc func(ctx context.Context) (any, error)

// Await implements the Deferred interface.
func (f DeferredFunc) Await(ctx context.Context) (any, error) { return f(ctx) }

// Register subscribes a typed handler function under name, declaring a
// single-instance response shape of R. The handler declines queries whose
// payload is not a Q, which makes registering several payload types under
// one query name work naturally with direct dispatch fallback.
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the
// receiver.
//
// Example:
//
//	querybus.Register(bus, "user/by-id", func(ctx context.Context, id UserID) (User, error) {
//	    return repo.Find(ctx, id)
//	})
func Register[Q, R any](b *Bus, name string, fn func(ctx context.Context, payload Q) (R, error)) *Registration {
	return b.Subscribe(name, InstanceOf[R](), &typedHandler[Q, R]{fn: fn})
}

// RegisterMany subscribes a typed handler function returning a slice of R,
// declaring a multiple-instances response shape. Only queries expecting
// MultipleInstancesOf a compatible element type route to it.
func RegisterMany[Q, R any](b *Bus, name string, fn func(ctx context.Context, payload Q) ([]R, error)) *Registration {
	return b.Subscribe(name, MultipleInstancesOf[R](), &typedManyHandler[Q, R]{fn: fn})
}

type typedHandler[Q, R any] struct {
	fn func(ctx context.Context, payload Q) (R, error)
}

func (h *typedHandler[Q, R]) Handle(ctx context.Context, q *Query) (any, error) {
	payload, ok := q.Payload.(Q)
	if !ok {
		return nil, fmt.Errorf("payload %T: %w", q.Payload, ErrDeclined)
	}
	return h.fn(ctx, payload)
}

type typedManyHandler[Q, R any] struct {
	fn func(ctx context.Context, payload Q) ([]R, error)
}

func (h *typedManyHandler[Q, R]) Handle(ctx context.Context, q *Query) (any, error) {
	payload, ok := q.Payload.(Q)
	if !ok {
		return nil, fmt.Errorf("payload %T: %w", q.Payload, ErrDeclined)
	}
	return h.fn(ctx, payload)
}
