package querybus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// subscription pairs a handler with the response shape it declares.
type subscription struct {
	responseType ResponseType
	handler      Handler
}

// Bus routes queries to registered handlers within the process. It supports
// three interaction patterns: direct dispatch (Query), scatter-gather
// (ScatterGather), and subscription queries (SubscriptionQuery) that pair an
// initial result with a live update stream.
//
// Bus is safe for concurrent use. Handlers may be subscribed and revoked
// while dispatches are in flight; revocation affects future routing only.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription

	sessMu   sync.RWMutex
	sessions map[*Query]*session

	imu                  sync.RWMutex
	dispatchInterceptors []*dispatchEntry
	handlerInterceptors  []*handlerEntry

	monitor       MessageMonitor
	updateMonitor UpdateMonitor
	errorHandler  ErrorHandler
	txManager     TransactionManager
	logger        zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMessageMonitor sets the monitor notified of every dispatched query
// and its outcome.
func WithMessageMonitor(m MessageMonitor) Option {
	return func(b *Bus) { b.monitor = m }
}

// WithUpdateMonitor sets the monitor notified of every subscription-query
// update delivery.
func WithUpdateMonitor(m UpdateMonitor) Option {
	return func(b *Bus) { b.updateMonitor = m }
}

// WithTransactionManager wraps each handler attempt in a transaction:
// committed on success, rolled back on failure or decline.
func WithTransactionManager(tm TransactionManager) Option {
	return func(b *Bus) { b.txManager = tm }
}

// WithErrorHandler sets the policy applied to individual handler failures
// during scatter-gather. The default logs and absorbs them.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) { b.errorHandler = h }
}

// WithLogger sets the logger used for update-delivery failures and the
// default scatter-gather error handler. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a query bus.
//
// Example:
//
//	bus := querybus.New(
//	    querybus.WithLogger(logger),
//	    querybus.WithMessageMonitor(metricsMonitor),
//	    querybus.WithTransactionManager(txManager),
//	)
func New(opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]*subscription),
		sessions:      make(map[*Query]*session),
		monitor:       nopMonitor{},
		updateMonitor: nopUpdateMonitor{},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.errorHandler == nil {
		b.errorHandler = LoggingErrorHandler(b.logger)
	}
	if b.txManager != nil {
		b.RegisterHandlerInterceptor(transactionInterceptor(b.txManager))
	}
	return b
}

// Subscribe registers handler under name with its declared response shape.
// Registration order is significant: it determines direct-dispatch fallback
// order and scatter-gather iteration order.
//
// Subscribing the identical (name, shape, handler) triple again is
// idempotent: no duplicate entry is added, and cancelling either handle
// removes the single entry. Handler identity uses Go equality when the
// handler's dynamic type is comparable; non-comparable handlers always
// count as distinct.
func (b *Bus) Subscribe(name string, responseType ResponseType, handler Handler) *Registration {
	sub := &subscription{responseType: responseType, handler: handler}
	b.mu.Lock()
	duplicate := false
	for _, s := range b.subscriptions[name] {
		if sameSubscription(s, sub) {
			duplicate = true
			break
		}
	}
	if !duplicate {
		b.subscriptions[name] = append(b.subscriptions[name], sub)
	}
	b.mu.Unlock()

	return &Registration{cancel: func() { b.unsubscribe(name, sub) }}
}

func (b *Bus) unsubscribe(name string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscriptions[name]
	for i, s := range subs {
		if sameSubscription(s, sub) {
			subs = append(subs[:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(b.subscriptions, name)
			} else {
				b.subscriptions[name] = subs
			}
			return
		}
	}
}

func sameSubscription(a, b *subscription) bool {
	return sameShape(a.responseType, b.responseType) && identical(a.handler, b.handler)
}

func sameShape(a, b ResponseType) bool {
	if x, ok := a.(responseType); ok {
		y, ok := b.(responseType)
		return ok && x == y
	}
	return identical(a, b)
}

// identical compares two values by Go equality, treating values of
// non-comparable dynamic type (e.g. bare funcs) as never equal.
func identical(a, b any) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// handlersFor returns the subscriptions under q.Name whose declared shape
// is compatible with q's expected shape, in registration order.
func (b *Bus) handlersFor(q *Query) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscription
	for _, s := range b.subscriptions[q.Name] {
		if q.ResponseType.Matches(s.responseType) {
			out = append(out, s)
		}
	}
	return out
}

// Query dispatches q to a single handler and returns its converted
// response.
//
// Candidates are tried in registration order. A candidate that declines
// (ErrDeclined) triggers fallback to the next one; the first candidate that
// does not decline is terminal, whether it succeeds or fails. With no
// registered handler at all the call fails with ErrNoHandler; if every
// candidate declined, with ErrNoSuitableHandler.
//
// The bus imposes no timeout of its own; bound the call through ctx.
func (b *Bus) Query(ctx context.Context, q *Query) (*Response, error) {
	cb := b.monitor.OnIngested(q)
	return b.dispatchFirst(ctx, b.intercept(q), cb)
}

// dispatchFirst walks the candidates for q in registration order until one
// does not decline, reporting the outcome to cb exactly once.
func (b *Bus) dispatchFirst(ctx context.Context, q *Query, cb MonitorCallback) (*Response, error) {
	candidates := b.handlersFor(q)
	if len(candidates) == 0 {
		err := fmt.Errorf("%w: %s expecting %s", ErrNoHandler, q.Name, q.ResponseType)
		cb.ReportFailure(err)
		return nil, err
	}
	for _, sub := range candidates {
		resp, err := b.invoke(ctx, q, sub)
		if errors.Is(err, ErrDeclined) {
			continue
		}
		if err != nil {
			cb.ReportFailure(err)
			return nil, err
		}
		cb.ReportSuccess()
		return resp, nil
	}
	err := fmt.Errorf("%w: %s expecting %s", ErrNoSuitableHandler, q.Name, q.ResponseType)
	cb.ReportFailure(err)
	return nil, err
}

// invoke runs one handler attempt: fresh unit of work, handler interceptor
// chain, deferred-result unwrapping, then response-shape conversion.
func (b *Bus) invoke(ctx context.Context, q *Query, sub *subscription) (*Response, error) {
	uow := newUnitOfWork(q)
	chain := newInterceptorChain(uow, b.snapshotHandlerInterceptors(), sub.handler)
	raw, err := chain.Proceed(ctx)
	if err != nil {
		return nil, err
	}
	if d, ok := raw.(Deferred); ok {
		raw, err = d.Await(ctx)
		if err != nil {
			return nil, &ExecutionError{QueryName: q.Name, Err: err}
		}
	}
	converted, err := q.ResponseType.Convert(raw)
	if err != nil {
		return nil, err
	}
	return &Response{Payload: converted, Metadata: Metadata{}}, nil
}

// ScatterGather dispatches q to every matching handler under one shared
// deadline of now + timeout, fixed when ScatterGather is called.
//
// The returned sequence is lazy and yields only successful responses, in
// handler registration order; iterate it at most once. Handlers are
// evaluated as the sequence is consumed: a handler whose remaining time has
// run out is not invoked and counts as a timeout. Failures, declines, and
// timeouts contribute nothing to the sequence; each is reported to the
// monitor and passed to the bus's ErrorHandler, which may escalate by
// returning an error. Escalation is the only way a scatter-gather failure
// terminates the sequence, surfaced as a (nil, err) element.
//
// With no matching handlers the monitor records a single ignored message
// and the sequence is empty.
func (b *Bus) ScatterGather(ctx context.Context, q *Query, timeout time.Duration) iter.Seq2[*Response, error] {
	cb := b.monitor.OnIngested(q)
	iq := b.intercept(q)
	candidates := b.handlersFor(iq)
	deadline := time.Now().Add(timeout)

	if len(candidates) == 0 {
		cb.ReportIgnored()
		return func(yield func(*Response, error) bool) {}
	}

	return func(yield func(*Response, error) bool) {
		for _, sub := range candidates {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				err := fmt.Errorf("querybus: deadline exhausted before handler for %s: %w",
					iq.Name, context.DeadlineExceeded)
				cb.ReportFailure(err)
				if esc := b.errorHandler.OnError(err, iq, sub.handler); esc != nil {
					yield(nil, esc)
					return
				}
				continue
			}
			resp, err := b.invokeWithTimeout(ctx, iq, sub, remaining)
			if err != nil {
				cb.ReportFailure(err)
				if esc := b.errorHandler.OnError(err, iq, sub.handler); esc != nil {
					yield(nil, esc)
					return
				}
				continue
			}
			cb.ReportSuccess()
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// invokeWithTimeout bounds one handler attempt by limit. The attempt runs
// on its own goroutine with a deadline-carrying context so an overrunning
// handler can observe cancellation and stop.
func (b *Bus) invokeWithTimeout(ctx context.Context, q *Query, sub *subscription, limit time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type attempt struct {
		resp *Response
		err  error
	}
	done := make(chan attempt, 1)
	go func() {
		resp, err := b.invoke(ctx, q, sub)
		done <- attempt{resp: resp, err: err}
	}()
	select {
	case a := <-done:
		return a.resp, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
