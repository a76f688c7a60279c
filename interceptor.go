package querybus

import "context"

// DispatchInterceptor transforms a query before it is routed. It runs once
// per call regardless of dispatch pattern (direct, scatter-gather, or
// subscription query). Returning a derived copy is the usual way to attach
// metadata; returning the input unchanged is also fine.
type DispatchInterceptor func(q *Query) *Query

// HandlerInterceptor wraps one individual handler attempt. It runs once per
// candidate, inside a fresh UnitOfWork, and must call chain.Proceed to
// continue toward the handler. Use it for cross-cutting concerns such as
// transactions, logging, or authorization.
type HandlerInterceptor func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error)

// InterceptorChain advances a handler invocation past the current
// interceptor. Proceed may be called at most once per interceptor.
type InterceptorChain interface {
	Proceed(ctx context.Context) (any, error)
}

type interceptorChain struct {
	uow          *UnitOfWork
	interceptors []HandlerInterceptor
	handler      Handler
	next         int
}

func newInterceptorChain(uow *UnitOfWork, interceptors []HandlerInterceptor, handler Handler) *interceptorChain {
	return &interceptorChain{uow: uow, interceptors: interceptors, handler: handler}
}

func (c *interceptorChain) Proceed(ctx context.Context) (any, error) {
	if c.next < len(c.interceptors) {
		i := c.interceptors[c.next]
		c.next++
		return i(ctx, c.uow, c)
	}
	return c.handler.Handle(ctx, c.uow.Query)
}

// transactionInterceptor adapts a TransactionManager into a handler
// interceptor: commit when the attempt succeeds, roll back when it fails
// or declines.
func transactionInterceptor(tm TransactionManager) HandlerInterceptor {
	return func(ctx context.Context, _ *UnitOfWork, chain InterceptorChain) (any, error) {
		tx := tm.StartTransaction()
		result, err := chain.Proceed(ctx)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		tx.Commit()
		return result, nil
	}
}

// RegisterDispatchInterceptor registers an interceptor invoked once per
// dispatched query, before routing. Interceptors run in registration order;
// the returned handle revokes the registration.
func (b *Bus) RegisterDispatchInterceptor(i DispatchInterceptor) *Registration {
	entry := &dispatchEntry{fn: i}
	b.imu.Lock()
	b.dispatchInterceptors = append(b.dispatchInterceptors, entry)
	b.imu.Unlock()
	return &Registration{cancel: func() { b.removeDispatchInterceptor(entry) }}
}

// RegisterHandlerInterceptor registers an interceptor wrapping each
// individual handler attempt. It is invoked separately per candidate, each
// time in a fresh unit of work.
func (b *Bus) RegisterHandlerInterceptor(i HandlerInterceptor) *Registration {
	entry := &handlerEntry{fn: i}
	b.imu.Lock()
	b.handlerInterceptors = append(b.handlerInterceptors, entry)
	b.imu.Unlock()
	return &Registration{cancel: func() { b.removeHandlerInterceptor(entry) }}
}

type dispatchEntry struct{ fn DispatchInterceptor }

type handlerEntry struct{ fn HandlerInterceptor }

func (b *Bus) removeDispatchInterceptor(entry *dispatchEntry) {
	b.imu.Lock()
	defer b.imu.Unlock()
	for i, e := range b.dispatchInterceptors {
		if e == entry {
			b.dispatchInterceptors = append(b.dispatchInterceptors[:i], b.dispatchInterceptors[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeHandlerInterceptor(entry *handlerEntry) {
	b.imu.Lock()
	defer b.imu.Unlock()
	for i, e := range b.handlerInterceptors {
		if e == entry {
			b.handlerInterceptors = append(b.handlerInterceptors[:i], b.handlerInterceptors[i+1:]...)
			return
		}
	}
}

// intercept runs the dispatch interceptor chain over q.
func (b *Bus) intercept(q *Query) *Query {
	b.imu.RLock()
	entries := make([]*dispatchEntry, len(b.dispatchInterceptors))
	copy(entries, b.dispatchInterceptors)
	b.imu.RUnlock()

	for _, e := range entries {
		q = e.fn(q)
	}
	return q
}

// snapshotHandlerInterceptors copies the current handler interceptor list
// so an attempt sees a stable chain even while registrations change.
func (b *Bus) snapshotHandlerInterceptors() []HandlerInterceptor {
	b.imu.RLock()
	defer b.imu.RUnlock()
	out := make([]HandlerInterceptor, len(b.handlerInterceptors))
	for i, e := range b.handlerInterceptors {
		out[i] = e.fn
	}
	return out
}
