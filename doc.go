// Package querybus routes typed query messages to registered handlers
// within a single process.
//
// The bus supports three interaction patterns: direct dispatch (one query,
// one response), scatter-gather (every matching handler under one shared
// deadline, successes collected), and subscription queries (an initial
// result plus a live stream of incremental updates).
//
// # Quick Start
//
// Register a typed handler and dispatch a query:
//
//	bus := querybus.New()
//
//	querybus.Register(bus, "user/by-id", func(ctx context.Context, id UserID) (User, error) {
//	    return repo.Find(ctx, id)
//	})
//
//	q := querybus.NewQuery("user/by-id", UserID("42"), querybus.InstanceOf[User]())
//	resp, err := bus.Query(ctx, q)
//
// # Response Shapes
//
// Every query declares the shape it expects back: InstanceOf[T] (exactly
// one), OptionalInstanceOf[T] (zero or one), or MultipleInstancesOf[T] (a
// slice). Shapes do double duty: they filter candidate handlers during
// routing (a list query only routes to handlers declaring a list of a
// compatible element type), and they convert the raw handler result into
// what the caller asked for.
//
// # Fallback and Declining
//
// Several handlers may subscribe under the same query name. Direct
// dispatch tries them in registration order. A handler that cannot answer
// a particular query instance returns an error wrapping ErrDeclined, and
// the bus moves on to the next candidate; handlers registered through
// Register decline automatically when the payload is not their input type.
// The first handler that does not decline settles the call, whether it
// succeeds or fails; genuine failures are never retried against other
// candidates.
//
// A query with no registered handler at all fails with ErrNoHandler; one
// where every candidate declined fails with ErrNoSuitableHandler.
//
// # Scatter-Gather
//
// ScatterGather invokes every matching handler exactly once under a shared
// wall-clock deadline and yields the successes lazily, in registration
// order:
//
//	for resp, err := range bus.ScatterGather(ctx, q, 2*time.Second) {
//	    if err != nil {
//	        return err // an ErrorHandler escalated
//	    }
//	    use(resp)
//	}
//
// Individual failures and timeouts are absorbed by default (logged through
// the configured zerolog logger); install an ErrorHandler with
// WithErrorHandler to escalate them.
//
// # Subscription Queries
//
// A subscription query pairs an initial result with a stream of updates
// emitted later by other parts of the application:
//
//	result := bus.SubscriptionQuery(q, querybus.Backpressure{Buffer: 16})
//	defer result.Close()
//
//	initial, err := result.Initial(ctx)
//	for update := range result.Updates() {
//	    apply(update)
//	}
//	err = result.Err() // terminal stream error, if any
//
// Emissions are matched to open sessions by predicate:
//
//	bus.Emit(querybus.MatchQueryName("user/watch"), querybus.NewUpdate(changed))
//	bus.Complete(querybus.MatchQuery(q))
//
// Updates emitted before the consumer attaches, including while the
// initial result is still being computed, are buffered and replayed in
// order on attachment, so a matching session sees every update exactly
// once. Backpressure bounds the in-flight buffer; the overflow strategy
// decides whether a slow consumer blocks the emitter, loses updates, or
// has its stream failed.
//
// # Interceptors
//
// Dispatch interceptors transform a query once per call before routing,
// typically to attach metadata. Handler interceptors wrap each individual
// handler attempt in its own unit of work; a TransactionManager configured
// with WithTransactionManager is installed as one, committing on success
// and rolling back on failure or decline.
//
//	bus.RegisterDispatchInterceptor(func(q *querybus.Query) *querybus.Query {
//	    return q.AndMetadata(querybus.Metadata{"traceID": trace.ID()})
//	})
//
// # Monitoring
//
// A MessageMonitor observes every dispatched query: one ingestion
// notification, then exactly one success, failure, or ignored report per
// call. An UpdateMonitor does the same per update delivery. Both default
// to no-ops, keeping the bus decoupled from any metrics system.
//
// # Caching
//
// NewCache wraps a bus with a read-through LRU response cache for
// read-heavy direct queries; entries expire after a TTL and errors are
// never cached.
//
// # Thread Safety
//
// All bus operations are safe for concurrent use. Handlers and
// interceptors may be registered and revoked while dispatches are in
// flight; revocation affects future routing only, never an invocation
// already underway.
package querybus
