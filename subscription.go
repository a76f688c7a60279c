package querybus

import (
	"context"
	"sync"
)

// OverflowStrategy controls what happens when an update is emitted to an
// attached subscriber whose buffer is full.
type OverflowStrategy int

const (
	// OverflowBlock makes the emitter wait for downstream demand. Updates
	// are never dropped. This is the default.
	OverflowBlock OverflowStrategy = iota

	// OverflowError fails the delivery: the subscriber's stream is
	// terminated with a DeliveryError wrapping ErrBufferFull. Other
	// subscribers and the emitter are unaffected.
	OverflowError

	// OverflowDrop silently drops the update for that subscriber; the
	// update monitor records it as ignored.
	OverflowDrop
)

// DefaultUpdateBuffer is the update buffer size used when a Backpressure
// spec leaves Buffer unset.
const DefaultUpdateBuffer = 64

// Backpressure bounds the update channel between emitters and one
// subscription-query consumer.
type Backpressure struct {
	// Buffer is the number of updates held between emitter and consumer.
	// Zero or negative selects DefaultUpdateBuffer.
	Buffer int

	// Strategy decides what a full buffer does to a delivery.
	Strategy OverflowStrategy
}

type sessionState int

const (
	statePending sessionState = iota
	stateAttached
	stateClosed
)

type actionKind int

const (
	actionEmit actionKind = iota
	actionComplete
	actionCompleteWithError
)

// deferredAction is one emission deferred while a session is pending,
// replayed in arrival order on attachment.
type deferredAction struct {
	kind   actionKind
	update *Update
	cause  error
}

// session is the live state of one subscription query's update channel.
// It is a single state-tagged record: Pending buffers deferred actions,
// Attached owns the live channel, Closed is terminal. All transitions
// happen under mu, so a racing emit lands in exactly one of the two
// delivery paths, never both and never neither.
type session struct {
	bus   *Bus
	query *Query
	bp    Backpressure

	// done unblocks emitters waiting on a full buffer. Teardown paths
	// close it before acquiring mu; a blocked emitter holds mu, so the
	// reverse order would deadlock.
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	state  sessionState
	buffer []deferredAction
	ch     chan *Update
	err    error
}

// SubscriptionQueryResult pairs the initial result of a subscription query
// with its live update stream.
type SubscriptionQueryResult struct {
	bus   *Bus
	query *Query
	sess  *session
	cb    MonitorCallback

	initialOnce sync.Once
	initial     *Response
	initialErr  error

	attachOnce sync.Once
	updates    <-chan *Update
}

// SubscriptionQuery opens a subscription query: an initial result resolved
// like a direct dispatch, plus a stream of updates emitted afterwards via
// Emit.
//
// The pending session is installed before any initial-result work, so an
// update emitted while the initial result is still being computed is
// buffered, not lost, and is replayed once the consumer attaches.
//
// Callers must eventually call Close on the result to release the session.
func (b *Bus) SubscriptionQuery(q *Query, bp Backpressure) *SubscriptionQueryResult {
	cb := b.monitor.OnIngested(q)
	iq := b.intercept(q)
	if bp.Buffer <= 0 {
		bp.Buffer = DefaultUpdateBuffer
	}
	s := &session{
		bus:   b,
		query: iq,
		bp:    bp,
		done:  make(chan struct{}),
	}
	b.sessMu.Lock()
	b.sessions[iq] = s
	b.sessMu.Unlock()

	return &SubscriptionQueryResult{bus: b, query: iq, sess: s, cb: cb}
}

// Initial resolves the subscription query's initial result using the same
// candidate-iteration semantics as Query: declines fall through to the next
// handler, the first non-declining candidate is terminal. The result is
// computed once; later calls return the memoized outcome.
func (r *SubscriptionQueryResult) Initial(ctx context.Context) (*Response, error) {
	r.initialOnce.Do(func() {
		r.initial, r.initialErr = r.bus.dispatchFirst(ctx, r.query, r.cb)
	})
	return r.initial, r.initialErr
}

// Updates returns the update stream. The first call attaches the consumer:
// every action deferred while the session was pending is applied against
// the new stream in original arrival order, ahead of any live delivery.
// The channel closes when the session completes, fails, or is closed; call
// Err afterwards to distinguish.
func (r *SubscriptionQueryResult) Updates() <-chan *Update {
	r.attachOnce.Do(func() {
		r.updates = r.sess.attach()
	})
	return r.updates
}

// Err returns the stream's terminal error: the cause passed to
// CompleteExceptionally, or the DeliveryError that tore the stream down.
// It is nil while the stream is live and after a normal completion.
func (r *SubscriptionQueryResult) Err() error {
	r.sess.mu.Lock()
	defer r.sess.mu.Unlock()
	return r.sess.err
}

// Close detaches the consumer and discards the session. Updates emitted
// afterwards no longer match it. Close does not cancel an in-flight
// Initial computation, and is safe to call more than once.
func (r *SubscriptionQueryResult) Close() {
	r.sess.terminate(nil)
}

// Emit delivers update to every open subscription-query session whose
// originating query matches filter. Each matching session receives the
// update through exactly one path: appended to its buffer while pending,
// pushed to the live stream once attached.
//
// A failed push (OverflowError with a full buffer) terminates that one
// subscriber's stream and is never surfaced to the caller of Emit.
func (b *Bus) Emit(filter Predicate, update *Update) {
	for _, s := range b.matchingSessions(filter) {
		s.deliver(update)
	}
}

// Complete terminates the update stream of every matching session. Pending
// sessions get a deferred completion applied on attachment; attached
// sessions are completed immediately.
func (b *Bus) Complete(filter Predicate) {
	for _, s := range b.matchingSessions(filter) {
		s.finish(nil)
	}
}

// CompleteExceptionally terminates the update stream of every matching
// session with cause, following the same dual-path rules as Complete.
func (b *Bus) CompleteExceptionally(filter Predicate, cause error) {
	for _, s := range b.matchingSessions(filter) {
		s.finish(cause)
	}
}

// RequestedFromDownstream reports each matching session's outstanding
// demand: the number of updates its stream can absorb before the overflow
// strategy applies. Pending sessions report zero, their consumer having
// expressed no demand yet.
func (b *Bus) RequestedFromDownstream(filter Predicate) map[*Query]int {
	out := make(map[*Query]int)
	for _, s := range b.matchingSessions(filter) {
		out[s.query] = s.demand()
	}
	return out
}

func (b *Bus) matchingSessions(filter Predicate) []*session {
	b.sessMu.RLock()
	defer b.sessMu.RUnlock()
	var out []*session
	for q, s := range b.sessions {
		if filter(q) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) removeSession(q *Query) {
	b.sessMu.Lock()
	delete(b.sessions, q)
	b.sessMu.Unlock()
}

// deliver applies one update to the session: buffered while pending, pushed
// to the live channel once attached, dropped once closed.
func (s *session) deliver(u *Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return
	case statePending:
		s.buffer = append(s.buffer, deferredAction{kind: actionEmit, update: u})
		return
	}

	cb := s.bus.updateMonitor.OnIngested(u)
	switch s.bp.Strategy {
	case OverflowError:
		select {
		case s.ch <- u:
			cb.ReportSuccess()
		default:
			err := &DeliveryError{QueryName: s.query.Name, Err: ErrBufferFull}
			cb.ReportFailure(err)
			s.bus.logger.Error().Err(err).Str("query", s.query.Name).
				Msg("failed to emit update to subscription query")
			s.closeLocked(err)
		}
	case OverflowDrop:
		select {
		case s.ch <- u:
			cb.ReportSuccess()
		default:
			cb.ReportIgnored()
		}
	default: // OverflowBlock
		// Waiting with mu held is deliberate: it serializes emitters so
		// updates keep their order, and ch is only ever closed under mu,
		// so the send cannot race a close. Teardown closes done before
		// taking mu, which is what unblocks this wait.
		select {
		case s.ch <- u:
			cb.ReportSuccess()
		case <-s.done:
			cb.ReportIgnored()
		}
	}
}

// finish applies a terminal action through the dual-path rules: deferred
// for pending sessions, immediate for attached ones.
func (s *session) finish(cause error) {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return
	case statePending:
		kind := actionComplete
		if cause != nil {
			kind = actionCompleteWithError
		}
		s.buffer = append(s.buffer, deferredAction{kind: kind, cause: cause})
		return
	}
	s.closeLocked(cause)
}

// terminate tears the session down immediately regardless of state. Used by
// consumer-side Close.
func (s *session) terminate(cause error) {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(cause)
}

// attach performs the pending-to-attached transition and returns the live
// channel. Holding mu across the transition and the replay makes the switch
// linearizable with concurrent deliver and finish calls.
func (s *session) attach() <-chan *Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != statePending {
		if s.ch != nil {
			return s.ch
		}
		// Closed before the consumer ever attached.
		ch := make(chan *Update)
		close(ch)
		return ch
	}

	replay := 0
	for _, a := range s.buffer {
		if a.kind == actionEmit {
			replay++
		}
	}
	// Room for the full replay on top of the configured buffer, so applying
	// the deferred actions below can never block.
	s.ch = make(chan *Update, s.bp.Buffer+replay)
	s.state = stateAttached

	for _, a := range s.buffer {
		if s.applyLocked(a) {
			break
		}
	}
	s.buffer = nil
	return s.ch
}

// applyLocked applies one deferred action against the freshly attached
// channel. It reports whether the action was terminal; anything buffered
// after a terminal action is discarded.
func (s *session) applyLocked(a deferredAction) bool {
	switch a.kind {
	case actionEmit:
		cb := s.bus.updateMonitor.OnIngested(a.update)
		s.ch <- a.update
		cb.ReportSuccess()
		return false
	case actionCompleteWithError:
		s.closeLocked(a.cause)
		return true
	default:
		s.closeLocked(nil)
		return true
	}
}

// closeLocked moves the session to its terminal state: records the cause,
// closes the live channel if one exists (buffered updates stay readable),
// and removes the session from the bus.
func (s *session) closeLocked(cause error) {
	if s.state == stateClosed {
		return
	}
	s.closeOnce.Do(func() { close(s.done) })
	prev := s.state
	s.state = stateClosed
	s.err = cause
	s.buffer = nil
	if prev == stateAttached {
		close(s.ch)
	}
	s.bus.removeSession(s.query)
}

func (s *session) demand() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAttached {
		return 0
	}
	return cap(s.ch) - len(s.ch)
}
