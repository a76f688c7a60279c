package querybus

import "sync"

// Metadata carries contextual key/value pairs alongside a query, response,
// or update. Dispatch interceptors typically enrich it before routing.
type Metadata map[string]any

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Query is the envelope routed by the bus: a name identifying the query
// type, an arbitrary payload, and the response shape the caller expects.
//
// Identity is per instance. Two queries with identical content are distinct
// for routing purposes; the subscription-query session map is keyed by the
// *Query pointer, not by content. Treat a Query as immutable once dispatched;
// use WithMetadata or AndMetadata to derive modified copies.
type Query struct {
	// Name is the string identifier of the query type. It is matched
	// against names passed to Subscribe and Register.
	Name string

	// Payload carries the request data. The bus never inspects it; typed
	// handlers registered via Register assert it to their input type and
	// decline on mismatch.
	Payload any

	// Metadata holds contextual key/value pairs.
	Metadata Metadata

	// ResponseType describes the shape the caller expects back. It selects
	// compatible handlers and converts their raw results.
	ResponseType ResponseType
}

// NewQuery creates a query envelope with empty metadata.
//
// Example:
//
//	q := querybus.NewQuery("user/by-id", UserID("42"), querybus.InstanceOf[User]())
//	resp, err := bus.Query(ctx, q)
func NewQuery(name string, payload any, responseType ResponseType) *Query {
	return &Query{
		Name:         name,
		Payload:      payload,
		Metadata:     Metadata{},
		ResponseType: responseType,
	}
}

// WithMetadata returns a copy of the query carrying exactly md, discarding
// any existing metadata. The copy is a new instance with its own identity.
func (q *Query) WithMetadata(md Metadata) *Query {
	cp := *q
	cp.Metadata = md.clone()
	return &cp
}

// AndMetadata returns a copy of the query with md merged over the existing
// metadata. Keys in md win on conflict.
func (q *Query) AndMetadata(md Metadata) *Query {
	cp := *q
	cp.Metadata = q.Metadata.clone()
	for k, v := range md {
		cp.Metadata[k] = v
	}
	return &cp
}

// Response is the result of a direct or scatter-gather dispatch. Payload has
// already been converted to the query's expected response shape.
type Response struct {
	Payload  any
	Metadata Metadata
}

// Update is one incremental result delivered on a subscription query's
// update stream.
type Update struct {
	Payload  any
	Metadata Metadata
}

// NewUpdate creates an update envelope with empty metadata.
func NewUpdate(payload any) *Update {
	return &Update{Payload: payload, Metadata: Metadata{}}
}

// Registration revokes a handler subscription or a registered interceptor.
// Cancel is idempotent and safe for concurrent use; revoking never affects
// an invocation already in flight, only future routing decisions.
type Registration struct {
	once   sync.Once
	cancel func()
}

// Cancel revokes the registration. Calling it again has no effect.
func (r *Registration) Cancel() {
	r.once.Do(r.cancel)
}
