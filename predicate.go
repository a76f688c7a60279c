package querybus

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Predicate selects subscription-query sessions by their originating query.
// The emission API (Emit, Complete, CompleteExceptionally,
// RequestedFromDownstream) applies a predicate to every open session's
// intercepted query message.
type Predicate func(q *Query) bool

// MatchAll matches every open session.
func MatchAll() Predicate {
	return func(*Query) bool { return true }
}

// MatchQueryName matches sessions whose query carries the given name.
func MatchQueryName(name string) Predicate {
	return func(q *Query) bool { return q.Name == name }
}

// MatchQuery matches exactly one session: the one opened by this query
// instance. Queries have per-instance identity, so this compares pointers.
func MatchQuery(query *Query) Predicate {
	return func(q *Query) bool { return q == query }
}

// And matches when all predicates match.
func And(ps ...Predicate) Predicate {
	return func(q *Query) bool {
		for _, p := range ps {
			if !p(q) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches.
func Or(ps ...Predicate) Predicate {
	return func(q *Query) bool {
		for _, p := range ps {
			if p(q) {
				return true
			}
		}
		return false
	}
}

// payloadJSON returns the query payload as raw JSON when it already is raw
// JSON. Structured payloads are not marshaled here; payload predicates only
// apply to queries carrying JSON.
func payloadJSON(q *Query) ([]byte, bool) {
	switch p := q.Payload.(type) {
	case json.RawMessage:
		return p, true
	case []byte:
		return p, true
	case string:
		return []byte(p), true
	}
	return nil, false
}

// PayloadHasFields matches sessions whose JSON payload contains every path.
// Paths use gjson syntax (e.g. "user.id"). Queries without a JSON payload
// never match.
func PayloadHasFields(paths ...string) Predicate {
	return func(q *Query) bool {
		raw, ok := payloadJSON(q)
		if !ok || !gjson.ValidBytes(raw) {
			return false
		}
		for _, p := range paths {
			if !gjson.GetBytes(raw, p).Exists() {
				return false
			}
		}
		return true
	}
}

// PayloadFieldEquals matches sessions whose JSON payload has the given
// string value at path.
func PayloadFieldEquals(path, value string) Predicate {
	return func(q *Query) bool {
		raw, ok := payloadJSON(q)
		if !ok || !gjson.ValidBytes(raw) {
			return false
		}
		r := gjson.GetBytes(raw, path)
		return r.Exists() && r.Type == gjson.String && r.Str == value
	}
}
