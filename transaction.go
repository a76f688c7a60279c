package querybus

// TransactionManager opens the transactional scope wrapping a single
// handler attempt. A fresh transaction is started per attempt and never
// shared across candidates or calls.
//
// Configure one with WithTransactionManager; the bus installs it as a
// handler interceptor that commits on success and rolls back on failure
// or decline.
type TransactionManager interface {
	StartTransaction() Transaction
}

// Transaction is one open transactional scope.
type Transaction interface {
	Commit()
	Rollback()
}

// NoTransaction returns a TransactionManager whose transactions do nothing.
func NoTransaction() TransactionManager { return noTransactionManager{} }

type noTransactionManager struct{}

func (noTransactionManager) StartTransaction() Transaction { return noTransaction{} }

type noTransaction struct{}

func (noTransaction) Commit()   {}
func (noTransaction) Rollback() {}

// UnitOfWork is the per-attempt invocation scope handed to handler
// interceptors. Each candidate handler attempt gets a fresh unit; state
// stashed in it is never visible to other attempts.
type UnitOfWork struct {
	// Query is the intercepted query being handled in this attempt.
	Query *Query

	resources map[string]any
}

func newUnitOfWork(q *Query) *UnitOfWork {
	return &UnitOfWork{Query: q}
}

// SetResource stashes a value on this attempt's scope, typically by an
// interceptor for a later interceptor to pick up.
func (u *UnitOfWork) SetResource(key string, value any) {
	if u.resources == nil {
		u.resources = make(map[string]any)
	}
	u.resources[key] = value
}

// Resource returns a value stashed with SetResource.
func (u *UnitOfWork) Resource(key string) (any, bool) {
	v, ok := u.resources[key]
	return v, ok
}
