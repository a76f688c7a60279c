package querybus

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordingTxManager tracks transaction lifecycles across attempts.
type recordingTxManager struct {
	mu       sync.Mutex
	started  int
	commits  int
	rollback int
}

func (m *recordingTxManager) StartTransaction() Transaction {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
	return &recordingTx{m: m}
}

type recordingTx struct {
	m *recordingTxManager
}

func (t *recordingTx) Commit() {
	t.m.mu.Lock()
	t.m.commits++
	t.m.mu.Unlock()
}

func (t *recordingTx) Rollback() {
	t.m.mu.Lock()
	t.m.rollback++
	t.m.mu.Unlock()
}

func TestDispatchInterceptors(t *testing.T) {
	ctx := context.Background()

	t.Run("transform the query before routing", func(t *testing.T) {
		bus := New()
		bus.RegisterDispatchInterceptor(func(q *Query) *Query {
			return q.AndMetadata(Metadata{"traceID": "t-1"})
		})

		var seen Metadata
		bus.Subscribe("Q", InstanceOf[string](), HandlerFunc(func(ctx context.Context, q *Query) (any, error) {
			seen = q.Metadata
			return "ok", nil
		}))

		if _, err := bus.Query(ctx, NewQuery("Q", nil, InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen["traceID"] != "t-1" {
			t.Errorf("metadata = %v, want traceID t-1", seen)
		}
	})

	t.Run("run once per call even with multiple candidates", func(t *testing.T) {
		bus := New()
		calls := 0
		bus.RegisterDispatchInterceptor(func(q *Query) *Query {
			calls++
			return q
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "", decline()
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		if _, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("dispatch interceptor ran %d times, want 1", calls)
		}
	})

	t.Run("revocation stops future interception", func(t *testing.T) {
		bus := New()
		calls := 0
		reg := bus.RegisterDispatchInterceptor(func(q *Query) *Query {
			calls++
			return q
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		_, _ = bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]()))
		reg.Cancel()
		_, _ = bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]()))

		if calls != 1 {
			t.Errorf("interceptor ran %d times, want 1", calls)
		}
	})
}

func TestHandlerInterceptors(t *testing.T) {
	ctx := context.Background()

	t.Run("wrap each individual handler attempt", func(t *testing.T) {
		bus := New()
		attempts := 0
		bus.RegisterHandlerInterceptor(func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error) {
			attempts++
			return chain.Proceed(ctx)
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "", decline()
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		if _, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("handler interceptor ran %d times, want 2 (once per attempt)", attempts)
		}
	})

	t.Run("run in registration order", func(t *testing.T) {
		bus := New()
		var order []string
		bus.RegisterHandlerInterceptor(func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error) {
			order = append(order, "outer")
			return chain.Proceed(ctx)
		})
		bus.RegisterHandlerInterceptor(func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error) {
			order = append(order, "inner")
			return chain.Proceed(ctx)
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		if _, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
			t.Errorf("order = %v, want [outer inner]", order)
		}
	})

	t.Run("can short-circuit the handler", func(t *testing.T) {
		bus := New()
		wantErr := errors.New("unauthorized")
		bus.RegisterHandlerInterceptor(func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error) {
			return nil, wantErr
		})
		h := &countingHandler{result: "never"}
		bus.Subscribe("Q", InstanceOf[string](), h)

		_, err := bus.Query(ctx, NewQuery("Q", nil, InstanceOf[string]()))
		if !errors.Is(err, wantErr) {
			t.Fatalf("error = %v, want %v", err, wantErr)
		}
		if h.callCount() != 0 {
			t.Errorf("handler invoked %d times past a short-circuiting interceptor, want 0", h.callCount())
		}
	})

	t.Run("unit of work resources stay within one attempt", func(t *testing.T) {
		bus := New()
		var second any
		bus.RegisterHandlerInterceptor(func(ctx context.Context, uow *UnitOfWork, chain InterceptorChain) (any, error) {
			if v, ok := uow.Resource("marker"); ok {
				second = v
			}
			uow.SetResource("marker", "set")
			return chain.Proceed(ctx)
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "", decline()
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		if _, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if second != nil {
			t.Errorf("resource leaked across attempts: %v", second)
		}
	})
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("commit on success", func(t *testing.T) {
		tm := &recordingTxManager{}
		bus := New(WithTransactionManager(tm))
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "ok", nil
		})

		if _, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tm.started != 1 || tm.commits != 1 || tm.rollback != 0 {
			t.Errorf("tx = %d started, %d commits, %d rollbacks; want 1, 1, 0",
				tm.started, tm.commits, tm.rollback)
		}
	})

	t.Run("rollback on failure and decline", func(t *testing.T) {
		tm := &recordingTxManager{}
		bus := New(WithTransactionManager(tm))
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "", decline()
		})
		Register(bus, "Q", func(ctx context.Context, _ string) (string, error) {
			return "", errors.New("boom")
		})

		_, err := bus.Query(ctx, NewQuery("Q", "x", InstanceOf[string]()))
		if err == nil {
			t.Fatal("expected error")
		}
		// One fresh transaction per attempt: the decline and the failure
		// each roll back.
		if tm.started != 2 || tm.commits != 0 || tm.rollback != 2 {
			t.Errorf("tx = %d started, %d commits, %d rollbacks; want 2, 0, 2",
				tm.started, tm.commits, tm.rollback)
		}
	})
}
