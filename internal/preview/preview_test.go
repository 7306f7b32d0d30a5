package preview

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/logging"
)

func TestAcquireAndReleaseHandle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	handle, err := Acquire(ctx, store, Payload{Name: "cane1.jpg", MIMEType: "image/jpeg", Data: []byte("x")}, time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !strings.HasPrefix(handle.URL, PathPrefix) || !strings.HasSuffix(handle.URL, handle.ID) {
		t.Fatalf("unexpected url %q for id %q", handle.URL, handle.ID)
	}
	got, err := store.Get(ctx, handle.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.MIMEType != "image/jpeg" || string(got.Data) != "x" {
		t.Fatalf("unexpected payload %+v", got)
	}

	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := handle.Release(ctx); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if !handle.Released() {
		t.Fatal("expected handle to report released")
	}
	if store.Len() != 0 {
		t.Fatalf("expected store to be empty, got %d", store.Len())
	}
	if _, err := store.Get(ctx, handle.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestNilHandleReleaseIsNoop(t *testing.T) {
	var handle *Handle
	if err := handle.Release(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Put(context.Background(), "a", Payload{Data: []byte("x")}, time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired entry, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, got %d", store.Len())
	}
}

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRedisStore() *RedisStore {
	return &RedisStore{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	store := newTestRedisStore()

	attempts := 0
	err := store.withRetry(context.Background(), "id-1", "preview.put", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	store := newTestRedisStore()

	attempts := 0
	err := store.withRetry(context.Background(), "id-2", "preview.delete", func() error {
		attempts++
		return errors.New("boom")
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "preview.delete" || opErr.RequestID != "id-2" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestWithRetryPassesRedisNilThrough(t *testing.T) {
	store := newTestRedisStore()

	attempts := 0
	err := store.withRetry(context.Background(), "id-3", "preview.get", func() error {
		attempts++
		return redis.Nil
	})
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRedisStoreReportsUnreachableServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	store := NewRedisStore(client, zap.NewNop())
	store.initialBackoff = time.Millisecond
	err = store.Put(context.Background(), "id-4", Payload{Data: []byte("x")}, time.Minute)
	if err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "preview.put" {
		t.Fatalf("expected preview.put OperationError, got %v", err)
	}
}
