package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	dataextract "github.com/ConvoSphere/DataExtract"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() }) //nolint:errcheck // test cleanup

	return New(client), mr
}

func TestSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected %q, got %q", "v", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, dataextract.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestGet_TTLExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, dataextract.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after TTL, got %v", err)
	}
}

func TestIncrement(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	// The window TTL is applied once, on creation.
	mr.FastForward(2 * time.Minute)
	got, err := s.Increment(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("counter should reset after window expiry, got %d", got)
	}
}

func TestCompareAndSwap_Swap(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("a"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err := s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("CAS a->b should succeed, ok=%v err=%v", ok, err)
	}

	ok, err = s.CompareAndSwap(ctx, "k", []byte("a"), []byte("c"), 0)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Fatal("CAS with stale expected value should fail")
	}
}

func TestCompareAndSwap_SetIfAbsent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CompareAndSwap(ctx, "computing:fp", nil, []byte("owner-1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim should succeed, ok=%v err=%v", ok, err)
	}

	ok, err = s.CompareAndSwap(ctx, "computing:fp", nil, []byte("owner-2"), time.Minute)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Fatal("second claim should fail while the marker is held")
	}

	// Marker expiry releases the claim (crashed owner).
	mr.FastForward(2 * time.Minute)
	ok, err = s.CompareAndSwap(ctx, "computing:fp", nil, []byte("owner-2"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim after marker expiry should succeed, ok=%v err=%v", ok, err)
	}
}

func TestCompareAndSwap_ConditionalDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "computing:fp", []byte("owner-1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err := s.CompareAndSwap(ctx, "computing:fp", []byte("other"), nil, 0)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Fatal("delete with wrong owner should fail")
	}

	ok, err = s.CompareAndSwap(ctx, "computing:fp", []byte("owner-1"), nil, 0)
	if err != nil || !ok {
		t.Fatalf("delete with matching owner should succeed, ok=%v err=%v", ok, err)
	}
}

func TestKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"job:1", "job:2", "cache:a"} {
		if err := s.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	keys, err := s.Keys(ctx, "job:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 job keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "job:1" && k != "job:2" {
			t.Fatalf("unexpected key %q (prefix not stripped?)", k)
		}
	}
}

func TestStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() }) //nolint:errcheck // test cleanup
	s := New(client)

	mr.Close()

	ctx := context.Background()
	if _, getErr := s.Get(ctx, "k"); !errors.Is(getErr, dataextract.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", getErr)
	}
	if setErr := s.Set(ctx, "k", []byte("v"), 0); !errors.Is(setErr, dataextract.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", setErr)
	}
	if _, incrErr := s.Increment(ctx, "c", 0); !errors.Is(incrErr, dataextract.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", incrErr)
	}
}

func TestPubSub(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "jobs")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := s.Publish(ctx, "jobs", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg) != "hello" {
			t.Fatalf("expected %q, got %q", "hello", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
