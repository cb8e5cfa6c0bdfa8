package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/store"
	"github.com/ConvoSphere/DataExtract/store/memory"
)

func TestAllow_WithinBudget(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	l := New(st, time.Minute, 5)
	ctx := context.Background()

	for i := range 5 {
		if err := l.Allow(ctx, "caller-a"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
}

func TestAllow_BurstOverBudget(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	l := New(st, time.Minute, 5)
	ctx := context.Background()

	accepted := 0
	for range 10 {
		err := l.Allow(ctx, "caller-a")
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, dataextract.ErrRateLimited):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 5 {
		t.Fatalf("accepted = %d, want 5", accepted)
	}
}

func TestAllow_IdentitiesIsolated(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	l := New(st, time.Minute, 2)
	ctx := context.Background()

	for range 2 {
		if err := l.Allow(ctx, "caller-a"); err != nil {
			t.Fatalf("caller-a rejected early: %v", err)
		}
	}
	if err := l.Allow(ctx, "caller-a"); !errors.Is(err, dataextract.ErrRateLimited) {
		t.Fatalf("caller-a over budget: got %v, want ErrRateLimited", err)
	}
	if err := l.Allow(ctx, "caller-b"); err != nil {
		t.Fatalf("caller-b should have its own budget: %v", err)
	}
}

func TestAllow_PerIdentityOverride(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	l := New(st, time.Minute, 1, WithLimit("premium", 3))
	ctx := context.Background()

	for i := range 3 {
		if err := l.Allow(ctx, "premium"); err != nil {
			t.Fatalf("premium request %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "premium"); !errors.Is(err, dataextract.ErrRateLimited) {
		t.Fatalf("premium over budget: got %v, want ErrRateLimited", err)
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	// Starts exactly on a window boundary so the overlap weights below
	// are easy to reason about.
	now := time.Unix(1_000_020, 0)
	l := New(st, time.Minute, 4)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for range 4 {
		if err := l.Allow(ctx, "caller-a"); err != nil {
			t.Fatalf("rejected inside first window: %v", err)
		}
	}
	if err := l.Allow(ctx, "caller-a"); !errors.Is(err, dataextract.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}

	// Just past the boundary the previous window still weighs heavily,
	// so the budget stays exhausted.
	now = now.Add(61 * time.Second)
	if err := l.Allow(ctx, "caller-a"); !errors.Is(err, dataextract.ErrRateLimited) {
		t.Fatalf("early in next window: got %v, want ErrRateLimited", err)
	}

	// Deep into the next window the old counts have slid out.
	now = now.Add(55 * time.Second)
	if err := l.Allow(ctx, "caller-a"); err != nil {
		t.Fatalf("late in next window: %v", err)
	}
}

func TestAllow_FailsOpenOnStoreOutage(t *testing.T) {
	t.Parallel()

	l := New(unavailableStore{}, time.Minute, 5)
	ctx := context.Background()

	// The local bucket starts full, so a burst up to the limit passes
	// even with the store down.
	accepted := 0
	for range 10 {
		if err := l.Allow(ctx, "caller-a"); err == nil {
			accepted++
		} else if !errors.Is(err, dataextract.ErrRateLimited) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 5 {
		t.Fatalf("accepted = %d, want 5 via local fallback", accepted)
	}
}

func TestAllow_ZeroBudget(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close() //nolint:errcheck // test cleanup

	l := New(st, time.Minute, 5, WithLimit("blocked", 0))
	if err := l.Allow(context.Background(), "blocked"); !errors.Is(err, dataextract.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

// unavailableStore fails every operation with ErrStoreUnavailable.
type unavailableStore struct{}

var _ store.Store = unavailableStore{}

func (unavailableStore) Get(context.Context, string) ([]byte, error) {
	return nil, dataextract.ErrStoreUnavailable
}

func (unavailableStore) Set(context.Context, string, []byte, time.Duration) error {
	return dataextract.ErrStoreUnavailable
}

func (unavailableStore) Delete(context.Context, string) error {
	return dataextract.ErrStoreUnavailable
}

func (unavailableStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, dataextract.ErrStoreUnavailable
}

func (unavailableStore) CompareAndSwap(context.Context, string, []byte, []byte, time.Duration) (bool, error) {
	return false, dataextract.ErrStoreUnavailable
}

func (unavailableStore) Keys(context.Context, string) ([]string, error) {
	return nil, dataextract.ErrStoreUnavailable
}

func (unavailableStore) Publish(context.Context, string, []byte) error {
	return dataextract.ErrStoreUnavailable
}

func (unavailableStore) Subscribe(context.Context, string) (store.Subscription, error) {
	return nil, dataextract.ErrStoreUnavailable
}

func (unavailableStore) Ping(context.Context) error { return dataextract.ErrStoreUnavailable }

func (unavailableStore) Close() error { return nil }
