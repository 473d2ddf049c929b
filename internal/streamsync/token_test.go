package streamsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/forkpoint/orderfeed/internal/orderfeed"
)

type fakeTokenFetcher struct {
	mu    sync.Mutex
	calls int
	token string
	err   error
	gate  chan struct{}
}

func (f *fakeTokenFetcher) StreamToken(ctx context.Context) (TokenResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return TokenResponse{}, f.err
	}
	return TokenResponse{Token: f.token}, nil
}

func (f *fakeTokenFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testRestaurant = orderfeed.Identity{Kind: orderfeed.IdentityRestaurant, ID: "42"}

func TestEnsureFetchesOnceAndCaches(t *testing.T) {
	fetcher := &fakeTokenFetcher{token: "stok_1"}
	provider := NewTokenProvider(fetcher)

	for i := 0; i < 3; i++ {
		token, err := provider.Ensure(context.Background(), testRestaurant)
		if err != nil {
			t.Fatalf("ensure failed: %v", err)
		}
		if token != "stok_1" {
			t.Fatalf("expected cached token, got %q", token)
		}
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("expected a single fetch, got %d", fetcher.callCount())
	}
}

func TestEnsureSingleFlightAcrossGoroutines(t *testing.T) {
	fetcher := &fakeTokenFetcher{token: "stok_1", gate: make(chan struct{})}
	provider := NewTokenProvider(fetcher)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := provider.Ensure(context.Background(), testRestaurant)
			if err != nil {
				t.Errorf("ensure failed: %v", err)
				return
			}
			results[i] = token
		}(i)
	}
	close(fetcher.gate)
	wg.Wait()

	if fetcher.callCount() != 1 {
		t.Fatalf("expected one in-flight fetch, got %d", fetcher.callCount())
	}
	for i, token := range results {
		if token != "stok_1" {
			t.Fatalf("goroutine %d got token %q", i, token)
		}
	}
}

func TestEnsureRecordsFailureWithoutAutoRetry(t *testing.T) {
	fetcher := &fakeTokenFetcher{err: errors.New("issuer unavailable")}
	provider := NewTokenProvider(fetcher)

	if _, err := provider.Ensure(context.Background(), testRestaurant); err == nil {
		t.Fatalf("expected fetch failure")
	}
	if _, err := provider.Ensure(context.Background(), testRestaurant); err == nil {
		t.Fatalf("expected recorded failure on second call")
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("a failed fetch must not be retried automatically, got %d calls", fetcher.callCount())
	}
	if provider.Err() == "" {
		t.Fatalf("expected the failure to stay retrievable")
	}

	// Invalidate clears the recorded failure; the next Ensure fetches again.
	provider.Invalidate()
	fetcher.err = nil
	fetcher.token = "stok_2"
	token, err := provider.Ensure(context.Background(), testRestaurant)
	if err != nil {
		t.Fatalf("ensure after invalidate failed: %v", err)
	}
	if token != "stok_2" {
		t.Fatalf("expected fresh token, got %q", token)
	}
}

func TestEnsureRefetchesOnIdentityChange(t *testing.T) {
	fetcher := &fakeTokenFetcher{token: "stok_1"}
	provider := NewTokenProvider(fetcher)

	if _, err := provider.Ensure(context.Background(), testRestaurant); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	fetcher.token = "stok_user"
	token, err := provider.Ensure(context.Background(), orderfeed.Identity{Kind: orderfeed.IdentityUser, ID: "7"})
	if err != nil {
		t.Fatalf("ensure for new identity failed: %v", err)
	}
	if token != "stok_user" {
		t.Fatalf("expected a fresh token for the new identity, got %q", token)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected one fetch per identity, got %d", fetcher.callCount())
	}
}

func TestEnsureRejectsAbsentIdentity(t *testing.T) {
	provider := NewTokenProvider(&fakeTokenFetcher{token: "stok_1"})
	if _, err := provider.Ensure(context.Background(), orderfeed.Identity{}); !errors.Is(err, orderfeed.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
