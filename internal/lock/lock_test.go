package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Lock(ctx, "game")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder, saw %d", maxSeen)
	}
	if k.Held() != 0 {
		t.Errorf("expected all entries released, %d left", k.Held())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	releaseA, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer releaseA()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := k.Lock(ctx2, "b")
	if err != nil {
		t.Fatalf("lock b should not wait for a: %v", err)
	}
	releaseB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	release, err := k.Lock(context.Background(), "game")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "game")
	if !errors.Is(err, ErrNotAcquired) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected ErrNotAcquired wrapping the deadline, got %v", err)
	}

	release()
	release() // second call is a no-op

	if k.Held() != 0 {
		t.Errorf("expected no entries, got %d", k.Held())
	}
	again, err := k.Lock(context.Background(), "game")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}
