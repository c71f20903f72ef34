package flow

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLockerSingleFlight(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	ok, err := locker.Acquire(ctx, "flow:run:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	ok, err = locker.Acquire(ctx, "flow:run:1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire ok=%v err=%v want held", ok, err)
	}

	// A different flow's key is independent.
	ok, _ = locker.Acquire(ctx, "flow:run:2", time.Minute)
	if !ok {
		t.Fatalf("unrelated key blocked")
	}

	if err := locker.Release(ctx, "flow:run:1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = locker.Acquire(ctx, "flow:run:1", time.Minute)
	if !ok {
		t.Fatalf("acquire after release blocked")
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	if ok, _ := locker.Acquire(ctx, "k", time.Millisecond); !ok {
		t.Fatalf("acquire failed")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := locker.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatalf("expired lock still held")
	}
}
