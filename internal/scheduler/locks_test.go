package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLocks_SameKeyBlocks(t *testing.T) {
	locks := NewKeyedLocks()
	order := make(chan int, 2)

	locks.Lock("plan-1")
	go func() {
		locks.Lock("plan-1")
		order <- 2
		locks.Unlock("plan-1")
	}()

	time.Sleep(20 * time.Millisecond)
	order <- 1
	locks.Unlock("plan-1")

	if first, second := <-order, <-order; first != 1 || second != 2 {
		t.Errorf("expected order [1 2], got [%d %d]", first, second)
	}
}

func TestKeyedLocks_DifferentKeysConcurrent(t *testing.T) {
	locks := NewKeyedLocks()
	var held atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			<-start
			locks.Lock(key)
			held.Add(1)
			time.Sleep(30 * time.Millisecond)
			locks.Unlock(key)
		}(key)
	}

	close(start)
	time.Sleep(15 * time.Millisecond)
	if n := held.Load(); n != 3 {
		t.Errorf("expected 3 keys held concurrently, got %d", n)
	}
	wg.Wait()
}

// TestKeyedLocks_LockAllNoDeadlock takes overlapping key sets in opposite
// orders from many goroutines.
func TestKeyedLocks_LockAllNoDeadlock(t *testing.T) {
	locks := NewKeyedLocks()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			keys := []string{"crm", "calendar", "inbox"}
			locks.LockAll(keys)
			locks.UnlockAll(keys)
		}()
		go func() {
			defer wg.Done()
			keys := []string{"inbox", "calendar", "crm", "inbox"}
			locks.LockAll(keys)
			locks.UnlockAll(keys)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LockAll deadlocked")
	}
}

func TestKeyedLocks_EntriesReleased(t *testing.T) {
	locks := NewKeyedLocks()
	locks.LockAll([]string{"x", "y"})
	if locks.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", locks.Len())
	}
	locks.UnlockAll([]string{"x", "y"})
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after unlock, want 0", locks.Len())
	}

	// Empty and nil key sets are no-ops
	locks.LockAll(nil)
	locks.UnlockAll([]string{})
	locks.Unlock("never-locked")
}
