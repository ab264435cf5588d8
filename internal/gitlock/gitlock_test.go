package gitlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithLockSerialisesSameRepo(t *testing.T) {
	l := New()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "o/r", "worktree", func() error {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}

	wg.Wait()
	if maxActive != 1 {
		t.Errorf("expected at most 1 concurrent holder, saw %d", maxActive)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := New()
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "o/r", "pull", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acquired := false
	_ = l.WithLock(context.Background(), "o/r", "pull", func() error {
		acquired = true
		return nil
	})
	if !acquired {
		t.Fatal("lock was not released after fn returned an error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	l := New()

	func() {
		defer func() { recover() }()
		_ = l.WithLock(context.Background(), "o/r", "push", func() error {
			panic("boom")
		})
	}()

	acquired := false
	_ = l.WithLock(context.Background(), "o/r", "push", func() error {
		acquired = true
		return nil
	})
	if !acquired {
		t.Fatal("lock was not released after fn panicked")
	}
}

func TestWithLockTimesOut(t *testing.T) {
	l := New()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "o/r", "clone", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.WithLock(ctx, "o/r", "clone", func() error { return nil })
	if err == nil {
		t.Fatal("expected LOCK_TIMEOUT error")
	}
}

func TestWithLockDoesNotSerialiseDifferentRepos(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)

	for _, repo := range []string{"o/r1", "o/r2"} {
		wg.Add(1)
		go func(repo string) {
			defer wg.Done()
			_ = l.WithLock(context.Background(), repo, "clone", func() error {
				started <- struct{}{}
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}(repo)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first repo lock never acquired")
	}
	select {
	case <-started:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("second repo's lock was blocked by the first repo's lock")
	}

	wg.Wait()
}
