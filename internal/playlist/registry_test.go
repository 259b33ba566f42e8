package playlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(context.Background(), unavailableStore(), &stubFetcher{}, logger.Nop())
	r.now = clock.Now
	t.Cleanup(r.CloseAll)
	return r, clock
}

func TestRegistryGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	m1, err := r.Get("lobby")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	m2, err := r.Get("lobby")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m1 != m2 {
		t.Error("Get() returned different machines for the same queue")
	}

	other, err := r.Get("other")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if other == m1 {
		t.Error("queues share a machine")
	}
	if r.Active() != 2 {
		t.Errorf("Active() = %d, want 2", r.Active())
	}

	for _, bad := range []string{"", "a/b", "with space"} {
		if _, err := r.Get(bad); !errors.Is(err, domain.ErrInvalidQueueID) {
			t.Errorf("Get(%q) error = %v, want ErrInvalidQueueID", bad, err)
		}
	}
}

func TestRegistryGetConcurrent(t *testing.T) {
	r, _ := newTestRegistry(t)

	const n = 16
	machines := make([]*Machine, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.Get("shared")
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			machines[i] = m
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if machines[i] != machines[0] {
			t.Fatal("concurrent Get() created more than one machine")
		}
	}
}

func TestRegistryReap(t *testing.T) {
	r, clock := newTestRegistry(t)

	idle, _ := r.Get("idle")
	watched, _ := r.Get("watched")
	busy, _ := r.Get("busy")

	unsub := watched.Subscribe(func(Snapshot) {})
	defer unsub()

	clock.Add(20 * time.Minute)
	r.Touch("busy")
	clock.Add(15 * time.Minute)

	if n := r.Reap(30 * time.Minute); n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if r.Active() != 2 {
		t.Errorf("Active() = %d, want 2", r.Active())
	}

	if _, err := idle.Submit(url("aaa")); !errors.Is(err, ErrClosed) {
		t.Errorf("reaped machine still accepts work: %v", err)
	}
	if _, err := busy.Submit(url("aaa")); err != nil {
		t.Errorf("recently used machine was reaped: %v", err)
	}

	again, _ := r.Get("idle")
	if again == idle {
		t.Error("Get() after reap returned the closed machine")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, _ := r.Get("lobby")

	r.CloseAll()

	if _, err := m.Submit(url("aaa")); !errors.Is(err, ErrClosed) {
		t.Errorf("machine not closed: %v", err)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done() not closed after CloseAll")
	}
	if _, err := r.Get("lobby"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after CloseAll error = %v, want ErrClosed", err)
	}
}
