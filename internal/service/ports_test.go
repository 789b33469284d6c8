package service

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

func TestNextAvailableEmptyStore(t *testing.T) {
	a := NewPortAllocator(newFakeStore(), 3000)

	port, err := a.NextAvailable(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// 8000 unless something on this host actually listens there.
	if port < instance.PortMin {
		t.Errorf("port = %d, want >= %d", port, instance.PortMin)
	}
	a.Release(port)
}

func TestNextAvailableSkipsPersisted(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	p := 8000
	_ = store.CreateInstance(ctx, &instance.Instance{Key: "AAAA1111", Name: "a", Port: &p})

	a := NewPortAllocator(store, 3000)
	port, err := a.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port == 8000 {
		t.Error("allocator reused a persisted port")
	}
	a.Release(port)
}

func TestNextAvailableSkipsReserved(t *testing.T) {
	a := NewPortAllocator(newFakeStore(), 3000)
	ctx := context.Background()

	first, err := a.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := a.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first == second {
		t.Errorf("both allocations returned %d", first)
	}
	a.Release(first)
	a.Release(second)
}

func TestNextAvailableSkipsBoundPort(t *testing.T) {
	a := NewPortAllocator(newFakeStore(), 3000)
	ctx := context.Background()

	first, err := a.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	a.Release(first)

	// Bind the port externally; the live probe must now reject it.
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(first))
	if err != nil {
		t.Skipf("cannot bind %d: %v", first, err)
	}
	defer func() { _ = l.Close() }()

	next, err := a.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if next == first {
		t.Errorf("allocator handed out bound port %d", first)
	}
	a.Release(next)
}

func TestIsFreeBlockedPorts(t *testing.T) {
	a := NewPortAllocator(newFakeStore(), 4321)
	ctx := context.Background()

	for _, port := range []int{80, 1023, 3000, 4321} {
		if a.IsFree(ctx, port) {
			t.Errorf("port %d should be blocked", port)
		}
	}
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	a := NewPortAllocator(newFakeStore(), 3000)
	ctx := context.Background()

	const n = 32
	ports := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.NextAvailable(ctx)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			ports[i] = port
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, p := range ports {
		if p == 0 {
			continue
		}
		if seen[p] {
			t.Fatalf("port %d allocated twice", p)
		}
		seen[p] = true
		a.Release(p)
	}
	if len(seen) != n {
		t.Errorf("allocated %d distinct ports, want %d", len(seen), n)
	}
}
