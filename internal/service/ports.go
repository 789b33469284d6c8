package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/port/database"
)

// probeTimeout bounds the TCP connect used to check whether a port is live.
const probeTimeout = time.Second

// PortAllocator hands out child ports. Allocation combines the persisted
// port set, an in-memory reservation set covering the window between pick
// and persist, and a live TCP probe.
type PortAllocator struct {
	store       database.Store
	managerPort int

	mu       chan struct{} // binary semaphore so allocation can block under ctx
	reserved map[int]bool
}

// NewPortAllocator creates an allocator. managerPort is the manager's own
// bind, never handed out.
func NewPortAllocator(store database.Store, managerPort int) *PortAllocator {
	a := &PortAllocator{
		store:       store,
		managerPort: managerPort,
		mu:          make(chan struct{}, 1),
		reserved:    make(map[int]bool),
	}
	a.mu <- struct{}{}
	return a
}

// NextAvailable returns the first port at or above the floor that is not
// persisted, not reserved, not blocked, and passes the live probe. The
// returned port stays reserved until Release is called; callers release
// after persisting (or on failure).
func (a *PortAllocator) NextAvailable(ctx context.Context) (int, error) {
	select {
	case <-a.mu:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { a.mu <- struct{}{} }()

	persisted, err := a.store.AllocatedPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load allocated ports: %w", err)
	}
	taken := make(map[int]bool, len(persisted))
	for _, p := range persisted {
		taken[p] = true
	}

	for port := instance.PortMin; port <= instance.PortMax; port++ {
		if taken[port] || a.reserved[port] || a.blocked(port) {
			continue
		}
		if !probe(ctx, port) {
			continue
		}
		a.reserved[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d]", instance.PortMin, instance.PortMax)
}

// Release drops an in-memory reservation. Safe to call for ports that were
// never reserved.
func (a *PortAllocator) Release(port int) {
	<-a.mu
	delete(a.reserved, port)
	a.mu <- struct{}{}
}

// IsFree reports whether the port passes the live probe and is not blocked.
// It does not consult the persisted set; callers wanting the full allocation
// rule use NextAvailable.
func (a *PortAllocator) IsFree(ctx context.Context, port int) bool {
	if a.blocked(port) {
		return false
	}
	return probe(ctx, port)
}

// blocked ports are never handed out: privileged ports, the manager's
// default bind, and the manager's configured bind.
func (a *PortAllocator) blocked(port int) bool {
	return port < 1024 || port == 3000 || port == a.managerPort
}

// probe returns true when the port looks free: a connect that is refused or
// times out means nothing is listening.
func probe(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}
