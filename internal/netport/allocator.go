package netport

import (
	"fmt"
	"sync"
)

// Allocator hands out free ports for debug sessions from a pool distinct
// from the main service port. Ports are probed on allocation and remembered
// so two sessions never receive the same port before their browsers bind.
type Allocator struct {
	host string
	base int
	span int

	mu     sync.Mutex
	leased map[int]bool
}

func NewAllocator(host string, base int) *Allocator {
	return &Allocator{
		host:   host,
		base:   base,
		span:   discoveryAttempts,
		leased: make(map[int]bool),
	}
}

// Next returns the lowest free, unleased port at or above the base.
func (a *Allocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port <= a.base+a.span && port <= 65535; port++ {
		if a.leased[port] {
			continue
		}
		if Probe(a.host, port) {
			a.leased[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w (session pool %d-%d)", ErrPortExhausted, a.base, a.base+a.span)
}

// Release returns a port to the pool once its session is torn down.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.leased, port)
}
