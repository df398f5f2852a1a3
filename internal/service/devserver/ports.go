package devserver

import (
	"errors"
	"sync"
)

// ErrNoPorts is returned when every port in the pool is allocated.
var ErrNoPorts = errors.New("devserver: port range exhausted")

// PortPool hands out ports from a fixed range [base, base+count).
type PortPool struct {
	mu    sync.Mutex
	base  int
	count int
	inUse map[int]struct{}
}

// NewPortPool creates a pool over [base, base+count).
func NewPortPool(base, count int) *PortPool {
	return &PortPool{base: base, count: count, inUse: make(map[int]struct{})}
}

// Allocate reserves the lowest free port.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.base; port < p.base+p.count; port++ {
		if _, taken := p.inUse[port]; !taken {
			p.inUse[port] = struct{}{}
			return port, nil
		}
	}
	return 0, ErrNoPorts
}

// Release returns a port to the pool. Releasing a free port is a no-op,
// so every exit path may release unconditionally.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	delete(p.inUse, port)
	p.mu.Unlock()
}

// InUse reports how many ports are currently allocated.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
