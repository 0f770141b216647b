package auth

import "sync"

// ConfirmGuard ensures at most one confirmation dialog is ever outstanding
// for a given device serial at a time (P2): a second connection attempt
// from the same device while one is already pending is rejected immediately
// rather than stacking a second prompt.
type ConfirmGuard struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewConfirmGuard() *ConfirmGuard {
	return &ConfirmGuard{pending: make(map[string]struct{})}
}

// Acquire claims serial for confirmation. ok is false if a confirmation for
// serial is already pending, in which case release is nil and must not be
// called.
func (g *ConfirmGuard) Acquire(serial string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.pending[serial]; busy {
		return nil, false
	}
	g.pending[serial] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.pending, serial)
			g.mu.Unlock()
		})
	}, true
}
