package x402

import (
	"context"
	"sync"
	"time"
)

// ReplayGuard remembers transaction signatures that already paid for a
// request so the same proof cannot be spent twice.
type ReplayGuard interface {
	// Claim records signature for ttl. It returns false if the signature
	// is already claimed.
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)

	// Release forgets a claim so the proof can be presented again.
	Release(ctx context.Context, signature string) error
}

// MemoryReplayGuard is a process-local ReplayGuard. Expired claims are
// swept by a background janitor until Close is called.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	claims  map[string]time.Time
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// NewMemoryReplayGuard creates a guard that sweeps expired claims every interval.
func NewMemoryReplayGuard(interval time.Duration) *MemoryReplayGuard {
	if interval <= 0 {
		interval = time.Minute
	}
	g := &MemoryReplayGuard{
		claims: make(map[string]time.Time),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go g.janitor(interval)
	return g
}

// Claim implements ReplayGuard.
func (g *MemoryReplayGuard) Claim(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.claims[signature]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[signature] = now.Add(ttl)
	return true, nil
}

// Release implements ReplayGuard.
func (g *MemoryReplayGuard) Release(_ context.Context, signature string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, signature)
	return nil
}

// Len returns the number of live claims.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

// CleanExpired removes expired claims
func (g *MemoryReplayGuard) CleanExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for sig, exp := range g.claims {
		if !now.Before(exp) {
			delete(g.claims, sig)
		}
	}
}

// Close stops the janitor.
func (g *MemoryReplayGuard) Close() error {
	g.stopped.Do(func() {
		close(g.stop)
		<-g.done
	})
	return nil
}

func (g *MemoryReplayGuard) janitor(interval time.Duration) {
	defer close(g.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.CleanExpired()
		case <-g.stop:
			return
		}
	}
}
