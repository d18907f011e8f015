package lease

import (
	"context"
	"log"
	"time"
)

// Sweeper removes expired leases on a fixed interval, decoupled from
// request handling.  Requests already exclude expired leases on read,
// so the sweeper is purely a reclamation and notification pass.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper returns a sweeper driving the manager's expiry pass every
// interval.  A non-positive interval falls back to 30 seconds.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{manager: m, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.  It is
// intended to run in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s)", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Print("sweeper: stopped")
			return
		case <-ticker.C:
			if n := s.manager.SweepNow(ctx); n > 0 {
				log.Printf("sweeper: removed %d expired lease(s)", n)
			}
		}
	}
}
