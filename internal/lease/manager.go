// Package lease implements the reservation protocol on top of the seat
// availability store: replace-not-merge selection updates, TTL renewal,
// idempotent release, atomic conversion to a permanent booking, and the
// background expiry sweep.  Lifecycle notifications and the durable
// booking archive hang off this layer so the store stays side-effect
// free.
package lease

import (
	"context"
	"log"
	"time"

	"github.com/tickethub/seatlease/internal/store"
)

// EventPublisher delivers lease lifecycle notifications to interested
// consumers (broker, logs).  Publish failures must never fail the
// request that triggered them.
type EventPublisher interface {
	PublishLeaseEvent(ctx context.Context, action, eventID, sessionID string, seats []store.SeatID, expiresAt time.Time) error
}

// BookingArchive durably records finalized bookings so permanently sold
// seats survive a restart.  The in-memory store remains the source of
// truth for availability; the archive is a durability tail.
type BookingArchive interface {
	InsertBooking(ctx context.Context, eventID, sessionID string, seats []store.SeatID, finalizedAt time.Time) error
}

// Manager wires the store to its collaborators and owns the TTL
// policy.  All methods are safe for concurrent use.
type Manager struct {
	store    *store.Store
	ttl      time.Duration
	clock    func() time.Time
	pub      EventPublisher // optional
	bookings BookingArchive // optional
}

// New constructs a Manager.  Publisher and archive may be nil, in which
// case the corresponding side effects are skipped.
func New(s *store.Store, ttl time.Duration, pub EventPublisher, bookings BookingArchive) *Manager {
	if s == nil {
		panic("nil store passed to lease.New")
	}
	if ttl <= 0 {
		ttl = 7 * time.Minute
	}
	return &Manager{
		store:    s,
		ttl:      ttl,
		clock:    func() time.Time { return time.Now().UTC() },
		pub:      pub,
		bookings: bookings,
	}
}

// TTL reports the lease duration in effect.
func (m *Manager) TTL() time.Duration { return m.ttl }

// UpsertLease sets the session's selection for the event to exactly the
// given seat set, renewing the TTL.  On success it returns the new
// expiry and a nil conflict; on contention it returns the conflicting
// seats split into temporarily-held and permanently-booked, with the
// session's prior lease untouched.  An empty seat set behaves like
// ReleaseLease.
func (m *Manager) UpsertLease(ctx context.Context, eventID, sessionID string, seats []store.SeatID) (time.Time, *store.Conflict) {
	now := m.clock()
	// Opportunistic sweep so long-idle events do not accumulate dead
	// leases between background passes.
	m.notifyExpired(ctx, m.store.SweepExpired(now))

	expiresAt, conflict := m.store.TryAcquire(eventID, sessionID, seats, m.ttl, now)
	if conflict != nil {
		return time.Time{}, conflict
	}
	if len(seats) == 0 {
		m.publish(ctx, "lease.released", eventID, sessionID, nil, time.Time{})
		return time.Time{}, nil
	}
	m.publish(ctx, "lease.acquired", eventID, sessionID, seats, expiresAt)
	return expiresAt, nil
}

// ReleaseLease drops the session's lease for the event.  It never
// fails; releasing a missing lease is a no-op.
func (m *Manager) ReleaseLease(ctx context.Context, eventID, sessionID string) {
	released := m.store.Release(eventID, sessionID)
	if len(released) > 0 {
		m.publish(ctx, "lease.released", eventID, sessionID, released, time.Time{})
	}
}

// OthersHeldSeats returns the seats of the event that are unavailable
// to the session: seats inside other sessions' live leases and seats
// already sold.  Used by clients to refresh the seat map overlay.
func (m *Manager) OthersHeldSeats(ctx context.Context, eventID, sessionID string) (others, permanent []store.SeatID) {
	return m.store.HeldSeats(eventID, sessionID, m.clock())
}

// Finalize converts the session's active lease into a permanent
// booking.  The conversion is atomic with respect to concurrent
// acquires: no third session can grab the seats between payment success
// and booking persistence.  The archive write happens after the
// in-memory commit; on archive failure the booking still stands and the
// error is logged, since availability is served from memory.
func (m *Manager) Finalize(ctx context.Context, eventID, sessionID string) ([]store.SeatID, error) {
	now := m.clock()
	seats, err := m.store.Finalize(eventID, sessionID, now)
	if err != nil {
		return nil, err
	}
	if m.bookings != nil {
		if err := m.bookings.InsertBooking(ctx, eventID, sessionID, seats, now); err != nil {
			log.Printf("lease: archive booking failed for event=%s session=%s: %v", eventID, sessionID, err)
		}
	}
	m.publish(ctx, "lease.finalized", eventID, sessionID, seats, time.Time{})
	return seats, nil
}

// SweepNow runs a single expiry pass and returns the number of leases
// removed.  The background sweeper calls this on a ticker; tests call
// it directly.
func (m *Manager) SweepNow(ctx context.Context) int {
	removed := m.store.SweepExpired(m.clock())
	m.notifyExpired(ctx, removed)
	return len(removed)
}

func (m *Manager) notifyExpired(ctx context.Context, removed []*store.Lease) {
	for _, l := range removed {
		m.publish(ctx, "lease.expired", l.EventID, l.SessionID, l.SeatList(), l.ExpiresAt)
	}
}

func (m *Manager) publish(ctx context.Context, action, eventID, sessionID string, seats []store.SeatID, expiresAt time.Time) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishLeaseEvent(ctx, action, eventID, sessionID, seats, expiresAt); err != nil {
		log.Printf("lease: publish %s failed: %v", action, err)
	}
}
