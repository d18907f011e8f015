// Package store holds the authoritative in-memory seat state for every
// event: seats permanently booked by finalized purchases and seats
// temporarily leased by checkout sessions.  All mutations for one event
// are serialized behind a per-event mutex so that concurrent acquire,
// release, finalize and sweep calls observe a single linear history.
// Operations on different events run fully in parallel.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// SeatID is an opaque seat identifier, unique within an event (for
// example a section+row+number encoding).  The store never interprets
// its internal structure.
type SeatID string

// Lease is a temporary, exclusive claim by one session on a set of
// seats for one event.  A lease whose ExpiresAt is not after the
// current time is logically absent: it never blocks an acquire and is
// physically removed by the next sweep.
//
// Fields:
//  EventID   – event the seats belong to.
//  SessionID – opaque client session that holds the seats.
//  Seats     – the full held seat set; replaced wholesale on update.
//  CreatedAt – when the session first acquired this lease.
//  ExpiresAt – last write time plus the TTL in effect at that write.
type Lease struct {
	EventID   string
	SessionID string
	Seats     map[SeatID]struct{}
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SeatList returns the lease's seats as a sorted slice.  Sorting keeps
// responses and log lines deterministic.
func (l *Lease) SeatList() []SeatID {
	out := make([]SeatID, 0, len(l.Seats))
	for s := range l.Seats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Conflict reports why an acquire could not be granted.  The two lists
// are kept separate because clients show different messaging for seats
// someone else is still deciding on versus seats that are already sold.
type Conflict struct {
	HeldByOthers      []SeatID // seats inside another session's non-expired lease
	PermanentlyBooked []SeatID // seats inside a finalized booking
}

// ErrNoActiveLease is returned by Finalize when the session has no
// non-expired lease for the event.  Callers should translate this into
// an HTTP 409 response.
var ErrNoActiveLease = errors.New("no active lease")

// eventState is all seat state for a single event.  The mutex covers
// every read and write of the maps; holding it is what makes acquire,
// release, finalize and sweep linearizable for the event.
type eventState struct {
	mu        sync.Mutex
	leases    map[string]*Lease     // keyed by session ID
	permanent map[SeatID]struct{}   // finalized bookings
}

// Store is the seat availability table for all events.  The zero value
// is not usable; construct with New.
type Store struct {
	mu     sync.RWMutex
	events map[string]*eventState
}

// New returns an empty Store.
func New() *Store {
	return &Store{events: make(map[string]*eventState)}
}

// event returns the state bucket for eventID, creating it on first use.
func (s *Store) event(eventID string) *eventState {
	s.mu.RLock()
	es := s.events[eventID]
	s.mu.RUnlock()
	if es != nil {
		return es
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if es = s.events[eventID]; es == nil {
		es = &eventState{
			leases:    make(map[string]*Lease),
			permanent: make(map[SeatID]struct{}),
		}
		s.events[eventID] = es
	}
	return es
}

// HeldSeats reports the seats of eventID that are unavailable to the
// given session: seats inside other sessions' non-expired leases and
// seats permanently booked.  The caller's own seats are excluded from
// the first list.  Expired leases are ignored even if a sweep has not
// removed them yet.  Both slices are sorted and never nil.
func (s *Store) HeldSeats(eventID, sessionID string, now time.Time) (others, permanent []SeatID) {
	es := s.event(eventID)
	es.mu.Lock()
	defer es.mu.Unlock()

	others = make([]SeatID, 0)
	for sid, l := range es.leases {
		if sid == sessionID || !l.ExpiresAt.After(now) {
			continue
		}
		for seat := range l.Seats {
			others = append(others, seat)
		}
	}
	permanent = make([]SeatID, 0, len(es.permanent))
	for seat := range es.permanent {
		permanent = append(permanent, seat)
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	sort.Slice(permanent, func(i, j int) bool { return permanent[i] < permanent[j] })
	return others, permanent
}

// TryAcquire atomically sets the session's lease for eventID to exactly
// the given seat set with expiry now+ttl.  The session's own current
// seats never count as conflicts, so a replacement that keeps some
// seats and renews the TTL goes through the same path as a fresh
// acquire.  On success any prior lease of the session is superseded in
// the same critical section; seats dropped from the set become free
// with no intermediate state.  On conflict nothing changes and the
// returned Conflict lists exactly the requested seats that are held by
// another non-expired session or permanently booked.
//
// An empty seat set releases the session's lease and returns success
// with a zero expiry.
func (s *Store) TryAcquire(eventID, sessionID string, seats []SeatID, ttl time.Duration, now time.Time) (time.Time, *Conflict) {
	es := s.event(eventID)
	es.mu.Lock()
	defer es.mu.Unlock()

	if len(seats) == 0 {
		delete(es.leases, sessionID)
		return time.Time{}, nil
	}

	var conflict Conflict
	for _, seat := range dedupe(seats) {
		if _, sold := es.permanent[seat]; sold {
			conflict.PermanentlyBooked = append(conflict.PermanentlyBooked, seat)
			continue
		}
		for sid, l := range es.leases {
			if sid == sessionID || !l.ExpiresAt.After(now) {
				continue
			}
			if _, held := l.Seats[seat]; held {
				conflict.HeldByOthers = append(conflict.HeldByOthers, seat)
				break
			}
		}
	}
	if len(conflict.HeldByOthers) > 0 || len(conflict.PermanentlyBooked) > 0 {
		sort.Slice(conflict.HeldByOthers, func(i, j int) bool { return conflict.HeldByOthers[i] < conflict.HeldByOthers[j] })
		sort.Slice(conflict.PermanentlyBooked, func(i, j int) bool { return conflict.PermanentlyBooked[i] < conflict.PermanentlyBooked[j] })
		return time.Time{}, &conflict
	}

	set := make(map[SeatID]struct{}, len(seats))
	for _, seat := range seats {
		set[seat] = struct{}{}
	}
	created := now
	if prev, ok := es.leases[sessionID]; ok && prev.ExpiresAt.After(now) {
		created = prev.CreatedAt
	}
	expiresAt := now.Add(ttl)
	es.leases[sessionID] = &Lease{
		EventID:   eventID,
		SessionID: sessionID,
		Seats:     set,
		CreatedAt: created,
		ExpiresAt: expiresAt,
	}
	return expiresAt, nil
}

// Release drops the session's lease for eventID and returns the seats
// that were held, sorted.  Releasing a missing or already-expired lease
// is not an error; it returns an empty slice.
func (s *Store) Release(eventID, sessionID string) []SeatID {
	es := s.event(eventID)
	es.mu.Lock()
	defer es.mu.Unlock()

	l, ok := es.leases[sessionID]
	if !ok {
		return nil
	}
	delete(es.leases, sessionID)
	return l.SeatList()
}

// Finalize converts the session's non-expired lease for eventID into a
// permanent booking and destroys the lease in the same critical
// section, so there is no instant at which the seats appear free.  It
// returns the booked seats sorted, or ErrNoActiveLease when the session
// holds nothing (or only an expired lease) for the event.
func (s *Store) Finalize(eventID, sessionID string, now time.Time) ([]SeatID, error) {
	es := s.event(eventID)
	es.mu.Lock()
	defer es.mu.Unlock()

	l, ok := es.leases[sessionID]
	if !ok || !l.ExpiresAt.After(now) {
		return nil, ErrNoActiveLease
	}
	for seat := range l.Seats {
		es.permanent[seat] = struct{}{}
	}
	delete(es.leases, sessionID)
	return l.SeatList(), nil
}

// RecordBooking marks seats of eventID as permanently booked without
// going through a lease.  It is used to seed the store from the booking
// archive at startup.
func (s *Store) RecordBooking(eventID string, seats []SeatID) {
	es := s.event(eventID)
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, seat := range seats {
		es.permanent[seat] = struct{}{}
	}
}

// SweepExpired physically removes every lease with ExpiresAt <= now and
// returns the removed leases.  Reads already exclude expired leases, so
// sweeping only reclaims memory and feeds expiry notifications; it can
// lag without affecting correctness.  A lease renewed concurrently is
// safe because renewal and the expiry check here run under the same
// per-event mutex.
func (s *Store) SweepExpired(now time.Time) []*Lease {
	s.mu.RLock()
	buckets := make(map[string]*eventState, len(s.events))
	for id, es := range s.events {
		buckets[id] = es
	}
	s.mu.RUnlock()

	var removed []*Lease
	for _, es := range buckets {
		es.mu.Lock()
		for sid, l := range es.leases {
			if !l.ExpiresAt.After(now) {
				delete(es.leases, sid)
				removed = append(removed, l)
			}
		}
		es.mu.Unlock()
	}
	return removed
}

// dedupe removes duplicate seat IDs while preserving order.  Clients
// occasionally double-submit a seat after a fast toggle.
func dedupe(seats []SeatID) []SeatID {
	seen := make(map[SeatID]struct{}, len(seats))
	out := make([]SeatID, 0, len(seats))
	for _, s := range seats {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
