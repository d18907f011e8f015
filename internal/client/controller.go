package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is the cart controller's position in its lifecycle.
type State int

const (
	// StateEmpty means no seats are selected and no lease exists.
	StateEmpty State = iota
	// StatePending means a selection change is in flight to the server.
	StatePending
	// StateActive means the server confirmed the lease; the countdown
	// runs from its expiry.
	StateActive
	// StateDegraded means the server was unreachable and the lease is
	// a local-only simulation with the same TTL semantics.  It provides
	// no exclusion against other buyers.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// ConflictError is returned by SetSelection when requested seats are
// unavailable.  The two lists stay separate so the storefront can tell
// the buyer which seats may free up shortly and which are gone for
// good.  The prior selection is left untouched.
type ConflictError struct {
	TemporarilyHeldByOthers []string
	PermanentlyBooked       []string
}

func (e *ConflictError) Error() string {
	var parts []string
	if len(e.TemporarilyHeldByOthers) > 0 {
		parts = append(parts, fmt.Sprintf("seats %s are temporarily reserved by someone else",
			strings.Join(e.TemporarilyHeldByOthers, ", ")))
	}
	if len(e.PermanentlyBooked) > 0 {
		parts = append(parts, fmt.Sprintf("seats %s are already sold",
			strings.Join(e.PermanentlyBooked, ", ")))
	}
	if len(parts) == 0 {
		return "selected seats are unavailable"
	}
	return strings.Join(parts, "; ")
}

// Retryable reports whether waiting can help: true when every
// conflicting seat is only temporarily held.
func (e *ConflictError) Retryable() bool {
	return len(e.PermanentlyBooked) == 0 && len(e.TemporarilyHeldByOthers) > 0
}

// View is the read-only availability snapshot consumed by the seat map:
// the buyer's own seats, seats held by other sessions, and seats
// permanently sold, plus the countdown state.
type View struct {
	State      State
	EventID    string
	Mine       []string
	OthersHeld []string
	Sold       []string
	ExpiresAt  time.Time
	Remaining  time.Duration
}

// CartController tracks one buyer session's seat selection for the
// event being viewed.  It owns its session identifier and storage
// adapter (injected, not ambient) so several concurrent sessions can be
// driven in a single process.  Mutations (SetSelection, Clear) are the
// UI path; Poll and the countdown run as independent periodic tasks and
// never race the mutation path — the mutex plus a generation counter
// keep late responses from resurrecting cleared state.
type CartController struct {
	api          ReservationAPI
	storage      Storage
	sessionID    string
	ttl          time.Duration
	pollInterval time.Duration
	clock        func() time.Time

	mu         sync.Mutex
	state      State
	gen        uint64 // bumped on every mutation; guards in-flight results
	eventID    string
	seats      []string
	expiresAt  time.Time
	othersHeld []string
	sold       []string
}

// NewCartController constructs a controller for one browser session.
// An empty sessionID generates a fresh one.  Non-positive durations
// fall back to the reference defaults: a 7 minute lease TTL and a 15
// second poll interval.
func NewCartController(api ReservationAPI, storage Storage, sessionID string, ttl, pollInterval time.Duration) *CartController {
	if api == nil {
		panic("nil api passed to NewCartController")
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	if ttl <= 0 {
		ttl = 7 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &CartController{
		api:          api,
		storage:      storage,
		sessionID:    sessionID,
		ttl:          ttl,
		pollInterval: pollInterval,
		clock:        func() time.Time { return time.Now().UTC() },
		state:        StateEmpty,
	}
}

// SessionID returns the controller's session token.
func (c *CartController) SessionID() string { return c.sessionID }

// Resume rebuilds cart state from storage after a reload.  A persisted
// cart whose expiry is still in the future becomes Active (or Degraded,
// matching how it was written); an expired one is dropped with a
// best-effort release, since the server's sweep is the backstop anyway.
func (c *CartController) Resume(ctx context.Context) error {
	cart, err := c.storage.Load()
	if err != nil {
		return err
	}
	if cart == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cart.ExpiresAt.After(c.clock()) {
		eventID := cart.EventID
		degraded := cart.Degraded
		c.resetLocked()
		if !degraded {
			go c.releaseQuietly(eventID)
		}
		return nil
	}
	c.eventID = cart.EventID
	c.seats = append([]string(nil), cart.Seats...)
	c.expiresAt = cart.ExpiresAt
	if cart.Degraded {
		c.state = StateDegraded
	} else {
		c.state = StateActive
	}
	return nil
}

// SetSelection replaces the session's seat selection for the event with
// exactly the given set.  Every toggle goes through here with the full
// desired set; the server never sees incremental adds or removes.
// Selecting seats for a different event first releases the old event's
// lease — a session holds at most one event at a time.  On conflict the
// previous selection is preserved and a *ConflictError is returned; on
// an unreachable server the selection is accepted locally and the cart
// enters Degraded mode; any other failure leaves the selection
// untouched and surfaces a generic retryable error.
func (c *CartController) SetSelection(ctx context.Context, eventID string, seats []string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	seats = dedupeSeats(seats)
	if len(seats) == 0 {
		return c.Clear(ctx)
	}

	c.mu.Lock()
	c.expireIfDueLocked()
	if c.eventID != "" && c.eventID != eventID {
		// Switching events: fully release the old lease first.
		oldEvent := c.eventID
		wasDegraded := c.state == StateDegraded
		c.resetLocked()
		c.mu.Unlock()
		if !wasDegraded {
			if err := c.api.ReleaseLease(ctx, oldEvent, c.sessionID); err != nil {
				log.Printf("cart: release of event %s failed (lease will expire server-side): %v", oldEvent, err)
			}
		}
		c.mu.Lock()
	}
	prevState := c.state
	c.state = StatePending
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	expiresAt, conflict, err := c.api.UpsertLease(ctx, eventID, c.sessionID, seats)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// A newer mutation superseded this request; drop the result.
		return nil
	}
	switch {
	case err == nil && conflict == nil:
		c.state = StateActive
		c.eventID = eventID
		c.seats = seats
		c.expiresAt = expiresAt
		c.persistLocked()
		return nil
	case conflict != nil:
		// Atomic failure: the server kept the prior lease untouched.
		c.state = prevState
		return &ConflictError{
			TemporarilyHeldByOthers: conflict.TemporarilyHeldByOthers,
			PermanentlyBooked:       conflict.PermanentlyBooked,
		}
	case errors.Is(err, ErrServiceUnavailable):
		// Degraded fallback: fabricate a local lease with the same TTL
		// semantics.  No cross-session exclusion is claimed.
		log.Printf("cart: reservation service unreachable, continuing locally: %v", err)
		c.state = StateDegraded
		c.eventID = eventID
		c.seats = seats
		c.expiresAt = c.clock().Add(c.ttl)
		c.persistLocked()
		return nil
	default:
		c.state = prevState
		return fmt.Errorf("selection not saved, please retry: %w", err)
	}
}

// Clear abandons the cart: best-effort release, local reset, storage
// wiped.  Failure to release is not surfaced; the TTL is the backstop.
func (c *CartController) Clear(ctx context.Context) error {
	c.mu.Lock()
	eventID := c.eventID
	release := c.state == StateActive || c.state == StatePending
	c.resetLocked()
	c.mu.Unlock()

	if release && eventID != "" {
		if err := c.api.ReleaseLease(ctx, eventID, c.sessionID); err != nil {
			log.Printf("cart: release of event %s failed (lease will expire server-side): %v", eventID, err)
		}
	}
	return nil
}

// Remaining reports the time left on the lease.  Reaching zero is not
// an error: the cart transitions back to Empty right here, so the
// transition fires on any recomputation even if a timer never ran
// (suspended tabs, clock drift).
func (c *CartController) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireIfDueLocked()
	if c.state != StateActive && c.state != StateDegraded {
		return 0
	}
	return c.expiresAt.Sub(c.clock())
}

// Poll refreshes the seats held by other buyers for the event currently
// in the cart.  Degraded carts skip the server entirely.  A response
// that arrives after the cart moved to a different event (or was
// cleared) is discarded: stale overlays must not resurrect old state.
func (c *CartController) Poll(ctx context.Context) error {
	c.mu.Lock()
	c.expireIfDueLocked()
	if c.eventID == "" || c.state == StateDegraded {
		c.mu.Unlock()
		return nil
	}
	eventID := c.eventID
	c.mu.Unlock()

	held, err := c.api.OthersHeldSeats(ctx, eventID, c.sessionID)
	if err != nil {
		// Polling is advisory; the overlay just goes stale until the
		// next tick.
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventID != eventID {
		return nil // stale response, ordering guard
	}
	c.othersHeld = held.Seats
	c.sold = held.PermanentlyBooked
	return nil
}

// Run drives the periodic tasks: polling on the configured interval and
// a once-a-second countdown recomputation.  It returns when the context
// is cancelled, releasing the lease best-effort on the way out.
func (c *CartController) Run(ctx context.Context) {
	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			eventID := c.eventID
			release := c.state == StateActive
			c.mu.Unlock()
			if release && eventID != "" {
				c.releaseQuietly(eventID)
			}
			return
		case <-poll.C:
			if err := c.Poll(ctx); err != nil {
				log.Printf("cart: poll failed: %v", err)
			}
		case <-countdown.C:
			c.Remaining()
		}
	}
}

// View returns the availability snapshot for the seat map.
func (c *CartController) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireIfDueLocked()

	v := View{
		State:      c.state,
		EventID:    c.eventID,
		Mine:       append([]string(nil), c.seats...),
		OthersHeld: append([]string(nil), c.othersHeld...),
		Sold:       append([]string(nil), c.sold...),
		ExpiresAt:  c.expiresAt,
	}
	if c.state == StateActive || c.state == StateDegraded {
		v.Remaining = c.expiresAt.Sub(c.clock())
	}
	sort.Strings(v.Mine)
	sort.Strings(v.OthersHeld)
	sort.Strings(v.Sold)
	return v
}

// expireIfDueLocked performs the Expiring -> Empty transition whenever
// the computed remaining time is not positive.  The server's sweep
// reclaims the seats, so no release call is needed.
func (c *CartController) expireIfDueLocked() {
	if c.state != StateActive && c.state != StateDegraded {
		return
	}
	if c.expiresAt.After(c.clock()) {
		return
	}
	c.resetLocked()
}

// resetLocked clears local selection and storage.  Callers hold c.mu.
func (c *CartController) resetLocked() {
	c.state = StateEmpty
	c.gen++
	c.eventID = ""
	c.seats = nil
	c.expiresAt = time.Time{}
	c.othersHeld = nil
	c.sold = nil
	if err := c.storage.Clear(); err != nil {
		log.Printf("cart: clear storage failed: %v", err)
	}
}

// persistLocked mirrors the active cart into storage.  Callers hold c.mu.
func (c *CartController) persistLocked() {
	cart := &PersistedCart{
		EventID:   c.eventID,
		Seats:     append([]string(nil), c.seats...),
		ExpiresAt: c.expiresAt,
		Degraded:  c.state == StateDegraded,
	}
	if err := c.storage.Save(cart); err != nil {
		log.Printf("cart: persist failed: %v", err)
	}
}

// releaseQuietly fires a best-effort release with its own short
// timeout, for paths where the caller is going away.
func (c *CartController) releaseQuietly(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.api.ReleaseLease(ctx, eventID, c.sessionID); err != nil {
		log.Printf("cart: release of event %s failed (lease will expire server-side): %v", eventID, err)
	}
}

// dedupeSeats removes duplicates and empty entries, preserving order.
func dedupeSeats(seats []string) []string {
	seen := make(map[string]struct{}, len(seats))
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
