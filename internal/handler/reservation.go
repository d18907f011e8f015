package handler

import (
	"errors"   // for errors.Is comparisons
	"net/http" // HTTP status codes
	"time"     // formatting expiry timestamps

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/tickethub/seatlease/internal/lease"
	"github.com/tickethub/seatlease/internal/store"
)

// ReservationHandler exposes the lease protocol over HTTP: upsert a
// session's seat selection, release it, poll the seats held by others,
// and finalize a purchase.  Sessions are opaque client tokens carried
// in the request body or query string; there is no authentication on
// these routes by design — a session token is a capability, not an
// identity.  Every operation completes in bounded time: conflicts fail
// fast, nothing queues.
type ReservationHandler struct {
	Manager *lease.Manager // protocol logic and TTL policy
}

// NewReservationHandler constructs a ReservationHandler.  The manager
// must be non-nil.
func NewReservationHandler(m *lease.Manager) *ReservationHandler {
	if m == nil {
		panic("nil manager passed to NewReservationHandler")
	}
	return &ReservationHandler{Manager: m}
}

// upsertRequest is the body of POST /v1/events/:id/lease.  Seats is the
// session's complete desired selection; the server replaces the prior
// lease wholesale, it never merges.
type upsertRequest struct {
	SessionID string   `json:"session_id"`
	Seats     []string `json:"seats"`
}

// sessionRequest is the body of release and finalize calls.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// UpsertLease handles POST /v1/events/:id/lease.  On success it returns
// 200 with the new expiry.  When any requested seat is unavailable it
// returns 409 with the conflicting seats split into two lists — seats
// temporarily held by other sessions and seats permanently booked — and
// the caller's prior lease is left untouched.  Submitting an empty seat
// list releases the lease.
func (h *ReservationHandler) UpsertLease(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body upsertRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}

	seats := make([]store.SeatID, 0, len(body.Seats))
	for _, s := range body.Seats {
		if s == "" {
			continue
		}
		seats = append(seats, store.SeatID(s))
	}

	expiresAt, conflict := h.Manager.UpsertLease(c.Request().Context(), eventID, body.SessionID, seats)
	if conflict != nil {
		return c.JSON(http.StatusConflict, echo.Map{
			"status":                    "conflict",
			"temporarily_held_by_others": seatStrings(conflict.HeldByOthers),
			"permanently_booked":        seatStrings(conflict.PermanentlyBooked),
		})
	}
	if len(seats) == 0 {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "ok",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// ReleaseLease handles DELETE /v1/events/:id/lease.  It always returns
// 200; releasing a lease that does not exist is a no-op.
func (h *ReservationHandler) ReleaseLease(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == "" {
		// Fire-and-forget releases from unloading browser tabs
		// sometimes arrive without a body; treat as query fallback.
		body.SessionID = c.QueryParam("session_id")
	}
	if body.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	h.Manager.ReleaseLease(c.Request().Context(), eventID, body.SessionID)
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// OthersHeldSeats handles GET /v1/events/:id/held-seats.  It returns
// the snapshot clients poll to grey out seats taken by concurrent
// buyers: seats inside other sessions' live leases (the caller's own
// session, passed as ?session_id=, is excluded) and seats already sold.
func (h *ReservationHandler) OthersHeldSeats(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	sessionID := c.QueryParam("session_id")
	others, permanent := h.Manager.OthersHeldSeats(c.Request().Context(), eventID, sessionID)
	return c.JSON(http.StatusOK, echo.Map{
		"seats":              seatStrings(others),
		"permanently_booked": seatStrings(permanent),
	})
}

// Finalize handles POST /v1/events/:id/finalize.  It converts the
// session's active lease into a permanent booking with the same
// atomicity as an acquire: no other session can grab the seats between
// payment success and booking persistence.  Returns 201 with the booked
// seats, or 409 when the session has no active lease (expired or never
// created).
func (h *ReservationHandler) Finalize(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	seats, err := h.Manager.Finalize(c.Request().Context(), eventID, body.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveLease) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "no active lease"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to finalize"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"status": "ok",
		"seats":  seatStrings(seats),
	})
}

// seatStrings converts seat IDs for JSON responses; it never returns
// nil so conflict payloads always contain both lists, even when empty.
func seatStrings(seats []store.SeatID) []string {
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		out = append(out, string(s))
	}
	return out
}
