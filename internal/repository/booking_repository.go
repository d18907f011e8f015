package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tickethub/seatlease/internal/store"
)

// BookingRecord represents the persistence model for one permanently
// booked seat.  There is one row per (event, seat); the session that
// finalized the purchase is kept for correlation with payment records.
//
// Fields:
//  ID          – primary key of the seat_bookings row.
//  EventID     – event the seat belongs to.
//  SeatID      – seat that was sold.
//  SessionID   – checkout session that finalized the purchase.
//  FinalizedAt – when the lease was converted into a booking.
type BookingRecord struct {
	ID          uint64    // seat_bookings.id
	EventID     string    // seat_bookings.event_id
	SeatID      string    // seat_bookings.seat_id
	SessionID   string    // seat_bookings.session_id
	FinalizedAt time.Time // seat_bookings.finalized_at
}

// BookingRepo provides data access to the seat_bookings table.  It is
// the durable archive behind the in-memory store: finalize appends
// rows, and startup reads them back to re-seed permanently sold seats.
// All timestamps are stored and compared in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// InsertBooking appends one row per seat for a finalized purchase.  The
// insert uses a single multi-row statement so the archive matches the
// atomic in-memory conversion.  Passing an empty seat set has no effect
// and returns nil.
func (r *BookingRepo) InsertBooking(ctx context.Context, eventID, sessionID string, seats []store.SeatID, finalizedAt time.Time) error {
	if len(seats) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO seat_bookings (event_id, seat_id, session_id, finalized_at) VALUES `)
	args := make([]interface{}, 0, len(seats)*4)
	for i, seat := range seats {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, eventID, string(seat), sessionID, finalizedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

// BookedSeatsByEvent loads every archived booking grouped by event.
// Used once at startup to seed the store; events with no bookings are
// simply absent from the map.
func (r *BookingRepo) BookedSeatsByEvent(ctx context.Context) (map[string][]store.SeatID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id, seat_id FROM seat_bookings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]store.SeatID)
	for rows.Next() {
		var eventID, seatID string
		if err := rows.Scan(&eventID, &seatID); err != nil {
			return nil, err
		}
		out[eventID] = append(out[eventID], store.SeatID(seatID))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByEvent returns the archived bookings for one event, newest
// first.  Exposed for operational tooling; the request path never
// reads the archive.
func (r *BookingRepo) ListByEvent(ctx context.Context, eventID string) ([]BookingRecord, error) {
	const q = `SELECT id, event_id, seat_id, session_id, finalized_at
               FROM seat_bookings
               WHERE event_id = ?
               ORDER BY finalized_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []BookingRecord
	for rows.Next() {
		var rec BookingRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.SeatID, &rec.SessionID, &rec.FinalizedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
