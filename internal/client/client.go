// Package client is the buyer-side half of the lease protocol: an HTTP
// client for the reservation service and a cart controller that tracks
// the session's seat selection, mirrors server lease state, drives the
// checkout countdown, polls for seats held by others, and falls back to
// a local-only simulated lease when the service is unreachable.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrServiceUnavailable reports that the reservation service could not
// be reached or does not expose the lease endpoints.  The cart
// controller converts it into degraded mode instead of failing the
// buyer's interaction.  It is a typed condition, deliberately decoupled
// from any particular HTTP status code.
var ErrServiceUnavailable = errors.New("reservation service unavailable")

// Conflict is the payload of a rejected upsert: the requested seats
// that are unavailable, split into seats inside other sessions'
// temporary leases and seats already sold.  The lists stay separate
// because the storefront shows different messaging for each.
type Conflict struct {
	TemporarilyHeldByOthers []string `json:"temporarily_held_by_others"`
	PermanentlyBooked       []string `json:"permanently_booked"`
}

// HeldSeats is the polling snapshot for one event: seats held by other
// sessions (the caller's own seats excluded) and seats permanently
// booked.
type HeldSeats struct {
	Seats             []string `json:"seats"`
	PermanentlyBooked []string `json:"permanently_booked"`
}

// ReservationAPI is the boundary the cart controller depends on.  The
// HTTP Client below is the production implementation; tests substitute
// fakes.
type ReservationAPI interface {
	UpsertLease(ctx context.Context, eventID, sessionID string, seats []string) (time.Time, *Conflict, error)
	ReleaseLease(ctx context.Context, eventID, sessionID string) error
	OthersHeldSeats(ctx context.Context, eventID, sessionID string) (HeldSeats, error)
}

// Client talks JSON over HTTP to the reservation service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the service at baseURL (for example
// "http://localhost:8080").  Requests time out after ten seconds so no
// boundary call blocks a cart interaction indefinitely.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewSessionID generates an opaque session token.  The token identifies
// the lease holder for the lifetime of the browser profile; it is not
// an authenticated identity.
func NewSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// a time-derived token rather than panic inside a storefront.
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

type upsertResponse struct {
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
	Conflict
}

// UpsertLease submits the session's complete desired seat set for the
// event.  It returns the lease expiry on success, the conflict payload
// on contention, or an error.  Transport failures and missing endpoints
// are reported as ErrServiceUnavailable.
func (c *Client) UpsertLease(ctx context.Context, eventID, sessionID string, seats []string) (time.Time, *Conflict, error) {
	body, err := json.Marshal(map[string]any{
		"session_id": sessionID,
		"seats":      seats,
	})
	if err != nil {
		return time.Time{}, nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/events/"+eventID+"/lease", sessionID, body)
	if err != nil {
		return time.Time{}, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out upsertResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return time.Time{}, nil, fmt.Errorf("decode upsert response: %w", err)
		}
		if out.ExpiresAt == "" {
			// Empty seat set: the server released the lease.
			return time.Time{}, nil, nil
		}
		expires, err := time.Parse(time.RFC3339, out.ExpiresAt)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("parse expires_at %q: %w", out.ExpiresAt, err)
		}
		return expires, nil, nil
	case http.StatusConflict:
		var out upsertResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return time.Time{}, nil, fmt.Errorf("decode conflict response: %w", err)
		}
		return time.Time{}, &Conflict{
			TemporarilyHeldByOthers: out.TemporarilyHeldByOthers,
			PermanentlyBooked:       out.PermanentlyBooked,
		}, nil
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return time.Time{}, nil, fmt.Errorf("upsert lease: %w", ErrServiceUnavailable)
	default:
		return time.Time{}, nil, fmt.Errorf("upsert lease: unexpected status %d", resp.StatusCode)
	}
}

// ReleaseLease drops the session's lease for the event.  The server
// treats release as idempotent, so any 2xx means done.
func (c *Client) ReleaseLease(ctx context.Context, eventID, sessionID string) error {
	body, err := json.Marshal(map[string]any{"session_id": sessionID})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/v1/events/"+eventID+"/lease", sessionID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("release lease: %w", ErrServiceUnavailable)
	default:
		return fmt.Errorf("release lease: unexpected status %d", resp.StatusCode)
	}
}

// OthersHeldSeats fetches the availability overlay for the event,
// excluding the session's own seats.
func (c *Client) OthersHeldSeats(ctx context.Context, eventID, sessionID string) (HeldSeats, error) {
	url := c.baseURL + "/v1/events/" + eventID + "/held-seats?session_id=" + sessionID
	resp, err := c.do(ctx, http.MethodGet, url, sessionID, nil)
	if err != nil {
		return HeldSeats{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out HeldSeats
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return HeldSeats{}, fmt.Errorf("decode held-seats response: %w", err)
		}
		return out, nil
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return HeldSeats{}, fmt.Errorf("others held seats: %w", ErrServiceUnavailable)
	default:
		return HeldSeats{}, fmt.Errorf("others held seats: unexpected status %d", resp.StatusCode)
	}
}

// do issues one request, mapping connection-level failures to
// ErrServiceUnavailable so callers can trigger degraded mode with a
// single errors.Is check.  The session travels in the X-Session-ID
// header as well, which the server's rate limiter keys on.
func (c *Client) do(ctx context.Context, method, url, sessionID string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return resp, nil
}
