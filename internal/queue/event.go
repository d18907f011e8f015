// Package queue defines message payloads exchanged over the message broker.
package queue

// LeaseEvent is published on every lease lifecycle transition:
// "lease.acquired", "lease.released", "lease.expired" and
// "lease.finalized".  It carries enough information for downstream
// consumers to log, notify, or feed analytics without querying the
// reservation service.
type LeaseEvent struct {
	Action     string   `json:"action"`
	EventID    string   `json:"event_id"`
	SessionID  string   `json:"session_id"`
	Seats      []string `json:"seats"`
	ExpiresAt  string   `json:"expires_at,omitempty"`
	OccurredAt string   `json:"occurred_at"`
}
