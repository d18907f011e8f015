package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tickethub/seatlease/internal/lease"
	"github.com/tickethub/seatlease/internal/store"
)

func newTestServer() (*echo.Echo, *ReservationHandler) {
	m := lease.New(store.New(), 7*time.Minute, nil, nil)
	h := NewReservationHandler(m)
	e := echo.New()
	e.POST("/v1/events/:id/lease", h.UpsertLease)
	e.DELETE("/v1/events/:id/lease", h.ReleaseLease)
	e.GET("/v1/events/:id/held-seats", h.OthersHeldSeats)
	e.POST("/v1/events/:id/finalize", h.Finalize)
	return e, h
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func strList(t *testing.T, payload map[string]any, key string) []string {
	t.Helper()
	raw, ok := payload[key]
	if !ok {
		t.Fatalf("response missing %q: %v", key, payload)
	}
	items, ok := raw.([]any)
	if !ok {
		t.Fatalf("%q is not a list: %v", key, raw)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(string))
	}
	return out
}

func TestUpsertLeaseOK(t *testing.T) {
	e, _ := newTestServer()
	rec, payload := doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease",
		`{"session_id":"t1","seats":["A1","A2"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
	expires, ok := payload["expires_at"].(string)
	if !ok {
		t.Fatalf("missing expires_at: %v", payload)
	}
	if _, err := time.Parse(time.RFC3339, expires); err != nil {
		t.Fatalf("expires_at not RFC3339: %q", expires)
	}
}

func TestUpsertLeaseConflictPayload(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["B"]}`)
	if rec, _ := doJSON(t, e, http.MethodPost, "/v1/events/ev1/finalize", `{"session_id":"t2"}`); rec.Code != http.StatusCreated {
		t.Fatalf("finalize status = %d", rec.Code)
	}

	rec, payload := doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease",
		`{"session_id":"t3","seats":["A","B"]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if payload["status"] != "conflict" {
		t.Fatalf("payload = %v", payload)
	}
	held := strList(t, payload, "temporarily_held_by_others")
	sold := strList(t, payload, "permanently_booked")
	if len(held) != 1 || held[0] != "A" {
		t.Fatalf("temporarily_held_by_others = %v, want [A]", held)
	}
	if len(sold) != 1 || sold[0] != "B" {
		t.Fatalf("permanently_booked = %v, want [B]", sold)
	}
}

func TestUpsertLeaseValidation(t *testing.T) {
	e, _ := newTestServer()
	rec, _ := doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"seats":["A"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session_id: status = %d", rec.Code)
	}
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", rec.Code)
	}
}

func TestReleaseLeaseAlwaysOK(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)

	rec, payload := doJSON(t, e, http.MethodDelete, "/v1/events/ev1/lease", `{"session_id":"t1"}`)
	if rec.Code != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("release: status = %d payload = %v", rec.Code, payload)
	}
	// Releasing again, and releasing a session that never held anything,
	// both succeed.
	rec, _ = doJSON(t, e, http.MethodDelete, "/v1/events/ev1/lease", `{"session_id":"t1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second release: status = %d", rec.Code)
	}
	rec, _ = doJSON(t, e, http.MethodDelete, "/v1/events/ev1/lease", `{"session_id":"ghost"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown session release: status = %d", rec.Code)
	}
	// The seat is free again.
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["A"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seat not free after release: status = %d", rec.Code)
	}
}

func TestReleaseLeaseSessionFromQuery(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)
	rec, _ := doJSON(t, e, http.MethodDelete, "/v1/events/ev1/lease?session_id=t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query-param release: status = %d body = %s", rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["A"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seat not free after query-param release: status = %d", rec.Code)
	}
}

func TestOthersHeldSeatsExcludesCaller(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["B"]}`)

	rec, payload := doJSON(t, e, http.MethodGet, "/v1/events/ev1/held-seats?session_id=t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	seats := strList(t, payload, "seats")
	if len(seats) != 1 || seats[0] != "B" {
		t.Fatalf("seats = %v, want [B] (own seats excluded)", seats)
	}
	if sold := strList(t, payload, "permanently_booked"); len(sold) != 0 {
		t.Fatalf("permanently_booked = %v, want empty", sold)
	}
}

func TestFinalizeWithoutLease(t *testing.T) {
	e, _ := newTestServer()
	rec, payload := doJSON(t, e, http.MethodPost, "/v1/events/ev1/finalize", `{"session_id":"t1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if payload["error"] != "no active lease" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestFinalizeThenSeatIsSold(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)
	rec, payload := doJSON(t, e, http.MethodPost, "/v1/events/ev1/finalize", `{"session_id":"t1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("finalize: status = %d body = %s", rec.Code, rec.Body.String())
	}
	if seats := strList(t, payload, "seats"); len(seats) != 1 || seats[0] != "A" {
		t.Fatalf("finalized seats = %v", seats)
	}

	rec, payload = doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["A"]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want conflict on sold seat", rec.Code)
	}
	if sold := strList(t, payload, "permanently_booked"); len(sold) != 1 || sold[0] != "A" {
		t.Fatalf("permanently_booked = %v, want [A]", sold)
	}
}

func TestEmptySeatListReleases(t *testing.T) {
	e, _ := newTestServer()
	doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":["A"]}`)
	rec, payload := doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t1","seats":[]}`)
	if rec.Code != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("empty upsert: status = %d payload = %v", rec.Code, payload)
	}
	if _, ok := payload["expires_at"]; ok {
		t.Fatalf("empty upsert should not return expires_at: %v", payload)
	}
	rec, _ = doJSON(t, e, http.MethodPost, "/v1/events/ev1/lease", `{"session_id":"t2","seats":["A"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seat not free after empty upsert: status = %d", rec.Code)
	}
}
