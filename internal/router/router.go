package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/tickethub/seatlease/internal/config"
	"github.com/tickethub/seatlease/internal/handler"
	"github.com/tickethub/seatlease/internal/middleware"
)

// RegisterRoutes registers routes that carry no reservation state on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterReservation registers the lease protocol endpoints under /v1.
// All routes share the Redis token-bucket rate limiter; the held-seats
// polling endpoint additionally sits behind a short-TTL response cache
// so popular events do not hammer the per-event mutex.  Both middleware
// become pass-throughs when rdb is nil, so the service (and its tests)
// runs without Redis.
func RegisterReservation(e *echo.Echo, h *handler.ReservationHandler, rdb *redis.Client) {
	g := e.Group("/v1")
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	// Set or replace the session's seat selection for an event.  The body
	// carries the complete desired seat set; prior seats not in the set are
	// released atomically with the new acquisition.
	g.POST("/events/:id/lease", h.UpsertLease)
	// Release the session's lease.  Idempotent; browsers fire this
	// best-effort when the buyer navigates away.
	g.DELETE("/events/:id/lease", h.ReleaseLease)
	// Poll the seats unavailable to the calling session.  Cached briefly
	// per (route, query) so concurrent pollers share one store read.
	g.GET("/events/:id/held-seats", h.OthersHeldSeats, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	// Convert the session's active lease into a permanent booking.
	g.POST("/events/:id/finalize", h.Finalize)
}
