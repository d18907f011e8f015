package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"    // .env loading for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/tickethub/seatlease/internal/config"
	"github.com/tickethub/seatlease/internal/database"
	"github.com/tickethub/seatlease/internal/handler"
	"github.com/tickethub/seatlease/internal/lease"
	"github.com/tickethub/seatlease/internal/queue"
	"github.com/tickethub/seatlease/internal/repository"
	"github.com/tickethub/seatlease/internal/router"
	queue_publisher "github.com/tickethub/seatlease/internal/service"
	"github.com/tickethub/seatlease/internal/store"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env vars directly
	cfg := config.Load()

	st := store.New()

	// The booking archive is optional: without DB_HOST the service runs
	// memory-only and permanently sold seats do not survive a restart.
	var archive lease.BookingArchive
	if cfg.DBHost != "" {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		repo := repository.NewBookingRepo(db)
		seedStore(st, repo)
		archive = repo
	}

	mgr := lease.New(st, cfg.LeaseTTL, queue_publisher.New(), archive)

	// Background workers: expiry sweep and the lease event consumer.
	go lease.NewSweeper(mgr, cfg.SweepInterval).Start(context.Background())
	go func() {
		if err := queue.StartLeaseConsumer(); err != nil {
			log.Printf("lease consumer stopped: %v", err)
		}
	}()

	rdb := config.NewRedisClient() // nil disables rate limiting and caching

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterReservation(e, handler.NewReservationHandler(mgr), rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s ttl=%s sweep=%s)", addr, cfg.Env, cfg.LeaseTTL, cfg.SweepInterval)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// seedStore replays the archived bookings so seats sold before the last
// restart stay unavailable.
func seedStore(st *store.Store, repo *repository.BookingRepo) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	byEvent, err := repo.BookedSeatsByEvent(ctx)
	if err != nil {
		log.Fatalf("seed bookings: %v", err)
	}
	total := 0
	for eventID, seats := range byEvent {
		st.RecordBooking(eventID, seats)
		total += len(seats)
	}
	log.Printf("seeded %d booked seat(s) across %d event(s)", total, len(byEvent))
}
