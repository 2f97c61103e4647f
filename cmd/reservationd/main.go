package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Freeeeeet/reservation_core/internal/app"
	"github.com/Freeeeeet/reservation_core/internal/cache"
	"github.com/Freeeeeet/reservation_core/internal/config"
	"github.com/Freeeeeet/reservation_core/internal/metrics"
	"github.com/Freeeeeet/reservation_core/internal/repository"
	"github.com/Freeeeeet/reservation_core/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	metrics.Register()

	var availabilityCache service.AvailabilityCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		availabilityCache = cache.NewAvailabilityCache(client, cfg.AvailabilityCacheTTL, logger)
	}

	roomRepo := repository.NewRoomRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool, cfg.LockTimeout)
	groupRepo := repository.NewGroupRepository(pool, cfg.LockTimeout)

	bookingService := service.NewBookingService(roomRepo, bookingRepo, availabilityCache, logger)
	groupService := service.NewGroupService(groupRepo, roomRepo, bookingRepo, availabilityCache, cfg.GroupPartialConfirm, logger)

	scheduler := app.NewScheduler(groupService, cfg.GroupExpiryInterval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Служебный HTTP: метрики, liveness и read-only проба доступности.
	// Основные операции ядра вызываются модулями-коллаборантами напрямую.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/availability", func(w http.ResponseWriter, r *http.Request) {
		roomID, err := strconv.ParseInt(r.URL.Query().Get("room_id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid room_id", http.StatusBadRequest)
			return
		}
		checkIn, errIn := time.Parse("2006-01-02", r.URL.Query().Get("check_in"))
		checkOut, errOut := time.Parse("2006-01-02", r.URL.Query().Get("check_out"))
		if errIn != nil || errOut != nil {
			http.Error(w, "invalid dates", http.StatusBadRequest)
			return
		}

		available, err := bookingService.CheckAvailability(r.Context(), roomID, checkIn, checkOut)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"available":%t}`, available)
	})
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("Reservation core started", zap.String("environment", cfg.Environment))

	if err := g.Wait(); err != nil {
		logger.Error("Shutdown with error", zap.Error(err))
	}
	logger.Info("Reservation core stopped")
}
