package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/misionbonos/bond-engine/internal/api"
	"github.com/misionbonos/bond-engine/internal/config"
	"github.com/misionbonos/bond-engine/internal/game"
	"github.com/misionbonos/bond-engine/internal/lock"
	"github.com/misionbonos/bond-engine/internal/metrics"
	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/scenario"
	"github.com/misionbonos/bond-engine/internal/store"
)

const exampleGameCode = "EXAMPLE"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store and lock ---
	var st store.SessionStore
	var locker lock.Locker = lock.NewKeyedMutex()
	var cleanup []func()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		slog.Info("Redis game lock enabled", "lock_ttl", cfg.LockTTL.String())
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	case cfg.StateDir != "":
		fs, err := store.NewFileStore(cfg.StateDir)
		if err != nil {
			slog.Error("state directory unusable", "err", err)
			os.Exit(1)
		}
		st = fs
		slog.Info("using file store", "dir", cfg.StateDir)
	default:
		slog.Warn("DATABASE_URL and STATE_DIR not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := api.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Game engine ---
	engine := game.New(st, locker,
		game.WithNotifier(wsHub),
		game.WithLockWait(cfg.LockWait),
	)

	if cfg.LoadExample {
		if err := seedExample(context.Background(), engine); err != nil {
			slog.Warn("example game not created", "err", err)
		}
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for classroom front-ends.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"bond-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(engine)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for game events; ?game=<code> to filter.
		r.Get("/ws", wsHub.HandleWS)

		// Everything else gets a request timeout; the socket is long-lived.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			handler.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bond-engine listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down bond-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopHub()
	fmt.Println("bond-engine stopped")
}

// seedExample creates the classroom example game unless it already exists.
func seedExample(ctx context.Context, e *game.Engine) error {
	_, err := e.CreateGame(ctx, exampleGameCode, model.DefaultConfig())
	if errors.Is(err, game.ErrGameExists) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = e.LoadScenario(ctx, exampleGameCode, scenario.Records(scenario.Example()))
	if err != nil {
		return err
	}
	slog.Info("example game ready", "game", exampleGameCode)
	return nil
}
