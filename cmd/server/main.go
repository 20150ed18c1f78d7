/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stake ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store (SQLite, Postgres or memory)
  3. Create the token ledger and register the reserve
  4. Choose the lock backend (Redis when REDIS_URL is set)
  5. Build the engine and deploy it on first start
  6. Start the HTTP server and liability reporter

COMMAND-LINE FLAGS:
  See config/config.go. Every flag has an environment variable.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Stop the liability reporter
  4. Close store and Redis connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/staking.db" -owner=0x...

  # Run against Postgres with Redis locks
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_URL=redis://localhost:6379/0 ./server

  # Run in memory on a different port
  ./server -db-driver=memory -port=3000

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - staking/engine.go: The contract
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stake-ledger/api"
	"github.com/warp/stake-ledger/config"
	"github.com/warp/stake-ledger/lock"
	"github.com/warp/stake-ledger/reserve"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/staking/store"
	"github.com/warp/stake-ledger/store/postgres"
	"github.com/warp/stake-ledger/store/sqlite"
	"github.com/warp/stake-ledger/token"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	tok := token.New(cfg.Token, log)

	reserves := reserve.NewDirectory()
	if !staking.IsZeroAddress(cfg.Reserve) {
		res, err := reserve.New(cfg.Reserve, cfg.Token, cfg.Contract)
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		if err := reserves.Register(res); err != nil {
			return fmt.Errorf("register reserve: %w", err)
		}
	}

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	engine, err := staking.NewEngine(staking.Config{
		Address:      cfg.Contract,
		TokenAddress: cfg.Token,
		Store:        st,
		Token:        tok,
		Locker:       locker,
		Reserves:     reserves,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	if !staking.IsZeroAddress(cfg.Owner) {
		err := engine.Deploy(ctx, cfg.Owner)
		switch {
		case errors.Is(err, staking.ErrAlreadyInitialized):
			log.Debug("contract already deployed")
		case err != nil:
			return fmt.Errorf("deploy: %w", err)
		}
	}

	handler := api.NewHandler(engine, tok, reserves, log)
	reporter, err := api.NewLiabilityReporter(engine, tok, handler.Metrics, cfg.LiabilitySchedule, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"driver":   cfg.DBDriver,
			"contract": cfg.Contract.Hex(),
			"token":    cfg.Token.Hex(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reporter.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return reporter.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (staking.TxStore, func(), error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		log.Warn("memory store: nothing is persisted and every transaction copies the ledger")
		return store.NewTxMemory(), func() {}, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (staking.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.WithField("addr", opts.Addr).Info("using redis locks")
	return lock.NewRedis(client, lock.WithLogger(log)), func() { client.Close() }, nil
}
