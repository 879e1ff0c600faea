package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/fintrack/internal/api"
	"github.com/example/fintrack/internal/auth"
	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/config"
	"github.com/example/fintrack/internal/events"
	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/internal/storage/memory"
	"github.com/example/fintrack/internal/storage/postgres"
	"github.com/example/fintrack/internal/storage/sqlite"
	"github.com/example/fintrack/pkg/audit"
)

// store is the full persistence contract the service stack needs; every
// backend satisfies it.
type store interface {
	ledger.Store
	budget.Store
	category.Store
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, cleanup, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	registry := category.NewRegistry(st)
	accountLedger := ledger.NewAccountLedger(st, logger)
	aggregator := budget.NewAggregator(st, st, logger)
	accountLedger.Observe(aggregator)

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		accountLedger.Observe(publisher)
	}

	transfers := ledger.NewTransferCoordinator(st, accountLedger, logger)
	service := ledger.NewService(st, accountLedger, transfers, registry, aggregator, logger)

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "fintrack_api",
			Capacity:   cfg.RateLimitBurst,
			RefillRate: float64(cfg.RateLimitRPS),
		}
	}

	allowlist, err := security.ParseAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Validator:    &auth.Validator{Secret: []byte(cfg.JWTSecret), Issuer: "fintrack"},
		Ledger:       service,
		Categories:   registry,
		Budgets:      aggregator,
		Auditor:      audit.NewTrail(),
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.HTTPAddr, "error", err)
		os.Exit(1)
	}

	if cfg.TLSCertFile != "" {
		if err := security.VerifyTLSFiles(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			logger.Error("bad TLS configuration", "error", err)
			os.Exit(1)
		}
		tlsCfg, err := security.LoadServerTLSConfig(security.TLSConfig{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
		})
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("fintrack api listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend, "tls", cfg.TLSCertFile != "")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}
