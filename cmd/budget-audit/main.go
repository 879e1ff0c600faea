// Command budget-audit checks every stored budget spent total against a
// from-scratch recomputation over the posting journal and reports any
// drift. With -fix it also rewrites drifted totals.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/config"
	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/storage/postgres"
	"github.com/example/fintrack/internal/storage/sqlite"
)

type store interface {
	ledger.Store
	budget.Store
}

func main() {
	fix := flag.Bool("fix", false, "rewrite drifted spent totals")
	workers := flag.Int("workers", 4, "concurrent verifications")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	aggregator := budget.NewAggregator(st, st, logger)

	budgets, err := st.ListBudgets(ctx, "")
	if err != nil {
		logger.Error("failed to list budgets", "error", err)
		os.Exit(1)
	}

	var (
		mu      sync.Mutex
		drifted int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for _, b := range budgets {
		b := b
		g.Go(func() error {
			stored, computed, err := aggregator.Verify(ctx, b.ID)
			if err != nil {
				return err
			}
			if stored.Equal(computed) {
				return nil
			}

			mu.Lock()
			drifted++
			mu.Unlock()
			logger.Warn("spent total drifted",
				"budget_id", b.ID,
				"owner_id", b.OwnerID,
				"stored", stored.String(),
				"computed", computed.String(),
			)

			if *fix {
				if _, err := aggregator.RecomputeSpent(ctx, b.OwnerID, b.ID); err != nil {
					return err
				}
				logger.Info("spent total repaired", "budget_id", b.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("audit failed", "error", err)
		os.Exit(1)
	}

	logger.Info("audit complete", "budgets", len(budgets), "drifted", drifted, "fixed", *fix && drifted > 0)
	if drifted > 0 && !*fix {
		os.Exit(2)
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
		return nil, nil, errors.New("budget-audit needs a durable backend, set STORE_BACKEND to sqlite or postgres")
	}
}
