// Command inventory-service serves the product catalogue to bearer token
// holders with the ADMIN realm role.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/realmguard/internal/config"
	"github.com/ggoodman/realmguard/internal/metrics"
	"github.com/ggoodman/realmguard/internal/serve"
	"github.com/ggoodman/realmguard/inventory"
	"github.com/ggoodman/realmguard/inventoryservice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "inventory-service:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadInventory()
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector("inventory-service")

	store, err := cfg.Storage.Open(ctx)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	repo := inventory.NewRepository(store)
	// A shared redis store already holds the catalogue after the first start.
	existing, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	if len(existing) == 0 {
		seeded, err := inventory.Seed(ctx, repo)
		if err != nil {
			return fmt.Errorf("seed products: %w", err)
		}
		log.InfoContext(ctx, "seed.products", slog.Int("count", len(seeded)))
	}

	authn, err := cfg.OIDC.Authenticator(ctx, cfg.Audience)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	svc, err := inventoryservice.New(cfg.PublicURL, repo, authn,
		inventoryservice.WithLogger(log),
		inventoryservice.WithExtractor(cfg.OIDC.Extractor()),
		inventoryservice.WithObserver(collector),
	)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve.ListenAndServe(gctx, cfg.ListenAddr, svc, log) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serve.ListenAndServe(gctx, cfg.MetricsAddr, metrics.Handler(metrics.NewRegistry(collector)), log)
		})
	}
	return g.Wait()
}
