// Command auth-service signs browsers in against the identity provider,
// serves the web pages and the JSON API, and reads the product catalogue
// from the inventory service on the signed-in user's behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/realmguard/authservice"
	"github.com/ggoodman/realmguard/delegate"
	"github.com/ggoodman/realmguard/internal/config"
	"github.com/ggoodman/realmguard/internal/metrics"
	"github.com/ggoodman/realmguard/internal/serve"
	"github.com/ggoodman/realmguard/inventory"
	"github.com/ggoodman/realmguard/oidclogin"
	"github.com/ggoodman/realmguard/people"
	"github.com/ggoodman/realmguard/sessions"
	"github.com/ggoodman/realmguard/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "auth-service:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadAuthService()
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector("auth-service")
	kind, err := cfg.TokenKind()
	if err != nil {
		return err
	}
	ex := cfg.OIDC.Extractor()

	store, err := cfg.Storage.Open(ctx)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	persons := people.NewRepository(store)
	n, err := people.Seed(ctx, persons)
	if err != nil {
		return fmt.Errorf("seed persons: %w", err)
	}
	if n > 0 {
		log.InfoContext(ctx, "seed.persons", slog.Int("count", n))
	}

	authn, err := cfg.OIDC.Authenticator(ctx, cfg.Audience)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	pages, err := web.New(web.WithOverrideDir(cfg.TemplateDir), web.WithLogger(log))
	if err != nil {
		return err
	}
	go func() {
		if err := pages.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("web.watch.fail", slog.String("err", err.Error()))
		}
	}()

	sessStore := sessions.NewStore(store, cfg.SessionTTL)
	cookies := sessions.DefaultCookies(cfg.CookieSecure)

	login, err := oidclogin.New(ctx, oidclogin.Config{
		Issuer:                cfg.OIDC.IssuerURL,
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		RedirectURL:           cfg.RedirectURL(),
		Scopes:                cfg.ScopeList(),
		PostLogoutRedirectURL: strings.TrimRight(cfg.PublicURL, "/") + "/?logout=true",
	}, store, sessStore, cookies,
		oidclogin.WithLoginPage(authservice.LoginPage(pages)),
		oidclogin.WithAccessTokenAuthenticator(authn),
		oidclogin.WithRoleClaim(ex.Path...),
		oidclogin.WithObserver(collector),
		oidclogin.WithLogger(log),
	)
	if err != nil {
		return err
	}

	products := inventory.NewClient(&delegate.Client{
		BaseURL:  cfg.InventoryURL,
		Timeout:  cfg.CallTimeout,
		Logger:   log,
		Observer: collector,
	})

	svc, err := authservice.New(pages, persons, products,
		authservice.WithAuthenticator(authn),
		authservice.WithSessionResolver(sessions.NewResolver(sessStore, cookies,
			sessions.WithExtractor(ex),
			sessions.WithDelegatedToken(kind),
		)),
		authservice.WithLogin(login),
		authservice.WithExtractor(ex),
		authservice.WithObserver(collector),
		authservice.WithLogger(log),
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
