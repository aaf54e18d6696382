package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/refrange/internal/domain/catalogversion"
	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/auth"
	"github.com/ehr/refrange/internal/platform/db"
	"github.com/ehr/refrange/internal/platform/middleware"
)

func serveCmd() *cobra.Command {
	var (
		port      string
		timeout   time.Duration
		bodyLimit string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve audits, repairs and catalog versions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if port == "" {
				port = a.cfg.Port
			}
			rangeSvc, err := a.rangeService("")
			if err != nil {
				return err
			}
			e := newServer(a, rangeSvc, a.catalogService(), timeout, bodyLimit)
			return runServer(ctx, a, e, ":"+port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default PORT)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Per-request deadline")
	cmd.Flags().StringVar(&bodyLimit, "body-limit", "64K", "Maximum request body size")
	return cmd
}

func newServer(a *app, rangeSvc *refrange.Service, catalogSvc *catalogversion.Service, timeout time.Duration, bodyLimit string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.BodyLimit(bodyLimit))

	e.GET("/health", db.HealthHandler(a.pool, version))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(timeout))
	if a.cfg.AuthSigningKey != "" {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		}))
		apiV1.Use(auth.RequireRoleForWrites(auth.RoleEditor))
	} else {
		a.logger.Warn().Msg("AUTH_SIGNING_KEY not set, API is unauthenticated")
	}
	apiV1.Use(db.TenantMiddleware(a.pool, a.cfg.DefaultTenant))

	refrange.NewHandler(rangeSvc).RegisterRoutes(apiV1)
	catalogversion.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	return e
}

func runServer(ctx context.Context, a *app, e *echo.Echo, addr string) error {
	errc := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
