package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/repartos-backend/api/routes"
	"github.com/angelmondragon/repartos-backend/internal/bootstrap"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
)

const service = "api"

func main() {
	bootstrap.Exit(service, run())
}

func run() error {
	rt, err := bootstrap.Start(context.Background(), service, bootstrap.Options{Redis: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	services, err := buildServices(rt.Config, rt.Logger, rt.DB, rt.Redis, metrics.NewDomainMetrics(rt.Registry))
	if err != nil {
		return err
	}

	// Cloud Run injects PORT.
	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	srv := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.Deps{
			Config:  rt.Config,
			Logger:  rt.Logger,
			DB:      rt.DB,
			Redis:   rt.Redis,
			Metrics: promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
		}, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = rt.Logger.WithField(ctx, "addr", srv.Addr)
	rt.Logger.Info(ctx, "api server starting")

	group, groupCtx := errgroup.WithContext(ctx)
	bootstrap.Serve(groupCtx, group, srv)
	if err := group.Wait(); err != nil {
		return err
	}
	rt.Logger.Info(ctx, "api server stopped")
	return nil
}
