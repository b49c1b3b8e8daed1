package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/repartos-backend/internal/auditlog"
	"github.com/angelmondragon/repartos-backend/internal/bootstrap"
	"github.com/angelmondragon/repartos-backend/internal/cron"
	"github.com/angelmondragon/repartos-backend/internal/globalconfig"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/pricing"
	"github.com/angelmondragon/repartos-backend/internal/stock"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/redis"
)

const (
	service  = "cron-worker"
	lockName = "cron-worker"
)

func main() {
	bootstrap.Exit(service, run())
}

func run() error {
	rt, err := bootstrap.Start(context.Background(), service, bootstrap.Options{Redis: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	registry, err := buildRegistry(rt.Config, rt.Logger, rt.DB, rt.Redis, metrics.NewDomainMetrics(rt.Registry))
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(rt.Redis, lockName, rt.Config.Cron.LockTTL)
	if err != nil {
		return err
	}
	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(rt.Registry),
		Interval: rt.Config.Cron.Interval,
	})
	if err != nil {
		return err
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	rt.Logger.Info(ctx, "cron worker starting")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := scheduler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	bootstrap.Serve(groupCtx, group, rt.MetricsServer(rt.Config.Cron.MetricsAddr))
	if err := group.Wait(); err != nil {
		return err
	}
	rt.Logger.Info(ctx, "cron worker stopped")
	return nil
}

// buildRegistry wires the reconciliation and retention jobs. Routing is not
// needed here, so quotes fall back to straight-line distance.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, m *metrics.DomainMetrics) (*cron.Registry, error) {
	gdb := dbClient.DB()
	outboxRepo := outbox.NewRepository(gdb)
	emitter := outbox.NewService(outboxRepo, logg)

	configSvc, err := globalconfig.NewService(globalconfig.NewRepository(gdb), redisClient, cfg.Pricing, cfg.Geofence, logg)
	if err != nil {
		return nil, fmt.Errorf("global config service: %w", err)
	}
	quoter := pricing.NewQuoter(nil, logg, m)
	legRepo := legs.NewRepository(gdb)
	shipments, err := legs.NewService(legRepo, dbClient, emitter, configSvc, quoter, logg, m)
	if err != nil {
		return nil, fmt.Errorf("shipments service: %w", err)
	}
	stockSvc, err := stock.NewService(stock.NewRepository(gdb), cfg.Stock.MaxAttempts, logg, m)
	if err != nil {
		return nil, fmt.Errorf("stock service: %w", err)
	}
	auditSvc, err := auditlog.NewService(auditlog.NewRepository(gdb), logg)
	if err != nil {
		return nil, fmt.Errorf("audit log service: %w", err)
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(gdb),
		Legs:      legRepo,
		Shipments: shipments,
		Stock:     stockSvc,
		Audit:     auditSvc,
		Outbox:    emitter,
		Tx:        dbClient,
		Rates:     configSvc,
		Quoter:    quoter,
		Logger:    logg,
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), legRepo, dbClient, emitter, logg, m)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	reconcileJob, err := cron.NewLegReconcileJob(cron.LegReconcileJobParams{
		Logger: logg,
		Orders: orderSvc,
		Wallet: walletSvc,
		Batch:  cfg.Cron.ReconcileBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("leg reconcile job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Outbox:     cfg.Outbox,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return cron.NewRegistry(reconcileJob, retentionJob)
}
