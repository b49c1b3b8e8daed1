package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/repartos-backend/api/routes"
	"github.com/angelmondragon/repartos-backend/internal/auditlog"
	"github.com/angelmondragon/repartos-backend/internal/delivery"
	"github.com/angelmondragon/repartos-backend/internal/dispatch"
	"github.com/angelmondragon/repartos-backend/internal/globalconfig"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	"github.com/angelmondragon/repartos-backend/internal/pricing"
	"github.com/angelmondragon/repartos-backend/internal/stock"
	"github.com/angelmondragon/repartos-backend/internal/tracking"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/maps"
	"github.com/angelmondragon/repartos-backend/pkg/mercadopago"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/redis"
)

const webhookDedupScope = "mp-webhook"

// buildServices wires the domain services on top of the shared clients.
// Missing Mapbox or MercadoPago credentials degrade routing to straight-line
// distance and disable online checkout.
func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, m *metrics.DomainMetrics) (routes.Services, error) {
	gdb := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)

	configSvc, err := globalconfig.NewService(globalconfig.NewRepository(gdb), redisClient, cfg.Pricing, cfg.Geofence, logg)
	if err != nil {
		return routes.Services{}, fmt.Errorf("global config service: %w", err)
	}

	var router pricing.Router
	if cfg.Routing.Token != "" {
		mapsClient, err := maps.NewClient(cfg.Routing.Token,
			maps.WithBaseURL(cfg.Routing.BaseURL),
			maps.WithTimeout(cfg.Routing.Timeout),
		)
		if err != nil {
			return routes.Services{}, fmt.Errorf("maps client: %w", err)
		}
		router = mapsClient
	} else {
		logg.Warn(logg.WithField(context.Background(), "provider", "mapbox"), "routing token not set, pricing by straight-line distance")
	}
	quoter := pricing.NewQuoter(router, logg, m)

	legRepo := legs.NewRepository(gdb)
	shipments, err := legs.NewService(legRepo, dbClient, emitter, configSvc, quoter, logg, m)
	if err != nil {
		return routes.Services{}, fmt.Errorf("shipments service: %w", err)
	}

	stockSvc, err := stock.NewService(stock.NewRepository(gdb), cfg.Stock.MaxAttempts, logg, m)
	if err != nil {
		return routes.Services{}, fmt.Errorf("stock service: %w", err)
	}
	auditSvc, err := auditlog.NewService(auditlog.NewRepository(gdb), logg)
	if err != nil {
		return routes.Services{}, fmt.Errorf("audit log service: %w", err)
	}

	orderRepo := orders.NewRepository(gdb)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orderRepo,
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
		return routes.Services{}, fmt.Errorf("order service: %w", err)
	}

	dispatchSvc, err := dispatch.NewService(legRepo, orderSvc, dbClient, emitter, logg, m)
	if err != nil {
		return routes.Services{}, fmt.Errorf("dispatch service: %w", err)
	}

	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), legRepo, dbClient, emitter, logg, m)
	if err != nil {
		return routes.Services{}, fmt.Errorf("wallet service: %w", err)
	}

	deliverySvc, err := delivery.NewService(delivery.ServiceParams{
		Legs:      legRepo,
		OrderRows: orderRepo,
		Orders:    orderSvc,
		Wallet:    walletSvc,
		Rates:     configSvc,
		Tx:        dbClient,
		Outbox:    emitter,
		Logger:    logg,
		Metrics:   m,
	})
	if err != nil {
		return routes.Services{}, fmt.Errorf("delivery service: %w", err)
	}

	trackingSvc, err := tracking.NewService(legRepo, redisClient, redisClient, cfg.Tracking, logg)
	if err != nil {
		return routes.Services{}, fmt.Errorf("tracking service: %w", err)
	}

	var paymentSvc payments.Service
	if cfg.MercadoPago.AccessToken != "" {
		mpClient, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken,
			mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL),
			mercadopago.WithTimeout(cfg.MercadoPago.Timeout),
			mercadopago.WithNotificationURL(cfg.App.PublicURL+"/webhooks/mercadopago"),
		)
		if err != nil {
			return routes.Services{}, fmt.Errorf("mercadopago client: %w", err)
		}
		guard, err := payments.NewNotificationGuard(redisClient, cfg.MercadoPago.DedupTTL, webhookDedupScope)
		if err != nil {
			return routes.Services{}, fmt.Errorf("notification guard: %w", err)
		}
		paymentSvc, err = payments.NewService(mpClient, orderSvc, shipments, guard, logg)
		if err != nil {
			return routes.Services{}, fmt.Errorf("payments service: %w", err)
		}
	} else {
		logg.Warn(logg.WithField(context.Background(), "provider", "mercadopago"), "access token not set, online checkout disabled")
	}

	return routes.Services{
		Orders:    orderSvc,
		Shipments: shipments,
		Dispatch:  dispatchSvc,
		Delivery:  deliverySvc,
		Wallet:    walletSvc,
		Tracking:  trackingSvc,
		Payments:  paymentSvc,
		Config:    configSvc,
	}, nil
}
