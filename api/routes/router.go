package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/repartos-backend/api/controllers"
	"github.com/angelmondragon/repartos-backend/api/middleware"
	"github.com/angelmondragon/repartos-backend/internal/delivery"
	"github.com/angelmondragon/repartos-backend/internal/dispatch"
	"github.com/angelmondragon/repartos-backend/internal/globalconfig"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	"github.com/angelmondragon/repartos-backend/internal/tracking"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/repartos-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs for idempotency and
// public rate limiting.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	counterStore
}

type counterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Services bundles the domain services the router exposes.
type Services struct {
	Orders    orders.Service
	Shipments legs.Service
	Dispatch  dispatch.Service
	Delivery  delivery.Service
	Wallet    wallet.Service
	Tracking  tracking.Service
	Payments  payments.Service
	Config    globalconfig.Service
}

// Deps carries infrastructure for the router. Redis and Metrics may be nil.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      controllers.Pinger
	Redis   RedisStore
	Metrics http.Handler
}

func NewRouter(deps Deps, svc Services) http.Handler {
	cfg, logg := deps.Config, deps.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		chimw.RealIP,
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"database": deps.DB}
	var (
		idempotency pkgredis.IdempotencyStore
		counters    counterStore
	)
	if deps.Redis != nil {
		idempotency = deps.Redis
		counters = deps.Redis
		readiness["redis"] = deps.Redis
	}
	publicPolicy := middleware.NewRateLimitPolicy("public", cfg.RateLimit.PublicWindow, cfg.RateLimit.PublicIPLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(publicPolicy, counters, logg))
		r.Get("/tracking/{token}", controllers.TrackingView(svc.Tracking, logg))
		r.Post("/webhooks/mercadopago", controllers.MercadoPagoWebhook(svc.Payments, cfg.MercadoPago.WebhookSecret, logg))
	})

	// Role checks run before idempotency so a refused caller never claims a key.
	guard := middleware.NewIdempotencyGuard(idempotency, logg)
	day, week := guard.Require(middleware.ReplayWindow), guard.Require(middleware.LongReplayWindow)
	role := func(allowed ...enums.ActorRole) func(http.Handler) http.Handler {
		return middleware.RequireRole(logg, allowed...)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(role(enums.ActorRoleCustomer), week).Post("/", controllers.OrderCreate(svc.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(svc.Orders, logg))
			r.Get("/{orderId}/history", controllers.OrderHistory(svc.Orders, logg))
			r.With(role(enums.ActorRoleMerchant, enums.ActorRoleCourier, enums.ActorRoleAdmin), day).
				Post("/{orderId}/transition", controllers.OrderTransition(svc.Orders, logg))
			r.With(role(enums.ActorRoleCustomer, enums.ActorRoleAdmin), day).
				Post("/{orderId}/payment", controllers.OrderPayment(svc.Payments, logg))
		})

		r.Route("/couriers/{courierId}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(role(enums.ActorRoleCourier))
				r.With(week).Post("/deliver", controllers.CourierDeliver(svc.Delivery, logg))
				r.With(day).Post("/claim", controllers.CourierClaim(svc.Dispatch, logg))
				r.Post("/position", controllers.CourierPosition(svc.Tracking, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(role(enums.ActorRoleCourier, enums.ActorRoleAdmin))
				r.Get("/wallet", controllers.CourierWallet(svc.Wallet, logg))
				r.Get("/wallet/transactions", controllers.CourierWalletTransactions(svc.Wallet, logg))
				r.With(week).Post("/wallet/withdrawals", controllers.CourierWithdraw(svc.Wallet, logg))
			})
		})

		r.With(role(enums.ActorRoleCourier)).
			Get("/dispatch/available", controllers.DispatchAvailable(svc.Dispatch, logg))

		r.Route("/shipments", func(r chi.Router) {
			r.With(role(enums.ActorRoleMerchant, enums.ActorRoleAdmin), day).
				Post("/", controllers.ShipmentCreate(svc.Shipments, logg))
			r.Get("/{legId}", controllers.ShipmentDetail(svc.Shipments, logg))
			r.With(day).Post("/{legId}/transition", controllers.ShipmentTransition(svc.Orders, logg))
			r.With(role(enums.ActorRoleMerchant, enums.ActorRoleAdmin), day).
				Post("/{legId}/payment", controllers.ShipmentPayment(svc.Payments, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(role(enums.ActorRoleAdmin))
			r.With(day).Post("/dispatch/assign", controllers.AdminDispatchAssign(svc.Dispatch, logg))
			r.With(week).Post("/wallets/{courierId}/adjustments", controllers.AdminWalletAdjust(svc.Wallet, logg))
			r.Get("/config", controllers.AdminConfigGet(svc.Config, logg))
			r.Put("/config", controllers.AdminConfigUpdate(svc.Config, logg))
		})
	})

	return r
}
