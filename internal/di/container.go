package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vinuvisthara/api/internal/platform/config"
	"github.com/vinuvisthara/api/internal/platform/observability"
	"github.com/vinuvisthara/api/internal/repositories"
	"github.com/vinuvisthara/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Discounts     services.DiscountResolver
	Cart          services.CartService
	Orders        services.OrderService
	Fulfillment   services.FulfillmentService
	Payments      services.PaymentService
	System        services.SystemService
	Notifications *services.NotificationDispatcher
}

// Dependencies carries the infrastructure built by the caller. Only Registry is
// required; a nil Gateway leaves Services.Payments unset and a nil Health
// leaves Services.System unset.
type Dependencies struct {
	Registry  repositories.Registry
	Carrier   services.ShipmentGateway
	Gateway   services.PaymentGateway
	Labels    services.LabelArchive
	Publisher services.NotificationPublisher
	Metrics   services.Metrics
	Health    repositories.HealthRepository
	Build     services.BuildInfo
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests supply the memory
// registry; production passes the Firestore store.
func NewContainer(_ context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

func buildServices(cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	reg := deps.Registry
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	named := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(logger.Named(name))
	}

	svc.Notifications = services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Publisher: deps.Publisher,
		StoreName: cfg.Commerce.StoreName,
		Locale:    cfg.Commerce.Locale,
		Clock:     clock,
		Logger:    named("notifications"),
	})

	discounts, err := services.NewDiscountResolver(services.DiscountResolverDeps{
		Discounts: reg.Discounts(),
		Coupons:   reg.Coupons(),
		Products:  reg.Products(),
		Clock:     clock,
		Logger:    named("discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount resolver: %w", err)
	}
	svc.Discounts = discounts

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Settings:        reg.Settings(),
		Discounts:       discounts,
		UnitOfWork:      reg.UnitOfWork(),
		Clock:           clock,
		DefaultCurrency: cfg.Commerce.Currency,
		TaxFallbackBps:  cfg.Commerce.TaxFallbackBps,
		MaxLineQuantity: cfg.Commerce.MaxLineQuantity,
		Logger:          named("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Products:       reg.Products(),
		Carts:          reg.Carts(),
		Coupons:        reg.Coupons(),
		Settings:       reg.Settings(),
		Counters:       reg.Counters(),
		Discounts:      discounts,
		Carrier:        deps.Carrier,
		Notifications:  svc.Notifications,
		Metrics:        deps.Metrics,
		UnitOfWork:     reg.UnitOfWork(),
		Clock:          clock,
		Currency:       cfg.Commerce.Currency,
		TaxFallbackBps: cfg.Commerce.TaxFallbackBps,
		Logger:         named("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:        reg.Orders(),
		Carrier:       deps.Carrier,
		Labels:        deps.Labels,
		Notifications: svc.Notifications,
		Metrics:       deps.Metrics,
		UnitOfWork:    reg.UnitOfWork(),
		Clock:         clock,
		Logger:        named("fulfillment"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	if deps.Gateway != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:            reg.Orders(),
			Payments:          reg.Payments(),
			Carts:             reg.Carts(),
			Gateway:           deps.Gateway,
			Fulfillment:       fulfillmentSvc,
			AutoPushToCarrier: cfg.Carrier.AutoPush,
			Notifications:     svc.Notifications,
			Metrics:           deps.Metrics,
			UnitOfWork:        reg.UnitOfWork(),
			Clock:             clock,
			Logger:            named("payments"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	} else {
		logger.Warn("payment gateway not configured; online payments disabled")
	}

	if deps.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
