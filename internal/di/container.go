package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/platform/config"
	"github.com/naturevibes/api/internal/platform/observability"
	"github.com/naturevibes/api/internal/repositories"
	"github.com/naturevibes/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders         services.OrderService
	Reconciliation services.ReconciliationService
	Reporting      services.ReportingService
	System         services.SystemService
}

// Dependencies carries the collaborators that live outside the repository registry.
type Dependencies struct {
	// Gateway opens hosted checkout sessions. Nil disables the checkout route.
	Gateway payments.Gateway
	// Events receives order lifecycle events. Nil disables publishing.
	Events services.OrderEventPublisher
	// Health backs the readiness report. Nil leaves System unset.
	Health repositories.HealthRepository
	Build  services.BuildInfo
	Logger *zap.Logger
	Clock  func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	serviceLogger := func(name string) services.Logger {
		return services.Logger(observability.ServiceLogger(logger.Named(name)))
	}

	tolerance := decimal.NewFromFloat(cfg.Orders.AmountTolerance)
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Users:           reg.Users(),
		Gateway:         deps.Gateway,
		Events:          deps.Events,
		AmountTolerance: &tolerance,
		FrontendURL:     cfg.Frontend.URL,
		Clock:           clock,
		Logger:          serviceLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reconciliationSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders: reg.Orders(),
		Events: deps.Events,
		Clock:  clock,
		Logger: serviceLogger("reconciliation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliationSvc

	reportingSvc, err := services.NewReportingService(services.ReportingServiceDeps{
		Orders:        reg.Orders(),
		Users:         reg.Users(),
		Products:      reg.Products(),
		Events:        deps.Events,
		SummaryRecent: cfg.Orders.SummaryRecent,
		Clock:         clock,
		Logger:        serviceLogger("reporting"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reporting service: %w", err)
	}
	svc.Reporting = reportingSvc

	if deps.Health != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
