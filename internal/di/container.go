package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/payments"
	"github.com/bazaar-market/ledger/internal/platform/config"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/repositories"
	firestoreRepo "github.com/bazaar-market/ledger/internal/repositories/firestore"
	"github.com/bazaar-market/ledger/internal/services"
)

// Registry exposes the repositories the ledger services are built from.
type Registry interface {
	Orders() repositories.OrderRepository
	Products() repositories.ProductRepository
	Counters() repositories.CounterRepository
	UnitOfWork() repositories.UnitOfWork
	Health() repositories.HealthRepository
	Close(ctx context.Context) error
}

// Collaborators are the non-repository dependencies of the services.
type Collaborators struct {
	Gateway  payments.Gateway
	Notifier services.Notifier
	Receipts services.ReceiptArchive
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Build    services.BuildInfo
	Clock    func() time.Time

	// OptionalChecks names readiness probes that only degrade the report when failing.
	OptionalChecks []string
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, collab)
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

func buildServices(cfg config.Config, reg Registry, collab Collaborators) (Services, error) {
	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}

	pricing := domain.PricingPolicy{
		TaxRate:          cfg.Pricing.TaxRate,
		FreeShippingOver: cfg.Pricing.FreeShippingOver,
		FlatShippingFee:  cfg.Pricing.FlatShippingFee,
	}
	if pricing.TaxRate.IsZero() && pricing.FlatShippingFee.IsZero() && pricing.FreeShippingOver.IsZero() {
		pricing = domain.DefaultPricingPolicy()
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		Counters:    reg.Counters(),
		UnitOfWork:  reg.UnitOfWork(),
		Notifier:    collab.Notifier,
		Pricing:     &pricing,
		Clock:       clock,
		IDGenerator: func() string { return ulid.Make().String() },
		Logger:      collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg.UnitOfWork(),
		Gateway:    collab.Gateway,
		Notifier:   collab.Notifier,
		Receipts:   collab.Receipts,
		Clock:      clock,
		Logger:     collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	var system services.SystemService
	if health := reg.Health(); health != nil {
		system, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            collab.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return Services{
		Orders:   orders,
		Payments: paymentSvc,
		System:   system,
	}, nil
}

type firestoreRegistry struct {
	provider *pfirestore.Provider
	orders   *firestoreRepo.OrderRepository
	products *firestoreRepo.ProductRepository
	counters *firestoreRepo.CounterRepository
	unit     *pfirestore.UnitOfWork
	health   repositories.HealthRepository
}

// NewFirestoreRegistry builds the Firestore repositories. A Firestore readiness probe is added
// in front of the extra checks.
func NewFirestoreRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}

	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	products, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	counters, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	all := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &firestoreRegistry{
		provider: provider,
		orders:   orders,
		products: products,
		counters: counters,
		unit:     pfirestore.NewUnitOfWork(provider),
		health:   health,
	}, nil
}

func (r *firestoreRegistry) Orders() repositories.OrderRepository     { return r.orders }
func (r *firestoreRegistry) Products() repositories.ProductRepository { return r.products }
func (r *firestoreRegistry) Counters() repositories.CounterRepository { return r.counters }
func (r *firestoreRegistry) UnitOfWork() repositories.UnitOfWork      { return r.unit }
func (r *firestoreRegistry) Health() repositories.HealthRepository    { return r.health }

func (r *firestoreRegistry) Close(context.Context) error {
	return r.provider.Close()
}
