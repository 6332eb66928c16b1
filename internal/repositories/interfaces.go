package repositories

import (
	"context"

	domain "github.com/bazaar-market/ledger/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository calls into one atomic boundary. Repositories invoked with the
// context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	FindByCaptureID(ctx context.Context, captureID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// ProductRepository is the slice of the catalog store the ledger depends on.
type ProductRepository interface {
	// Reserve decrements stock for every line or for none of them.
	Reserve(ctx context.Context, lines []StockLine) ([]domain.Product, error)
	// Release increments stock for every line whose product still exists and returns the
	// product IDs that were restored.
	Release(ctx context.Context, lines []StockLine) ([]string, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// StockLine is a quantity of a single product to reserve or release.
type StockLine struct {
	ProductID string
	Quantity  int
}

// OrderListFilter narrows order listings. Zero values mean "any".
type OrderListFilter struct {
	CustomerID string
	Status     domain.OrderStatus
	Page       int
	Limit      int
}
