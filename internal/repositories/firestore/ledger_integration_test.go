//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/bazaar-market/ledger/internal/domain"
	pconfig "github.com/bazaar-market/ledger/internal/platform/config"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/repositories"
)

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "ledger-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func seedProduct(t *testing.T, ctx context.Context, provider *pfirestore.Provider, id string, stock int) {
	t.Helper()
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	if err := base.Set(ctx, id, productDocument{Name: id, Price: "60.00", Stock: stock, IsActive: true, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	counterID := uniqueID("orders")
	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, counterID)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestProductRepositoryReserveIsAllOrNothing(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	plenty, scarce := uniqueID("plenty"), uniqueID("scarce")
	seedProduct(t, ctx, provider, plenty, 5)
	seedProduct(t, ctx, provider, scarce, 1)

	_, err = repo.Reserve(ctx, []repositories.StockLine{{ProductID: plenty, Quantity: 2}, {ProductID: scarce, Quantity: 3}})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient || stockErr.Available != 1 {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	product, err := repo.FindByID(ctx, plenty)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if product.Stock != 5 {
		t.Fatalf("expected untouched stock 5, got %d", product.Stock)
	}

	reserved, err := repo.Reserve(ctx, []repositories.StockLine{{ProductID: plenty, Quantity: 2}, {ProductID: plenty, Quantity: 1}})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(reserved) != 1 || reserved[0].Stock != 2 {
		t.Fatalf("expected merged reservation leaving 2, got %+v", reserved)
	}

	restored, err := repo.Release(ctx, []repositories.StockLine{{ProductID: plenty, Quantity: 3}, {ProductID: uniqueID("gone"), Quantity: 1}})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(restored) != 1 || restored[0] != plenty {
		t.Fatalf("expected only existing product restored, got %v", restored)
	}
	product, _ = repo.FindByID(ctx, plenty)
	if product.Stock != 5 {
		t.Fatalf("expected stock back to 5, got %d", product.Stock)
	}
}

func TestOrderRepositoryListAndLookups(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	customer := uniqueID("customer")
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		order := domain.Order{
			ID:            uniqueID("order"),
			OrderNumber:   fmt.Sprintf("BZ-TEST-%d", i),
			CustomerID:    customer,
			Currency:      domain.DefaultCurrency,
			Subtotal:      decimal.NewFromInt(50),
			Tax:           decimal.NewFromInt(5),
			Shipping:      decimal.NewFromInt(10),
			Total:         decimal.NewFromInt(65),
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusUnpaid,
			PaymentMethod: "paypal",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
			UpdatedAt:     base,
		}
		if i == 2 {
			order.GatewayOrderID = uniqueID("PAYPAL")
			order.PaymentDetails = &domain.PaymentDetails{CaptureID: uniqueID("CAPTURE"), Amount: decimal.NewFromInt(65), Currency: "USD"}
		}
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if i == 2 {
			found, err := repo.FindByGatewayOrderID(ctx, order.GatewayOrderID)
			if err != nil || found.ID != order.ID {
				t.Fatalf("lookup by gateway id: %v %+v", err, found)
			}
			found, err = repo.FindByCaptureID(ctx, order.PaymentDetails.CaptureID)
			if err != nil || found.ID != order.ID {
				t.Fatalf("lookup by capture id: %v %+v", err, found)
			}
			if !found.Total.Equal(decimal.NewFromInt(65)) {
				t.Fatalf("expected total to round-trip, got %s", found.Total)
			}
		}
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{CustomerID: customer, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalItems != 3 || page.TotalPages != 2 || page.CurrentPage != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].OrderNumber != "BZ-TEST-0" {
		t.Fatalf("expected oldest order on last page, got %s", page.Items[0].OrderNumber)
	}

	_, err = repo.FindByGatewayOrderID(ctx, uniqueID("missing"))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}
