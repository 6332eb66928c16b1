package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/repositories"
)

type fakeRepoError struct {
	msg      string
	notFound bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return false }
func (e *fakeRepoError) IsUnavailable() bool { return false }

// memLedger keeps orders, products and counters in memory. RunInTx serialises transactions and
// restores the previous state when fn fails.
type memLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders   map[string]domain.Order
	products map[string]domain.Product
	counters map[string]int64

	insertErr error
	updateErr error
	updates   int
}

func newMemLedger(products ...domain.Product) *memLedger {
	l := &memLedger{
		orders:   map[string]domain.Order{},
		products: map[string]domain.Product{},
		counters: map[string]int64{},
	}
	for _, p := range products {
		l.products[p.ID] = p
	}
	return l
}

func (l *memLedger) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	l.mu.Lock()
	orders := cloneOrders(l.orders)
	products := make(map[string]domain.Product, len(l.products))
	for k, v := range l.products {
		products[k] = v
	}
	l.mu.Unlock()

	if err := fn(ctx); err != nil {
		l.mu.Lock()
		l.orders = orders
		l.products = products
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *memLedger) Insert(_ context.Context, order domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	if _, exists := l.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	l.orders[order.ID] = order
	return nil
}

func (l *memLedger) Update(_ context.Context, order domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.updateErr != nil {
		return l.updateErr
	}
	l.updates++
	l.orders[order.ID] = order
	return nil
}

func (l *memLedger) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return domain.Order{}, &fakeRepoError{msg: "order missing", notFound: true}
	}
	return order, nil
}

func (l *memLedger) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (domain.Order, error) {
	return l.findWhere(func(o domain.Order) bool { return o.GatewayOrderID == gatewayOrderID })
}

func (l *memLedger) FindByCaptureID(_ context.Context, captureID string) (domain.Order, error) {
	return l.findWhere(func(o domain.Order) bool {
		return o.PaymentDetails != nil && o.PaymentDetails.CaptureID == captureID
	})
}

func (l *memLedger) findWhere(match func(domain.Order) bool) (domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, order := range l.orders {
		if match(order) {
			return order, nil
		}
	}
	return domain.Order{}, &fakeRepoError{msg: "order missing", notFound: true}
}

func (l *memLedger) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []domain.Order
	for _, order := range l.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matched = append(matched, order)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	start := min((page-1)*limit, len(matched))
	end := min(start+limit, len(matched))
	return domain.Page[domain.Order]{
		Items:       matched[start:end],
		CurrentPage: page,
		TotalPages:  (len(matched) + limit - 1) / limit,
		TotalItems:  len(matched),
	}, nil
}

func (l *memLedger) Reserve(_ context.Context, lines []repositories.StockLine) ([]domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wanted := map[string]int{}
	var order []string
	for _, line := range lines {
		if _, seen := wanted[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		wanted[line.ProductID] += line.Quantity
	}
	for _, id := range order {
		product, ok := l.products[id]
		if !ok {
			return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, id, "product not found")
		}
		if !product.IsActive {
			return nil, repositories.NewStockError(repositories.StockErrorProductInactive, id, fmt.Sprintf("product %s is not available", product.Name))
		}
		if product.Stock < wanted[id] {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, id, fmt.Sprintf("insufficient stock for %s", product.Name))
			stockErr.Available = product.Stock
			return nil, stockErr
		}
	}
	reserved := make([]domain.Product, 0, len(order))
	for _, id := range order {
		product := l.products[id]
		product.Stock -= wanted[id]
		l.products[id] = product
		reserved = append(reserved, product)
	}
	return reserved, nil
}

func (l *memLedger) Release(_ context.Context, lines []repositories.StockLine) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var restored []string
	for _, line := range lines {
		product, ok := l.products[line.ProductID]
		if !ok {
			continue
		}
		product.Stock += line.Quantity
		l.products[line.ProductID] = product
		restored = append(restored, line.ProductID)
	}
	return restored, nil
}

func (l *memLedger) Next(_ context.Context, counterID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[counterID]++
	return l.counters[counterID], nil
}

func (l *memLedger) stock(productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.products[productID].Stock
}

func (l *memLedger) order(orderID string) domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[orderID]
}

func (l *memLedger) put(order domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[order.ID] = order
}

func cloneOrders(src map[string]domain.Order) map[string]domain.Order {
	dst := make(map[string]domain.Order, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *eventLog) log(_ context.Context, event string, fields map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{name: event, fields: fields})
}

func (e *eventLog) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.name == name {
			return true
		}
	}
	return false
}

func product(id, vendor, name, price string, stock int) domain.Product {
	return domain.Product{
		ID:       id,
		VendorID: vendor,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func errorMessage(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return ""
}

var (
	customer = Actor{ID: "u_customer", Email: "ada@example.com", Name: "Ada", Roles: []string{RoleCustomer}}
	stranger = Actor{ID: "u_stranger", Roles: []string{RoleCustomer}}
	vendorA  = Actor{ID: "v_a", Roles: []string{RoleVendor}}
	vendorB  = Actor{ID: "v_b", Roles: []string{RoleVendor}}
	admin    = Actor{ID: "u_admin", Roles: []string{RoleAdmin}}
)
