package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix  = "ord_"
	orderCounterID = "orders"
)

// orderStateTransitions lists the targets an explicit status update may move to. Cancelled and
// refunded are reached only through Cancel and the payment refund flow.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

var nonCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Notifier    Notifier
	Pricing     *domain.PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	// atomic is false when no unit of work was supplied and a failed insert must hand the
	// reservation back explicitly.
	atomic   bool
	notifier Notifier
	pricing  domain.PricingPolicy
	clock    func() time.Time
	newID    func() string
	logger   logFunc
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	atomic := unit != nil
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	pricing := domain.DefaultPricingPolicy()
	if deps.Pricing != nil {
		pricing = *deps.Pricing
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		counters:   deps.Counters,
		unitOfWork: unit,
		atomic:     atomic,
		notifier:   deps.Notifier,
		pricing:    pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.Actor.ID)
	if customerID == "" {
		return Order{}, invalid("Customer is required")
	}
	if len(cmd.Items) == 0 {
		return Order{}, invalid("Order must contain at least one item")
	}
	lines := make([]repositories.StockLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return Order{}, invalid("Product ID is required for every item")
		}
		if item.Quantity < 1 {
			return Order{}, invalid("Quantity for product %s must be at least 1", productID)
		}
		lines = append(lines, repositories.StockLine{ProductID: productID, Quantity: item.Quantity})
	}

	now := s.now()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate order number: %w", err)
	}

	order := Order{
		ID:              s.nextOrderID(),
		OrderNumber:     orderNumber,
		CustomerID:      customerID,
		CustomerEmail:   strings.TrimSpace(cmd.Actor.Email),
		CustomerName:    strings.TrimSpace(cmd.Actor.Name),
		Currency:        domain.DefaultCurrency,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cloneAddress(cmd.BillingAddress),
		Notes:           strings.TrimSpace(cmd.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = "paypal"
	}

	reserved := false
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		products, err := s.products.Reserve(txCtx, lines)
		if err != nil {
			return mapStockError(err)
		}
		reserved = true

		catalog := make(map[string]domain.Product, len(products))
		for _, product := range products {
			catalog[product.ID] = product
		}
		items, err := buildOrderItems(lines, catalog)
		if err != nil {
			return err
		}
		order.Items = items

		breakdown := s.pricing.Price(items)
		order.Subtotal = breakdown.Subtotal
		order.Tax = breakdown.Tax
		order.Shipping = breakdown.Shipping
		order.Total = breakdown.Total

		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		if reserved && !s.atomic {
			s.releaseAfterFailedInsert(ctx, order.ID, lines)
		}
		return Order{}, mapRepositoryError(err, "Order not found")
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"order":  order.ID,
		"number": order.OrderNumber,
		"total":  order.Total.StringFixed(2),
		"items":  len(order.Items),
	})
	deliverNotices(ctx, s.notifier, s.logger, noticeFor(order, NoticeOrderConfirmation, now))
	return order, nil
}

func (s *orderService) ListMine(ctx context.Context, query ListOrdersQuery) (domain.Page[Order], error) {
	customerID := strings.TrimSpace(query.CustomerID)
	if customerID == "" {
		return domain.Page[Order]{}, invalid("Customer is required")
	}
	if err := validateStatusFilter(query.Status); err != nil {
		return domain.Page[Order]{}, err
	}
	return s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: customerID,
		Status:     query.Status,
		Page:       query.Page,
		Limit:      query.Limit,
	})
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	order, err := s.load(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !order.IsOwnedBy(query.Actor.ID) && !query.Actor.IsAdmin() {
		return Order{}, forbidden("Not authorized to view this order")
	}
	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error) {
	if cmd.Status == nil && cmd.TrackingNumber == nil && cmd.EstimatedDelivery == nil && cmd.Notes == nil {
		return Order{}, invalid("No changes supplied")
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		return Order{}, invalid("Invalid status %q", string(*cmd.Status))
	}

	var (
		updated  Order
		previous domain.OrderStatus
	)
	now := s.now()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !cmd.Actor.IsAdmin() && !order.FulfilledBy(cmd.Actor.ID) {
			return forbidden("Not authorized to update this order")
		}

		previous = order.Status
		if cmd.Status != nil && *cmd.Status != order.Status {
			if err := checkTransition(order.Status, *cmd.Status); err != nil {
				return err
			}
			order.Status = *cmd.Status
		}
		if cmd.TrackingNumber != nil {
			order.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
		}
		if cmd.EstimatedDelivery != nil {
			eta := cmd.EstimatedDelivery.UTC()
			order.EstimatedDelivery = &eta
		}
		if cmd.Notes != nil {
			order.Notes = strings.TrimSpace(*cmd.Notes)
		}
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, "Order not found")
	}

	if updated.Status != previous {
		s.logger(ctx, orderEventStatusChanged, map[string]any{
			"order": updated.ID,
			"from":  string(previous),
			"to":    string(updated.Status),
			"actor": cmd.Actor.ID,
		})
	}
	deliverNotices(ctx, s.notifier, s.logger, statusNotices(updated, previous, now)...)
	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	var cancelled Order
	now := s.now()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !order.IsOwnedBy(cmd.Actor.ID) && !cmd.Actor.IsAdmin() {
			return forbidden("Not authorized to cancel this order")
		}
		if slices.Contains(nonCancellableStatuses, order.Status) {
			return invalid("Order cannot be cancelled at this stage")
		}
		if order.CaptureInFlight {
			return invalid("Payment capture is in progress for this order")
		}

		if !order.StockReleased {
			if _, err := s.products.Release(txCtx, stockLinesFor(order.Items)); err != nil {
				return err
			}
			order.StockReleased = true
		}

		order.Status = domain.OrderStatusCancelled
		order.CancelledBy = &domain.Cancellation{
			UserID:      cmd.Actor.ID,
			Reason:      strings.TrimSpace(cmd.Reason),
			CancelledAt: now,
		}
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, "Order not found")
	}

	s.logger(ctx, orderEventCancelled, map[string]any{
		"order": cancelled.ID,
		"actor": cmd.Actor.ID,
		"paid":  cancelled.PaymentStatus == domain.PaymentStatusPaid,
	})
	return cancelled, nil
}

func (s *orderService) ListAll(ctx context.Context, query AdminListQuery) (domain.Page[Order], error) {
	if !query.Actor.IsAdmin() {
		return domain.Page[Order]{}, forbidden("Not authorized to list all orders")
	}
	if err := validateStatusFilter(query.Status); err != nil {
		return domain.Page[Order]{}, err
	}
	return s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     query.Status,
		Page:       query.Page,
		Limit:      query.Limit,
	})
}

func (s *orderService) load(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalid("Order ID is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "Order not found")
	}
	return order, nil
}

// releaseAfterFailedInsert hands back stock reserved for an order that was never stored.
func (s *orderService) releaseAfterFailedInsert(ctx context.Context, orderID string, lines []repositories.StockLine) {
	if _, err := s.products.Release(context.WithoutCancel(ctx), lines); err != nil {
		s.logger(ctx, "order.stock.release.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s-%04d", orderCounterID, now.Year()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BZ-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func buildOrderItems(lines []repositories.StockLine, catalog map[string]domain.Product) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, notFound("Product with ID %s not found", line.ProductID)
		}
		items = append(items, domain.NewOrderItem(product, line.Quantity))
	}
	return items, nil
}

func stockLinesFor(items []OrderItem) []repositories.StockLine {
	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, repositories.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func statusNotices(order Order, previous domain.OrderStatus, now time.Time) []Notice {
	if order.Status == previous {
		return nil
	}
	notices := []Notice{noticeFor(order, NoticeStatusUpdate, now)}
	switch order.Status {
	case domain.OrderStatusShipped:
		if order.TrackingNumber != "" {
			notices = append(notices, noticeFor(order, NoticeShipping, now))
		}
	case domain.OrderStatusDelivered:
		notices = append(notices, noticeFor(order, NoticeDelivery, now))
	}
	return notices
}

func checkTransition(current, target domain.OrderStatus) error {
	switch target {
	case domain.OrderStatusCancelled:
		return invalid("Use the cancel operation to cancel an order")
	case domain.OrderStatusRefunded:
		return invalid("Orders are marked refunded by the payment refund operation")
	}
	if !canTransition(current, target) {
		return invalid("Cannot change order status from %s to %s", current, target)
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func validateStatusFilter(status domain.OrderStatus) error {
	if status == "" || status.Valid() {
		return nil
	}
	return invalid("Invalid status %q", string(status))
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	clone := *addr
	return &clone
}
