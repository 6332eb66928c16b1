package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bazaar-market/ledger/internal/domain"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/platform/pagination"
	"github.com/bazaar-market/ledger/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates in the orders collection. Money is stored as decimal
// strings so amounts round-trip exactly.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert creates the order document and fails when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

// Update overwrites the stored order with the supplied aggregate.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

// FindByID loads an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// FindByGatewayOrderID loads the order linked to a PayPal order.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByGatewayOrderId", "gatewayOrderId", gatewayOrderID)
}

// FindByCaptureID loads the order whose payment produced the given capture.
func (r *OrderRepository) FindByCaptureID(ctx context.Context, captureID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByCaptureId", "paymentDetails.captureId", captureID)
}

func (r *OrderRepository) findOne(ctx context.Context, op, path, value string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "%s is required", path))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(path, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "no order with %s %s", path, value))
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// List returns one page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}
	params := pagination.Params{Page: max(filter.Page, 1), Limit: filter.Limit}
	if params.Limit <= 0 {
		params.Limit = pagination.DefaultLimit
	}
	params.Limit = min(params.Limit, pagination.MaxLimit)

	where := func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return q
	}

	total, err := r.base.Count(ctx, where)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return where(q).OrderBy("createdAt", firestore.Desc).Offset(params.Offset()).Limit(params.Limit)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		items = append(items, order)
	}

	return domain.Page[domain.Order]{
		Items:       items,
		CurrentPage: params.Page,
		TotalPages:  pagination.TotalPages(total, params.Limit),
		TotalItems:  total,
	}, nil
}

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	CustomerID        string                  `firestore:"customerId"`
	CustomerEmail     string                  `firestore:"customerEmail,omitempty"`
	CustomerName      string                  `firestore:"customerName,omitempty"`
	Items             []orderItemDocument     `firestore:"items"`
	Currency          string                  `firestore:"currency"`
	Subtotal          string                  `firestore:"subtotal"`
	Tax               string                  `firestore:"tax"`
	Shipping          string                  `firestore:"shipping"`
	Total             string                  `firestore:"total"`
	Status            string                  `firestore:"status"`
	PaymentStatus     string                  `firestore:"paymentStatus"`
	PaymentMethod     string                  `firestore:"paymentMethod"`
	PaymentDetails    *paymentDetailsDocument `firestore:"paymentDetails,omitempty"`
	RefundDetails     *refundDetailsDocument  `firestore:"refundDetails,omitempty"`
	ShippingAddress   addressDocument         `firestore:"shippingAddress"`
	BillingAddress    *addressDocument        `firestore:"billingAddress,omitempty"`
	TrackingNumber    string                  `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
	Notes             string                  `firestore:"notes,omitempty"`
	CancelledBy       *cancellationDocument   `firestore:"cancelledBy,omitempty"`
	GatewayOrderID    string                  `firestore:"gatewayOrderId,omitempty"`
	CaptureInFlight   bool                    `firestore:"captureInFlight"`
	StockReleased     bool                    `firestore:"stockReleased"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	VendorID  string `firestore:"vendorId,omitempty"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
	LineTotal string `firestore:"lineTotal"`
}

type addressDocument struct {
	Street  string `firestore:"street"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	ZipCode string `firestore:"zipCode"`
	Country string `firestore:"country"`
}

type paymentDetailsDocument struct {
	TransactionID string    `firestore:"transactionId"`
	CaptureID     string    `firestore:"captureId"`
	Amount        string    `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	Status        string    `firestore:"status"`
	CapturedAt    time.Time `firestore:"capturedAt"`
}

type refundDetailsDocument struct {
	RefundID   string    `firestore:"refundId"`
	Amount     string    `firestore:"amount"`
	Status     string    `firestore:"status"`
	Reason     string    `firestore:"reason,omitempty"`
	RefundedAt time.Time `firestore:"refundedAt"`
}

type cancellationDocument struct {
	UserID      string    `firestore:"userId"`
	Reason      string    `firestore:"reason,omitempty"`
	CancelledAt time.Time `firestore:"cancelledAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		CustomerEmail:   order.CustomerEmail,
		CustomerName:    order.CustomerName,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		Currency:        order.Currency,
		Subtotal:        order.Subtotal.StringFixed(2),
		Tax:             order.Tax.StringFixed(2),
		Shipping:        order.Shipping.StringFixed(2),
		Total:           order.Total.StringFixed(2),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   order.PaymentMethod,
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		TrackingNumber:  order.TrackingNumber,
		Notes:           order.Notes,
		GatewayOrderID:  order.GatewayOrderID,
		CaptureInFlight: order.CaptureInFlight,
		StockReleased:   order.StockReleased,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			VendorID:  item.VendorID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}
	if order.BillingAddress != nil {
		billing := newAddressDocument(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	if order.EstimatedDelivery != nil {
		eta := order.EstimatedDelivery.UTC()
		doc.EstimatedDelivery = &eta
	}
	if p := order.PaymentDetails; p != nil {
		doc.PaymentDetails = &paymentDetailsDocument{
			TransactionID: p.TransactionID,
			CaptureID:     p.CaptureID,
			Amount:        p.Amount.StringFixed(2),
			Currency:      p.Currency,
			Status:        p.Status,
			CapturedAt:    p.CapturedAt.UTC(),
		}
	}
	if rf := order.RefundDetails; rf != nil {
		doc.RefundDetails = &refundDetailsDocument{
			RefundID:   rf.RefundID,
			Amount:     rf.Amount.StringFixed(2),
			Status:     rf.Status,
			Reason:     rf.Reason,
			RefundedAt: rf.RefundedAt.UTC(),
		}
	}
	if c := order.CancelledBy; c != nil {
		doc.CancelledBy = &cancellationDocument{
			UserID:      c.UserID,
			Reason:      c.Reason,
			CancelledAt: c.CancelledAt.UTC(),
		}
	}
	return doc
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Street:  addr.Street,
		City:    addr.City,
		State:   addr.State,
		ZipCode: addr.ZipCode,
		Country: addr.Country,
	}
}

func (a addressDocument) toDomain() domain.Address {
	return domain.Address{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		ZipCode: a.ZipCode,
		Country: a.Country,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	var amounts [4]decimal.Decimal
	for i, raw := range []string{d.Subtotal, d.Tax, d.Shipping, d.Total} {
		value, err := parseAmount(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
		}
		amounts[i] = value
	}

	order := domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		CustomerID:      d.CustomerID,
		CustomerEmail:   d.CustomerEmail,
		CustomerName:    d.CustomerName,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		Currency:        d.Currency,
		Subtotal:        amounts[0],
		Tax:             amounts[1],
		Shipping:        amounts[2],
		Total:           amounts[3],
		Status:          domain.OrderStatus(d.Status),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:   d.PaymentMethod,
		ShippingAddress: d.ShippingAddress.toDomain(),
		TrackingNumber:  d.TrackingNumber,
		Notes:           d.Notes,
		GatewayOrderID:  d.GatewayOrderID,
		CaptureInFlight: d.CaptureInFlight,
		StockReleased:   d.StockReleased,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if order.Currency == "" {
		order.Currency = domain.DefaultCurrency
	}

	for _, item := range d.Items {
		unit, err := parseAmount(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s item %s: %w", id, item.ProductID, err)
		}
		line, err := parseAmount(item.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s item %s: %w", id, item.ProductID, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			VendorID:  item.VendorID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			LineTotal: line,
		})
	}

	if d.BillingAddress != nil {
		billing := d.BillingAddress.toDomain()
		order.BillingAddress = &billing
	}
	if d.EstimatedDelivery != nil {
		eta := *d.EstimatedDelivery
		order.EstimatedDelivery = &eta
	}
	if p := d.PaymentDetails; p != nil {
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s payment: %w", id, err)
		}
		order.PaymentDetails = &domain.PaymentDetails{
			TransactionID: p.TransactionID,
			CaptureID:     p.CaptureID,
			Amount:        amount,
			Currency:      p.Currency,
			Status:        p.Status,
			CapturedAt:    p.CapturedAt,
		}
	}
	if rf := d.RefundDetails; rf != nil {
		amount, err := parseAmount(rf.Amount)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s refund: %w", id, err)
		}
		order.RefundDetails = &domain.RefundDetails{
			RefundID:   rf.RefundID,
			Amount:     amount,
			Status:     rf.Status,
			Reason:     rf.Reason,
			RefundedAt: rf.RefundedAt,
		}
	}
	if c := d.CancelledBy; c != nil {
		order.CancelledBy = &domain.Cancellation{
			UserID:      c.UserID,
			Reason:      c.Reason,
			CancelledAt: c.CancelledAt,
		}
	}
	return order, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
