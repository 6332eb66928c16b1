package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was captured or the vendor accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the vendor is preparing the shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order has been delivered to the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock released.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the captured payment was returned to the customer.
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// PaymentStatus tracks settlement state independently from fulfilment.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// DefaultCurrency is the store's base currency.
const DefaultCurrency = "USD"

// Order is the aggregate root of the ledger.
type Order struct {
	ID                string
	OrderNumber       string
	CustomerID        string
	CustomerEmail     string
	CustomerName      string
	Items             []OrderItem
	Currency          string
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Total             decimal.Decimal
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     string
	PaymentDetails    *PaymentDetails
	RefundDetails     *RefundDetails
	ShippingAddress   Address
	BillingAddress    *Address
	TrackingNumber    string
	EstimatedDelivery *time.Time
	Notes             string
	CancelledBy       *Cancellation
	GatewayOrderID    string
	// CaptureInFlight is set while a gateway capture is executing for GatewayOrderID.
	CaptureInFlight bool
	// StockReleased is set once cancellation returned the reserved stock.
	StockReleased bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOwnedBy reports whether the given user placed the order.
func (o Order) IsOwnedBy(userID string) bool {
	return userID != "" && o.CustomerID == userID
}

// FulfilledBy reports whether the vendor sells at least one of the order's line items.
func (o Order) FulfilledBy(vendorID string) bool {
	if vendorID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

// OrderItem snapshots a product at purchase time.
type OrderItem struct {
	ProductID string
	VendorID  string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Address is a postal address captured on the order.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// PaymentDetails records the gateway capture for a paid order.
type PaymentDetails struct {
	TransactionID string
	CaptureID     string
	Amount        decimal.Decimal
	Currency      string
	Status        string
	CapturedAt    time.Time
}

// RefundDetails records the gateway refund for a refunded order.
type RefundDetails struct {
	RefundID   string
	Amount     decimal.Decimal
	Status     string
	Reason     string
	RefundedAt time.Time
}

// Cancellation records who cancelled an order and why.
type Cancellation struct {
	UserID      string
	Reason      string
	CancelledAt time.Time
}

// Product is the catalog record the ledger reserves stock against.
type Product struct {
	ID        string
	VendorID  string
	Name      string
	Price     decimal.Decimal
	Stock     int
	IsActive  bool
	UpdatedAt time.Time
}

// Page is an offset page of results with 1-based numbering.
type Page[T any] struct {
	Items       []T
	CurrentPage int
	TotalPages  int
	TotalItems  int
}

// HealthStatus enumerates readiness outcomes for dependencies.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the result of probing a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
