package services

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/bazaar-market/ledger/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	Address            = domain.Address
	Product            = domain.Product
	SystemHealthReport = domain.SystemHealthReport
)

// Roles recognised by the ledger's access checks.
const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// Actor is the authenticated caller of a ledger operation.
type Actor struct {
	ID    string
	Email string
	Name  string
	Roles []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// IsAdmin reports whether the actor is a platform administrator.
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// OrderService owns order records, the status state machine and stock reservations.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListMine(ctx context.Context, query ListOrdersQuery) (domain.Page[Order], error)
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ListAll(ctx context.Context, query AdminListQuery) (domain.Page[Order], error)
}

// PaymentService reconciles payment gateway operations into order state.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, cmd CreatePaymentCommand) (GatewayCheckout, error)
	Capture(ctx context.Context, cmd CapturePaymentCommand) (CaptureResult, error)
	LookupGatewayOrder(ctx context.Context, gatewayOrderID string) (map[string]any, error)
	Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error)
}

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Uptime() time.Duration
	Build() BuildInfo
}

type OrderLineInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderCommand struct {
	Actor           Actor
	Items           []OrderLineInput
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   string
	Notes           string
}

type ListOrdersQuery struct {
	CustomerID string
	Status     OrderStatus
	Page       int
	Limit      int
}

type GetOrderQuery struct {
	OrderID string
	Actor   Actor
}

// UpdateStatusCommand carries optional fulfilment changes. Nil fields are left untouched.
type UpdateStatusCommand struct {
	OrderID           string
	Actor             Actor
	Status            *OrderStatus
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	Notes             *string
}

type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

type AdminListQuery struct {
	Actor      Actor
	Status     OrderStatus
	CustomerID string
	Page       int
	Limit      int
}

type CreatePaymentCommand struct {
	OrderID string
	Actor   Actor
}

// GatewayCheckout is the pending gateway order the buyer must approve.
type GatewayCheckout struct {
	GatewayOrderID string
	ApprovalURL    string
}

type CapturePaymentCommand struct {
	GatewayOrderID string
	Actor          Actor
}

type CaptureResult struct {
	Order         Order
	TransactionID string
	CaptureID     string
}

type RefundCommand struct {
	CaptureID string
	Amount    *decimal.Decimal
	Reason    string
	Actor     Actor
}

type RefundResult struct {
	Order    Order
	RefundID string
	Amount   decimal.Decimal
}

// NoticeKind identifies a customer-facing message about an order.
type NoticeKind string

const (
	NoticeOrderConfirmation   NoticeKind = "order_confirmation"
	NoticeStatusUpdate        NoticeKind = "status_update"
	NoticePaymentConfirmation NoticeKind = "payment_confirmation"
	NoticeShipping            NoticeKind = "shipping"
	NoticeDelivery            NoticeKind = "delivery"
	NoticeRefund              NoticeKind = "refund"
)

// Notice is a snapshot of the order facts a notification is rendered from.
type Notice struct {
	Kind           NoticeKind      `json:"kind"`
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	RecipientEmail string          `json:"recipientEmail,omitempty"`
	RecipientName  string          `json:"recipientName,omitempty"`
	Status         OrderStatus     `json:"status,omitempty"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reference      string          `json:"reference,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// Notifier delivers notices. Failures are reported but never change the triggering operation.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// ReceiptKind identifies the gateway event a receipt records.
type ReceiptKind string

const (
	ReceiptCapture ReceiptKind = "capture"
	ReceiptRefund  ReceiptKind = "refund"
)

// Receipt is the gateway response kept for reconciliation.
type Receipt struct {
	Kind        ReceiptKind
	OrderID     string
	OrderNumber string
	Reference   string
	Payload     json.RawMessage
	RecordedAt  time.Time
}

// ReceiptArchive stores gateway receipts outside the order document.
type ReceiptArchive interface {
	Archive(ctx context.Context, receipt Receipt) error
}
