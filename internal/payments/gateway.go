package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// ErrMalformedResponse is returned when the gateway answers 2xx with a body the client cannot use.
var ErrMalformedResponse = errors.New("payments: malformed gateway response")

// Gateway is the payment processor contract consumed by the ledger.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreatedOrder, error)
	CaptureOrder(ctx context.Context, req CaptureRequest) (Capture, error)
	GetOrder(ctx context.Context, gatewayOrderID string) (map[string]any, error)
	RefundCapture(ctx context.Context, req RefundRequest) (Refund, error)
}

// CreateOrderRequest snapshots an order's totals for the gateway.
type CreateOrderRequest struct {
	OrderID         string
	OrderNumber     string
	Currency        string
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	Items           []LineItem
	ShippingAddress Address
	RequestID       string
}

// LineItem is a purchased product as shown on the gateway checkout page.
type LineItem struct {
	Name       string
	UnitAmount decimal.Decimal
	Quantity   int
}

// Address is a postal address in gateway terms.
type Address struct {
	Line1       string
	City        string
	State       string
	PostalCode  string
	CountryCode string
}

// CreatedOrder is the gateway order awaiting buyer approval.
type CreatedOrder struct {
	ID          string
	Status      string
	ApprovalURL string
}

// CaptureRequest captures an approved gateway order.
type CaptureRequest struct {
	GatewayOrderID string
	RequestID      string
}

// Capture describes the settled funds.
type Capture struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
	Raw      json.RawMessage
}

// RefundRequest returns captured funds. A nil Amount refunds the full capture.
type RefundRequest struct {
	CaptureID string
	Amount    *decimal.Decimal
	Currency  string
	Note      string
	RequestID string
}

// Refund describes a gateway refund.
type Refund struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
	Raw      json.RawMessage
}

// GatewayError reports a non-2xx answer. Payload holds the decoded response body.
type GatewayError struct {
	Op      string
	Status  int
	Payload any
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: %s failed with status %d", e.Op, e.Status)
}

// Temporary reports whether retrying the call later may succeed.
func (e *GatewayError) Temporary() bool {
	return e != nil && (e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError)
}
