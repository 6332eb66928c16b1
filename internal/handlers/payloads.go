package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaar-market/ledger/internal/services"
)

// money renders as a bare JSON number with two decimals.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a addressPayload) toAddress() services.Address {
	return services.Address{
		Street:  plainText(a.Street),
		City:    plainText(a.City),
		State:   plainText(a.State),
		ZipCode: plainText(a.ZipCode),
		Country: plainText(a.Country),
	}
}

func newAddressPayload(a services.Address) addressPayload {
	return addressPayload{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		ZipCode: a.ZipCode,
		Country: a.Country,
	}
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type orderItemPayload struct {
	Product  string `json:"product"`
	Vendor   string `json:"vendor,omitempty"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    money  `json:"price"`
	Total    money  `json:"total"`
}

type paymentDetailsPayload struct {
	TransactionID string `json:"transactionId"`
	CaptureID     string `json:"captureId,omitempty"`
	Amount        money  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status,omitempty"`
	PaidAt        string `json:"paidAt,omitempty"`
}

type refundDetailsPayload struct {
	RefundID   string `json:"refundId"`
	Amount     money  `json:"amount"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RefundedAt string `json:"refundedAt,omitempty"`
}

type cancellationPayload struct {
	User        string `json:"user"`
	Reason      string `json:"reason,omitempty"`
	CancelledAt string `json:"cancelledAt"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"orderNumber"`
	Customer          customerPayload        `json:"customer"`
	Items             []orderItemPayload     `json:"items"`
	Currency          string                 `json:"currency"`
	Subtotal          money                  `json:"subtotal"`
	Tax               money                  `json:"tax"`
	Shipping          money                  `json:"shipping"`
	Total             money                  `json:"total"`
	Status            string                 `json:"status"`
	PaymentStatus     string                 `json:"paymentStatus"`
	PaymentMethod     string                 `json:"paymentMethod,omitempty"`
	PaymentDetails    *paymentDetailsPayload `json:"paymentDetails,omitempty"`
	RefundDetails     *refundDetailsPayload  `json:"refundDetails,omitempty"`
	ShippingAddress   addressPayload         `json:"shippingAddress"`
	BillingAddress    *addressPayload        `json:"billingAddress,omitempty"`
	TrackingNumber    string                 `json:"trackingNumber,omitempty"`
	EstimatedDelivery string                 `json:"estimatedDelivery,omitempty"`
	Notes             string                 `json:"notes,omitempty"`
	CancelledBy       *cancellationPayload   `json:"cancelledBy,omitempty"`
	CreatedAt         string                 `json:"createdAt"`
	UpdatedAt         string                 `json:"updatedAt,omitempty"`
}

type paginationPayload struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalOrders int `json:"totalOrders"`
}

func newOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Customer: customerPayload{
			ID:    order.CustomerID,
			Email: order.CustomerEmail,
			Name:  order.CustomerName,
		},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		Currency:        order.Currency,
		Subtotal:        money(order.Subtotal),
		Tax:             money(order.Tax),
		Shipping:        money(order.Shipping),
		Total:           money(order.Total),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   order.PaymentMethod,
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		TrackingNumber:  order.TrackingNumber,
		Notes:           order.Notes,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			Product:  item.ProductID,
			Vendor:   item.VendorID,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    money(item.UnitPrice),
			Total:    money(item.LineTotal),
		})
	}
	if order.BillingAddress != nil {
		billing := newAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &billing
	}
	if order.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*order.EstimatedDelivery)
	}
	if details := order.PaymentDetails; details != nil {
		payload.PaymentDetails = &paymentDetailsPayload{
			TransactionID: details.TransactionID,
			CaptureID:     details.CaptureID,
			Amount:        money(details.Amount),
			Currency:      details.Currency,
			Status:        details.Status,
			PaidAt:        formatTime(details.CapturedAt),
		}
	}
	if details := order.RefundDetails; details != nil {
		payload.RefundDetails = &refundDetailsPayload{
			RefundID:   details.RefundID,
			Amount:     money(details.Amount),
			Status:     details.Status,
			Reason:     details.Reason,
			RefundedAt: formatTime(details.RefundedAt),
		}
	}
	if c := order.CancelledBy; c != nil {
		payload.CancelledBy = &cancellationPayload{
			User:        c.UserID,
			Reason:      c.Reason,
			CancelledAt: formatTime(c.CancelledAt),
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
