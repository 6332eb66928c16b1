package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/bazaar-market/ledger/internal/services"
)

// Rendered is the plain-text message a mail relay sends for a notice.
type Rendered struct {
	Subject string
	Body    string
}

// Renderer formats notices in a single locale.
type Renderer struct {
	printer     *message.Printer
	frontendURL string
}

// NewRenderer builds a renderer for the given BCP 47 locale. Unknown or empty locales fall back
// to American English.
func NewRenderer(locale, frontendURL string) *Renderer {
	tag := language.AmericanEnglish
	if parsed, err := language.Parse(strings.TrimSpace(locale)); err == nil {
		tag = parsed
	}
	return &Renderer{
		printer:     message.NewPrinter(tag),
		frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/"),
	}
}

// Render produces the subject and body for a notice.
func (r *Renderer) Render(notice services.Notice) (Rendered, error) {
	greeting := "Hello"
	if name := strings.TrimSpace(notice.RecipientName); name != "" {
		greeting = "Hello " + name
	}
	orderNumber := notice.OrderNumber

	var subject string
	lines := []string{greeting + ","}
	switch notice.Kind {
	case services.NoticeOrderConfirmation:
		subject = "Order Confirmation - " + orderNumber
		lines = append(lines,
			r.printer.Sprintf("Thank you for your order %s.", orderNumber),
			r.printer.Sprintf("Order total: %s", r.money(notice.Amount, notice.Currency)),
		)
	case services.NoticeStatusUpdate:
		subject = "Order Status Update - " + orderNumber
		lines = append(lines, r.printer.Sprintf("Your order %s is now %s.", orderNumber, string(notice.Status)))
	case services.NoticePaymentConfirmation:
		subject = "Payment Confirmed - " + orderNumber
		lines = append(lines,
			r.printer.Sprintf("We received your payment of %s.", r.money(notice.Amount, notice.Currency)),
			r.printer.Sprintf("Transaction: %s", notice.Reference),
		)
	case services.NoticeShipping:
		subject = "Your Order Has Been Shipped - " + orderNumber
		lines = append(lines,
			r.printer.Sprintf("Your order %s is on its way.", orderNumber),
			r.printer.Sprintf("Tracking number: %s", notice.TrackingNumber),
		)
	case services.NoticeDelivery:
		subject = "Your Order Has Been Delivered - " + orderNumber
		lines = append(lines, r.printer.Sprintf("Your order %s has been delivered.", orderNumber))
	case services.NoticeRefund:
		subject = "Refund Processed - " + orderNumber
		lines = append(lines, r.printer.Sprintf("A refund of %s has been issued for order %s.", r.money(notice.Amount, notice.Currency), orderNumber))
		if reason := strings.TrimSpace(notice.Reason); reason != "" {
			lines = append(lines, r.printer.Sprintf("Reason: %s", reason))
		}
	default:
		return Rendered{}, fmt.Errorf("notifications: unknown notice kind %q", notice.Kind)
	}

	if r.frontendURL != "" && notice.OrderID != "" {
		lines = append(lines, r.printer.Sprintf("View your order: %s/orders/%s", r.frontendURL, notice.OrderID))
	}
	return Rendered{Subject: subject, Body: strings.Join(lines, "\n")}, nil
}

func (r *Renderer) money(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.USD
	}
	value := number.Decimal(amount.InexactFloat64(), number.Scale(2))
	return r.printer.Sprintf("%v %v", unit, value)
}
