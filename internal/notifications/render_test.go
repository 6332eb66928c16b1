package notifications

import (
	"strings"
	"testing"

	"github.com/bazaar-market/ledger/internal/services"
)

func TestRendererSubjects(t *testing.T) {
	renderer := NewRenderer("", "")
	cases := map[services.NoticeKind]string{
		services.NoticeOrderConfirmation:   "Order Confirmation - BZ-2026-000001",
		services.NoticeStatusUpdate:        "Order Status Update - BZ-2026-000001",
		services.NoticePaymentConfirmation: "Payment Confirmed - BZ-2026-000001",
		services.NoticeShipping:            "Your Order Has Been Shipped - BZ-2026-000001",
		services.NoticeDelivery:            "Your Order Has Been Delivered - BZ-2026-000001",
		services.NoticeRefund:              "Refund Processed - BZ-2026-000001",
	}
	for kind, want := range cases {
		notice := shippingNotice()
		notice.Kind = kind
		rendered, err := renderer.Render(notice)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if rendered.Subject != want {
			t.Fatalf("%s: expected subject %q, got %q", kind, want, rendered.Subject)
		}
		if !strings.HasPrefix(rendered.Body, "Hello Ada,") {
			t.Fatalf("%s: unexpected greeting in %q", kind, rendered.Body)
		}
	}
}

func TestRendererFormatsMoney(t *testing.T) {
	notice := shippingNotice()
	notice.Kind = services.NoticeOrderConfirmation
	rendered, err := NewRenderer("en-US", "").Render(notice)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(rendered.Body, "USD") || !strings.Contains(rendered.Body, "132") {
		t.Fatalf("expected total in body, got %q", rendered.Body)
	}
}

func TestRendererRejectsUnknownKind(t *testing.T) {
	notice := shippingNotice()
	notice.Kind = "weekly_digest"
	if _, err := NewRenderer("", "").Render(notice); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
