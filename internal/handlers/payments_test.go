package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/payments"
	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/services"
)

func TestPaymentHandlersCreateGatewayOrder(t *testing.T) {
	var captured services.CreatePaymentCommand
	svc := &stubPaymentService{
		createFn: func(_ context.Context, cmd services.CreatePaymentCommand) (services.GatewayCheckout, error) {
			captured = cmd
			return services.GatewayCheckout{GatewayOrderID: "5O190127TN364715T", ApprovalURL: "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T"}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), customerIdentity()), http.MethodPost, "/api/payments/paypal/create", map[string]any{"orderId": "ord_1"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "ord_1", captured.OrderID)
	require.Equal(t, "u_customer", captured.Actor.ID)
	body := decodeBody(t, rr)
	require.Equal(t, "PayPal order created successfully", body["message"])
	data := body["data"].(map[string]any)
	require.Equal(t, "5O190127TN364715T", data["orderID"])
	require.Contains(t, data["approvalURL"], "token=5O190127TN364715T")
}

func TestPaymentHandlersCaptureSuccess(t *testing.T) {
	svc := &stubPaymentService{
		captureFn: func(_ context.Context, cmd services.CapturePaymentCommand) (services.CaptureResult, error) {
			if cmd.GatewayOrderID != "5O190127TN364715T" {
				t.Fatalf("unexpected gateway order id %q", cmd.GatewayOrderID)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusConfirmed
			order.PaymentStatus = domain.PaymentStatusPaid
			return services.CaptureResult{Order: order, TransactionID: "3C679366HH908993F", CaptureID: "3C679366HH908993F"}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), customerIdentity()), http.MethodPost, "/api/payments/paypal/capture", map[string]any{"orderID": "5O190127TN364715T"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]any)
	require.Equal(t, map[string]any{
		"orderId":       "01HZX3",
		"orderNumber":   "BZR-000042",
		"paymentStatus": "paid",
		"transactionID": "3C679366HH908993F",
	}, data)
}

func TestPaymentHandlersCaptureGatewayFailure(t *testing.T) {
	gatewayPayload := map[string]any{"name": "UNPROCESSABLE_ENTITY", "message": "The requested action could not be performed"}
	svc := &stubPaymentService{
		captureFn: func(context.Context, services.CapturePaymentCommand) (services.CaptureResult, error) {
			return services.CaptureResult{}, &services.Error{
				Kind:    services.ErrUpstream,
				Message: "Failed to capture PayPal payment",
				Err:     &payments.GatewayError{Op: "capture_order", Status: http.StatusUnprocessableEntity, Payload: gatewayPayload},
			}
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), customerIdentity()), http.MethodPost, "/api/payments/paypal/capture", map[string]any{"orderID": "5O190127TN364715T"})

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Failed to capture PayPal payment", body["message"])
	require.Equal(t, gatewayPayload, body["error"])
}

func TestPaymentHandlersLookupGatewayOrder(t *testing.T) {
	svc := &stubPaymentService{
		lookupFn: func(_ context.Context, id string) (map[string]any, error) {
			return map[string]any{"id": id, "status": "APPROVED"}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), customerIdentity()), http.MethodGet, "/api/payments/paypal/order/5O190127TN364715T", nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, map[string]any{"id": "5O190127TN364715T", "status": "APPROVED"}, decodeBody(t, rr)["data"])
}

func TestPaymentHandlersRefund(t *testing.T) {
	var captured services.RefundCommand
	svc := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundCommand) (services.RefundResult, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusRefunded
			return services.RefundResult{Order: order, RefundID: "1JU08902781691411", Amount: *cmd.Amount}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), adminIdentity()), http.MethodPost, "/api/payments/paypal/refund", `{"captureID":"3C679366HH908993F","amount":12.5,"reason":"Damaged"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "3C679366HH908993F", captured.CaptureID)
	require.True(t, captured.Amount.Equal(mustDecimal("12.5")))
	require.Equal(t, "Damaged", captured.Reason)
	require.Contains(t, rr.Body.String(), `"amount":12.50`)
	require.Equal(t, "Payment refunded successfully", decodeBody(t, rr)["message"])
}

func TestPaymentHandlersRefundWithoutAmount(t *testing.T) {
	svc := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundCommand) (services.RefundResult, error) {
			if cmd.Amount != nil {
				t.Fatalf("expected nil amount, got %v", cmd.Amount)
			}
			return services.RefundResult{Order: sampleOrder(), RefundID: "r_1", Amount: mustDecimal("38.05")}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), vendorIdentity()), http.MethodPost, "/api/payments/paypal/refund", map[string]any{"captureID": "cap_1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPaymentHandlersRefundRequiresRole(t *testing.T) {
	svc := &stubPaymentService{
		refundFn: func(context.Context, services.RefundCommand) (services.RefundResult, error) {
			t.Fatalf("service must not be called")
			return services.RefundResult{}, nil
		},
	}

	rr := doJSON(t, newPaymentRouter(NewPaymentHandlers(svc), customerIdentity()), http.MethodPost, "/api/payments/paypal/refund", map[string]any{"captureID": "cap_1"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if msg := decodeBody(t, rr)["message"]; msg != "Access denied. Insufficient permissions." {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestPaymentHandlersRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	svc := &stubPaymentService{
		lookupFn: func(_ context.Context, id string) (map[string]any, error) {
			return map[string]any{"id": id}, nil
		},
	}
	handlers := NewPaymentHandlers(svc, WithPaymentRateLimiter(NewRateLimiter(1, time.Minute, func() time.Time { return now })))
	router := newPaymentRouter(handlers, customerIdentity())

	if rr := doJSON(t, router, http.MethodGet, "/api/payments/paypal/order/A", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", rr.Code)
	}
	rr := doJSON(t, router, http.MethodGet, "/api/payments/paypal/order/B", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := doJSON(t, router, http.MethodGet, "/api/payments/paypal/order/C", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected call after window to pass, got %d", rr.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if NewRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
}

func TestPaymentHandlersRateLimitIsPerCaller(t *testing.T) {
	svc := &stubPaymentService{
		lookupFn: func(_ context.Context, id string) (map[string]any, error) {
			return map[string]any{"id": id}, nil
		},
	}
	handlers := NewPaymentHandlers(svc, WithPaymentRateLimiter(NewRateLimiter(1, time.Minute, nil)))

	for _, identity := range []*auth.Identity{customerIdentity(), adminIdentity()} {
		rr := doJSON(t, newPaymentRouter(handlers, identity), http.MethodGet, "/api/payments/paypal/order/A", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected own budget, got %d", identity.UID, rr.Code)
		}
	}
}

func TestRateLimitKey(t *testing.T) {
	first := httptest.NewRequest(http.MethodGet, "/api/payments/paypal/order/A", nil)
	first.RemoteAddr = "198.51.100.7:50412"
	second := httptest.NewRequest(http.MethodGet, "/api/payments/paypal/order/A", nil)
	second.RemoteAddr = "198.51.100.7:61877"
	if rateLimitKey(first) != "198.51.100.7" || rateLimitKey(second) != "198.51.100.7" {
		t.Fatalf("expected anonymous callers keyed on host, got %q and %q", rateLimitKey(first), rateLimitKey(second))
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.RemoteAddr = "198.51.100.7"
	if got := rateLimitKey(bare); got != "198.51.100.7" {
		t.Fatalf("expected address without port to be used as is, got %q", got)
	}

	authed := first.WithContext(auth.WithIdentity(first.Context(), customerIdentity()))
	if got := rateLimitKey(authed); got != "u_customer" {
		t.Fatalf("expected uid key, got %q", got)
	}
}
