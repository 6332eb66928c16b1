package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/services"
)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listMineFn     func(context.Context, services.ListOrdersQuery) (domain.Page[services.Order], error)
	getFn          func(context.Context, services.GetOrderQuery) (services.Order, error)
	updateStatusFn func(context.Context, services.UpdateStatusCommand) (services.Order, error)
	cancelFn       func(context.Context, services.CancelOrderCommand) (services.Order, error)
	listAllFn      func(context.Context, services.AdminListQuery) (domain.Page[services.Order], error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListMine(ctx context.Context, q services.ListOrdersQuery) (domain.Page[services.Order], error) {
	if s.listMineFn != nil {
		return s.listMineFn(ctx, q)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, q services.GetOrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, q)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListAll(ctx context.Context, q services.AdminListQuery) (domain.Page[services.Order], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, q)
	}
	return domain.Page[services.Order]{}, nil
}

type stubPaymentService struct {
	createFn  func(context.Context, services.CreatePaymentCommand) (services.GatewayCheckout, error)
	captureFn func(context.Context, services.CapturePaymentCommand) (services.CaptureResult, error)
	lookupFn  func(context.Context, string) (map[string]any, error)
	refundFn  func(context.Context, services.RefundCommand) (services.RefundResult, error)
}

func (s *stubPaymentService) CreateGatewayOrder(ctx context.Context, cmd services.CreatePaymentCommand) (services.GatewayCheckout, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.GatewayCheckout{}, errors.New("not implemented")
}

func (s *stubPaymentService) Capture(ctx context.Context, cmd services.CapturePaymentCommand) (services.CaptureResult, error) {
	if s.captureFn != nil {
		return s.captureFn(ctx, cmd)
	}
	return services.CaptureResult{}, errors.New("not implemented")
}

func (s *stubPaymentService) LookupGatewayOrder(ctx context.Context, id string) (map[string]any, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundCommand) (services.RefundResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.RefundResult{}, errors.New("not implemented")
}

// withIdentity stands in for the Firebase middleware.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func customerIdentity() *auth.Identity {
	return &auth.Identity{UID: "u_customer", Email: "ada@example.com", Name: "Ada", Roles: []string{auth.RoleCustomer}}
}

func vendorIdentity() *auth.Identity {
	return &auth.Identity{UID: "v_1", Roles: []string{auth.RoleVendor}}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UID: "u_admin", Roles: []string{auth.RoleAdmin}}
}

func newOrderRouter(svc services.OrderService, identity *auth.Identity) chi.Router {
	return NewRouter(
		WithAPIMiddlewares(withIdentity(identity)),
		WithOrderRoutes(NewOrderHandlers(svc).Routes),
	)
}

func newPaymentRouter(h *PaymentHandlers, identity *auth.Identity) chi.Router {
	return NewRouter(
		WithAPIMiddlewares(withIdentity(identity)),
		WithPaymentRoutes(func(r chi.Router) { h.Routes(r) }),
	)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleOrder() services.Order {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:            "01HZX3",
		OrderNumber:   "BZR-000042",
		CustomerID:    "u_customer",
		CustomerEmail: "ada@example.com",
		CustomerName:  "Ada",
		Items: []domain.OrderItem{{
			ProductID: "p_1",
			VendorID:  "v_1",
			Name:      "Teapot",
			Quantity:  2,
			UnitPrice: mustDecimal("12.75"),
			LineTotal: mustDecimal("25.50"),
		}},
		Currency:        domain.DefaultCurrency,
		Subtotal:        mustDecimal("25.50"),
		Tax:             mustDecimal("2.55"),
		Shipping:        mustDecimal("10"),
		Total:           mustDecimal("38.05"),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		PaymentMethod:   "paypal",
		ShippingAddress: domain.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func mustDecimal(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
