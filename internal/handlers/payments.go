package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/platform/httpx"
	"github.com/bazaar-market/ledger/internal/services"
)

const maxPaymentRequestBody = 8 * 1024

type createPaymentRequest struct {
	OrderID string `json:"orderId"`
}

type capturePaymentRequest struct {
	OrderID string `json:"orderID"`
}

type refundPaymentRequest struct {
	CaptureID string           `json:"captureID"`
	Amount    *decimal.Decimal `json:"amount"`
	Reason    string           `json:"reason"`
}

// PaymentHandlers exposes the /api/payments endpoints backed by PayPal.
type PaymentHandlers struct {
	payments services.PaymentService
	limiter  RateLimiter
}

// PaymentHandlersOption customises payment handlers.
type PaymentHandlersOption func(*PaymentHandlers)

// WithPaymentRateLimiter limits gateway calls per caller. A nil limiter disables the check.
func WithPaymentRateLimiter(l RateLimiter) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.limiter = l
	}
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the PayPal endpoints. mw is applied to the mutating routes only.
func (h *PaymentHandlers) Routes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	if r == nil {
		return
	}
	r.Route("/paypal", func(pr chi.Router) {
		pr.Use(h.rateLimit)
		pr.With(mw...).Post("/create", h.createGatewayOrder)
		pr.With(mw...).Post("/capture", h.capturePayment)
		pr.Get("/order/{orderID}", h.lookupGatewayOrder)
		pr.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleVendor)).With(mw...).Post("/refund", h.refundPayment)
	})
}

func (h *PaymentHandlers) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			if !h.limiter.Allow(rateLimitKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusTooManyRequests, "Too many payment requests, please try again later"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey is the caller's uid, or the client host for anonymous requests.
func rateLimitKey(r *http.Request) string {
	if actor, ok := actorFromRequest(r); ok {
		return actor.ID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *PaymentHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := decodeJSONBody(r, maxPaymentRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	checkout, err := h.payments.CreateGatewayOrder(ctx, services.CreatePaymentCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while creating PayPal order")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "PayPal order created successfully", map[string]any{
		"orderID":     checkout.GatewayOrderID,
		"approvalURL": checkout.ApprovalURL,
	})
}

func (h *PaymentHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req capturePaymentRequest
	if err := decodeJSONBody(r, maxPaymentRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.payments.Capture(ctx, services.CapturePaymentCommand{
		GatewayOrderID: strings.TrimSpace(req.OrderID),
		Actor:          actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while capturing payment")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "Payment captured successfully", map[string]any{
		"orderId":       result.Order.ID,
		"orderNumber":   result.Order.OrderNumber,
		"paymentStatus": string(result.Order.PaymentStatus),
		"transactionID": result.TransactionID,
	})
}

func (h *PaymentHandlers) lookupGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(w, r); !ok {
		return
	}

	details, err := h.payments.LookupGatewayOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while fetching PayPal order")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "", details)
}

func (h *PaymentHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req refundPaymentRequest
	if err := decodeJSONBody(r, maxPaymentRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.payments.Refund(ctx, services.RefundCommand{
		CaptureID: strings.TrimSpace(req.CaptureID),
		Amount:    req.Amount,
		Reason:    truncate(plainText(req.Reason), maxNotesLength),
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while processing refund")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "Payment refunded successfully", map[string]any{
		"orderId":     result.Order.ID,
		"orderNumber": result.Order.OrderNumber,
		"refundID":    result.RefundID,
		"amount":      money(result.Amount),
	})
}
