package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/platform/httpx"
	"github.com/bazaar-market/ledger/internal/platform/pagination"
	"github.com/bazaar-market/ledger/internal/services"
)

const (
	maxOrderRequestBody = 32 * 1024
	maxNotesLength      = 2000
)

type createOrderRequest struct {
	Items []struct {
		Product  string `json:"product"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	ShippingAddress addressPayload  `json:"shippingAddress"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	Notes           string          `json:"notes"`
}

type updateStatusRequest struct {
	Status            *string `json:"status"`
	TrackingNumber    *string `json:"trackingNumber"`
	EstimatedDelivery *string `json:"estimatedDelivery"`
	Notes             *string `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the /api/orders endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the order endpoints. Authentication is applied by the router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Get("/admin/all", h.listAllOrders)
	r.Get("/{id}", h.getOrder)
	r.Put("/{id}/cancel", h.cancelOrder)
	r.With(auth.RequireRoles(auth.RoleVendor, auth.RoleAdmin)).Put("/{id}/status", h.updateStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:           actor,
		Items:           make([]services.OrderLineInput, 0, len(req.Items)),
		ShippingAddress: req.ShippingAddress.toAddress(),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Notes:           truncate(plainText(req.Notes), maxNotesLength),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderLineInput{
			ProductID: strings.TrimSpace(item.Product),
			Quantity:  item.Quantity,
		})
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toAddress()
		cmd.BillingAddress = &billing
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while creating order")
		return
	}

	httpx.WriteSuccess(w, http.StatusCreated, "Order created successfully", map[string]any{
		"order": newOrderPayload(order),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	params, status, ok := parseListQuery(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListMine(ctx, services.ListOrdersQuery{
		CustomerID: actor.ID,
		Status:     status,
		Page:       params.Page,
		Limit:      params.Limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while fetching orders")
		return
	}
	writeOrderPage(w, page)
}

func (h *OrderHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	params, status, ok := parseListQuery(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListAll(ctx, services.AdminListQuery{
		Actor:      actor,
		Status:     status,
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer")),
		Page:       params.Page,
		Limit:      params.Limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while fetching orders")
		return
	}
	writeOrderPage(w, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "id")),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while fetching order")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "", map[string]any{
		"order": newOrderPayload(order),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "id")),
		Actor:   actor,
	}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	if req.TrackingNumber != nil {
		tracking := plainText(*req.TrackingNumber)
		cmd.TrackingNumber = &tracking
	}
	if req.EstimatedDelivery != nil {
		eta, err := parseDate(*req.EstimatedDelivery)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, "estimatedDelivery must be a valid date"))
			return
		}
		cmd.EstimatedDelivery = &eta
	}
	if req.Notes != nil {
		notes := truncate(plainText(*req.Notes), maxNotesLength)
		cmd.Notes = &notes
	}

	order, err := h.orders.UpdateStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while updating order status")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "Order status updated successfully", map[string]any{
		"order": newOrderPayload(order),
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "id")),
		Actor:   actor,
		Reason:  truncate(plainText(req.Reason), maxNotesLength),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Server error while cancelling order")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, "Order cancelled successfully", map[string]any{
		"order": newOrderPayload(order),
	})
}

func parseListQuery(w http.ResponseWriter, r *http.Request) (pagination.Params, domain.OrderStatus, bool) {
	params, err := pagination.Parse(r.URL.Query())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusBadRequest, err.Error()))
		return pagination.Params{}, "", false
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusBadRequest, "Invalid status filter"))
		return pagination.Params{}, "", false
	}
	return params, status, true
}

func writeOrderPage(w http.ResponseWriter, page domain.Page[services.Order]) {
	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, newOrderPayload(order))
	}
	httpx.WriteSuccess(w, http.StatusOK, "", map[string]any{
		"orders": orders,
		"pagination": paginationPayload{
			CurrentPage: page.CurrentPage,
			TotalPages:  page.TotalPages,
			TotalOrders: page.TotalItems,
		},
	})
}

var errInvalidDate = errors.New("invalid date")

// parseDate accepts RFC 3339 timestamps or plain calendar dates.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errInvalidDate
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
