package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/bazaar-market/ledger/internal/domain"
	"github.com/bazaar-market/ledger/internal/payments"
	"github.com/bazaar-market/ledger/internal/repositories"
)

const (
	paymentEventGatewayOrderCreated = "payment.gateway_order.created"
	paymentEventCaptured            = "payment.captured"
	paymentEventCaptureFailed       = "payment.capture.failed"
	paymentEventRefunded            = "payment.refunded"

	defaultRefundReason = "Customer request"
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Gateway    payments.Gateway
	Notifier   Notifier
	Receipts   ReceiptArchive
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	gateway    payments.Gateway
	notifier   Notifier
	receipts   ReceiptArchive
	clock      func() time.Time
	logger     logFunc
}

// NewPaymentService wires the gateway and order store into a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentService{
		orders:     deps.Orders,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		receipts:   deps.Receipts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *paymentService) CreateGatewayOrder(ctx context.Context, cmd CreatePaymentCommand) (GatewayCheckout, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return GatewayCheckout{}, invalid("Order ID is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return GatewayCheckout{}, mapRepositoryError(err, "Order not found")
	}
	if err := checkPayable(order, cmd.Actor); err != nil {
		return GatewayCheckout{}, err
	}

	created, err := s.gateway.CreateOrder(ctx, gatewayOrderRequest(order))
	if err != nil {
		s.logger(ctx, "payment.gateway_order.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return GatewayCheckout{}, upstream(err, "Failed to create PayPal order")
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		if err := checkPayable(current, cmd.Actor); err != nil {
			return err
		}
		current.GatewayOrderID = created.ID
		current.UpdatedAt = s.clock()
		return s.orders.Update(txCtx, current)
	})
	if err != nil {
		return GatewayCheckout{}, mapRepositoryError(err, "Order not found")
	}

	s.logger(ctx, paymentEventGatewayOrderCreated, map[string]any{
		"order":        order.ID,
		"gatewayOrder": created.ID,
		"status":       created.Status,
	})
	return GatewayCheckout{GatewayOrderID: created.ID, ApprovalURL: created.ApprovalURL}, nil
}

func (s *paymentService) Capture(ctx context.Context, cmd CapturePaymentCommand) (CaptureResult, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return CaptureResult{}, invalid("PayPal Order ID is required")
	}

	claimed, err := s.claimCapture(ctx, gatewayOrderID, cmd.Actor)
	if err != nil {
		return CaptureResult{}, err
	}

	capture, err := s.gateway.CaptureOrder(ctx, payments.CaptureRequest{
		GatewayOrderID: gatewayOrderID,
		RequestID:      "capture-" + gatewayOrderID,
	})
	if err != nil {
		s.logger(ctx, paymentEventCaptureFailed, map[string]any{
			"order":        claimed.ID,
			"gatewayOrder": gatewayOrderID,
			"error":        err.Error(),
		})
		s.releaseCaptureClaim(ctx, claimed.ID)
		return CaptureResult{}, upstream(err, "Failed to capture PayPal payment")
	}

	now := s.clock()
	var paid Order
	err = s.runInTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, claimed.ID)
		if err != nil {
			return err
		}
		current.PaymentStatus = domain.PaymentStatusPaid
		if current.Status == domain.OrderStatusPending {
			current.Status = domain.OrderStatusConfirmed
		}
		current.PaymentDetails = &domain.PaymentDetails{
			TransactionID: capture.ID,
			CaptureID:     capture.ID,
			Amount:        capture.Amount,
			Currency:      capture.Currency,
			Status:        capture.Status,
			CapturedAt:    now,
		}
		current.CaptureInFlight = false
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return err
		}
		paid = current
		return nil
	})
	if err != nil {
		// Funds have moved at the gateway; the claim stays set so no second capture is attempted.
		s.logger(ctx, "payment.capture.record_failed", map[string]any{
			"order":   claimed.ID,
			"capture": capture.ID,
			"error":   err.Error(),
		})
		return CaptureResult{}, err
	}

	s.logger(ctx, paymentEventCaptured, map[string]any{
		"order":   paid.ID,
		"capture": capture.ID,
		"amount":  capture.Amount.StringFixed(2),
	})
	s.archive(ctx, Receipt{
		Kind:        ReceiptCapture,
		OrderID:     paid.ID,
		OrderNumber: paid.OrderNumber,
		Reference:   capture.ID,
		Payload:     capture.Raw,
		RecordedAt:  now,
	})

	payment := noticeFor(paid, NoticePaymentConfirmation, now)
	payment.Amount = capture.Amount
	payment.Reference = capture.ID
	deliverNotices(ctx, s.notifier, s.logger, payment, noticeFor(paid, NoticeOrderConfirmation, now))

	return CaptureResult{Order: paid, TransactionID: capture.ID, CaptureID: capture.ID}, nil
}

func (s *paymentService) LookupGatewayOrder(ctx context.Context, gatewayOrderID string) (map[string]any, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, invalid("PayPal Order ID is required")
	}
	details, err := s.gateway.GetOrder(ctx, gatewayOrderID)
	if err != nil {
		return nil, upstream(err, "Failed to get PayPal order details")
	}
	return details, nil
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	captureID := strings.TrimSpace(cmd.CaptureID)
	if captureID == "" {
		return RefundResult{}, invalid("Capture ID is required")
	}
	order, err := s.orders.FindByCaptureID(ctx, captureID)
	if err != nil {
		return RefundResult{}, mapRepositoryError(err, "Order not found")
	}
	if !cmd.Actor.IsAdmin() && !order.IsOwnedBy(cmd.Actor.ID) {
		return RefundResult{}, forbidden("Not authorized to refund this payment")
	}
	if err := checkRefundable(order, cmd.Amount); err != nil {
		return RefundResult{}, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultRefundReason
	}

	refund, err := s.gateway.RefundCapture(ctx, payments.RefundRequest{
		CaptureID: captureID,
		Amount:    cmd.Amount,
		Currency:  order.Currency,
		Note:      reason,
		RequestID: "refund-" + captureID,
	})
	if err != nil {
		s.logger(ctx, "payment.refund.failed", map[string]any{
			"order":   order.ID,
			"capture": captureID,
			"error":   err.Error(),
		})
		return RefundResult{}, upstream(err, "Failed to refund PayPal payment")
	}

	now := s.clock()
	var refunded Order
	err = s.runInTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		current.PaymentStatus = domain.PaymentStatusRefunded
		current.Status = domain.OrderStatusRefunded
		current.RefundDetails = &domain.RefundDetails{
			RefundID:   refund.ID,
			Amount:     refund.Amount,
			Status:     refund.Status,
			Reason:     reason,
			RefundedAt: now,
		}
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return err
		}
		refunded = current
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.refund.record_failed", map[string]any{
			"order":  order.ID,
			"refund": refund.ID,
			"error":  err.Error(),
		})
		return RefundResult{}, err
	}

	s.logger(ctx, paymentEventRefunded, map[string]any{
		"order":  refunded.ID,
		"refund": refund.ID,
		"amount": refund.Amount.StringFixed(2),
	})
	s.archive(ctx, Receipt{
		Kind:        ReceiptRefund,
		OrderID:     refunded.ID,
		OrderNumber: refunded.OrderNumber,
		Reference:   refund.ID,
		Payload:     refund.Raw,
		RecordedAt:  now,
	})

	notice := noticeFor(refunded, NoticeRefund, now)
	notice.Amount = refund.Amount
	notice.Reference = refund.ID
	notice.Reason = reason
	deliverNotices(ctx, s.notifier, s.logger, notice)

	return RefundResult{Order: refunded, RefundID: refund.ID, Amount: refund.Amount}, nil
}

// claimCapture marks the order as capturing so that concurrent or repeated capture requests
// for the same gateway order are refused before reaching the gateway.
func (s *paymentService) claimCapture(ctx context.Context, gatewayOrderID string, actor Actor) (Order, error) {
	var claimed Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByGatewayOrderID(txCtx, gatewayOrderID)
		if err != nil {
			return err
		}
		if !order.IsOwnedBy(actor.ID) {
			return forbidden("Not authorized to access this order")
		}
		if order.PaymentStatus != domain.PaymentStatusUnpaid {
			return invalid("Payment already captured")
		}
		if order.CaptureInFlight {
			return invalid("Payment capture already in progress")
		}
		if order.Status == domain.OrderStatusCancelled {
			return invalid("Order has been cancelled")
		}
		order.CaptureInFlight = true
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		claimed = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, "Order not found")
	}
	return claimed, nil
}

func (s *paymentService) releaseCaptureClaim(ctx context.Context, orderID string) {
	err := s.runInTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if !order.CaptureInFlight {
			return nil
		}
		order.CaptureInFlight = false
		order.UpdatedAt = s.clock()
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		s.logger(ctx, "payment.capture.release_failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (s *paymentService) archive(ctx context.Context, receipt Receipt) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.Archive(context.WithoutCancel(ctx), receipt); err != nil {
		s.logger(ctx, "payment.receipt.failed", map[string]any{
			"order":     receipt.OrderID,
			"kind":      string(receipt.Kind),
			"reference": receipt.Reference,
			"error":     err.Error(),
		})
	}
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func checkPayable(order Order, actor Actor) error {
	if !order.IsOwnedBy(actor.ID) {
		return forbidden("Not authorized to access this order")
	}
	if order.PaymentStatus != domain.PaymentStatusUnpaid {
		return invalid("Order is already paid")
	}
	if order.Status == domain.OrderStatusCancelled {
		return invalid("Order has been cancelled")
	}
	if order.CaptureInFlight {
		return invalid("Payment capture already in progress")
	}
	return nil
}

func checkRefundable(order Order, amount *decimal.Decimal) error {
	switch order.PaymentStatus {
	case domain.PaymentStatusPaid:
	case domain.PaymentStatusRefunded:
		return invalid("Payment has already been refunded")
	default:
		return invalid("Only paid orders can be refunded")
	}
	if amount == nil {
		return nil
	}
	if !amount.IsPositive() || amount.GreaterThan(order.Total) {
		return invalid("Refund amount must be greater than 0 and at most %s", order.Total.StringFixed(2))
	}
	return nil
}

func gatewayOrderRequest(order Order) payments.CreateOrderRequest {
	items := make([]payments.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.LineItem{
			Name:       item.Name,
			UnitAmount: item.UnitPrice,
			Quantity:   item.Quantity,
		})
	}
	return payments.CreateOrderRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Currency:    order.Currency,
		Subtotal:    order.Subtotal,
		Tax:         order.Tax,
		Shipping:    order.Shipping,
		Total:       order.Total,
		Items:       items,
		ShippingAddress: payments.Address{
			Line1:       order.ShippingAddress.Street,
			City:        order.ShippingAddress.City,
			State:       order.ShippingAddress.State,
			PostalCode:  order.ShippingAddress.ZipCode,
			CountryCode: order.ShippingAddress.Country,
		},
	}
}
